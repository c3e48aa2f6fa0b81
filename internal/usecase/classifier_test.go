package usecase_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/iho/billsync/internal/domain"
	"github.com/iho/billsync/internal/usecase"
)

func TestClassifyOrdersCharges(t *testing.T) {
	tables := usecase.DefaultTables()

	rows := []domain.ChargeRow{
		chargeRow("INV-1", "item-storage", "Extra storage: 500 GB", "5", "1"),
		chargeRow("INV-1", "item-users", "Users", "50", "5"),
		chargeRow("INV-1", "item-personal", "Personal Plus", "10", "1"),
		chargeRow("INV-1", "item-pro-storage", "Extra storage: 500 GB -- Proration", "2", "1"),
		chargeRow("INV-1", "item-pro-users", "Users -- Proration", "20", "2"),
	}

	cls, err := tables.Classify(rows)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}

	got := make([]string, 0, len(cls.Charges))
	for _, row := range cls.Charges {
		got = append(got, row.ItemID)
	}
	want := []string{"item-pro-users", "item-pro-storage", "item-users", "item-personal", "item-storage"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("charge order = %v, want %v", got, want)
	}
}

func TestClassifySeparatesCredits(t *testing.T) {
	tables := usecase.DefaultTables()

	rows := []domain.ChargeRow{
		chargeRow("INV-1", "item-1", "Users", "50", "5"),
		chargeRow("INV-1", "item-2", "Users -- Proration Credit", "-10", "1"),
		chargeRow("INV-1", "item-3", "Additional Storage: 10GB -- Proration Credit", "-2", "1"),
	}

	cls, err := tables.Classify(rows)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}

	if len(cls.Charges) != 1 {
		t.Errorf("charges = %d, want 1", len(cls.Charges))
	}
	if len(cls.UserCredits) != 1 || cls.UserCredits[0].ItemID != "item-2" {
		t.Errorf("user credits = %+v, want only item-2", cls.UserCredits)
	}
	if len(cls.StorageCredits) != 1 || cls.StorageCredits[0].ItemID != "item-3" {
		t.Errorf("storage credits = %+v, want only item-3", cls.StorageCredits)
	}
}

func TestClassifySkipsZeroAndDiscountRows(t *testing.T) {
	tables := usecase.DefaultTables()

	zero := chargeRow("INV-1", "item-1", "Users", "0", "5")
	discount := chargeRow("INV-1", "item-2", "Initial Discount: 1 Year", "-10", "1")

	cls, err := tables.Classify([]domain.ChargeRow{zero, discount})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if len(cls.Charges) != 0 || len(cls.UserCredits) != 0 || len(cls.StorageCredits) != 0 {
		t.Errorf("Classify() kept rows it should have dropped: %+v", cls)
	}
}

func TestClassifyUnknownChargeName(t *testing.T) {
	tables := usecase.DefaultTables()

	_, err := tables.Classify([]domain.ChargeRow{
		chargeRow("INV-9", "item-1", "Consulting Hours", "100", "1"),
	})
	if !errors.Is(err, domain.ErrUnknownChargeName) {
		t.Fatalf("Classify() error = %v, want ErrUnknownChargeName", err)
	}
	if !strings.Contains(err.Error(), "INV-9") {
		t.Errorf("error %q should name the invoice", err)
	}
}
