package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/billsync/internal/domain"
	"github.com/iho/billsync/internal/usecase"
	"github.com/iho/billsync/internal/usecase/mocks"
)

func accountRow(crmID, invoice, itemID, name, amount, quantity string) domain.ChargeRow {
	row := chargeRow(invoice, itemID, name, amount, quantity)
	row.Account.CRMID = crmID
	row.Account.Number = "N-" + crmID
	row.Subscription.Name = "sub-" + crmID
	return row
}

func newSyncUseCase(loader *mocks.MockExportLoader, ledger *mocks.MockLedgerStore, checkpoints usecase.CheckpointStore, cfg usecase.SyncConfig) *usecase.SyncUseCase {
	return usecase.NewSyncUseCase(
		loader,
		ledger,
		checkpoints,
		newTestReconciler(),
		usecase.DefaultTables(),
		nil,
		zerolog.Nop(),
		cfg,
	)
}

func writtenInvoices(ledger *mocks.MockLedgerStore) int {
	n := 0
	for _, invoices := range ledger.Written {
		n += len(invoices)
	}
	return n
}

func TestSyncRun(t *testing.T) {
	free := accountRow("crm-a", "INV-A2", "item-free", "Users", "0", "1")
	free.AccountingCode = domain.AccountingCodeFree
	draft := accountRow("crm-a", "INV-A3", "item-draft", "Users", "10", "1")
	draft.Invoice.Status = "Draft"

	payment := processedPayment("P-1", "49.90", day(2017, time.January, 3))
	payment.InvoiceNumber = "INV-A1"

	loader := &mocks.MockExportLoader{
		Rows: []domain.ChargeRow{
			accountRow("crm-a", "INV-A1", "item-a1", "Users", "49.90", "5"),
			accountRow("crm-b", "INV-B1", "item-b1", "Users", "20", "2"),
			free,
			draft,
		},
		Pays: []domain.PaymentRecord{payment},
		Plans: []domain.RatePlanCharge{
			{PlanID: "rp-1", PlanName: "Team", ChargeID: "ch-1", BillingPeriod: "Month"},
		},
	}
	ledger := mocks.NewMockLedgerStore()

	uc := newSyncUseCase(loader, ledger, nil, usecase.SyncConfig{Workers: 2})
	report, err := uc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.AccountsTotal != 2 || report.AccountsSynced != 2 || report.AccountsFailed != 0 {
		t.Errorf("report = %+v, want both accounts synced", report)
	}
	if report.InvoicesWritten != 2 {
		t.Errorf("invoices written = %d, want 2", report.InvoicesWritten)
	}
	if got := writtenInvoices(ledger); got != 2 {
		t.Errorf("ledger holds %d invoices, want 2", got)
	}

	if _, ok := planSeen(ledger, "rp-1"); !ok {
		t.Error("exported plan rp-1 not upserted")
	}
	if _, ok := planSeen(ledger, usecase.PlanProMonthly); !ok {
		t.Error("catalog plan missing from upsert")
	}
}

func planSeen(ledger *mocks.MockLedgerStore, externalID string) (domain.Plan, bool) {
	for _, p := range ledger.PlansSeen {
		if p.ExternalID == externalID {
			return p, true
		}
	}
	return domain.Plan{}, false
}

func TestSyncRunDropsNeverPayingAccounts(t *testing.T) {
	loader := &mocks.MockExportLoader{
		Rows: []domain.ChargeRow{
			accountRow("crm-a", "INV-A1", "item-a1", "Users", "49.90", "5"),
			accountRow("crm-c", "INV-C1", "item-c1", "Users -- Proration Credit", "-20", "-2"),
		},
	}
	ledger := mocks.NewMockLedgerStore()

	uc := newSyncUseCase(loader, ledger, nil, usecase.SyncConfig{Workers: 1})
	report, err := uc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.AccountsTotal != 1 || report.AccountsSynced != 1 {
		t.Errorf("report = %+v, want only the paying account", report)
	}
	if got := writtenInvoices(ledger); got != 1 {
		t.Errorf("ledger holds %d invoices, want 1", got)
	}
	for _, c := range ledger.CustomersSeen {
		if c.AccountID == "crm-c" {
			t.Error("never-paying account upserted as customer")
		}
	}
}

func TestSyncRunSkipsUnchangedAccounts(t *testing.T) {
	loader := &mocks.MockExportLoader{
		Rows: []domain.ChargeRow{
			accountRow("crm-a", "INV-A1", "item-a1", "Users", "49.90", "5"),
			accountRow("crm-b", "INV-B1", "item-b1", "Users", "20", "2"),
		},
	}
	ledger := mocks.NewMockLedgerStore()
	checkpoints := mocks.NewMockCheckpointStore()

	uc := newSyncUseCase(loader, ledger, checkpoints, usecase.SyncConfig{Workers: 1, CheckpointTTL: time.Hour})

	first, err := uc.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if first.AccountsSynced != 2 || first.AccountsSkipped != 0 {
		t.Fatalf("first report = %+v, want both accounts synced", first)
	}

	second, err := uc.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if second.AccountsSkipped != 2 || second.AccountsSynced != 0 {
		t.Errorf("second report = %+v, want both accounts skipped", second)
	}
	if got := writtenInvoices(ledger); got != 2 {
		t.Errorf("ledger holds %d invoices, want no rewrite on skip", got)
	}
}

func TestSyncRunIsolatesAccountFailures(t *testing.T) {
	loader := &mocks.MockExportLoader{
		Rows: []domain.ChargeRow{
			accountRow("crm-a", "INV-A1", "item-a1", "Users", "49.90", "5"),
			accountRow("crm-b", "INV-B1", "item-b1", "Unheard-of Fee", "20", "2"),
		},
	}
	ledger := mocks.NewMockLedgerStore()

	uc := newSyncUseCase(loader, ledger, nil, usecase.SyncConfig{Workers: 2})
	report, err := uc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.AccountsSynced != 1 || report.AccountsFailed != 1 {
		t.Fatalf("report = %+v, want one synced, one failed", report)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("errors = %+v, want one", report.Errors)
	}
	if report.Errors[0].AccountID != "crm-b" {
		t.Errorf("failed account = %s, want crm-b", report.Errors[0].AccountID)
	}
	if !errors.Is(report.Errors[0], domain.ErrUnknownChargeName) {
		t.Errorf("error = %v, want ErrUnknownChargeName", report.Errors[0])
	}
	if got := writtenInvoices(ledger); got != 1 {
		t.Errorf("ledger holds %d invoices, want the healthy account written", got)
	}
}

func TestSyncRunAccountFilters(t *testing.T) {
	loader := &mocks.MockExportLoader{
		Rows: []domain.ChargeRow{
			accountRow("crm-a", "INV-A1", "item-a1", "Users", "49.90", "5"),
			accountRow("crm-b", "INV-B1", "item-b1", "Users", "20", "2"),
			accountRow("crm-c", "INV-C1", "item-c1", "Users", "30", "3"),
		},
	}
	ledger := mocks.NewMockLedgerStore()

	uc := newSyncUseCase(loader, ledger, nil, usecase.SyncConfig{
		Workers:         1,
		IncludeAccounts: map[string]struct{}{"crm-a": {}, "crm-b": {}},
		ExcludeAccounts: map[string]struct{}{"crm-b": {}},
	})
	report, err := uc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.AccountsTotal != 1 || report.AccountsSynced != 1 {
		t.Errorf("report = %+v, want only crm-a in the run", report)
	}
}

func TestSyncRunExcludesInvoices(t *testing.T) {
	loader := &mocks.MockExportLoader{
		Rows: []domain.ChargeRow{
			accountRow("crm-a", "INV-A1", "item-a1", "Users", "49.90", "5"),
			accountRow("crm-a", "INV-A2", "item-a2", "Unheard-of Fee", "20", "2"),
		},
	}
	ledger := mocks.NewMockLedgerStore()

	uc := newSyncUseCase(loader, ledger, nil, usecase.SyncConfig{
		Workers:         1,
		ExcludeInvoices: map[string]struct{}{"INV-A2": {}},
	})
	report, err := uc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.AccountsFailed != 0 || report.InvoicesWritten != 1 {
		t.Errorf("report = %+v, want the broken invoice excluded", report)
	}
}

func TestSyncRunLoadFailure(t *testing.T) {
	boom := errors.New("export unavailable")
	loader := &mocks.MockExportLoader{
		ChargeRowsFunc: func(ctx context.Context) ([]domain.ChargeRow, error) {
			return nil, boom
		},
	}

	uc := newSyncUseCase(loader, mocks.NewMockLedgerStore(), nil, usecase.SyncConfig{Workers: 1})
	_, err := uc.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want the load failure surfaced", err)
	}
}
