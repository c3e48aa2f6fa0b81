package usecase_test

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/billsync/internal/domain"
	"github.com/iho/billsync/internal/usecase"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func datePtr(t time.Time) *time.Time { return &t }

// chargeRow builds a typical export row for tests: a posted USD invoice on
// subscription sub-1, service period January 2017.
func chargeRow(invoice, itemID, name, amount, quantity string) domain.ChargeRow {
	return domain.ChargeRow{
		ItemID:         itemID,
		ChargeName:     name,
		ChargeAmount:   dec(amount),
		Quantity:       dec(quantity),
		ServiceStart:   day(2017, time.January, 1),
		ServiceEnd:     day(2017, time.January, 31),
		AccountingCode: "MONTHLYFEE",
		Subscription: domain.SubscriptionRef{
			ID:   "sub-id-1",
			Name: "sub-1",
		},
		Invoice: domain.InvoiceRef{
			Number:   invoice,
			PostedAt: datePtr(day(2017, time.January, 1)),
			DueAt:    datePtr(day(2017, time.January, 15)),
			Amount:   dec(amount),
			Balance:  decimal.Zero,
			Status:   domain.StatusPosted,
		},
		Account: domain.AccountRef{
			Number:   "A-001",
			CRMID:    "crm-1",
			Name:     "Acme",
			Currency: "USD",
			Status:   "Active",
		},
	}
}

// withInvoiceAmount overrides the source invoice amount on every row.
func withInvoiceAmount(rows []domain.ChargeRow, amount string) []domain.ChargeRow {
	for i := range rows {
		rows[i].Invoice.Amount = dec(amount)
	}
	return rows
}

func testPlanIDs() map[string]string {
	return map[string]string{
		usecase.PlanProMonthly:   "plan-monthly",
		usecase.PlanProQuarterly: "plan-quarterly",
		usecase.PlanProAnnual:    "plan-annual",
	}
}

func newTestBuilder() *usecase.Builder {
	return usecase.NewBuilder(usecase.DefaultTables(), usecase.DefaultPolicies(), zerolog.Nop())
}

func processedPayment(number, amount string, at time.Time) domain.PaymentRecord {
	a := dec(amount)
	return domain.PaymentRecord{
		Number:     number,
		Status:     domain.StatusProcessed,
		OccurredAt: datePtr(at),
		Amount:     &a,
	}
}

func processedRefund(number, amount string, at time.Time) domain.PaymentRecord {
	a := dec(amount)
	return domain.PaymentRecord{
		Number:       number,
		Status:       domain.StatusProcessed,
		OccurredAt:   datePtr(at),
		RefundAmount: &a,
	}
}
