package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Export record statuses and type discriminators as they appear in the
// billing export.
const (
	StatusProcessed = "Processed"
	StatusPosted    = "Posted"

	AdjustmentTypeCharge = "Charge"
	CreditTypeIncrease   = "Increase"
	CreditTypeDecrease   = "Decrease"

	AccountingCodeFree = "FREE"
)

// SubscriptionRef is the subscription info pre-joined onto an export row.
// Name is empty when the subscription record was deleted upstream.
type SubscriptionRef struct {
	ID          string
	Name        string
	CancelledAt *time.Time
}

// InvoiceRef is the source invoice metadata pre-joined onto an export row.
type InvoiceRef struct {
	Number   string
	PostedAt *time.Time
	DueAt    *time.Time
	Amount   decimal.Decimal
	Balance  decimal.Decimal
	Status   string
}

// AccountRef is the account info pre-joined onto an export row.
// CRMID is a custom tenant identifier; Number is the billing account number.
type AccountRef struct {
	Number   string
	CRMID    string
	Name     string
	Currency string
	Status   string
}

// ChargeRow is one invoice line from the billing export, with its invoice,
// account and subscription context pre-joined. Rows are read-only input for
// one reconciliation run; the engine works on copies, never on the originals.
type ChargeRow struct {
	ItemID          string
	ChargeName      string
	ChargeAmount    decimal.Decimal
	Quantity        decimal.Decimal
	ServiceStart    time.Time
	ServiceEnd      time.Time
	AppliedToItemID string
	AccountingCode  string
	UOM             string
	TaxAmount       decimal.Decimal
	Subscription    SubscriptionRef
	Invoice         InvoiceRef
	Account         AccountRef
}

// AccountID returns the grouping identity for the row's account: the custom
// CRM id when present, the billing account number otherwise.
func (r ChargeRow) AccountID() string {
	if r.Account.CRMID != "" {
		return r.Account.CRMID
	}
	return r.Account.Number
}
