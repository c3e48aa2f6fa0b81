package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind is the type of a normalized invoice transaction.
type TransactionKind string

const (
	TransactionPayment TransactionKind = "payment"
	TransactionRefund  TransactionKind = "refund"
)

// TransactionResult is the outcome of a transaction.
type TransactionResult string

const (
	TransactionSuccessful TransactionResult = "successful"
	TransactionFailed     TransactionResult = "failed"
)

// LineItemSubscription is the only supported line item kind.
const LineItemSubscription = "subscription"

// Transaction is a normalized payment or refund on an invoice. Failed
// transactions are kept for audit completeness. The external id combines the
// source payment/refund number with the invoice number, because one payment
// number can be assigned to multiple invoices.
type Transaction struct {
	Date       time.Time
	Kind       TransactionKind
	Result     TransactionResult
	ExternalID string
}

// LineItem is one priced entry on a normalized invoice. Amounts are integer
// cents; Quantity may be negative for a prorated downgrade.
type LineItem struct {
	Kind           string
	ExternalID     string
	SubscriptionID string
	PlanID         string
	ServiceStart   time.Time
	ServiceEnd     time.Time
	AmountCents    int64
	DiscountCents  int64
	TaxCents       int64
	Quantity       int64
	Prorated       bool
	CancelledAt    *time.Time
}

// Invoice is a normalized, internally consistent invoice ready for export to
// the revenue-analytics ledger.
type Invoice struct {
	ExternalID   string
	PostedAt     time.Time
	DueAt        time.Time
	Currency     string
	LineItems    []*LineItem
	Transactions []*Transaction
}

// AddLineItem appends a line item.
func (i *Invoice) AddLineItem(li *LineItem) {
	i.LineItems = append(i.LineItems, li)
}

// AddTransaction appends a transaction.
func (i *Invoice) AddTransaction(t *Transaction) {
	i.Transactions = append(i.Transactions, t)
}

// TotalCents is the net invoice amount: the sum of line item amounts.
func (i *Invoice) TotalCents() int64 {
	var total int64
	for _, li := range i.LineItems {
		total += li.AmountCents
	}
	return total
}

// SuccessfulTransactions counts transactions with a successful result.
func (i *Invoice) SuccessfulTransactions() int {
	n := 0
	for _, t := range i.Transactions {
		if t.Result == TransactionSuccessful {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the invoice.
func (i *Invoice) Clone() *Invoice {
	c := &Invoice{
		ExternalID: i.ExternalID,
		PostedAt:   i.PostedAt,
		DueAt:      i.DueAt,
		Currency:   i.Currency,
	}
	for _, li := range i.LineItems {
		cp := *li
		if li.CancelledAt != nil {
			at := *li.CancelledAt
			cp.CancelledAt = &at
		}
		c.LineItems = append(c.LineItems, &cp)
	}
	for _, t := range i.Transactions {
		cp := *t
		c.Transactions = append(c.Transactions, &cp)
	}
	return c
}

// Cents converts a major-unit amount to integer cents, rounding once.
func Cents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
