package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItemAdjustment is an adjustment applied to a single invoice item.
// Amount is positive in the export; Type decides the effective sign.
type ItemAdjustment struct {
	ID            string
	InvoiceNumber string
	ItemID        string
	Type          string
	Status        string
	Amount        decimal.Decimal
}

// InvoiceAdjustment is an adjustment applied to a whole invoice.
type InvoiceAdjustment struct {
	ID            string
	InvoiceNumber string
	Type          string
	Status        string
	Amount        decimal.Decimal
}

// CreditBalanceAdjustment moves money in or out of an account's credit
// balance. InvoiceNumber is empty for standalone adjustments; RefundNumber is
// set when the adjustment realizes a refund.
type CreditBalanceAdjustment struct {
	ID            string
	AccountID     string
	InvoiceNumber string
	RefundNumber  string
	Type          string
	Status        string
	Amount        decimal.Decimal
	CreatedAt     time.Time
}

// StandaloneRefund reports whether the adjustment is a refund not linked to
// any invoice. Such adjustments must be matched to an invoice heuristically.
func (c CreditBalanceAdjustment) StandaloneRefund() bool {
	return c.RefundNumber != "" && c.InvoiceNumber == ""
}

// PaymentRecord is a payment or refund row from the billing export. Amount
// carries an invoice payment's realized amount; RefundAmount and
// CreditBalanceRefundAmount carry a refund's, in order of preference.
type PaymentRecord struct {
	Number                    string
	InvoiceNumber             string
	Status                    string
	OccurredAt                *time.Time
	Amount                    *decimal.Decimal
	RefundAmount              *decimal.Decimal
	CreditBalanceRefundAmount *decimal.Decimal
}
