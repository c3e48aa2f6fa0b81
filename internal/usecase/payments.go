package usecase

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/iho/billsync/internal/domain"
)

// addTransactions appends payment or refund transactions to the invoice and
// returns the total realized cents over the successful ones. Failed
// transactions are appended too, for audit completeness. A record missing its
// number, date or realized amount is fatal.
func addTransactions(records []domain.PaymentRecord, invoice *domain.Invoice, kind domain.TransactionKind) (int64, error) {
	total := decimal.Zero
	for _, rec := range records {
		if rec.Number == "" || rec.OccurredAt == nil {
			return 0, fmt.Errorf("%w: %s on invoice %s", domain.ErrInvalidPaymentRecord, kind, invoice.ExternalID)
		}

		result := domain.TransactionFailed
		if rec.Status == domain.StatusProcessed {
			result = domain.TransactionSuccessful
		}

		if result == domain.TransactionSuccessful {
			amount := realizedAmount(rec, kind)
			if amount == nil {
				return 0, fmt.Errorf("%w: %s %s has no realized amount", domain.ErrInvalidPaymentRecord, kind, rec.Number)
			}
			total = total.Add(*amount)
		}

		invoice.AddTransaction(&domain.Transaction{
			Date:       rec.OccurredAt.UTC(),
			Kind:       kind,
			Result:     result,
			ExternalID: rec.Number + "-" + invoice.ExternalID,
		})
	}
	return domain.Cents(total), nil
}

// realizedAmount picks the amount field appropriate to the transaction kind.
// Refunds prefer the refund-invoice-payment amount and fall back to the
// credit-balance-adjustment amount.
func realizedAmount(rec domain.PaymentRecord, kind domain.TransactionKind) *decimal.Decimal {
	if kind == domain.TransactionPayment {
		return rec.Amount
	}
	if rec.RefundAmount != nil {
		return rec.RefundAmount
	}
	return rec.CreditBalanceRefundAmount
}
