package usecase

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/billsync/internal/domain"
)

// PendingRefunds attaches standalone credit-balance refunds to invoices.
// Such refunds carry no invoice link, so they are matched heuristically by
// date and amount, newest invoice first.
type PendingRefunds struct {
	idGen IDGenerator
	log   zerolog.Logger
}

// NewPendingRefunds creates a PendingRefunds resolver.
func NewPendingRefunds(idGen IDGenerator, log zerolog.Logger) *PendingRefunds {
	return &PendingRefunds{idGen: idGen, log: log}
}

// Attach matches every pending credit-balance refund to some invoice,
// splitting invoices or credits where amounts don't line up. The returned
// invoice set is sorted ascending by external id. Credits that find no home
// are fatal: standalone refunds must fully reconcile.
func (p *PendingRefunds) Attach(pending []domain.CreditBalanceAdjustment, invoices []*domain.Invoice) ([]*domain.Invoice, error) {
	sorted := make([]*domain.Invoice, len(invoices))
	copy(sorted, invoices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ExternalID > sorted[j].ExternalID })

	// Split invoices are appended and visited by the same scan.
	for i := 0; i < len(sorted); i++ {
		rest, extra, err := p.attachTo(pending, sorted[i])
		if err != nil {
			return nil, err
		}
		pending = rest
		if extra != nil {
			sorted = append(sorted, extra)
		}
	}

	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ExternalID < sorted[j].ExternalID })

	if len(pending) > 0 {
		ids := make([]string, 0, len(pending))
		for _, cba := range pending {
			ids = append(ids, cba.RefundNumber)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPendingRefundsLeft, ids)
	}
	return sorted, nil
}

// attachTo tries to settle one pending credit against the invoice. It returns
// the remaining pending credits and, when the invoice was split, the new
// invoice to add to the working set.
func (p *PendingRefunds) attachTo(pending []domain.CreditBalanceAdjustment, invoice *domain.Invoice) ([]domain.CreditBalanceAdjustment, *domain.Invoice, error) {
	if len(pending) == 0 {
		return pending, nil, nil
	}

	invoiceTotal := invoice.TotalCents()
	if invoiceTotal <= 0 {
		// Nothing left to refund on this invoice.
		return pending, nil, nil
	}

	foundAt := -1
	for i, cba := range pending {
		if !cba.CreatedAt.Before(invoice.PostedAt) {
			foundAt = i
			break
		}
	}
	if foundAt < 0 {
		return pending, nil, nil
	}

	found := pending[foundAt]
	rest := make([]domain.CreditBalanceAdjustment, 0, len(pending)-1)
	rest = append(rest, pending[:foundAt]...)
	rest = append(rest, pending[foundAt+1:]...)

	refundedCents := domain.Cents(found.Amount)

	p.log.Debug().
		Str("refund", found.RefundNumber).
		Str("invoice", invoice.ExternalID).
		Int64("refunded_cents", refundedCents).
		Int64("invoice_cents", invoiceTotal).
		Msg("attaching extra-invoice refund")

	switch {
	case refundedCents == invoiceTotal:
		attachRefund(invoice, found)
		return rest, nil, nil

	case refundedCents < invoiceTotal:
		// The destination has no partial refunds, so split the invoice and
		// refund one half.
		split, err := p.splitInvoice(invoice, refundedCents)
		if err != nil {
			return nil, nil, err
		}
		attachRefund(split, found)
		return rest, split, nil

	default:
		// The credit exceeds this invoice: refund the invoice total now and
		// push the remainder back for an earlier invoice.
		now, next := splitCredit(found, invoiceTotal)
		attachRefund(invoice, now)
		return append(rest, next), nil, nil
	}
}

// splitInvoice moves refundedCents onto the receiving invoice and returns a
// new invoice carrying the remainder under a suffixed identity. Only
// single-line-item invoices can be split.
func (p *PendingRefunds) splitInvoice(invoice *domain.Invoice, refundedCents int64) (*domain.Invoice, error) {
	if len(invoice.LineItems) != 1 {
		return nil, fmt.Errorf("%w: invoice %s has %d line items", domain.ErrUnsupportedSplit, invoice.ExternalID, len(invoice.LineItems))
	}

	p.log.Debug().
		Str("invoice", invoice.ExternalID).
		Int64("refunded_cents", refundedCents).
		Msg("splitting invoice")

	split := invoice.Clone()
	invoice.LineItems[0].AmountCents = refundedCents
	split.LineItems[0].AmountCents -= refundedCents

	suffix := "-" + p.idGen.Generate()
	split.ExternalID += suffix
	for _, li := range split.LineItems {
		li.ExternalID += suffix
	}
	for _, t := range split.Transactions {
		t.ExternalID += suffix
	}
	return split, nil
}

// splitCredit divides a credit into the part refunding this invoice and the
// remainder to be matched later, each under a suffixed refund number.
func splitCredit(cba domain.CreditBalanceAdjustment, invoiceTotalCents int64) (now, next domain.CreditBalanceAdjustment) {
	invoiceTotal := decimal.NewFromInt(invoiceTotalCents).Shift(-2)

	now = cba
	now.RefundNumber += "a"
	now.Amount = invoiceTotal

	next = cba
	next.RefundNumber += "b"
	next.Amount = cba.Amount.Sub(invoiceTotal)
	return now, next
}

func attachRefund(invoice *domain.Invoice, cba domain.CreditBalanceAdjustment) {
	invoice.AddTransaction(&domain.Transaction{
		Date:       cba.CreatedAt.UTC(),
		Kind:       domain.TransactionRefund,
		Result:     domain.TransactionSuccessful,
		ExternalID: cba.RefundNumber + "-" + invoice.ExternalID,
	})
}
