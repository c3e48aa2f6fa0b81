package usecase

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/billsync/internal/domain"
)

// Builder turns the export rows of one invoice into a normalized invoice with
// line items and transactions, folding in discounts, adjustments and
// proration credits while keeping monetary totals exact to the cent.
type Builder struct {
	tables   *Tables
	policies Policies
	log      zerolog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(tables *Tables, policies Policies, log zerolog.Logger) *Builder {
	return &Builder{tables: tables, policies: policies, log: log}
}

// BuildInput carries everything the export knows about one source invoice.
// Adjustment and payment slices are already filtered to Processed records.
type BuildInput struct {
	InvoiceNumber      string
	Rows               []domain.ChargeRow
	ItemAdjustments    []domain.ItemAdjustment
	InvoiceAdjustments []domain.InvoiceAdjustment
	CreditAdjustments  []domain.CreditBalanceAdjustment
	Payments           []domain.PaymentRecord
	Refunds            []domain.PaymentRecord
	PlanIDs            map[string]string
}

// allocation tracks the invoice-level adjustment remainder as it is consumed
// greedily across line items in processing order.
type allocation struct {
	remaining decimal.Decimal
}

// Build assembles one normalized invoice. Any violated reconciliation
// invariant aborts with an error naming the invoice; no partial invoice is
// ever returned.
func (b *Builder) Build(in BuildInput) (*domain.Invoice, error) {
	invoice, err := b.build(in)
	if err != nil {
		return nil, fmt.Errorf("build invoice %s: %w", in.InvoiceNumber, err)
	}
	return invoice, nil
}

func (b *Builder) build(in BuildInput) (*domain.Invoice, error) {
	if len(in.Rows) == 0 {
		return nil, fmt.Errorf("no charge rows")
	}
	first := in.Rows[0]

	if first.Invoice.PostedAt == nil {
		return nil, domain.ErrMissingPostedDate
	}
	if first.Invoice.DueAt == nil {
		return nil, domain.ErrMissingDueDate
	}
	currency, err := b.tables.Currency(first.Account.Currency)
	if err != nil {
		return nil, err
	}

	invoice := &domain.Invoice{
		ExternalID: in.InvoiceNumber,
		PostedAt:   first.Invoice.PostedAt.UTC(),
		DueAt:      first.Invoice.DueAt.UTC(),
		Currency:   currency,
	}

	items, itemAdjTotal, invoiceAdjTotal, err := b.buildLineItems(in)
	if err != nil {
		return nil, err
	}

	if err := checkLineItemTotal(first, items, itemAdjTotal, invoiceAdjTotal); err != nil {
		return nil, err
	}

	b.cancelLongOverdue(first, items)

	for _, li := range items {
		invoice.AddLineItem(li)
	}

	totalPayments, err := addTransactions(in.Payments, invoice, domain.TransactionPayment)
	if err != nil {
		return nil, err
	}
	totalRefunds, err := addTransactions(in.Refunds, invoice, domain.TransactionRefund)
	if err != nil {
		return nil, err
	}

	creditAdjusted, err := b.checkCreditAdjustment(invoice, in.CreditAdjustments, totalPayments, totalRefunds)
	if err != nil {
		return nil, err
	}

	// The destination cannot represent partial refunds; strip what it cannot
	// express and fail on anything that still doesn't reconcile.
	if err := stripPartialRefunds(invoice, totalPayments, totalRefunds, creditAdjusted); err != nil {
		return nil, err
	}

	return invoice, nil
}

// buildLineItems classifies the rows, resolves discount/adjustment maps and
// produces resolved line items. It returns the item- and invoice-adjustment
// totals needed by the total-consistency check.
func (b *Builder) buildLineItems(in BuildInput) ([]*domain.LineItem, decimal.Decimal, decimal.Decimal, error) {
	cls, err := b.tables.Classify(in.Rows)
	if err != nil {
		return nil, decimal.Zero, decimal.Zero, err
	}

	discounts := b.tables.ResolveDiscounts(in.Rows)
	adjustments, itemAdjTotal := ResolveItemAdjustments(in.ItemAdjustments)
	invoiceAdjTotal := ResolveInvoiceAdjustments(in.InvoiceAdjustments)

	alloc := &allocation{remaining: invoiceAdjTotal}

	items, err := b.processRows(cls.Charges, cls, discounts, adjustments, alloc, in.PlanIDs)
	if err != nil {
		return nil, decimal.Zero, decimal.Zero, err
	}

	// Remaining user credits matched nothing: reinterpret each as the
	// subscription having been downgraded to zero and give the credit one
	// more pass against a synthetic zero charge.
	if len(cls.UserCredits) > 0 {
		synthetic := make([]domain.ChargeRow, 0, len(cls.UserCredits))
		for _, credit := range cls.UserCredits {
			row := credit
			row.ChargeName = "Users -- Proration"
			row.ChargeAmount = decimal.Zero
			row.Quantity = decimal.Zero
			row.ItemID += "-a" // keep it clear of the discount/adjustment maps
			synthetic = append(synthetic, row)
		}
		extra, err := b.processRows(synthetic, cls, discounts, adjustments, alloc, in.PlanIDs)
		if err != nil {
			return nil, decimal.Zero, decimal.Zero, err
		}
		items = append(items, extra...)

		if n := len(cls.UserCredits); n > 0 {
			return nil, decimal.Zero, decimal.Zero, fmt.Errorf("%w: %d left", domain.ErrUnmatchedUserCredit, n)
		}
	}
	if n := len(cls.StorageCredits); n > 0 {
		return nil, decimal.Zero, decimal.Zero, fmt.Errorf("%w: %d left", domain.ErrUnmatchedStorageCredit, n)
	}

	return items, itemAdjTotal, invoiceAdjTotal, nil
}

func (b *Builder) processRows(
	rows []domain.ChargeRow,
	cls *Classified,
	discounts, adjustments map[string]decimal.Decimal,
	alloc *allocation,
	planIDs map[string]string,
) ([]*domain.LineItem, error) {
	items := make([]*domain.LineItem, 0, len(rows))
	for _, row := range rows {
		li, err := b.processRow(row, cls, discounts, adjustments, alloc, planIDs)
		if err != nil {
			return nil, err
		}
		items = append(items, li)
	}
	return items, nil
}

func (b *Builder) processRow(
	row domain.ChargeRow,
	cls *Classified,
	discounts, adjustments map[string]decimal.Decimal,
	alloc *allocation,
	planIDs map[string]string,
) (*domain.LineItem, error) {
	if row.ServiceStart.IsZero() {
		return nil, fmt.Errorf("%w: start of item %s", domain.ErrMissingServiceDate, row.ItemID)
	}
	if row.ServiceEnd.IsZero() {
		return nil, fmt.Errorf("%w: end of item %s", domain.ErrMissingServiceDate, row.ItemID)
	}

	discount := discounts[row.ItemID].Add(adjustments[row.ItemID])
	amount := row.ChargeAmount.Add(discount)

	// The destination rejects start == end and needs at least a day of
	// service intersection, so zero-length periods get a one day floor.
	start, end := row.ServiceStart, row.ServiceEnd
	if start.Equal(end) {
		end = end.AddDate(0, 0, 1)
	}

	category, _ := b.tables.Category(row.ChargeName)

	pool := &cls.StorageCredits
	if usesUserCreditPool(category) {
		pool = &cls.UserCredits
	}

	prorated := false
	quantity := row.Quantity

	credits := *pool
	for i := len(credits) - 1; i >= 0; i-- {
		credit := credits[i]

		if credit.ServiceStart.Equal(credit.ServiceEnd) {
			credit.ServiceEnd = credit.ServiceEnd.AddDate(0, 0, 1)
			credits[i] = credit
		}

		if credit.Subscription.Name != row.Subscription.Name ||
			overlapDays(credit.ServiceStart, credit.ServiceEnd, start, end) < 1 {
			continue
		}

		// Amount and quantity become the change against the credited term.
		// Credits carry their own discounts and adjustments too.
		prorated = true
		creditDiscount := discounts[credit.ItemID].Add(adjustments[credit.ItemID])
		b.log.Debug().
			Str("invoice", row.Invoice.Number).
			Str("item", row.ItemID).
			Str("credit", credit.ItemID).
			Str("credit_amount", credit.ChargeAmount.String()).
			Msg("applying proration credit")

		amount = amount.Add(credit.ChargeAmount).Add(creditDiscount)
		quantity = quantity.Sub(credit.Quantity)

		credits = append(credits[:i], credits[i+1:]...)
	}
	*pool = credits

	if !prorated && isProrationCharge(category) {
		// Happens on downgrades to free; not fatal, but worth eyes.
		b.log.Warn().
			Str("invoice", row.Invoice.Number).
			Str("item", row.ItemID).
			Msg("no credit matched a prorated charge")
	}

	// Allocate the invoice-level adjustment greedily: whenever the remainder
	// and the row amount have opposite signs, the smaller magnitude is
	// consumed whole and the other reduced by it.
	if alloc.remaining.IsNegative() {
		discount = discount.Sub(amount)
	}
	if amount.Add(alloc.remaining).IsZero() {
		alloc.remaining = decimal.Zero
		amount = decimal.Zero
	}
	if amount.Sign() != 0 && alloc.remaining.Sign() != 0 && amount.Sign() != alloc.remaining.Sign() {
		if amount.Abs().GreaterThan(alloc.remaining.Abs()) {
			amount = amount.Add(alloc.remaining)
			alloc.remaining = decimal.Zero
		} else {
			alloc.remaining = alloc.remaining.Add(amount)
			amount = decimal.Zero
		}
	}

	subscriptionID := row.Subscription.Name
	if subscriptionID == "" {
		// Deleted subscriptions lose their number; the raw id is the best
		// stable identity left.
		subscriptionID = row.Subscription.ID
	}

	return &domain.LineItem{
		Kind:           domain.LineItemSubscription,
		ExternalID:     row.ItemID,
		SubscriptionID: subscriptionID,
		PlanID:         planIDs[b.tables.PlanKey(row.AccountingCode)],
		ServiceStart:   start,
		ServiceEnd:     end,
		AmountCents:    domain.Cents(amount),
		DiscountCents:  domain.Cents(discount.Neg()),
		TaxCents:       domain.Cents(row.TaxAmount),
		Quantity:       quantity.IntPart(),
		Prorated:       prorated,
		CancelledAt:    b.policies.subscriptionCancelledAt(row),
	}, nil
}

// checkLineItemTotal is the engine's core correctness guarantee: the line
// items must sum exactly to the source invoice amount plus all adjustments,
// rounded once. A mismatch means silent drift somewhere and is always fatal.
func checkLineItemTotal(first domain.ChargeRow, items []*domain.LineItem, itemAdjTotal, invoiceAdjTotal decimal.Decimal) error {
	want := domain.Cents(first.Invoice.Amount.Add(itemAdjTotal).Add(invoiceAdjTotal))
	var got int64
	for _, li := range items {
		got += li.AmountCents
	}
	if got != want {
		return fmt.Errorf("%w: line items %d, expected %d (invoice %s + item adj %s + invoice adj %s)",
			domain.ErrTotalMismatch, got, want,
			first.Invoice.Amount.String(), itemAdjTotal.String(), invoiceAdjTotal.String())
	}
	return nil
}

// cancelLongOverdue stamps cancellation dates on invoices unpaid long enough
// that the subscription is presumed gone.
func (b *Builder) cancelLongOverdue(first domain.ChargeRow, items []*domain.LineItem) {
	if first.Invoice.Amount.Sign() <= 0 || first.Invoice.Balance.Sign() <= 0 {
		return
	}
	if wholeMonthsSince(b.policies.Now(), first.Invoice.DueAt.UTC()) < b.policies.MonthsUnpaidToCancel {
		return
	}

	var firstPositive *domain.LineItem
	for _, li := range items {
		if li.AmountCents > 0 {
			firstPositive = li
			break
		}
	}
	if firstPositive == nil || firstPositive.CancelledAt != nil {
		return
	}

	at := firstPositive.ServiceStart
	for _, li := range items {
		cancelled := at
		li.CancelledAt = &cancelled
	}
}

// checkCreditAdjustment verifies the invoice's credit-balance adjustments.
// A credit adjustment behaves like a payment that never moves cash, so a
// nonzero one alongside real payments or refunds makes cashflow reporting
// approximate (warned, accepted). Without payments it must cover the invoice
// exactly and nothing else may have settled it.
func (b *Builder) checkCreditAdjustment(
	invoice *domain.Invoice,
	creditAdjustments []domain.CreditBalanceAdjustment,
	totalPayments, totalRefunds int64,
) (int64, error) {
	adjusted := ResolveCreditAdjustments(creditAdjustments)
	if adjusted.IsZero() {
		return 0, nil
	}

	adjustedCents := domain.Cents(adjusted.Neg())
	invoiceTotal := invoice.TotalCents()

	if totalPayments != 0 || totalRefunds != 0 {
		b.log.Warn().
			Str("invoice", invoice.ExternalID).
			Msg("invoice has both payments/refunds and credit adjustment, cashflow approximate")
		return adjustedCents, nil
	}
	if adjustedCents != invoiceTotal {
		return 0, fmt.Errorf("%w: adjusted %d, invoice %d", domain.ErrCreditAdjustmentMismatch, adjustedCents, invoiceTotal)
	}
	if invoice.SuccessfulTransactions() > 0 {
		return 0, domain.ErrCreditAdjustedAndPaid
	}
	return adjustedCents, nil
}

// stripPartialRefunds reduces partially refunded invoices to their payment
// transactions, since the destination cannot represent a partial refund. An
// invoice that is cleanly paid (and optionally fully refunded) passes as is;
// any residual mismatch is fatal.
func stripPartialRefunds(invoice *domain.Invoice, totalPayments, totalRefunds, creditAdjusted int64) error {
	if totalPayments == 0 && totalRefunds == 0 {
		return nil
	}

	invoiceTotal := invoice.TotalCents()

	if invoiceTotal == totalPayments &&
		(totalPayments == totalRefunds || totalRefunds == 0) &&
		creditAdjusted == 0 {
		return nil
	}

	clearPayment := totalPayments - totalRefunds + creditAdjusted
	if clearPayment != 0 && clearPayment == invoiceTotal {
		kept := invoice.Transactions[:0]
		for _, t := range invoice.Transactions {
			if t.Kind == domain.TransactionPayment {
				kept = append(kept, t)
			}
		}
		invoice.Transactions = kept
		return nil
	}

	return fmt.Errorf("%w: invoice %d, payments %d, refunds %d, credit adjusted %d, clear %d",
		domain.ErrUnexpectedPaymentCase, invoiceTotal, totalPayments, totalRefunds, creditAdjusted, clearPayment)
}

// overlapDays returns the number of whole days both periods cover.
func overlapDays(aStart, aEnd, bStart, bEnd time.Time) int {
	start := aStart
	if bStart.After(start) {
		start = bStart
	}
	end := aEnd
	if bEnd.Before(end) {
		end = bEnd
	}
	if !end.After(start) {
		return 0
	}
	return int(end.Sub(start).Hours() / 24)
}
