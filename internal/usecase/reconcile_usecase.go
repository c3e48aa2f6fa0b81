package usecase

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/billsync/internal/domain"
)

// ReconcileUseCase reconciles one account's billing-export snapshot into a
// normalized, internally consistent invoice set. It is computation-only and
// runs to completion or fails for the whole account; accounts are independent
// and safe to reconcile concurrently.
type ReconcileUseCase struct {
	builder *Builder
	refunds *PendingRefunds
	log     zerolog.Logger
}

// NewReconcileUseCase creates a ReconcileUseCase.
func NewReconcileUseCase(builder *Builder, refunds *PendingRefunds, log zerolog.Logger) *ReconcileUseCase {
	return &ReconcileUseCase{builder: builder, refunds: refunds, log: log}
}

// AccountRecords is the complete export snapshot for one account. The keyed
// maps are grouped by invoice number and already filtered to Processed
// records.
type AccountRecords struct {
	Rows               []domain.ChargeRow
	Payments           map[string][]domain.PaymentRecord
	Refunds            map[string][]domain.PaymentRecord
	ItemAdjustments    map[string][]domain.ItemAdjustment
	InvoiceAdjustments map[string][]domain.InvoiceAdjustment
	CreditAdjustments  map[string][]domain.CreditBalanceAdjustment
	PendingRefunds     []domain.CreditBalanceAdjustment
	PlanIDs            map[string]string
}

// Reconcile builds all of the account's invoices in ascending order, resolves
// standalone refunds, removes annulling and degenerate invoices, shifts
// colliding timestamps and validates the result.
func (uc *ReconcileUseCase) Reconcile(accountID string, recs AccountRecords) ([]*domain.Invoice, error) {
	invoices, err := uc.reconcile(recs)
	if err != nil {
		return nil, fmt.Errorf("reconcile account %s: %w", accountID, err)
	}
	return invoices, nil
}

func (uc *ReconcileUseCase) reconcile(recs AccountRecords) ([]*domain.Invoice, error) {
	byInvoice := make(map[string][]domain.ChargeRow)
	for _, row := range recs.Rows {
		byInvoice[row.Invoice.Number] = append(byInvoice[row.Invoice.Number], row)
	}

	numbers := make([]string, 0, len(byInvoice))
	for number, rows := range byInvoice {
		if allSubscriptionsDeleted(rows) {
			uc.log.Debug().Str("invoice", number).Msg("skipping invoice with only deleted subscriptions")
			continue
		}
		numbers = append(numbers, number)
	}
	// Invoice numbers grow with issue date, so ascending order is
	// chronological processing.
	sort.Strings(numbers)

	invoices := make([]*domain.Invoice, 0, len(numbers))
	for _, number := range numbers {
		invoice, err := uc.builder.Build(BuildInput{
			InvoiceNumber:      number,
			Rows:               byInvoice[number],
			ItemAdjustments:    recs.ItemAdjustments[number],
			InvoiceAdjustments: recs.InvoiceAdjustments[number],
			CreditAdjustments:  recs.CreditAdjustments[number],
			Payments:           recs.Payments[number],
			Refunds:            recs.Refunds[number],
			PlanIDs:            recs.PlanIDs,
		})
		if err != nil {
			return nil, err
		}
		if len(invoice.LineItems) == 0 {
			continue
		}
		invoices = append(invoices, invoice)
	}

	// Credit-balance increases have no refund meaning here; only decreases
	// are attachable refunds.
	pending := make([]domain.CreditBalanceAdjustment, 0, len(recs.PendingRefunds))
	for _, cba := range recs.PendingRefunds {
		if cba.Type == domain.CreditTypeDecrease {
			pending = append(pending, cba)
		}
	}
	if len(pending) > 0 {
		var err error
		invoices, err = uc.refunds.Attach(pending, invoices)
		if err != nil {
			return nil, err
		}
	}

	// Annulment removal runs before the nonsense filter: an annulling pair
	// is two invoices, a nonsense invoice stands alone.
	invoices = removeAnnullingPairs(invoices)
	invoices = uc.removeNonsenseInvoices(invoices)
	shiftCollidingDates(invoices)

	if err := validateInvoices(invoices); err != nil {
		return nil, err
	}
	return invoices, nil
}

func allSubscriptionsDeleted(rows []domain.ChargeRow) bool {
	for _, row := range rows {
		if row.Subscription.ID != "" {
			return false
		}
	}
	return true
}

// removeAnnullingPairs drops date-adjacent invoice pairs whose line item sets
// cancel exactly: equal and opposite totals over identical subscription,
// service period and plan sets. The destination cannot process them. Each
// removal can expose a new adjacent pair, so passes repeat until none remove.
func removeAnnullingPairs(invoices []*domain.Invoice) []*domain.Invoice {
	for {
		removed := false
		for i := 1; i < len(invoices); i++ {
			if invoicesAnnul(invoices[i], invoices[i-1]) {
				invoices = append(invoices[:i-1], invoices[i+1:]...)
				removed = true
			}
		}
		if !removed {
			return invoices
		}
	}
}

// invoicesAnnul compares term, money, plan and subscription, not quantity.
func invoicesAnnul(a, b *domain.Invoice) bool {
	return a.TotalCents() == -b.TotalCents() &&
		stringSetsEqual(lineItemSet(a, subscriptionKey), lineItemSet(b, subscriptionKey)) &&
		stringSetsEqual(lineItemSet(a, periodStartKey), lineItemSet(b, periodStartKey)) &&
		stringSetsEqual(lineItemSet(a, periodEndKey), lineItemSet(b, periodEndKey)) &&
		stringSetsEqual(lineItemSet(a, planKey), lineItemSet(b, planKey))
}

// removeNonsenseInvoices drops invoices the destination cannot take: any
// invoice still holding a line item without a subscription, and zero-total
// invoices that change nothing.
func (uc *ReconcileUseCase) removeNonsenseInvoices(invoices []*domain.Invoice) []*domain.Invoice {
	kept := invoices[:0]
	for _, invoice := range invoices {
		if hasDeletedSubscription(invoice) {
			uc.log.Warn().Str("invoice", invoice.ExternalID).Msg("removing invoice with deleted subscription")
			continue
		}
		if isNoopInvoice(invoice) {
			uc.log.Warn().Str("invoice", invoice.ExternalID).Msg("removing nonsense invoice")
			continue
		}
		kept = append(kept, invoice)
	}
	return kept
}

func hasDeletedSubscription(invoice *domain.Invoice) bool {
	for _, li := range invoice.LineItems {
		if li.SubscriptionID == "" {
			return true
		}
	}
	return false
}

// isNoopInvoice reports a zero-total invoice over a single subscription,
// service period, plan and absolute quantity.
func isNoopInvoice(invoice *domain.Invoice) bool {
	return invoice.TotalCents() == 0 &&
		len(lineItemSet(invoice, subscriptionKey)) == 1 &&
		len(lineItemSet(invoice, periodStartKey)) == 1 &&
		len(lineItemSet(invoice, periodEndKey)) == 1 &&
		len(lineItemSet(invoice, planKey)) == 1 &&
		len(lineItemSet(invoice, absQuantityKey)) == 1
}

// shiftCollidingDates pushes same-second period-start and cancellation
// timestamps forward by whole seconds within the account, because the
// destination cannot order two events on the same second. Invoices must
// already be sorted by external id.
func shiftCollidingDates(invoices []*domain.Invoice) {
	seen := make(map[string]int)

	shift := func(t time.Time) time.Time {
		key := t.UTC().Format(time.RFC3339)
		n, ok := seen[key]
		if !ok {
			seen[key] = 1
			return t
		}
		seen[key] = n + 1
		return t.Add(time.Duration(n) * time.Second)
	}

	for _, invoice := range invoices {
		for _, li := range invoice.LineItems {
			li.ServiceStart = shift(li.ServiceStart)
			if li.CancelledAt != nil {
				shifted := shift(*li.CancelledAt)
				li.CancelledAt = &shifted
			}
		}
	}
}

// validateInvoices runs the final sanity checks; any violation is fatal for
// the account.
func validateInvoices(invoices []*domain.Invoice) error {
	for _, invoice := range invoices {
		for _, li := range invoice.LineItems {
			if li.Quantity == 0 {
				return fmt.Errorf("%w: invoice %s item %s", domain.ErrZeroQuantity, invoice.ExternalID, li.ExternalID)
			}
			if !li.Prorated && li.AmountCents < 0 {
				return fmt.Errorf("%w: invoice %s item %s", domain.ErrNegativeUnprorated, invoice.ExternalID, li.ExternalID)
			}
			if !li.ServiceStart.Before(li.ServiceEnd) {
				return fmt.Errorf("%w: invoice %s item %s", domain.ErrInvalidServicePeriod, invoice.ExternalID, li.ExternalID)
			}
		}
	}
	return nil
}

func lineItemSet(invoice *domain.Invoice, key func(*domain.LineItem) string) map[string]struct{} {
	set := make(map[string]struct{}, len(invoice.LineItems))
	for _, li := range invoice.LineItems {
		set[key(li)] = struct{}{}
	}
	return set
}

func stringSetsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func subscriptionKey(li *domain.LineItem) string { return li.SubscriptionID }
func planKey(li *domain.LineItem) string         { return li.PlanID }

func periodStartKey(li *domain.LineItem) string {
	return li.ServiceStart.UTC().Format(time.RFC3339)
}

func periodEndKey(li *domain.LineItem) string {
	return li.ServiceEnd.UTC().Format(time.RFC3339)
}

func absQuantityKey(li *domain.LineItem) string {
	q := li.Quantity
	if q < 0 {
		q = -q
	}
	return fmt.Sprintf("%d", q)
}
