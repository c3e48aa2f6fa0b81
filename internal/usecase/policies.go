package usecase

import (
	"time"

	"github.com/iho/billsync/internal/domain"
)

// Policies holds the business heuristics with documented uncertainty. Both
// rules approximate states the billing system should not produce but does;
// they are injectable so operators can tune or disable them.
type Policies struct {
	// MonthsUnpaidToCancel: an invoice with a positive amount and balance
	// whose due date is at least this many whole months in the past gets its
	// subscriptions cancelled. Under normal circumstances such accounts are
	// dealt with by the sales retention process.
	MonthsUnpaidToCancel int

	// DeletedSubscriptionCancelledAt guesses a cancellation date for a row
	// whose subscription record was deleted upstream. Billing support says
	// this state shouldn't happen; when it does, we must guess something.
	DeletedSubscriptionCancelledAt func(row domain.ChargeRow) *time.Time

	// Now is the clock used by the long-overdue rule.
	Now func() time.Time
}

// DefaultPolicies assumes an unpaid invoice two months overdue means the
// subscription is gone, and a deleted subscription was cancelled when its
// service period ended.
func DefaultPolicies() Policies {
	return Policies{
		MonthsUnpaidToCancel: 2,
		DeletedSubscriptionCancelledAt: func(row domain.ChargeRow) *time.Time {
			end := row.ServiceEnd
			return &end
		},
		Now: func() time.Time { return time.Now().UTC() },
	}
}

// subscriptionCancelledAt returns the cancellation date for a row: the
// subscription's own cancel date if present, the deleted-subscription guess
// when the subscription record is gone, nil otherwise.
func (p Policies) subscriptionCancelledAt(row domain.ChargeRow) *time.Time {
	if row.Subscription.CancelledAt != nil {
		at := *row.Subscription.CancelledAt
		return &at
	}
	if row.Subscription.Name == "" && p.DeletedSubscriptionCancelledAt != nil {
		return p.DeletedSubscriptionCancelledAt(row)
	}
	return nil
}

// wholeMonthsSince counts whole calendar months elapsed from past to now.
func wholeMonthsSince(now, past time.Time) int {
	months := (now.Year()-past.Year())*12 + int(now.Month()) - int(past.Month())
	if now.Day() < past.Day() {
		months--
	}
	return months
}
