package usecase

import (
	"fmt"
	"sort"

	"github.com/iho/billsync/internal/domain"
)

// billingInterval is a normalized plan billing interval.
type billingInterval struct {
	count int
	unit  string
}

// billingIntervals maps billing-export period labels to normalized intervals.
// "Specific Months" and "Specific Weeks" carry their real length in a field
// the export does not include, so they fall back to the shortest interval of
// their unit.
var billingIntervals = map[string]billingInterval{
	"Month":           {1, "month"},
	"Quarter":         {3, "month"},
	"Semi-Annual":     {6, "month"},
	"Annual":          {1, "year"},
	"Eighteen Months": {18, "month"},
	"Two Years":       {2, "year"},
	"Three Years":     {3, "year"},
	"Five Years":      {5, "year"},
	"Specific Months": {1, "month"},
	"Week":            {7, "day"},
	"Specific Weeks":  {7, "day"},
}

// TransformPlans maps exported rate plan charges to normalized plans, one per
// distinct plan id, and merges in the fixed catalog plans. A plan sold with a
// second billing period gets an extra charge-level plan, since plans carry
// exactly one interval. Term-aligned billing periods have no fixed interval
// and are rejected; charges without a billing period carry no recurring
// revenue and are skipped.
func TransformPlans(charges []domain.RatePlanCharge) ([]domain.Plan, error) {
	byID := make(map[string]domain.Plan)
	seenBilling := make(map[string]string)
	for _, c := range charges {
		if c.BillingPeriod == "" {
			continue
		}
		if c.BillingPeriod == "Subscription Term" {
			return nil, fmt.Errorf("%w: plan %s", domain.ErrUnsupportedBillingPeriod, c.PlanID)
		}
		interval, ok := billingIntervals[c.BillingPeriod]
		if !ok {
			return nil, fmt.Errorf("%w: %q on plan %s", domain.ErrUnknownBillingPeriod, c.BillingPeriod, c.PlanID)
		}

		if billing, seen := seenBilling[c.PlanID]; seen {
			if billing != c.BillingPeriod {
				byID[c.ChargeID] = domain.Plan{
					ExternalID:    c.ChargeID,
					Name:          c.PlanName + " - " + c.BillingPeriod,
					IntervalCount: interval.count,
					IntervalUnit:  interval.unit,
				}
			}
			continue
		}
		seenBilling[c.PlanID] = c.BillingPeriod

		byID[c.PlanID] = domain.Plan{
			ExternalID:    c.PlanID,
			Name:          c.PlanName,
			IntervalCount: interval.count,
			IntervalUnit:  interval.unit,
		}
	}
	for _, p := range CatalogPlans() {
		byID[p.ExternalID] = p
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	plans := make([]domain.Plan, 0, len(ids))
	for _, id := range ids {
		plans = append(plans, byID[id])
	}
	return plans, nil
}
