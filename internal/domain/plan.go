package domain

// Plan is a billing plan as the destination ledger understands it:
// an external id plus a billing interval expressed as count and unit.
type Plan struct {
	ExternalID    string
	Name          string
	IntervalCount int
	IntervalUnit  string
}

// RatePlanCharge is a product rate plan charge row from the billing export,
// joined to its rate plan. BillingPeriod is the export's textual period name.
type RatePlanCharge struct {
	PlanID        string
	PlanName      string
	ChargeID      string
	BillingPeriod string
}

// Customer is the ledger identity of one account, taken from the pre-joined
// account fields of the account's first charge row.
type Customer struct {
	AccountID string
	Name      string
	Currency  string
}
