package usecase

import (
	"fmt"

	"github.com/iho/billsync/internal/domain"
)

// Catalog plan external ids used by the accounting-code mapping.
const (
	PlanProMonthly   = "pro-monthly"
	PlanProQuarterly = "pro-quarterly"
	PlanProAnnual    = "pro-annual"
)

// Category buckets a charge row by its semantic role on the invoice.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryUsers
	CategoryStorage
	CategoryPersonal
	CategoryUserProration
	CategoryUserProrationCredit
	CategoryStorageProration
	CategoryStorageProrationCredit
	CategoryDiscount
)

// Tables is the immutable classification configuration: charge name to
// category, accounting code to catalog plan, and the currency allow-list.
// Built once at startup; never mutated afterwards.
type Tables struct {
	categories map[string]Category
	ratePlans  map[string]string
	currencies map[string]string
}

// NewTables builds a Tables from explicit name sets. Later sets win on
// duplicate names.
func NewTables(categories map[string]Category, ratePlans, currencies map[string]string) *Tables {
	return &Tables{
		categories: categories,
		ratePlans:  ratePlans,
		currencies: currencies,
	}
}

// DefaultTables returns the classification tables for the company's billing
// catalog. These names are company-specific by nature and mirror the charge
// names used in the billing system.
func DefaultTables() *Tables {
	categories := map[string]Category{
		"Users": CategoryUsers,

		"Extra storage: 500 GB":     CategoryStorage,
		"Additional Storage: 500GB": CategoryStorage,
		"Additional Storage: 10GB":  CategoryStorage,
		"Initial 250 GB of storage": CategoryStorage,

		"Personal Plus": CategoryPersonal,

		"Users -- Proration": CategoryUserProration,

		"Users -- Proration Credit":         CategoryUserProrationCredit,
		"Personal Plus -- Proration Credit": CategoryUserProrationCredit,

		"Additional Storage: 10GB -- Proration":  CategoryStorageProration,
		"Extra storage: 500 GB -- Proration":     CategoryStorageProration,
		"Additional Storage: 500GB -- Proration": CategoryStorageProration,

		"Additional Storage: 10GB -- Proration Credit":  CategoryStorageProrationCredit,
		"Extra storage: 500 GB -- Proration Credit":     CategoryStorageProrationCredit,
		"Additional Storage: 500GB -- Proration Credit": CategoryStorageProrationCredit,

		"Initial Discount: 1 Year":         CategoryDiscount,
		"Initial Discount: 1 Month":        CategoryDiscount,
		"Initial Fixed Discount : 1 Month": CategoryDiscount,
		"Initial Fixed Discount : 1 Year":  CategoryDiscount,
	}

	ratePlans := map[string]string{
		"ANNUALFEE":    PlanProAnnual,
		"MONTHLYFEE":   PlanProMonthly,
		"QUARTERLYFEE": PlanProQuarterly,
	}

	currencies := map[string]string{
		"USD": "USD",
		"EUR": "EUR",
	}

	return NewTables(categories, ratePlans, currencies)
}

// Category returns the category for a charge name.
func (t *Tables) Category(chargeName string) (Category, bool) {
	c, ok := t.categories[chargeName]
	return c, ok
}

// Currency maps an export currency code through the allow-list.
func (t *Tables) Currency(code string) (string, error) {
	c, ok := t.currencies[code]
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownCurrency, code)
	}
	return c, nil
}

// PlanKey maps an accounting code to the catalog plan external id, or empty
// when the code is not a recognized rate.
func (t *Tables) PlanKey(accountingCode string) string {
	return t.ratePlans[accountingCode]
}

// CatalogPlans returns the fixed plan catalog referenced by the
// accounting-code mapping.
func CatalogPlans() []domain.Plan {
	return []domain.Plan{
		{ExternalID: PlanProMonthly, Name: "Pro Monthly", IntervalCount: 1, IntervalUnit: "month"},
		{ExternalID: PlanProQuarterly, Name: "Pro Quarterly", IntervalCount: 3, IntervalUnit: "month"},
		{ExternalID: PlanProAnnual, Name: "Pro Annually", IntervalCount: 1, IntervalUnit: "year"},
	}
}

func isProrationCharge(c Category) bool {
	return c == CategoryUserProration || c == CategoryStorageProration
}

func usesUserCreditPool(c Category) bool {
	return c == CategoryUserProration || c == CategoryUsers
}
