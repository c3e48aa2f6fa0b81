package usecase

import (
	"github.com/shopspring/decimal"

	"github.com/iho/billsync/internal/domain"
)

// signedAmount applies the export's sign convention in one place: source
// amounts are stored positive and reduce the net unless the record's type
// matches the given positive type.
func signedAmount(amount decimal.Decimal, typ, positive string) decimal.Decimal {
	if typ == positive {
		return amount
	}
	return amount.Neg()
}

// ResolveDiscounts maps item-level discount rows to the item they apply to.
// Discounts live in the export as regular invoice items carrying the id of
// their target item; the stored amount is the discount's own (negative)
// charge amount. Missing input resolves to an empty map, not an error.
func (t *Tables) ResolveDiscounts(rows []domain.ChargeRow) map[string]decimal.Decimal {
	discounts := make(map[string]decimal.Decimal)
	for _, row := range rows {
		if c, ok := t.Category(row.ChargeName); !ok || c != CategoryDiscount {
			continue
		}
		discounts[row.AppliedToItemID] = discounts[row.AppliedToItemID].Add(row.ChargeAmount)
	}
	return discounts
}

// ResolveItemAdjustments builds the per-item adjustment map and the total of
// all item adjustments. The total feeds the invoice-wide reconciliation
// check, so it covers adjustments whether or not their item appears.
func ResolveItemAdjustments(adjustments []domain.ItemAdjustment) (map[string]decimal.Decimal, decimal.Decimal) {
	byItem := make(map[string]decimal.Decimal)
	total := decimal.Zero
	for _, adj := range adjustments {
		amount := signedAmount(adj.Amount, adj.Type, domain.AdjustmentTypeCharge)
		total = total.Add(amount)
		byItem[adj.ItemID] = byItem[adj.ItemID].Add(amount)
	}
	return byItem, total
}

// ResolveInvoiceAdjustments sums invoice-level adjustments; they have no item
// target and are allocated greedily across line items later.
func ResolveInvoiceAdjustments(adjustments []domain.InvoiceAdjustment) decimal.Decimal {
	total := decimal.Zero
	for _, adj := range adjustments {
		total = total.Add(signedAmount(adj.Amount, adj.Type, domain.AdjustmentTypeCharge))
	}
	return total
}

// ResolveCreditAdjustments sums credit-balance adjustments: Increase adds,
// anything else subtracts.
func ResolveCreditAdjustments(adjustments []domain.CreditBalanceAdjustment) decimal.Decimal {
	total := decimal.Zero
	for _, adj := range adjustments {
		total = total.Add(signedAmount(adj.Amount, adj.Type, domain.CreditTypeIncrease))
	}
	return total
}
