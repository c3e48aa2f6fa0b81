package usecase

import (
	"fmt"

	"github.com/iho/billsync/internal/domain"
)

// Classified holds one invoice's charge rows partitioned for processing.
// Charges are ordered the way downstream allocation expects them: proration
// charges (users, then storage) followed by plain charges (users, personal,
// storage). Proration credits are kept apart and consumed by credit matching.
// All rows are copies; classification never aliases the caller's slice.
type Classified struct {
	Charges        []domain.ChargeRow
	UserCredits    []domain.ChargeRow
	StorageCredits []domain.ChargeRow
}

// Classify partitions the charge rows of one invoice by charge name.
// Zero-charge rows are ignored, discount rows are dropped (they surface via
// the discount map instead), and an unrecognized charge name is fatal:
// misclassifying a charge silently would corrupt financial totals.
func (t *Tables) Classify(rows []domain.ChargeRow) (*Classified, error) {
	var (
		users           []domain.ChargeRow
		storage         []domain.ChargeRow
		personal        []domain.ChargeRow
		proratedUsers   []domain.ChargeRow
		proratedStorage []domain.ChargeRow
		cls             Classified
	)

	for _, row := range rows {
		if row.ChargeAmount.IsZero() {
			continue
		}

		category, ok := t.Category(row.ChargeName)
		if !ok {
			return nil, fmt.Errorf("%w: %q on invoice %s", domain.ErrUnknownChargeName, row.ChargeName, row.Invoice.Number)
		}

		switch category {
		case CategoryUsers:
			users = append(users, row)
		case CategoryStorage:
			storage = append(storage, row)
		case CategoryPersonal:
			personal = append(personal, row)
		case CategoryUserProration:
			proratedUsers = append(proratedUsers, row)
		case CategoryStorageProration:
			proratedStorage = append(proratedStorage, row)
		case CategoryUserProrationCredit:
			cls.UserCredits = append(cls.UserCredits, row)
		case CategoryStorageProrationCredit:
			cls.StorageCredits = append(cls.StorageCredits, row)
		case CategoryDiscount:
			// handled by the discount resolver
		}
	}

	cls.Charges = append(cls.Charges, proratedUsers...)
	cls.Charges = append(cls.Charges, proratedStorage...)
	cls.Charges = append(cls.Charges, users...)
	cls.Charges = append(cls.Charges, personal...)
	cls.Charges = append(cls.Charges, storage...)

	return &cls, nil
}
