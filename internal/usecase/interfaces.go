package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/iho/billsync/internal/domain"
)

// ExportLoader pulls the billing-export record sets the reconciliation
// pipeline consumes.
type ExportLoader interface {
	ChargeRows(ctx context.Context) ([]domain.ChargeRow, error)
	Payments(ctx context.Context) ([]domain.PaymentRecord, error)
	Refunds(ctx context.Context) ([]domain.PaymentRecord, error)
	ItemAdjustments(ctx context.Context) ([]domain.ItemAdjustment, error)
	InvoiceAdjustments(ctx context.Context) ([]domain.InvoiceAdjustment, error)
	CreditBalanceAdjustments(ctx context.Context) ([]domain.CreditBalanceAdjustment, error)
	RatePlans(ctx context.Context) ([]domain.RatePlanCharge, error)
}

// LedgerStore persists normalized plans, customers and invoices in the
// revenue-analytics ledger. Upserts return the ledger ids keyed by external
// id so callers can link children to parents.
type LedgerStore interface {
	UpsertPlans(ctx context.Context, plans []domain.Plan) (map[string]uuid.UUID, error)
	UpsertCustomers(ctx context.Context, customers []domain.Customer) (map[string]uuid.UUID, error)
	InsertInvoices(ctx context.Context, customerID uuid.UUID, invoices []*domain.Invoice) error
}

// CheckpointStore remembers per-account snapshot fingerprints so unchanged
// accounts are skipped on the next run.
type CheckpointStore interface {
	Get(ctx context.Context, accountID string) (string, error)
	Set(ctx context.Context, accountID, fingerprint string, ttl time.Duration) error
}

// IDGenerator yields short unique suffixes for derived external ids.
type IDGenerator interface {
	Generate() string
}
