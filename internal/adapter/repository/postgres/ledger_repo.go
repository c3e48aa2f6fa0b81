package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/billsync/internal/domain"
	"github.com/iho/billsync/internal/infrastructure/metrics"
)

// LedgerRepository implements usecase.LedgerStore on PostgreSQL. Writes are
// idempotent: plans and customers are keyed by external id, and an invoice is
// rewritten in full when it already exists.
type LedgerRepository struct {
	pool    *pgxpool.Pool
	retrier *Retrier
	metrics *metrics.Metrics
}

// NewLedgerRepository creates a new LedgerRepository. metrics may be nil.
func NewLedgerRepository(pool *pgxpool.Pool, retrier *Retrier, m *metrics.Metrics) *LedgerRepository {
	return &LedgerRepository{pool: pool, retrier: retrier, metrics: m}
}

// UpsertPlans writes the plan catalog and returns ledger ids by external id.
func (r *LedgerRepository) UpsertPlans(ctx context.Context, plans []domain.Plan) (map[string]uuid.UUID, error) {
	const q = `
		INSERT INTO plans (external_id, name, interval_count, interval_unit)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id) DO UPDATE
		SET name = EXCLUDED.name,
		    interval_count = EXCLUDED.interval_count,
		    interval_unit = EXCLUDED.interval_unit,
		    updated_at = now()
		RETURNING id`

	ids := make(map[string]uuid.UUID, len(plans))
	err := r.withTx(ctx, "upsert_plans", "plans", func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, p := range plans {
			p := p
			batch.Queue(q, p.ExternalID, p.Name, p.IntervalCount, p.IntervalUnit).QueryRow(func(row pgx.Row) error {
				var id uuid.UUID
				if err := row.Scan(&id); err != nil {
					return err
				}
				ids[p.ExternalID] = id
				return nil
			})
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return nil, fmt.Errorf("upsert plans: %w", err)
	}
	return ids, nil
}

// UpsertCustomers writes customers and returns ledger ids by account id.
func (r *LedgerRepository) UpsertCustomers(ctx context.Context, customers []domain.Customer) (map[string]uuid.UUID, error) {
	const q = `
		INSERT INTO customers (account_id, name, currency)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id) DO UPDATE
		SET name = EXCLUDED.name,
		    currency = EXCLUDED.currency,
		    updated_at = now()
		RETURNING id`

	ids := make(map[string]uuid.UUID, len(customers))
	err := r.withTx(ctx, "upsert_customers", "customers", func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, c := range customers {
			c := c
			batch.Queue(q, c.AccountID, c.Name, c.Currency).QueryRow(func(row pgx.Row) error {
				var id uuid.UUID
				if err := row.Scan(&id); err != nil {
					return err
				}
				ids[c.AccountID] = id
				return nil
			})
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return nil, fmt.Errorf("upsert customers: %w", err)
	}
	return ids, nil
}

// InsertInvoices writes one customer's reconciled invoices. An existing
// invoice is replaced wholesale so a re-run converges on the current
// reconciliation result.
func (r *LedgerRepository) InsertInvoices(ctx context.Context, customerID uuid.UUID, invoices []*domain.Invoice) error {
	const upsertInvoice = `
		INSERT INTO invoices (customer_id, external_id, posted_at, due_at, currency)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_id) DO UPDATE
		SET customer_id = EXCLUDED.customer_id,
		    posted_at = EXCLUDED.posted_at,
		    due_at = EXCLUDED.due_at,
		    currency = EXCLUDED.currency
		RETURNING id`
	const insertItem = `
		INSERT INTO line_items (invoice_id, external_id, kind, subscription_id, plan_id,
			service_start, service_end, amount_cents, discount_cents, tax_cents,
			quantity, prorated, cancelled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	const insertTxn = `
		INSERT INTO transactions (invoice_id, external_id, kind, result, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`

	err := r.withTx(ctx, "insert_invoices", "invoices", func(tx pgx.Tx) error {
		for _, invoice := range invoices {
			var invoiceID uuid.UUID
			err := tx.QueryRow(ctx, upsertInvoice,
				customerID, invoice.ExternalID, invoice.PostedAt, invoice.DueAt, invoice.Currency,
			).Scan(&invoiceID)
			if err != nil {
				return fmt.Errorf("invoice %s: %w", invoice.ExternalID, err)
			}

			if _, err := tx.Exec(ctx, `DELETE FROM line_items WHERE invoice_id = $1`, invoiceID); err != nil {
				return fmt.Errorf("invoice %s: clear line items: %w", invoice.ExternalID, err)
			}
			if _, err := tx.Exec(ctx, `DELETE FROM transactions WHERE invoice_id = $1`, invoiceID); err != nil {
				return fmt.Errorf("invoice %s: clear transactions: %w", invoice.ExternalID, err)
			}

			batch := &pgx.Batch{}
			for _, li := range invoice.LineItems {
				batch.Queue(insertItem,
					invoiceID, li.ExternalID, li.Kind, li.SubscriptionID, li.PlanID,
					li.ServiceStart, li.ServiceEnd, li.AmountCents, li.DiscountCents, li.TaxCents,
					li.Quantity, li.Prorated, li.CancelledAt)
			}
			for _, t := range invoice.Transactions {
				batch.Queue(insertTxn, invoiceID, t.ExternalID, string(t.Kind), string(t.Result), t.Date)
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("invoice %s: %w", invoice.ExternalID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert invoices: %w", err)
	}
	return nil
}

func (r *LedgerRepository) withTx(ctx context.Context, operation, table string, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	err := r.retrier.Retry(ctx, func() error {
		return pgx.BeginFunc(ctx, r.pool, fn)
	})
	if r.metrics != nil {
		r.metrics.DBQueries.WithLabelValues(operation, table).Inc()
		r.metrics.DBDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
		r.metrics.DBConnections.Set(float64(r.pool.Stat().TotalConns()))
		if err != nil {
			r.metrics.DBErrors.WithLabelValues(operation).Inc()
		}
	}
	return err
}
