package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iho/billsync/internal/domain"
	"github.com/iho/billsync/internal/infrastructure/metrics"
)

// SyncConfig tunes a sync run.
type SyncConfig struct {
	// Workers bounds concurrent account reconciliation.
	Workers int
	// CheckpointTTL bounds how long an unchanged-account checkpoint is
	// trusted.
	CheckpointTTL time.Duration
	// IncludeAccounts, when non-empty, restricts the run to those accounts.
	IncludeAccounts map[string]struct{}
	// ExcludeAccounts drops accounts known to be unreconcilable.
	ExcludeAccounts map[string]struct{}
	// ExcludeInvoices drops single invoices known to be broken at the source.
	ExcludeInvoices map[string]struct{}
}

// AccountError is one account's reconciliation failure.
type AccountError struct {
	AccountID string
	Err       error
}

func (e AccountError) Error() string {
	return fmt.Sprintf("account %s: %v", e.AccountID, e.Err)
}

func (e AccountError) Unwrap() error { return e.Err }

// SyncReport summarizes a sync run. A run with failed accounts is still a
// completed run; failures are isolated per account.
type SyncReport struct {
	AccountsTotal   int
	AccountsSynced  int
	AccountsSkipped int
	AccountsFailed  int
	InvoicesWritten int
	Errors          []AccountError
}

// SyncUseCase drives a full export-reconcile-write cycle: it pulls the
// billing export, partitions it by account, reconciles accounts concurrently
// and writes the normalized result to the ledger.
type SyncUseCase struct {
	loader      ExportLoader
	ledger      LedgerStore
	checkpoints CheckpointStore
	reconciler  *ReconcileUseCase
	tables      *Tables
	metrics     *metrics.Metrics
	log         zerolog.Logger
	cfg         SyncConfig
}

// NewSyncUseCase creates a SyncUseCase. checkpoints and metrics may be nil.
func NewSyncUseCase(
	loader ExportLoader,
	ledger LedgerStore,
	checkpoints CheckpointStore,
	reconciler *ReconcileUseCase,
	tables *Tables,
	metrics *metrics.Metrics,
	log zerolog.Logger,
	cfg SyncConfig,
) *SyncUseCase {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &SyncUseCase{
		loader:      loader,
		ledger:      ledger,
		checkpoints: checkpoints,
		reconciler:  reconciler,
		tables:      tables,
		metrics:     metrics,
		log:         log,
		cfg:         cfg,
	}
}

// exportSnapshot is one run's worth of raw export data.
type exportSnapshot struct {
	rows       []domain.ChargeRow
	payments   []domain.PaymentRecord
	refunds    []domain.PaymentRecord
	itemAdjs   []domain.ItemAdjustment
	invAdjs    []domain.InvoiceAdjustment
	creditAdjs []domain.CreditBalanceAdjustment
	ratePlans  []domain.RatePlanCharge
}

// Run executes one sync cycle and returns a per-account report. Account
// failures do not abort the run; only load and write-side plumbing errors do.
func (uc *SyncUseCase) Run(ctx context.Context) (*SyncReport, error) {
	start := time.Now()
	report, err := uc.run(ctx)
	if uc.metrics != nil {
		uc.metrics.SyncDuration.Observe(time.Since(start).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
		}
		uc.metrics.SyncRuns.WithLabelValues(status).Inc()
	}
	return report, err
}

func (uc *SyncUseCase) run(ctx context.Context) (*SyncReport, error) {
	snap, err := uc.load(ctx)
	if err != nil {
		return nil, err
	}

	plans, err := TransformPlans(snap.ratePlans)
	if err != nil {
		return nil, fmt.Errorf("transform plans: %w", err)
	}
	planUUIDs, err := uc.ledger.UpsertPlans(ctx, plans)
	if err != nil {
		return nil, fmt.Errorf("upsert plans: %w", err)
	}
	planIDs := make(map[string]string, len(planUUIDs))
	for extID, id := range planUUIDs {
		planIDs[extID] = id.String()
	}

	accounts, customers := uc.partition(snap, planIDs)

	customerIDs, err := uc.ledger.UpsertCustomers(ctx, customers)
	if err != nil {
		return nil, fmt.Errorf("upsert customers: %w", err)
	}

	accountIDs := make([]string, 0, len(accounts))
	for id := range accounts {
		accountIDs = append(accountIDs, id)
	}
	sort.Strings(accountIDs)

	uc.log.Info().
		Int("accounts", len(accountIDs)).
		Int("plans", len(plans)).
		Int("workers", uc.cfg.Workers).
		Msg("starting sync run")

	report := &SyncReport{AccountsTotal: len(accountIDs)}
	var mu sync.Mutex
	var wg sync.WaitGroup
	work := make(chan string)

	for w := 0; w < uc.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for accountID := range work {
				written, skipped, err := uc.syncAccount(ctx, accountID, accounts[accountID], customerIDs)
				mu.Lock()
				switch {
				case err != nil:
					report.AccountsFailed++
					report.Errors = append(report.Errors, AccountError{AccountID: accountID, Err: err})
				case skipped:
					report.AccountsSkipped++
				default:
					report.AccountsSynced++
					report.InvoicesWritten += written
				}
				mu.Unlock()
			}
		}()
	}

	for _, id := range accountIDs {
		select {
		case <-ctx.Done():
			close(work)
			wg.Wait()
			return report, ctx.Err()
		case work <- id:
		}
	}
	close(work)
	wg.Wait()

	sort.Slice(report.Errors, func(i, j int) bool {
		return report.Errors[i].AccountID < report.Errors[j].AccountID
	})

	uc.log.Info().
		Int("synced", report.AccountsSynced).
		Int("skipped", report.AccountsSkipped).
		Int("failed", report.AccountsFailed).
		Int("invoices", report.InvoicesWritten).
		Msg("sync run finished")
	return report, nil
}

func (uc *SyncUseCase) load(ctx context.Context) (*exportSnapshot, error) {
	snap := &exportSnapshot{}
	var err error
	if snap.rows, err = uc.loader.ChargeRows(ctx); err != nil {
		return nil, fmt.Errorf("load charge rows: %w", err)
	}
	if snap.payments, err = uc.loader.Payments(ctx); err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	if snap.refunds, err = uc.loader.Refunds(ctx); err != nil {
		return nil, fmt.Errorf("load refunds: %w", err)
	}
	if snap.itemAdjs, err = uc.loader.ItemAdjustments(ctx); err != nil {
		return nil, fmt.Errorf("load item adjustments: %w", err)
	}
	if snap.invAdjs, err = uc.loader.InvoiceAdjustments(ctx); err != nil {
		return nil, fmt.Errorf("load invoice adjustments: %w", err)
	}
	if snap.creditAdjs, err = uc.loader.CreditBalanceAdjustments(ctx); err != nil {
		return nil, fmt.Errorf("load credit balance adjustments: %w", err)
	}
	if snap.ratePlans, err = uc.loader.RatePlans(ctx); err != nil {
		return nil, fmt.Errorf("load rate plans: %w", err)
	}
	return snap, nil
}

// partition filters the snapshot down to reconcilable rows and groups every
// record set by account. Only posted invoices count, free-tier rows carry no
// revenue, and the include/exclude lists are applied here so excluded
// accounts never reach the workers.
func (uc *SyncUseCase) partition(snap *exportSnapshot, planIDs map[string]string) (map[string]*AccountRecords, []domain.Customer) {
	accounts := make(map[string]*AccountRecords)
	customers := make([]domain.Customer, 0)
	invoiceAccount := make(map[string]string)

	for _, row := range snap.rows {
		if row.Invoice.Status != domain.StatusPosted {
			continue
		}
		if row.AccountingCode == domain.AccountingCodeFree {
			continue
		}
		if _, excluded := uc.cfg.ExcludeInvoices[row.Invoice.Number]; excluded {
			continue
		}
		accountID := row.AccountID()
		if !uc.accountSelected(accountID) {
			continue
		}

		recs, ok := accounts[accountID]
		if !ok {
			recs = &AccountRecords{
				Payments:           make(map[string][]domain.PaymentRecord),
				Refunds:            make(map[string][]domain.PaymentRecord),
				ItemAdjustments:    make(map[string][]domain.ItemAdjustment),
				InvoiceAdjustments: make(map[string][]domain.InvoiceAdjustment),
				CreditAdjustments:  make(map[string][]domain.CreditBalanceAdjustment),
				PlanIDs:            planIDs,
			}
			accounts[accountID] = recs
			customers = append(customers, domain.Customer{
				AccountID: accountID,
				Name:      row.Account.Name,
				Currency:  row.Account.Currency,
			})
		}
		recs.Rows = append(recs.Rows, row)
		invoiceAccount[row.Invoice.Number] = accountID
	}

	// Accounts that never had a positive invoice carry no revenue the ledger
	// cares about; drop them together with their customer records.
	for accountID, recs := range accounts {
		if hasPositiveInvoice(recs.Rows) {
			continue
		}
		uc.log.Debug().Str("account", accountID).Msg("account never had a positive invoice, dropping")
		delete(accounts, accountID)
	}
	kept := customers[:0]
	for _, c := range customers {
		if _, ok := accounts[c.AccountID]; ok {
			kept = append(kept, c)
		}
	}
	customers = kept

	for _, p := range snap.payments {
		if recs := accounts[invoiceAccount[p.InvoiceNumber]]; recs != nil {
			recs.Payments[p.InvoiceNumber] = append(recs.Payments[p.InvoiceNumber], p)
		}
	}
	for _, r := range snap.refunds {
		if r.Status != domain.StatusProcessed {
			continue
		}
		if recs := accounts[invoiceAccount[r.InvoiceNumber]]; recs != nil {
			recs.Refunds[r.InvoiceNumber] = append(recs.Refunds[r.InvoiceNumber], r)
		}
	}
	for _, a := range snap.itemAdjs {
		if a.Status != domain.StatusProcessed {
			continue
		}
		if recs := accounts[invoiceAccount[a.InvoiceNumber]]; recs != nil {
			recs.ItemAdjustments[a.InvoiceNumber] = append(recs.ItemAdjustments[a.InvoiceNumber], a)
		}
	}
	for _, a := range snap.invAdjs {
		if a.Status != domain.StatusProcessed {
			continue
		}
		if recs := accounts[invoiceAccount[a.InvoiceNumber]]; recs != nil {
			recs.InvoiceAdjustments[a.InvoiceNumber] = append(recs.InvoiceAdjustments[a.InvoiceNumber], a)
		}
	}
	for _, cba := range snap.creditAdjs {
		if cba.Status != domain.StatusProcessed {
			continue
		}
		if cba.StandaloneRefund() {
			if recs := accounts[cba.AccountID]; recs != nil {
				recs.PendingRefunds = append(recs.PendingRefunds, cba)
			}
			continue
		}
		if recs := accounts[invoiceAccount[cba.InvoiceNumber]]; recs != nil {
			recs.CreditAdjustments[cba.InvoiceNumber] = append(recs.CreditAdjustments[cba.InvoiceNumber], cba)
		}
	}

	return accounts, customers
}

func hasPositiveInvoice(rows []domain.ChargeRow) bool {
	for _, row := range rows {
		if row.Invoice.Amount.IsPositive() {
			return true
		}
	}
	return false
}

func (uc *SyncUseCase) accountSelected(accountID string) bool {
	if len(uc.cfg.IncludeAccounts) > 0 {
		if _, ok := uc.cfg.IncludeAccounts[accountID]; !ok {
			return false
		}
	}
	_, excluded := uc.cfg.ExcludeAccounts[accountID]
	return !excluded
}

func (uc *SyncUseCase) syncAccount(ctx context.Context, accountID string, recs *AccountRecords, customerIDs map[string]uuid.UUID) (int, bool, error) {
	start := time.Now()
	defer func() {
		if uc.metrics != nil {
			uc.metrics.AccountDuration.Observe(time.Since(start).Seconds())
		}
	}()

	fingerprint := snapshotFingerprint(recs)
	if uc.checkpoints != nil {
		previous, err := uc.checkpoints.Get(ctx, accountID)
		if err != nil {
			uc.log.Warn().Err(err).Str("account", accountID).Msg("checkpoint lookup failed")
		} else if previous == fingerprint {
			uc.log.Debug().Str("account", accountID).Msg("account unchanged, skipping")
			if uc.metrics != nil {
				uc.metrics.AccountsSkipped.Inc()
			}
			return 0, true, nil
		}
	}

	invoices, err := uc.reconciler.Reconcile(accountID, *recs)
	if err != nil {
		if uc.metrics != nil {
			uc.metrics.AccountsFailed.WithLabelValues("reconcile").Inc()
		}
		return 0, false, err
	}

	customerID, ok := customerIDs[accountID]
	if !ok {
		if uc.metrics != nil {
			uc.metrics.AccountsFailed.WithLabelValues("customer").Inc()
		}
		return 0, false, fmt.Errorf("%w: account %s", domain.ErrMissingCustomer, accountID)
	}
	if err := uc.ledger.InsertInvoices(ctx, customerID, invoices); err != nil {
		if uc.metrics != nil {
			uc.metrics.AccountsFailed.WithLabelValues("write").Inc()
		}
		return 0, false, fmt.Errorf("write invoices for account %s: %w", accountID, err)
	}

	if uc.checkpoints != nil {
		if err := uc.checkpoints.Set(ctx, accountID, fingerprint, uc.cfg.CheckpointTTL); err != nil {
			uc.log.Warn().Err(err).Str("account", accountID).Msg("checkpoint store failed")
		}
	}

	if uc.metrics != nil {
		uc.metrics.AccountsProcessed.Inc()
		uc.metrics.InvoicesBuilt.Add(float64(len(invoices)))
		for _, invoice := range invoices {
			uc.metrics.LineItemsBuilt.Add(float64(len(invoice.LineItems)))
			for _, t := range invoice.Transactions {
				uc.metrics.TransactionsSeen.WithLabelValues(string(t.Kind), string(t.Result)).Inc()
			}
		}
	}
	return len(invoices), false, nil
}

// snapshotFingerprint hashes the account's record set. Record order inside
// the export is not stable between runs, so every contributing line is sorted
// before hashing.
func snapshotFingerprint(recs *AccountRecords) string {
	lines := make([]string, 0, len(recs.Rows))
	for _, row := range recs.Rows {
		lines = append(lines, fmt.Sprintf("row|%s|%s|%s|%s|%s",
			row.ItemID, row.Invoice.Number, row.ChargeAmount.String(), row.Quantity.String(), row.Invoice.Balance.String()))
	}
	for number, payments := range recs.Payments {
		for _, p := range payments {
			lines = append(lines, fmt.Sprintf("pay|%s|%s|%s", number, p.Number, p.Status))
		}
	}
	for number, refunds := range recs.Refunds {
		for _, r := range refunds {
			lines = append(lines, fmt.Sprintf("ref|%s|%s|%s", number, r.Number, r.Status))
		}
	}
	for number, adjs := range recs.ItemAdjustments {
		for _, a := range adjs {
			lines = append(lines, fmt.Sprintf("iadj|%s|%s|%s", number, a.ID, a.Amount.String()))
		}
	}
	for number, adjs := range recs.InvoiceAdjustments {
		for _, a := range adjs {
			lines = append(lines, fmt.Sprintf("vadj|%s|%s|%s", number, a.ID, a.Amount.String()))
		}
	}
	for number, adjs := range recs.CreditAdjustments {
		for _, a := range adjs {
			lines = append(lines, fmt.Sprintf("cadj|%s|%s|%s", number, a.ID, a.Amount.String()))
		}
	}
	for _, cba := range recs.PendingRefunds {
		lines = append(lines, fmt.Sprintf("pend|%s|%s", cba.ID, cba.Amount.String()))
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, line := range lines {
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
