package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iho/billsync/internal/domain"
)

// MockExportLoader is a mock implementation of ExportLoader backed by fixed
// record slices.
type MockExportLoader struct {
	Rows       []domain.ChargeRow
	Pays       []domain.PaymentRecord
	Refs       []domain.PaymentRecord
	ItemAdjs   []domain.ItemAdjustment
	InvAdjs    []domain.InvoiceAdjustment
	CreditAdjs []domain.CreditBalanceAdjustment
	Plans      []domain.RatePlanCharge

	ChargeRowsFunc               func(ctx context.Context) ([]domain.ChargeRow, error)
	PaymentsFunc                 func(ctx context.Context) ([]domain.PaymentRecord, error)
	RefundsFunc                  func(ctx context.Context) ([]domain.PaymentRecord, error)
	ItemAdjustmentsFunc          func(ctx context.Context) ([]domain.ItemAdjustment, error)
	InvoiceAdjustmentsFunc       func(ctx context.Context) ([]domain.InvoiceAdjustment, error)
	CreditBalanceAdjustmentsFunc func(ctx context.Context) ([]domain.CreditBalanceAdjustment, error)
	RatePlansFunc                func(ctx context.Context) ([]domain.RatePlanCharge, error)
}

func (m *MockExportLoader) ChargeRows(ctx context.Context) ([]domain.ChargeRow, error) {
	if m.ChargeRowsFunc != nil {
		return m.ChargeRowsFunc(ctx)
	}
	return m.Rows, nil
}

func (m *MockExportLoader) Payments(ctx context.Context) ([]domain.PaymentRecord, error) {
	if m.PaymentsFunc != nil {
		return m.PaymentsFunc(ctx)
	}
	return m.Pays, nil
}

func (m *MockExportLoader) Refunds(ctx context.Context) ([]domain.PaymentRecord, error) {
	if m.RefundsFunc != nil {
		return m.RefundsFunc(ctx)
	}
	return m.Refs, nil
}

func (m *MockExportLoader) ItemAdjustments(ctx context.Context) ([]domain.ItemAdjustment, error) {
	if m.ItemAdjustmentsFunc != nil {
		return m.ItemAdjustmentsFunc(ctx)
	}
	return m.ItemAdjs, nil
}

func (m *MockExportLoader) InvoiceAdjustments(ctx context.Context) ([]domain.InvoiceAdjustment, error) {
	if m.InvoiceAdjustmentsFunc != nil {
		return m.InvoiceAdjustmentsFunc(ctx)
	}
	return m.InvAdjs, nil
}

func (m *MockExportLoader) CreditBalanceAdjustments(ctx context.Context) ([]domain.CreditBalanceAdjustment, error) {
	if m.CreditBalanceAdjustmentsFunc != nil {
		return m.CreditBalanceAdjustmentsFunc(ctx)
	}
	return m.CreditAdjs, nil
}

func (m *MockExportLoader) RatePlans(ctx context.Context) ([]domain.RatePlanCharge, error) {
	if m.RatePlansFunc != nil {
		return m.RatePlansFunc(ctx)
	}
	return m.Plans, nil
}

// MockLedgerStore is a mock implementation of LedgerStore. It assigns
// deterministic ids and records every written invoice set.
type MockLedgerStore struct {
	mu            sync.Mutex
	planIDs       map[string]uuid.UUID
	custIDs       map[string]uuid.UUID
	Written       map[uuid.UUID][]*domain.Invoice
	PlansSeen     []domain.Plan
	CustomersSeen []domain.Customer

	UpsertPlansFunc     func(ctx context.Context, plans []domain.Plan) (map[string]uuid.UUID, error)
	UpsertCustomersFunc func(ctx context.Context, customers []domain.Customer) (map[string]uuid.UUID, error)
	InsertInvoicesFunc  func(ctx context.Context, customerID uuid.UUID, invoices []*domain.Invoice) error
}

func NewMockLedgerStore() *MockLedgerStore {
	return &MockLedgerStore{
		planIDs: make(map[string]uuid.UUID),
		custIDs: make(map[string]uuid.UUID),
		Written: make(map[uuid.UUID][]*domain.Invoice),
	}
}

func (m *MockLedgerStore) UpsertPlans(ctx context.Context, plans []domain.Plan) (map[string]uuid.UUID, error) {
	if m.UpsertPlansFunc != nil {
		return m.UpsertPlansFunc(ctx, plans)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PlansSeen = append(m.PlansSeen, plans...)
	out := make(map[string]uuid.UUID, len(plans))
	for _, p := range plans {
		id, ok := m.planIDs[p.ExternalID]
		if !ok {
			id = uuid.New()
			m.planIDs[p.ExternalID] = id
		}
		out[p.ExternalID] = id
	}
	return out, nil
}

func (m *MockLedgerStore) UpsertCustomers(ctx context.Context, customers []domain.Customer) (map[string]uuid.UUID, error) {
	if m.UpsertCustomersFunc != nil {
		return m.UpsertCustomersFunc(ctx, customers)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CustomersSeen = append(m.CustomersSeen, customers...)
	out := make(map[string]uuid.UUID, len(customers))
	for _, c := range customers {
		id, ok := m.custIDs[c.AccountID]
		if !ok {
			id = uuid.New()
			m.custIDs[c.AccountID] = id
		}
		out[c.AccountID] = id
	}
	return out, nil
}

func (m *MockLedgerStore) InsertInvoices(ctx context.Context, customerID uuid.UUID, invoices []*domain.Invoice) error {
	if m.InsertInvoicesFunc != nil {
		return m.InsertInvoicesFunc(ctx, customerID, invoices)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Written[customerID] = append(m.Written[customerID], invoices...)
	return nil
}

// MockCheckpointStore is an in-memory mock implementation of CheckpointStore.
type MockCheckpointStore struct {
	mu     sync.Mutex
	values map[string]string

	GetFunc func(ctx context.Context, accountID string) (string, error)
	SetFunc func(ctx context.Context, accountID, fingerprint string, ttl time.Duration) error
}

func NewMockCheckpointStore() *MockCheckpointStore {
	return &MockCheckpointStore{values: make(map[string]string)}
}

func (m *MockCheckpointStore) Get(ctx context.Context, accountID string) (string, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, accountID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[accountID], nil
}

func (m *MockCheckpointStore) Set(ctx context.Context, accountID, fingerprint string, ttl time.Duration) error {
	if m.SetFunc != nil {
		return m.SetFunc(ctx, accountID, fingerprint, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[accountID] = fingerprint
	return nil
}

// MockIDGenerator is a mock implementation of IDGenerator yielding a
// predictable sequence.
type MockIDGenerator struct {
	mu sync.Mutex
	n  int

	GenerateFunc func() string
}

func (m *MockIDGenerator) Generate() string {
	if m.GenerateFunc != nil {
		return m.GenerateFunc()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	return fmt.Sprintf("gen%04d", m.n)
}
