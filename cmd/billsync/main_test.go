package main

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/iho/billsync/internal/domain"
)

func TestPrintingLedgerDeterministicIDs(t *testing.T) {
	ledger := &printingLedger{out: os.Stdout}
	ctx := context.Background()

	plans := []domain.Plan{{ExternalID: "rp-1", Name: "Pro - Monthly"}}

	first, err := ledger.UpsertPlans(ctx, plans)
	if err != nil {
		t.Fatalf("UpsertPlans failed: %v", err)
	}
	second, err := ledger.UpsertPlans(ctx, plans)
	if err != nil {
		t.Fatalf("UpsertPlans failed: %v", err)
	}
	if first["rp-1"] != second["rp-1"] {
		t.Fatalf("expected stable plan id, got %s then %s", first["rp-1"], second["rp-1"])
	}

	customers, err := ledger.UpsertCustomers(ctx, []domain.Customer{{AccountID: "crm-1"}})
	if err != nil {
		t.Fatalf("UpsertCustomers failed: %v", err)
	}
	if customers["crm-1"] == first["rp-1"] {
		t.Fatalf("expected distinct namespaces for customers and plans")
	}
}

func TestPrintingLedgerInsertInvoices(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "console-*.json")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer f.Close()

	ledger := &printingLedger{out: f}
	customers, err := ledger.UpsertCustomers(context.Background(), []domain.Customer{{AccountID: "crm-1"}})
	if err != nil {
		t.Fatalf("UpsertCustomers failed: %v", err)
	}

	invoices := []*domain.Invoice{{ExternalID: "INV-1", Currency: "USD"}}
	if err := ledger.InsertInvoices(context.Background(), customers["crm-1"], invoices); err != nil {
		t.Fatalf("InsertInvoices failed: %v", err)
	}

	data, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "INV-1") {
		t.Fatalf("expected invoice number in output, got %q", out)
	}
	if !strings.Contains(out, customers["crm-1"].String()) {
		t.Fatalf("expected customer id in output, got %q", out)
	}
}
