package zuora

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// newTestServer fakes the AQuA submit/poll/download cycle, answering every
// query with the given CSV payload.
func newTestServer(t *testing.T, csv string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /apps/api/batch-query/", func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := r.BasicAuth()
		if !ok || user != "user" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "job-1", "status": "pending"})
	})
	mux.HandleFunc("GET /apps/api/batch-query/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "job-1",
			"status":  "completed",
			"batches": []map[string]any{{"fileId": "file-1"}},
		})
	})
	mux.HandleFunc("GET /apps/api/file/file-1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(csv))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestLoader(t *testing.T, csv string) *Loader {
	t.Helper()

	server := newTestServer(t, csv)
	client := NewClient(Config{
		BaseURL:      server.URL,
		Username:     "user",
		Password:     "pass",
		PollInterval: time.Millisecond,
		MaxWait:      time.Second,
		RetryMax:     time.Second,
	}, zerolog.Nop(), nil)
	return NewLoader(client)
}

func TestLoaderChargeRows(t *testing.T) {
	csv := strings.Join([]string{
		"Id,ChargeName,ChargeAmount,Quantity,ServiceStartDate,ServiceEndDate,AccountingCode,AppliedToInvoiceItemId,TaxAmount,UOM," +
			"Account.AccountNumber,Account.Currency,Account.Name,Account.SamepageId__c,Account.Status," +
			"Invoice.Amount,Invoice.Balance,Invoice.DueDate,Invoice.InvoiceNumber,Invoice.PostedDate,Invoice.Status," +
			"Subscription.CancelledDate,Subscription.Id,Subscription.Name",
		"item-1,Users,49.90,5,2017-01-01,2017-01-31,MONTHLYFEE,,0,Each," +
			"A-001,USD,Acme,crm-1,Active," +
			"49.90,0,2017-01-15,INV-1,2017-01-01T00:00:00+00:00,Posted," +
			",sub-id-1,sub-1",
	}, "\n")

	loader := newTestLoader(t, csv)

	rows, err := loader.ChargeRows(context.Background())
	if err != nil {
		t.Fatalf("ChargeRows failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}

	row := rows[0]
	if row.ItemID != "item-1" || row.ChargeName != "Users" {
		t.Fatalf("unexpected row identity: %+v", row)
	}
	if row.ChargeAmount.String() != "49.9" {
		t.Fatalf("expected amount 49.9, got %s", row.ChargeAmount)
	}
	if row.AccountID() != "crm-1" {
		t.Fatalf("expected CRM id grouping, got %s", row.AccountID())
	}
	if row.Invoice.Number != "INV-1" || row.Invoice.Status != "Posted" {
		t.Fatalf("unexpected invoice ref: %+v", row.Invoice)
	}
	if row.Invoice.PostedAt == nil || row.Invoice.DueAt == nil {
		t.Fatalf("expected posted and due dates to be set")
	}
	if row.Subscription.Name != "sub-1" || row.Subscription.CancelledAt != nil {
		t.Fatalf("unexpected subscription ref: %+v", row.Subscription)
	}
}

func TestLoaderCreditBalanceAdjustments(t *testing.T) {
	csv := strings.Join([]string{
		"Amount,CreatedDate,Id,Status,Type," +
			"Account.AccountNumber,Account.SamepageId__c," +
			"Invoice.InvoiceNumber," +
			"Refund.Amount,Refund.RefundDate,Refund.RefundNumber,Refund.Status",
		"25.00,2017-02-01T12:00:00+00:00,cba-1,Processed,Decrease," +
			"A-001,," +
			"," +
			"25.00,2017-02-01,R-001,Processed",
	}, "\n")

	loader := newTestLoader(t, csv)

	adjs, err := loader.CreditBalanceAdjustments(context.Background())
	if err != nil {
		t.Fatalf("CreditBalanceAdjustments failed: %v", err)
	}
	if len(adjs) != 1 {
		t.Fatalf("expected 1 adjustment, got %d", len(adjs))
	}

	cba := adjs[0]
	if cba.AccountID != "A-001" {
		t.Fatalf("expected account number fallback, got %q", cba.AccountID)
	}
	if !cba.StandaloneRefund() {
		t.Fatalf("expected standalone refund: %+v", cba)
	}
	if cba.CreatedAt.IsZero() {
		t.Fatalf("expected created date to be parsed")
	}
}

func TestClientRejectedJob(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /apps/api/batch-query/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"errorCode": "90005", "message": "invalid query"})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := NewClient(Config{
		BaseURL:      server.URL,
		Username:     "user",
		Password:     "pass",
		PollInterval: time.Millisecond,
		MaxWait:      time.Second,
		RetryMax:     time.Second,
	}, zerolog.Nop(), nil)

	if _, err := client.Export(context.Background(), "bad", "select Nothing from Nowhere"); err == nil {
		t.Fatalf("expected error for rejected job")
	}
}
