package ops

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/iho/billsync/internal/infrastructure/config"
)

func TestHealthzAndMetrics(t *testing.T) {
	cfg := &config.Config{HTTPPort: "0"}
	server := NewServer(cfg, nil, nil)

	ts := httptest.NewServer(server.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", resp.StatusCode)
	}

	resp2, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from metrics, got %d", resp2.StatusCode)
	}
}
