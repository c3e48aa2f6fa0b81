package zuora

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/iho/billsync/internal/infrastructure/metrics"
)

const (
	batchQueryPath = "/apps/api/batch-query/"
	filePath       = "/apps/api/file/"

	jobCompleted = "completed"
	jobAborted   = "aborted"
	jobCancelled = "cancelled"
)

// Config holds AQuA client settings.
type Config struct {
	BaseURL      string
	Username     string
	Password     string
	PollInterval time.Duration
	MaxWait      time.Duration
	RetryMax     time.Duration
}

// Client runs ZOQL exports against the billing AQuA API: submit a batch
// query, poll the job until it completes, download the produced CSV file.
// Transient transport failures are retried with exponential backoff.
type Client struct {
	http    *http.Client
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewClient creates a new AQuA client. metrics may be nil.
func NewClient(cfg Config, log zerolog.Logger, m *metrics.Metrics) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 15 * time.Minute
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 2 * time.Minute
	}
	return &Client{
		http:    &http.Client{Timeout: 2 * time.Minute},
		cfg:     cfg,
		log:     log,
		metrics: m,
	}
}

type batchQueryRequest struct {
	Format         string       `json:"format"`
	Name           string       `json:"name"`
	UseQueryLabels bool         `json:"useQueryLabels"`
	DateTimeUTC    bool         `json:"dateTimeUtc"`
	Queries        []batchQuery `json:"queries"`
}

type batchQuery struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Query string `json:"query"`
}

type batchJob struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	ErrorCode string     `json:"errorCode"`
	Message   string     `json:"message"`
	Batches   []jobBatch `json:"batches"`
}

type jobBatch struct {
	FileID  string `json:"fileId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Export runs one ZOQL query to completion and returns the raw CSV bytes.
func (c *Client) Export(ctx context.Context, name, query string) ([]byte, error) {
	start := time.Now()
	data, err := c.export(ctx, name, query)
	if c.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.metrics.ExportRequests.WithLabelValues(name, status).Inc()
		c.metrics.ExportDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", name, err)
	}
	return data, nil
}

func (c *Client) export(ctx context.Context, name, query string) ([]byte, error) {
	job, err := c.submit(ctx, name, query)
	if err != nil {
		return nil, err
	}

	fileID, err := c.pollUntilReady(ctx, job)
	if err != nil {
		return nil, err
	}

	c.log.Info().Str("export", name).Str("file", fileID).Msg("downloading export file")
	return c.download(ctx, fileID)
}

func (c *Client) submit(ctx context.Context, name, query string) (*batchJob, error) {
	body := batchQueryRequest{
		Format:         "csv",
		Name:           name,
		UseQueryLabels: true,
		DateTimeUTC:    true,
		Queries: []batchQuery{
			{Name: name, Type: "zoqlexport", Query: query},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	var job batchJob
	err = c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+batchQueryPath, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		return c.doJSON(req, &job)
	})
	if err != nil {
		return nil, fmt.Errorf("submit query: %w", err)
	}
	if job.ID == "" || job.ErrorCode != "" {
		return nil, fmt.Errorf("submit query: job rejected: %s %s", job.ErrorCode, job.Message)
	}
	return &job, nil
}

func (c *Client) pollUntilReady(ctx context.Context, job *batchJob) (string, error) {
	deadline := time.Now().Add(c.cfg.MaxWait)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("job %s: timed out after %s", job.ID, c.cfg.MaxWait)
		}

		var current batchJob
		err := c.retry(ctx, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+batchQueryPath+"jobs/"+job.ID, nil)
			if err != nil {
				return backoff.Permanent(err)
			}
			return c.doJSON(req, &current)
		})
		if err != nil {
			return "", fmt.Errorf("poll job %s: %w", job.ID, err)
		}

		c.log.Debug().Str("job", job.ID).Str("status", current.Status).Msg("polling export job")

		switch current.Status {
		case jobCompleted:
			if len(current.Batches) != 1 {
				return "", fmt.Errorf("job %s: expected one result batch, got %d", job.ID, len(current.Batches))
			}
			return current.Batches[0].FileID, nil
		case jobAborted, jobCancelled:
			return "", fmt.Errorf("job %s: %s: %s", job.ID, current.Status, current.Message)
		}
		// pending or executing, keep polling
	}
}

func (c *Client) download(ctx context.Context, fileID string) ([]byte, error) {
	var data []byte
	err := c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+filePath+fileID, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return statusError(resp)
		}
		data, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", fileID, err)
	}
	return data, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) retry(ctx context.Context, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.cfg.RetryMax

	return backoff.Retry(func() error {
		err := operation()
		if err != nil {
			var perm *backoff.PermanentError
			if !errors.As(err, &perm) {
				if c.metrics != nil {
					c.metrics.ExportRetries.Inc()
				}
				c.log.Warn().Err(err).Msg("export request failed, retrying")
			}
		}
		return err
	}, backoff.WithContext(b, ctx))
}

// statusError turns a non-200 response into an error. Client errors other
// than 429 will not succeed on retry.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}
