// Package client is the typed REST client for the alert analysis backend.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aegisshield/discovery-console/internal/config"
	"github.com/aegisshield/discovery-console/internal/metrics"
	"github.com/aegisshield/discovery-console/internal/models"
)

// APIError is a non-2xx backend response
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Detail)
}

// NotFound reports whether the backend answered 404
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// ArtifactFile is one file of an alert artifact upload
type ArtifactFile struct {
	Name   string
	Reader io.Reader
}

// Client talks to the analysis backend
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	metrics *metrics.Collector
	logger  *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithMetrics records every request on the collector
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a backend client
func New(cfg config.BackendConfig, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(cfg.TimeoutDuration()).
			SetRetryCount(cfg.MaxRetries).
			SetHeader("Accept", "application/json"),
		logger: logger,
	}

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	for _, opt := range opts {
		opt(c)
	}

	c.http.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if c.limiter == nil {
			return nil
		}
		return c.limiter.Wait(r.Context())
	})
	c.http.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		c.metrics.RecordBackendRequest(resp.Request.Method, resp.StatusCode(), resp.Time())
		return nil
	})

	return c
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx)
}

// do executes the request and converts transport and HTTP failures
func (c *Client) do(req *resty.Request, method, path string) error {
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr := &APIError{StatusCode: resp.StatusCode(), Detail: errorDetail(resp.Body(), resp.StatusCode())}
		c.logger.Debug("Backend request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", apiErr.StatusCode),
			zap.String("detail", apiErr.Detail))
		return apiErr
	}
	return nil
}

// errorDetail extracts the backend "detail" field. Validation errors carry a
// list of objects with "msg" fields.
func errorDetail(body []byte, status int) string {
	detail := gjson.GetBytes(body, "detail")
	switch {
	case detail.IsArray():
		var msgs []string
		for _, m := range detail.Get("#.msg").Array() {
			msgs = append(msgs, m.String())
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	case detail.Exists() && detail.String() != "":
		return detail.String()
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "request failed"
}

// ListFindings returns findings matching the filter
func (c *Client) ListFindings(ctx context.Context, filter models.FindingFilter) ([]models.Finding, error) {
	var findings []models.Finding
	req := c.request(ctx).SetQueryParams(filter.Params()).SetResult(&findings)
	if err := c.do(req, resty.MethodGet, "/analysis/findings"); err != nil {
		return nil, err
	}
	return findings, nil
}

// GetDashboardKPIs returns the findings dashboard KPIs
func (c *Client) GetDashboardKPIs(ctx context.Context) (*models.DashboardKPIs, error) {
	var kpis models.DashboardKPIs
	if err := c.do(c.request(ctx).SetResult(&kpis), resty.MethodGet, "/dashboard/kpis"); err != nil {
		return nil, err
	}
	return &kpis, nil
}

// UploadFile uploads a data file for findings analysis
func (c *Client) UploadFile(ctx context.Context, name string, r io.Reader) (*models.DataSource, error) {
	var ds models.DataSource
	req := c.request(ctx).SetFileReader("file", name, r).SetResult(&ds)
	if err := c.do(req, resty.MethodPost, "/ingestion/upload"); err != nil {
		return nil, err
	}
	return &ds, nil
}

// UploadArtifacts uploads the artifact files of a single alert
func (c *Client) UploadArtifacts(ctx context.Context, files []ArtifactFile) (*models.ArtifactUploadResponse, error) {
	var out models.ArtifactUploadResponse
	req := c.request(ctx).SetResult(&out)
	for _, f := range files {
		req.SetFileReader("files", f.Name, f.Reader)
	}
	if err := c.do(req, resty.MethodPost, "/ingestion/upload-artifacts"); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDataSources returns uploaded data sources
func (c *Client) ListDataSources(ctx context.Context) ([]models.DataSource, error) {
	var sources []models.DataSource
	if err := c.do(c.request(ctx).SetResult(&sources), resty.MethodGet, "/ingestion/data-sources"); err != nil {
		return nil, err
	}
	return sources, nil
}

// ListAnalysisRuns returns previous analysis runs
func (c *Client) ListAnalysisRuns(ctx context.Context) ([]models.AnalysisRun, error) {
	var runs []models.AnalysisRun
	if err := c.do(c.request(ctx).SetResult(&runs), resty.MethodGet, "/analysis/runs"); err != nil {
		return nil, err
	}
	return runs, nil
}

// RunAnalysis starts findings analysis over a data source
func (c *Client) RunAnalysis(ctx context.Context, dataSourceID int64) (*models.AnalysisRun, error) {
	var run models.AnalysisRun
	req := c.request(ctx).
		SetBody(map[string]int64{"data_source_id": dataSourceID}).
		SetResult(&run)
	if err := c.do(req, resty.MethodPost, "/analysis/run"); err != nil {
		return nil, err
	}
	return &run, nil
}

// ScanFolders lists alert folders below a base path on the backend host
func (c *Client) ScanFolders(ctx context.Context, in models.ScanFoldersRequest) (*models.ScanFoldersResponse, error) {
	var out models.ScanFoldersResponse
	req := c.request(ctx).SetBody(in).SetResult(&out)
	if err := c.do(req, resty.MethodPost, "/content-analysis/scan-folders"); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeAndSave analyzes one alert directory synchronously
func (c *Client) AnalyzeAndSave(ctx context.Context, in models.AnalyzeAndSaveRequest) (*models.AnalyzeAndSaveResponse, error) {
	var out models.AnalyzeAndSaveResponse
	req := c.request(ctx).SetBody(in).SetResult(&out)
	if err := c.do(req, resty.MethodPost, "/content-analysis/analyze-and-save"); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeBatch starts a background batch analysis job
func (c *Client) AnalyzeBatch(ctx context.Context, in models.AnalyzeBatchRequest) (*models.BatchJobResponse, error) {
	var out models.BatchJobResponse
	req := c.request(ctx).SetBody(in).SetResult(&out)
	if err := c.do(req, resty.MethodPost, "/content-analysis/analyze-batch"); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBatchStatus polls a batch job
func (c *Client) GetBatchStatus(ctx context.Context, jobID string) (*models.BatchStatusResponse, error) {
	var out models.BatchStatusResponse
	req := c.request(ctx).SetPathParam("job_id", jobID).SetResult(&out)
	if err := c.do(req, resty.MethodGet, "/content-analysis/batch-status/{job_id}"); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAlertDashboardKPIs returns the alert dashboard KPIs
func (c *Client) GetAlertDashboardKPIs(ctx context.Context) (*models.AlertDashboardKPIs, error) {
	var kpis models.AlertDashboardKPIs
	if err := c.do(c.request(ctx).SetResult(&kpis), resty.MethodGet, "/alert-dashboard/kpis"); err != nil {
		return nil, err
	}
	return &kpis, nil
}

// ListCriticalDiscoveries returns up to limit alert drilldowns
func (c *Client) ListCriticalDiscoveries(ctx context.Context, limit int) ([]models.CriticalDiscoveryDrilldown, error) {
	var drilldowns []models.CriticalDiscoveryDrilldown
	req := c.request(ctx).SetResult(&drilldowns)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	if err := c.do(req, resty.MethodGet, "/alert-dashboard/critical-discoveries"); err != nil {
		return nil, err
	}
	return drilldowns, nil
}

// ListActionQueue returns action items, optionally filtered by status
func (c *Client) ListActionQueue(ctx context.Context, status string, limit int) ([]models.ActionItem, error) {
	var items []models.ActionItem
	req := c.request(ctx).SetResult(&items)
	if status != "" {
		req.SetQueryParam("status", status)
	}
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	if err := c.do(req, resty.MethodGet, "/alert-dashboard/action-queue"); err != nil {
		return nil, err
	}
	return items, nil
}

// CreateActionItem creates a remediation task
func (c *Client) CreateActionItem(ctx context.Context, in models.ActionItemCreate) (*models.ActionItem, error) {
	var item models.ActionItem
	req := c.request(ctx).SetBody(in).SetResult(&item)
	if err := c.do(req, resty.MethodPost, "/alert-dashboard/action-items"); err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateActionItem applies a partial update to a remediation task
func (c *Client) UpdateActionItem(ctx context.Context, id int64, in models.ActionItemUpdate) (*models.ActionItem, error) {
	var item models.ActionItem
	req := c.request(ctx).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		SetBody(in).
		SetResult(&item)
	if err := c.do(req, resty.MethodPatch, "/alert-dashboard/action-items/{id}"); err != nil {
		return nil, err
	}
	return &item, nil
}

// DeleteAlertInstanceByAlertID deletes one alert with all of its discoveries
func (c *Client) DeleteAlertInstanceByAlertID(ctx context.Context, alertID string) (*models.DeleteResponse, error) {
	var out models.DeleteResponse
	req := c.request(ctx).SetPathParam("alert_id", alertID).SetResult(&out)
	if err := c.do(req, resty.MethodDelete, "/alert-dashboard/alert-instances/by-alert-id/{alert_id}"); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteAllAlertInstances deletes every alert instance on the backend
func (c *Client) DeleteAllAlertInstances(ctx context.Context) (*models.DeleteResponse, error) {
	var out models.DeleteResponse
	req := c.request(ctx).SetQueryParam("confirm", "true").SetResult(&out)
	if err := c.do(req, resty.MethodDelete, "/alert-dashboard/alert-instances"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ping checks that the backend answers at all
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.do(c.request(ctx), resty.MethodGet, "/alert-dashboard/kpis")
}
