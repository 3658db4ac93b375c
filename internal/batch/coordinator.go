// Package batch drives batch analysis jobs: submit, poll on a fixed
// interval, and settle once the backend reports a terminal status.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/aegisshield/discovery-console/internal/cache"
	"github.com/aegisshield/discovery-console/internal/events"
	"github.com/aegisshield/discovery-console/internal/metrics"
	"github.com/aegisshield/discovery-console/internal/models"
	"github.com/aegisshield/discovery-console/internal/realtime"
)

// DefaultPollInterval is the batch status polling interval
const DefaultPollInterval = 2 * time.Second

const pollTimeout = 30 * time.Second

var (
	ErrNoItems            = errors.New("no alert directories selected")
	ErrInvalidReportLevel = errors.New("report level must be summary or full")
	ErrJobActive          = errors.New("a batch analysis job is already running")
)

// State is the coordinator lifecycle state
type State string

const (
	StateIdle      State = "idle"
	StateSubmitted State = "submitted"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// ItemStatus is the local status of one alert in a batch
type ItemStatus string

const (
	ItemPending ItemStatus = "pending"
	ItemSuccess ItemStatus = "success"
	ItemError   ItemStatus = "error"
)

// ItemResult is one alert's result within a batch
type ItemResult struct {
	Directory string     `json:"directory"`
	AlertName string     `json:"alert_name"`
	Status    ItemStatus `json:"status"`
	FindingID *int64     `json:"finding_id,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Snapshot is an immutable view of the coordinator
type Snapshot struct {
	State        State              `json:"state"`
	JobID        string             `json:"job_id,omitempty"`
	ReportLevel  models.ReportLevel `json:"report_level,omitempty"`
	Results      []ItemResult       `json:"results"`
	Total        int                `json:"total"`
	Completed    int                `json:"completed"`
	Failed       int                `json:"failed"`
	ServerStatus string             `json:"server_status,omitempty"`
	IsAnalyzing  bool               `json:"is_analyzing"`
	LastError    string             `json:"last_error,omitempty"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Terminal reports whether the job has settled
func (s Snapshot) Terminal() bool {
	return s.State == StateCompleted || s.State == StateFailed
}

// Backend is the subset of the backend client the coordinator needs
type Backend interface {
	AnalyzeBatch(ctx context.Context, in models.AnalyzeBatchRequest) (*models.BatchJobResponse, error)
	GetBatchStatus(ctx context.Context, jobID string) (*models.BatchStatusResponse, error)
	AnalyzeAndSave(ctx context.Context, in models.AnalyzeAndSaveRequest) (*models.AnalyzeAndSaveResponse, error)
}

// Invalidator marks cached views stale after a mutation
type Invalidator interface {
	InvalidateFor(ctx context.Context, m cache.Mutation)
}

// Notifier pushes progress to connected clients
type Notifier interface {
	Publish(topic string, msgType realtime.MessageType, payload interface{}) error
}

// Coordinator owns at most one batch job at a time
type Coordinator struct {
	backend   Backend
	cache     Invalidator
	notifier  Notifier
	publisher events.Publisher
	metrics   *metrics.Collector
	logger    *zap.Logger
	interval  time.Duration

	mu          sync.RWMutex
	state       State
	jobID       string
	level       models.ReportLevel
	results     []ItemResult
	total       int
	completed   int
	failed      int
	serverState string
	analyzing   bool
	lastError   string
	updatedAt   time.Time
	folderNames map[string]string
	scheduler   *cron.Cron

	subMu       sync.RWMutex
	subscribers []func(Snapshot)
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithPollInterval overrides DefaultPollInterval
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithNotifier broadcasts every snapshot
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithPublisher emits workflow events
func WithPublisher(p events.Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithMetrics records job lifecycle metrics
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates an idle coordinator
func NewCoordinator(backend Backend, invalidator Invalidator, logger *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend:     backend,
		cache:       invalidator,
		logger:      logger,
		interval:    DefaultPollInterval,
		state:       StateIdle,
		folderNames: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RememberFolders records alert names of scanned folders so submitted
// results show names instead of paths
func (c *Coordinator) RememberFolders(folders []models.AlertFolder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range folders {
		if f.AlertName != "" {
			c.folderNames[f.Path] = f.AlertName
		}
	}
}

// OnUpdate registers fn to receive every new snapshot
func (c *Coordinator) OnUpdate(fn func(Snapshot)) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// Submit starts a batch job. Validation failures return before any backend
// call. A failed submit leaves the coordinator idle with LastError set.
func (c *Coordinator) Submit(ctx context.Context, paths []string, level models.ReportLevel) (*Snapshot, error) {
	if len(paths) == 0 {
		return nil, ErrNoItems
	}
	if !level.Valid() {
		return nil, ErrInvalidReportLevel
	}

	c.mu.Lock()
	if c.state == StateSubmitted || c.state == StatePolling {
		c.mu.Unlock()
		return nil, ErrJobActive
	}
	c.state = StateSubmitted
	c.analyzing = true
	c.jobID = ""
	c.level = level
	c.results = nil
	c.total, c.completed, c.failed = 0, 0, 0
	c.serverState = ""
	c.lastError = ""
	c.touch()
	c.mu.Unlock()

	job, err := c.backend.AnalyzeBatch(ctx, models.AnalyzeBatchRequest{
		DirectoryPaths: paths,
		ReportLevel:    level,
	})

	c.mu.Lock()
	if err != nil {
		c.state = StateIdle
		c.analyzing = false
		c.lastError = err.Error()
		c.touch()
		snap := c.snapshotLocked()
		c.mu.Unlock()

		c.logger.Error("Batch submit failed", zap.Int("alerts", len(paths)), zap.Error(err))
		c.emit(snap)
		return &snap, fmt.Errorf("failed to start batch analysis: %w", err)
	}

	c.jobID = job.JobID
	c.total = len(paths)
	if job.TotalAlerts > 0 {
		c.total = job.TotalAlerts
	}
	c.results = make([]ItemResult, 0, len(paths))
	for _, p := range paths {
		name := c.folderNames[p]
		if name == "" {
			name = p
		}
		c.results = append(c.results, ItemResult{Directory: p, AlertName: name, Status: ItemPending})
	}
	c.state = StatePolling
	c.touch()
	c.startScheduleLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info("Batch analysis started",
		zap.String("job_id", job.JobID),
		zap.Int("alerts", len(paths)),
		zap.String("report_level", string(level)))
	c.metrics.BatchSubmitted()
	events.PublishAsync(c.publisher, c.logger, events.NewEvent(events.EventBatchSubmitted, snap))
	c.emit(snap)
	return &snap, nil
}

// Stop cancels polling on the client side only. The backend job keeps
// running; results gathered so far are kept.
func (c *Coordinator) Stop() Snapshot {
	c.mu.Lock()
	wasActive := c.state == StatePolling || c.state == StateSubmitted
	c.stopScheduleLocked()
	if wasActive {
		c.state = StateIdle
	}
	c.analyzing = false
	c.touch()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if wasActive {
		c.metrics.BatchFinished("stopped")
		c.logger.Info("Batch polling stopped", zap.String("job_id", snap.JobID))
		c.emit(snap)
	}
	return snap
}

// Snapshot returns the current state
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// Close stops any polling schedule
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopScheduleLocked()
}

func (c *Coordinator) startScheduleLocked() {
	c.stopScheduleLocked()
	sched := cron.New(cron.WithChain(
		cron.Recover(cronLogger{c.logger.Sugar()}),
		cron.SkipIfStillRunning(cronLogger{c.logger.Sugar()}),
	))
	sched.Schedule(fixedInterval(c.interval), cron.FuncJob(c.poll))
	sched.Start()
	c.scheduler = sched
}

// stopScheduleLocked stops the schedule without waiting for a running poll,
// since it is also called from inside a poll
func (c *Coordinator) stopScheduleLocked() {
	if c.scheduler != nil {
		c.scheduler.Stop()
		c.scheduler = nil
	}
}

// poll fetches the job status once and applies it
func (c *Coordinator) poll() {
	c.mu.RLock()
	jobID := c.jobID
	active := c.state == StatePolling
	c.mu.RUnlock()
	if !active {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	defer cancel()

	status, err := c.backend.GetBatchStatus(ctx, jobID)
	if err != nil {
		c.metrics.BatchPollError()
		c.logger.Warn("Batch status poll failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	c.mu.Lock()
	if c.jobID != jobID || c.state != StatePolling {
		c.mu.Unlock()
		return
	}
	c.applyLocked(status)
	terminal := status.Terminal()
	if terminal {
		c.stopScheduleLocked()
		c.analyzing = false
		if status.Status == models.BatchStatusCompleted {
			c.state = StateCompleted
		} else {
			c.state = StateFailed
		}
	}
	c.touch()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(snap)
	if terminal {
		c.settle(snap)
	}
}

// applyLocked replaces the result list with the server's view
func (c *Coordinator) applyLocked(status *models.BatchStatusResponse) {
	results := make([]ItemResult, 0, len(status.Results))
	for _, r := range status.Results {
		name := r.AlertName
		if name == "" {
			name = c.folderNames[r.Directory]
		}
		results = append(results, ItemResult{
			Directory: r.Directory,
			AlertName: name,
			Status:    itemStatus(r.Status),
			FindingID: r.FindingID,
			Error:     r.Error,
		})
	}
	c.results = results
	c.total = status.Total
	c.completed = status.Completed
	c.failed = status.Failed
	c.serverState = status.Status
}

func itemStatus(server string) ItemStatus {
	switch server {
	case models.BatchStatusCompleted:
		return ItemSuccess
	case models.BatchStatusFailed:
		return ItemError
	default:
		return ItemPending
	}
}

// settle runs the terminal side effects once per job
func (c *Coordinator) settle(snap Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	defer cancel()
	c.cache.InvalidateFor(ctx, cache.MutationBatchAnalyzed)

	eventType := events.EventBatchCompleted
	if snap.State == StateFailed {
		eventType = events.EventBatchFailed
	}
	events.PublishAsync(c.publisher, c.logger, events.NewEvent(eventType, snap))
	c.metrics.BatchFinished(snap.ServerStatus)

	c.logger.Info("Batch analysis finished",
		zap.String("job_id", snap.JobID),
		zap.String("status", snap.ServerStatus),
		zap.Int("completed", snap.Completed),
		zap.Int("failed", snap.Failed))
}

// AnalyzeSingle analyzes one alert directory synchronously
func (c *Coordinator) AnalyzeSingle(ctx context.Context, path string, level models.ReportLevel, useLLM bool) (ItemResult, error) {
	if path == "" {
		return ItemResult{}, ErrNoItems
	}
	if !level.Valid() {
		return ItemResult{}, ErrInvalidReportLevel
	}

	c.mu.RLock()
	name := c.folderNames[path]
	c.mu.RUnlock()
	if name == "" {
		name = path
	}
	result := ItemResult{Directory: path, AlertName: name}

	resp, err := c.backend.AnalyzeAndSave(ctx, models.AnalyzeAndSaveRequest{
		DirectoryPath: path,
		ReportLevel:   level,
		UseLLM:        useLLM,
	})
	if err != nil {
		result.Status = ItemError
		result.Error = err.Error()
		return result, fmt.Errorf("failed to analyze %s: %w", path, err)
	}

	id := resp.FindingID
	result.Status = ItemSuccess
	result.FindingID = &id

	c.cache.InvalidateFor(ctx, cache.MutationAlertAnalyzed)
	events.PublishAsync(c.publisher, c.logger, events.NewEvent(events.EventAlertAnalyzed, resp))
	return result, nil
}

func (c *Coordinator) touch() {
	c.updatedAt = time.Now().UTC()
}

func (c *Coordinator) snapshotLocked() Snapshot {
	results := make([]ItemResult, len(c.results))
	copy(results, c.results)
	return Snapshot{
		State:        c.state,
		JobID:        c.jobID,
		ReportLevel:  c.level,
		Results:      results,
		Total:        c.total,
		Completed:    c.completed,
		Failed:       c.failed,
		ServerStatus: c.serverState,
		IsAnalyzing:  c.analyzing,
		LastError:    c.lastError,
		UpdatedAt:    c.updatedAt,
	}
}

func (c *Coordinator) emit(snap Snapshot) {
	if c.notifier != nil {
		if err := c.notifier.Publish(realtime.TopicBatch, realtime.MessageTypeBatchProgress, snap); err != nil {
			c.logger.Debug("Failed to broadcast batch progress", zap.Error(err))
		}
	}

	c.subMu.RLock()
	subscribers := make([]func(Snapshot), len(c.subscribers))
	copy(subscribers, c.subscribers)
	c.subMu.RUnlock()
	for _, fn := range subscribers {
		fn(snap)
	}
}
