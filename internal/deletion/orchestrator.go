// Package deletion deletes alert discoveries one at a time, by selection, or
// all at once, and keeps the cached views consistent afterwards.
package deletion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/aegisshield/discovery-console/internal/cache"
	"github.com/aegisshield/discovery-console/internal/events"
	"github.com/aegisshield/discovery-console/internal/metrics"
	"github.com/aegisshield/discovery-console/internal/models"
	"github.com/aegisshield/discovery-console/internal/realtime"
)

// ConfirmationPhrase must be typed exactly to delete every discovery
const ConfirmationPhrase = "DELETE ALL"

var (
	ErrNoItems              = errors.New("no discoveries selected")
	ErrConfirmationMismatch = fmt.Errorf("confirmation must be exactly %q", ConfirmationPhrase)
)

// Kind summarizes how a deletion run ended
type Kind string

const (
	AllSucceeded   Kind = "all_succeeded"
	PartialFailure Kind = "partial_failure"
	AllFailed      Kind = "all_failed"
)

// ItemError records why one id could not be deleted
type ItemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
	err   error
}

// Progress is reported after every processed id
type Progress struct {
	ID        string `json:"id"`
	Processed int    `json:"processed"`
	Requested int    `json:"requested"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// Outcome is the single summary of a deletion run
type Outcome struct {
	Requested      int            `json:"requested"`
	Processed      int            `json:"processed"`
	Completed      int            `json:"completed"`
	Failed         int            `json:"failed"`
	Errors         []ItemError    `json:"errors,omitempty"`
	Deleted        []string       `json:"deleted,omitempty"`
	DeletedRecords map[string]int `json:"deleted_records,omitempty"`
	Kind           Kind           `json:"kind"`
	Message        string         `json:"message"`
	NextSelection  string         `json:"next_selection"`
}

// Options carries the caller's view context into a run
type Options struct {
	// Current is the alert id on display, if any
	Current string
	// Remaining is the list the next selection is chosen from
	Remaining []models.CriticalDiscoveryDrilldown
	Progress  func(Progress)
}

// Deleter is the subset of the backend client used for deletes
type Deleter interface {
	DeleteAlertInstanceByAlertID(ctx context.Context, alertID string) (*models.DeleteResponse, error)
	DeleteAllAlertInstances(ctx context.Context) (*models.DeleteResponse, error)
}

// Cache is the subset of the view cache a deletion touches
type Cache interface {
	InvalidateFor(ctx context.Context, m cache.Mutation)
	ScheduleRefresh(names ...cache.View)
}

// Notifier pushes progress to connected clients
type Notifier interface {
	Publish(topic string, msgType realtime.MessageType, payload interface{}) error
}

// Orchestrator runs deletions strictly one request at a time
type Orchestrator struct {
	deleter   Deleter
	cache     Cache
	notifier  Notifier
	publisher events.Publisher
	metrics   *metrics.Collector
	logger    *zap.Logger

	runMu sync.Mutex
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithNotifier broadcasts progress and outcomes
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithPublisher emits workflow events
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithMetrics records deletion metrics
func WithMetrics(m *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates a deletion orchestrator
func NewOrchestrator(deleter Deleter, c Cache, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deleter: deleter,
		cache:   c,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DeleteSelected deletes ids in order. A failed id is recorded and the run
// continues; a cancelled ctx marks the ids not yet attempted as failed, so
// Processed always equals Requested.
func (o *Orchestrator) DeleteSelected(ctx context.Context, ids []string, opts Options) Outcome {
	ids = unique(ids)
	if len(ids) == 0 {
		return Outcome{Kind: AllSucceeded, Message: "Nothing to delete", NextSelection: opts.Current}
	}

	o.runMu.Lock()
	defer o.runMu.Unlock()

	out := o.reduce(ctx, ids, opts.Progress)
	return o.finish(ctx, out, opts, cache.MutationDiscoveryDeleted, events.EventDiscoveriesDeleted)
}

// DeleteOne deletes a single alert. The returned error carries the server's
// detail when the delete fails.
func (o *Orchestrator) DeleteOne(ctx context.Context, id string, opts Options) (Outcome, error) {
	if id == "" {
		return Outcome{}, ErrNoItems
	}

	o.runMu.Lock()
	defer o.runMu.Unlock()

	out := o.reduce(ctx, []string{id}, opts.Progress)
	out = o.finish(ctx, out, opts, cache.MutationDiscoveryDeleted, events.EventDiscoveryDeleted)
	if len(out.Errors) > 0 {
		return out, fmt.Errorf("failed to delete %s: %w", id, out.Errors[0].err)
	}
	return out, nil
}

// DeleteAll removes every alert instance with one request. Nothing is sent
// unless confirmation matches ConfirmationPhrase exactly.
func (o *Orchestrator) DeleteAll(ctx context.Context, confirmation string, opts Options) (Outcome, error) {
	if confirmation != ConfirmationPhrase {
		return Outcome{}, ErrConfirmationMismatch
	}

	o.runMu.Lock()
	defer o.runMu.Unlock()

	out := Outcome{Requested: 1, Processed: 1}
	resp, err := o.deleter.DeleteAllAlertInstances(ctx)
	o.metrics.RecordDeletion(err == nil)
	if err != nil {
		out.Failed = 1
		out.Errors = []ItemError{{ID: "*", Error: err.Error(), err: err}}
		out.Kind = AllFailed
		out.Message = "Failed to delete all discoveries"
		out.NextSelection = opts.Current
		o.metrics.RecordBulkDeletion(string(out.Kind))
		o.logger.Error("Delete all failed", zap.Error(err))
		o.notify(realtime.MessageTypeDeletionOutcome, out)
		return out, fmt.Errorf("failed to delete all discoveries: %w", err)
	}

	out.Completed = 1
	out.DeletedRecords = resp.DeletedRecords
	o.cache.InvalidateFor(context.WithoutCancel(ctx), cache.MutationAllDiscoveriesDeleted)

	// every alert is gone, so the next selection is always the empty state
	opts.Current, opts.Remaining = "", nil
	out = o.finish(ctx, out, opts, cache.MutationAllDiscoveriesDeleted, events.EventAllDiscoveriesDeleted)
	if resp.Message != "" {
		out.Message = resp.Message
	}
	return out, nil
}

// reduce issues one delete per id, in order, each after the previous one
// has returned
func (o *Orchestrator) reduce(ctx context.Context, ids []string, progress func(Progress)) Outcome {
	out := Outcome{Requested: len(ids)}

	for _, id := range ids {
		var err error
		if err = ctx.Err(); err == nil {
			_, err = o.deleter.DeleteAlertInstanceByAlertID(ctx, id)
			o.metrics.RecordDeletion(err == nil)
		}

		if err != nil {
			out.Failed++
			out.Errors = append(out.Errors, ItemError{ID: id, Error: err.Error(), err: err})
			o.logger.Warn("Failed to delete discovery", zap.String("alert_id", id), zap.Error(err))
		} else {
			out.Completed++
			out.Deleted = append(out.Deleted, id)
			o.afterStep(ctx)
		}
		out.Processed++

		p := Progress{
			ID:        id,
			Processed: out.Processed,
			Requested: out.Requested,
			Completed: out.Completed,
			Failed:    out.Failed,
		}
		if err != nil {
			p.Error = err.Error()
		}
		if progress != nil {
			progress(p)
		}
		o.notify(realtime.MessageTypeDeletionProgress, p)
	}
	return out
}

// afterStep runs after each successful delete so aggregates reflect
// partial progress
func (o *Orchestrator) afterStep(ctx context.Context) {
	o.cache.InvalidateFor(context.WithoutCancel(ctx), cache.MutationDiscoveryDeleted)
}

// finish classifies the run, schedules one refresh and picks what to show next
func (o *Orchestrator) finish(ctx context.Context, out Outcome, opts Options, m cache.Mutation, eventType events.EventType) Outcome {
	switch {
	case out.Failed == 0:
		out.Kind = AllSucceeded
		out.Message = fmt.Sprintf("Deleted %d %s", out.Completed, plural(out.Completed))
	case out.Completed == 0:
		out.Kind = AllFailed
		out.Message = fmt.Sprintf("Failed to delete %d %s", out.Failed, plural(out.Failed))
	default:
		out.Kind = PartialFailure
		out.Message = fmt.Sprintf("%d succeeded, %d failed", out.Completed, out.Failed)
	}

	o.cache.ScheduleRefresh(cache.ViewsFor(m)...)
	if out.Completed > 0 {
		events.PublishAsync(o.publisher, o.logger, events.NewEvent(eventType, out))
	}
	out.NextSelection = NextSelection(opts.Current, out.Deleted, opts.Remaining)
	if m == cache.MutationAllDiscoveriesDeleted {
		out.NextSelection = ""
	}

	o.metrics.RecordBulkDeletion(string(out.Kind))
	o.notify(realtime.MessageTypeDeletionOutcome, out)

	if ctx.Err() != nil {
		o.logger.Warn("Deletion run interrupted", zap.Int("processed", out.Processed), zap.Error(ctx.Err()))
	}
	o.logger.Info("Deletion finished",
		zap.String("kind", string(out.Kind)),
		zap.Int("requested", out.Requested),
		zap.Int("completed", out.Completed),
		zap.Int("failed", out.Failed))
	return out
}

func (o *Orchestrator) notify(msgType realtime.MessageType, payload interface{}) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Publish(realtime.TopicDeletion, msgType, payload); err != nil {
		o.logger.Debug("Failed to broadcast deletion update", zap.Error(err))
	}
}

// NextSelection returns the alert to display after a deletion. If current
// survived it stays selected; otherwise the first remaining alert that was
// not deleted is chosen, or "" for the empty state.
func NextSelection(current string, deleted []string, remaining []models.CriticalDiscoveryDrilldown) string {
	gone := make(map[string]bool, len(deleted))
	for _, id := range deleted {
		gone[id] = true
	}
	if !gone[current] {
		return current
	}
	for _, d := range remaining {
		if d.AlertID != "" && !gone[d.AlertID] {
			return d.AlertID
		}
	}
	return ""
}

func unique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func plural(n int) string {
	if n == 1 {
		return "discovery"
	}
	return "discoveries"
}
