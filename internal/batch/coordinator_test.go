package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegisshield/discovery-console/internal/cache"
	"github.com/aegisshield/discovery-console/internal/models"
)

type fakeBackend struct {
	mu        sync.Mutex
	submitErr error
	submits   int32
	polls     int32
	statuses  []models.BatchStatusResponse
	pollErrs  int
	analyzed  []models.AnalyzeAndSaveRequest
	singleErr error
}

func (f *fakeBackend) AnalyzeBatch(_ context.Context, in models.AnalyzeBatchRequest) (*models.BatchJobResponse, error) {
	atomic.AddInt32(&f.submits, 1)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &models.BatchJobResponse{JobID: "job-1", TotalAlerts: len(in.DirectoryPaths)}, nil
}

func (f *fakeBackend) GetBatchStatus(_ context.Context, jobID string) (*models.BatchStatusResponse, error) {
	n := int(atomic.AddInt32(&f.polls, 1))
	f.mu.Lock()
	defer f.mu.Unlock()
	if n <= f.pollErrs {
		return nil, errors.New("connection reset")
	}
	idx := n - f.pollErrs - 1
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	status := f.statuses[idx]
	status.JobID = jobID
	return &status, nil
}

func (f *fakeBackend) AnalyzeAndSave(_ context.Context, in models.AnalyzeAndSaveRequest) (*models.AnalyzeAndSaveResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzed = append(f.analyzed, in)
	if f.singleErr != nil {
		return nil, f.singleErr
	}
	return &models.AnalyzeAndSaveResponse{FindingID: 42, Severity: "HIGH"}, nil
}

type fakeInvalidator struct {
	mu        sync.Mutex
	mutations []cache.Mutation
}

func (f *fakeInvalidator) InvalidateFor(_ context.Context, m cache.Mutation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations = append(f.mutations, m)
}

func (f *fakeInvalidator) list() []cache.Mutation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cache.Mutation(nil), f.mutations...)
}

func int64Ptr(v int64) *int64 { return &v }

func newTestCoordinator(backend *fakeBackend, inv *fakeInvalidator) *Coordinator {
	return NewCoordinator(backend, inv, zap.NewNop(), WithPollInterval(10*time.Millisecond))
}

func TestCoordinator_SubmitValidation(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestCoordinator(backend, &fakeInvalidator{})

	_, err := c.Submit(context.Background(), nil, models.ReportLevelSummary)
	assert.ErrorIs(t, err, ErrNoItems)

	_, err = c.Submit(context.Background(), []string{"/a"}, models.ReportLevel("verbose"))
	assert.ErrorIs(t, err, ErrInvalidReportLevel)

	assert.Equal(t, int32(0), atomic.LoadInt32(&backend.submits))
	assert.Equal(t, StateIdle, c.Snapshot().State)
}

func TestCoordinator_SubmitFailure(t *testing.T) {
	backend := &fakeBackend{submitErr: errors.New("backend unavailable")}
	c := newTestCoordinator(backend, &fakeInvalidator{})

	snap, err := c.Submit(context.Background(), []string{"/a"}, models.ReportLevelSummary)
	require.Error(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, StateIdle, snap.State)
	assert.False(t, snap.IsAnalyzing)
	assert.Contains(t, snap.LastError, "backend unavailable")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&backend.polls), "no polling after a failed submit")
}

func TestCoordinator_Lifecycle(t *testing.T) {
	t.Run("Stops Polling After Failed Status", func(t *testing.T) {
		backend := &fakeBackend{
			pollErrs: 1,
			statuses: []models.BatchStatusResponse{
				{Status: "processing", Total: 2, Completed: 1, Results: []models.BatchItemResult{
					{Directory: "/a", AlertName: "Alert A", Status: "completed", FindingID: int64Ptr(7)},
					{Directory: "/b", Status: "processing"},
				}},
				{Status: "failed", Total: 2, Completed: 1, Failed: 1, Results: []models.BatchItemResult{
					{Directory: "/a", AlertName: "Alert A", Status: "completed", FindingID: int64Ptr(7)},
					{Directory: "/b", AlertName: "Alert B", Status: "failed", Error: "parse error"},
				}},
			},
		}
		inv := &fakeInvalidator{}
		c := newTestCoordinator(backend, inv)
		c.RememberFolders([]models.AlertFolder{{Path: "/b", AlertName: "Alert B"}})

		var updates []Snapshot
		var mu sync.Mutex
		c.OnUpdate(func(s Snapshot) {
			mu.Lock()
			updates = append(updates, s)
			mu.Unlock()
		})

		snap, err := c.Submit(context.Background(), []string{"/a", "/b"}, models.ReportLevelFull)
		require.NoError(t, err)
		assert.Equal(t, StatePolling, snap.State)
		assert.True(t, snap.IsAnalyzing)
		require.Len(t, snap.Results, 2)
		assert.Equal(t, ItemResult{Directory: "/a", AlertName: "/a", Status: ItemPending}, snap.Results[0])
		assert.Equal(t, "Alert B", snap.Results[1].AlertName)

		_, err = c.Submit(context.Background(), []string{"/c"}, models.ReportLevelFull)
		assert.ErrorIs(t, err, ErrJobActive)

		require.Eventually(t, func() bool { return c.Snapshot().Terminal() }, 2*time.Second, 5*time.Millisecond)

		final := c.Snapshot()
		assert.Equal(t, StateFailed, final.State)
		assert.False(t, final.IsAnalyzing)
		assert.Equal(t, 1, final.Completed)
		assert.Equal(t, 1, final.Failed)
		assert.Equal(t, ItemSuccess, final.Results[0].Status)
		assert.Equal(t, int64(7), *final.Results[0].FindingID)
		assert.Equal(t, ItemError, final.Results[1].Status)
		assert.Equal(t, "parse error", final.Results[1].Error)

		polls := atomic.LoadInt32(&backend.polls)
		time.Sleep(80 * time.Millisecond)
		assert.Equal(t, polls, atomic.LoadInt32(&backend.polls), "polling must stop at a terminal status")
		assert.Equal(t, []cache.Mutation{cache.MutationBatchAnalyzed}, inv.list())

		mu.Lock()
		defer mu.Unlock()
		require.NotEmpty(t, updates)
		assert.Equal(t, StateFailed, updates[len(updates)-1].State)
	})

	t.Run("Completed Job Allows Resubmit", func(t *testing.T) {
		backend := &fakeBackend{statuses: []models.BatchStatusResponse{
			{Status: "completed", Total: 1, Completed: 1, Results: []models.BatchItemResult{{Directory: "/a", Status: "completed"}}},
		}}
		c := newTestCoordinator(backend, &fakeInvalidator{})

		_, err := c.Submit(context.Background(), []string{"/a"}, models.ReportLevelSummary)
		require.NoError(t, err)
		require.Eventually(t, func() bool { return c.Snapshot().State == StateCompleted }, 2*time.Second, 5*time.Millisecond)

		_, err = c.Submit(context.Background(), []string{"/a"}, models.ReportLevelSummary)
		assert.NoError(t, err)
		c.Close()
	})
}

func TestCoordinator_Stop(t *testing.T) {
	backend := &fakeBackend{statuses: []models.BatchStatusResponse{{Status: "processing", Total: 1}}}
	inv := &fakeInvalidator{}
	c := newTestCoordinator(backend, inv)

	_, err := c.Submit(context.Background(), []string{"/a"}, models.ReportLevelSummary)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&backend.polls) > 0 }, time.Second, 5*time.Millisecond)

	snap := c.Stop()
	assert.Equal(t, StateIdle, snap.State)
	assert.False(t, snap.IsAnalyzing)
	assert.Equal(t, "job-1", snap.JobID)

	time.Sleep(30 * time.Millisecond)
	polls := atomic.LoadInt32(&backend.polls)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, polls, atomic.LoadInt32(&backend.polls))
	assert.Empty(t, inv.list(), "stopping is not a mutation")
}

func TestCoordinator_AnalyzeSingle(t *testing.T) {
	t.Run("Success Invalidates Alert Views", func(t *testing.T) {
		backend := &fakeBackend{}
		inv := &fakeInvalidator{}
		c := newTestCoordinator(backend, inv)

		result, err := c.AnalyzeSingle(context.Background(), "/alerts/200025_001452", models.ReportLevelSummary, false)
		require.NoError(t, err)
		assert.Equal(t, ItemSuccess, result.Status)
		assert.Equal(t, int64(42), *result.FindingID)
		assert.Equal(t, []cache.Mutation{cache.MutationAlertAnalyzed}, inv.list())
		require.Len(t, backend.analyzed, 1)
		assert.False(t, backend.analyzed[0].UseLLM)
	})

	t.Run("Failure Reports Error Result", func(t *testing.T) {
		backend := &fakeBackend{singleErr: errors.New("missing Summary file")}
		inv := &fakeInvalidator{}
		c := newTestCoordinator(backend, inv)

		result, err := c.AnalyzeSingle(context.Background(), "/alerts/x", models.ReportLevelSummary, false)
		require.Error(t, err)
		assert.Equal(t, ItemError, result.Status)
		assert.Contains(t, result.Error, "missing Summary file")
		assert.Empty(t, inv.list())
	})
}

func TestItemStatus(t *testing.T) {
	assert.Equal(t, ItemSuccess, itemStatus("completed"))
	assert.Equal(t, ItemError, itemStatus("failed"))
	assert.Equal(t, ItemPending, itemStatus("processing"))
	assert.Equal(t, ItemPending, itemStatus(""))
}

func TestFixedInterval(t *testing.T) {
	now := time.Now()
	assert.Equal(t, now.Add(250*time.Millisecond), fixedInterval(250*time.Millisecond).Next(now))
}
