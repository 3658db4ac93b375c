package deletion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegisshield/discovery-console/internal/cache"
	"github.com/aegisshield/discovery-console/internal/client"
	"github.com/aegisshield/discovery-console/internal/models"
)

type fakeDeleter struct {
	mu       sync.Mutex
	failOn   map[string]error
	calls    []string
	allCalls int
	allErr   error
	inFlight int
	maxSeen  int
}

func (f *fakeDeleter) DeleteAlertInstanceByAlertID(_ context.Context, alertID string) (*models.DeleteResponse, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.calls = append(f.calls, alertID)
	err := f.failOn[alertID]
	f.inFlight--
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &models.DeleteResponse{Success: true, Message: "deleted " + alertID}, nil
}

func (f *fakeDeleter) DeleteAllAlertInstances(_ context.Context) (*models.DeleteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allCalls++
	if f.allErr != nil {
		return nil, f.allErr
	}
	return &models.DeleteResponse{
		Success:        true,
		Message:        "All alert instances and related data deleted successfully",
		DeletedRecords: map[string]int{"alert_instances": 12},
	}, nil
}

type fakeCache struct {
	mu          sync.Mutex
	invalidated []cache.Mutation
	refreshes   [][]cache.View
}

func (f *fakeCache) InvalidateFor(_ context.Context, m cache.Mutation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, m)
}

func (f *fakeCache) ScheduleRefresh(names ...cache.View) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes = append(f.refreshes, names)
}

func drilldowns(ids ...string) []models.CriticalDiscoveryDrilldown {
	out := make([]models.CriticalDiscoveryDrilldown, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.CriticalDiscoveryDrilldown{AlertID: id})
	}
	return out
}

func TestDeleteSelected(t *testing.T) {
	t.Run("Partial Failure Processes Every Id", func(t *testing.T) {
		deleter := &fakeDeleter{failOn: map[string]error{
			"2": &client.APIError{StatusCode: 500, Detail: "database locked"},
			"4": errors.New("connection refused"),
		}}
		fc := &fakeCache{}
		o := NewOrchestrator(deleter, fc, zap.NewNop())

		var progress []Progress
		out := o.DeleteSelected(context.Background(), []string{"1", "2", "3", "4", "5"}, Options{
			Current:   "2",
			Remaining: drilldowns("1", "2", "3", "4", "5", "6"),
			Progress:  func(p Progress) { progress = append(progress, p) },
		})

		assert.Equal(t, 5, out.Requested)
		assert.Equal(t, 5, out.Processed)
		assert.Equal(t, 3, out.Completed)
		assert.Equal(t, 2, out.Failed)
		assert.Equal(t, PartialFailure, out.Kind)
		assert.Equal(t, "3 succeeded, 2 failed", out.Message)
		assert.Equal(t, []string{"1", "3", "5"}, out.Deleted)
		require.Len(t, out.Errors, 2)
		assert.Equal(t, "2", out.Errors[0].ID)
		assert.Contains(t, out.Errors[0].Error, "database locked")
		assert.Equal(t, "4", out.Errors[1].ID)

		assert.Equal(t, []string{"1", "2", "3", "4", "5"}, deleter.calls)
		assert.Equal(t, 1, deleter.maxSeen)

		require.Len(t, progress, 5)
		assert.Equal(t, 2, progress[1].Processed)
		assert.NotEmpty(t, progress[1].Error)
		assert.Equal(t, Progress{ID: "5", Processed: 5, Requested: 5, Completed: 3, Failed: 2}, progress[4])

		assert.Len(t, fc.invalidated, 3, "one invalidation per successful delete")
		require.Len(t, fc.refreshes, 1, "one refresh after the loop")
		assert.ElementsMatch(t, cache.ViewsFor(cache.MutationDiscoveryDeleted), fc.refreshes[0])

		assert.Equal(t, "2", out.NextSelection, "current was not deleted")
	})

	t.Run("All Succeeded Navigates Away", func(t *testing.T) {
		o := NewOrchestrator(&fakeDeleter{}, &fakeCache{}, zap.NewNop())
		out := o.DeleteSelected(context.Background(), []string{"a", "b"}, Options{
			Current:   "a",
			Remaining: drilldowns("a", "b", "c"),
		})
		assert.Equal(t, AllSucceeded, out.Kind)
		assert.Equal(t, "Deleted 2 discoveries", out.Message)
		assert.Equal(t, "c", out.NextSelection)
	})

	t.Run("All Failed Still Refreshes Once", func(t *testing.T) {
		fc := &fakeCache{}
		deleter := &fakeDeleter{failOn: map[string]error{"a": errors.New("boom")}}
		o := NewOrchestrator(deleter, fc, zap.NewNop())

		out := o.DeleteSelected(context.Background(), []string{"a"}, Options{Current: "a"})
		assert.Equal(t, AllFailed, out.Kind)
		assert.Equal(t, "a", out.NextSelection)
		assert.Empty(t, fc.invalidated)
		require.Len(t, fc.refreshes, 1)
		assert.ElementsMatch(t, cache.ViewsFor(cache.MutationDiscoveryDeleted), fc.refreshes[0])
	})

	t.Run("Cancelled Context Marks Remaining Failed", func(t *testing.T) {
		deleter := &fakeDeleter{}
		ctx, cancel := context.WithCancel(context.Background())
		o := NewOrchestrator(deleter, &fakeCache{}, zap.NewNop())

		out := o.DeleteSelected(ctx, []string{"1", "2", "3"}, Options{
			Progress: func(p Progress) {
				if p.ID == "1" {
					cancel()
				}
			},
		})
		assert.Equal(t, 3, out.Processed)
		assert.Equal(t, 1, out.Completed)
		assert.Equal(t, 2, out.Failed)
		assert.Equal(t, []string{"1"}, deleter.calls)
		for _, e := range out.Errors {
			assert.Contains(t, e.Error, context.Canceled.Error())
		}
	})

	t.Run("Duplicates And Empty Ids", func(t *testing.T) {
		deleter := &fakeDeleter{}
		o := NewOrchestrator(deleter, &fakeCache{}, zap.NewNop())

		out := o.DeleteSelected(context.Background(), []string{"x", "", "x"}, Options{})
		assert.Equal(t, 1, out.Requested)
		assert.Equal(t, []string{"x"}, deleter.calls)

		out = o.DeleteSelected(context.Background(), nil, Options{Current: "x"})
		assert.Equal(t, 0, out.Requested)
		assert.Equal(t, "x", out.NextSelection)
	})
}

func TestDeleteOne(t *testing.T) {
	t.Run("Marks Discovery And KPI Views Stale", func(t *testing.T) {
		c := cache.New(zap.NewNop(), cache.WithRefreshDebounce(time.Hour))
		ctx := context.Background()

		discoveriesKey := cache.NewKey(cache.ViewCriticalDiscoveries, "limit", "50")
		kpiKey := cache.NewKey(cache.ViewAlertDashboardKPIs)
		_, err := cache.Get(ctx, c, discoveriesKey, func(context.Context) ([]models.CriticalDiscoveryDrilldown, error) {
			return drilldowns("a", "b"), nil
		})
		require.NoError(t, err)
		_, err = cache.Get(ctx, c, kpiKey, func(context.Context) (*models.AlertDashboardKPIs, error) {
			return &models.AlertDashboardKPIs{TotalCriticalDiscoveries: 2}, nil
		})
		require.NoError(t, err)
		require.False(t, c.IsStale(discoveriesKey))
		require.False(t, c.IsStale(kpiKey))

		o := NewOrchestrator(&fakeDeleter{}, c, zap.NewNop())
		out, err := o.DeleteOne(ctx, "a", Options{Current: "a", Remaining: drilldowns("a", "b")})
		require.NoError(t, err)
		assert.Equal(t, AllSucceeded, out.Kind)
		assert.Equal(t, "b", out.NextSelection)

		assert.True(t, c.IsStale(discoveriesKey))
		assert.True(t, c.IsStale(kpiKey))
	})

	t.Run("Failure Surfaces Server Detail", func(t *testing.T) {
		deleter := &fakeDeleter{failOn: map[string]error{
			"a": &client.APIError{StatusCode: 404, Detail: "Alert instance not found"},
		}}
		o := NewOrchestrator(deleter, &fakeCache{}, zap.NewNop())

		_, err := o.DeleteOne(context.Background(), "a", Options{})
		require.Error(t, err)
		var apiErr *client.APIError
		require.True(t, errors.As(err, &apiErr))
		assert.True(t, apiErr.NotFound())
		assert.Contains(t, err.Error(), "Alert instance not found")
	})

	t.Run("Empty Id", func(t *testing.T) {
		deleter := &fakeDeleter{}
		o := NewOrchestrator(deleter, &fakeCache{}, zap.NewNop())
		_, err := o.DeleteOne(context.Background(), "", Options{})
		assert.ErrorIs(t, err, ErrNoItems)
		assert.Empty(t, deleter.calls)
	})
}

func TestDeleteAll(t *testing.T) {
	t.Run("Confirmation Gate", func(t *testing.T) {
		deleter := &fakeDeleter{}
		o := NewOrchestrator(deleter, &fakeCache{}, zap.NewNop())

		for _, phrase := range []string{"", "delete all", "DELETE ALL ", "DELETE", " DELETE ALL"} {
			_, err := o.DeleteAll(context.Background(), phrase, Options{})
			assert.ErrorIs(t, err, ErrConfirmationMismatch, phrase)
		}
		assert.Equal(t, 0, deleter.allCalls)
	})

	t.Run("Success Resets Selection", func(t *testing.T) {
		deleter := &fakeDeleter{}
		fc := &fakeCache{}
		o := NewOrchestrator(deleter, fc, zap.NewNop())

		out, err := o.DeleteAll(context.Background(), ConfirmationPhrase, Options{Current: "a", Remaining: drilldowns("a", "b")})
		require.NoError(t, err)
		assert.Equal(t, 1, deleter.allCalls)
		assert.Empty(t, deleter.calls)
		assert.Equal(t, AllSucceeded, out.Kind)
		assert.Equal(t, "", out.NextSelection)
		assert.Equal(t, 12, out.DeletedRecords["alert_instances"])
		assert.Equal(t, "All alert instances and related data deleted successfully", out.Message)
		assert.Equal(t, []cache.Mutation{cache.MutationAllDiscoveriesDeleted}, fc.invalidated)
		assert.Len(t, fc.refreshes, 1)
	})

	t.Run("Failure Keeps Selection", func(t *testing.T) {
		deleter := &fakeDeleter{allErr: &client.APIError{StatusCode: 500, Detail: "Failed to delete all alert instances"}}
		fc := &fakeCache{}
		o := NewOrchestrator(deleter, fc, zap.NewNop())

		out, err := o.DeleteAll(context.Background(), ConfirmationPhrase, Options{Current: "a"})
		require.Error(t, err)
		assert.Equal(t, AllFailed, out.Kind)
		assert.Equal(t, "a", out.NextSelection)
		assert.Empty(t, fc.invalidated)
	})
}

func TestNextSelection(t *testing.T) {
	remaining := drilldowns("a", "b", "c")

	assert.Equal(t, "b", NextSelection("b", []string{"a"}, remaining))
	assert.Equal(t, "b", NextSelection("a", []string{"a"}, remaining))
	assert.Equal(t, "c", NextSelection("a", []string{"a", "b"}, remaining))
	assert.Equal(t, "", NextSelection("a", []string{"a", "b", "c"}, remaining))
	assert.Equal(t, "", NextSelection("", []string{"a"}, remaining))
}
