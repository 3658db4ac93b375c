package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegisshield/discovery-console/internal/cache"
	"github.com/aegisshield/discovery-console/internal/client"
	"github.com/aegisshield/discovery-console/internal/models"
)

type fakeBackend struct {
	created []models.ActionItemCreate
	updated map[int64]models.ActionItemUpdate
	err     error
}

func (f *fakeBackend) CreateActionItem(_ context.Context, in models.ActionItemCreate) (*models.ActionItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, in)
	priority := in.Priority
	return &models.ActionItem{
		ID:              int64(len(f.created)),
		AlertAnalysisID: in.AlertAnalysisID,
		ActionType:      in.ActionType,
		Priority:        &priority,
		Title:           in.Title,
		Status:          models.ActionStatusOpen,
	}, nil
}

func (f *fakeBackend) UpdateActionItem(_ context.Context, id int64, in models.ActionItemUpdate) (*models.ActionItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.updated == nil {
		f.updated = make(map[int64]models.ActionItemUpdate)
	}
	f.updated[id] = in
	item := &models.ActionItem{ID: id, Status: models.ActionStatusOpen}
	if in.Status != nil {
		item.Status = *in.Status
	}
	return item, nil
}

type fakeInvalidator struct {
	mutations []cache.Mutation
}

func (f *fakeInvalidator) InvalidateFor(_ context.Context, m cache.Mutation) {
	f.mutations = append(f.mutations, m)
}

func discovery(analysisID int64) models.CriticalDiscoveryDrilldown {
	d := models.CriticalDiscoveryDrilldown{
		AlertID:        "200025_001452",
		AlertName:      "Duplicate Vendors",
		DiscoveryCount: 3,
	}
	if analysisID > 0 {
		d.Discoveries = []models.CriticalDiscovery{{AlertAnalysisID: analysisID, Title: "Vendor overlap"}}
	}
	return d
}

func TestDraft(t *testing.T) {
	draft := Draft(discovery(11))
	assert.Equal(t, int64(11), draft.AlertAnalysisID)
	assert.Equal(t, models.ActionTypeImmediate, draft.ActionType)
	assert.Equal(t, 1, draft.Priority)
	assert.Equal(t, "Investigate: Duplicate Vendors", draft.Title)
	assert.Equal(t, "Review 3 discovery/ies for Duplicate Vendors", draft.Description)

	assert.Zero(t, Draft(discovery(0)).AlertAnalysisID)
}

func TestTypeLabels(t *testing.T) {
	options := TypeOptions()
	require.Len(t, options, 3)
	assert.Equal(t, models.ActionTypeImmediate, options[0].Value)
	assert.Equal(t, "Short Term (1-2 weeks)", TypeLabel(models.ActionTypeShortTerm))
	assert.Equal(t, "CUSTOM", TypeLabel(models.ActionType("CUSTOM")))
}

func TestService_Create(t *testing.T) {
	t.Run("From Discovery", func(t *testing.T) {
		backend := &fakeBackend{}
		inv := &fakeInvalidator{}
		svc := NewService(backend, inv, nil, zap.NewNop())

		item, err := svc.CreateForDiscovery(context.Background(), discovery(11), "auditor@example.com", "2026-11-01")
		require.NoError(t, err)
		assert.Equal(t, int64(11), item.AlertAnalysisID)
		require.Len(t, backend.created, 1)
		assert.Equal(t, "auditor@example.com", backend.created[0].AssignedTo)
		assert.Equal(t, []cache.Mutation{cache.MutationActionItemCreated}, inv.mutations)
	})

	t.Run("Missing Analysis Id", func(t *testing.T) {
		backend := &fakeBackend{}
		svc := NewService(backend, &fakeInvalidator{}, nil, zap.NewNop())

		_, err := svc.CreateForDiscovery(context.Background(), discovery(0), "", "")
		assert.ErrorIs(t, err, ErrMissingAnalysisID)
		assert.EqualError(t, err, "Cannot create action item: missing alert analysis ID")
		assert.Empty(t, backend.created)
	})

	t.Run("Validation", func(t *testing.T) {
		backend := &fakeBackend{}
		svc := NewService(backend, &fakeInvalidator{}, nil, zap.NewNop())

		cases := map[string]models.ActionItemCreate{
			"priority": {AlertAnalysisID: 1, ActionType: models.ActionTypeImmediate, Priority: 6, Title: "x"},
			"type":     {AlertAnalysisID: 1, ActionType: "LATER", Priority: 1, Title: "x"},
			"title":    {AlertAnalysisID: 1, ActionType: models.ActionTypeShortTerm, Priority: 2},
			"due date": {AlertAnalysisID: 1, ActionType: models.ActionTypeShortTerm, Title: "x", DueDate: "01/11/2026"},
		}
		for name, in := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := svc.Create(context.Background(), in)
				assert.ErrorIs(t, err, ErrValidation)
			})
		}
		assert.Empty(t, backend.created)
	})

	t.Run("Backend Error Is Wrapped", func(t *testing.T) {
		inv := &fakeInvalidator{}
		svc := NewService(&fakeBackend{err: &client.APIError{StatusCode: 404, Detail: "Alert analysis not found"}}, inv, nil, zap.NewNop())

		_, err := svc.Create(context.Background(), Draft(discovery(5)))
		var apiErr *client.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.True(t, apiErr.NotFound())
		assert.Empty(t, inv.mutations)
	})
}

func TestService_Update(t *testing.T) {
	backend := &fakeBackend{}
	inv := &fakeInvalidator{}
	svc := NewService(backend, inv, nil, zap.NewNop())

	status := models.ActionStatusInReview
	item, err := svc.Update(context.Background(), 4, models.ActionItemUpdate{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, models.ActionStatusInReview, item.Status)
	assert.Equal(t, []cache.Mutation{cache.MutationActionItemUpdated}, inv.mutations)

	_, err = svc.Update(context.Background(), 0, models.ActionItemUpdate{})
	assert.ErrorIs(t, err, ErrInvalidID)

	bad := models.ActionStatus("CLOSED")
	_, err = svc.Update(context.Background(), 4, models.ActionItemUpdate{Status: &bad})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Len(t, backend.updated, 1)
}
