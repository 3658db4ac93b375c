// Package actions creates and updates remediation action items.
package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/aegisshield/discovery-console/internal/cache"
	"github.com/aegisshield/discovery-console/internal/events"
	"github.com/aegisshield/discovery-console/internal/models"
)

var (
	ErrMissingAnalysisID = errors.New("Cannot create action item: missing alert analysis ID")
	ErrInvalidID         = errors.New("action item id must be positive")
	ErrValidation        = errors.New("invalid action item")
)

// DefaultPriority is the priority of a drafted action item (1 is highest)
const DefaultPriority = 1

var typeOrder = []models.ActionType{
	models.ActionTypeImmediate,
	models.ActionTypeShortTerm,
	models.ActionTypeProcessImprovement,
}

var typeLabels = map[models.ActionType]string{
	models.ActionTypeImmediate:          "Immediate (24-48h)",
	models.ActionTypeShortTerm:          "Short Term (1-2 weeks)",
	models.ActionTypeProcessImprovement: "Process Improvement",
}

// TypeOption is a selectable action type
type TypeOption struct {
	Value models.ActionType `json:"value"`
	Label string            `json:"label"`
}

// TypeOptions lists the action types in display order
func TypeOptions() []TypeOption {
	options := make([]TypeOption, 0, len(typeOrder))
	for _, t := range typeOrder {
		options = append(options, TypeOption{Value: t, Label: TypeLabel(t)})
	}
	return options
}

// TypeLabel returns the display label of an action type
func TypeLabel(t models.ActionType) string {
	if label, ok := typeLabels[t]; ok {
		return label
	}
	return string(t)
}

// Draft prefills an action item for a discovery. AlertAnalysisID is zero
// when the discovery has no backing analysis.
func Draft(d models.CriticalDiscoveryDrilldown) models.ActionItemCreate {
	analysisID, _ := d.PrimaryAnalysisID()
	return models.ActionItemCreate{
		AlertAnalysisID: analysisID,
		ActionType:      models.ActionTypeImmediate,
		Priority:        DefaultPriority,
		Title:           "Investigate: " + d.AlertName,
		Description:     fmt.Sprintf("Review %d discovery/ies for %s", d.DiscoveryCount, d.AlertName),
	}
}

// Backend is the subset of the backend client used for action items
type Backend interface {
	CreateActionItem(ctx context.Context, in models.ActionItemCreate) (*models.ActionItem, error)
	UpdateActionItem(ctx context.Context, id int64, in models.ActionItemUpdate) (*models.ActionItem, error)
}

// Invalidator marks cached views stale after a mutation
type Invalidator interface {
	InvalidateFor(ctx context.Context, m cache.Mutation)
}

// Service validates and submits action item changes
type Service struct {
	backend   Backend
	cache     Invalidator
	validate  *validator.Validate
	publisher events.Publisher
	logger    *zap.Logger
}

// NewService creates an action item service. publisher may be nil.
func NewService(backend Backend, invalidator Invalidator, publisher events.Publisher, logger *zap.Logger) *Service {
	return &Service{
		backend:   backend,
		cache:     invalidator,
		validate:  validator.New(),
		publisher: publisher,
		logger:    logger,
	}
}

// Create submits a new action item. Nothing is sent when the analysis id
// is missing or the payload fails validation.
func (s *Service) Create(ctx context.Context, in models.ActionItemCreate) (*models.ActionItem, error) {
	if in.AlertAnalysisID <= 0 {
		return nil, ErrMissingAnalysisID
	}
	if in.ActionType == "" {
		in.ActionType = models.ActionTypeImmediate
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	item, err := s.backend.CreateActionItem(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to create action item: %w", err)
	}

	s.cache.InvalidateFor(ctx, cache.MutationActionItemCreated)
	events.PublishAsync(s.publisher, s.logger, events.NewEvent(events.EventActionItemCreated, item))
	s.logger.Info("Action item created",
		zap.Int64("id", item.ID),
		zap.Int64("alert_analysis_id", item.AlertAnalysisID),
		zap.String("action_type", string(item.ActionType)))
	return item, nil
}

// CreateForDiscovery drafts and submits an action item for a discovery
func (s *Service) CreateForDiscovery(ctx context.Context, d models.CriticalDiscoveryDrilldown, assignedTo, dueDate string) (*models.ActionItem, error) {
	in := Draft(d)
	in.AssignedTo = assignedTo
	in.DueDate = dueDate
	return s.Create(ctx, in)
}

// Update applies a partial update to an action item
func (s *Service) Update(ctx context.Context, id int64, in models.ActionItemUpdate) (*models.ActionItem, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	item, err := s.backend.UpdateActionItem(ctx, id, in)
	if err != nil {
		return nil, fmt.Errorf("failed to update action item %d: %w", id, err)
	}

	s.cache.InvalidateFor(ctx, cache.MutationActionItemUpdated)
	events.PublishAsync(s.publisher, s.logger, events.NewEvent(events.EventActionItemUpdated, item))
	return item, nil
}
