// Package upload validates alert artifact sets and drives the
// upload-then-analyze flows.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/aegisshield/discovery-console/internal/aggregation"
	"github.com/aegisshield/discovery-console/internal/cache"
	"github.com/aegisshield/discovery-console/internal/client"
	"github.com/aegisshield/discovery-console/internal/events"
	"github.com/aegisshield/discovery-console/internal/models"
)

// ArtifactCount is the number of files making up one alert
const ArtifactCount = 4

var (
	ErrFileCount      = fmt.Errorf("please select exactly %d files (Code, Explanation, Metadata, Summary)", ArtifactCount)
	ErrDuplicateFiles = errors.New("duplicate files detected")
	ErrNoFile         = errors.New("no file selected")
)

// Category is the artifact role a file plays
type Category string

const (
	CategoryCode        Category = "code"
	CategoryExplanation Category = "explanation"
	CategoryMetadata    Category = "metadata"
	CategorySummary     Category = "summary"
	CategoryOther       Category = "other"
)

var categoryOrder = []Category{CategoryCode, CategoryExplanation, CategoryMetadata, CategorySummary}

// Categorize infers the artifact role from a file name such as
// "Summary_Duplicate_Vendors_200025.txt"
func Categorize(name string) Category {
	lower := strings.ToLower(name)
	for _, c := range categoryOrder {
		if strings.HasPrefix(lower, string(c)) || strings.Contains(lower, "_"+string(c)) {
			return c
		}
	}
	return CategoryOther
}

// Categories maps each artifact role to the file filling it
type Categories struct {
	Code        string   `json:"code,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
	Metadata    string   `json:"metadata,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Other       []string `json:"other,omitempty"`
}

// Complete reports whether every role is filled
func (c Categories) Complete() bool {
	return c.Code != "" && c.Explanation != "" && c.Metadata != "" && c.Summary != ""
}

// CategorizeFiles assigns each name to its role. A later file replaces an
// earlier one of the same role.
func CategorizeFiles(names []string) Categories {
	var c Categories
	for _, n := range names {
		switch Categorize(n) {
		case CategoryCode:
			c.Code = n
		case CategoryExplanation:
			c.Explanation = n
		case CategoryMetadata:
			c.Metadata = n
		case CategorySummary:
			c.Summary = n
		default:
			c.Other = append(c.Other, n)
		}
	}
	return c
}

// ValidateArtifacts checks the file count and name uniqueness. It runs
// before any request is made.
func ValidateArtifacts(names []string) error {
	if len(names) != ArtifactCount {
		return ErrFileCount
	}

	seen := make(map[string]bool, len(names))
	var dups []string
	for _, n := range names {
		if seen[n] {
			dups = append(dups, n)
		}
		seen[n] = true
	}
	if len(dups) > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateFiles, strings.Join(dups, ", "))
	}
	return nil
}

// Backend is the subset of the backend client used by uploads
type Backend interface {
	UploadArtifacts(ctx context.Context, files []client.ArtifactFile) (*models.ArtifactUploadResponse, error)
	AnalyzeAndSave(ctx context.Context, in models.AnalyzeAndSaveRequest) (*models.AnalyzeAndSaveResponse, error)
	UploadFile(ctx context.Context, name string, r io.Reader) (*models.DataSource, error)
	RunAnalysis(ctx context.Context, dataSourceID int64) (*models.AnalysisRun, error)
}

// Cache is the subset of the view cache touched after an upload
type Cache interface {
	InvalidateFor(ctx context.Context, m cache.Mutation)
	ScheduleRefresh(names ...cache.View)
}

// ArtifactResult is the outcome of an artifact upload and its analysis
type ArtifactResult struct {
	Upload     *models.ArtifactUploadResponse `json:"upload"`
	Analysis   *models.AnalyzeAndSaveResponse `json:"analysis"`
	Categories Categories                     `json:"categories"`
	Message    string                         `json:"message"`
}

// FileResult is the outcome of a data file upload and its analysis run
type FileResult struct {
	DataSource *models.DataSource  `json:"data_source"`
	Run        *models.AnalysisRun `json:"run,omitempty"`
}

// Service runs the upload flows
type Service struct {
	backend   Backend
	cache     Cache
	publisher events.Publisher
	logger    *zap.Logger
}

// NewService creates an upload service. publisher may be nil.
func NewService(backend Backend, c Cache, publisher events.Publisher, logger *zap.Logger) *Service {
	return &Service{
		backend:   backend,
		cache:     c,
		publisher: publisher,
		logger:    logger,
	}
}

// UploadArtifacts validates the artifact set, uploads it and analyzes the
// resulting directory without the LLM
func (s *Service) UploadArtifacts(ctx context.Context, files []client.ArtifactFile) (*ArtifactResult, error) {
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	if err := ValidateArtifacts(names); err != nil {
		return nil, err
	}
	categories := CategorizeFiles(names)
	if !categories.Complete() {
		s.logger.Warn("Artifact names do not cover every role",
			zap.Strings("files", names),
			zap.Strings("unrecognized", categories.Other))
	}

	uploaded, err := s.backend.UploadArtifacts(ctx, files)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}

	analysis, err := s.backend.AnalyzeAndSave(ctx, models.AnalyzeAndSaveRequest{
		DirectoryPath: uploaded.ArtifactsPath,
		UseLLM:        false,
	})
	if err != nil {
		s.logger.Error("Artifact analysis failed",
			zap.String("artifacts_path", uploaded.ArtifactsPath),
			zap.Error(err))
		return nil, fmt.Errorf("analysis failed: %w", err)
	}

	s.cache.InvalidateFor(ctx, cache.MutationArtifactsAnalyzed)
	s.cache.ScheduleRefresh(cache.ViewFindings, cache.ViewCriticalDiscoveries)

	result := &ArtifactResult{
		Upload:     uploaded,
		Analysis:   analysis,
		Categories: categories,
		Message:    artifactMessage(uploaded, analysis),
	}
	events.PublishAsync(s.publisher, s.logger, events.NewEvent(events.EventArtifactsAnalyzed, result))
	s.logger.Info("Artifacts analyzed",
		zap.String("alert_name", uploaded.AlertName),
		zap.Int64("finding_id", analysis.FindingID))
	return result, nil
}

func artifactMessage(up *models.ArtifactUploadResponse, an *models.AnalyzeAndSaveResponse) string {
	name := up.AlertName
	if name == "" {
		name = "Alert"
	}
	focus := an.FocusArea
	if focus == "" {
		focus = "Unknown"
	}
	severity := an.Severity
	if severity == "" {
		severity = "Unknown"
	}
	return fmt.Sprintf("Alert %q analyzed as %s (%s). $%s exposure.",
		name, focus, severity, aggregation.FormatNumber(an.MoneyLossEstimate))
}

// UploadDataFile uploads a single data file and runs the findings analysis
// on it. When the upload succeeds but the analysis fails, the data source is
// still returned with the error.
func (s *Service) UploadDataFile(ctx context.Context, name string, r io.Reader) (*FileResult, error) {
	if name == "" || r == nil {
		return nil, ErrNoFile
	}

	ds, err := s.backend.UploadFile(ctx, name, r)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	result := &FileResult{DataSource: ds}

	run, err := s.backend.RunAnalysis(ctx, ds.EffectiveID())
	s.cache.InvalidateFor(ctx, cache.MutationFileAnalyzed)
	if err != nil {
		s.logger.Warn("Upload succeeded but analysis failed",
			zap.Int64("data_source_id", ds.EffectiveID()),
			zap.Error(err))
		return result, fmt.Errorf("upload successful but analysis failed: %w", err)
	}

	result.Run = run
	s.cache.ScheduleRefresh(cache.ViewAnalysisRuns, cache.ViewFindings)
	return result, nil
}
