// Package handlers exposes the console over HTTP.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aegisshield/discovery-console/internal/actions"
	"github.com/aegisshield/discovery-console/internal/aggregation"
	"github.com/aegisshield/discovery-console/internal/batch"
	"github.com/aegisshield/discovery-console/internal/cache"
	"github.com/aegisshield/discovery-console/internal/client"
	"github.com/aegisshield/discovery-console/internal/config"
	"github.com/aegisshield/discovery-console/internal/deletion"
	"github.com/aegisshield/discovery-console/internal/discovery"
	"github.com/aegisshield/discovery-console/internal/metrics"
	"github.com/aegisshield/discovery-console/internal/models"
	"github.com/aegisshield/discovery-console/internal/realtime"
	"github.com/aegisshield/discovery-console/internal/upload"
)

const (
	defaultDiscoveryLimit   = 10
	defaultActionQueueLimit = 50
	defaultActionStatus     = string(models.ActionStatusOpen)
	healthTimeout           = 5 * time.Second
)

// Deps are the components served by the API
type Deps struct {
	Config   *config.Config
	Backend  *client.Client
	Cache    *cache.Cache
	Batch    *batch.Coordinator
	Deletion *deletion.Orchestrator
	Uploads  *upload.Service
	Actions  *actions.Service
	Hub      *realtime.Hub
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Handler handles HTTP requests for the discovery console
type Handler struct {
	cfg      *config.Config
	backend  *client.Client
	cache    *cache.Cache
	batch    *batch.Coordinator
	deletion *deletion.Orchestrator
	uploads  *upload.Service
	actions  *actions.Service
	hub      *realtime.Hub
	metrics  *metrics.Collector
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(d Deps) *Handler {
	return &Handler{
		cfg:      d.Config,
		backend:  d.Backend,
		cache:    d.Cache,
		batch:    d.Batch,
		deletion: d.Deletion,
		uploads:  d.Uploads,
		actions:  d.Actions,
		hub:      d.Hub,
		metrics:  d.Metrics,
		gatherer: d.Gatherer,
		logger:   d.Logger,
	}
}

// RegisterRoutes registers all HTTP routes
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(RequestLogger(h.logger), Metrics(h.metrics))

	if h.cfg.Metrics.Enabled && h.gatherer != nil {
		router.GET(h.cfg.Metrics.Endpoint, gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1")
	if h.cfg.Security.APIAuth.Enabled {
		api.Use(Auth(h.cfg.Security.APIAuth.JWTSecret, "/api/v1/system/health"))
	}
	{
		api.GET("/dashboard/summary", h.GetDashboardSummary)

		discoveries := api.Group("/discoveries")
		{
			discoveries.GET("", h.ListDiscoveries)
			discoveries.GET("/:alert_id", h.GetDiscovery)
			discoveries.DELETE("/:alert_id", h.DeleteDiscovery)
			discoveries.POST("/:alert_id/action-items", h.CreateDiscoveryActionItem)
			discoveries.POST("/delete", h.DeleteSelected)
			discoveries.POST("/delete-all", h.DeleteAll)
		}

		batchRoutes := api.Group("/batch")
		{
			batchRoutes.POST("", h.SubmitBatch)
			batchRoutes.GET("", h.GetBatch)
			batchRoutes.DELETE("", h.StopBatch)
		}

		folders := api.Group("/folders")
		{
			folders.POST("/scan", h.ScanFolders)
			folders.POST("/analyze", h.AnalyzeFolder)
		}

		api.POST("/artifacts", h.UploadArtifacts)
		api.POST("/uploads", h.UploadDataFile)
		api.GET("/analysis-runs", h.ListAnalysisRuns)
		api.GET("/data-sources", h.ListDataSources)

		actionItems := api.Group("/action-items")
		{
			actionItems.GET("", h.ListActionItems)
			actionItems.GET("/types", h.ListActionTypes)
			actionItems.POST("", h.CreateActionItem)
			actionItems.PATCH("/:id", h.UpdateActionItem)
		}

		api.GET("/realtime/ws", h.hub.HandleWebSocket)

		system := api.Group("/system")
		{
			system.GET("/health", h.HealthCheck)
			system.GET("/cache", h.GetCacheState)
		}
	}
}

// Cached reads

func (h *Handler) findings(ctx context.Context, filter models.FindingFilter) ([]models.Finding, error) {
	key := cache.Key{Name: cache.ViewFindings, Params: filter.Params()}
	return cache.Get(ctx, h.cache, key, func(ctx context.Context) ([]models.Finding, error) {
		return h.backend.ListFindings(ctx, filter)
	})
}

func (h *Handler) dashboardKPIs(ctx context.Context) (*models.DashboardKPIs, error) {
	return cache.Get(ctx, h.cache, cache.NewKey(cache.ViewKPIs), h.backend.GetDashboardKPIs)
}

func (h *Handler) alertKPIs(ctx context.Context) (*models.AlertDashboardKPIs, error) {
	return cache.Get(ctx, h.cache, cache.NewKey(cache.ViewAlertDashboardKPIs), h.backend.GetAlertDashboardKPIs)
}

func (h *Handler) criticalDiscoveries(ctx context.Context, limit int) ([]models.CriticalDiscoveryDrilldown, error) {
	key := cache.NewKey(cache.ViewCriticalDiscoveries, "limit", strconv.Itoa(limit))
	return cache.Get(ctx, h.cache, key, func(ctx context.Context) ([]models.CriticalDiscoveryDrilldown, error) {
		return h.backend.ListCriticalDiscoveries(ctx, limit)
	})
}

func (h *Handler) analysisRuns(ctx context.Context) ([]models.AnalysisRun, error) {
	return cache.Get(ctx, h.cache, cache.NewKey(cache.ViewAnalysisRuns), h.backend.ListAnalysisRuns)
}

func (h *Handler) dataSources(ctx context.Context) ([]models.DataSource, error) {
	return cache.Get(ctx, h.cache, cache.NewKey(cache.ViewDataSources), h.backend.ListDataSources)
}

func (h *Handler) actionQueue(ctx context.Context, status string, limit int) ([]models.ActionItem, error) {
	key := cache.NewKey(cache.ViewActionQueue, "status", status, "limit", strconv.Itoa(limit))
	return cache.Get(ctx, h.cache, key, func(ctx context.Context) ([]models.ActionItem, error) {
		return h.backend.ListActionQueue(ctx, status, limit)
	})
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// Dashboard Handlers

// GetDashboardSummary aggregates the filtered findings
func (h *Handler) GetDashboardSummary(c *gin.Context) {
	var filter models.FindingFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		badRequest(c, "Invalid filter")
		return
	}

	findings, err := h.findings(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	kpis, err := h.dashboardKPIs(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"summary": aggregation.SummarizeFindings(findings),
		"kpis":    kpis,
		"filter":  filter,
	})
}

// Discovery Handlers

// ListDiscoveries returns the critical discoveries with their summary
func (h *Handler) ListDiscoveries(c *gin.Context) {
	ctx := c.Request.Context()
	list, err := h.criticalDiscoveries(ctx, queryInt(c, "limit", defaultDiscoveryLimit))
	if err != nil {
		respondError(c, err)
		return
	}
	kpis, err := h.alertKPIs(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	for _, d := range list {
		if len(d.Discoveries) > 0 && len(d.Discoveries) != d.DiscoveryCount {
			h.logger.Debug("Discovery count mismatch",
				zap.String("alert_id", d.AlertID),
				zap.Int("discovery_count", d.DiscoveryCount),
				zap.Int("discoveries", len(d.Discoveries)))
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"discoveries": list,
		"summary":     aggregation.SummarizeDiscoveries(list),
		"kpis":        kpis,
		"selected":    discovery.DefaultSelection(c.Query("selected"), list),
	})
}

// GetDiscovery returns the detail view of one alert
func (h *Handler) GetDiscovery(c *gin.Context) {
	mode, err := discovery.ParseMode(c.Query("mode"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	list, err := h.criticalDiscoveries(c.Request.Context(), queryInt(c, "limit", defaultDiscoveryLimit))
	if err != nil {
		respondError(c, err)
		return
	}
	d, ok := discovery.Find(list, c.Param("alert_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Discovery not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"view": discovery.BuildDetailView(d, mode)})
}

// DeleteDiscovery deletes one alert and all of its discoveries
func (h *Handler) DeleteDiscovery(c *gin.Context) {
	ctx := c.Request.Context()
	opts := h.deletionOptions(ctx, c.Query("current"), queryInt(c, "limit", defaultDiscoveryLimit))

	outcome, err := h.deletion.DeleteOne(ctx, c.Param("alert_id"), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

type deleteSelectedRequest struct {
	AlertIDs []string `json:"alert_ids" binding:"required,min=1"`
	Current  string   `json:"current"`
	Limit    int      `json:"limit"`
}

// DeleteSelected deletes the selected alerts one by one. Partial failures
// are part of the outcome, not an error response.
func (h *Handler) DeleteSelected(c *gin.Context) {
	var req deleteSelectedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultDiscoveryLimit
	}

	ctx := c.Request.Context()
	outcome := h.deletion.DeleteSelected(ctx, req.AlertIDs, h.deletionOptions(ctx, req.Current, req.Limit))
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

type deleteAllRequest struct {
	Confirmation string `json:"confirmation"`
	Current      string `json:"current"`
}

// DeleteAll deletes every alert once the confirmation phrase matches
func (h *Handler) DeleteAll(c *gin.Context) {
	var req deleteAllRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	outcome, err := h.deletion.DeleteAll(c.Request.Context(), req.Confirmation, deletion.Options{Current: req.Current})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

// deletionOptions reads the list the next selection is picked from. A
// failed read only loses the navigation hint.
func (h *Handler) deletionOptions(ctx context.Context, current string, limit int) deletion.Options {
	remaining, err := h.criticalDiscoveries(ctx, limit)
	if err != nil {
		h.logger.Debug("Could not load discoveries for navigation", zap.Error(err))
	}
	return deletion.Options{Current: current, Remaining: remaining}
}

// Batch Handlers

type submitBatchRequest struct {
	DirectoryPaths []string           `json:"directory_paths"`
	ReportLevel    models.ReportLevel `json:"report_level"`
}

// SubmitBatch starts a batch analysis job
func (h *Handler) SubmitBatch(c *gin.Context) {
	var req submitBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if req.ReportLevel == "" {
		req.ReportLevel = models.ReportLevel(h.cfg.Batch.DefaultReportLevel)
	}

	snap, err := h.batch.Submit(c.Request.Context(), req.DirectoryPaths, req.ReportLevel)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": snap})
}

// GetBatch returns the current batch job state
func (h *Handler) GetBatch(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"job": h.batch.Snapshot()})
}

// StopBatch stops polling the current job
func (h *Handler) StopBatch(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"job": h.batch.Stop()})
}

// ScanFolders lists alert folders under a base path
func (h *Handler) ScanFolders(c *gin.Context) {
	var req models.ScanFoldersRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.BasePath == "" {
		badRequest(c, "base_path is required")
		return
	}

	resp, err := h.backend.ScanFolders(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	h.batch.RememberFolders(resp.Folders)
	c.JSON(http.StatusOK, resp)
}

type analyzeFolderRequest struct {
	DirectoryPath string             `json:"directory_path"`
	ReportLevel   models.ReportLevel `json:"report_level"`
	UseLLM        bool               `json:"use_llm"`
}

// AnalyzeFolder analyzes one alert folder synchronously
func (h *Handler) AnalyzeFolder(c *gin.Context) {
	var req analyzeFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if req.ReportLevel == "" {
		req.ReportLevel = models.ReportLevel(h.cfg.Batch.DefaultReportLevel)
	}

	result, err := h.batch.AnalyzeSingle(c.Request.Context(), req.DirectoryPath, req.ReportLevel, req.UseLLM)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// Upload Handlers

// UploadArtifacts uploads the four artifact files of an alert and analyzes them
func (h *Handler) UploadArtifacts(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		respondError(c, upload.ErrFileCount)
		return
	}

	headers := form.File["files"]
	files := make([]client.ArtifactFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			badRequest(c, "Unreadable file: "+fh.Filename)
			return
		}
		defer f.Close()
		files = append(files, client.ArtifactFile{Name: fh.Filename, Reader: f})
	}

	result, err := h.uploads.UploadArtifacts(c.Request.Context(), files)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// UploadDataFile uploads one data file and runs the findings analysis
func (h *Handler) UploadDataFile(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		respondError(c, upload.ErrNoFile)
		return
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, "Unreadable file: "+fh.Filename)
		return
	}
	defer f.Close()

	result, err := h.uploads.UploadDataFile(c.Request.Context(), fh.Filename, f)
	if err != nil {
		status, msg := statusFor(err)
		c.JSON(status, gin.H{"error": msg, "result": result})
		return
	}
	c.JSON(http.StatusCreated, result)
}

// ListAnalysisRuns returns previous analysis runs
func (h *Handler) ListAnalysisRuns(c *gin.Context) {
	runs, err := h.analysisRuns(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"analysis_runs": runs})
}

// ListDataSources returns uploaded data sources
func (h *Handler) ListDataSources(c *gin.Context) {
	sources, err := h.dataSources(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data_sources": sources})
}

// Action Item Handlers

// ListActionItems returns the action queue
func (h *Handler) ListActionItems(c *gin.Context) {
	status := c.DefaultQuery("status", defaultActionStatus)
	items, err := h.actionQueue(c.Request.Context(), status, queryInt(c, "limit", defaultActionQueueLimit))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"action_items": items})
}

// ListActionTypes returns the selectable action types
func (h *Handler) ListActionTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"types": actions.TypeOptions()})
}

// CreateActionItem creates an action item
func (h *Handler) CreateActionItem(c *gin.Context) {
	var req models.ActionItemCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	item, err := h.actions.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"action_item": item})
}

type discoveryActionRequest struct {
	AssignedTo string `json:"assigned_to"`
	DueDate    string `json:"due_date"`
}

// CreateDiscoveryActionItem creates a prefilled action item for an alert
func (h *Handler) CreateDiscoveryActionItem(c *gin.Context) {
	var req discoveryActionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body")
			return
		}
	}

	list, err := h.criticalDiscoveries(c.Request.Context(), queryInt(c, "limit", defaultDiscoveryLimit))
	if err != nil {
		respondError(c, err)
		return
	}
	d, ok := discovery.Find(list, c.Param("alert_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Discovery not found"})
		return
	}

	item, err := h.actions.CreateForDiscovery(c.Request.Context(), d, req.AssignedTo, req.DueDate)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"action_item": item})
}

// UpdateActionItem applies a partial update
func (h *Handler) UpdateActionItem(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "Invalid action item ID")
		return
	}

	var req models.ActionItemUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	item, err := h.actions.Update(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"action_item": item})
}

// System Handlers

// HealthCheck reports service and backend health
func (h *Handler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	backend := "ok"
	if err := h.backend.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		backend = err.Error()
	}

	c.JSON(status, gin.H{
		"status":            http.StatusText(status),
		"backend":           backend,
		"batch_state":       h.batch.Snapshot().State,
		"websocket_clients": h.hub.ConnectedClients(),
		"timestamp":         time.Now().UTC(),
	})
}

// GetCacheState lists the cached view keys and whether each is stale
func (h *Handler) GetCacheState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"views": h.cache.Views()})
}
