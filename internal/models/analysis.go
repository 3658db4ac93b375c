package models

import "time"

// ReportLevel controls how much detail the backend writes per analyzed alert
type ReportLevel string

const (
	ReportLevelSummary ReportLevel = "summary"
	ReportLevelFull    ReportLevel = "full"
)

// Valid reports whether the level is one the backend accepts
func (r ReportLevel) Valid() bool {
	return r == ReportLevelSummary || r == ReportLevelFull
}

// DashboardKPIs is the findings-dashboard KPI summary
type DashboardKPIs struct {
	TotalFindings  int     `json:"total_findings"`
	TotalRiskScore float64 `json:"total_risk_score"`
	TotalMoneyLoss float64 `json:"total_money_loss"`
	AnalysisRuns   int     `json:"analysis_runs"`
}

// AlertDashboardKPIs is the alert-dashboard KPI summary
type AlertDashboardKPIs struct {
	TotalCriticalDiscoveries  int            `json:"total_critical_discoveries"`
	TotalAlertsAnalyzed       int            `json:"total_alerts_analyzed"`
	TotalFinancialExposureUSD string         `json:"total_financial_exposure_usd"`
	AvgRiskScore              float64        `json:"avg_risk_score"`
	AlertsBySeverity          map[string]int `json:"alerts_by_severity"`
	AlertsByFocusArea         map[string]int `json:"alerts_by_focus_area"`
	AlertsByModule            map[string]int `json:"alerts_by_module"`
	OpenInvestigations        int            `json:"open_investigations"`
	OpenActionItems           int            `json:"open_action_items"`
}

// DataSource is an uploaded file registered with the backend
type DataSource struct {
	ID           int64     `json:"id"`
	DataSourceID int64     `json:"data_source_id,omitempty"`
	Filename     string    `json:"filename"`
	FileFormat   string    `json:"file_format"`
	DataType     string    `json:"data_type"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// EffectiveID returns data_source_id when the upload response carries it
func (d DataSource) EffectiveID() int64 {
	if d.DataSourceID != 0 {
		return d.DataSourceID
	}
	return d.ID
}

// AnalysisRun is one execution of the findings analysis over a data source
type AnalysisRun struct {
	ID                  int64          `json:"id"`
	DataSourceID        int64          `json:"data_source_id"`
	Status              string         `json:"status"`
	TotalFindings       int            `json:"total_findings"`
	FindingsByFocusArea map[string]int `json:"findings_by_focus_area"`
	TotalRiskScore      float64        `json:"total_risk_score"`
	TotalMoneyLoss      float64        `json:"total_money_loss"`
	StartedAt           time.Time      `json:"started_at"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
}

// AlertFolder is an alert artifact directory found by a folder scan
type AlertFolder struct {
	Path           string `json:"path"`
	AlertID        string `json:"alert_id"`
	AlertName      string `json:"alert_name"`
	Module         string `json:"module"`
	HasCode        bool   `json:"has_code"`
	HasExplanation bool   `json:"has_explanation"`
	HasMetadata    bool   `json:"has_metadata"`
	HasSummary     bool   `json:"has_summary"`
	IsComplete     bool   `json:"is_complete"`
}

// ScanFoldersRequest asks the backend to look for alert folders
type ScanFoldersRequest struct {
	BasePath  string `json:"base_path" validate:"required"`
	Recursive bool   `json:"recursive"`
}

// ScanFoldersResponse lists alert folders under a base path
type ScanFoldersResponse struct {
	Folders    []AlertFolder `json:"folders"`
	Total      int           `json:"total"`
	Complete   int           `json:"complete"`
	Incomplete int           `json:"incomplete"`
}

// AnalyzeAndSaveRequest analyzes one alert directory synchronously
type AnalyzeAndSaveRequest struct {
	DirectoryPath string      `json:"directory_path"`
	ReportLevel   ReportLevel `json:"report_level,omitempty"`
	UseLLM        bool        `json:"use_llm"`
}

// AnalyzeAndSaveResponse is the result of a single alert analysis
type AnalyzeAndSaveResponse struct {
	FindingID         int64       `json:"finding_id"`
	Message           string      `json:"message"`
	FocusArea         string      `json:"focus_area"`
	Severity          string      `json:"severity"`
	RiskScore         float64     `json:"risk_score"`
	MoneyLossEstimate float64     `json:"money_loss_estimate"`
	MarkdownPath      string      `json:"markdown_path,omitempty"`
	ReportLevel       ReportLevel `json:"report_level"`
}

// AnalyzeBatchRequest starts a background batch analysis
type AnalyzeBatchRequest struct {
	DirectoryPaths []string    `json:"directory_paths"`
	ReportLevel    ReportLevel `json:"report_level"`
}

// BatchJobResponse acknowledges a started batch job
type BatchJobResponse struct {
	JobID       string `json:"job_id"`
	Message     string `json:"message"`
	TotalAlerts int    `json:"total_alerts"`
}

// Batch job status values reported by the backend
const (
	BatchStatusPending    = "pending"
	BatchStatusProcessing = "processing"
	BatchStatusCompleted  = "completed"
	BatchStatusFailed     = "failed"
)

// BatchItemResult is the backend's view of one alert inside a batch job
type BatchItemResult struct {
	Directory string `json:"directory"`
	AlertName string `json:"alert_name"`
	Status    string `json:"status"`
	FindingID *int64 `json:"finding_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BatchStatusResponse is one poll of a batch job
type BatchStatusResponse struct {
	JobID     string            `json:"job_id"`
	Status    string            `json:"status"`
	Total     int               `json:"total"`
	Completed int               `json:"completed"`
	Failed    int               `json:"failed"`
	Results   []BatchItemResult `json:"results"`
}

// Terminal reports whether the job has finished on the backend
func (b BatchStatusResponse) Terminal() bool {
	return b.Status == BatchStatusCompleted || b.Status == BatchStatusFailed
}

// ArtifactUploadResponse is returned after uploading an alert's artifact files
type ArtifactUploadResponse struct {
	ArtifactsPath string   `json:"artifacts_path"`
	AlertName     string   `json:"alert_name,omitempty"`
	AlertID       string   `json:"alert_id,omitempty"`
	Files         []string `json:"files,omitempty"`
}
