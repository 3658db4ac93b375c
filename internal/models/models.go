// Package models holds the backend entity shapes consumed by the console.
package models

import (
	"time"
)

// Severity represents a finding or alert severity
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// RiskLevel represents the bucket a risk score falls into
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// CodeName is a coded classification such as a focus area or issue type
type CodeName struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// RiskAssessment holds the scored risk of a finding
type RiskAssessment struct {
	RiskScore float64 `json:"risk_score"`
	RiskLevel string  `json:"risk_level"`
}

// MoneyLossCalculation holds the estimated financial loss of a finding
type MoneyLossCalculation struct {
	EstimatedLoss float64 `json:"estimated_loss"`
	Confidence    float64 `json:"confidence"`
}

// Finding represents one analyzed compliance issue
type Finding struct {
	ID                   int64                 `json:"id"`
	Title                string                `json:"title"`
	Description          string                `json:"description"`
	Severity             string                `json:"severity"`
	Status               string                `json:"status"`
	FocusArea            *CodeName             `json:"focus_area,omitempty"`
	IssueType            *CodeName             `json:"issue_type,omitempty"`
	RiskAssessment       *RiskAssessment       `json:"risk_assessment,omitempty"`
	MoneyLossCalculation *MoneyLossCalculation `json:"money_loss_calculation,omitempty"`
	DetectedAt           time.Time             `json:"detected_at"`
}

// FindingFilter narrows a findings listing. Empty fields are not sent.
type FindingFilter struct {
	FocusArea string `json:"focus_area,omitempty" form:"focus_area"`
	Severity  string `json:"severity,omitempty" form:"severity"`
	Status    string `json:"status,omitempty" form:"status"`
	DateFrom  string `json:"date_from,omitempty" form:"date_from"`
	DateTo    string `json:"date_to,omitempty" form:"date_to"`
}

// Params returns the filter as query parameters, omitting empty values
func (f FindingFilter) Params() map[string]string {
	params := make(map[string]string)
	for k, v := range map[string]string{
		"focus_area": f.FocusArea,
		"severity":   f.Severity,
		"status":     f.Status,
		"date_from":  f.DateFrom,
		"date_to":    f.DateTo,
	} {
		if v != "" {
			params[k] = v
		}
	}
	return params
}

// CriticalDiscovery is one sub-observation within an analyzed alert
type CriticalDiscovery struct {
	ID                int64     `json:"id"`
	AlertAnalysisID   int64     `json:"alert_analysis_id"`
	DiscoveryOrder    int       `json:"discovery_order"`
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	AffectedEntity    string    `json:"affected_entity,omitempty"`
	AffectedEntityID  string    `json:"affected_entity_id,omitempty"`
	MetricValue       string    `json:"metric_value,omitempty"`
	MetricUnit        string    `json:"metric_unit,omitempty"`
	PercentageOfTotal string    `json:"percentage_of_total,omitempty"`
	IsFraudIndicator  bool      `json:"is_fraud_indicator"`
	CreatedAt         time.Time `json:"created_at"`
}

// ConcentrationMetric describes how flagged records cluster on one dimension
type ConcentrationMetric struct {
	ID                int64     `json:"id"`
	AlertAnalysisID   int64     `json:"alert_analysis_id"`
	DimensionType     string    `json:"dimension_type"`
	DimensionCode     string    `json:"dimension_code"`
	DimensionName     string    `json:"dimension_name,omitempty"`
	RecordCount       *int64    `json:"record_count,omitempty"`
	ValueLocal        string    `json:"value_local,omitempty"`
	ValueUSD          string    `json:"value_usd,omitempty"`
	PercentageOfTotal string    `json:"percentage_of_total,omitempty"`
	Rank              *int      `json:"rank,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// DisplayName returns the dimension name, falling back to its code
func (m ConcentrationMetric) DisplayName() string {
	if m.DimensionName != "" {
		return m.DimensionName
	}
	return m.DimensionCode
}

// KeyFinding is a ranked headline finding of an alert analysis
type KeyFinding struct {
	ID                 int64     `json:"id"`
	AlertAnalysisID    int64     `json:"alert_analysis_id"`
	FindingRank        *int      `json:"finding_rank,omitempty"`
	FindingText        string    `json:"finding_text"`
	FindingCategory    string    `json:"finding_category,omitempty"`
	FinancialImpactUSD string    `json:"financial_impact_usd,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Category returns the finding category or "General"
func (k KeyFinding) Category() string {
	if k.FindingCategory == "" {
		return "General"
	}
	return k.FindingCategory
}

// CriticalDiscoveryDrilldown is one alert's aggregated discovery record
type CriticalDiscoveryDrilldown struct {
	AlertID              string                 `json:"alert_id"`
	AlertName            string                 `json:"alert_name"`
	Module               string                 `json:"module"`
	FocusArea            string                 `json:"focus_area"`
	Severity             string                 `json:"severity"`
	DiscoveryCount       int                    `json:"discovery_count"`
	FinancialImpactUSD   string                 `json:"financial_impact_usd,omitempty"`
	Discoveries          []CriticalDiscovery    `json:"discoveries"`
	ConcentrationMetrics []ConcentrationMetric  `json:"concentration_metrics,omitempty"`
	KeyFindings          []KeyFinding           `json:"key_findings,omitempty"`
	RecordsAffected      *int64                 `json:"records_affected,omitempty"`
	UniqueEntities       *int64                 `json:"unique_entities,omitempty"`
	PeriodStart          string                 `json:"period_start,omitempty"`
	PeriodEnd            string                 `json:"period_end,omitempty"`
	RiskScore            *float64               `json:"risk_score,omitempty"`
	RawSummaryData       map[string]interface{} `json:"raw_summary_data,omitempty"`
	BusinessPurpose      string                 `json:"business_purpose,omitempty"`
	Parameters           map[string]interface{} `json:"parameters,omitempty"`
}

// EffectiveDiscoveryCount prefers the populated discoveries list over the
// reported count.
func (d CriticalDiscoveryDrilldown) EffectiveDiscoveryCount() int {
	if len(d.Discoveries) > 0 {
		return len(d.Discoveries)
	}
	return d.DiscoveryCount
}

// HasFraudIndicator reports whether any discovery is flagged as fraud
func (d CriticalDiscoveryDrilldown) HasFraudIndicator() bool {
	for _, disc := range d.Discoveries {
		if disc.IsFraudIndicator {
			return true
		}
	}
	return false
}

// PrimaryAnalysisID returns the analysis id backing the first discovery
func (d CriticalDiscoveryDrilldown) PrimaryAnalysisID() (int64, bool) {
	if len(d.Discoveries) == 0 || d.Discoveries[0].AlertAnalysisID == 0 {
		return 0, false
	}
	return d.Discoveries[0].AlertAnalysisID, true
}

// ActionType represents the urgency class of an action item
type ActionType string

const (
	ActionTypeImmediate          ActionType = "IMMEDIATE"
	ActionTypeShortTerm          ActionType = "SHORT_TERM"
	ActionTypeProcessImprovement ActionType = "PROCESS_IMPROVEMENT"
)

// ActionStatus represents the remediation state of an action item
type ActionStatus string

const (
	ActionStatusOpen       ActionStatus = "OPEN"
	ActionStatusInReview   ActionStatus = "IN_REVIEW"
	ActionStatusRemediated ActionStatus = "REMEDIATED"
)

// ActionItem represents a remediation task
type ActionItem struct {
	ID              int64        `json:"id"`
	AlertAnalysisID int64        `json:"alert_analysis_id"`
	ActionType      ActionType   `json:"action_type"`
	Priority        *int         `json:"priority,omitempty"`
	Title           string       `json:"title"`
	Description     string       `json:"description,omitempty"`
	Status          ActionStatus `json:"status"`
	AssignedTo      string       `json:"assigned_to,omitempty"`
	DueDate         string       `json:"due_date,omitempty"`
	ResolutionNotes string       `json:"resolution_notes,omitempty"`
	ResolvedAt      *time.Time   `json:"resolved_at,omitempty"`
	ResolvedBy      string       `json:"resolved_by,omitempty"`
	FindingID       *int64       `json:"finding_id,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// ActionItemCreate is the payload for creating an action item
type ActionItemCreate struct {
	AlertAnalysisID int64      `json:"alert_analysis_id" validate:"required,gt=0"`
	ActionType      ActionType `json:"action_type" validate:"required,oneof=IMMEDIATE SHORT_TERM PROCESS_IMPROVEMENT"`
	Priority        int        `json:"priority,omitempty" validate:"omitempty,min=1,max=5"`
	Title           string     `json:"title" validate:"required,max=500"`
	Description     string     `json:"description,omitempty"`
	Status          string     `json:"status,omitempty" validate:"omitempty,oneof=OPEN IN_REVIEW REMEDIATED"`
	AssignedTo      string     `json:"assigned_to,omitempty"`
	DueDate         string     `json:"due_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// ActionItemUpdate is a partial update; nil fields are left unchanged
type ActionItemUpdate struct {
	ActionType      *ActionType   `json:"action_type,omitempty" validate:"omitempty,oneof=IMMEDIATE SHORT_TERM PROCESS_IMPROVEMENT"`
	Priority        *int          `json:"priority,omitempty" validate:"omitempty,min=1,max=5"`
	Title           *string       `json:"title,omitempty" validate:"omitempty,min=1,max=500"`
	Description     *string       `json:"description,omitempty"`
	Status          *ActionStatus `json:"status,omitempty" validate:"omitempty,oneof=OPEN IN_REVIEW REMEDIATED"`
	AssignedTo      *string       `json:"assigned_to,omitempty"`
	DueDate         *string       `json:"due_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ResolutionNotes *string       `json:"resolution_notes,omitempty"`
	ResolvedBy      *string       `json:"resolved_by,omitempty"`
}

// DeleteResponse is returned by every delete endpoint
type DeleteResponse struct {
	Success        bool           `json:"success"`
	Message        string         `json:"message"`
	DeletedRecords map[string]int `json:"deleted_records,omitempty"`
}
