// Package discovery builds the detail view of one alert's discoveries. The
// same view backs every presentation mode; modes only change the chrome.
package discovery

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aegisshield/discovery-console/internal/aggregation"
	"github.com/aegisshield/discovery-console/internal/models"
)

// Mode is how the detail view is presented
type Mode string

const (
	ModePage    Mode = "page"
	ModeModal   Mode = "modal"
	ModeInline  Mode = "inline"
	ModePopover Mode = "popover"
)

const notAvailable = "N/A"

// FraudWarning is shown when any discovery is a fraud indicator
const FraudWarning = "Fraud Indicator Detected - Immediate Review Required"

// ParseMode parses a mode name; empty means ModePage
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModePage, nil
	case ModePage, ModeModal, ModeInline, ModePopover:
		return m, nil
	default:
		return "", fmt.Errorf("unknown presentation mode %q", s)
	}
}

// Chrome holds the mode-dependent presentation flags
type Chrome struct {
	// Closable is false in popover mode, where the container closes it
	Closable bool `json:"closable"`
	// Overlay wraps the view in a dismissable backdrop
	Overlay bool `json:"overlay"`
}

func chromeFor(m Mode) Chrome {
	switch m {
	case ModeModal:
		return Chrome{Closable: true, Overlay: true}
	case ModeInline:
		return Chrome{Closable: true}
	default:
		return Chrome{}
	}
}

// KeyFindingRow is one ranked key finding
type KeyFindingRow struct {
	Rank     *int   `json:"rank,omitempty"`
	Text     string `json:"text"`
	Category string `json:"category"`
}

// ConcentrationRow is one entity in the top concentrations table
type ConcentrationRow struct {
	Entity  string `json:"entity"`
	Records string `json:"records"`
	Share   string `json:"share"`
}

// CriticalDiscoverySection is the headline discovery with its extracted
// metrics and bullet points
type CriticalDiscoverySection struct {
	Title   string               `json:"title"`
	Bullets []string             `json:"bullets"`
	Metrics []aggregation.Metric `json:"metrics"`
}

// DetailView is everything shown for one alert
type DetailView struct {
	Mode              Mode                      `json:"mode"`
	Chrome            Chrome                    `json:"chrome"`
	AlertID           string                    `json:"alert_id"`
	AlertName         string                    `json:"alert_name"`
	Module            string                    `json:"module"`
	Severity          string                    `json:"severity"`
	RiskLevel         models.RiskLevel          `json:"risk_level,omitempty"`
	FocusArea         string                    `json:"focus_area"`
	FraudWarning      string                    `json:"fraud_warning,omitempty"`
	Records           string                    `json:"records"`
	Period            string                    `json:"period"`
	FinancialExposure string                    `json:"financial_exposure"`
	DiscoveryCount    int                       `json:"discovery_count"`
	CountMismatch     bool                      `json:"count_mismatch"`
	KeyFindings       []KeyFindingRow           `json:"key_findings"`
	CriticalDiscovery *CriticalDiscoverySection `json:"critical_discovery,omitempty"`
	Concentrations    []ConcentrationRow        `json:"concentrations"`
	ConcentrationNote string                    `json:"concentration_note,omitempty"`
	CanCreateAction   bool                      `json:"can_create_action"`
}

// BuildDetailView renders d for the given mode
func BuildDetailView(d models.CriticalDiscoveryDrilldown, mode Mode) DetailView {
	_, hasAnalysis := d.PrimaryAnalysisID()
	view := DetailView{
		Mode:              mode,
		Chrome:            chromeFor(mode),
		AlertID:           d.AlertID,
		AlertName:         d.AlertName,
		Module:            d.Module,
		Severity:          d.Severity,
		FocusArea:         d.FocusArea,
		Records:           records(d),
		Period:            FormatPeriod(d.PeriodStart, d.PeriodEnd),
		FinancialExposure: currency(d.FinancialImpactUSD),
		DiscoveryCount:    d.EffectiveDiscoveryCount(),
		CountMismatch:     len(d.Discoveries) > 0 && len(d.Discoveries) != d.DiscoveryCount,
		KeyFindings:       []KeyFindingRow{},
		Concentrations:    []ConcentrationRow{},
		CanCreateAction:   hasAnalysis,
	}
	if d.RiskScore != nil {
		view.RiskLevel = aggregation.DeriveRiskLevel(*d.RiskScore)
	}
	if d.HasFraudIndicator() {
		view.FraudWarning = FraudWarning
	}

	for _, k := range aggregation.SortByRank(d.KeyFindings, aggregation.KeyFindingRank, aggregation.MissingRank) {
		view.KeyFindings = append(view.KeyFindings, KeyFindingRow{
			Rank:     k.FindingRank,
			Text:     k.FindingText,
			Category: k.Category(),
		})
	}

	if len(d.Discoveries) > 0 {
		first := d.Discoveries[0]
		fallback := aggregation.MetricFallback{
			KeyFindings:    len(d.KeyFindings),
			DiscoveryCount: d.DiscoveryCount,
		}
		if d.RiskScore != nil {
			fallback.RiskScore = *d.RiskScore
		}
		view.CriticalDiscovery = &CriticalDiscoverySection{
			Title:   first.Title,
			Bullets: []string{},
			Metrics: aggregation.ExtractMetricsFromText(first.Description, fallback),
		}
		if first.Description != "" {
			view.CriticalDiscovery.Bullets = slices.Collect(aggregation.SplitIntoBullets(first.Description))
		}
	}

	top := aggregation.TopConcentrations(d.ConcentrationMetrics, aggregation.MaxConcentrations)
	for _, m := range top {
		view.Concentrations = append(view.Concentrations, ConcentrationRow{
			Entity:  m.DisplayName(),
			Records: count(m.RecordCount),
			Share:   percent(m.PercentageOfTotal),
		})
	}
	if len(top) > 0 {
		view.ConcentrationNote = fmt.Sprintf("%s has the highest concentration with %s records (%s of total).",
			top[0].DisplayName(), count(top[0].RecordCount), percent(top[0].PercentageOfTotal))
	}
	return view
}

// DefaultSelection picks the alert shown when none is selected
func DefaultSelection(current string, drilldowns []models.CriticalDiscoveryDrilldown) string {
	if current != "" || len(drilldowns) == 0 {
		return current
	}
	return drilldowns[0].AlertID
}

// Find returns the drilldown with the given alert id
func Find(drilldowns []models.CriticalDiscoveryDrilldown, alertID string) (models.CriticalDiscoveryDrilldown, bool) {
	i := slices.IndexFunc(drilldowns, func(d models.CriticalDiscoveryDrilldown) bool {
		return d.AlertID == alertID
	})
	if i < 0 {
		return models.CriticalDiscoveryDrilldown{}, false
	}
	return drilldowns[i], true
}

// FormatPeriod renders an analysis period as "March 2025 vs Prior Year"
// when both ends are known
func FormatPeriod(start, end string) string {
	switch {
	case start != "" && end != "":
		return monthYear(start) + " vs Prior Year"
	case start != "":
		return monthYear(start)
	case end != "":
		return monthYear(end)
	default:
		return notAvailable
	}
}

func monthYear(s string) string {
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("January 2006")
		}
	}
	return s
}

func records(d models.CriticalDiscoveryDrilldown) string {
	for _, v := range []*int64{d.RecordsAffected, d.UniqueEntities} {
		if v != nil && *v != 0 {
			return aggregation.FormatNumber(float64(*v))
		}
	}
	if d.DiscoveryCount != 0 {
		return aggregation.FormatNumber(float64(d.DiscoveryCount))
	}
	return notAvailable
}

func count(v *int64) string {
	if v == nil {
		return notAvailable
	}
	return aggregation.FormatNumber(float64(*v))
}

func percent(s string) string {
	if s == "" {
		return notAvailable
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s + "%"
	}
	return aggregation.FormatNumber(v) + "%"
}

func currency(s string) string {
	if s == "" {
		return notAvailable
	}
	return "$" + aggregation.FormatNumber(aggregation.ParseAmount(s))
}
