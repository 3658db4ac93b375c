package aggregation

import (
	"sort"
	"time"

	"github.com/aegisshield/discovery-console/internal/models"
)

// TopModuleCount is how many modules a discovery summary highlights
const TopModuleCount = 4

// MaxConcentrations is how many concentration metrics a detail view shows
const MaxConcentrations = 6

// LossPoint is one entry of the money-loss time series
type LossPoint struct {
	Date   time.Time `json:"date"`
	Amount float64   `json:"amount"`
	Title  string    `json:"title"`
}

// FindingsSummary is the findings dashboard aggregate
type FindingsSummary struct {
	TotalFindings   int            `json:"total_findings"`
	ByFocusArea     map[string]int `json:"by_focus_area"`
	ByRiskLevel     map[string]int `json:"by_risk_level"`
	TotalRiskScore  float64        `json:"total_risk_score"`
	TotalMoneyLoss  float64        `json:"total_money_loss"`
	MoneyLossSeries []LossPoint    `json:"money_loss_series"`
}

// ModuleCount pairs a module with its alert count
type ModuleCount struct {
	Module string `json:"module"`
	Count  int    `json:"count"`
}

// DiscoverySummary is the alert discoveries dashboard aggregate
type DiscoverySummary struct {
	TotalAlerts       int            `json:"total_alerts"`
	TotalDiscoveries  int            `json:"total_discoveries"`
	FinancialExposure float64        `json:"financial_exposure"`
	BySeverity        map[string]int `json:"by_severity"`
	ByModule          map[string]int `json:"by_module"`
	TopModules        []ModuleCount  `json:"top_modules"`
	FraudIndicators   int            `json:"fraud_indicators"`
}

// SummarizeFindings aggregates findings for the findings dashboard
func SummarizeFindings(findings []models.Finding) FindingsSummary {
	summary := FindingsSummary{
		TotalFindings:   len(findings),
		ByFocusArea:     GroupCount(findings, FocusAreaKey),
		ByRiskLevel:     GroupCount(findings, RiskLevelKey),
		MoneyLossSeries: []LossPoint{},
	}

	for _, f := range findings {
		if f.RiskAssessment != nil && f.RiskAssessment.RiskScore > 0 {
			summary.TotalRiskScore += f.RiskAssessment.RiskScore
		}
		if f.MoneyLossCalculation == nil || !(f.MoneyLossCalculation.EstimatedLoss > 0) {
			continue
		}
		summary.TotalMoneyLoss += f.MoneyLossCalculation.EstimatedLoss
		summary.MoneyLossSeries = append(summary.MoneyLossSeries, LossPoint{
			Date:   f.DetectedAt,
			Amount: f.MoneyLossCalculation.EstimatedLoss,
			Title:  f.Title,
		})
	}

	sort.SliceStable(summary.MoneyLossSeries, func(i, j int) bool {
		return summary.MoneyLossSeries[i].Date.Before(summary.MoneyLossSeries[j].Date)
	})
	return summary
}

// SummarizeDiscoveries aggregates drilldowns for the discoveries dashboard
func SummarizeDiscoveries(drilldowns []models.CriticalDiscoveryDrilldown) DiscoverySummary {
	summary := DiscoverySummary{
		TotalAlerts:       len(drilldowns),
		FinancialExposure: SumFinancialImpact(drilldowns, DrilldownImpact),
		BySeverity:        GroupCount(drilldowns, SeverityKey),
		ByModule:          GroupCount(drilldowns, ModuleKey),
	}

	for _, d := range drilldowns {
		summary.TotalDiscoveries += d.EffectiveDiscoveryCount()
		if d.HasFraudIndicator() {
			summary.FraudIndicators++
		}
	}

	summary.TopModules = topModules(summary.ByModule, TopModuleCount)
	return summary
}

func topModules(byModule map[string]int, n int) []ModuleCount {
	modules := make([]ModuleCount, 0, len(byModule))
	for module, count := range byModule {
		modules = append(modules, ModuleCount{Module: module, Count: count})
	}
	sort.Slice(modules, func(i, j int) bool {
		if modules[i].Count != modules[j].Count {
			return modules[i].Count > modules[j].Count
		}
		return modules[i].Module < modules[j].Module
	})
	if len(modules) > n {
		modules = modules[:n]
	}
	return modules
}
