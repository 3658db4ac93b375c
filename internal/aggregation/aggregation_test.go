package aggregation

import (
	"math"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisshield/discovery-console/internal/models"
)

func intPtr(v int) *int { return &v }

func TestGroupCount(t *testing.T) {
	findings := []models.Finding{
		{FocusArea: &models.CodeName{Code: "ACCESS_CONTROL"}},
		{FocusArea: &models.CodeName{Code: "ACCESS_CONTROL"}},
		{FocusArea: &models.CodeName{Code: "FRAUD"}},
		{},
		{FocusArea: &models.CodeName{}},
	}

	t.Run("Counts Every Item Once", func(t *testing.T) {
		counts := GroupCount(findings, FocusAreaKey)
		total := 0
		for _, c := range counts {
			total += c
		}
		assert.Equal(t, len(findings), total)
		assert.Equal(t, 2, counts["ACCESS_CONTROL"])
		assert.Equal(t, 1, counts["FRAUD"])
		assert.Equal(t, 2, counts["UNKNOWN"])
	})

	t.Run("Empty Input", func(t *testing.T) {
		assert.Empty(t, GroupCount([]models.Finding{}, FocusAreaKey))
	})

	t.Run("Risk Level Falls Back To Severity", func(t *testing.T) {
		items := []models.Finding{
			{RiskAssessment: &models.RiskAssessment{RiskLevel: "HIGH"}, Severity: "LOW"},
			{Severity: "LOW"},
			{},
		}
		counts := GroupCount(items, RiskLevelKey)
		assert.Equal(t, map[string]int{"HIGH": 1, "LOW": 1, "Unknown": 1}, counts)
	})

	t.Run("Risk Level Derived From Score", func(t *testing.T) {
		items := []models.Finding{
			{RiskAssessment: &models.RiskAssessment{RiskScore: 90}, Severity: "LOW"},
			{RiskAssessment: &models.RiskAssessment{RiskScore: 55}},
			{RiskAssessment: &models.RiskAssessment{RiskScore: 140}},
		}
		counts := GroupCount(items, RiskLevelKey)
		assert.Equal(t, map[string]int{"CRITICAL": 2, "HIGH": 1}, counts)
	})

	t.Run("Severity And Module Keys", func(t *testing.T) {
		drilldowns := []models.CriticalDiscoveryDrilldown{
			{Severity: "critical", Module: "FI"},
			{Severity: "CRITICAL", Module: "FI"},
			{Module: ""},
		}
		assert.Equal(t, map[string]int{"CRITICAL": 2, "UNKNOWN": 1}, GroupCount(drilldowns, SeverityKey))
		assert.Equal(t, map[string]int{"FI": 2, "Unknown": 1}, GroupCount(drilldowns, ModuleKey))
	})
}

func TestSumFinancialImpact(t *testing.T) {
	t.Run("Ignores Malformed Amounts", func(t *testing.T) {
		drilldowns := []models.CriticalDiscoveryDrilldown{
			{FinancialImpactUSD: "1000.50"},
			{FinancialImpactUSD: "abc"},
			{FinancialImpactUSD: ""},
			{FinancialImpactUSD: "-20"},
			{FinancialImpactUSD: "NaN"},
			{FinancialImpactUSD: "+Inf"},
			{FinancialImpactUSD: " 99.5 "},
		}
		assert.InDelta(t, 1100.0, SumFinancialImpact(drilldowns, DrilldownImpact), 0.0001)
	})

	t.Run("Appending Never Decreases The Sum", func(t *testing.T) {
		items := []string{"10", "x", "5.5"}
		identity := func(s string) string { return s }
		before := SumFinancialImpact(items, identity)
		for _, extra := range []string{"0", "-1", "bogus", "3"} {
			after := SumFinancialImpact(append(slices.Clone(items), extra), identity)
			assert.GreaterOrEqual(t, after, before, "appending %q", extra)
		}
	})
}

func TestDeriveRiskLevel(t *testing.T) {
	cases := []struct {
		score float64
		want  models.RiskLevel
	}{
		{0, models.RiskLevelLow},
		{25, models.RiskLevelLow},
		{26, models.RiskLevelMedium},
		{50, models.RiskLevelMedium},
		{51, models.RiskLevelHigh},
		{75, models.RiskLevelHigh},
		{76, models.RiskLevelCritical},
		{100, models.RiskLevelCritical},
		{-5, models.RiskLevelLow},
		{140, models.RiskLevelCritical},
		{math.NaN(), models.RiskLevelLow},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, DeriveRiskLevel(tc.score), "score %v", tc.score)
	}
}

func TestSortByRank(t *testing.T) {
	metrics := []models.ConcentrationMetric{
		{DimensionCode: "none-a"},
		{DimensionCode: "third", Rank: intPtr(3)},
		{DimensionCode: "first", Rank: intPtr(1)},
		{DimensionCode: "none-b"},
		{DimensionCode: "second", Rank: intPtr(2)},
	}

	sorted := SortByRank(metrics, ConcentrationRank, MissingRank)

	var codes []string
	for _, m := range sorted {
		codes = append(codes, m.DimensionCode)
	}
	assert.Equal(t, []string{"first", "second", "third", "none-a", "none-b"}, codes)
	assert.Equal(t, "none-a", metrics[0].DimensionCode, "input must not be reordered")

	t.Run("Top Concentrations Caps", func(t *testing.T) {
		var many []models.ConcentrationMetric
		for i := 10; i > 0; i-- {
			many = append(many, models.ConcentrationMetric{Rank: intPtr(i)})
		}
		top := TopConcentrations(many, MaxConcentrations)
		require.Len(t, top, MaxConcentrations)
		assert.Equal(t, 1, *top[0].Rank)
	})
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "1,250", FormatNumber(1250))
	assert.Equal(t, "999", FormatNumber(999))
	assert.Equal(t, "1,234,567", FormatNumber(1234567))
	assert.Equal(t, "7.3", FormatNumber(7.3))
	assert.Equal(t, "12.25", FormatNumber(12.25))
	assert.Equal(t, "-1,000", FormatNumber(-1000))
	assert.Equal(t, "0", FormatNumber(math.NaN()))
}

func TestSummarizeFindings(t *testing.T) {
	now := time.Now()
	findings := []models.Finding{
		{
			Title:                "late",
			FocusArea:            &models.CodeName{Code: "FRAUD"},
			RiskAssessment:       &models.RiskAssessment{RiskScore: 80, RiskLevel: "CRITICAL"},
			MoneyLossCalculation: &models.MoneyLossCalculation{EstimatedLoss: 500},
			DetectedAt:           now,
		},
		{
			Title:                "early",
			FocusArea:            &models.CodeName{Code: "FRAUD"},
			RiskAssessment:       &models.RiskAssessment{RiskScore: 20, RiskLevel: "LOW"},
			MoneyLossCalculation: &models.MoneyLossCalculation{EstimatedLoss: 100},
			DetectedAt:           now.Add(-time.Hour),
		},
		{
			Title:                "no loss",
			MoneyLossCalculation: &models.MoneyLossCalculation{EstimatedLoss: 0},
			DetectedAt:           now.Add(-2 * time.Hour),
		},
	}

	summary := SummarizeFindings(findings)

	assert.Equal(t, 3, summary.TotalFindings)
	assert.Equal(t, 2, summary.ByFocusArea["FRAUD"])
	assert.Equal(t, 1, summary.ByFocusArea["UNKNOWN"])
	assert.InDelta(t, 100.0, summary.TotalRiskScore, 0.001)
	assert.InDelta(t, 600.0, summary.TotalMoneyLoss, 0.001)
	require.Len(t, summary.MoneyLossSeries, 2)
	assert.Equal(t, "early", summary.MoneyLossSeries[0].Title)
	assert.Equal(t, "late", summary.MoneyLossSeries[1].Title)
}

func TestSummarizeDiscoveries(t *testing.T) {
	drilldowns := []models.CriticalDiscoveryDrilldown{
		{AlertID: "a", Module: "FI", Severity: "HIGH", FinancialImpactUSD: "100", DiscoveryCount: 9,
			Discoveries: []models.CriticalDiscovery{{IsFraudIndicator: true}, {}}},
		{AlertID: "b", Module: "FI", Severity: "high", FinancialImpactUSD: "bad", DiscoveryCount: 3},
		{AlertID: "c", Module: "MM", Severity: "LOW"},
		{AlertID: "d", Module: "SD"},
		{AlertID: "e", Module: "BASIS"},
		{AlertID: "f", Module: "HR"},
	}

	summary := SummarizeDiscoveries(drilldowns)

	assert.Equal(t, 6, summary.TotalAlerts)
	assert.Equal(t, 5, summary.TotalDiscoveries)
	assert.InDelta(t, 100.0, summary.FinancialExposure, 0.001)
	assert.Equal(t, 2, summary.BySeverity["HIGH"])
	assert.Equal(t, 1, summary.FraudIndicators)
	require.Len(t, summary.TopModules, TopModuleCount)
	assert.Equal(t, ModuleCount{Module: "FI", Count: 2}, summary.TopModules[0])
	assert.Equal(t, "BASIS", summary.TopModules[1].Module)
}
