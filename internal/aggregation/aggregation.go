// Package aggregation derives dashboard summaries from findings and discoveries.
// Every function here is pure and total: no I/O, and malformed inputs degrade
// to zero values instead of errors.
package aggregation

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/aegisshield/discovery-console/internal/models"
)

// MissingRank is the sort position assigned to items without a rank
const MissingRank = 999

// GroupCount counts items per key. Every item contributes exactly one count.
func GroupCount[T any](items []T, key func(T) string) map[string]int {
	counts := make(map[string]int)
	for _, item := range items {
		counts[key(item)]++
	}
	return counts
}

// FocusAreaKey groups findings by focus area code
func FocusAreaKey(f models.Finding) string {
	if f.FocusArea == nil || f.FocusArea.Code == "" {
		return "UNKNOWN"
	}
	return f.FocusArea.Code
}

// RiskLevelKey groups findings by risk level, then severity. An assessment
// with a score but no level falls into the score's bucket.
func RiskLevelKey(f models.Finding) string {
	if ra := f.RiskAssessment; ra != nil {
		if ra.RiskLevel != "" {
			return ra.RiskLevel
		}
		return string(DeriveRiskLevel(ra.RiskScore))
	}
	if f.Severity != "" {
		return f.Severity
	}
	return "Unknown"
}

// SeverityKey groups drilldowns by upper-cased severity
func SeverityKey(d models.CriticalDiscoveryDrilldown) string {
	if d.Severity == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(d.Severity)
}

// ModuleKey groups drilldowns by SAP module
func ModuleKey(d models.CriticalDiscoveryDrilldown) string {
	if d.Module == "" {
		return "Unknown"
	}
	return d.Module
}

// ParseAmount parses a decimal amount string. Anything that is not a finite,
// non-negative number yields 0.
func ParseAmount(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// SumFinancialImpact sums parsed amounts across items
func SumFinancialImpact[T any](items []T, amount func(T) string) float64 {
	var total float64
	for _, item := range items {
		total += ParseAmount(amount(item))
	}
	return total
}

// DrilldownImpact returns a drilldown's financial impact string
func DrilldownImpact(d models.CriticalDiscoveryDrilldown) string {
	return d.FinancialImpactUSD
}

// DeriveRiskLevel buckets a 0-100 risk score. Scores outside the range clamp
// to the nearest bucket and NaN is treated as LOW.
func DeriveRiskLevel(score float64) models.RiskLevel {
	switch {
	case math.IsNaN(score):
		return models.RiskLevelLow
	case score >= 76:
		return models.RiskLevelCritical
	case score >= 51:
		return models.RiskLevelHigh
	case score >= 26:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

// SortByRank returns a stably sorted copy of items in ascending rank order.
// Items without a rank sort as if ranked missing.
func SortByRank[T any](items []T, rank func(T) (int, bool), missing int) []T {
	sorted := make([]T, len(items))
	copy(sorted, items)

	key := func(item T) int {
		if r, ok := rank(item); ok {
			return r
		}
		return missing
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return key(sorted[i]) < key(sorted[j])
	})
	return sorted
}

// ConcentrationRank reads the rank of a concentration metric
func ConcentrationRank(m models.ConcentrationMetric) (int, bool) {
	if m.Rank == nil {
		return 0, false
	}
	return *m.Rank, true
}

// KeyFindingRank reads the rank of a key finding
func KeyFindingRank(k models.KeyFinding) (int, bool) {
	if k.FindingRank == nil {
		return 0, false
	}
	return *k.FindingRank, true
}

// TopConcentrations returns at most n concentration metrics in rank order
func TopConcentrations(metrics []models.ConcentrationMetric, n int) []models.ConcentrationMetric {
	sorted := SortByRank(metrics, ConcentrationRank, MissingRank)
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// FormatNumber renders a number with thousands separators. Fractional values
// keep up to two decimals.
func FormatNumber(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}

	rounded := math.Round(v*100) / 100
	whole := math.Floor(rounded)
	frac := rounded - whole

	digits := strconv.FormatFloat(whole, 'f', 0, 64)
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if frac > 0.0001 {
		decimals := strconv.FormatFloat(frac, 'f', 2, 64)
		decimals = strings.TrimRight(decimals[1:], "0")
		b.WriteString(decimals)
	}
	return b.String()
}
