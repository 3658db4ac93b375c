package aggregation

import (
	"iter"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const (
	// MaxBullets caps how many fragments SplitIntoBullets yields
	MaxBullets = 4
	// MinBulletLength is the shortest fragment SplitIntoBullets keeps
	MinBulletLength = 20
)

// Metric is a headline value pulled out of a discovery description
type Metric struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// MetricFallback supplies the counts used when no pattern matches
type MetricFallback struct {
	KeyFindings    int
	DiscoveryCount int
	RiskScore      float64
}

var (
	customersPattern  = regexp.MustCompile(`(?i)(?:shows\s+)?(\d{2,6})\s+customers?\s*\(`)
	percentagePattern = regexp.MustCompile(`(?i)\((\d+(?:\.\d+)?)\s*%\s*of`)
	averagePattern    = regexp.MustCompile(`(?i)(?:averaging|average|avg)\s+(\d+(?:\.\d+)?)\s*%`)
)

// ExtractCustomers finds an affected customer count such as "1250 customers ("
func ExtractCustomers(text string) (Metric, bool) {
	m := customersPattern.FindStringSubmatch(text)
	if m == nil {
		return Metric{}, false
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Metric{}, false
	}
	return Metric{Value: FormatNumber(n), Label: "CUSTOMERS"}, true
}

// ExtractAffectedPercentage finds a share of total such as "(12.5% of"
func ExtractAffectedPercentage(text string) (Metric, bool) {
	m := percentagePattern.FindStringSubmatch(text)
	if m == nil {
		return Metric{}, false
	}
	return Metric{Value: m[1] + "%", Label: "AFFECTED"}, true
}

// ExtractAverageGrowth finds an average rate such as "averaging 7.3%"
func ExtractAverageGrowth(text string) (Metric, bool) {
	m := averagePattern.FindStringSubmatch(text)
	if m == nil {
		return Metric{}, false
	}
	return Metric{Value: m[1] + "%", Label: "AVG GROWTH"}, true
}

var extractors = []func(string) (Metric, bool){
	ExtractCustomers,
	ExtractAffectedPercentage,
	ExtractAverageGrowth,
}

// ExtractMetricsFromText runs each extractor once, in priority order. When
// nothing matches it falls back to a findings count and the risk score, so
// the result is never empty.
func ExtractMetricsFromText(text string, fallback MetricFallback) []Metric {
	var metrics []Metric
	for _, extract := range extractors {
		if m, ok := extract(text); ok {
			metrics = append(metrics, m)
		}
	}
	if len(metrics) > 0 {
		return metrics
	}

	count := fallback.KeyFindings
	if count == 0 {
		count = fallback.DiscoveryCount
	}
	metrics = append(metrics, Metric{Value: FormatNumber(float64(count)), Label: "FINDINGS"})
	if fallback.RiskScore != 0 {
		metrics = append(metrics, Metric{Value: FormatNumber(fallback.RiskScore), Label: "RISK SCORE"})
	}
	return metrics
}

// SplitIntoBullets lazily splits prose into at most MaxBullets sentence
// fragments. A boundary is '.' or ';' followed by whitespace and an uppercase
// letter; the punctuation stays with the preceding fragment. Fragments
// shorter than MinBulletLength are dropped. Each range re-scans text.
func SplitIntoBullets(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		emitted := 0
		emit := func(fragment string) bool {
			fragment = strings.TrimSpace(fragment)
			if len(fragment) < MinBulletLength {
				return true
			}
			emitted++
			return yield(fragment) && emitted < MaxBullets
		}

		start := 0
		for i := 0; i < len(text); i++ {
			if text[i] != '.' && text[i] != ';' {
				continue
			}
			j := i + 1
			for j < len(text) && unicode.IsSpace(rune(text[j])) {
				j++
			}
			if j == i+1 || j >= len(text) || !isUpperAt(text, j) {
				continue
			}
			if !emit(text[start : i+1]) {
				return
			}
			start = j
			i = j - 1
		}
		emit(text[start:])
	}
}

func isUpperAt(text string, i int) bool {
	for _, r := range text[i:] {
		return unicode.IsUpper(r)
	}
	return false
}
