package cache

import (
	"net/url"
	"sort"
	"strings"
)

// View names a cached backend query
type View string

const (
	ViewFindings            View = "findings"
	ViewKPIs                View = "kpis"
	ViewCriticalDiscoveries View = "critical-discoveries"
	ViewAlertDashboardKPIs  View = "alert-dashboard-kpis"
	ViewActionQueue         View = "action-queue"
	ViewAnalysisRuns        View = "analysis-runs"
	ViewDataSources         View = "data-sources"
)

// Key identifies one cached query: a view plus its parameters
type Key struct {
	Name   View
	Params map[string]string
}

// NewKey builds a key from alternating name/value parameter pairs
func NewKey(name View, kv ...string) Key {
	k := Key{Name: name}
	for i := 0; i+1 < len(kv); i += 2 {
		if k.Params == nil {
			k.Params = make(map[string]string)
		}
		k.Params[kv[i]] = kv[i+1]
	}
	return k
}

// String returns the canonical form name?k=v&... with sorted parameters.
// Empty parameter values are dropped, so a filter left blank and a filter
// never set share one key.
func (k Key) String() string {
	names := make([]string, 0, len(k.Params))
	for p, v := range k.Params {
		if v != "" {
			names = append(names, p)
		}
	}
	if len(names) == 0 {
		return string(k.Name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(string(k.Name))
	b.WriteByte('?')
	for i, p := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(k.Params[p]))
	}
	return b.String()
}

// Mutation names a successful backend write that makes cached views stale
type Mutation string

const (
	MutationDiscoveryDeleted      Mutation = "discovery-deleted"
	MutationAllDiscoveriesDeleted Mutation = "all-discoveries-deleted"
	MutationBatchAnalyzed         Mutation = "batch-analyzed"
	MutationAlertAnalyzed         Mutation = "alert-analyzed"
	MutationArtifactsAnalyzed     Mutation = "artifacts-analyzed"
	MutationFileAnalyzed          Mutation = "file-analyzed"
	MutationActionItemCreated     Mutation = "action-item-created"
	MutationActionItemUpdated     Mutation = "action-item-updated"
)

var (
	discoveryRemovalViews = []View{
		ViewCriticalDiscoveries,
		ViewAlertDashboardKPIs,
		ViewKPIs,
		ViewFindings,
		ViewActionQueue,
	}
	alertAnalysisViews = []View{
		ViewFindings,
		ViewKPIs,
		ViewCriticalDiscoveries,
		ViewAlertDashboardKPIs,
		ViewAnalysisRuns,
	}
	actionItemViews = []View{
		ViewActionQueue,
		ViewAlertDashboardKPIs,
	}
)

// invalidationTable is the single source of truth for which views each
// mutation makes stale
var invalidationTable = map[Mutation][]View{
	MutationDiscoveryDeleted:      discoveryRemovalViews,
	MutationAllDiscoveriesDeleted: discoveryRemovalViews,
	MutationBatchAnalyzed:         alertAnalysisViews,
	MutationAlertAnalyzed:         alertAnalysisViews,
	MutationArtifactsAnalyzed:     alertAnalysisViews,
	MutationFileAnalyzed:          {ViewAnalysisRuns, ViewFindings, ViewKPIs},
	MutationActionItemCreated:     actionItemViews,
	MutationActionItemUpdated:     actionItemViews,
}

// ViewsFor returns the views a mutation invalidates
func ViewsFor(m Mutation) []View {
	views := invalidationTable[m]
	out := make([]View, len(views))
	copy(out, views)
	return out
}
