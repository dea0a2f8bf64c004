package model

// Statistics is a best-effort snapshot of store counts. Each figure comes from
// its own scan; they are not read under one transaction.
type Statistics struct {
	TotalRules       int64 `json:"total_rules"`
	ActiveForwarding int64 `json:"active_forwarding"`
	RulesWithFilters int64 `json:"rules_with_filters"`
	RulesWithErrors  int64 `json:"rules_with_errors"`
	TotalFilters     int64 `json:"total_filters"`
}

// Metric is a single named statistic.
type Metric struct {
	Key   string
	Value int64
}

// Metrics returns the statistics in their fixed presentation order.
func (s Statistics) Metrics() []Metric {
	return []Metric{
		{Key: "total_rules", Value: s.TotalRules},
		{Key: "active_forwarding", Value: s.ActiveForwarding},
		{Key: "rules_with_filters", Value: s.RulesWithFilters},
		{Key: "rules_with_errors", Value: s.RulesWithErrors},
		{Key: "total_filters", Value: s.TotalFilters},
	}
}

// Map returns the statistics keyed by metric name.
func (s Statistics) Map() map[string]int64 {
	out := make(map[string]int64, 5)
	for _, m := range s.Metrics() {
		out[m.Key] = m.Value
	}
	return out
}
