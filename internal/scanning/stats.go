package scanning

import "sort"

// ScanStatistics is derived from one ScanResult and never stored on its own.
// RTT aggregates cover only hops with a recorded RTT and are invalid when
// there are none.
type ScanStatistics struct {
	TotalHops       int      `json:"total_hops" yaml:"total_hops"`
	TargetReached   bool     `json:"target_reached" yaml:"target_reached"`
	SuccessfulHops  int      `json:"successful_hops" yaml:"successful_hops"`
	TimeoutHops     int      `json:"timeout_hops" yaml:"timeout_hops"`
	UnreachableHops int      `json:"unreachable_hops" yaml:"unreachable_hops"`
	AverageRTT      RTTValue `json:"average_rtt_ms" yaml:"average_rtt_ms" swaggertype:"number"`
	MinRTT          RTTValue `json:"min_rtt_ms" yaml:"min_rtt_ms" swaggertype:"number"`
	MaxRTT          RTTValue `json:"max_rtt_ms" yaml:"max_rtt_ms" swaggertype:"number"`
}

// ComputeStatistics derives statistics from r. TargetReached is taken from
// the result as recorded by the parser.
func ComputeStatistics(r *ScanResult) ScanStatistics {
	if r == nil {
		return ScanStatistics{}
	}

	stats := ScanStatistics{
		TotalHops:     len(r.Hops),
		TargetReached: r.TargetReached,
	}

	var sum float64
	var n int
	for _, h := range r.Hops {
		switch h.Status {
		case HopSuccess:
			stats.SuccessfulHops++
		case HopTimeout:
			stats.TimeoutHops++
		case HopUnreachable:
			stats.UnreachableHops++
		}

		if !h.RTT.Valid {
			continue
		}
		sum += h.RTT.Ms
		n++
		if !stats.MinRTT.Valid || h.RTT.Ms < stats.MinRTT.Ms {
			stats.MinRTT = SomeRTT(h.RTT.Ms)
		}
		if !stats.MaxRTT.Valid || h.RTT.Ms > stats.MaxRTT.Ms {
			stats.MaxRTT = SomeRTT(h.RTT.Ms)
		}
	}

	if n > 0 {
		stats.AverageRTT = SomeRTT(sum / float64(n))
	}
	return stats
}

// Reachability counts how often one target was reached.
type Reachability struct {
	Reached int `json:"reached" yaml:"reached"`
	Total   int `json:"total" yaml:"total"`
}

// BatchStatistics aggregates many results. Merge is commutative and
// associative, so the order results are folded in does not matter.
type BatchStatistics struct {
	Targets        map[string]Reachability `json:"targets" yaml:"targets"`
	TotalResults   int                     `json:"total_results" yaml:"total_results"`
	ReachedResults int                     `json:"reached_results" yaml:"reached_results"`
	FailedResults  int                     `json:"failed_results" yaml:"failed_results"`
}

// SuccessRatio is the share of results that reached their target, 0 for an
// empty batch.
func (b BatchStatistics) SuccessRatio() float64 {
	if b.TotalResults == 0 {
		return 0
	}
	return float64(b.ReachedResults) / float64(b.TotalResults)
}

// TargetNames returns the targets in sorted order.
func (b BatchStatistics) TargetNames() []string {
	names := make([]string, 0, len(b.Targets))
	for name := range b.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge combines two aggregates into a new one.
func (b BatchStatistics) Merge(o BatchStatistics) BatchStatistics {
	out := BatchStatistics{
		Targets:        make(map[string]Reachability, len(b.Targets)+len(o.Targets)),
		TotalResults:   b.TotalResults + o.TotalResults,
		ReachedResults: b.ReachedResults + o.ReachedResults,
		FailedResults:  b.FailedResults + o.FailedResults,
	}
	for _, src := range []map[string]Reachability{b.Targets, o.Targets} {
		for target, r := range src {
			acc := out.Targets[target]
			acc.Reached += r.Reached
			acc.Total += r.Total
			out.Targets[target] = acc
		}
	}
	return out
}

// batchOf returns the aggregate of a single result.
func batchOf(r *ScanResult) BatchStatistics {
	reached := 0
	if r.TargetReached {
		reached = 1
	}
	failed := 0
	if r.Failed() {
		failed = 1
	}
	return BatchStatistics{
		Targets:        map[string]Reachability{r.Target: {Reached: reached, Total: 1}},
		TotalResults:   1,
		ReachedResults: reached,
		FailedResults:  failed,
	}
}

// ComputeBatchStatistics folds results into one aggregate. Nil entries are
// skipped.
func ComputeBatchStatistics(results []*ScanResult) BatchStatistics {
	acc := BatchStatistics{Targets: map[string]Reachability{}}
	for _, r := range results {
		if r == nil {
			continue
		}
		acc = acc.Merge(batchOf(r))
	}
	return acc
}
