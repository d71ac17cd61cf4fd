package monitor

import (
	"slices"
	"time"

	"github.com/anstrom/tracerama/internal/scanning"
)

// DefaultMaxHistory is the default number of retained entries.
const DefaultMaxHistory = 100

// Entry is one completed tick.
type Entry struct {
	Result      *scanning.ScanResult    `json:"result" yaml:"result"`
	Stats       scanning.ScanStatistics `json:"stats" yaml:"stats"`
	CompletedAt time.Time               `json:"completed_at" yaml:"completed_at"`
}

// Failed reports whether the tick ended in a typed failure.
func (e Entry) Failed() bool {
	return e.Result == nil || e.Result.Failed()
}

// Reached reports whether the tick reached its target.
func (e Entry) Reached() bool {
	return e.Result != nil && e.Result.TargetReached
}

// AppendOutcome describes how a new entry relates to the one before it.
type AppendOutcome struct {
	HasPrevious         bool
	ReachabilityChanged bool
	RouteChanged        bool
	Evicted             bool
}

// History is a bounded ring of entries, oldest first. It is not safe for
// concurrent use; the owning Monitor serializes access.
type History struct {
	capacity int
	buf      []Entry
	start    int
	size     int
}

// NewHistory creates a history holding at most capacity entries.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultMaxHistory
	}
	return &History{capacity: capacity, buf: make([]Entry, capacity)}
}

// Capacity returns the configured maximum.
func (h *History) Capacity() int {
	return h.capacity
}

// Len returns the number of retained entries.
func (h *History) Len() int {
	return h.size
}

func (h *History) at(i int) Entry {
	return h.buf[(h.start+i)%h.capacity]
}

// Last returns the newest entry.
func (h *History) Last() (Entry, bool) {
	if h.size == 0 {
		return Entry{}, false
	}
	return h.at(h.size - 1), true
}

// Append adds e, evicting the oldest entry when full.
func (h *History) Append(e Entry) AppendOutcome {
	var out AppendOutcome
	if prev, ok := h.Last(); ok {
		out.HasPrevious = true
		out.ReachabilityChanged = prev.Reached() != e.Reached()
		out.RouteChanged = routeChanged(prev, e)
	}

	if h.size < h.capacity {
		h.buf[(h.start+h.size)%h.capacity] = e
		h.size++
		return out
	}
	h.buf[h.start] = e
	h.start = (h.start + 1) % h.capacity
	out.Evicted = true
	return out
}

// Entries returns a copy of the retained entries, oldest first.
func (h *History) Entries() []Entry {
	out := make([]Entry, h.size)
	for i := range out {
		out[i] = h.at(i)
	}
	return out
}

// routeChanged compares hop address sequences. Failed ticks carry no route
// and are never compared.
func routeChanged(prev, next Entry) bool {
	if prev.Failed() || next.Failed() {
		return false
	}
	return !slices.Equal(prev.Result.HopAddresses(), next.Result.HopAddresses())
}

// RollingStats are derived from the retained window.
type RollingStats struct {
	Entries                 int               `json:"entries" yaml:"entries"`
	Reached                 int               `json:"reached" yaml:"reached"`
	Failed                  int               `json:"failed" yaml:"failed"`
	SuccessRate             float64           `json:"success_rate" yaml:"success_rate"`
	AverageRTT              scanning.RTTValue `json:"average_rtt_ms" yaml:"average_rtt_ms" swaggertype:"number"`
	MinRTT                  scanning.RTTValue `json:"min_rtt_ms" yaml:"min_rtt_ms" swaggertype:"number"`
	MaxRTT                  scanning.RTTValue `json:"max_rtt_ms" yaml:"max_rtt_ms" swaggertype:"number"`
	ReachabilityTransitions int               `json:"reachability_transitions" yaml:"reachability_transitions"`
	RouteChanges            int               `json:"route_changes" yaml:"route_changes"`
	RouteStability          float64           `json:"route_stability" yaml:"route_stability"`
}

// Rolling computes window statistics. RTT figures aggregate the per-entry
// average RTT of entries that reached their target. RouteStability is
// 1 - changes/comparisons over consecutive successful entries, and 1 when
// nothing could be compared.
func (h *History) Rolling() RollingStats {
	rs := RollingStats{Entries: h.size, RouteStability: 1}

	var sum float64
	var n, comparisons int
	for i := 0; i < h.size; i++ {
		e := h.at(i)
		if e.Failed() {
			rs.Failed++
		}
		if e.Reached() {
			rs.Reached++
			if avg := e.Stats.AverageRTT; avg.Valid {
				sum += avg.Ms
				n++
				if !rs.MinRTT.Valid || avg.Ms < rs.MinRTT.Ms {
					rs.MinRTT = avg
				}
				if !rs.MaxRTT.Valid || avg.Ms > rs.MaxRTT.Ms {
					rs.MaxRTT = avg
				}
			}
		}

		if i == 0 {
			continue
		}
		prev := h.at(i - 1)
		if prev.Reached() != e.Reached() {
			rs.ReachabilityTransitions++
		}
		if !prev.Failed() && !e.Failed() {
			comparisons++
			if routeChanged(prev, e) {
				rs.RouteChanges++
			}
		}
	}

	if h.size > 0 {
		rs.SuccessRate = float64(rs.Reached) / float64(h.size)
	}
	if n > 0 {
		rs.AverageRTT = scanning.SomeRTT(sum / float64(n))
	}
	if comparisons > 0 {
		rs.RouteStability = 1 - float64(rs.RouteChanges)/float64(comparisons)
	}
	return rs
}
