package pipeline

import "github.com/gyaneshwarpardhi/eventshift/internal/identity"

// RunCounters tracks event flow through one migration run.
type RunCounters struct {
	Read               int
	Kept               int
	Sent               int
	DroppedFiltered    int
	DroppedNoTimestamp int
	Batches            []int

	Remap identity.Counters
}

// ToMap renders the counters for the run report. Drop counters appear only
// when non-zero; remap counters merge in under their own keys.
func (c *RunCounters) ToMap() map[string]any {
	out := map[string]any{
		"events_read": c.Read,
		"events_kept": c.Kept,
		"events_sent": c.Sent,
		"batches":     append([]int{}, c.Batches...),
	}
	if c.DroppedFiltered > 0 {
		out["events_dropped_filtered"] = c.DroppedFiltered
	}
	if c.DroppedNoTimestamp > 0 {
		out["events_dropped_no_timestamp"] = c.DroppedNoTimestamp
	}
	for k, v := range c.Remap.ToMap() {
		out[k] = v
	}
	return out
}
