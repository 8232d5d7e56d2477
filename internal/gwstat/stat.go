// Package gwstat exposes the dispatcher's observable counters from spec.md
// §6: per-class acquisitions/rejections (tracked in dispatch.registry
// itself), plus the process-wide counters below.
package gwstat

import (
	"encoding/json"
	"sync/atomic"
)

// Counters holds the dispatcher-wide counters named in spec.md §6:
// "groups currently live, groups retired, deadline firings,
// destroyed-processor-callback drops".
type Counters struct {
	GroupsLive                atomic.Int64
	GroupsRetired             atomic.Int64
	DeadlineFirings           atomic.Int64
	DestroyedCallbackDrops    atomic.Int64
	RequestsRejectedNoProcessor atomic.Int64
}

// New returns a zeroed Counters ready for use.
func New() *Counters { return &Counters{} }

// GroupCreated accounts a freshly dispatched processor group.
func (c *Counters) GroupCreated() { c.GroupsLive.Add(1) }

// GroupRetired accounts a group that has just been erased.
func (c *Counters) GroupRetired() {
	c.GroupsLive.Add(-1)
	c.GroupsRetired.Add(1)
}

// MarshalJSON lets PopulateStatus-style handlers serialize the counters
// directly, matching original_source's pubseq_gateway_stat.cpp JSON status
// document in spirit (one flat object of named counters).
func (c *Counters) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]int64{
		"groups_live":                   c.GroupsLive.Load(),
		"groups_retired":                c.GroupsRetired.Load(),
		"deadline_firings":              c.DeadlineFirings.Load(),
		"destroyed_callback_drops":      c.DestroyedCallbackDrops.Load(),
		"requests_rejected_no_processor": c.RequestsRejectedNoProcessor.Load(),
	})
}
