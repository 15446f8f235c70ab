package identity

import (
	"github.com/gyaneshwarpardhi/eventshift/internal/event"
)

// Scope selects which identifiers the remapper rewrites.
type Scope string

const (
	ScopeUserID   Scope = "user_id"
	ScopeDeviceID Scope = "device_id"
	ScopeBoth     Scope = "both"
)

// UnmappedPolicy decides the fate of events whose identifier is not in the
// configured table.
type UnmappedPolicy string

const (
	UnmappedKeep UnmappedPolicy = "keep"
	UnmappedDrop UnmappedPolicy = "drop"
)

// Counters accumulates remap outcomes for the run report.
type Counters struct {
	UserRemapped       int
	DeviceRemapped     int
	UserMissing        int
	DeviceMissing      int
	UserUnmappedSeen   int
	DeviceUnmappedSeen int
	DroppedUnmapped    int
}

// ToMap renders the counters under their report keys, omitting zero values.
func (c *Counters) ToMap() map[string]int {
	out := map[string]int{}
	put := func(key string, v int) {
		if v > 0 {
			out[key] = v
		}
	}
	put("events_remapped_user_id", c.UserRemapped)
	put("events_remapped_device_id", c.DeviceRemapped)
	put("id_remap_user_id_missing", c.UserMissing)
	put("id_remap_device_id_missing", c.DeviceMissing)
	put("unmapped_user_ids_seen", c.UserUnmappedSeen)
	put("unmapped_device_ids_seen", c.DeviceUnmappedSeen)
	put("events_dropped_unmapped", c.DroppedUnmapped)
	return out
}

// Remapper rewrites identifiers on transformed events. Maps are loaded once
// per run and never mutated afterwards.
type Remapper struct {
	userMap   map[string]string
	deviceMap map[string]string
	scope     Scope
	policy    UnmappedPolicy
}

// NewRemapper builds a Remapper. When the scope covers device_id but only a
// user map is configured, the user map doubles as the device map.
func NewRemapper(userMap, deviceMap map[string]string, scope Scope, policy UnmappedPolicy) *Remapper {
	if deviceMap == nil && userMap != nil && (scope == ScopeDeviceID || scope == ScopeBoth) {
		deviceMap = userMap
	}
	return &Remapper{userMap: userMap, deviceMap: deviceMap, scope: scope, policy: policy}
}

// Enabled reports whether any remap table is configured.
func (r *Remapper) Enabled() bool {
	return r.userMap != nil || r.deviceMap != nil
}

// Remap rewrites the event's identifiers in place according to scope and
// policy, bumping counters. Both identifiers are evaluated before the drop
// decision so the counters reflect both; the aggregate drop counter is bumped
// exactly once per dropped event. Returns false when the event must be
// dropped.
func (r *Remapper) Remap(evt *event.TransformedEvent, c *Counters) bool {
	dropUnmapped := false

	if (r.scope == ScopeUserID || r.scope == ScopeBoth) && r.userMap != nil {
		switch {
		case evt.UserID == "":
			c.UserMissing++
		default:
			if mapped, ok := r.userMap[evt.UserID]; ok {
				evt.UserID = mapped
				c.UserRemapped++
			} else {
				c.UserUnmappedSeen++
				if r.policy == UnmappedDrop {
					dropUnmapped = true
				}
			}
		}
	}

	if (r.scope == ScopeDeviceID || r.scope == ScopeBoth) && r.deviceMap != nil {
		switch {
		case evt.DeviceID == "":
			c.DeviceMissing++
		default:
			if mapped, ok := r.deviceMap[evt.DeviceID]; ok {
				evt.DeviceID = mapped
				c.DeviceRemapped++
			} else {
				c.DeviceUnmappedSeen++
				if r.policy == UnmappedDrop {
					dropUnmapped = true
				}
			}
		}
	}

	if dropUnmapped {
		c.DroppedUnmapped++
		return false
	}
	return true
}
