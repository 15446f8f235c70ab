// Package usage estimates monthly tracked units (MTU) and their cost from
// the identifiers seen on delivered events.
package usage

import (
	"math"

	"github.com/gyaneshwarpardhi/eventshift/internal/event"
)

// Strategy selects which identifier sets feed the estimate.
type Strategy string

const (
	ByUserID   Strategy = "user_id"
	ByDeviceID Strategy = "device_id"
	ByUnion    Strategy = "union"
)

// Estimator accumulates unique identifiers. It is owned by the single-run
// orchestrator and needs no locking.
type Estimator struct {
	users       map[string]struct{}
	devices     map[string]struct{}
	excludeNull bool
}

// NewEstimator builds an Estimator. With excludeNull set, empty identifiers
// and the literal sentinel "null" are not counted.
func NewEstimator(excludeNull bool) *Estimator {
	return &Estimator{
		users:       make(map[string]struct{}),
		devices:     make(map[string]struct{}),
		excludeNull: excludeNull,
	}
}

// Observe records the identifiers of one delivered event. Only events that
// survived transformation and remapping should be observed.
func (e *Estimator) Observe(evt *event.TransformedEvent) {
	if e.usable(evt.UserID) {
		e.users[evt.UserID] = struct{}{}
	}
	if e.usable(evt.DeviceID) {
		e.devices[evt.DeviceID] = struct{}{}
	}
}

func (e *Estimator) usable(id string) bool {
	if id == "" {
		return false
	}
	return !e.excludeNull || id != "null"
}

// UniqueUsers returns the unique user-id count.
func (e *Estimator) UniqueUsers() int { return len(e.users) }

// UniqueDevices returns the unique device-id count.
func (e *Estimator) UniqueDevices() int { return len(e.devices) }

// Estimate computes the tracked-unit count under the given strategy.
// An unrecognized strategy falls back to union.
func (e *Estimator) Estimate(strategy Strategy) int {
	switch strategy {
	case ByUserID:
		return len(e.users)
	case ByDeviceID:
		return len(e.devices)
	}
	union := len(e.users)
	for d := range e.devices {
		if _, dup := e.users[d]; !dup {
			union++
		}
	}
	return union
}

// Cost multiplies the estimate by the per-identity rate, rounded to four
// decimal places.
func (e *Estimator) Cost(strategy Strategy, ratePerUnit float64) float64 {
	raw := float64(e.Estimate(strategy)) * ratePerUnit
	return math.Round(raw*10000) / 10000
}
