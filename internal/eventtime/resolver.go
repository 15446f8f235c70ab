// Package eventtime decides the single authoritative outbound timestamp for
// a raw event.
package eventtime

import (
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/eventshift/internal/event"
)

// Strategy names a resolution order over the three source timestamps.
type Strategy string

const (
	Client                     Strategy = "client"
	ServerReceived             Strategy = "server_received"
	ServerUpload               Strategy = "server_upload"
	PreferClientServerReceived Strategy = "prefer_client_fallback_server_received"
	PreferClientServerUpload   Strategy = "prefer_client_fallback_server_upload"
)

// MissingPolicy controls what happens when no source timestamp exists.
type MissingPolicy string

const (
	// MissingDrop discards the event, preserving chronological fidelity.
	MissingDrop MissingPolicy = "drop"
	// MissingNow substitutes the current wall-clock time.
	MissingNow MissingPolicy = "now"
)

// Resolver computes outbound timestamps. The clock is injectable for tests.
type Resolver struct {
	strategy Strategy
	policy   MissingPolicy
	now      func() time.Time
}

// NewResolver builds a Resolver. Empty strategy or policy fall back to the
// defaults (prefer_client_fallback_server_received, drop).
func NewResolver(strategy Strategy, policy MissingPolicy) *Resolver {
	if strategy == "" {
		strategy = PreferClientServerReceived
	}
	if policy == "" {
		policy = MissingDrop
	}
	return &Resolver{strategy: strategy, policy: policy, now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve returns the outbound time in milliseconds. ok is false when the
// event has no usable timestamp and the policy is drop.
func (r *Resolver) Resolve(evt *event.RawEvent) (ms int64, ok bool) {
	var client, srvRecv, srvUpld *int64
	if v, present := evt.ClientTimeMs(); present {
		client = &v
	}
	if v, present := ParseTimestamp(evt.ServerReceivedTime()); present {
		srvRecv = &v
	}
	if v, present := ParseTimestamp(evt.ServerUploadTime()); present {
		srvUpld = &v
	}

	var order []*int64
	switch r.strategy {
	case Client:
		order = []*int64{client}
	case ServerReceived:
		order = []*int64{srvRecv, client}
	case ServerUpload:
		order = []*int64{srvUpld, client}
	case PreferClientServerReceived:
		order = []*int64{client, srvRecv}
	case PreferClientServerUpload:
		order = []*int64{client, srvUpld}
	default:
		order = []*int64{client, srvRecv, srvUpld}
	}

	for _, v := range order {
		if v != nil {
			return *v, true
		}
	}
	if r.policy == MissingNow {
		return r.now().UnixMilli(), true
	}
	return 0, false
}

// timestampLayouts cover the export's ISO-8601-like server timestamps, with
// and without fractional seconds and zone marker. Zoneless values are UTC.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses a textual server timestamp to epoch milliseconds.
// Unparsable or empty text is reported as absent, never as an error.
func ParseTimestamp(v string) (int64, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	for _, layout := range timestampLayouts {
		var t time.Time
		var err error
		if strings.HasSuffix(layout, "Z07:00") {
			t, err = time.Parse(layout, v)
		} else {
			t, err = time.ParseInLocation(layout, v, time.UTC)
		}
		if err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}
