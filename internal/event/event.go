package event

import (
	"encoding/json"
	"strings"
)

// RawEvent is one untransformed record from the source export. The export
// schema is open-ended, so the record is kept as the decoded JSON object and
// accessed through typed helpers.
type RawEvent struct {
	fields map[string]any
}

// Parse decodes a single NDJSON line into a RawEvent.
func Parse(line []byte) (*RawEvent, error) {
	var m map[string]any
	if err := json.Unmarshal(line, &m); err != nil {
		return nil, err
	}
	return &RawEvent{fields: m}, nil
}

// FromMap wraps an already-decoded object. The map is not copied.
func FromMap(m map[string]any) *RawEvent {
	if m == nil {
		m = map[string]any{}
	}
	return &RawEvent{fields: m}
}

// Get returns a top-level field.
func (e *RawEvent) Get(key string) (any, bool) {
	v, ok := e.fields[key]
	return v, ok
}

// EventType returns the required event_type field, or "" when missing.
func (e *RawEvent) EventType() string {
	return e.stringField("event_type")
}

// EventProperties returns the event_properties object, or nil.
func (e *RawEvent) EventProperties() map[string]any {
	return e.objectField("event_properties")
}

// UserProperties returns the user_properties object, or nil.
func (e *RawEvent) UserProperties() map[string]any {
	return e.objectField("user_properties")
}

// UserID returns user_id, or "" when absent or null.
func (e *RawEvent) UserID() string {
	return e.stringField("user_id")
}

// DeviceID returns device_id, or "" when absent or null.
func (e *RawEvent) DeviceID() string {
	return e.stringField("device_id")
}

// ClientTimeMs returns the numeric client time in milliseconds. JSON numbers
// decode as float64; anything non-numeric counts as absent.
func (e *RawEvent) ClientTimeMs() (int64, bool) {
	switch v := e.fields["time"].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}

// ServerReceivedTime returns the textual server receive timestamp, or "".
func (e *RawEvent) ServerReceivedTime() string {
	return e.stringField("server_received_time")
}

// ServerUploadTime returns the textual server upload timestamp, or "".
func (e *RawEvent) ServerUploadTime() string {
	return e.stringField("server_upload_time")
}

// Resolve follows a dotted path against the raw record. A leading
// "event_properties" or "user_properties" segment descends into that object;
// otherwise the path starts at the top level. Returns (nil, false) when any
// segment is missing.
func (e *RawEvent) Resolve(path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur any = e.fields
	for i, p := range parts {
		if i == 0 && (p == "event_properties" || p == "user_properties") {
			obj := e.objectField(p)
			if obj == nil {
				obj = map[string]any{}
			}
			cur = obj
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func (e *RawEvent) stringField(key string) string {
	if s, ok := e.fields[key].(string); ok {
		return s
	}
	return ""
}

func (e *RawEvent) objectField(key string) map[string]any {
	if m, ok := e.fields[key].(map[string]any); ok {
		return m
	}
	return nil
}

// passthroughFields are the only top-level source fields copied verbatim onto
// the outbound event. user_properties is deliberately absent: the engine
// resolves it separately with the fallback-snapshot rule.
var passthroughFields = []string{
	"app_version", "library", "platform",
	"os_name", "os_version",
	"device_brand", "device_manufacturer", "device_model", "device_type",
	"carrier", "country", "region", "city", "dma", "language",
	"price", "quantity", "revenue", "productId", "revenueType",
	"location_lat", "location_lng", "ip",
	"idfa", "idfv", "adid", "android_id",
	"event_id", "session_id", "insert_id",
	"group_properties", "groups",
}

// Passthrough collects the allow-listed top-level fields present on the raw
// event.
func (e *RawEvent) Passthrough() map[string]any {
	out := make(map[string]any)
	for _, k := range passthroughFields {
		if v, ok := e.fields[k]; ok {
			out[k] = v
		}
	}
	return out
}

// TransformedEvent is the delivery-ready record produced by the rule engine.
type TransformedEvent struct {
	EventType       string
	EventProperties map[string]any
	UserProperties  map[string]any
	UserID          string
	DeviceID        string
	Time            int64

	// Extra holds allow-listed top-level fields carried over from the raw
	// event (device, OS, geo, revenue and identifier fields).
	Extra map[string]any
}

// InsertID returns the pass-through insert_id, or "".
func (e *TransformedEvent) InsertID() string {
	if s, ok := e.Extra["insert_id"].(string); ok {
		return s
	}
	return ""
}

// SetInsertID stores an insert_id on the outbound record.
func (e *TransformedEvent) SetInsertID(id string) {
	if e.Extra == nil {
		e.Extra = map[string]any{}
	}
	e.Extra["insert_id"] = id
}

// MarshalJSON flattens the extra fields and the core fields into one object.
// Core fields win on key collisions.
func (e *TransformedEvent) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Extra)+6)
	for k, v := range e.Extra {
		m[k] = v
	}
	m["event_type"] = e.EventType
	props := e.EventProperties
	if props == nil {
		props = map[string]any{}
	}
	m["event_properties"] = props
	m["time"] = e.Time
	if e.UserID != "" {
		m["user_id"] = e.UserID
	} else {
		delete(m, "user_id")
	}
	if e.DeviceID != "" {
		m["device_id"] = e.DeviceID
	} else {
		delete(m, "device_id")
	}
	if e.UserProperties != nil {
		m["user_properties"] = e.UserProperties
	}
	return json.Marshal(m)
}

// Clone returns a deep copy, used when sampling events into the run report so
// later pipeline stages cannot mutate the sample.
func (e *TransformedEvent) Clone() *TransformedEvent {
	cp := &TransformedEvent{
		EventType: e.EventType,
		UserID:    e.UserID,
		DeviceID:  e.DeviceID,
		Time:      e.Time,
	}
	cp.EventProperties = deepCopyMap(e.EventProperties)
	cp.UserProperties = deepCopyMap(e.UserProperties)
	cp.Extra = deepCopyMap(e.Extra)
	return cp
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
