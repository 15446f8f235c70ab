package rules

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gyaneshwarpardhi/eventshift/internal/condition"
	"github.com/gyaneshwarpardhi/eventshift/internal/event"
	"github.com/gyaneshwarpardhi/eventshift/internal/eventtime"
)

// DropReason explains why Transform discarded an event.
type DropReason string

const (
	// DropNone means the event was kept.
	DropNone DropReason = ""
	// DropFiltered means the deny/allow filter rejected the original type.
	DropFiltered DropReason = "filtered"
	// DropNoTimestamp means no source timestamp existed and the missing-time
	// policy is drop.
	DropNoTimestamp DropReason = "no_timestamp"
)

// Engine applies a compiled RuleSet to raw events. It holds no per-event
// state: transforming the same event twice yields identical output.
type Engine struct {
	rules    *RuleSet
	resolver *eventtime.Resolver

	forceUserID   *string
	forceDeviceID *string

	originalTimesAsProps bool
	strategyName         string
}

// Options carry the non-ruleset knobs of the transformation.
type Options struct {
	ForceUserID          *string
	ForceDeviceID        *string
	OriginalTimesAsProps bool
	StrategyName         string
}

// NewEngine builds an Engine around a compiled rule set and time resolver.
func NewEngine(rs *RuleSet, resolver *eventtime.Resolver, opts Options) *Engine {
	return &Engine{
		rules:                rs,
		resolver:             resolver,
		forceUserID:          opts.ForceUserID,
		forceDeviceID:        opts.ForceDeviceID,
		originalTimesAsProps: opts.OriginalTimesAsProps,
		strategyName:         opts.StrategyName,
	}
}

// Transform runs the fixed rule pipeline over one raw event and returns the
// outbound record, or a drop reason. fallbackUserProps is the caller's last
// known user_properties snapshot for this identity, substituted when the
// event carries none of its own.
func (e *Engine) Transform(raw *event.RawEvent, fallbackUserProps map[string]any) (*event.TransformedEvent, DropReason) {
	origType := raw.EventType()

	// 1. Deny wins over allow, both on the original type.
	if e.rules.Denied(origType) {
		return nil, DropFiltered
	}
	if !e.rules.Allowed(origType) {
		return nil, DropFiltered
	}

	// 2-3. Unconditional rename, then first-match conditional rename
	// evaluated against the original raw event.
	et := e.rules.RenameUnconditional(origType)
	if to, ok := e.rules.ConditionalRename(raw); ok {
		et = to
	}

	// 5-6. Keep projection and key renames for the final type.
	props := e.projectProperties(et, raw.EventProperties())

	// 7. Constants: legacy flat < global < per-type.
	for k, v := range e.rules.constantsFor(et) {
		props[k] = v
	}

	// 8. Derived values from the original raw event.
	for _, rule := range e.rules.derivedFor(et) {
		props[rule.key] = e.deriveValue(rule, raw)
	}

	if e.originalTimesAsProps {
		e.attachOriginalTimes(raw, props)
	}

	// 9. Second-pass projection so augmentation stays subject to retention.
	e.secondPass(et, props)

	// 10. Identity: forced override, else the event's own value.
	userID := raw.UserID()
	if e.forceUserID != nil {
		userID = *e.forceUserID
	}
	deviceID := raw.DeviceID()
	if e.forceDeviceID != nil {
		deviceID = *e.forceDeviceID
	}

	// 11. Authoritative time; this can invalidate all prior work.
	ts, ok := e.resolver.Resolve(raw)
	if !ok {
		return nil, DropNoTimestamp
	}

	// 12. user_properties: own non-empty value, else fallback snapshot.
	userProps := raw.UserProperties()
	if len(userProps) == 0 {
		userProps = fallbackUserProps
	}
	userProps = e.denyUserProperties(et, userProps)

	// 13. Allow-listed top-level pass-through.
	out := &event.TransformedEvent{
		EventType:       et,
		EventProperties: props,
		UserProperties:  userProps,
		UserID:          userID,
		DeviceID:        deviceID,
		Time:            ts,
		Extra:           raw.Passthrough(),
	}
	return out, DropNone
}

// projectProperties applies the keep list and per-type key renames, always
// returning a fresh map.
func (e *Engine) projectProperties(et string, in map[string]any) map[string]any {
	keep := e.rules.keepFor(et)
	out := map[string]any{}
	if keepAll(keep) {
		for k, v := range in {
			out[k] = v
		}
	} else {
		for _, k := range keep {
			if v, ok := in[k]; ok {
				out[k] = v
			}
		}
	}
	if rmap := e.rules.propRename[et]; len(rmap) > 0 {
		renamed := make(map[string]any, len(out))
		for k, v := range out {
			if to, ok := rmap[k]; ok {
				k = to
			}
			renamed[k] = v
		}
		out = renamed
	}
	return out
}

// deriveValue resolves one derived-property rule. Map hit short-circuits
// coercion and expression; coercion failure falls back to the declared
// default; expression failure leaves the value unchanged. The returned value
// may be nil, which still gets written (explicit clearing).
func (e *Engine) deriveValue(rule derivedRule, raw *event.RawEvent) any {
	var val any
	if rule.from != "" {
		val, _ = raw.Resolve(rule.from)
	}

	mapped := false
	if rule.mapping != nil {
		if key, ok := scalarKey(val); ok {
			if mv, hit := rule.mapping[key]; hit {
				val = mv
				mapped = true
			}
		}
	}

	if !mapped {
		switch {
		case isKnownCoercion(rule.coerce):
			coerced, err := coerceValue(rule.coerce, val)
			if err != nil {
				if rule.hasDefault {
					val = rule.def
				} else {
					val = nil
				}
			} else {
				val = coerced
			}
		case rule.expr != nil:
			res, err := condition.Eval(rule.expr, val)
			if err != nil {
				slog.Debug("derived expression failed", "key", rule.key, "err", err)
			} else {
				val = res
			}
		}
	}

	if val == nil && rule.hasDefault {
		val = rule.def
	}
	return val
}

func isKnownCoercion(c string) bool {
	switch c {
	case "int", "float", "bool", "str":
		return true
	}
	return false
}

func coerceValue(coerce string, val any) (any, error) {
	switch coerce {
	case "int":
		f, err := asFloat(val)
		if err != nil {
			return nil, err
		}
		return int64(f), nil
	case "float":
		return asFloat(val)
	case "bool":
		if s, ok := val.(string); ok {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "1", "true", "yes", "y":
				return true, nil
			default:
				return false, nil
			}
		}
		return truthyValue(val), nil
	case "str":
		if val == nil {
			return "", nil
		}
		return fmt.Sprintf("%v", val), nil
	}
	return nil, fmt.Errorf("unknown coercion %q", coerce)
}

func asFloat(val any) (float64, error) {
	switch t := val.(type) {
	case nil:
		return 0, fmt.Errorf("no value")
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, fmt.Errorf("empty string")
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %q: %w", s, err)
		}
		return f, nil
	}
	if f, ok := numeric(val); ok {
		return f, nil
	}
	return 0, fmt.Errorf("not numeric: %T", val)
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func truthyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	if f, ok := numeric(v); ok {
		return f != 0
	}
	return true
}

// attachOriginalTimes records the source timestamps and strategy under the
// reserved _migration key, merging into a pre-existing _migration object.
func (e *Engine) attachOriginalTimes(raw *event.RawEvent, props map[string]any) {
	audit := map[string]any{
		"time_strategy_used": e.strategyName,
	}
	if ms, ok := raw.ClientTimeMs(); ok {
		audit["orig_client_time_ms"] = ms
	} else {
		audit["orig_client_time_ms"] = nil
	}
	if ms, ok := eventtime.ParseTimestamp(raw.ServerReceivedTime()); ok {
		audit["orig_server_received_ms"] = ms
	} else {
		audit["orig_server_received_ms"] = nil
	}
	if ms, ok := eventtime.ParseTimestamp(raw.ServerUploadTime()); ok {
		audit["orig_server_upload_ms"] = ms
	} else {
		audit["orig_server_upload_ms"] = nil
	}

	if existing, ok := props["_migration"].(map[string]any); ok {
		for k, v := range audit {
			existing[k] = v
		}
		return
	}
	props["_migration"] = audit
}

// secondPass re-applies the keep list and the deny list to the final
// event_properties, so keys introduced by augmentation follow the same
// retention policy.
func (e *Engine) secondPass(et string, props map[string]any) {
	keep := e.rules.keepFor(et)
	if !keepAll(keep) {
		allowed := stringSet(keep)
		for k := range props {
			if !allowed[k] {
				delete(props, k)
			}
		}
	}
	for _, k := range e.rules.denyFor(et) {
		delete(props, k)
	}
}

// denyUserProperties strips denied keys from the user_properties namespace.
// The snapshot may be shared with the identity cache, so it is copied before
// any key is removed.
func (e *Engine) denyUserProperties(et string, userProps map[string]any) map[string]any {
	if len(userProps) == 0 {
		return nil
	}
	denied := e.rules.denyFor(et)
	if len(denied) == 0 {
		return userProps
	}
	strip := stringSet(denied)
	out := make(map[string]any, len(userProps))
	for k, v := range userProps {
		if !strip[k] {
			out[k] = v
		}
	}
	return out
}
