// Package rules implements the declarative transformation rule set: event
// filtering, renames, property projection and constant/derived augmentation.
package rules

import (
	"log/slog"
	"sort"
	"strconv"

	"github.com/gyaneshwarpardhi/eventshift/internal/condition"
	"github.com/gyaneshwarpardhi/eventshift/internal/config"
)

// RuleSet is the immutable, compiled form of config.EventsConf. It is built
// once per run and passed by reference through every pipeline stage; the
// three-scope constant/derived maps are resolved here, not per event.
type RuleSet struct {
	allow map[string]bool // empty = allow everything
	deny  map[string]bool

	rename      map[string]string
	renameRules []compiledRenameRule

	keep       map[string][]string
	propRename map[string]map[string]string
	propDeny   map[string][]string

	constGlobal  map[string]any            // legacy flat overlaid with "*"
	constPerType map[string]map[string]any // constGlobal overlaid with per-type

	derivedGlobal  []derivedRule
	derivedPerType map[string][]derivedRule
}

type compiledRenameRule struct {
	when map[string]any
	to   string
}

// derivedRule computes one property from a source path on the raw event.
type derivedRule struct {
	key        string
	from       string
	mapping    map[string]any
	coerce     string
	expr       condition.Expr
	def        any
	hasDefault bool
}

// Compile resolves the config rule set into its runtime form. Malformed
// derived rules (bad expression, non-object body) are dropped with a warning;
// everything else is carried as-is.
func Compile(ev config.EventsConf) *RuleSet {
	rs := &RuleSet{
		allow:      stringSet(ev.Allowlist),
		deny:       stringSet(ev.Denylist),
		rename:     ev.Rename,
		keep:       ev.PropertyKeep,
		propRename: ev.PropertyRename,
		propDeny:   ev.PropertyDeny,
	}
	if rs.keep == nil {
		rs.keep = map[string][]string{"*": {"*"}}
	}

	for _, r := range ev.RenameRules {
		if r.RenameTo == "" || len(r.When) == 0 {
			continue
		}
		rs.renameRules = append(rs.renameRules, compiledRenameRule{when: r.When, to: r.RenameTo})
	}

	rs.compileConstants(ev.ConstProperties)
	rs.compileDerived(ev.DerivedProperties)
	return rs
}

func stringSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, s := range items {
		out[s] = true
	}
	return out
}

// compileConstants splits the three-scope constant map. A non-object value is
// a legacy flat constant; the "*" object is global scope; any other object is
// scoped to that event type. Precedence legacy < global < per-type is baked
// into the merged views.
func (rs *RuleSet) compileConstants(raw map[string]any) {
	legacy := map[string]any{}
	global := map[string]any{}
	perType := map[string]map[string]any{}

	for k, v := range raw {
		obj, isObj := v.(map[string]any)
		switch {
		case k == "*" && isObj:
			global = obj
		case isObj:
			perType[k] = obj
		case k != "*":
			legacy[k] = v
		}
	}

	rs.constGlobal = mergeMaps(legacy, global)
	rs.constPerType = make(map[string]map[string]any, len(perType))
	for et, obj := range perType {
		rs.constPerType[et] = mergeMaps(rs.constGlobal, obj)
	}
}

func mergeMaps(maps ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// compileDerived splits the three-scope derived map the same way and parses
// each rule body (and its optional expression) once.
func (rs *RuleSet) compileDerived(raw map[string]any) {
	legacy := map[string]derivedRule{}
	global := map[string]derivedRule{}
	perType := map[string]map[string]derivedRule{}

	for k, v := range raw {
		obj, isObj := v.(map[string]any)
		if !isObj {
			continue
		}
		if k == "*" || looksLikeScope(obj) {
			scope := map[string]derivedRule{}
			for key, body := range obj {
				rule, ok := parseDerivedRule(key, body)
				if !ok {
					continue
				}
				scope[key] = rule
			}
			if k == "*" {
				global = scope
			} else {
				perType[k] = scope
			}
			continue
		}
		// Legacy flat rule: { new_key: {from, map, coerce, expr, default} }
		if rule, ok := parseDerivedRule(k, v); ok {
			legacy[k] = rule
		}
	}

	globalMerged := mergeDerived(legacy, global)
	rs.derivedGlobal = sortedRules(globalMerged)
	rs.derivedPerType = make(map[string][]derivedRule, len(perType))
	for et, scope := range perType {
		rs.derivedPerType[et] = sortedRules(mergeDerived(globalMerged, scope))
	}
}

// looksLikeScope distinguishes a per-event-type scope object from a legacy
// flat rule body: a rule body carries at least one of the rule fields at the
// top level, a scope object nests further objects.
func looksLikeScope(obj map[string]any) bool {
	for _, field := range []string{"from", "map", "coerce", "expr", "default"} {
		if _, ok := obj[field]; ok {
			return false
		}
	}
	return true
}

func parseDerivedRule(key string, body any) (derivedRule, bool) {
	obj, ok := body.(map[string]any)
	if !ok {
		return derivedRule{}, false
	}
	rule := derivedRule{key: key}
	if s, ok := obj["from"].(string); ok {
		rule.from = s
	}
	if m, ok := obj["map"].(map[string]any); ok {
		rule.mapping = m
	}
	if s, ok := obj["coerce"].(string); ok {
		rule.coerce = s
	}
	if rule.def, rule.hasDefault = obj["default"]; rule.hasDefault {
		// nothing else to do; a null default still counts as declared
	}
	if s, ok := obj["expr"].(string); ok && s != "" {
		expr, err := condition.Parse(s)
		if err != nil {
			slog.Warn("derived rule disabled: bad expression", "key", key, "expr", s, "err", err)
			return derivedRule{}, false
		}
		rule.expr = expr
	}
	return rule, true
}

func mergeDerived(maps ...map[string]derivedRule) map[string]derivedRule {
	out := map[string]derivedRule{}
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

func sortedRules(m map[string]derivedRule) []derivedRule {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]derivedRule, 0, len(m))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// Denied reports whether the original event type is denylisted.
func (rs *RuleSet) Denied(et string) bool {
	return len(rs.deny) > 0 && rs.deny[et]
}

// Allowed reports whether the original event type passes the allowlist.
// An empty allowlist admits everything.
func (rs *RuleSet) Allowed(et string) bool {
	return len(rs.allow) == 0 || rs.allow[et]
}

// RenameUnconditional applies the flat event-type rename map.
func (rs *RuleSet) RenameUnconditional(et string) string {
	if to, ok := rs.rename[et]; ok {
		return to
	}
	return et
}

// ConditionalRename evaluates the ordered rename rules against the original
// raw event; the first satisfied rule wins. Evaluation errors count as
// unmatched.
func (rs *RuleSet) ConditionalRename(src condition.Source) (string, bool) {
	for i, rule := range rs.renameRules {
		res := condition.Match(rule.when, src)
		if res.Outcome == condition.Errored {
			slog.Debug("rename rule evaluation failed", "rule", i, "reason", res.Reason)
			continue
		}
		if res.Satisfied() {
			return rule.to, true
		}
	}
	return "", false
}

// keepFor returns the keep list for an event type: per-type entry, else the
// wildcard entry, else keep-all.
func (rs *RuleSet) keepFor(et string) []string {
	if keep, ok := rs.keep[et]; ok {
		return keep
	}
	if keep, ok := rs.keep["*"]; ok {
		return keep
	}
	return []string{"*"}
}

func keepAll(keep []string) bool {
	return len(keep) == 1 && keep[0] == "*"
}

// denyFor returns the union of wildcard and per-type deny lists.
func (rs *RuleSet) denyFor(et string) []string {
	out := append([]string(nil), rs.propDeny["*"]...)
	if et != "*" {
		out = append(out, rs.propDeny[et]...)
	}
	return out
}

// constantsFor returns the merged constant map for an event type.
func (rs *RuleSet) constantsFor(et string) map[string]any {
	if m, ok := rs.constPerType[et]; ok {
		return m
	}
	return rs.constGlobal
}

// derivedFor returns the merged, ordered derived rules for an event type.
func (rs *RuleSet) derivedFor(et string) []derivedRule {
	if rules, ok := rs.derivedPerType[et]; ok {
		return rules
	}
	return rs.derivedGlobal
}

// scalarKey renders a scalar value as a value-mapping table key. Mapping
// tables are YAML objects, so their keys are strings; lookups go through the
// value's canonical string form. Non-scalar values are never mapped.
func scalarKey(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'g', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	}
	return "", false
}
