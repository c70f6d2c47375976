// Package hints loads the recursive schema-hints YAML document (renames,
// unsafe_allow, planner.* knobs, dialect.postgres.target_version) consumed
// by the differ, planner and emitter. Loading degrades silently to an empty
// map on any failure, per the core's error-handling design: a hint file is
// never load-bearing enough to fail the whole run over.
package hints

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Hints is a recursive, loosely-typed configuration mapping. yaml.v3
// decodes nested mappings as map[string]any, so Sub/String/Bool/Int/
// StringSlice can walk the tree directly.
type Hints map[string]any

// Load reads and parses a YAML hints file. A missing path, an unreadable
// file, malformed YAML, or a non-mapping document root all produce an empty
// Hints value rather than an error; the CLI must stay usable with a
// partial or absent hints file.
func Load(path string) Hints {
	if path == "" {
		return Hints{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Hints{}
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil || raw == nil {
		return Hints{}
	}

	h := Hints(raw)
	h.deriveDialectVersion()
	return h
}

// deriveDialectVersion parses dialect.postgres.target_version (if present)
// into _derived.pg_major so consumers can switch on the major version
// without re-parsing the string.
func (h Hints) deriveDialectVersion() {
	targetVersion := h.Sub("dialect").Sub("postgres").String("target_version")
	if targetVersion == "" {
		return
	}
	major, ok := majorVersion(targetVersion)
	if !ok {
		return
	}
	derived, ok := h["_derived"].(map[string]any)
	if !ok {
		derived = map[string]any{}
	}
	derived["pg_major"] = major
	h["_derived"] = derived
}

func majorVersion(s string) (int, bool) {
	head, _, _ := strings.Cut(s, ".")
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Sub returns the nested mapping at key, or an empty Hints if the key is
// absent or not a mapping.
func (h Hints) Sub(key string) Hints {
	if h == nil {
		return Hints{}
	}
	switch v := h[key].(type) {
	case map[string]any:
		return Hints(v)
	case Hints:
		return v
	default:
		return Hints{}
	}
}

// String returns the string value at key, or "" if absent or not a string.
func (h Hints) String(key string) string {
	if h == nil {
		return ""
	}
	s, _ := h[key].(string)
	return s
}

// Bool returns the bool value at key, or false if absent or not a bool.
func (h Hints) Bool(key string) bool {
	if h == nil {
		return false
	}
	b, _ := h[key].(bool)
	return b
}

// Int returns the int value at key, falling back to def if absent or not a
// number. YAML decodes integral scalars as int already.
func (h Hints) Int(key string, def int) int {
	if h == nil {
		return def
	}
	switch v := h[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// StringSlice returns the string-list value at key, or nil if absent or not
// a list of strings.
func (h Hints) StringSlice(key string) []string {
	if h == nil {
		return nil
	}
	raw, ok := h[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// StringMap returns the string->string mapping at key, or nil if absent or
// not shaped that way.
func (h Hints) StringMap(key string) map[string]string {
	sub := h.Sub(key)
	if len(sub) == 0 {
		return nil
	}
	out := make(map[string]string, len(sub))
	for k, v := range sub {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
