package expressions

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Interpolate returns a copy of v with every ${name} placeholder replaced by
// its value in vars. Maps and slices are walked recursively. Placeholders
// whose name cannot be resolved are left in place verbatim so a
// misconfigured step shows the missing name downstream.
//
// Substituted values are never re-scanned: a value that itself contains
// "${...}" is inserted as-is.
//
// A string consisting of exactly one placeholder is replaced by the raw value
// (keeping maps, numbers and booleans typed). Placeholders embedded in longer
// strings are rendered as text; maps and slices render as JSON.
func Interpolate(v any, vars map[string]any) any {
	switch val := v.(type) {
	case string:
		return InterpolateString(val, vars)
	case map[string]any:
		return InterpolateParams(val, vars)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Interpolate(item, vars)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(val))
		for i, item := range val {
			out[i] = InterpolateParams(item, vars)
		}
		return out
	case []string:
		return interpolateStrings(val, vars)
	default:
		return v
	}
}

// interpolateStrings keeps a []string a []string unless a whole-placeholder
// element resolved to a non-string value.
func interpolateStrings(val []string, vars map[string]any) any {
	strs := make([]string, len(val))
	var mixed []any
	for i, item := range val {
		r := InterpolateString(item, vars)
		if str, ok := r.(string); ok && mixed == nil {
			strs[i] = str
			continue
		}
		if mixed == nil {
			mixed = make([]any, len(val))
			for k := 0; k < i; k++ {
				mixed[k] = strs[k]
			}
		}
		mixed[i] = r
	}
	if mixed != nil {
		return mixed
	}
	return strs
}

// InterpolateParams interpolates every value of a parameter map.
func InterpolateParams(params map[string]any, vars map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = Interpolate(v, vars)
	}
	return out
}

// InterpolateString resolves placeholders in s. The result is a string unless
// s is a single resolvable placeholder.
func InterpolateString(s string, vars map[string]any) any {
	if !strings.Contains(s, "${") {
		return s
	}

	if name, ok := wholePlaceholder(s); ok {
		if val, found := Lookup(vars, name); found {
			return deepCopyAny(val)
		}
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], "${")
		if idx == -1 {
			b.WriteString(s[i:])
			break
		}
		b.WriteString(s[i : i+idx])
		start := i + idx + 2

		end := strings.IndexByte(s[start:], '}')
		if end == -1 {
			b.WriteString(s[i+idx:])
			break
		}
		end += start

		token := s[i+idx : end+1]
		name := strings.TrimSpace(s[start:end])
		if val, found := Lookup(vars, name); found && name != "" && !strings.Contains(name, "${") {
			b.WriteString(renderInline(val))
		} else {
			b.WriteString(token)
		}
		i = end + 1
	}

	return b.String()
}

// wholePlaceholder reports whether s is exactly "${name}".
func wholePlaceholder(s string) (string, bool) {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return "", false
	}
	inner := s[2 : len(s)-1]
	if strings.ContainsAny(inner, "{}") || strings.TrimSpace(inner) == "" {
		return "", false
	}
	return strings.TrimSpace(inner), true
}

// Lookup resolves name against vars. A direct key wins; otherwise the name is
// treated as a dot path into nested maps and slices ("fetch.items.0.id").
func Lookup(vars map[string]any, name string) (any, bool) {
	if vars == nil || name == "" {
		return nil, false
	}
	if val, ok := vars[name]; ok {
		return val, true
	}
	if !strings.Contains(name, ".") {
		return nil, false
	}
	return traversePath(vars, strings.Split(name, "."))
}

// traversePath navigates into nested maps and slices.
func traversePath(root any, segments []string) (any, bool) {
	current := root
	for _, seg := range segments {
		if seg == "" {
			return nil, false
		}
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				return nil, false
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			current = v[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// renderInline converts a resolved value to its textual form inside a string.
func renderInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.RawMessage:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// HasPlaceholder reports whether v contains a ${...} placeholder anywhere.
func HasPlaceholder(v any) bool {
	switch val := v.(type) {
	case string:
		return strings.Contains(val, "${")
	case map[string]any:
		for _, item := range val {
			if HasPlaceholder(item) {
				return true
			}
		}
	case []any:
		for _, item := range val {
			if HasPlaceholder(item) {
				return true
			}
		}
	case []map[string]any:
		for _, item := range val {
			if HasPlaceholder(item) {
				return true
			}
		}
	case []string:
		for _, item := range val {
			if strings.Contains(item, "${") {
				return true
			}
		}
	}
	return false
}

// mapKeys returns the sorted keys of m.
func mapKeys(m map[string]any) []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Placeholders returns the root names of every ${...} placeholder in v, in
// order of appearance. "${weather.temp}" yields "weather".
func Placeholders(v any) []string {
	var out []string
	var walk func(any)
	walk = func(v any) {
		switch val := v.(type) {
		case string:
			out = append(out, placeholderRoots(val)...)
		case map[string]any:
			for _, k := range mapKeys(val) {
				walk(val[k])
			}
		case []any:
			for _, item := range val {
				walk(item)
			}
		case []map[string]any:
			for _, item := range val {
				walk(item)
			}
		case []string:
			for _, item := range val {
				walk(item)
			}
		}
	}
	walk(v)
	return out
}

func placeholderRoots(s string) []string {
	var roots []string
	for {
		start := strings.Index(s, "${")
		if start == -1 {
			return roots
		}
		end := strings.IndexByte(s[start+2:], '}')
		if end == -1 {
			return roots
		}
		name := strings.TrimSpace(s[start+2 : start+2+end])
		if root, _, _ := strings.Cut(name, "."); root != "" {
			roots = append(roots, root)
		}
		s = s[start+2+end+1:]
	}
}
