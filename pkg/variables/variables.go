// Package variables implements the per-run variable context that commands
// read and write through ${name} interpolation.
package variables

import (
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"strings"
	"sync"
)

// markerRe matches ${name} markers. Names may contain dots to reach into
// structured values stored with storeJson. Empty names and names with spaces
// match too, so that they fail lookup instead of passing through verbatim.
var markerRe = regexp.MustCompile(`\$\{([^}]*)\}`)

// UndefinedVariableError is returned when a marker or Get refers to a name
// that was never set and no default applies.
type UndefinedVariableError struct {
	Name string
}

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("variable %q is not defined", e.Name)
}

// DefaultPolicy supplies values for names that were never set. It returns
// false when it has no value either.
type DefaultPolicy func(name string) (any, bool)

// Variables is the variable context of one playback run.
type Variables struct {
	mu       sync.RWMutex
	vars     map[string]any
	defaults DefaultPolicy
}

// New returns an empty context.
func New() *Variables {
	return &Variables{vars: make(map[string]any)}
}

// NewFrom returns a context seeded with initial bindings.
func NewFrom(seed map[string]any) *Variables {
	v := New()
	for k, val := range seed {
		v.vars[k] = val
	}
	return v
}

// WithDefaults installs a fallback for unset names and returns v.
func (v *Variables) WithDefaults(policy DefaultPolicy) *Variables {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.defaults = policy
	return v
}

// Set binds name to value, replacing any previous binding.
func (v *Variables) Set(name string, value any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.vars[name] = value
}

// Delete removes a binding.
func (v *Variables) Delete(name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.vars, name)
}

// Has reports whether name is bound (defaults are not consulted).
func (v *Variables) Has(name string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.vars[name]
	return ok
}

// Get returns the value bound to name. Dotted names that are not bound
// directly are resolved as a path into structured values.
func (v *Variables) Get(name string) (any, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lookup(name)
}

func (v *Variables) lookup(name string) (any, error) {
	if val, ok := v.vars[name]; ok {
		return val, nil
	}
	if head, rest, ok := strings.Cut(name, "."); ok {
		if root, ok := v.vars[head]; ok {
			if val, ok := walkPath(root, strings.Split(rest, ".")); ok {
				return val, nil
			}
		}
	}
	if v.defaults != nil {
		if val, ok := v.defaults(name); ok {
			return val, nil
		}
	}
	return nil, &UndefinedVariableError{Name: name}
}

func walkPath(val any, keys []string) (any, bool) {
	for _, k := range keys {
		switch c := val.(type) {
		case map[string]any:
			next, ok := c[k]
			if !ok {
				return nil, false
			}
			val = next
		case []any:
			var idx int
			if _, err := fmt.Sscanf(k, "%d", &idx); err != nil || idx < 0 || idx >= len(c) {
				return nil, false
			}
			val = c[idx]
		default:
			return nil, false
		}
	}
	return val, true
}

// Snapshot returns a copy of the current bindings.
func (v *Variables) Snapshot() map[string]any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return maps.Clone(v.vars)
}

// Len returns the number of bindings.
func (v *Variables) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.vars)
}

// Interpolate replaces every ${name} marker in text with the bound value.
// Text without markers is returned unchanged. The first marker that cannot
// be resolved fails the whole interpolation.
func (v *Variables) Interpolate(text string) (string, error) {
	if !strings.Contains(text, "${") {
		return text, nil
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	var firstErr error
	out := markerRe.ReplaceAllStringFunc(text, func(m string) string {
		if firstErr != nil {
			return m
		}
		name := m[2 : len(m)-1]
		val, err := v.lookup(name)
		if err != nil {
			firstErr = err
			return m
		}
		return Format(val)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// InterpolateScript rewrites ${name} markers in a script into positional
// arguments[i] references and returns the values in order, so that values
// reach the browser as data instead of source text.
func (v *Variables) InterpolateScript(script string) (string, []any, error) {
	if !strings.Contains(script, "${") {
		return script, nil, nil
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	var (
		args     []any
		index    = make(map[string]int)
		firstErr error
	)
	out := markerRe.ReplaceAllStringFunc(script, func(m string) string {
		if firstErr != nil {
			return m
		}
		name := m[2 : len(m)-1]
		if i, ok := index[name]; ok {
			return fmt.Sprintf("arguments[%d]", i)
		}
		val, err := v.lookup(name)
		if err != nil {
			firstErr = err
			return m
		}
		index[name] = len(args)
		args = append(args, val)
		return fmt.Sprintf("arguments[%d]", len(args)-1)
	})
	if firstErr != nil {
		return "", nil, firstErr
	}
	return out, args, nil
}

// Format renders a value the way interpolation inserts it: strings verbatim,
// structured values as JSON.
func Format(val any) string {
	switch x := val.(type) {
	case nil:
		return ""
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case bool, int, int32, int64, float32, float64:
		return fmt.Sprint(x)
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	}
}
