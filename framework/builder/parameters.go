package builder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/km-arc/go-container/framework/definition"
	"github.com/km-arc/go-container/internal/suggest"
)

// ParameterProcessor transforms a placeholder value named with the
// "%key|name%" syntax.
type ParameterProcessor interface {
	Supports(name string) bool
	Process(name string, raw any) (any, error)
}

var (
	wholePlaceholder = regexp.MustCompile(`^%([^%\s]+)%$`)
	anyPlaceholder   = regexp.MustCompile(`%%|%([^%\s]+)%`)
)

// AddProcessor appends p to the processors consulted for "%key|name%".
// The first processor supporting a name wins.
func (b *Builder) AddProcessor(p ParameterProcessor) error {
	if b.compiled {
		return &FrozenError{Op: "add processor"}
	}
	b.processors = append(b.processors, p)
	return nil
}

// SetParameter stores a raw parameter value. Strings may contain
// placeholders.
func (b *Builder) SetParameter(key string, value any) error {
	if b.compiled || b.resolved != nil {
		return &FrozenError{Op: "set parameter " + key}
	}
	b.params[key] = value
	return nil
}

// HasParameter reports whether key is defined.
func (b *Builder) HasParameter(key string) bool {
	_, ok := b.params[key]
	return ok
}

// Parameter returns the resolved value of key once parameters are resolved,
// its raw value before.
func (b *Builder) Parameter(key string) (any, error) {
	if b.resolved != nil {
		if v, ok := b.resolved[key]; ok {
			return v, nil
		}
	} else if v, ok := b.params[key]; ok {
		return v, nil
	}
	return nil, b.paramNotFound(key, "")
}

// Parameters returns a copy of the parameter bag: resolved values once
// parameters are resolved, raw values before.
func (b *Builder) Parameters() map[string]any {
	src := b.params
	if b.resolved != nil {
		src = b.resolved
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// ParametersResolved reports whether the parameter bag is frozen.
func (b *Builder) ParametersResolved() bool { return b.resolved != nil }

// ResolveParameters resolves every placeholder in the parameter bag and
// freezes it.
func (b *Builder) ResolveParameters() error {
	if b.resolved != nil {
		return nil
	}
	r := b.resolver("")
	for _, key := range sortedParamKeys(b.params) {
		if _, err := r.param(key); err != nil {
			return err
		}
	}
	b.resolved = r.cache
	return nil
}

// ResolveString resolves the placeholders in s. A string that is exactly one
// placeholder resolves to the parameter value itself, whatever its type.
func (b *Builder) ResolveString(s string) (any, error) {
	return b.resolver("").str(s)
}

// ResolveValue resolves placeholders in every string nested in v.
// sourceID names the service the value belongs to in errors.
func (b *Builder) ResolveValue(v any, sourceID string) (any, error) {
	return b.resolver(sourceID).value(v)
}

// ── Resolver ──────────────────────────────────────────────────────────────────

type resolver struct {
	b        *Builder
	source   string
	cache    map[string]any
	visiting map[string]bool
	stack    []string
}

func (b *Builder) resolver(source string) *resolver {
	r := &resolver{b: b, source: source, cache: make(map[string]any), visiting: make(map[string]bool)}
	for k, v := range b.resolved {
		r.cache[k] = v
	}
	return r
}

func (r *resolver) param(key string) (any, error) {
	if v, ok := r.cache[key]; ok {
		return v, nil
	}
	if r.visiting[key] {
		path := append([]string{}, r.stack...)
		for i, k := range path {
			if k == key {
				path = path[i:]
				break
			}
		}
		return nil, &ParameterCircularReferenceError{Path: append(path, key)}
	}
	raw, ok := r.b.params[key]
	if !ok {
		return nil, r.b.paramNotFound(key, r.source)
	}
	r.visiting[key] = true
	r.stack = append(r.stack, key)
	v, err := r.value(raw)
	r.stack = r.stack[:len(r.stack)-1]
	delete(r.visiting, key)
	if err != nil {
		return nil, err
	}
	r.cache[key] = v
	return v, nil
}

func (r *resolver) value(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return r.str(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			rv, err := r.value(e)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			rv, err := r.value(e)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	}
	return v, nil
}

func (r *resolver) str(s string) (any, error) {
	if !strings.Contains(s, "%") {
		return s, nil
	}
	if m := wholePlaceholder.FindStringSubmatch(s); m != nil {
		return r.placeholder(m[1])
	}

	var out strings.Builder
	last := 0
	for _, loc := range anyPlaceholder.FindAllStringSubmatchIndex(s, -1) {
		out.WriteString(s[last:loc[0]])
		last = loc[1]
		if loc[2] < 0 {
			out.WriteByte('%')
			continue
		}
		expr := s[loc[2]:loc[3]]
		v, err := r.placeholder(expr)
		if err != nil {
			return nil, err
		}
		str, err := embed(v)
		if err != nil {
			return nil, &ConfigurationError{ID: r.source, Reason: fmt.Sprintf("placeholder %%%s%% in %q", expr, s), Err: err}
		}
		out.WriteString(str)
	}
	out.WriteString(s[last:])
	return out.String(), nil
}

// placeholder resolves "key" or "key|proc1|proc2".
func (r *resolver) placeholder(expr string) (any, error) {
	parts := strings.Split(expr, "|")
	key := parts[0]
	if len(parts) == 1 {
		return r.param(key)
	}

	var v any = key
	if r.b.HasParameter(key) {
		resolved, err := r.param(key)
		if err != nil {
			return nil, err
		}
		v = resolved
	}
	for _, name := range parts[1:] {
		p := r.b.processor(name)
		if p == nil {
			return nil, &ConfigurationError{ID: r.source, Reason: fmt.Sprintf("no parameter processor supports %q in %%%s%%", name, expr)}
		}
		out, err := p.Process(name, v)
		if err != nil {
			return nil, &ConfigurationError{ID: r.source, Reason: fmt.Sprintf("processor %q on %%%s%%", name, expr), Err: err}
		}
		v = out
	}
	return v, nil
}

func (b *Builder) processor(name string) ParameterProcessor {
	for _, p := range b.processors {
		if p.Supports(name) {
			return p
		}
	}
	return nil
}

func (b *Builder) paramNotFound(key, source string) error {
	return &ParameterNotFoundError{Key: key, SourceID: source, Alternatives: suggest.Alternatives(key, sortedParamKeys(b.params))}
}

func embed(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(t), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	}
	return "", fmt.Errorf("a %T cannot be embedded in a string", v)
}

func sortedParamKeys(m map[string]any) []string {
	return definition.SortedKeys(m)
}
