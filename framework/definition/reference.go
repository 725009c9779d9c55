package definition

import "fmt"

// InvalidBehavior says what happens when a Reference points at an identifier
// that does not exist when the container is compiled.
type InvalidBehavior int

const (
	// ExceptionOnInvalid fails compilation.
	ExceptionOnInvalid InvalidBehavior = iota
	// NullOnInvalid injects nil instead.
	NullOnInvalid
	// IgnoreOnInvalid injects nil as an argument and drops a method call
	// that receives it.
	IgnoreOnInvalid
)

func (b InvalidBehavior) String() string {
	switch b {
	case NullOnInvalid:
		return "null"
	case IgnoreOnInvalid:
		return "ignore"
	default:
		return "exception"
	}
}

// Reference points at another service by identifier.
type Reference struct {
	ID      string
	Invalid InvalidBehavior
}

// Ref returns a Reference that fails compilation when id is missing.
func Ref(id string) Reference { return Reference{ID: id} }

// OptionalRef returns a Reference that resolves to nil when id is missing.
func OptionalRef(id string) Reference { return Reference{ID: id, Invalid: NullOnInvalid} }

// IgnoreRef returns a Reference whose method call is skipped when id is missing.
func IgnoreRef(id string) Reference { return Reference{ID: id, Invalid: IgnoreOnInvalid} }

func (r Reference) String() string { return "@" + r.ID }

// Param is a run-time lookup of a resolved parameter.
type Param struct {
	Key string
}

func (p Param) String() string { return "%" + p.Key + "%" }

// TaggedIterator injects every service tagged Tag as one lazy sequence.
type TaggedIterator struct {
	Tag string
}

func (t TaggedIterator) String() string { return "!tagged_iterator " + t.Tag }

// Default stands for a parameter's declared default, or its zero value
// when the parameter is optional.
type Default struct{}

func (Default) String() string { return "default" }

// Inline is a definition built in place of the Reference it replaced.
type Inline struct {
	ID         string
	Definition Definition
}

func (i Inline) String() string { return fmt.Sprintf("inline(%s)", i.ID) }

// Walk calls fn for v and, depth first, for every value nested in it,
// including the arguments of inlined definitions. Returning false from fn
// stops the descent into that value.
func Walk(v any, fn func(v any) bool) {
	if !fn(v) {
		return
	}
	switch t := v.(type) {
	case []any:
		for _, e := range t {
			Walk(e, fn)
		}
	case map[string]any:
		for _, k := range SortedKeys(t) {
			Walk(t[k], fn)
		}
	case Inline:
		for _, e := range Values(t.Definition) {
			Walk(e, fn)
		}
	}
}

// Replace rebuilds v bottom-up, substituting every value for which fn
// returns (replacement, true). Inlined definitions are rewritten in place.
func Replace(v any, fn func(v any) (any, bool)) any {
	if r, ok := fn(v); ok {
		return r
	}
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Replace(e, fn)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Replace(e, fn)
		}
		return out
	case Inline:
		ReplaceValues(t.Definition, fn)
		return t
	}
	return v
}

// References returns every Reference in v in depth-first order. Inlined
// definitions contribute their own references.
func References(v any) []Reference {
	var refs []Reference
	Walk(v, func(v any) bool {
		if r, ok := v.(Reference); ok {
			refs = append(refs, r)
		}
		return true
	})
	return refs
}
