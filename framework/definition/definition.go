package definition

import (
	"maps"
	"slices"
	"sort"
)

// Kind identifies the recipe a Definition describes.
type Kind int

const (
	KindObject Kind = iota
	KindFactory
	KindFactoryCall
	KindAlias
	KindIterator
	KindParameter
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindFactory:
		return "factory"
	case KindFactoryCall:
		return "factory-call"
	case KindAlias:
		return "alias"
	case KindIterator:
		return "iterator"
	case KindParameter:
		return "parameter"
	}
	return "unknown"
}

// ── Attributes ────────────────────────────────────────────────────────────────

// Tag labels a definition for collection-style injection. Seq is the global
// registration order assigned by the builder.
type Tag struct {
	Name       string
	Attributes map[string]any
	Seq        int
}

// Attributes are the flags every definition carries.
type Attributes struct {
	// Shared services are built once per container and memoized.
	Shared bool
	// Public services are reachable through the lookup surface.
	Public bool
	// Synthetic services are injected at run time and never built.
	Synthetic bool
	// Lazy services are injected behind a deferred wrapper.
	Lazy bool
	// Autowire fills constructor parameters that have no explicit argument.
	Autowire bool
	// Deprecated, when not empty, is logged whenever the service is referenced.
	Deprecated string
	Tags       []Tag
	// Bindings are contextual arguments keyed by "$paramName" or by the
	// catalog name of the parameter type.
	Bindings map[string]any
}

func defaultAttributes() Attributes {
	return Attributes{Shared: true, Autowire: true}
}

// HasTag reports whether the definition carries tag name.
func (a *Attributes) HasTag(name string) bool {
	for _, t := range a.Tags {
		if t.Name == name {
			return true
		}
	}
	return false
}

func (a Attributes) clone() Attributes {
	out := a
	out.Tags = make([]Tag, len(a.Tags))
	for i, t := range a.Tags {
		out.Tags[i] = Tag{Name: t.Name, Attributes: maps.Clone(t.Attributes), Seq: t.Seq}
	}
	if a.Bindings != nil {
		out.Bindings = make(map[string]any, len(a.Bindings))
		for k, v := range a.Bindings {
			out.Bindings[k] = CloneValue(v)
		}
	}
	return out
}

// ── Definition ────────────────────────────────────────────────────────────────

// Definition is a build-time recipe for one identifier.
type Definition interface {
	Kind() Kind
	Attrs() *Attributes
	Clone() Definition
}

// Property is a field assignment applied after construction.
type Property struct {
	Name  string
	Value any
}

// MethodCall is a method invoked after construction, in declaration order.
type MethodCall struct {
	Method string
	Args   []any
}

// Object builds a catalog class through its constructor.
type Object struct {
	Attributes
	Class      string
	Args       []any
	NamedArgs  map[string]any
	Properties []Property
	Calls      []MethodCall
}

// NewObject returns a shared, private, autowired object definition.
func NewObject(class string, args ...any) *Object {
	return &Object{Attributes: defaultAttributes(), Class: class, Args: args}
}

// NewSynthetic returns a public definition whose value is injected at run
// time. class is optional and only used for autowiring.
func NewSynthetic(class string) *Object {
	o := NewObject(class)
	o.Synthetic, o.Public, o.Autowire = true, true, false
	return o
}

func (d *Object) Kind() Kind         { return KindObject }
func (d *Object) Attrs() *Attributes { return &d.Attributes }

// AddCall appends a post-construction method call.
func (d *Object) AddCall(method string, args ...any) *Object {
	d.Calls = append(d.Calls, MethodCall{Method: method, Args: args})
	return d
}

// SetProperty appends a field assignment.
func (d *Object) SetProperty(name string, value any) *Object {
	d.Properties = append(d.Properties, Property{Name: name, Value: value})
	return d
}

func (d *Object) Clone() Definition {
	c := *d
	c.Attributes = d.Attributes.clone()
	c.Args = cloneSlice(d.Args)
	c.NamedArgs = cloneMap(d.NamedArgs)
	c.Properties = cloneProperties(d.Properties)
	c.Calls = cloneCalls(d.Calls)
	return &c
}

// Factory produces a service by calling Method on another service (Target is
// a Reference) or, when Target is nil, the catalog function
// "FactoryClass.Method".
type Factory struct {
	Attributes
	Target       any
	FactoryClass string
	Method       string
	// Class optionally names the produced type for autowiring.
	Class      string
	Args       []any
	NamedArgs  map[string]any
	Properties []Property
	Calls      []MethodCall
}

// NewFactory returns a factory definition dispatching to a method of target.
func NewFactory(target Reference, method string, args ...any) *Factory {
	return &Factory{Attributes: defaultAttributes(), Target: target, Method: method, Args: args}
}

// NewStaticFactory returns a factory definition dispatching to the catalog
// function "class.method".
func NewStaticFactory(class, method string, args ...any) *Factory {
	return &Factory{Attributes: defaultAttributes(), FactoryClass: class, Method: method, Args: args}
}

func (d *Factory) Kind() Kind         { return KindFactory }
func (d *Factory) Attrs() *Attributes { return &d.Attributes }

// Static reports whether the factory dispatches to a catalog function.
func (d *Factory) Static() bool { return d.Target == nil }

// Callable is the catalog function name of a static factory.
func (d *Factory) Callable() string { return d.FactoryClass + "." + d.Method }

// AddCall appends a post-construction method call.
func (d *Factory) AddCall(method string, args ...any) *Factory {
	d.Calls = append(d.Calls, MethodCall{Method: method, Args: args})
	return d
}

func (d *Factory) Clone() Definition {
	c := *d
	c.Attributes = d.Attributes.clone()
	c.Target = CloneValue(d.Target)
	c.Args = cloneSlice(d.Args)
	c.NamedArgs = cloneMap(d.NamedArgs)
	c.Properties = cloneProperties(d.Properties)
	c.Calls = cloneCalls(d.Calls)
	return &c
}

// FactoryCall produces a service by invoking a catalog function.
type FactoryCall struct {
	Attributes
	Callable string
	// Class optionally names the produced type for autowiring.
	Class     string
	Args      []any
	NamedArgs map[string]any
	Calls     []MethodCall
}

// NewFactoryCall returns a definition invoking callable with args.
func NewFactoryCall(callable string, args ...any) *FactoryCall {
	return &FactoryCall{Attributes: defaultAttributes(), Callable: callable, Args: args}
}

func (d *FactoryCall) Kind() Kind         { return KindFactoryCall }
func (d *FactoryCall) Attrs() *Attributes { return &d.Attributes }

// AddCall appends a post-construction method call.
func (d *FactoryCall) AddCall(method string, args ...any) *FactoryCall {
	d.Calls = append(d.Calls, MethodCall{Method: method, Args: args})
	return d
}

func (d *FactoryCall) Clone() Definition {
	c := *d
	c.Attributes = d.Attributes.clone()
	c.Args = cloneSlice(d.Args)
	c.NamedArgs = cloneMap(d.NamedArgs)
	c.Calls = cloneCalls(d.Calls)
	return &c
}

// Alias is pure indirection to Target.
type Alias struct {
	Attributes
	Target string
}

// NewAlias returns a private alias to target.
func NewAlias(target string) *Alias {
	return &Alias{Attributes: Attributes{}, Target: target}
}

func (d *Alias) Kind() Kind         { return KindAlias }
func (d *Alias) Attrs() *Attributes { return &d.Attributes }

func (d *Alias) Clone() Definition {
	c := *d
	c.Attributes = d.Attributes.clone()
	return &c
}

// Iterator is the lazy, re-iterable sequence over the services tagged Tag,
// synthesized when a TaggedIterator is injected.
type Iterator struct {
	Attributes
	Tag  string
	Refs []Reference
}

// NewIterator returns a shared, private iterator definition.
func NewIterator(tag string, refs []Reference) *Iterator {
	return &Iterator{Attributes: Attributes{Shared: true}, Tag: tag, Refs: refs}
}

func (d *Iterator) Kind() Kind         { return KindIterator }
func (d *Iterator) Attrs() *Attributes { return &d.Attributes }

func (d *Iterator) Clone() Definition {
	c := *d
	c.Attributes = d.Attributes.clone()
	c.Refs = slices.Clone(d.Refs)
	return &c
}

// Parameter is a parameter recipe. Registering it with the builder stores
// Value in the parameter bag under Key.
type Parameter struct {
	Attributes
	Key   string
	Value any
}

// NewParameter returns a parameter definition.
func NewParameter(key string, value any) *Parameter {
	return &Parameter{Key: key, Value: value}
}

func (d *Parameter) Kind() Kind         { return KindParameter }
func (d *Parameter) Attrs() *Attributes { return &d.Attributes }

func (d *Parameter) Clone() Definition {
	c := *d
	c.Value = CloneValue(d.Value)
	return &c
}

// ── Traversal ─────────────────────────────────────────────────────────────────

// Values returns every value slot of d in a stable order: factory target,
// positional arguments, named arguments by name, properties, call arguments
// and iterator references.
func Values(d Definition) []any {
	var out []any
	switch t := d.(type) {
	case *Object:
		out = append(out, t.Args...)
		out = appendNamed(out, t.NamedArgs)
		out = appendProperties(out, t.Properties)
		out = appendCalls(out, t.Calls)
	case *Factory:
		if t.Target != nil {
			out = append(out, t.Target)
		}
		out = append(out, t.Args...)
		out = appendNamed(out, t.NamedArgs)
		out = appendProperties(out, t.Properties)
		out = appendCalls(out, t.Calls)
	case *FactoryCall:
		out = append(out, t.Args...)
		out = appendNamed(out, t.NamedArgs)
		out = appendCalls(out, t.Calls)
	case *Iterator:
		for _, r := range t.Refs {
			out = append(out, r)
		}
	case *Parameter:
		out = append(out, t.Value)
	}
	return out
}

// ReplaceValues rewrites every value slot of d through Replace.
func ReplaceValues(d Definition, fn func(v any) (any, bool)) {
	switch t := d.(type) {
	case *Object:
		replaceSlice(t.Args, fn)
		replaceNamed(t.NamedArgs, fn)
		replaceProperties(t.Properties, fn)
		replaceCalls(t.Calls, fn)
	case *Factory:
		if t.Target != nil {
			t.Target = Replace(t.Target, fn)
		}
		replaceSlice(t.Args, fn)
		replaceNamed(t.NamedArgs, fn)
		replaceProperties(t.Properties, fn)
		replaceCalls(t.Calls, fn)
	case *FactoryCall:
		replaceSlice(t.Args, fn)
		replaceNamed(t.NamedArgs, fn)
		replaceCalls(t.Calls, fn)
	case *Iterator:
		for i, r := range t.Refs {
			if nr, ok := Replace(r, fn).(Reference); ok {
				t.Refs[i] = nr
			}
		}
	case *Parameter:
		t.Value = Replace(t.Value, fn)
	}
}

// DefinitionReferences returns every Reference reachable from d's values.
func DefinitionReferences(d Definition) []Reference {
	var refs []Reference
	for _, v := range Values(d) {
		refs = append(refs, References(v)...)
	}
	return refs
}

// CloneValue deep-copies collections and inlined definitions in v.
func CloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		return cloneSlice(t)
	case map[string]any:
		return cloneMap(t)
	case Inline:
		return Inline{ID: t.ID, Definition: t.Definition.Clone()}
	}
	return v
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func appendNamed(out []any, named map[string]any) []any {
	for _, k := range SortedKeys(named) {
		out = append(out, named[k])
	}
	return out
}

func appendProperties(out []any, props []Property) []any {
	for _, p := range props {
		out = append(out, p.Value)
	}
	return out
}

func appendCalls(out []any, calls []MethodCall) []any {
	for _, c := range calls {
		out = append(out, c.Args...)
	}
	return out
}

func replaceSlice(s []any, fn func(v any) (any, bool)) {
	for i, v := range s {
		s[i] = Replace(v, fn)
	}
}

func replaceNamed(m map[string]any, fn func(v any) (any, bool)) {
	for k, v := range m {
		m[k] = Replace(v, fn)
	}
}

func replaceProperties(props []Property, fn func(v any) (any, bool)) {
	for i := range props {
		props[i].Value = Replace(props[i].Value, fn)
	}
}

func replaceCalls(calls []MethodCall, fn func(v any) (any, bool)) {
	for i := range calls {
		replaceSlice(calls[i].Args, fn)
	}
}

func cloneSlice(s []any) []any {
	if s == nil {
		return nil
	}
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = CloneValue(v)
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

func cloneProperties(props []Property) []Property {
	if props == nil {
		return nil
	}
	out := make([]Property, len(props))
	for i, p := range props {
		out[i] = Property{Name: p.Name, Value: CloneValue(p.Value)}
	}
	return out
}

func cloneCalls(calls []MethodCall) []MethodCall {
	if calls == nil {
		return nil
	}
	out := make([]MethodCall, len(calls))
	for i, c := range calls {
		out[i] = MethodCall{Method: c.Method, Args: cloneSlice(c.Args)}
	}
	return out
}
