package catalog

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// ── Registered callables ──────────────────────────────────────────────────────

// Param describes one parameter of a registered callable.
type Param struct {
	Name       string
	Type       reflect.Type
	Optional   bool
	Default    any
	HasDefault bool
	Variadic   bool
}

// Scalar reports whether the parameter type is a basic value that must never
// be autowired.
func (p Param) Scalar() bool {
	t := p.Type
	if p.Variadic {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128,
		reflect.Slice, reflect.Array, reflect.Map:
		return true
	}
	return false
}

// Func is the reflected signature of a constructor, function or method.
type Func struct {
	Name   string
	Params []Param
	// Out is the first non-error result type, nil when there is none.
	Out reflect.Type
	// Errors is true when the last result is an error.
	Errors bool

	fn reflect.Value
}

// Type is a registered concrete type together with its constructor.
type Type struct {
	Name string
	// Type is the value the constructor produces (usually a pointer).
	Type reflect.Type
	Ctor *Func
}

type methodKey struct {
	t    reflect.Type
	name string
}

// ── Catalog ───────────────────────────────────────────────────────────────────

// Catalog maps stable names to constructors and functions. Definitions refer
// to types and callables only through these names, so the generated container
// can call back into compiled code after a process restart.
//
// The catalog doubles as the reflection cache: every signature is inspected
// once, at registration or on first method lookup.
type Catalog struct {
	mu sync.RWMutex

	types map[string]*Type
	funcs map[string]*Func

	// produced type → first class name registered for it
	names map[reflect.Type]string

	methods map[methodKey]*Func
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{
		types:   make(map[string]*Type),
		funcs:   make(map[string]*Func),
		names:   make(map[reflect.Type]string),
		methods: make(map[methodKey]*Func),
	}
}

// Register adds a concrete type under name. ctor must be a function returning
// the value, optionally followed by an error.
//
//	cat.Register("app.Mailer", NewMailer, catalog.WithParams("transport", "from"))
func (c *Catalog) Register(name string, ctor any, opts ...Option) error {
	f, err := describeFunc(name, ctor, opts)
	if err != nil {
		return err
	}
	if f.Out == nil {
		return fmt.Errorf("catalog: constructor for %q must return a value", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.types[name] = &Type{Name: name, Type: f.Out, Ctor: f}
	if _, taken := c.names[f.Out]; !taken {
		c.names[f.Out] = name
	}
	return nil
}

// RegisterFunc adds a callable under name. Factory definitions and provider
// factories dispatch to it by that name.
func (c *Catalog) RegisterFunc(name string, fn any, opts ...Option) error {
	f, err := describeFunc(name, fn, opts)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funcs[name] = f
	return nil
}

// MustRegister is Register that panics on error.
func (c *Catalog) MustRegister(name string, ctor any, opts ...Option) {
	if err := c.Register(name, ctor, opts...); err != nil {
		panic(err)
	}
}

// MustRegisterFunc is RegisterFunc that panics on error.
func (c *Catalog) MustRegisterFunc(name string, fn any, opts ...Option) {
	if err := c.RegisterFunc(name, fn, opts...); err != nil {
		panic(err)
	}
}

// Class returns the registered type called name.
func (c *Catalog) Class(name string) (*Type, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if t, ok := c.types[name]; ok {
		return t, nil
	}
	return nil, &ClassNotFoundError{Name: name, Kind: "type", Alternatives: alternatives(name, c.types)}
}

// Func returns the registered callable called name.
func (c *Catalog) Func(name string) (*Func, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if f, ok := c.funcs[name]; ok {
		return f, nil
	}
	return nil, &ClassNotFoundError{Name: name, Kind: "function", Alternatives: alternatives(name, c.funcs)}
}

// HasClass reports whether a type is registered under name.
func (c *Catalog) HasClass(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.types[name]
	return ok
}

// HasFunc reports whether a callable is registered under name.
func (c *Catalog) HasFunc(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.funcs[name]
	return ok
}

// ClassNames returns all registered type names, sorted.
func (c *Catalog) ClassNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.types)
}

// FuncNames returns all registered callable names, sorted.
func (c *Catalog) FuncNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.funcs)
}

// NameOf returns the class name registered for the produced type t.
func (c *Catalog) NameOf(t reflect.Type) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.names[t]
	return name, ok
}

// Method returns the signature of method on the type produced by class,
// without the receiver.
func (c *Catalog) Method(class, method string) (*Func, error) {
	t, err := c.Class(class)
	if err != nil {
		return nil, err
	}
	f, err := c.methodOf(t.Type, method)
	if err != nil {
		return nil, &BindingResolutionError{Class: class, Member: method, Kind: "method", Reason: err.Error()}
	}
	return f, nil
}

// TypeMethod returns the signature of method on t, without the receiver
// unless t is an interface.
func (c *Catalog) TypeMethod(t reflect.Type, method string) (*Func, error) {
	f, err := c.methodOf(t, method)
	if err != nil {
		return nil, &BindingResolutionError{Class: t.String(), Member: method, Kind: "method", Reason: err.Error()}
	}
	return f, nil
}

// Field returns the exported struct field name of the type produced by class.
func (c *Catalog) Field(class, field string) (reflect.StructField, error) {
	t, err := c.Class(class)
	if err != nil {
		return reflect.StructField{}, err
	}
	st := t.Type
	if st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	if st.Kind() != reflect.Struct {
		return reflect.StructField{}, &BindingResolutionError{Class: class, Member: field, Kind: "property", Reason: "not a struct"}
	}
	sf, ok := st.FieldByName(field)
	if !ok || !sf.IsExported() {
		return reflect.StructField{}, &BindingResolutionError{Class: class, Member: field, Kind: "property", Reason: "no exported field"}
	}
	return sf, nil
}

// Warm resolves the method sets of the named classes ahead of first use.
func (c *Catalog) Warm(classes ...string) error {
	for _, name := range classes {
		t, err := c.Class(name)
		if err != nil {
			return err
		}
		for i := 0; i < t.Type.NumMethod(); i++ {
			if _, err := c.methodOf(t.Type, t.Type.Method(i).Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// Warmed reports whether the whole method set of class is cached.
func (c *Catalog) Warmed(class string) bool {
	t, err := c.Class(class)
	if err != nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := 0; i < t.Type.NumMethod(); i++ {
		if _, ok := c.methods[methodKey{t: t.Type, name: t.Type.Method(i).Name}]; !ok {
			return false
		}
	}
	return true
}

// ── Calls ─────────────────────────────────────────────────────────────────────

// Construct builds a value of class with the given arguments.
func (c *Catalog) Construct(class string, args []any) (any, error) {
	t, err := c.Class(class)
	if err != nil {
		return nil, err
	}
	return t.Ctor.Call(args)
}

// Invoke calls the callable registered under name.
func (c *Catalog) Invoke(name string, args []any) (any, error) {
	f, err := c.Func(name)
	if err != nil {
		return nil, err
	}
	return f.Call(args)
}

// CallMethod calls method on target, resolved on target's dynamic type.
func (c *Catalog) CallMethod(target any, method string, args []any) (any, error) {
	if target == nil {
		return nil, &BindingResolutionError{Class: "<nil>", Member: method, Kind: "method", Reason: "nil target"}
	}
	rv := reflect.ValueOf(target)
	m := rv.MethodByName(method)
	if !m.IsValid() {
		return nil, &BindingResolutionError{Class: rv.Type().String(), Member: method, Kind: "method", Reason: "no such method"}
	}
	f, err := c.methodOf(rv.Type(), method)
	if err != nil {
		return nil, err
	}
	bound := *f
	bound.fn = m
	return bound.Call(args)
}

// SetField assigns value to the exported field of the struct target points to.
func (c *Catalog) SetField(target any, field string, value any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return &BindingResolutionError{Class: fmt.Sprintf("%T", target), Member: field, Kind: "property", Reason: "target is not a pointer to struct"}
	}
	fv := rv.Elem().FieldByName(field)
	if !fv.IsValid() || !fv.CanSet() {
		return &BindingResolutionError{Class: rv.Type().String(), Member: field, Kind: "property", Reason: "no settable field"}
	}
	v, err := convert(value, fv.Type())
	if err != nil {
		return fmt.Errorf("catalog: property %s.%s: %w", rv.Type(), field, err)
	}
	fv.Set(v)
	return nil
}

type defaultMarker struct{}

// UseDefault passed in place of an argument makes the parameter take its
// default, or its zero value when it is optional.
var UseDefault any = defaultMarker{}

// Call invokes f with args, converting each argument to its parameter type.
// Missing trailing arguments take their default or zero value when the
// parameter is optional.
func (f *Func) Call(args []any) (result any, err error) {
	in, err := f.arguments(args)
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("catalog: %s panicked: %v", f.Name, r)
		}
	}()
	return f.results(f.fn.Call(in))
}

func (f *Func) arguments(args []any) ([]reflect.Value, error) {
	in := make([]reflect.Value, 0, len(args))
	for i, p := range f.Params {
		if p.Variadic {
			for _, a := range args[min(i, len(args)):] {
				v, err := convert(a, p.Type.Elem())
				if err != nil {
					return nil, fmt.Errorf("catalog: %s argument %d (%s): %w", f.Name, i, p.Name, err)
				}
				in = append(in, v)
			}
			return in, nil
		}
		var (
			v   reflect.Value
			err error
		)
		switch {
		case i < len(args) && args[i] != UseDefault:
			v, err = convert(args[i], p.Type)
		case p.HasDefault:
			v, err = convert(p.Default, p.Type)
		case p.Optional:
			v = reflect.Zero(p.Type)
		default:
			return nil, fmt.Errorf("catalog: %s: missing argument %d (%s)", f.Name, i, p.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("catalog: %s argument %d (%s): %w", f.Name, i, p.Name, err)
		}
		in = append(in, v)
	}
	if len(args) > len(f.Params) {
		return nil, fmt.Errorf("catalog: %s takes %d arguments, got %d", f.Name, len(f.Params), len(args))
	}
	return in, nil
}

func (f *Func) results(out []reflect.Value) (any, error) {
	if f.Errors {
		if e := out[len(out)-1]; !e.IsNil() {
			return nil, e.Interface().(error)
		}
	}
	if f.Out == nil {
		return nil, nil
	}
	return out[0].Interface(), nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func (c *Catalog) methodOf(t reflect.Type, name string) (*Func, error) {
	key := methodKey{t: t, name: name}
	c.mu.RLock()
	f, ok := c.methods[key]
	c.mu.RUnlock()
	if ok {
		return f, nil
	}

	m, ok := t.MethodByName(name)
	if !ok {
		return nil, fmt.Errorf("%s has no method %s", t, name)
	}
	skip := 1
	if t.Kind() == reflect.Interface {
		skip = 0
	}
	f, err := describe(t.String()+"."+name, m.Type, skip, options{})
	if err != nil {
		return nil, err
	}
	if skip == 1 {
		f.fn = m.Func
	}

	c.mu.Lock()
	c.methods[key] = f
	c.mu.Unlock()
	return f, nil
}

// TypeKey returns the package-qualified type name of v, useful as a stable
// catalog name for a type.
//
//	key := catalog.TypeKey((*UserRepository)(nil))  // "example.com/app.UserRepository"
func TypeKey(v any) string {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.PkgPath() + "." + t.Name()
}

func alternatives[V any](name string, m map[string]V) []string {
	return suggestFrom(name, sortedKeys(m))
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
