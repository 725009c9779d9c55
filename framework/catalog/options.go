package catalog

import (
	"fmt"
	"reflect"

	"github.com/km-arc/go-container/internal/suggest"
)

// Option adjusts how a registered callable's parameters are described.
type Option func(*options)

type options struct {
	names    []string
	optional map[int]bool
	defaults map[int]any
}

// WithParams names the parameters in order. Go keeps no parameter names at run
// time, so unnamed parameters are reported as arg0, arg1, ...
func WithParams(names ...string) Option {
	return func(o *options) { o.names = names }
}

// WithOptional marks parameter positions as nullable: when nothing can be
// injected they receive their zero value.
func WithOptional(positions ...int) Option {
	return func(o *options) {
		if o.optional == nil {
			o.optional = make(map[int]bool)
		}
		for _, p := range positions {
			o.optional[p] = true
		}
	}
}

// WithDefault gives the parameter at position a default value.
func WithDefault(position int, value any) Option {
	return func(o *options) {
		if o.defaults == nil {
			o.defaults = make(map[int]any)
		}
		o.defaults[position] = value
	}
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func describeFunc(name string, fn any, opts []Option) (*Func, error) {
	if fn == nil {
		return nil, fmt.Errorf("catalog: %q: nil function", name)
	}
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		return nil, fmt.Errorf("catalog: %q: expected a function, got %T", name, fn)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	f, err := describe(name, rv.Type(), 0, o)
	if err != nil {
		return nil, err
	}
	f.fn = rv
	return f, nil
}

// describe reflects ft, skipping the first skip inputs (a method receiver).
func describe(name string, ft reflect.Type, skip int, o options) (*Func, error) {
	n := ft.NumIn() - skip
	if len(o.names) > n {
		return nil, fmt.Errorf("catalog: %q: %d parameter names for %d parameters", name, len(o.names), n)
	}
	for pos := range o.optional {
		if pos < 0 || pos >= n {
			return nil, fmt.Errorf("catalog: %q: optional position %d out of range", name, pos)
		}
	}
	for pos := range o.defaults {
		if pos < 0 || pos >= n {
			return nil, fmt.Errorf("catalog: %q: default position %d out of range", name, pos)
		}
	}

	f := &Func{Name: name, Params: make([]Param, n)}
	for i := 0; i < n; i++ {
		p := Param{
			Name:     fmt.Sprintf("arg%d", i),
			Type:     ft.In(i + skip),
			Optional: o.optional[i],
			Variadic: ft.IsVariadic() && i == n-1,
		}
		if i < len(o.names) {
			p.Name = o.names[i]
		}
		if d, ok := o.defaults[i]; ok {
			p.Default, p.HasDefault, p.Optional = d, true, true
		}
		f.Params[i] = p
	}

	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			f.Errors = true
		} else {
			f.Out = ft.Out(0)
		}
	case 2:
		if ft.Out(1) != errorType {
			return nil, fmt.Errorf("catalog: %q: second result must be error", name)
		}
		f.Out, f.Errors = ft.Out(0), true
	default:
		return nil, fmt.Errorf("catalog: %q: too many results", name)
	}
	return f, nil
}

func suggestFrom(name string, candidates []string) []string {
	return suggest.Alternatives(name, candidates)
}
