package compiler

import (
	"fmt"
	"reflect"

	"github.com/km-arc/go-container/framework/builder"
	"github.com/km-arc/go-container/framework/catalog"
	"github.com/km-arc/go-container/framework/definition"
	"github.com/km-arc/go-container/internal/suggest"
)

// CheckDefinitions rejects malformed recipes: unknown classes, factory
// methods, call methods or properties, and synthetic services with a recipe.
func CheckDefinitions() builder.Pass {
	return builder.PassFunc("check-definitions", func(b *builder.Builder) error {
		for id, def := range b.All() {
			if err := checkDefinition(b, id, def); err != nil {
				return err
			}
		}
		return nil
	})
}

func checkDefinition(b *builder.Builder, id string, def definition.Definition) error {
	attrs := def.Attrs()
	if attrs.Synthetic {
		if len(definition.Values(def)) > 0 {
			return builder.Configf(id, "a synthetic service cannot have arguments, properties or calls")
		}
		if _, ok := def.(*definition.Object); !ok {
			return builder.Configf(id, "a synthetic service must be an object definition")
		}
		return nil
	}

	switch d := def.(type) {
	case *definition.Alias, *definition.Iterator:
		return nil
	case *definition.Object:
		if d.Class == "" {
			return builder.Configf(id, "no class")
		}
	case *definition.Factory:
		if d.Method == "" {
			return builder.Configf(id, "factory without a method")
		}
		if !d.Static() {
			if _, ok := d.Target.(definition.Reference); !ok {
				return builder.Configf(id, "factory target must be a reference, got %T", d.Target)
			}
		}
	case *definition.FactoryCall:
		if d.Callable == "" {
			return builder.Configf(id, "factory call without a callable")
		}
	}

	ctor, err := b.Constructor(id, def)
	if err != nil {
		return &builder.ConfigurationError{ID: id, Reason: "invalid recipe", Err: err}
	}
	if ctor != nil {
		if err := checkArguments(id, ctor, positional(def), named(def)); err != nil {
			return err
		}
	}

	t, err := b.ResultType(id)
	if err != nil {
		return &builder.ConfigurationError{ID: id, Reason: "invalid recipe", Err: err}
	}
	for _, call := range calls(def) {
		if t == nil {
			b.Warn("service %q: cannot check call %s, result type unknown", id, call.Method)
			continue
		}
		m, err := b.Catalog().TypeMethod(t, call.Method)
		if err != nil {
			return &builder.ConfigurationError{ID: id, Reason: "invalid method call", Err: err}
		}
		if err := checkArguments(id, m, call.Args, nil); err != nil {
			return err
		}
	}
	for _, prop := range properties(def) {
		if t == nil {
			b.Warn("service %q: cannot check property %s, result type unknown", id, prop.Name)
			continue
		}
		if err := checkField(t, prop.Name); err != nil {
			return &builder.ConfigurationError{ID: id, Reason: "invalid property", Err: err}
		}
	}
	return nil
}

func checkArguments(id string, f *catalog.Func, args []any, namedArgs map[string]any) error {
	variadic := len(f.Params) > 0 && f.Params[len(f.Params)-1].Variadic
	if !variadic && len(args) > len(f.Params) {
		return builder.Configf(id, "%s takes %d arguments, %d given", f.Name, len(f.Params), len(args))
	}
	for name := range namedArgs {
		if paramIndex(f, name) < 0 {
			names := make([]string, len(f.Params))
			for i, p := range f.Params {
				names[i] = p.Name
			}
			return builder.Configf(id, "%s has no parameter named %q%s", f.Name, name, suggest.Hint(suggest.Alternatives(name, names)))
		}
	}
	return nil
}

func checkField(t reflect.Type, name string) error {
	st := t
	if st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	if t.Kind() != reflect.Pointer || st.Kind() != reflect.Struct {
		return fmt.Errorf("%s is not a pointer to a struct", t)
	}
	sf, ok := st.FieldByName(name)
	if !ok || !sf.IsExported() {
		return &catalog.BindingResolutionError{Class: t.String(), Member: name, Kind: "property", Reason: "no exported field"}
	}
	return nil
}

// CheckReferences fails on references to undefined services unless the
// reference tolerates it, and records deprecation notices.
func CheckReferences() builder.Pass {
	return builder.PassFunc("check-references", func(b *builder.Builder) error {
		for id, def := range b.All() {
			for _, ref := range definition.DefinitionReferences(def) {
				target, err := b.Definition(ref.ID)
				if err != nil {
					if ref.Invalid != definition.ExceptionOnInvalid {
						continue
					}
					return &builder.ConfigurationError{ID: id, Reason: fmt.Sprintf("references undefined service %q", ref.ID), Err: err}
				}
				if msg := target.Attrs().Deprecated; msg != "" {
					b.Deprecate(fmt.Sprintf("service %q referenced by %q is deprecated: %s", ref.ID, id, msg))
				}
			}
		}
		return nil
	})
}

// ── Recipe accessors ──────────────────────────────────────────────────────────

func positional(def definition.Definition) []any {
	switch d := def.(type) {
	case *definition.Object:
		return d.Args
	case *definition.Factory:
		return d.Args
	case *definition.FactoryCall:
		return d.Args
	}
	return nil
}

func setPositional(def definition.Definition, args []any) {
	switch d := def.(type) {
	case *definition.Object:
		d.Args, d.NamedArgs = args, nil
	case *definition.Factory:
		d.Args, d.NamedArgs = args, nil
	case *definition.FactoryCall:
		d.Args, d.NamedArgs = args, nil
	}
}

func named(def definition.Definition) map[string]any {
	switch d := def.(type) {
	case *definition.Object:
		return d.NamedArgs
	case *definition.Factory:
		return d.NamedArgs
	case *definition.FactoryCall:
		return d.NamedArgs
	}
	return nil
}

func calls(def definition.Definition) []definition.MethodCall {
	switch d := def.(type) {
	case *definition.Object:
		return d.Calls
	case *definition.Factory:
		return d.Calls
	case *definition.FactoryCall:
		return d.Calls
	}
	return nil
}

func setCalls(def definition.Definition, c []definition.MethodCall) {
	switch d := def.(type) {
	case *definition.Object:
		d.Calls = c
	case *definition.Factory:
		d.Calls = c
	case *definition.FactoryCall:
		d.Calls = c
	}
}

func properties(def definition.Definition) []definition.Property {
	switch d := def.(type) {
	case *definition.Object:
		return d.Properties
	case *definition.Factory:
		return d.Properties
	}
	return nil
}

// paramIndex finds a parameter by name, with or without a leading "$".
func paramIndex(f *catalog.Func, name string) int {
	if len(name) > 0 && name[0] == '$' {
		name = name[1:]
	}
	for i, p := range f.Params {
		if p.Name == name {
			return i
		}
	}
	return -1
}
