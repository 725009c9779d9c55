package compiler

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/km-arc/go-container/framework/builder"
	"github.com/km-arc/go-container/framework/definition"
)

var paramRef = regexp.MustCompile(`^%([^%|\s]+)%$`)

// ResolveParameterPlaceholders freezes the parameter bag and rewrites the
// placeholders in every recipe. A string that is exactly "%key%" becomes a
// run-time parameter lookup; every other placeholder is resolved in place.
func ResolveParameterPlaceholders() builder.Pass {
	return builder.PassFunc("resolve-parameter-placeholders", func(b *builder.Builder) error {
		if err := b.ResolveParameters(); err != nil {
			return err
		}
		for id, def := range b.All() {
			if err := resolveNames(b, id, def); err != nil {
				return err
			}
			var first error
			rewrite := func(v any) (any, bool) {
				if first != nil {
					return v, true
				}
				out, ok, err := resolvePlaceholder(b, id, v)
				if err != nil {
					first = err
				}
				return out, ok
			}
			definition.ReplaceValues(def, rewrite)
			attrs := def.Attrs()
			for k, v := range attrs.Bindings {
				attrs.Bindings[k] = definition.Replace(v, rewrite)
			}
			if first != nil {
				return first
			}
		}
		return nil
	})
}

func resolvePlaceholder(b *builder.Builder, id string, v any) (any, bool, error) {
	switch t := v.(type) {
	case string:
		if m := paramRef.FindStringSubmatch(t); m != nil {
			if !b.HasParameter(m[1]) {
				_, err := b.Parameter(m[1])
				return v, true, withSource(err, id)
			}
			return definition.Param{Key: m[1]}, true, nil
		}
		out, err := b.ResolveValue(t, id)
		return out, true, err
	case definition.Param:
		if _, err := b.Parameter(t.Key); err != nil {
			return v, true, withSource(err, id)
		}
		return v, true, nil
	}
	return v, false, nil
}

// resolveNames resolves placeholders in class, factory and callable names.
func resolveNames(b *builder.Builder, id string, def definition.Definition) error {
	var names []*string
	switch d := def.(type) {
	case *definition.Object:
		names = []*string{&d.Class}
	case *definition.Factory:
		names = []*string{&d.Class, &d.FactoryClass, &d.Method}
	case *definition.FactoryCall:
		names = []*string{&d.Class, &d.Callable}
	}
	for _, name := range names {
		v, err := b.ResolveValue(*name, id)
		if err != nil {
			return err
		}
		s, ok := v.(string)
		if !ok {
			return builder.Configf(id, "name %q must resolve to a string, got %T", *name, v)
		}
		*name = s
	}
	return nil
}

func withSource(err error, id string) error {
	var pe *builder.ParameterNotFoundError
	if errors.As(err, &pe) && pe.SourceID == "" {
		pe.SourceID = id
		return err
	}
	return fmt.Errorf("service %q: %w", id, err)
}
