package compiler

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/km-arc/go-container/framework/builder"
	"github.com/km-arc/go-container/framework/catalog"
	"github.com/km-arc/go-container/framework/definition"
)

// Autowire turns every recipe into a complete positional argument list.
// Named arguments are placed first, then contextual bindings, then, for
// autowired services, the single service whose type fits the parameter.
// Optional parameters nothing fits are left to their default.
func Autowire() builder.Pass {
	return builder.PassFunc("autowire", func(b *builder.Builder) error {
		for id, def := range b.All() {
			if def.Attrs().Synthetic {
				continue
			}
			f, err := b.Constructor(id, def)
			if err != nil {
				return &builder.ConfigurationError{ID: id, Reason: "invalid recipe", Err: err}
			}
			if f == nil {
				continue
			}
			args, err := autowireArgs(b, id, def, f)
			if err != nil {
				return err
			}
			setPositional(def, args)
		}
		// lazy references can only be checked once every argument is known
		for id, def := range b.All() {
			if err := checkLazyArguments(b, id, def); err != nil {
				return err
			}
		}
		return nil
	})
}

func autowireArgs(b *builder.Builder, id string, def definition.Definition, f *catalog.Func) ([]any, error) {
	n := len(f.Params)
	variadic := n > 0 && f.Params[n-1].Variadic
	fixed := n
	if variadic {
		fixed--
	}

	args := slices.Clone(positional(def))
	filled := make([]bool, max(len(args), fixed))
	for i := range args {
		filled[i] = true
	}
	var spread []any
	for _, name := range definition.SortedKeys(named(def)) {
		v := named(def)[name]
		i := paramIndex(f, name)
		switch {
		case i < 0:
			return nil, builder.Configf(id, "%s has no parameter named %q", f.Name, name)
		case i >= fixed:
			spread = spreadValue(v)
			continue
		case filled[i]:
			return nil, builder.Configf(id, "argument $%s given both by position and by name", f.Params[i].Name)
		}
		for len(args) <= i {
			args = append(args, definition.Default{})
		}
		args[i], filled[i] = v, true
	}

	for i := 0; i < fixed; i++ {
		if filled[i] {
			continue
		}
		v, err := resolveParam(b, id, def, f.Params[i], i)
		if err != nil {
			return nil, err
		}
		for len(args) <= i {
			args = append(args, definition.Default{})
		}
		args[i] = v
	}

	if variadic && len(args) <= fixed {
		p := f.Params[fixed]
		if spread == nil {
			if v, ok := binding(b, def, p); ok {
				spread = spreadValue(v)
			}
		}
		if spread != nil {
			args = append(args[:fixed], spread...)
		}
	}

	for len(args) > 0 {
		if _, gap := args[len(args)-1].(definition.Default); !gap {
			break
		}
		args = args[:len(args)-1]
	}
	return args, nil
}

func spreadValue(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

func resolveParam(b *builder.Builder, id string, def definition.Definition, p catalog.Param, pos int) (any, error) {
	if v, ok := binding(b, def, p); ok {
		return v, nil
	}
	if def.Attrs().Autowire && autowirable(p) {
		ids, err := candidates(b, id, p.Type)
		if err != nil {
			return nil, err
		}
		switch len(ids) {
		case 1:
			b.Log("autowire", "%s: $%s gets %s", id, p.Name, ids[0])
			return definition.Ref(ids[0]), nil
		case 0:
		default:
			if !p.Optional {
				return nil, &builder.ResolutionError{ID: id, Param: p.Name, Position: pos, Type: p.Type.String(), Candidates: ids}
			}
			b.Warn("service %q: $%s is ambiguous between %v, using its default", id, p.Name, ids)
		}
	}
	if p.Optional {
		return definition.Default{}, nil
	}
	return nil, &builder.ResolutionError{ID: id, Param: p.Name, Position: pos, Type: p.Type.String()}
}

// binding returns the contextual value bound to p by name or by type.
func binding(b *builder.Builder, def definition.Definition, p catalog.Param) (any, bool) {
	bindings := def.Attrs().Bindings
	if len(bindings) == 0 {
		return nil, false
	}
	keys := []string{"$" + p.Name}
	if name, ok := b.Catalog().NameOf(p.Type); ok {
		keys = append(keys, name)
	}
	if key := typeKey(p.Type); key != "" {
		keys = append(keys, key)
	}
	keys = append(keys, p.Type.String())
	for _, k := range keys {
		if v, ok := bindings[k]; ok {
			return definition.CloneValue(v), true
		}
	}
	return nil, false
}

func autowirable(p catalog.Param) bool {
	if p.Scalar() {
		return false
	}
	return !(p.Type.Kind() == reflect.Interface && p.Type.NumMethod() == 0)
}

// candidates returns the services that can fill a parameter of type t,
// most specific first: a service named after the type, the single service
// of exactly that type, or every service assignable to it.
func candidates(b *builder.Builder, self string, t reflect.Type) ([]string, error) {
	var byName []string
	if name, ok := b.Catalog().NameOf(t); ok {
		byName = append(byName, name)
	}
	if key := typeKey(t); key != "" {
		byName = append(byName, key)
	}
	for _, id := range byName {
		if id == self || !b.Has(id) {
			continue
		}
		target, err := canonicalID(b, id)
		if err != nil {
			return nil, err
		}
		if rt, err := b.ResultType(target); err == nil && rt != nil && rt.AssignableTo(t) && target != self {
			return []string{target}, nil
		}
	}

	var exact, assignable []string
	for id, def := range b.All() {
		if id == self {
			continue
		}
		switch def.(type) {
		case *definition.Alias, *definition.Iterator:
			continue
		}
		if def.Attrs().HasTag(InnerTag) {
			continue
		}
		rt, err := b.ResultType(id)
		if err != nil || rt == nil {
			continue
		}
		switch {
		case rt == t:
			exact = append(exact, id)
		case rt.AssignableTo(t):
			assignable = append(assignable, id)
		}
	}
	if len(exact) > 0 {
		return exact, nil
	}
	return assignable, nil
}

func typeKey(t reflect.Type) string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return ""
	}
	return t.PkgPath() + "." + t.Name()
}

// checkLazyArguments rejects a lazy service passed where its deferred
// wrapper cannot be accepted.
func checkLazyArguments(b *builder.Builder, id string, def definition.Definition) error {
	if def.Attrs().Synthetic {
		return nil
	}
	f, err := b.Constructor(id, def)
	if err != nil {
		return &builder.ConfigurationError{ID: id, Reason: "invalid recipe", Err: err}
	}
	if f != nil {
		if err := checkLazyList(b, id, f, positional(def)); err != nil {
			return err
		}
	}
	mcs, props := calls(def), properties(def)
	if len(mcs) == 0 && len(props) == 0 {
		return nil
	}
	t, err := b.ResultType(id)
	if err != nil || t == nil {
		return nil
	}
	for _, call := range mcs {
		m, err := b.Catalog().TypeMethod(t, call.Method)
		if err != nil {
			return &builder.ConfigurationError{ID: id, Reason: "invalid method call", Err: err}
		}
		if err := checkLazyList(b, id, m, call.Args); err != nil {
			return err
		}
	}
	for _, prop := range props {
		st := t
		if st.Kind() == reflect.Pointer {
			st = st.Elem()
		}
		if st.Kind() != reflect.Struct {
			continue
		}
		sf, ok := st.FieldByName(prop.Name)
		if !ok {
			continue
		}
		if err := checkLazyValue(b, id, "property "+prop.Name, sf.Type, prop.Value); err != nil {
			return err
		}
	}
	return nil
}

func checkLazyList(b *builder.Builder, id string, f *catalog.Func, args []any) error {
	for i, v := range args {
		if len(f.Params) == 0 {
			return nil
		}
		p := f.Params[min(i, len(f.Params)-1)]
		pt := p.Type
		if p.Variadic {
			pt = pt.Elem()
		} else if i >= len(f.Params) {
			return nil
		}
		if err := checkLazyValue(b, id, fmt.Sprintf("argument $%s of %s", p.Name, f.Name), pt, v); err != nil {
			return err
		}
	}
	return nil
}

func checkLazyValue(b *builder.Builder, id, where string, pt reflect.Type, v any) error {
	ref, ok := v.(definition.Reference)
	if !ok {
		return nil
	}
	target, err := b.FindDefinition(ref.ID)
	if err != nil || !target.Attrs().Lazy {
		return nil
	}
	if builder.DeferredType().AssignableTo(pt) {
		return nil
	}
	return builder.Configf(id, "%s has type %s but lazy service %q is injected as %s", where, pt, ref.ID, builder.DeferredType())
}
