package builder

import (
	"reflect"

	"github.com/km-arc/go-container/framework/catalog"
	"github.com/km-arc/go-container/framework/container"
	"github.com/km-arc/go-container/framework/definition"
)

var (
	sequenceType = reflect.TypeOf((*container.Sequence)(nil))
	deferredType = reflect.TypeOf((*container.Deferred)(nil))
	lookupType   = reflect.TypeOf((*container.Lookup)(nil)).Elem()
)

// SequenceType is the type a tagged collection is injected as.
func SequenceType() reflect.Type { return sequenceType }

// DeferredType is the type a lazy service is injected as.
func DeferredType() reflect.Type { return deferredType }

// ── Introspection ─────────────────────────────────────────────────────────────

// Class returns the catalog type registered as name.
func (b *Builder) Class(name string) (*catalog.Type, error) {
	return b.cat.Class(name)
}

// Method returns the signature of method on class.
func (b *Builder) Method(class, method string) (*catalog.Func, error) {
	return b.cat.Method(class, method)
}

// Function returns the signature of the catalog function name.
func (b *Builder) Function(name string) (*catalog.Func, error) {
	return b.cat.Func(name)
}

// Constructor returns the callable that produces the service defined by
// def: a class constructor, a static or instance factory method, or a
// catalog function. id is used to resolve instance factories.
func (b *Builder) Constructor(id string, def definition.Definition) (*catalog.Func, error) {
	switch d := def.(type) {
	case *definition.Object:
		if d.Synthetic {
			return nil, nil
		}
		t, err := b.cat.Class(d.Class)
		if err != nil {
			return nil, err
		}
		return t.Ctor, nil
	case *definition.Factory:
		if d.Static() {
			return b.cat.Func(d.Callable())
		}
		ref, ok := d.Target.(definition.Reference)
		if !ok {
			return b.factoryMethodOnValue(id, d)
		}
		target, err := b.ResultType(ref.ID)
		if err != nil {
			return nil, err
		}
		if target == nil {
			return nil, Configf(id, "the type of factory service %q is unknown", ref.ID)
		}
		return b.cat.TypeMethod(target, d.Method)
	case *definition.FactoryCall:
		return b.cat.Func(d.Callable)
	}
	return nil, nil
}

func (b *Builder) factoryMethodOnValue(id string, d *definition.Factory) (*catalog.Func, error) {
	in, ok := d.Target.(definition.Inline)
	if !ok {
		return nil, Configf(id, "factory target must be a reference, got %T", d.Target)
	}
	t, err := b.typeOf(in.ID, in.Definition, map[string]bool{})
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, Configf(id, "the type of factory service %q is unknown", in.ID)
	}
	return b.cat.TypeMethod(t, d.Method)
}

// ResultType returns the type of the value the service id produces, or nil
// when it cannot be known at build time.
func (b *Builder) ResultType(id string) (reflect.Type, error) {
	if t, ok := b.types[id]; ok {
		return t, nil
	}
	def, err := b.Definition(id)
	if err != nil {
		return nil, err
	}
	t, err := b.typeOf(id, def, map[string]bool{})
	if err != nil {
		return nil, err
	}
	b.types[id] = t
	return t, nil
}

func (b *Builder) typeOf(id string, def definition.Definition, visiting map[string]bool) (reflect.Type, error) {
	if visiting[id] {
		return nil, nil
	}
	visiting[id] = true

	switch d := def.(type) {
	case *definition.Alias:
		target, err := b.Definition(d.Target)
		if err != nil {
			return nil, err
		}
		return b.typeOf(d.Target, target, visiting)
	case *definition.Iterator:
		return sequenceType, nil
	case *definition.Object:
		if id == container.ServiceContainerID {
			return lookupType, nil
		}
		if d.Class == "" {
			return nil, nil
		}
		t, err := b.cat.Class(d.Class)
		if err != nil {
			return nil, err
		}
		return t.Type, nil
	case *definition.Factory:
		if d.Class != "" {
			t, err := b.cat.Class(d.Class)
			if err != nil {
				return nil, err
			}
			return t.Type, nil
		}
		if d.Static() {
			f, err := b.cat.Func(d.Callable())
			if err != nil {
				return nil, err
			}
			return f.Out, nil
		}
		var target reflect.Type
		switch t := d.Target.(type) {
		case definition.Reference:
			ref, err := b.Definition(t.ID)
			if err != nil {
				return nil, err
			}
			if target, err = b.typeOf(t.ID, ref, visiting); err != nil {
				return nil, err
			}
		case definition.Inline:
			var err error
			if target, err = b.typeOf(t.ID, t.Definition, visiting); err != nil {
				return nil, err
			}
		}
		if target == nil {
			return nil, nil
		}
		f, err := b.cat.TypeMethod(target, d.Method)
		if err != nil {
			return nil, err
		}
		return f.Out, nil
	case *definition.FactoryCall:
		if d.Class != "" {
			t, err := b.cat.Class(d.Class)
			if err != nil {
				return nil, err
			}
			return t.Type, nil
		}
		f, err := b.cat.Func(d.Callable)
		if err != nil {
			return nil, err
		}
		return f.Out, nil
	}
	return nil, nil
}
