package compiler

import (
	"fmt"

	"github.com/km-arc/go-container/framework/builder"
	"github.com/km-arc/go-container/framework/container"
	"github.com/km-arc/go-container/framework/definition"
)

// InnerTag marks a definition moved aside by a decorator. Autowiring never
// picks it.
const InnerTag = "container.decorated"

// Extensions turns recorded provider extensions into decorators: the
// extended definition moves to "<id>.inner<n>" and id becomes a factory
// call receiving the lookup and the previous value.
func Extensions() builder.Pass {
	return builder.PassFunc("extensions", func(b *builder.Builder) error {
		extensions := b.Extensions()
		for _, id := range definition.SortedKeys(extensions) {
			target, err := canonicalID(b, id)
			if err != nil {
				return &builder.ConfigurationError{ID: id, Reason: "extension of an undefined service", Err: err}
			}
			for n, callable := range extensions[id] {
				if err := decorate(b, target, callable, n); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func decorate(b *builder.Builder, id, callable string, n int) error {
	inner, err := b.Definition(id)
	if err != nil {
		return err
	}
	innerID := fmt.Sprintf("%s.inner%d", id, n)

	attrs := inner.Attrs()
	dec := definition.NewFactoryCall(callable, definition.Ref(container.ServiceContainerID), definition.Ref(innerID))
	dec.Public, dec.Shared, dec.Lazy = attrs.Public, attrs.Shared, attrs.Lazy
	dec.Deprecated, dec.Tags = attrs.Deprecated, attrs.Tags
	dec.Autowire = false
	if class := resultClass(b, id); class != "" {
		dec.Class = class
	}

	attrs.Public, attrs.Lazy, attrs.Deprecated = false, false, ""
	attrs.Tags = []definition.Tag{{Name: InnerTag}}
	if err := b.Register(innerID, inner); err != nil {
		return err
	}
	if err := b.Register(id, dec); err != nil {
		return err
	}
	b.Log("extensions", "%s decorated by %s, previous definition moved to %s", id, callable, innerID)
	return nil
}

// resultClass returns the catalog class name of the value id produces.
func resultClass(b *builder.Builder, id string) string {
	t, err := b.ResultType(id)
	if err != nil || t == nil {
		return ""
	}
	name, _ := b.Catalog().NameOf(t)
	return name
}

// canonicalID follows aliases to the id of a service definition.
func canonicalID(b *builder.Builder, id string) (string, error) {
	seen := map[string]bool{}
	for {
		def, err := b.Definition(id)
		if err != nil {
			return "", err
		}
		alias, ok := def.(*definition.Alias)
		if !ok {
			return id, nil
		}
		if seen[id] {
			return "", builder.Configf(id, "alias cycle")
		}
		seen[id] = true
		id = alias.Target
	}
}
