package compiler

import (
	"strings"

	"github.com/km-arc/go-container/framework/builder"
	"github.com/km-arc/go-container/framework/definition"
)

// ResolveAliases collapses alias chains and points every reference at the
// service an alias stands for.
func ResolveAliases() builder.Pass {
	return builder.PassFunc("resolve-aliases", func(b *builder.Builder) error {
		final := map[string]string{}
		for id, def := range b.All() {
			alias, ok := def.(*definition.Alias)
			if !ok {
				continue
			}
			target, err := followAlias(b, id)
			if err != nil {
				return err
			}
			if alias.Target != target {
				b.Log("resolve-aliases", "%s now points at %s", id, target)
			}
			alias.Target = target
			final[id] = target
		}
		if len(final) == 0 {
			return nil
		}

		rewrite := func(v any) (any, bool) {
			if r, ok := v.(definition.Reference); ok {
				if target, ok := final[r.ID]; ok {
					if alias, _ := b.Definition(r.ID); alias != nil && alias.Attrs().Deprecated != "" {
						b.Deprecate(alias.Attrs().Deprecated)
					}
					return definition.Reference{ID: target, Invalid: r.Invalid}, true
				}
			}
			return v, false
		}
		for _, def := range b.All() {
			definition.ReplaceValues(def, rewrite)
			attrs := def.Attrs()
			for k, v := range attrs.Bindings {
				attrs.Bindings[k] = definition.Replace(v, rewrite)
			}
		}
		return nil
	})
}

func followAlias(b *builder.Builder, id string) (string, error) {
	path := []string{id}
	seen := map[string]bool{id: true}
	current := id
	for {
		def, err := b.Definition(current)
		if err != nil {
			return "", &builder.ConfigurationError{ID: id, Reason: "alias points at an undefined service", Err: err}
		}
		alias, ok := def.(*definition.Alias)
		if !ok {
			return current, nil
		}
		current = alias.Target
		path = append(path, current)
		if seen[current] {
			return "", builder.Configf(id, "alias cycle %s", strings.Join(path, " -> "))
		}
		seen[current] = true
	}
}

// RemovePrivateAliases drops aliases that are not public. References to
// them were already rewritten.
func RemovePrivateAliases() builder.Pass {
	return builder.PassFunc("remove-private-aliases", func(b *builder.Builder) error {
		for id, def := range b.All() {
			if alias, ok := def.(*definition.Alias); ok && !alias.Public {
				b.MarkRemoved(id, builder.RemovedPrivate)
				b.Log("remove-private-aliases", "removed private alias %s", id)
			}
		}
		return nil
	})
}
