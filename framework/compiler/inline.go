package compiler

import (
	"github.com/km-arc/go-container/framework/builder"
	"github.com/km-arc/go-container/framework/definition"
)

// Inline folds private services referenced exactly once into the recipe of
// their only consumer, repeating until nothing changes.
func Inline() builder.Pass {
	return builder.PassFunc("inline", func(b *builder.Builder) error {
		for {
			id, consumer, ok := nextInline(b)
			if !ok {
				return nil
			}
			def, err := b.Definition(id)
			if err != nil {
				return err
			}
			cdef, err := b.Definition(consumer)
			if err != nil {
				return err
			}
			definition.ReplaceValues(cdef, func(v any) (any, bool) {
				if r, ok := v.(definition.Reference); ok && r.ID == id {
					return definition.Inline{ID: id, Definition: def}, true
				}
				return v, false
			})
			b.MarkRemoved(id, builder.RemovedInlined)
			b.Log("inline", "%s inlined into %s", id, consumer)
		}
	})
}

// nextInline returns the first private service, in id order, that can be
// inlined, together with its consumer.
func nextInline(b *builder.Builder) (id, consumer string, ok bool) {
	type use struct {
		count    int
		consumer string
	}
	uses := map[string]*use{}
	aliased := map[string]bool{}
	for cid, def := range b.All() {
		if alias, ok := def.(*definition.Alias); ok {
			aliased[alias.Target] = true
			continue
		}
		for _, ref := range definition.DefinitionReferences(def) {
			u := uses[ref.ID]
			if u == nil {
				u = &use{}
				uses[ref.ID] = u
			}
			u.count++
			u.consumer = cid
		}
	}

	for id, def := range b.All() {
		u := uses[id]
		if u == nil || u.count != 1 || aliased[id] || u.consumer == id || !inlinable(def) {
			continue
		}
		cdef, err := b.Definition(u.consumer)
		if err != nil {
			continue
		}
		if _, ok := cdef.(*definition.Iterator); ok {
			continue
		}
		// a shared service must still be built once
		if def.Attrs().Shared && !cdef.Attrs().Shared {
			continue
		}
		return id, u.consumer, true
	}
	return "", "", false
}

func inlinable(def definition.Definition) bool {
	a := def.Attrs()
	if a.Public || a.Lazy || a.Synthetic {
		return false
	}
	switch def.(type) {
	case *definition.Alias, *definition.Iterator:
		return false
	}
	return true
}
