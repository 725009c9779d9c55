package compiler

import (
	"github.com/km-arc/go-container/framework/builder"
	"github.com/km-arc/go-container/framework/definition"
)

// RemoveUnused drops every service that cannot be reached from a public
// service, a public alias or a synthetic service.
func RemoveUnused() builder.Pass {
	return builder.PassFunc("remove-unused", func(b *builder.Builder) error {
		reachable := map[string]bool{}
		var queue []string
		mark := func(id string) {
			if !reachable[id] {
				reachable[id] = true
				queue = append(queue, id)
			}
		}
		for id, def := range b.All() {
			a := def.Attrs()
			if a.Public || a.Synthetic {
				mark(id)
			}
		}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			def, err := b.Definition(id)
			if err != nil {
				continue
			}
			if alias, ok := def.(*definition.Alias); ok {
				mark(alias.Target)
				continue
			}
			for _, ref := range definition.DefinitionReferences(def) {
				mark(ref.ID)
			}
		}

		for _, id := range b.Definitions() {
			if !reachable[id] {
				b.MarkRemoved(id, builder.RemovedUnused)
				b.Log("remove-unused", "removed %s", id)
			}
		}
		return nil
	})
}
