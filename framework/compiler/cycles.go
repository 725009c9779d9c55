package compiler

import (
	"github.com/km-arc/go-container/framework/builder"
	"github.com/km-arc/go-container/framework/definition"
)

// CheckCircularReferences fails when services depend on each other through
// eager references only. A reference to a lazy service, or any reference
// held by a tagged collection, breaks a cycle.
func CheckCircularReferences() builder.Pass {
	return builder.PassFunc("check-circular-references", func(b *builder.Builder) error {
		const (
			unvisited = iota
			visiting
			done
		)
		state := map[string]int{}
		var path []string

		var visit func(id string) error
		visit = func(id string) error {
			switch state[id] {
			case done:
				return nil
			case visiting:
				start := 0
				for i, p := range path {
					if p == id {
						start = i
						break
					}
				}
				cycle := append(append([]string(nil), path[start:]...), id)
				return &builder.CircularDependencyError{Path: cycle}
			}
			def, err := b.Definition(id)
			if err != nil {
				return nil
			}
			state[id] = visiting
			path = append(path, id)
			for _, next := range eagerEdges(b, def) {
				if err := visit(next); err != nil {
					return err
				}
			}
			path = path[:len(path)-1]
			state[id] = done
			return nil
		}

		for _, id := range b.Definitions() {
			if state[id] == unvisited {
				if err := visit(id); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// eagerEdges returns the ids def needs built before it, in value order.
func eagerEdges(b *builder.Builder, def definition.Definition) []string {
	var out []string
	if alias, ok := def.(*definition.Alias); ok {
		return []string{alias.Target}
	}
	if _, ok := def.(*definition.Iterator); ok {
		return nil
	}
	for _, ref := range definition.DefinitionReferences(def) {
		target, err := b.Definition(ref.ID)
		if err != nil || target.Attrs().Lazy {
			continue
		}
		out = append(out, ref.ID)
	}
	return out
}
