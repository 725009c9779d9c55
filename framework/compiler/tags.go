package compiler

import (
	"github.com/km-arc/go-container/framework/builder"
	"github.com/km-arc/go-container/framework/definition"
)

// IteratorPrefix prefixes the ids of the private services that hold a
// tagged collection.
const IteratorPrefix = ".iterator."

// TagCollection replaces every tagged-iterator value with a reference to a
// shared iterator service listing the tagged services in tag order.
func TagCollection() builder.Pass {
	return builder.PassFunc("tag-collection", func(b *builder.Builder) error {
		tags := map[string]bool{}
		collect := func(v any) (any, bool) {
			t, ok := v.(definition.TaggedIterator)
			if !ok {
				return v, false
			}
			tags[t.Tag] = true
			return definition.Ref(IteratorPrefix + t.Tag), true
		}
		for _, def := range b.All() {
			definition.ReplaceValues(def, collect)
			attrs := def.Attrs()
			for k, v := range attrs.Bindings {
				attrs.Bindings[k] = definition.Replace(v, collect)
			}
		}

		for _, tag := range definition.SortedKeys(tags) {
			var refs []definition.Reference
			for _, ts := range b.FindTaggedServiceIDs(tag) {
				refs = append(refs, definition.Ref(ts.ID))
			}
			if err := b.Register(IteratorPrefix+tag, definition.NewIterator(tag, refs)); err != nil {
				return err
			}
			b.Log("tag-collection", "%s collects %d services", tag, len(refs))
		}
		return nil
	})
}
