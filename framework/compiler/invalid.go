package compiler

import (
	"github.com/km-arc/go-container/framework/builder"
	"github.com/km-arc/go-container/framework/definition"
)

// ResolveInvalidReferences settles references to services that do not
// exist after removal: nullable ones become nil, ignorable ones drop the
// method call they feed, and iterators skip them.
func ResolveInvalidReferences() builder.Pass {
	return builder.PassFunc("resolve-invalid-references", func(b *builder.Builder) error {
		missing := func(r definition.Reference) bool { return !b.Has(r.ID) }
		for id, def := range b.All() {
			if it, ok := def.(*definition.Iterator); ok {
				kept := it.Refs[:0]
				for _, r := range it.Refs {
					if missing(r) {
						b.Log("resolve-invalid-references", "%s: dropped %s", id, r.ID)
						continue
					}
					kept = append(kept, r)
				}
				it.Refs = kept
				continue
			}
			if err := settle(b, id, def, missing); err != nil {
				return err
			}
		}
		return nil
	})
}

func settle(b *builder.Builder, id string, def definition.Definition, missing func(definition.Reference) bool) error {
	mcs := calls(def)
	kept := mcs[:0]
	for _, call := range mcs {
		if dropsCall(call.Args, missing) {
			b.Log("resolve-invalid-references", "%s: skipped call %s", id, call.Method)
			continue
		}
		kept = append(kept, call)
	}
	if len(kept) != len(mcs) {
		setCalls(def, kept)
	}

	var err error
	for _, v := range definition.Values(def) {
		definition.Walk(v, func(v any) bool {
			if in, ok := v.(definition.Inline); ok {
				if e := settle(b, in.ID, in.Definition, missing); e != nil && err == nil {
					err = e
				}
				return false
			}
			return true
		})
	}
	definition.ReplaceValues(def, func(v any) (any, bool) {
		r, ok := v.(definition.Reference)
		if !ok || !missing(r) {
			return v, false
		}
		if r.Invalid == definition.ExceptionOnInvalid && err == nil {
			err = &builder.ConfigurationError{ID: id, Reason: "references removed service " + r.ID}
		}
		return nil, true
	})
	return err
}

func dropsCall(args []any, missing func(definition.Reference) bool) bool {
	drop := false
	for _, a := range args {
		definition.Walk(a, func(v any) bool {
			if r, ok := v.(definition.Reference); ok && r.Invalid == definition.IgnoreOnInvalid && missing(r) {
				drop = true
			}
			// references inside an inlined service belong to its own calls
			_, inline := v.(definition.Inline)
			return !inline
		})
	}
	return drop
}
