package builder

import "github.com/km-arc/go-container/framework/definition"

// ContextualBuilder implements the fluent contextual binding API.
//
//	// when "photos" needs its $disk parameter, give it the s3 service
//	b.When("photos").Needs("$disk").Give(definition.Ref("storage.s3"))
//
//	// when "photos" needs any app.Filesystem, give it the local service
//	b.When("photos").Needs("app.Filesystem").Give(definition.Ref("storage.local"))
type ContextualBuilder struct {
	b     *Builder
	id    string
	needs string
}

// When starts a contextual binding chain for the service id.
func (b *Builder) When(id string) *ContextualBuilder {
	return &ContextualBuilder{b: b, id: id}
}

// Needs names what the service depends on: "$name" for a constructor
// parameter, or the catalog name of a parameter type.
func (c *ContextualBuilder) Needs(key string) *ContextualBuilder {
	c.needs = key
	return c
}

// Give binds value (a literal, a Reference or a placeholder string) to the
// dependency named by Needs. Autowiring consults bindings before anything
// else.
func (c *ContextualBuilder) Give(value any) error {
	if c.b.compiled {
		return &FrozenError{Op: "bind " + c.id}
	}
	if c.needs == "" {
		return Configf(c.id, "contextual binding without Needs")
	}
	def, err := c.b.FindDefinition(c.id)
	if err != nil {
		return err
	}
	attrs := def.Attrs()
	if attrs.Bindings == nil {
		attrs.Bindings = make(map[string]any)
	}
	attrs.Bindings[c.needs] = value
	return nil
}

// GiveRef is Give with a Reference to id.
func (c *ContextualBuilder) GiveRef(id string) error {
	return c.Give(definition.Ref(id))
}
