package builder

import (
	"fmt"
	"reflect"

	"github.com/km-arc/go-container/framework/catalog"
	"github.com/km-arc/go-container/framework/container"
	"github.com/km-arc/go-container/framework/definition"
)

// ── Provider capabilities ─────────────────────────────────────────────────────

// DefinitionProvider registers full recipes with the builder.
type DefinitionProvider interface {
	Define(b *Builder) error
}

// CatalogProvider registers the types and functions its recipes use.
type CatalogProvider interface {
	Catalog(cat *catalog.Catalog) error
}

// ── ProviderRegistry ──────────────────────────────────────────────────────────

// ProviderRegistry folds providers into the builder.
//
// A provider may implement any mix of CatalogProvider, DefinitionProvider,
// container.ServiceProvider, container.TagProvider and
// container.PreloadProvider. They are applied in that order.
//
// The callables of a service provider are named after its type, so a
// registry accepts one service provider instance per type.
type ProviderRegistry struct {
	b          *Builder
	providers  []any
	registered map[any]bool
	keys       map[string]any
}

// NewProviderRegistry creates a registry bound to b.
func NewProviderRegistry(b *Builder) *ProviderRegistry {
	return &ProviderRegistry{b: b, registered: make(map[any]bool), keys: make(map[string]any)}
}

// Register folds provider into the builder. Registering the same provider
// twice is a no-op; registering a second service provider of the same type
// fails.
func (r *ProviderRegistry) Register(provider any) error {
	if provider == nil {
		return fmt.Errorf("builder: nil provider")
	}
	hashable := reflect.TypeOf(provider).Comparable()
	if hashable && r.registered[provider] {
		return nil
	}
	if err := claimKey(r.keys, provider); err != nil {
		return err
	}

	if err := BindCatalog(r.b.cat, provider); err != nil {
		return err
	}

	applied := false
	if p, ok := provider.(DefinitionProvider); ok {
		applied = true
		if err := p.Define(r.b); err != nil {
			return fmt.Errorf("builder: provider %T define: %w", provider, err)
		}
	}
	if p, ok := provider.(container.ServiceProvider); ok {
		applied = true
		if err := r.fold(p); err != nil {
			return err
		}
	}
	if _, ok := provider.(CatalogProvider); ok {
		applied = true
	}
	if p, ok := provider.(container.TagProvider); ok {
		applied = true
		tags := p.Tags()
		for _, tag := range definition.SortedKeys(tags) {
			for _, id := range tags[tag] {
				if err := r.b.Tag(id, tag, nil); err != nil {
					return fmt.Errorf("builder: provider %T tag %q: %w", provider, tag, err)
				}
			}
		}
	}
	if p, ok := provider.(container.PreloadProvider); ok {
		applied = true
		r.b.AddPreload(p.ClassesToPreload()...)
	}
	if !applied {
		return fmt.Errorf("builder: %T implements no provider interface", provider)
	}

	if hashable {
		r.registered[provider] = true
	}
	r.providers = append(r.providers, provider)
	return nil
}

// fold turns factories into public shared definitions and records
// extensions for the decorator pass.
func (r *ProviderRegistry) fold(p container.ServiceProvider) error {
	key := ProviderKey(p)

	factories := p.Factories()
	for _, id := range definition.SortedKeys(factories) {
		def := definition.NewFactoryCall(factoryName(key, id), definition.Ref(container.ServiceContainerID))
		def.Public, def.Autowire = true, false
		if err := r.b.Register(id, def); err != nil {
			return err
		}
	}
	for _, id := range definition.SortedKeys(p.Extensions()) {
		if err := r.b.AddExtension(id, extensionName(key, id)); err != nil {
			return err
		}
	}
	return nil
}

// BindCatalog registers everything provider needs at run time into cat: its
// own types and functions, plus its factories and extensions under stable
// names. A compiled container loaded from cache calls into these names, so
// the kernel binds every provider on every boot, build or not.
func BindCatalog(cat *catalog.Catalog, provider any) error {
	if p, ok := provider.(CatalogProvider); ok {
		if err := p.Catalog(cat); err != nil {
			return fmt.Errorf("builder: provider %T catalog: %w", provider, err)
		}
	}
	p, ok := provider.(container.ServiceProvider)
	if !ok {
		return nil
	}
	key := ProviderKey(p)
	for id, f := range p.Factories() {
		if err := cat.RegisterFunc(factoryName(key, id), f, catalog.WithParams("container")); err != nil {
			return err
		}
	}
	for id, ext := range p.Extensions() {
		if err := cat.RegisterFunc(extensionName(key, id), ext, catalog.WithParams("container", "previous")); err != nil {
			return err
		}
	}
	return nil
}

func factoryName(key, id string) string   { return fmt.Sprintf("provider.%s.%s", key, id) }
func extensionName(key, id string) string { return fmt.Sprintf("provider.%s.%s.extension", key, id) }

// Providers returns the registered providers in registration order.
func (r *ProviderRegistry) Providers() []any { return r.providers }

// ProviderKey is the stable catalog prefix of a provider's callables. It
// depends on the provider's type only.
func ProviderKey(p any) string {
	return catalog.TypeKey(p)
}

// DuplicateProviderError reports two service providers of one type, whose
// callables would overwrite each other in the catalog.
type DuplicateProviderError struct {
	Key string
}

func (e *DuplicateProviderError) Error() string {
	return fmt.Sprintf("builder: a provider of type %s is already registered", e.Key)
}

// DistinctProviders fails when two different service providers share a
// ProviderKey. The same instance listed twice is allowed.
func DistinctProviders(providers ...any) error {
	keys := make(map[string]any)
	for _, p := range providers {
		if err := claimKey(keys, p); err != nil {
			return err
		}
	}
	return nil
}

// claimKey records the key of provider in keys.
func claimKey(keys map[string]any, provider any) error {
	if _, ok := provider.(container.ServiceProvider); !ok {
		return nil
	}
	key := ProviderKey(provider)
	prev, taken := keys[key]
	if !taken {
		keys[key] = provider
		return nil
	}
	if reflect.TypeOf(provider).Comparable() && prev == provider {
		return nil
	}
	return &DuplicateProviderError{Key: key}
}
