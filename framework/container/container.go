package container

import (
	"fmt"
	"sort"
	"sync"

	"github.com/km-arc/go-container/framework/catalog"
	"github.com/km-arc/go-container/internal/suggest"
)

// Ids of the synthetic services every compiled container carries.
const (
	ServiceContainerID = "service_container"
	KernelID           = "kernel"
	EnvironmentID      = "environment"
)

// UseDefault is emitted in place of an argument that takes its declared
// default.
var UseDefault = catalog.UseDefault

// ── Lookup surface ────────────────────────────────────────────────────────────

// Lookup is the narrow contract the rest of an application depends on.
type Lookup interface {
	Get(id string) (any, error)
	Has(id string) bool
	Parameter(key string) (any, error)
}

// ── Container ─────────────────────────────────────────────────────────────────

// Container runs a compiled Program.
//
// Shared services are memoized. A shared service is built at most once:
// the first session to reach it claims it and later sessions wait for the
// instance. Everything built underneath one entry point runs inside the same
// Session.
type Container struct {
	program *Program
	cat     *catalog.Catalog

	mu sync.RWMutex

	// id → built shared instance
	instances map[string]any

	// id → session building it
	claims map[string]*claim

	// goroutine id → session running on it
	running map[uint64]*Session

	// synthetic id → injected value
	synthetic map[string]any
}

// New creates a container for p. Catalog names referenced by p are resolved
// against cat at call time.
func New(p *Program, cat *catalog.Catalog) (*Container, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if cat == nil {
		return nil, fmt.Errorf("container: nil catalog")
	}
	c := &Container{
		program:   p,
		cat:       cat,
		instances: make(map[string]any),
		claims:    make(map[string]*claim),
		running:   make(map[uint64]*Session),
		synthetic: make(map[string]any),
	}
	if p.isSynthetic(ServiceContainerID) {
		c.synthetic[ServiceContainerID] = Lookup(c)
	}
	return c, nil
}

// Class is the generated class name of the running program.
func (c *Container) Class() string { return c.program.Class }

// Program returns the program the container runs.
func (c *Container) Program() *Program { return c.program }

// Catalog returns the catalog the container calls into.
func (c *Container) Catalog() *catalog.Catalog { return c.cat }

// ── Resolution ────────────────────────────────────────────────────────────────

// Get returns the service registered under id, building it on first use.
//
//	mailer, err := c.Get("mailer")
func (c *Container) Get(id string) (any, error) {
	id = c.canonical(id)
	if v, ok, err := c.lookupFast(id); ok || err != nil {
		return v, err
	}

	return c.run(func(s *Session) (any, error) { return c.get(s, id) })
}

// Has reports whether id can be fetched with Get.
func (c *Container) Has(id string) bool {
	id = c.canonical(id)
	if _, ok := c.program.MethodMap[id]; ok {
		return true
	}
	return c.program.isSynthetic(id)
}

// Parameter returns a resolved parameter.
func (c *Container) Parameter(key string) (any, error) {
	if v, ok := c.program.Parameters[key]; ok {
		return v, nil
	}
	return nil, &ParameterNotFoundError{Key: key, Alternatives: suggest.Alternatives(key, sortedKeys(c.program.Parameters))}
}

// Set injects the value of a synthetic service.
//
//	c.Set("kernel", k)
func (c *Container) Set(id string, v any) error {
	id = c.canonical(id)
	if !c.program.isSynthetic(id) {
		if _, ok := c.program.MethodMap[id]; ok {
			return fmt.Errorf("container: service %q is compiled and cannot be replaced", id)
		}
		return fmt.Errorf("container: %q is not a synthetic service", id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.synthetic[id] = v
	return nil
}

// Initialized reports whether the shared service id has been built or
// injected.
func (c *Container) Initialized(id string) bool {
	id = c.canonical(id)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.instances[id]; ok {
		return true
	}
	_, ok := c.synthetic[id]
	return ok
}

// IDs returns every id Get accepts, aliases included, sorted.
func (c *Container) IDs() []string {
	out := make([]string, 0, len(c.program.MethodMap)+len(c.program.Aliases)+len(c.program.Synthetic))
	for id := range c.program.MethodMap {
		out = append(out, id)
	}
	for alias := range c.program.Aliases {
		out = append(out, alias)
	}
	out = append(out, c.program.Synthetic...)
	sort.Strings(out)
	return out
}

// ServiceInfo describes one id of the running program.
type ServiceInfo struct {
	ID string `json:"id"`
	// Alias is the target service when ID is an alias.
	Alias       string `json:"alias,omitempty"`
	Accessor    string `json:"accessor,omitempty"`
	Synthetic   bool   `json:"synthetic,omitempty"`
	Initialized bool   `json:"initialized"`
}

// Describe reports what id resolves to without building it. Unknown and
// removed ids fail with the errors Get returns.
func (c *Container) Describe(id string) (ServiceInfo, error) {
	info := ServiceInfo{ID: id}
	target := c.canonical(id)
	if target != id {
		info.Alias = target
	}
	if c.program.isSynthetic(target) {
		info.Synthetic = true
	} else {
		method, ok := c.program.MethodMap[target]
		if !ok {
			return ServiceInfo{}, c.missing(target)
		}
		info.Accessor = method
	}
	info.Initialized = c.Initialized(target)
	return info, nil
}

// lookupFast serves synthetic values, built shared instances and lookup
// errors without starting a session.
func (c *Container) lookupFast(id string) (any, bool, error) {
	if c.program.isSynthetic(id) {
		v, err := c.syntheticValue(id)
		return v, true, err
	}
	if _, ok := c.program.MethodMap[id]; !ok {
		return nil, false, c.missing(id)
	}
	c.mu.RLock()
	v, ok := c.instances[id]
	c.mu.RUnlock()
	return v, ok, nil
}

// get resolves id inside s.
func (c *Container) get(s *Session, id string) (any, error) {
	if c.program.isSynthetic(id) {
		return s.Synthetic(id)
	}
	method, ok := c.program.MethodMap[id]
	if !ok {
		return nil, c.missing(id)
	}
	return s.Service(method)
}

func (c *Container) syntheticValue(id string) (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.synthetic[id]
	if !ok {
		return nil, &ServiceError{ID: id, Err: ErrNotInjected}
	}
	return v, nil
}

func (c *Container) missing(id string) error {
	if reason, ok := c.program.Removed[id]; ok {
		return &RemovedServiceError{ID: id, Reason: reason}
	}
	return &NotFoundError{ID: id, Alternatives: suggest.Alternatives(id, c.IDs())}
}

// canonical resolves an alias to its service id.
func (c *Container) canonical(id string) string {
	if target, ok := c.program.Aliases[id]; ok {
		return target
	}
	return id
}

// ── Generics helper ───────────────────────────────────────────────────────────

// Resolve fetches id from l and asserts its type.
//
//	mailer, err := container.Resolve[*app.Mailer](c, "mailer")
func Resolve[T any](l Lookup, id string) (T, error) {
	var zero T
	v, err := l.Get(id)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("container: Resolve %q: %w", id, errType[T](v))
	}
	return typed, nil
}

// MustResolve is Resolve that panics on error.
func MustResolve[T any](l Lookup, id string) T {
	v, err := Resolve[T](l, id)
	if err != nil {
		panic(err)
	}
	return v
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
