package builder

import (
	"fmt"
	"iter"
	"reflect"
	"sort"

	"go.uber.org/zap"

	"github.com/km-arc/go-container/framework/catalog"
	"github.com/km-arc/go-container/framework/container"
	"github.com/km-arc/go-container/framework/definition"
	"github.com/km-arc/go-container/internal/suggest"
)

// ── Phases ────────────────────────────────────────────────────────────────────

// Phase groups compiler passes. Phases run in declaration order.
type Phase int

const (
	BeforeOptimization Phase = iota
	Optimization
	BeforeRemoving
	Removing
	AfterRemoving
)

func (p Phase) String() string {
	switch p {
	case BeforeOptimization:
		return "before-optimization"
	case Optimization:
		return "optimization"
	case BeforeRemoving:
		return "before-removing"
	case Removing:
		return "removing"
	case AfterRemoving:
		return "after-removing"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Pass is one mutation or validation step over the whole definition graph.
type Pass interface {
	Name() string
	Process(b *Builder) error
}

type passFunc struct {
	name string
	fn   func(b *Builder) error
}

func (p passFunc) Name() string             { return p.name }
func (p passFunc) Process(b *Builder) error { return p.fn(b) }

// PassFunc adapts a function to the Pass interface.
func PassFunc(name string, fn func(b *Builder) error) Pass {
	return passFunc{name: name, fn: fn}
}

type registeredPass struct {
	pass     Pass
	phase    Phase
	priority int
	seq      int
}

// RemovalReason records why an id is absent from the compiled surface.
type RemovalReason string

const (
	RemovedUnused  RemovalReason = "removed"
	RemovedInlined RemovalReason = "inlined"
	RemovedPrivate RemovalReason = "private"
)

// ── Builder ───────────────────────────────────────────────────────────────────

// Builder is the mutable, build-time registry of definitions and parameters.
// Compile runs the registered passes and freezes it.
//
//	b := builder.New(cat)
//	b.Register("mailer", definition.NewObject("app.Mailer", definition.Ref("transport")))
//	b.SetParameter("mailer.dsn", "smtp://localhost")
//	compiler.Install(b)
//	if err := b.Compile(); err != nil { ... }
type Builder struct {
	cat    *catalog.Catalog
	logger *zap.Logger

	definitions map[string]definition.Definition

	params     map[string]any
	resolved   map[string]any
	processors []ParameterProcessor

	passes  []registeredPass
	passSeq int
	tagSeq  int

	compiled bool

	removed      map[string]RemovalReason
	resources    map[string]bool
	extensions   map[string][]string
	preload      []string
	log          []string
	warnings     []string
	deprecations []string

	// id → result type, cleared on every registry mutation
	types map[string]reflect.Type
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger mirrors pass log lines to l at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// New creates a builder over cat. The synthetic "service_container" service
// is always defined.
func New(cat *catalog.Catalog, opts ...Option) *Builder {
	b := &Builder{
		cat:         cat,
		logger:      zap.NewNop(),
		definitions: make(map[string]definition.Definition),
		params:      make(map[string]any),
		removed:     make(map[string]RemovalReason),
		resources:   make(map[string]bool),
		extensions:  make(map[string][]string),
		types:       make(map[string]reflect.Type),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.definitions[container.ServiceContainerID] = definition.NewSynthetic("")
	return b
}

// Catalog returns the catalog definitions are checked against.
func (b *Builder) Catalog() *catalog.Catalog { return b.cat }

// IsCompiled reports whether Compile has succeeded.
func (b *Builder) IsCompiled() bool { return b.compiled }

// ── Registration ──────────────────────────────────────────────────────────────

// Register stores def under id, replacing any previous definition. A
// *definition.Parameter is routed to the parameter bag instead.
func (b *Builder) Register(id string, def definition.Definition) error {
	if b.compiled {
		return &FrozenError{Op: "register " + id}
	}
	if id == "" {
		return Configf("", "empty service id")
	}
	if def == nil {
		return Configf(id, "nil definition")
	}
	if p, ok := def.(*definition.Parameter); ok {
		key := p.Key
		if key == "" {
			key = id
		}
		return b.SetParameter(key, p.Value)
	}
	for i := range def.Attrs().Tags {
		if def.Attrs().Tags[i].Seq == 0 {
			b.tagSeq++
			def.Attrs().Tags[i].Seq = b.tagSeq
		}
	}
	b.definitions[id] = def
	delete(b.removed, id)
	b.invalidate()
	return nil
}

// Definition returns the definition registered under id, without following
// aliases.
func (b *Builder) Definition(id string) (definition.Definition, error) {
	if def, ok := b.definitions[id]; ok {
		return def, nil
	}
	return nil, b.notFound(id)
}

// FindDefinition returns the service definition id stands for, following
// aliases.
func (b *Builder) FindDefinition(id string) (definition.Definition, error) {
	seen := map[string]bool{}
	for {
		def, err := b.Definition(id)
		if err != nil {
			return nil, err
		}
		alias, ok := def.(*definition.Alias)
		if !ok {
			return def, nil
		}
		if seen[id] {
			return nil, Configf(id, "alias cycle")
		}
		seen[id] = true
		id = alias.Target
	}
}

// Has reports whether id is defined.
func (b *Builder) Has(id string) bool {
	_, ok := b.definitions[id]
	return ok
}

// Remove deletes the definition of id.
func (b *Builder) Remove(id string) error {
	if b.compiled {
		return &FrozenError{Op: "remove " + id}
	}
	delete(b.definitions, id)
	b.invalidate()
	return nil
}

// SetAlias makes id a public alias of target.
func (b *Builder) SetAlias(id, target string) error {
	if id == target {
		return Configf(id, "aliased to itself")
	}
	a := definition.NewAlias(target)
	a.Public = true
	return b.Register(id, a)
}

// Definitions returns every defined id, sorted.
func (b *Builder) Definitions() []string {
	return definition.SortedKeys(b.definitions)
}

// All yields every definition in id order.
func (b *Builder) All() iter.Seq2[string, definition.Definition] {
	return func(yield func(string, definition.Definition) bool) {
		for _, id := range b.Definitions() {
			def, ok := b.definitions[id]
			if !ok {
				continue
			}
			if !yield(id, def) {
				return
			}
		}
	}
}

func (b *Builder) notFound(id string) error {
	return &container.NotFoundError{ID: id, Alternatives: suggest.Alternatives(id, b.Definitions())}
}

func (b *Builder) invalidate() { clear(b.types) }

// ── Tags ──────────────────────────────────────────────────────────────────────

// TaggedService is one (id, attributes) pair of a tag.
type TaggedService struct {
	ID         string
	Attributes map[string]any
	Seq        int
}

// Tag labels the definition of id with name.
func (b *Builder) Tag(id, name string, attrs map[string]any) error {
	if b.compiled {
		return &FrozenError{Op: "tag " + id}
	}
	def, err := b.Definition(id)
	if err != nil {
		return err
	}
	if _, ok := def.(*definition.Alias); ok {
		return Configf(id, "aliases cannot be tagged")
	}
	b.tagSeq++
	def.Attrs().Tags = append(def.Attrs().Tags, definition.Tag{Name: name, Attributes: attrs, Seq: b.tagSeq})
	return nil
}

// FindTaggedServiceIDs returns the services tagged name in tag registration
// order.
func (b *Builder) FindTaggedServiceIDs(name string) []TaggedService {
	var out []TaggedService
	for id, def := range b.All() {
		if _, ok := def.(*definition.Alias); ok {
			continue
		}
		for _, t := range def.Attrs().Tags {
			if t.Name == name {
				out = append(out, TaggedService{ID: id, Attributes: t.Attributes, Seq: t.Seq})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// ── Pipeline ──────────────────────────────────────────────────────────────────

// AddCompilerPass registers pass in phase. Within a phase, higher priorities
// run first; equal priorities run in registration order.
func (b *Builder) AddCompilerPass(pass Pass, phase Phase, priority int) error {
	if b.compiled {
		return &FrozenError{Op: "add compiler pass " + pass.Name()}
	}
	b.passSeq++
	b.passes = append(b.passes, registeredPass{pass: pass, phase: phase, priority: priority, seq: b.passSeq})
	return nil
}

// Passes returns the registered pass names in execution order.
func (b *Builder) Passes() []string {
	ordered := b.orderedPasses()
	out := make([]string, len(ordered))
	for i, p := range ordered {
		out[i] = p.pass.Name()
	}
	return out
}

func (b *Builder) orderedPasses() []registeredPass {
	ordered := append([]registeredPass(nil), b.passes...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, c := ordered[i], ordered[j]
		if a.phase != c.phase {
			return a.phase < c.phase
		}
		if a.priority != c.priority {
			return a.priority > c.priority
		}
		return a.seq < c.seq
	})
	return ordered
}

// Compile runs every registered pass and freezes the builder. The first
// failing pass aborts compilation.
func (b *Builder) Compile() error {
	if b.compiled {
		return &FrozenError{Op: "compile"}
	}
	for _, p := range b.orderedPasses() {
		if err := p.pass.Process(b); err != nil {
			return fmt.Errorf("builder: %s pass %s: %w", p.phase, p.pass.Name(), err)
		}
	}
	if b.resolved == nil {
		if err := b.ResolveParameters(); err != nil {
			return err
		}
	}
	b.compiled = true
	return nil
}

// ── Diagnostics ───────────────────────────────────────────────────────────────

// MarkRemoved drops id from the registry and records why.
func (b *Builder) MarkRemoved(id string, reason RemovalReason) {
	delete(b.definitions, id)
	b.removed[id] = reason
	b.invalidate()
}

// RemovedIDs returns every id dropped during compilation.
func (b *Builder) RemovedIDs() map[string]RemovalReason {
	out := make(map[string]RemovalReason, len(b.removed))
	for id, r := range b.removed {
		out[id] = r
	}
	return out
}

// AddResource records a file whose change invalidates the compiled
// container.
func (b *Builder) AddResource(path string) {
	b.resources[path] = true
}

// Resources returns the recorded resources, sorted.
func (b *Builder) Resources() []string {
	return definition.SortedKeys(b.resources)
}

// AddExtension records that the catalog function callable decorates id.
func (b *Builder) AddExtension(id, callable string) error {
	if b.compiled {
		return &FrozenError{Op: "extend " + id}
	}
	b.extensions[id] = append(b.extensions[id], callable)
	return nil
}

// Extensions returns id → decorator callables in registration order.
func (b *Builder) Extensions() map[string][]string {
	out := make(map[string][]string, len(b.extensions))
	for id, ext := range b.extensions {
		out[id] = append([]string(nil), ext...)
	}
	return out
}

// AddPreload records catalog classes whose method sets should be warmed at
// boot.
func (b *Builder) AddPreload(classes ...string) {
	b.preload = append(b.preload, classes...)
}

// Preload returns the recorded preload classes without duplicates, sorted.
func (b *Builder) Preload() []string {
	set := make(map[string]bool, len(b.preload))
	for _, c := range b.preload {
		set[c] = true
	}
	return definition.SortedKeys(set)
}

// Log records a message from pass.
func (b *Builder) Log(pass, format string, args ...any) {
	msg := pass + ": " + fmt.Sprintf(format, args...)
	b.log = append(b.log, msg)
	b.logger.Debug(msg, zap.String("pass", pass))
}

// Warn records a compile warning.
func (b *Builder) Warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	b.warnings = append(b.warnings, msg)
	b.logger.Warn(msg)
}

// Deprecate records a deprecation notice once.
func (b *Builder) Deprecate(msg string) {
	for _, d := range b.deprecations {
		if d == msg {
			return
		}
	}
	b.deprecations = append(b.deprecations, msg)
}

// LogLines returns the pass log.
func (b *Builder) LogLines() []string { return append([]string(nil), b.log...) }

// Warnings returns the compile warnings.
func (b *Builder) Warnings() []string { return append([]string(nil), b.warnings...) }

// Deprecations returns the deprecation notices.
func (b *Builder) Deprecations() []string { return append([]string(nil), b.deprecations...) }
