// Package bootstrap publishes compiled containers to an on-disk cache and
// loads them back, coordinating concurrent builders with a file lock.
//
//	m, _ := bootstrap.New(bootstrap.Options{CacheDir: "var/cache", Kernel: "App", Env: "dev"})
//	c, err := m.Load(ctx, func(ctx context.Context) (*builder.Builder, error) { ... })
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/gofrs/flock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/km-arc/go-container/framework/builder"
	"github.com/km-arc/go-container/framework/catalog"
	"github.com/km-arc/go-container/framework/container"
	"github.com/km-arc/go-container/framework/definition"
	"github.com/km-arc/go-container/framework/dumper"
)

// BuildFunc assembles the builder for a fresh compile. It may return a
// builder that is already compiled.
type BuildFunc func(ctx context.Context) (*builder.Builder, error)

// Options configures a Manager.
type Options struct {
	CacheDir string
	// Kernel and Env name the cached file, "App" and "prod" when empty.
	Kernel string
	Env    string
	// Debug checks resource freshness and writes the compiler log.
	Debug bool
	// Signature invalidates caches written by a different binary.
	Signature  string
	SplitBytes int
	// LockTimeout bounds the wait for another process to publish. Defaults
	// to ten seconds.
	LockTimeout time.Duration

	// Catalog resolves the class names the generated code uses.
	Catalog *catalog.Catalog
	// Inject holds values for synthetic services. "environment" defaults
	// to Env.
	Inject map[string]any

	Loader  Loader
	Logger  *zap.Logger
	Metrics *Metrics
	Tracer  trace.Tracer
}

// Manager owns one cached container file.
type Manager struct {
	opts   Options
	log    *zap.Logger
	tracer trace.Tracer

	mu      sync.Mutex
	retired []string
}

// New validates opts and returns a Manager.
func New(opts Options) (*Manager, error) {
	if opts.CacheDir == "" {
		return nil, fmt.Errorf("bootstrap: cache dir is required")
	}
	if opts.Catalog == nil {
		return nil, fmt.Errorf("bootstrap: catalog is required")
	}
	if opts.Kernel == "" {
		opts.Kernel = "App"
	}
	if opts.Env == "" {
		opts.Env = "prod"
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 10 * time.Second
	}
	if opts.Loader == nil {
		opts.Loader = YaegiLoader{}
	}
	m := &Manager{opts: opts, log: opts.Logger, tracer: opts.Tracer}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer("go-container")
	}
	return m, nil
}

// Path is the root file of the cached container.
func (m *Manager) Path() string {
	name := m.opts.Kernel + title(m.opts.Env)
	if m.opts.Debug {
		name += "Debug"
	}
	return filepath.Join(m.envDir(), name+"Container.go")
}

func (m *Manager) envDir() string { return filepath.Join(m.opts.CacheDir, m.opts.Env) }

func (m *Manager) metaPath() string { return m.Path() + ".meta" }

func (m *Manager) lockPath() string { return m.Path() + ".lock" }

// LogPath is the compiler log written in debug mode.
func (m *Manager) LogPath() string {
	return strings.TrimSuffix(m.Path(), ".go") + "Compiler.log"
}

// ── Load ──────────────────────────────────────────────────────────────────────

// Load returns a container for the cached program, building and publishing
// it first when the cache is missing or stale.
func (m *Manager) Load(ctx context.Context, build BuildFunc) (*container.Container, error) {
	ctx, span := m.tracer.Start(ctx, "container.boot", trace.WithAttributes(
		attribute.String("container.path", m.Path()),
		attribute.String("container.env", m.opts.Env),
		attribute.Bool("container.debug", m.opts.Debug),
	))
	defer span.End()

	c, outcome, err := m.load(ctx, build)
	if err != nil {
		m.opts.Metrics.boot(OutcomeFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	m.opts.Metrics.boot(outcome)
	m.opts.Metrics.services(len(c.Program().MethodMap))
	span.SetAttributes(attribute.String("container.class", c.Class()), attribute.String("container.outcome", outcome))
	m.log.Debug("bootstrap: container ready", zap.String("class", c.Class()), zap.String("outcome", outcome))
	return c, nil
}

func (m *Manager) load(ctx context.Context, build BuildFunc) (*container.Container, string, error) {
	if c := m.fresh(ctx); c != nil {
		return c, OutcomeHit, nil
	}
	if err := os.MkdirAll(m.envDir(), 0o755); err != nil {
		return nil, "", ioErr("mkdir", m.envDir(), err)
	}

	lock := flock.New(m.lockPath())
	locked, err := lock.TryLock()
	if err != nil {
		m.log.Warn("bootstrap: cache lock unavailable, building without it", zap.Error(err))
		c, err := m.rebuild(ctx, build)
		return c, OutcomeUnlocked, err
	}
	if locked {
		defer m.unlock(lock)
		// another process may have published while we waited for the lock
		if c := m.fresh(ctx); c != nil {
			return c, OutcomeHit, nil
		}
		c, err := m.rebuild(ctx, build)
		return c, OutcomeBuilt, err
	}

	m.log.Debug("bootstrap: cache is being built elsewhere, waiting", zap.String("path", m.Path()))
	if m.wait(ctx, lock) {
		defer m.unlock(lock)
	}
	if c := m.fresh(ctx); c != nil {
		return c, OutcomeWaited, nil
	}
	m.log.Warn("bootstrap: cache still stale after waiting, building without the lock")
	c, err := m.rebuild(ctx, build)
	return c, OutcomeUnlocked, err
}

// wait takes a shared lock, bounded by LockTimeout, so that the exclusive
// holder has finished publishing. It reports whether the lock is held.
func (m *Manager) wait(ctx context.Context, lock *flock.Flock) bool {
	ctx, cancel := context.WithTimeout(ctx, m.opts.LockTimeout)
	defer cancel()
	start := time.Now()
	ok, err := lock.TryRLockContext(ctx, 20*time.Millisecond)
	m.opts.Metrics.waited(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		m.log.Warn("bootstrap: shared cache lock failed", zap.Error(err))
	}
	return ok
}

func (m *Manager) unlock(lock *flock.Flock) {
	if err := lock.Unlock(); err != nil {
		m.log.Warn("bootstrap: release cache lock", zap.Error(err))
	}
}

// fresh loads the published container when it is up to date. Missing,
// stale and corrupt caches all return nil.
func (m *Manager) fresh(ctx context.Context) *container.Container {
	if _, err := os.Stat(m.Path()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			m.log.Warn("bootstrap: stat cache", zap.Error(err))
		}
		return nil
	}
	if m.opts.Debug {
		md, err := readMeta(m.metaPath())
		if err != nil {
			m.log.Debug("bootstrap: cache metadata unreadable", zap.Error(err))
			return nil
		}
		if md.Signature != m.opts.Signature {
			return nil
		}
		if changed := md.stale(); changed != "" {
			m.log.Info("bootstrap: resource changed, cache is stale", zap.String("resource", changed))
			return nil
		}
	}
	c, err := m.open(ctx)
	if err != nil {
		m.log.Warn("bootstrap: cached container unusable", zap.String("path", m.Path()), zap.Error(err))
		return nil
	}
	if c.Program().Signature != m.opts.Signature {
		m.log.Info("bootstrap: cache signature mismatch",
			zap.String("cached", c.Program().Signature), zap.String("want", m.opts.Signature))
		return nil
	}
	return c
}

// open loads the published program and injects the synthetic services.
func (m *Manager) open(ctx context.Context) (*container.Container, error) {
	p, err := m.opts.Loader.Load(ctx, m.Path())
	if err != nil {
		return nil, err
	}
	c, err := container.New(p, m.opts.Catalog)
	if err != nil {
		return nil, err
	}
	if err := m.opts.Catalog.Warm(p.Preload...); err != nil {
		return nil, fmt.Errorf("bootstrap: preload: %w", err)
	}
	inject := map[string]any{container.EnvironmentID: m.opts.Env}
	for id, v := range m.opts.Inject {
		inject[id] = v
	}
	for _, id := range definition.SortedKeys(inject) {
		if !slices.Contains(p.Synthetic, id) {
			continue
		}
		if err := c.Set(id, inject[id]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ── Build ─────────────────────────────────────────────────────────────────────

// Warm rebuilds and publishes the container regardless of the cache state.
func (m *Manager) Warm(ctx context.Context, build BuildFunc) (*container.Container, error) {
	if err := os.MkdirAll(m.envDir(), 0o755); err != nil {
		return nil, ioErr("mkdir", m.envDir(), err)
	}
	lock := flock.New(m.lockPath())
	if err := lock.Lock(); err == nil {
		defer m.unlock(lock)
	} else {
		m.log.Warn("bootstrap: cache lock unavailable, building without it", zap.Error(err))
	}
	return m.rebuild(ctx, build)
}

func (m *Manager) rebuild(ctx context.Context, build BuildFunc) (*container.Container, error) {
	ctx, span := m.tracer.Start(ctx, "container.build")
	defer span.End()
	start := time.Now()

	b, out, err := m.dump(ctx, build)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var prev string
	if md, err := readMeta(m.metaPath()); err == nil {
		prev = md.Class
	}
	m.sweep(prev)
	if err := m.publish(b, out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	m.retire(prev, out.Class)

	for _, w := range b.Warnings() {
		m.log.Warn("container: "+w, zap.String("class", out.Class))
	}
	for _, d := range b.Deprecations() {
		m.log.Info("container: "+d, zap.String("class", out.Class))
	}
	m.opts.Metrics.built(time.Since(start).Seconds())
	span.SetAttributes(attribute.String("container.class", out.Class), attribute.Bool("container.split", out.Split))
	m.log.Info("bootstrap: container built",
		zap.String("class", out.Class),
		zap.String("path", m.Path()),
		zap.Bool("split", out.Split),
		zap.Duration("took", time.Since(start)),
	)

	c, err := m.open(ctx)
	if err != nil {
		return nil, err
	}
	if c.Class() != out.Class {
		// a concurrent unlocked builder published after us; both are valid
		m.log.Debug("bootstrap: cache replaced concurrently", zap.String("built", out.Class), zap.String("loaded", c.Class()))
	}
	return c, nil
}

// Dump builds, compiles and generates the container without publishing it.
func (m *Manager) Dump(ctx context.Context, build BuildFunc) (*dumper.Output, error) {
	_, out, err := m.dump(ctx, build)
	return out, err
}

func (m *Manager) dump(ctx context.Context, build BuildFunc) (*builder.Builder, *dumper.Output, error) {
	b, err := build(ctx)
	if err == nil && b == nil {
		err = fmt.Errorf("bootstrap: build returned no builder")
	}
	if err == nil && !b.IsCompiled() {
		err = m.compile(b)
	}
	if err != nil {
		return nil, nil, err
	}
	out, err := dumper.Dump(b, dumper.Options{Signature: m.opts.Signature, SplitBytes: m.opts.SplitBytes})
	if err != nil {
		return nil, nil, err
	}
	return b, out, nil
}

// compile registers the synthetic services every container carries and
// runs the pipeline.
func (m *Manager) compile(b *builder.Builder) error {
	for _, id := range []string{container.KernelID, container.EnvironmentID} {
		if b.Has(id) {
			continue
		}
		if err := b.Register(id, definition.NewSynthetic("")); err != nil {
			return err
		}
	}
	return b.Compile()
}

// publish writes the split files, then the root, then the metadata and the
// compiler log.
func (m *Manager) publish(b *builder.Builder, out *dumper.Output) error {
	dir := m.envDir()
	for _, name := range definition.SortedKeys(out.Files) {
		if err := writeAtomic(filepath.Join(dir, filepath.FromSlash(name)), out.Files[name], 0o644); err != nil {
			return err
		}
	}
	if err := writeAtomic(m.Path(), out.Root, 0o644); err != nil {
		return err
	}
	if err := writeMeta(m.metaPath(), newMeta(out.Class, m.opts.Signature, b.Resources())); err != nil {
		return err
	}
	if m.opts.Debug {
		if err := writeAtomic(m.LogPath(), compilerLog(b, out.Class), 0o644); err != nil {
			m.log.Warn("bootstrap: write compiler log", zap.Error(err))
		}
	}
	return nil
}

// Clear deletes every cached file of the environment.
func (m *Manager) Clear() error {
	if err := os.RemoveAll(m.envDir()); err != nil {
		return ioErr("remove", m.envDir(), err)
	}
	m.mu.Lock()
	m.retired = nil
	m.mu.Unlock()
	return nil
}

// Fresh reports whether Load would be served from the cache.
func (m *Manager) Fresh(ctx context.Context) bool { return m.fresh(ctx) != nil }

func title(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if n == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}
