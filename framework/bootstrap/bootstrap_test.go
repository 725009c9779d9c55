package bootstrap_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/km-arc/go-container/framework/bootstrap"
	"github.com/km-arc/go-container/framework/builder"
	"github.com/km-arc/go-container/framework/catalog"
	"github.com/km-arc/go-container/framework/compiler"
	"github.com/km-arc/go-container/framework/container"
	"github.com/km-arc/go-container/framework/definition"
)

// ── fixtures ──────────────────────────────────────────────────────────────────

type Logger struct{}

type Mailer struct {
	Logger *Logger
	From   string
}

func (m *Mailer) Send(to string) string { return m.From + " -> " + to }

type Handler struct{ Name string }

type Registry struct{ Handlers *container.Sequence }

type Report struct{ Mailer *container.Deferred }

type fixture struct {
	cat      *catalog.Catalog
	builds   atomic.Int32
	handlers atomic.Int32
	mailers  atomic.Int32

	// resource recorded on every build
	resource string
	preload  []string
}

func newFixture() *fixture {
	f := &fixture{cat: catalog.New()}
	f.cat.MustRegister("test.Logger", func() *Logger { return &Logger{} })
	f.cat.MustRegister("test.Mailer", func(l *Logger, from string) *Mailer {
		f.mailers.Add(1)
		return &Mailer{Logger: l, From: from}
	}, catalog.WithParams("logger", "from"))
	f.cat.MustRegister("test.Handler", func(name string) *Handler {
		f.handlers.Add(1)
		return &Handler{Name: name}
	}, catalog.WithParams("name"))
	f.cat.MustRegister("test.Registry", func(s *container.Sequence) *Registry { return &Registry{Handlers: s} },
		catalog.WithParams("handlers"))
	f.cat.MustRegister("test.Report", func(d *container.Deferred) *Report { return &Report{Mailer: d} },
		catalog.WithParams("mailer"))
	return f
}

func public[D definition.Definition](d D) D {
	d.Attrs().Public = true
	return d
}

func handler(name string) *definition.Object {
	h := definition.NewObject("test.Handler", name)
	h.Tags = []definition.Tag{{Name: "handler"}}
	return h
}

// build returns a BuildFunc for the fixture graph with the given sender.
func (f *fixture) build(from string) bootstrap.BuildFunc {
	return func(context.Context) (*builder.Builder, error) {
		f.builds.Add(1)
		b := compiler.NewBuilder(f.cat)
		if f.resource != "" {
			b.AddResource(f.resource)
		}
		b.AddPreload(f.preload...)
		if err := b.SetParameter("mail.from", from); err != nil {
			return nil, err
		}

		mailer := public(definition.NewObject("test.Mailer"))
		mailer.NamedArgs = map[string]any{"$from": "%mail.from%"}
		mailer.Lazy = true

		defs := map[string]definition.Definition{
			"logger":    public(definition.NewObject("test.Logger")),
			"mailer":    mailer,
			"report":    public(definition.NewObject("test.Report", definition.Ref("mailer"))),
			"handler.a": handler("a"),
			"handler.b": handler("b"),
			"registry":  public(definition.NewObject("test.Registry", definition.TaggedIterator{Tag: "handler"})),
			"cache":     definition.NewObject("test.Handler", "cache"),
		}
		for _, id := range definition.SortedKeys(defs) {
			if err := b.Register(id, defs[id]); err != nil {
				return nil, err
			}
		}
		return b, nil
	}
}

func (f *fixture) manager(t *testing.T, dir string, opts bootstrap.Options) *bootstrap.Manager {
	t.Helper()
	opts.CacheDir = dir
	opts.Catalog = f.cat
	if opts.Env == "" {
		opts.Env = "test"
	}
	m, err := bootstrap.New(opts)
	require.NoError(t, err)
	return m
}

// ── tests ─────────────────────────────────────────────────────────────────────

func TestNewRequiresCacheDirAndCatalog(t *testing.T) {
	_, err := bootstrap.New(bootstrap.Options{Catalog: catalog.New()})
	assert.Error(t, err)
	_, err = bootstrap.New(bootstrap.Options{CacheDir: t.TempDir()})
	assert.Error(t, err)
}

func TestPath(t *testing.T) {
	dir := t.TempDir()
	f := newFixture()
	assert.Equal(t, filepath.Join(dir, "dev", "AppDevDebugContainer.go"),
		f.manager(t, dir, bootstrap.Options{Env: "dev", Debug: true}).Path())
	assert.Equal(t, filepath.Join(dir, "prod", "ShopProdContainer.go"),
		f.manager(t, dir, bootstrap.Options{Kernel: "Shop", Env: "prod"}).Path())
}

func TestLoadBuildsOnceThenHits(t *testing.T) {
	dir := t.TempDir()
	f := newFixture()
	reg := prometheus.NewRegistry()
	metrics, err := bootstrap.NewMetrics("test", reg)
	require.NoError(t, err)

	m := f.manager(t, dir, bootstrap.Options{Signature: "v1", Metrics: metrics})
	c, err := m.Load(context.Background(), f.build("ops@example.com"))
	require.NoError(t, err)
	assert.FileExists(t, m.Path())

	mailer, err := container.Resolve[*Mailer](c, "mailer")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", mailer.From)
	again, err := container.Resolve[*Mailer](c, "mailer")
	require.NoError(t, err)
	assert.Same(t, mailer, again)

	env, err := c.Get(container.EnvironmentID)
	require.NoError(t, err)
	assert.Equal(t, "test", env)

	// a second manager, as in a new process, reuses the file
	second := f.manager(t, dir, bootstrap.Options{Signature: "v1", Metrics: metrics})
	c2, err := second.Load(context.Background(), f.build("ops@example.com"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.builds.Load())
	assert.Equal(t, c.Class(), c2.Class())

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Boots.WithLabelValues(bootstrap.OutcomeBuilt)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Boots.WithLabelValues(bootstrap.OutcomeHit)))
}

func TestSignatureMismatchRebuilds(t *testing.T) {
	dir := t.TempDir()
	f := newFixture()

	_, err := f.manager(t, dir, bootstrap.Options{Signature: "v1"}).Load(context.Background(), f.build("a@example.com"))
	require.NoError(t, err)

	m := f.manager(t, dir, bootstrap.Options{Signature: "v2"})
	assert.False(t, m.Fresh(context.Background()))
	c, err := m.Load(context.Background(), f.build("a@example.com"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.builds.Load())
	assert.Equal(t, "v2", c.Program().Signature)
	assert.True(t, m.Fresh(context.Background()))
}

func TestCorruptCacheIsAMiss(t *testing.T) {
	dir := t.TempDir()
	f := newFixture()
	m := f.manager(t, dir, bootstrap.Options{})
	require.NoError(t, os.MkdirAll(filepath.Dir(m.Path()), 0o755))
	require.NoError(t, os.WriteFile(m.Path(), []byte("package main\n\nfunc broken( {\n"), 0o644))

	c, err := m.Load(context.Background(), f.build("a@example.com"))
	require.NoError(t, err)
	assert.True(t, c.Has("mailer"))
	assert.Equal(t, int32(1), f.builds.Load())
}

func TestBuildErrorIsReturned(t *testing.T) {
	f := newFixture()
	m := f.manager(t, t.TempDir(), bootstrap.Options{})
	_, err := m.Load(context.Background(), func(context.Context) (*builder.Builder, error) {
		b := compiler.NewBuilder(f.cat)
		require.NoError(t, b.Register("broken", public(definition.NewObject("test.Missing"))))
		return b, nil
	})
	var cfg *builder.ConfigurationError
	assert.ErrorAs(t, err, &cfg)
	assert.NoFileExists(t, m.Path())
}

func TestNonFiniteParameterIsNotPublished(t *testing.T) {
	f := newFixture()
	m := f.manager(t, t.TempDir(), bootstrap.Options{})
	build := f.build("a@example.com")
	_, err := m.Load(context.Background(), func(ctx context.Context) (*builder.Builder, error) {
		b, err := build(ctx)
		if err != nil {
			return nil, err
		}
		return b, b.SetParameter("ratio", math.Inf(1))
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no Go literal")
	assert.NoFileExists(t, m.Path())
}

func TestPreloadClassesAreWarmedOnLoad(t *testing.T) {
	dir := t.TempDir()
	f := newFixture()
	f.preload = []string{"test.Mailer"}
	require.False(t, f.cat.Warmed("test.Mailer"))

	c, err := f.manager(t, dir, bootstrap.Options{}).Load(context.Background(), f.build("a@example.com"))
	require.NoError(t, err)
	assert.Equal(t, []string{"test.Mailer"}, c.Program().Preload)
	assert.True(t, f.cat.Warmed("test.Mailer"))

	// a cache hit warms a fresh catalog too
	other := newFixture()
	other.preload = f.preload
	_, err = other.manager(t, dir, bootstrap.Options{}).Load(context.Background(), other.build("a@example.com"))
	require.NoError(t, err)
	assert.Zero(t, other.builds.Load())
	assert.True(t, other.cat.Warmed("test.Mailer"))
}

func TestUnknownPreloadClassIsNotPublished(t *testing.T) {
	f := newFixture()
	f.preload = []string{"test.Missing"}
	m := f.manager(t, t.TempDir(), bootstrap.Options{})
	_, err := m.Load(context.Background(), f.build("a@example.com"))
	var missing *catalog.ClassNotFoundError
	assert.ErrorAs(t, err, &missing)
	assert.NoFileExists(t, m.Path())
}

func TestConcurrentBootstrapsPublishOnce(t *testing.T) {
	dir := t.TempDir()
	f := newFixture()

	classes := make([]string, 4)
	var g errgroup.Group
	for i := range classes {
		m := f.manager(t, dir, bootstrap.Options{Signature: "v1"})
		g.Go(func() error {
			c, err := m.Load(context.Background(), f.build("a@example.com"))
			if err != nil {
				return err
			}
			if _, err := c.Get("mailer"); err != nil {
				return err
			}
			classes[i] = c.Class()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), f.builds.Load())
	for _, class := range classes {
		assert.Equal(t, classes[0], class)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "test"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "temporary file left behind")
	}
}

func TestRemovedServiceAtRuntime(t *testing.T) {
	f := newFixture()
	c, err := f.manager(t, t.TempDir(), bootstrap.Options{}).Load(context.Background(), f.build("a@example.com"))
	require.NoError(t, err)

	_, err = c.Get("cache")
	var removed *container.RemovedServiceError
	require.ErrorAs(t, err, &removed)
	assert.Equal(t, "removed", removed.Reason)

	_, err = c.Get("handler.a")
	require.ErrorAs(t, err, &removed)
	assert.Equal(t, "private", removed.Reason)

	_, err = c.Get("mailr")
	var notFound *container.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Contains(t, notFound.Alternatives, "mailer")
}

func TestLazyAndTaggedSequence(t *testing.T) {
	f := newFixture()
	c, err := f.manager(t, t.TempDir(), bootstrap.Options{}).Load(context.Background(), f.build("a@example.com"))
	require.NoError(t, err)

	report, err := container.Resolve[*Report](c, "report")
	require.NoError(t, err)
	assert.False(t, report.Mailer.Initialized())
	assert.Equal(t, int32(0), f.mailers.Load())

	mailer, err := container.Force[*Mailer](report.Mailer)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", mailer.From)
	direct, err := container.Resolve[*Mailer](c, "mailer")
	require.NoError(t, err)
	assert.Same(t, mailer, direct)

	registry, err := container.Resolve[*Registry](c, "registry")
	require.NoError(t, err)
	require.Equal(t, 2, registry.Handlers.Len())
	assert.Equal(t, int32(0), f.handlers.Load())

	for range 2 {
		handlers, err := container.Collect[*Handler](registry.Handlers)
		require.NoError(t, err)
		require.Len(t, handlers, 2)
		assert.Equal(t, "a", handlers[0].Name)
		assert.Equal(t, "b", handlers[1].Name)
	}
	assert.Equal(t, int32(2), f.handlers.Load())
}

func TestSplitContainerLoadsServiceFiles(t *testing.T) {
	dir := t.TempDir()
	f := newFixture()
	m := f.manager(t, dir, bootstrap.Options{SplitBytes: 1})
	c, err := m.Load(context.Background(), f.build("split@example.com"))
	require.NoError(t, err)
	require.True(t, c.Program().Split)
	assert.DirExists(t, filepath.Join(dir, "test", c.Class()))

	mailer, err := container.Resolve[*Mailer](c, "mailer")
	require.NoError(t, err)
	assert.Equal(t, "split@example.com", mailer.From)
	assert.NotNil(t, mailer.Logger)

	registry, err := container.Resolve[*Registry](c, "registry")
	require.NoError(t, err)
	handlers, err := container.Collect[*Handler](registry.Handlers)
	require.NoError(t, err)
	assert.Len(t, handlers, 2)
}

func TestDebugResourceChangeInvalidates(t *testing.T) {
	dir := t.TempDir()
	f := newFixture()
	f.resource = filepath.Join(t.TempDir(), "services.yaml")
	require.NoError(t, os.WriteFile(f.resource, []byte("services: {}\n"), 0o644))

	m := f.manager(t, dir, bootstrap.Options{Debug: true})
	_, err := m.Load(context.Background(), f.build("a@example.com"))
	require.NoError(t, err)
	assert.FileExists(t, m.Path()+".meta")
	assert.FileExists(t, m.LogPath())
	assert.True(t, m.Fresh(context.Background()))

	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(f.resource, later, later))
	assert.False(t, m.Fresh(context.Background()))

	_, err = m.Load(context.Background(), f.build("a@example.com"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.builds.Load())
}

func TestRetiredContainersAreSweptLater(t *testing.T) {
	dir := t.TempDir()
	f := newFixture()
	m := f.manager(t, dir, bootstrap.Options{SplitBytes: 1})
	ctx := context.Background()

	first, err := m.Warm(ctx, f.build("one@example.com"))
	require.NoError(t, err)
	firstDir := filepath.Join(dir, "test", first.Class())

	second, err := m.Warm(ctx, f.build("two@example.com"))
	require.NoError(t, err)
	require.NotEqual(t, first.Class(), second.Class())
	assert.FileExists(t, firstDir+".legacy")
	assert.DirExists(t, firstDir, "a retired container survives the publish that replaced it")
	assert.Equal(t, []string{first.Class()}, m.Retired())

	// the first container may still be in use: it keeps resolving
	_, err = first.Get("mailer")
	require.NoError(t, err)

	_, err = m.Warm(ctx, f.build("three@example.com"))
	require.NoError(t, err)
	_, err = m.Warm(ctx, f.build("four@example.com"))
	require.NoError(t, err)
	assert.NoDirExists(t, firstDir)
	assert.NoFileExists(t, firstDir+".legacy")
	assert.NotContains(t, m.Retired(), first.Class())
}

func TestSweepOnDemand(t *testing.T) {
	dir := t.TempDir()
	f := newFixture()
	m := f.manager(t, dir, bootstrap.Options{SplitBytes: 1})
	ctx := context.Background()

	legacy, err := m.Legacy()
	require.NoError(t, err)
	assert.Empty(t, legacy)

	first, err := m.Warm(ctx, f.build("one@example.com"))
	require.NoError(t, err)
	second, err := m.Warm(ctx, f.build("two@example.com"))
	require.NoError(t, err)
	assert.Equal(t, second.Class(), m.Active())

	legacy, err = m.Legacy()
	require.NoError(t, err)
	assert.Equal(t, []string{first.Class()}, legacy)

	m.Sweep(false)
	assert.DirExists(t, filepath.Join(dir, "test", first.Class()))

	m.Sweep(true)
	assert.NoDirExists(t, filepath.Join(dir, "test", first.Class()))
	legacy, err = m.Legacy()
	require.NoError(t, err)
	assert.Empty(t, legacy)
}

func TestDumpDoesNotPublish(t *testing.T) {
	f := newFixture()
	m := f.manager(t, t.TempDir(), bootstrap.Options{Signature: "v1"})

	out, err := m.Dump(context.Background(), f.build("a@example.com"))
	require.NoError(t, err)
	assert.NotEmpty(t, out.Class)
	assert.Contains(t, string(out.Root), out.Class)
	assert.NoFileExists(t, m.Path())
	assert.Empty(t, m.Active())
}

func TestClear(t *testing.T) {
	f := newFixture()
	m := f.manager(t, t.TempDir(), bootstrap.Options{})
	_, err := m.Load(context.Background(), f.build("a@example.com"))
	require.NoError(t, err)
	require.NoError(t, m.Clear())
	assert.NoFileExists(t, m.Path())
	assert.False(t, m.Fresh(context.Background()))
}

// ── locking ───────────────────────────────────────────────────────────────────

// holdLock takes the exclusive cache lock of m the way another process
// building the container would.
func holdLock(t *testing.T, m *bootstrap.Manager) *flock.Flock {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(m.Path()), 0o755))
	lock := flock.New(m.Path() + ".lock")
	require.NoError(t, lock.Lock())
	t.Cleanup(func() { _ = lock.Unlock() })
	return lock
}

func newMetrics(t *testing.T) *bootstrap.Metrics {
	t.Helper()
	metrics, err := bootstrap.NewMetrics("test", prometheus.NewRegistry())
	require.NoError(t, err)
	return metrics
}

func boots(metrics *bootstrap.Metrics, outcome string) float64 {
	return testutil.ToFloat64(metrics.Boots.WithLabelValues(outcome))
}

func TestLockHeldElsewhereBuildsWithoutItAfterTimeout(t *testing.T) {
	f := newFixture()
	metrics := newMetrics(t)
	m := f.manager(t, t.TempDir(), bootstrap.Options{LockTimeout: 200 * time.Millisecond, Metrics: metrics})
	holdLock(t, m)

	start := time.Now()
	c, err := m.Load(context.Background(), f.build("a@example.com"))
	took := time.Since(start)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, took, 200*time.Millisecond)
	assert.Less(t, took, 5*time.Second)
	assert.Equal(t, 1.0, boots(metrics, bootstrap.OutcomeUnlocked))
	assert.Equal(t, int32(1), f.builds.Load())
	assert.FileExists(t, m.Path())

	logger, err := c.Get("logger")
	require.NoError(t, err)
	assert.IsType(t, &Logger{}, logger)
}

func TestWaiterLoadsContainerPublishedByLockHolder(t *testing.T) {
	ctx := context.Background()

	// the container the lock holder is about to publish
	src := newFixture()
	published := src.manager(t, t.TempDir(), bootstrap.Options{})
	want, err := published.Load(ctx, src.build("a@example.com"))
	require.NoError(t, err)
	data, err := os.ReadFile(published.Path())
	require.NoError(t, err)

	f := newFixture()
	metrics := newMetrics(t)
	core, logs := observer.New(zap.DebugLevel)
	m := f.manager(t, t.TempDir(), bootstrap.Options{
		LockTimeout: 10 * time.Second,
		Metrics:     metrics,
		Logger:      zap.New(core),
	})
	lock := holdLock(t, m)

	var c *container.Container
	done := make(chan error, 1)
	go func() {
		var err error
		c, err = m.Load(ctx, f.build("a@example.com"))
		done <- err
	}()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("bootstrap: cache is being built elsewhere, waiting").Len() > 0
	}, 5*time.Second, 10*time.Millisecond)
	tmp := m.Path() + ".tmp"
	require.NoError(t, os.WriteFile(tmp, data, 0o644))
	require.NoError(t, os.Rename(tmp, m.Path()))
	require.NoError(t, lock.Unlock())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Load did not return after the lock was released")
	}
	assert.Zero(t, f.builds.Load())
	assert.Equal(t, 1.0, boots(metrics, bootstrap.OutcomeWaited))
	assert.Equal(t, want.Class(), c.Class())
}

func TestUnusableLockFileBuildsWithoutIt(t *testing.T) {
	f := newFixture()
	metrics := newMetrics(t)
	m := f.manager(t, t.TempDir(), bootstrap.Options{Metrics: metrics})
	// a directory cannot be opened for locking
	require.NoError(t, os.MkdirAll(m.Path()+".lock", 0o755))

	_, err := m.Load(context.Background(), f.build("a@example.com"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, boots(metrics, bootstrap.OutcomeUnlocked))
	assert.Equal(t, 0.0, boots(metrics, bootstrap.OutcomeBuilt))
	assert.FileExists(t, m.Path())
}
