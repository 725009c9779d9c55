package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/km-arc/go-container/framework/bootstrap"
	"github.com/km-arc/go-container/framework/builder"
	"github.com/km-arc/go-container/framework/catalog"
	"github.com/km-arc/go-container/framework/compiler"
	"github.com/km-arc/go-container/framework/config"
	"github.com/km-arc/go-container/framework/container"
	"github.com/km-arc/go-container/framework/loader"
	"github.com/km-arc/go-container/framework/logging"
	"github.com/km-arc/go-container/framework/processor"
	"github.com/km-arc/go-container/framework/providers"
	"github.com/km-arc/go-container/framework/routing"
	"github.com/km-arc/go-container/framework/watch"
)

// Version is part of the default cache signature, so upgrading the binary
// invalidates containers compiled by the previous one.
const Version = "0.1.0"

// ErrBoot is what Boot returns outside debug mode. The underlying error is
// logged instead of returned.
var ErrBoot = errors.New("app: the service container could not be booted")

// Kernel owns the compiled container of one application: it assembles the
// builder from providers and definition files, and hands the result to the
// cache manager.
//
//	k, _ := app.New(config.Load(), app.WithProviders(&MailProvider{}))
//	c, err := k.Boot(ctx)
type Kernel struct {
	cfg       *config.Config
	cat       *catalog.Catalog
	log       *zap.Logger
	registry  *prometheus.Registry
	manager   *bootstrap.Manager
	signature string

	providers   []any
	definitions []string
	envFiles    []string

	mu      sync.RWMutex
	current *container.Container
	watcher *watch.Watcher
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithCatalog sets the catalog application types are registered in.
func WithCatalog(cat *catalog.Catalog) Option { return func(k *Kernel) { k.cat = cat } }

// WithLogger replaces the logger built from the configuration.
func WithLogger(l *zap.Logger) Option { return func(k *Kernel) { k.log = l } }

// WithProviders appends application providers after the framework ones.
func WithProviders(p ...any) Option {
	return func(k *Kernel) { k.providers = append(k.providers, p...) }
}

// WithDefinitions replaces the YAML definition paths. Directories load
// every *.yaml and *.yml file they hold.
func WithDefinitions(paths ...string) Option {
	return func(k *Kernel) { k.definitions = paths }
}

// WithEnvFiles sets the dotenv files the env processor falls back to.
func WithEnvFiles(files ...string) Option {
	return func(k *Kernel) { k.envFiles = files }
}

// WithSignature overrides the cache signature.
func WithSignature(sig string) Option { return func(k *Kernel) { k.signature = sig } }

// New creates a kernel for cfg. The framework providers (config, logger,
// router) are always registered first.
func New(cfg *config.Config, opts ...Option) (*Kernel, error) {
	k := &Kernel{
		cfg:         cfg,
		registry:    prometheus.NewRegistry(),
		signature:   "go-container@" + Version,
		definitions: []string{cfg.Container.Definitions},
		envFiles:    []string{".env"},
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.cat == nil {
		k.cat = catalog.New()
	}
	if k.log == nil {
		l, err := logging.New(cfg.Log.Level, cfg.App.Debug)
		if err != nil {
			return nil, err
		}
		k.log = l
	}
	k.providers = append([]any{
		&providers.ConfigServiceProvider{Config: cfg},
		&providers.LogServiceProvider{Logger: k.log},
		&providers.RoutingServiceProvider{Gatherer: k.registry},
	}, k.providers...)

	metrics, err := bootstrap.NewMetrics("app", k.registry)
	if err != nil {
		return nil, err
	}
	k.manager, err = bootstrap.New(bootstrap.Options{
		CacheDir:    cfg.Container.CacheDir,
		Kernel:      kernelName(cfg.App.Name),
		Env:         cfg.App.Env,
		Debug:       cfg.App.Debug,
		Signature:   k.signature,
		SplitBytes:  cfg.Container.SplitBytes,
		LockTimeout: cfg.Container.LockTimeout,
		Catalog:     k.cat,
		Inject:      map[string]any{container.KernelID: k},
		Logger:      k.log,
		Metrics:     metrics,
	})
	if err != nil {
		return nil, err
	}
	return k, nil
}

// Register adds a provider. It takes effect on the next Boot or Rebuild.
func (k *Kernel) Register(provider any) {
	k.providers = append(k.providers, provider)
}

// ── Boot ──────────────────────────────────────────────────────────────────────

// Boot returns the compiled container, loading it from the cache or building
// it. Outside debug mode every failure is logged and reported as ErrBoot.
func (k *Kernel) Boot(ctx context.Context) (*container.Container, error) {
	if err := k.bind(); err != nil {
		return nil, k.fail(err)
	}
	c, err := k.manager.Load(ctx, k.Build)
	if err != nil {
		return nil, k.fail(err)
	}
	k.swap(c)
	return c, nil
}

// Rebuild compiles and publishes a new container regardless of the cache
// and makes it current.
func (k *Kernel) Rebuild(ctx context.Context) (*container.Container, error) {
	if err := k.bind(); err != nil {
		return nil, k.fail(err)
	}
	c, err := k.manager.Warm(ctx, k.Build)
	if err != nil {
		return nil, k.fail(err)
	}
	k.swap(c)
	return c, nil
}

// bind registers every provider's callables. A container loaded from the
// cache calls into them without the providers being folded again.
func (k *Kernel) bind() error {
	if err := builder.DistinctProviders(k.providers...); err != nil {
		return err
	}
	for _, p := range k.providers {
		if err := builder.BindCatalog(k.cat, p); err != nil {
			return err
		}
	}
	return nil
}

func (k *Kernel) fail(err error) error {
	if k.cfg.App.Debug {
		return fmt.Errorf("app: boot: %w", err)
	}
	k.log.Error("container boot failed", zap.Error(err), zap.String("cache", k.manager.Path()))
	return ErrBoot
}

func (k *Kernel) swap(c *container.Container) {
	k.mu.Lock()
	k.current = c
	k.mu.Unlock()
}

// Build assembles an uncompiled builder: kernel parameters, providers, then
// definition files, which may override provider services.
func (k *Kernel) Build(ctx context.Context) (*builder.Builder, error) {
	b := compiler.NewBuilder(k.cat, builder.WithLogger(k.log))

	proc, err := processor.New(processor.WithDotenv(k.envFiles...))
	if err != nil {
		return nil, err
	}
	if err := b.AddProcessor(proc); err != nil {
		return nil, err
	}
	for _, f := range k.envFiles {
		if abs, err := filepath.Abs(f); err == nil {
			if _, err := os.Stat(abs); err == nil {
				b.AddResource(abs)
			}
		}
	}

	params := map[string]any{
		"kernel.name":        k.cfg.App.Name,
		"kernel.environment": k.cfg.App.Env,
		"kernel.debug":       k.cfg.App.Debug,
		"kernel.cache_dir":   k.cfg.Container.CacheDir,
	}
	for key, v := range params {
		if err := b.SetParameter(key, v); err != nil {
			return nil, err
		}
	}

	registry := builder.NewProviderRegistry(b)
	for _, p := range k.providers {
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}

	ld := loader.New(b)
	for _, path := range k.definitions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			k.log.Debug("definition path not found", zap.String("path", path))
			continue
		case err != nil:
			return nil, err
		case info.IsDir():
			if abs, err := filepath.Abs(path); err == nil {
				// a new file changes the directory's mtime
				b.AddResource(abs)
			}
			err = ld.LoadDir(path)
		default:
			err = ld.LoadFile(path)
		}
		if err != nil {
			return nil, err
		}
	}
	return b, nil
}

// ── Watch ─────────────────────────────────────────────────────────────────────

// Watch rebuilds the container whenever a definition or dotenv file
// changes, until ctx is done.
func (k *Kernel) Watch(ctx context.Context) error {
	w, err := watch.New(append(append([]string{}, k.definitions...), k.envFiles...), watch.WithLogger(k.log))
	if err != nil {
		return err
	}
	w.OnChange(func(changed []string) {
		if _, err := k.Rebuild(ctx); err != nil {
			k.log.Error("container rebuild failed", zap.Strings("files", changed), zap.Error(err))
		}
	})

	k.mu.Lock()
	k.watcher = w
	k.mu.Unlock()
	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	k.log.Info("watching container definitions", zap.Strings("paths", k.definitions))
	return nil
}

// ── Serve ─────────────────────────────────────────────────────────────────────

// Run boots the container and serves the "router" service on APP_PORT until
// ctx is done.
func (k *Kernel) Run(ctx context.Context) error {
	if _, err := k.Boot(ctx); err != nil {
		return err
	}
	if k.cfg.Container.Watch {
		if err := k.Watch(ctx); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              ":" + k.cfg.App.Port,
		Handler:           http.HandlerFunc(k.serveHTTP),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		k.log.Info("http server listening",
			zap.String("app", k.cfg.App.Name),
			zap.String("addr", srv.Addr),
			zap.String("env", k.cfg.App.Env),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// serveHTTP dispatches to the router of the current container, so a rebuild
// takes effect on the next request.
func (k *Kernel) serveHTTP(w http.ResponseWriter, r *http.Request) {
	router, err := container.Resolve[*routing.Router](k.Container(), "router")
	if err != nil {
		k.log.Error("router unavailable", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	router.ServeHTTP(w, r)
}

// ── Accessors ─────────────────────────────────────────────────────────────────

// Container returns the container of the last successful Boot or Rebuild.
func (k *Kernel) Container() *container.Container {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.current
}

func (k *Kernel) Config() *config.Config         { return k.cfg }
func (k *Kernel) Catalog() *catalog.Catalog      { return k.cat }
func (k *Kernel) Logger() *zap.Logger            { return k.log }
func (k *Kernel) Manager() *bootstrap.Manager    { return k.manager }
func (k *Kernel) Registry() *prometheus.Registry { return k.registry }
func (k *Kernel) Environment() string            { return k.cfg.App.Env }
func (k *Kernel) IsDebug() bool                  { return k.cfg.App.Debug }

// kernelName keeps the letters and digits of name for the cache file name.
func kernelName(name string) string {
	var sb strings.Builder
	for _, r := range name {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			sb.WriteRune(r)
		}
	}
	if sb.Len() == 0 {
		return "App"
	}
	return sb.String()
}
