package console_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/km-arc/go-container/framework/app"
	"github.com/km-arc/go-container/framework/catalog"
	"github.com/km-arc/go-container/framework/config"
	"github.com/km-arc/go-container/framework/console"
)

type Clock struct{ Zone string }

func kernelFunc(t *testing.T) console.KernelFunc {
	t.Helper()
	dir := t.TempDir()
	defs := filepath.Join(dir, "services")
	require.NoError(t, os.MkdirAll(defs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(defs, "clock.yaml"), []byte(`
parameters:
  clock.zone: UTC
services:
  clock:
    class: test.Clock
    public: true
    arguments: ['%clock.zone%']
  time: { alias: clock, public: true }
`), 0o644))

	cfg := &config.Config{
		App: config.AppConfig{Name: "Cli", Env: "prod"},
		Container: config.ContainerConfig{
			CacheDir:    filepath.Join(dir, "cache"),
			Definitions: defs,
			LockTimeout: time.Second,
		},
	}
	return func() (*app.Kernel, error) {
		cat := catalog.New()
		cat.MustRegister("test.Clock", func(zone string) *Clock { return &Clock{Zone: zone} }, catalog.WithParams("zone"))
		return app.New(cfg, app.WithCatalog(cat), app.WithLogger(zap.NewNop()), app.WithEnvFiles())
	}
}

func run(t *testing.T, newKernel console.KernelFunc, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := console.NewRootCommand("demo", newKernel)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCacheLifecycle(t *testing.T) {
	newKernel := kernelFunc(t)

	out, err := run(t, newKernel, "cache:list")
	require.NoError(t, err)
	assert.Contains(t, out, "active:  (none)")
	assert.Contains(t, out, "fresh:   false")

	out, err = run(t, newKernel, "cache:warmup")
	require.NoError(t, err)
	assert.Contains(t, out, "CliProdContainer.go")

	out, err = run(t, newKernel, "cache:list")
	require.NoError(t, err)
	assert.Contains(t, out, "fresh:   true")
	assert.NotContains(t, out, "(none)")

	out, err = run(t, newKernel, "cache:sweep", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 0 retired container(s).")

	out, err = run(t, newKernel, "cache:clear")
	require.NoError(t, err)
	assert.Contains(t, out, `"prod"`)

	out, err = run(t, newKernel, "cache:list")
	require.NoError(t, err)
	assert.Contains(t, out, "fresh:   false")
}

func TestDebugContainer(t *testing.T) {
	newKernel := kernelFunc(t)

	out, err := run(t, newKernel, "debug:container")
	require.NoError(t, err)
	assert.Contains(t, out, "clock")
	assert.Regexp(t, `time\s+alias for clock`, out)
	assert.Regexp(t, `kernel\s+synthetic`, out)

	out, err = run(t, newKernel, "debug:container", "time")
	require.NoError(t, err)
	assert.Contains(t, out, "alias for:   clock")
	assert.Contains(t, out, "accessor:    svc")

	out, err = run(t, newKernel, "debug:container", "--parameters")
	require.NoError(t, err)
	assert.Regexp(t, `clock\.zone\s+UTC`, out)

	_, err = run(t, newKernel, "debug:container", "clok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "clock"`)
}

func TestDumpPrintsSourceWithoutPublishing(t *testing.T) {
	newKernel := kernelFunc(t)

	out, err := run(t, newKernel, "dump")
	require.NoError(t, err)
	assert.Contains(t, out, "package main")
	assert.Contains(t, out, "DO NOT EDIT")

	out, err = run(t, newKernel, "cache:list")
	require.NoError(t, err)
	assert.Contains(t, out, "active:  (none)")
}
