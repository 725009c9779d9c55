package loader_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-container/framework/builder"
	"github.com/km-arc/go-container/framework/catalog"
	"github.com/km-arc/go-container/framework/compiler"
	"github.com/km-arc/go-container/framework/definition"
	"github.com/km-arc/go-container/framework/loader"
)

const services = `
imports:
  - common.yaml

parameters:
  mail.from: ops@example.com
  mail.retries: 3

services:
  _defaults:
    public: false
    bind:
      $from: '%mail.from%'

  logger: ~

  mailer:
    class: test.Mailer
    public: true
    lazy: true
    arguments: ['@logger', '@?transport']
    calls:
      - [SetLogger, ['@logger']]
      - { method: Retry, arguments: ['%mail.retries%'] }
    properties:
      Name: primary
    tags: [mail, { name: handler, priority: 10 }]

  mail: '@mailer'

  legacy.mailer:
    alias: mailer
    public: true
    deprecated: use mailer

  handlers:
    class: test.Handlers
    arguments: [!tagged_iterator handler]

  report:
    factory: ['@mailer', Report]
    class: test.Report
    arguments: { $title: weekly }

  clock:
    factory: test.newClock

  kernel:
    synthetic: true

  escaped:
    class: test.Logger
    arguments: ['@@literal']
`

const common = `
parameters:
  app.name: demo
`

func write(t *testing.T, dir, name, data string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func load(t *testing.T) *builder.Builder {
	t.Helper()
	dir := t.TempDir()
	write(t, dir, "common.yaml", common)
	path := write(t, dir, "services.yaml", services)

	b := builder.New(catalog.New())
	require.NoError(t, loader.New(b).LoadFile(path))
	return b
}

func TestLoadParametersAndImports(t *testing.T) {
	b := load(t)
	for key, want := range map[string]any{"mail.from": "ops@example.com", "mail.retries": 3, "app.name": "demo"} {
		got, err := b.Parameter(key)
		require.NoError(t, err)
		assert.Equal(t, want, got, key)
	}
	assert.Len(t, b.Resources(), 2)
}

func TestLoadObject(t *testing.T) {
	b := load(t)
	def, err := b.Definition("mailer")
	require.NoError(t, err)
	m, ok := def.(*definition.Object)
	require.True(t, ok)

	assert.Equal(t, "test.Mailer", m.Class)
	assert.True(t, m.Public)
	assert.True(t, m.Lazy)
	assert.True(t, m.Shared)
	assert.Equal(t, []any{definition.Ref("logger"), definition.OptionalRef("transport")}, m.Args)
	assert.Equal(t, []definition.MethodCall{
		{Method: "SetLogger", Args: []any{definition.Ref("logger")}},
		{Method: "Retry", Args: []any{"%mail.retries%"}},
	}, m.Calls)
	assert.Equal(t, []definition.Property{{Name: "Name", Value: "primary"}}, m.Properties)
	require.Len(t, m.Tags, 2)
	assert.Equal(t, "mail", m.Tags[0].Name)
	assert.Equal(t, "handler", m.Tags[1].Name)
	assert.Equal(t, map[string]any{"priority": 10}, m.Tags[1].Attributes)
	assert.Equal(t, map[string]any{"$from": "%mail.from%"}, m.Bindings)

	logger, err := b.Definition("logger")
	require.NoError(t, err)
	assert.Equal(t, "logger", logger.(*definition.Object).Class)
	assert.False(t, logger.Attrs().Public)

	escaped, err := b.Definition("escaped")
	require.NoError(t, err)
	assert.Equal(t, []any{"@literal"}, escaped.(*definition.Object).Args)
}

func TestLoadAliases(t *testing.T) {
	b := load(t)
	short, err := b.Definition("mail")
	require.NoError(t, err)
	assert.Equal(t, &definition.Alias{Target: "mailer"}, short)

	long, err := b.Definition("legacy.mailer")
	require.NoError(t, err)
	a := long.(*definition.Alias)
	assert.Equal(t, "mailer", a.Target)
	assert.True(t, a.Public)
	assert.Equal(t, "use mailer", a.Deprecated)
}

func TestLoadTaggedIteratorAndFactories(t *testing.T) {
	b := load(t)
	handlers, err := b.Definition("handlers")
	require.NoError(t, err)
	assert.Equal(t, []any{definition.TaggedIterator{Tag: "handler"}}, handlers.(*definition.Object).Args)

	report, err := b.Definition("report")
	require.NoError(t, err)
	f := report.(*definition.Factory)
	assert.Equal(t, definition.Ref("mailer"), f.Target)
	assert.Equal(t, "Report", f.Method)
	assert.Equal(t, "test.Report", f.Class)
	assert.Equal(t, map[string]any{"$title": "weekly"}, f.NamedArgs)

	clock, err := b.Definition("clock")
	require.NoError(t, err)
	assert.Equal(t, "test.newClock", clock.(*definition.FactoryCall).Callable)

	kernel, err := b.Definition("kernel")
	require.NoError(t, err)
	assert.True(t, kernel.Attrs().Synthetic)
	assert.True(t, kernel.Attrs().Public)
}

func TestLoadErrors(t *testing.T) {
	tests := map[string]string{
		"bad factory":       "services:\n  x:\n    factory: [a, b, c]\n",
		"services list":     "services: [a]\n",
		"call without name": "services:\n  x:\n    calls: [[]]\n",
		"tag without name":  "services:\n  x:\n    tags: [{ priority: 1 }]\n",
		"invalid yaml":      "services: [\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			b := builder.New(catalog.New())
			assert.Error(t, loader.New(b).Load([]byte(data), name))
		})
	}
}

func TestLoadDirIgnoresMissingDirectory(t *testing.T) {
	b := builder.New(catalog.New())
	assert.NoError(t, loader.New(b).LoadDir(filepath.Join(t.TempDir(), "missing")))
}

type Logger struct{}

type Mailer struct {
	Logger *Logger
	From   string
}

func TestLoadedDefinitionsCompile(t *testing.T) {
	cat := catalog.New()
	cat.MustRegister("test.Logger", func() *Logger { return &Logger{} })
	cat.MustRegister("test.Mailer", func(l *Logger, from string) *Mailer { return &Mailer{Logger: l, From: from} },
		catalog.WithParams("logger", "from"))

	dir := t.TempDir()
	write(t, dir, "a.yaml", "parameters:\n  mail.from: a@example.com\nservices:\n  logger: { class: test.Logger }\n")
	write(t, dir, "b.yml", "services:\n  mailer:\n    class: test.Mailer\n    public: true\n    arguments: { $from: '%mail.from%' }\n")
	write(t, dir, "notes.txt", "ignored")

	b := compiler.NewBuilder(cat)
	require.NoError(t, loader.New(b).LoadDir(dir))
	require.NoError(t, b.Compile())

	def, err := b.Definition("mailer")
	require.NoError(t, err)
	args := def.(*definition.Object).Args
	require.Len(t, args, 2)
	assert.Equal(t, "a@example.com", args[1])
	assert.IsType(t, definition.Inline{}, args[0])
}
