package builder_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-container/framework/builder"
	"github.com/km-arc/go-container/framework/catalog"
	"github.com/km-arc/go-container/framework/container"
	"github.com/km-arc/go-container/framework/definition"
)

type Logger struct{ Prefix string }

type Mailer struct{ Logger *Logger }

func newCatalog() *catalog.Catalog {
	cat := catalog.New()
	cat.MustRegister("test.Logger", func() *Logger { return &Logger{} })
	cat.MustRegister("test.Mailer", func(l *Logger) *Mailer { return &Mailer{Logger: l} }, catalog.WithParams("logger"))
	cat.MustRegisterFunc("test.NewMailer", func(l *Logger) *Mailer { return &Mailer{Logger: l} }, catalog.WithParams("logger"))
	return cat
}

// ── registry ──────────────────────────────────────────────────────────────────

func TestServiceContainerAlwaysDefined(t *testing.T) {
	b := builder.New(newCatalog())
	def, err := b.Definition(container.ServiceContainerID)
	require.NoError(t, err)
	assert.True(t, def.Attrs().Synthetic)
	assert.True(t, def.Attrs().Public)
}

func TestRegisterAndFind(t *testing.T) {
	b := builder.New(newCatalog())
	require.NoError(t, b.Register("logger", definition.NewObject("test.Logger")))
	require.NoError(t, b.SetAlias("log", "logger"))

	assert.True(t, b.Has("log"))
	def, err := b.FindDefinition("log")
	require.NoError(t, err)
	assert.Equal(t, "test.Logger", def.(*definition.Object).Class)

	alias, err := b.Definition("log")
	require.NoError(t, err)
	assert.True(t, alias.Attrs().Public)

	assert.Equal(t, []string{"log", "logger", container.ServiceContainerID}, b.Definitions())
}

func TestDefinitionNotFoundSuggests(t *testing.T) {
	b := builder.New(newCatalog())
	require.NoError(t, b.Register("logger", definition.NewObject("test.Logger")))

	_, err := b.Definition("loger")
	var nf *container.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, []string{"logger"}, nf.Alternatives)
}

func TestSelfAliasRejected(t *testing.T) {
	b := builder.New(newCatalog())
	var cfg *builder.ConfigurationError
	assert.ErrorAs(t, b.SetAlias("a", "a"), &cfg)
}

func TestParameterDefinitionGoesToBag(t *testing.T) {
	b := builder.New(newCatalog())
	require.NoError(t, b.Register("mailer.from", definition.NewParameter("", "ops@example.com")))

	assert.False(t, b.Has("mailer.from"))
	v, err := b.Parameter("mailer.from")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", v)
}

func TestTagsKeepRegistrationOrder(t *testing.T) {
	b := builder.New(newCatalog())
	require.NoError(t, b.Register("b", definition.NewObject("test.Logger")))
	require.NoError(t, b.Register("a", definition.NewObject("test.Logger")))
	require.NoError(t, b.Tag("b", "logger", nil))
	require.NoError(t, b.Tag("a", "logger", map[string]any{"channel": "app"}))

	tagged := b.FindTaggedServiceIDs("logger")
	require.Len(t, tagged, 2)
	assert.Equal(t, "b", tagged[0].ID)
	assert.Equal(t, "a", tagged[1].ID)
	assert.Equal(t, "app", tagged[1].Attributes["channel"])
}

func TestAliasCannotBeTagged(t *testing.T) {
	b := builder.New(newCatalog())
	require.NoError(t, b.Register("logger", definition.NewObject("test.Logger")))
	require.NoError(t, b.SetAlias("log", "logger"))
	assert.Error(t, b.Tag("log", "x", nil))
}

// ── pipeline ──────────────────────────────────────────────────────────────────

func TestPassOrdering(t *testing.T) {
	b := builder.New(newCatalog())
	var ran []string
	pass := func(name string) builder.Pass {
		return builder.PassFunc(name, func(*builder.Builder) error {
			ran = append(ran, name)
			return nil
		})
	}
	require.NoError(t, b.AddCompilerPass(pass("remove"), builder.Removing, 0))
	require.NoError(t, b.AddCompilerPass(pass("low"), builder.Optimization, -10))
	require.NoError(t, b.AddCompilerPass(pass("high"), builder.Optimization, 10))
	require.NoError(t, b.AddCompilerPass(pass("first"), builder.BeforeOptimization, 0))
	require.NoError(t, b.AddCompilerPass(pass("high.second"), builder.Optimization, 10))

	want := []string{"first", "high", "high.second", "low", "remove"}
	assert.Equal(t, want, b.Passes())
	require.NoError(t, b.Compile())
	assert.Equal(t, want, ran)
}

func TestCompileStopsAtFailingPass(t *testing.T) {
	b := builder.New(newCatalog())
	boom := errors.New("boom")
	ran := false
	require.NoError(t, b.AddCompilerPass(builder.PassFunc("fail", func(*builder.Builder) error { return boom }), builder.Optimization, 0))
	require.NoError(t, b.AddCompilerPass(builder.PassFunc("after", func(*builder.Builder) error {
		ran = true
		return nil
	}), builder.Removing, 0))

	err := b.Compile()
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "fail")
	assert.False(t, ran)
	assert.False(t, b.IsCompiled())
}

func TestFrozenAfterCompile(t *testing.T) {
	b := builder.New(newCatalog())
	require.NoError(t, b.Compile())

	var frozen *builder.FrozenError
	assert.ErrorAs(t, b.Register("x", definition.NewObject("test.Logger")), &frozen)
	assert.ErrorAs(t, b.Remove("x"), &frozen)
	assert.ErrorAs(t, b.SetParameter("x", 1), &frozen)
	assert.ErrorAs(t, b.AddExtension("x", "f"), &frozen)
	assert.ErrorAs(t, b.AddCompilerPass(builder.PassFunc("p", nil), builder.Optimization, 0), &frozen)
	assert.ErrorAs(t, b.When("x").Needs("$a").Give(1), &frozen)
}

// ── introspection ─────────────────────────────────────────────────────────────

func TestResultType(t *testing.T) {
	b := builder.New(newCatalog())
	require.NoError(t, b.Register("logger", definition.NewObject("test.Logger")))
	require.NoError(t, b.Register("mailer", definition.NewFactoryCall("test.NewMailer", definition.Ref("logger"))))
	require.NoError(t, b.Register("log.factory", definition.NewFactory(definition.Ref("logger"), "String")))
	require.NoError(t, b.SetAlias("log", "logger"))

	rt, err := b.ResultType("mailer")
	require.NoError(t, err)
	assert.Equal(t, "*builder_test.Mailer", rt.String())

	rt, err = b.ResultType("log")
	require.NoError(t, err)
	assert.Equal(t, "*builder_test.Logger", rt.String())

	_, err = b.ResultType("log.factory")
	var be *catalog.BindingResolutionError
	assert.ErrorAs(t, err, &be)

	rt, err = b.ResultType(container.ServiceContainerID)
	require.NoError(t, err)
	assert.Equal(t, "container.Lookup", rt.String())
}

func TestConstructor(t *testing.T) {
	b := builder.New(newCatalog())
	def := definition.NewObject("test.Mailer")
	f, err := b.Constructor("mailer", def)
	require.NoError(t, err)
	require.Len(t, f.Params, 1)
	assert.Equal(t, "logger", f.Params[0].Name)

	f, err = b.Constructor(container.ServiceContainerID, definition.NewSynthetic(""))
	require.NoError(t, err)
	assert.Nil(t, f)
}

// ── contextual bindings ───────────────────────────────────────────────────────

func TestContextualBinding(t *testing.T) {
	b := builder.New(newCatalog())
	require.NoError(t, b.Register("mailer", definition.NewObject("test.Mailer")))
	require.NoError(t, b.SetAlias("mail", "mailer"))

	require.NoError(t, b.When("mail").Needs("$logger").GiveRef("logger.audit"))
	require.NoError(t, b.When("mailer").Needs("test.Logger").Give(definition.Ref("logger.app")))

	def, err := b.Definition("mailer")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"$logger":     definition.Ref("logger.audit"),
		"test.Logger": definition.Ref("logger.app"),
	}, def.Attrs().Bindings)

	var cfg *builder.ConfigurationError
	assert.ErrorAs(t, b.When("mailer").Give(1), &cfg)
}

// ── diagnostics ───────────────────────────────────────────────────────────────

func TestDiagnostics(t *testing.T) {
	b := builder.New(newCatalog())
	b.Log("p", "did %d things", 3)
	b.Warn("careful")
	b.Deprecate("old")
	b.Deprecate("old")
	b.AddResource("/etc/b.yaml")
	b.AddResource("/etc/a.yaml")
	b.AddResource("/etc/a.yaml")
	b.AddPreload("test.Mailer", "test.Logger", "test.Mailer")

	assert.Equal(t, []string{"p: did 3 things"}, b.LogLines())
	assert.Equal(t, []string{"careful"}, b.Warnings())
	assert.Equal(t, []string{"old"}, b.Deprecations())
	assert.Equal(t, []string{"/etc/a.yaml", "/etc/b.yaml"}, b.Resources())
	assert.Equal(t, []string{"test.Logger", "test.Mailer"}, b.Preload())
}

func TestMarkRemoved(t *testing.T) {
	b := builder.New(newCatalog())
	require.NoError(t, b.Register("x", definition.NewObject("test.Logger")))
	b.MarkRemoved("x", builder.RemovedInlined)
	assert.False(t, b.Has("x"))
	assert.Equal(t, map[string]builder.RemovalReason{"x": builder.RemovedInlined}, b.RemovedIDs())

	// registering again revives the id
	require.NoError(t, b.Register("x", definition.NewObject("test.Logger")))
	assert.Empty(t, b.RemovedIDs())
}

// ── providers ─────────────────────────────────────────────────────────────────

type mailProvider struct{ container.BaseProvider }

func (p *mailProvider) Catalog(cat *catalog.Catalog) error {
	return cat.Register("mail.Logger", func() *Logger { return &Logger{Prefix: "mail"} })
}

func (p *mailProvider) Define(b *builder.Builder) error {
	return b.Register("mail.logger", definition.NewObject("mail.Logger"))
}

func (p *mailProvider) Factories() map[string]container.Factory {
	return map[string]container.Factory{
		"mailer": func(c container.Lookup) (any, error) {
			l, err := container.Resolve[*Logger](c, "mail.logger")
			if err != nil {
				return nil, err
			}
			return &Mailer{Logger: l}, nil
		},
	}
}

func (p *mailProvider) Extensions() map[string]container.Extension {
	return map[string]container.Extension{
		"mailer": func(c container.Lookup, prev any) (any, error) { return prev, nil },
	}
}

func (p *mailProvider) Tags() map[string][]string {
	return map[string][]string{"loggers": {"mail.logger"}}
}

func (p *mailProvider) ClassesToPreload() []string { return []string{"mail.Logger"} }

func TestProviderRegistry(t *testing.T) {
	cat := newCatalog()
	b := builder.New(cat)
	reg := builder.NewProviderRegistry(b)
	p := &mailProvider{}

	require.NoError(t, reg.Register(p))
	require.NoError(t, reg.Register(p))
	assert.Len(t, reg.Providers(), 1)

	assert.True(t, cat.HasClass("mail.Logger"))
	key := builder.ProviderKey(p)
	assert.True(t, cat.HasFunc("provider."+key+".mailer"))
	assert.True(t, cat.HasFunc("provider."+key+".mailer.extension"))

	def, err := b.Definition("mailer")
	require.NoError(t, err)
	call := def.(*definition.FactoryCall)
	assert.True(t, call.Public)
	assert.False(t, call.Autowire)
	assert.Equal(t, []any{definition.Ref(container.ServiceContainerID)}, call.Args)

	assert.Equal(t, []string{"provider." + key + ".mailer.extension"}, b.Extensions()["mailer"])
	assert.Equal(t, []string{"mail.logger"}, idsOf(b.FindTaggedServiceIDs("loggers")))
	assert.Equal(t, []string{"mail.Logger"}, b.Preload())
}

func TestProviderRegistryRejectsSecondProviderOfSameType(t *testing.T) {
	cat := newCatalog()
	b := builder.New(cat)
	reg := builder.NewProviderRegistry(b)
	first, second := &mailProvider{}, &mailProvider{}

	require.NoError(t, reg.Register(first))
	err := reg.Register(second)
	var dup *builder.DuplicateProviderError
	require.True(t, errors.As(err, &dup), "got %v", err)
	assert.Equal(t, builder.ProviderKey(first), dup.Key)
	assert.Equal(t, []any{first}, reg.Providers())

	// the same instance again is still a no-op
	require.NoError(t, reg.Register(first))
}

func TestDistinctProviders(t *testing.T) {
	p := &mailProvider{}
	require.NoError(t, builder.DistinctProviders(p, p, struct{ Name string }{"plain"}))

	var dup *builder.DuplicateProviderError
	assert.True(t, errors.As(builder.DistinctProviders(p, &mailProvider{}), &dup))
}

func TestProviderWithoutCapabilities(t *testing.T) {
	reg := builder.NewProviderRegistry(builder.New(newCatalog()))
	err := reg.Register(struct{ Name string }{"nothing"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "implements no provider interface"))
}

func idsOf(ts []builder.TaggedService) []string {
	out := make([]string, len(ts))
	for i, s := range ts {
		out[i] = s.ID
	}
	return out
}
