package dumper_test

import (
	"math"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-container/framework/builder"
	"github.com/km-arc/go-container/framework/catalog"
	"github.com/km-arc/go-container/framework/compiler"
	"github.com/km-arc/go-container/framework/container"
	"github.com/km-arc/go-container/framework/definition"
	"github.com/km-arc/go-container/framework/dumper"
)

type Logger struct{}

type Transport struct{ DSN string }

type Mailer struct {
	Logger    *Logger
	Transport *Transport
}

type Report struct{ Mailer *container.Deferred }

type Clock struct{}

func newCatalog() *catalog.Catalog {
	cat := catalog.New()
	cat.MustRegister("test.Logger", func() *Logger { return &Logger{} })
	cat.MustRegister("test.Transport", func(dsn string) *Transport { return &Transport{DSN: dsn} },
		catalog.WithParams("dsn"))
	cat.MustRegister("test.Mailer", func(l *Logger, t *Transport) *Mailer {
		return &Mailer{Logger: l, Transport: t}
	}, catalog.WithParams("logger", "transport"))
	cat.MustRegister("test.Clock", func() *Clock { return &Clock{} })
	cat.MustRegister("test.Report", func(m *container.Deferred) *Report { return &Report{Mailer: m} },
		catalog.WithParams("mailer"))
	return cat
}

func public[D definition.Definition](d D) D {
	d.Attrs().Public = true
	return d
}

// mailerGraph registers a small graph in the given order.
func mailerGraph(t *testing.T, reversed bool) *builder.Builder {
	t.Helper()
	b := compiler.NewBuilder(newCatalog())
	require.NoError(t, b.SetParameter("mail.dsn", "smtp://localhost"))

	steps := []func(){
		func() { require.NoError(t, b.Register("logger", public(definition.NewObject("test.Logger")))) },
		func() {
			require.NoError(t, b.Register("transport", definition.NewObject("test.Transport", "%mail.dsn%")))
		},
		func() { require.NoError(t, b.Register("mailer", public(definition.NewObject("test.Mailer")))) },
		func() { require.NoError(t, b.Register("unused", definition.NewObject("test.Clock"))) },
		func() { require.NoError(t, b.SetAlias("mail", "mailer")) },
	}
	if reversed {
		for i := len(steps) - 1; i >= 0; i-- {
			steps[i]()
		}
	} else {
		for _, s := range steps {
			s()
		}
	}
	require.NoError(t, b.Compile())
	return b
}

func TestDumpRequiresCompiledBuilder(t *testing.T) {
	b := compiler.NewBuilder(newCatalog())
	_, err := dumper.Dump(b, dumper.Options{})
	assert.Error(t, err)
}

func TestDumpIsDeterministic(t *testing.T) {
	first, err := dumper.Dump(mailerGraph(t, false), dumper.Options{Signature: "v1"})
	require.NoError(t, err)
	second, err := dumper.Dump(mailerGraph(t, false), dumper.Options{Signature: "v1"})
	require.NoError(t, err)
	assert.Equal(t, string(first.Root), string(second.Root))

	reversed, err := dumper.Dump(mailerGraph(t, true), dumper.Options{Signature: "v1"})
	require.NoError(t, err)
	assert.Equal(t, first.Class, reversed.Class)
	assert.Equal(t, string(first.Root), string(reversed.Root))
}

func TestDumpClassIgnoresSignature(t *testing.T) {
	a, err := dumper.Dump(mailerGraph(t, false), dumper.Options{Signature: "v1"})
	require.NoError(t, err)
	b, err := dumper.Dump(mailerGraph(t, false), dumper.Options{Signature: "v2"})
	require.NoError(t, err)
	assert.Equal(t, a.Class, b.Class)
	assert.Contains(t, string(b.Root), `Signature = "v2"`)
}

func TestDumpTables(t *testing.T) {
	out, err := dumper.Dump(mailerGraph(t, false), dumper.Options{})
	require.NoError(t, err)
	src := string(out.Root)

	assert.True(t, strings.HasPrefix(src, "// Code generated by dic. DO NOT EDIT."))
	assert.Contains(t, src, "package main")
	assert.Regexp(t, `Class\s+= "`+out.Class+`"`, src)
	assert.False(t, out.Split)
	assert.Empty(t, out.Files)

	assert.Regexp(t, `"mailer":\s+"`+dumper.Accessor("mailer")+`"`, src)
	assert.Regexp(t, `"logger":\s+"`+dumper.Accessor("logger")+`"`, src)
	assert.Regexp(t, `"mail":\s+"mailer"`, src)
	assert.Regexp(t, `"unused":\s+"removed"`, src)
	assert.Regexp(t, `"transport":\s+"inlined"`, src)
	assert.Regexp(t, `"mail.dsn":\s+"smtp://localhost"`, src)
	assert.Contains(t, src, `"service_container"`)

	// transport is built inside the mailer accessor
	assert.Contains(t, src, `s.New("test.Transport", "smtp://localhost")`)
	assert.Contains(t, src, "func "+dumper.Accessor("mailer")+"(s *container.Session) (any, error)")
	assert.NotContains(t, src, "func "+dumper.Accessor("transport")+"(")
	assert.Contains(t, src, "func Preload() []string")
	assert.NotContains(t, src, "func Program()")
}

func TestDumpFloatParameters(t *testing.T) {
	b := compiler.NewBuilder(newCatalog())
	require.NoError(t, b.SetParameter("ratio", 0.5))
	require.NoError(t, b.SetParameter("scale", float32(2)))
	require.NoError(t, b.Compile())

	out, err := dumper.Dump(b, dumper.Options{})
	require.NoError(t, err)
	assert.Regexp(t, `"ratio":\s+float64\(0\.5\)`, string(out.Root))
	assert.Regexp(t, `"scale":\s+float32\(2\)`, string(out.Root))
}

func TestDumpRejectsNonFiniteFloats(t *testing.T) {
	tests := map[string]any{
		"+Inf":         math.Inf(1),
		"-Inf":         math.Inf(-1),
		"NaN":          math.NaN(),
		"float32 +Inf": float32(math.Inf(1)),
		"nested NaN":   []any{1.5, math.NaN()},
	}
	for name, v := range tests {
		t.Run(name, func(t *testing.T) {
			b := compiler.NewBuilder(newCatalog())
			require.NoError(t, b.SetParameter("ratio", v))
			require.NoError(t, b.Compile())

			_, err := dumper.Dump(b, dumper.Options{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "has no Go literal")
		})
	}
}

func TestDumpLazyReference(t *testing.T) {
	b := compiler.NewBuilder(newCatalog())
	require.NoError(t, b.Register("logger", definition.NewObject("test.Logger")))
	require.NoError(t, b.Register("transport", definition.NewObject("test.Transport", "smtp://x")))
	mailer := public(definition.NewObject("test.Mailer"))
	mailer.Lazy = true
	require.NoError(t, b.Register("mailer", mailer))
	require.NoError(t, b.Register("report", public(definition.NewObject("test.Report", definition.Ref("mailer")))))
	require.NoError(t, b.Compile())

	out, err := dumper.Dump(b, dumper.Options{})
	require.NoError(t, err)
	assert.Contains(t, string(out.Root), `s.Lazy("mailer", "`+dumper.Accessor("mailer")+`")`)
}

func TestDumpSplit(t *testing.T) {
	out, err := dumper.Dump(mailerGraph(t, false), dumper.Options{SplitBytes: 1})
	require.NoError(t, err)
	require.True(t, out.Split)

	root := string(out.Root)
	assert.Regexp(t, `Split\s+= true`, root)
	assert.Regexp(t, `ClassDir\s+= "`+out.ClassDir()+`"`, root)
	assert.Contains(t, root, "return s.Unresolvable(method)")
	assert.NotRegexp(t, regexp.MustCompile(`func svc[0-9a-f]{16}\(`), root)

	file, ok := out.Files[dumper.ServiceFile(out.ClassDir(), dumper.Accessor("mailer"))]
	require.True(t, ok, "mailer file missing from %v", keys(out.Files))
	assert.Contains(t, string(file), `s.Service("`+dumper.Accessor("logger")+`")`)
	assert.Contains(t, string(file), "package main")

	for name := range out.Files {
		assert.True(t, strings.HasPrefix(name, out.ClassDir()+"/"), name)
	}
}

func TestDumpProgramForLibraryPackage(t *testing.T) {
	out, err := dumper.Dump(mailerGraph(t, false), dumper.Options{Package: "compiled"})
	require.NoError(t, err)
	src := string(out.Root)
	assert.Contains(t, src, "package compiled")
	assert.Contains(t, src, "func Program() *container.Program")
	assert.Contains(t, src, "case \""+dumper.Accessor("mailer")+"\":")
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
