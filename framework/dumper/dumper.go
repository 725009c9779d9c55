// Package dumper writes a compiled builder out as Go source that the
// container runtime can load: lookup tables plus one accessor function per
// retained service.
package dumper

import (
	"bytes"
	"fmt"
	"go/format"
	"path"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/km-arc/go-container/framework/builder"
	"github.com/km-arc/go-container/framework/definition"
)

// ImportPath is the package generated code imports.
const ImportPath = "github.com/km-arc/go-container/framework/container"

const header = "// Code generated by dic. DO NOT EDIT.\n\n"

// Options controls the generated source.
type Options struct {
	// Package is the package clause, "main" when empty. A package other
	// than main also gets a Program function for compiled-in use.
	Package string
	// Signature is recorded verbatim as the Signature constant.
	Signature string
	// SplitBytes splits the output into one file per service when the
	// accessors exceed it. Zero never splits.
	SplitBytes int
}

// Output is the generated source.
type Output struct {
	Class string
	Root  []byte
	// Files maps paths relative to the root file's directory to the source
	// of one accessor each. Empty unless Split.
	Files map[string][]byte
	Split bool
}

// ClassDir is the directory split service files are written to.
func (o *Output) ClassDir() string { return o.Class }

// Accessor returns the generated function name for the service id.
func Accessor(id string) string {
	return fmt.Sprintf("svc%016x", xxhash.Sum64String(id))
}

// ServiceFile returns the path of the accessor method in a split output,
// relative to the root file's directory.
func ServiceFile(classDir, method string) string {
	return path.Join(classDir, method+".go")
}

// Dump generates the source for the compiled builder b.
func Dump(b *builder.Builder, opts Options) (*Output, error) {
	if !b.IsCompiled() {
		return nil, fmt.Errorf("dumper: builder is not compiled")
	}
	if opts.Package == "" {
		opts.Package = "main"
	}
	g := &generator{b: b, opts: opts}
	if err := g.collect(); err != nil {
		return nil, err
	}

	accessors, err := g.accessors()
	if err != nil {
		return nil, err
	}
	if opts.SplitBytes > 0 && size(accessors) > opts.SplitBytes {
		g.split = true
		if accessors, err = g.accessors(); err != nil {
			return nil, err
		}
	}

	tables, err := g.tables()
	if err != nil {
		return nil, err
	}
	h := xxhash.New()
	_, _ = h.WriteString(tables)
	for _, a := range accessors {
		_, _ = h.WriteString(a.code)
	}
	out := &Output{Class: fmt.Sprintf("Container%08x", uint32(h.Sum64())), Split: g.split}

	var root bytes.Buffer
	root.WriteString(header)
	fmt.Fprintf(&root, "package %s\n\nimport %q\n\n", opts.Package, ImportPath)
	fmt.Fprintf(&root, "const (\n\tClass = %q\n\tSignature = %q\n\tSplit = %t\n\tClassDir = %q\n)\n\n", out.Class, opts.Signature, g.split, out.ClassDir())
	root.WriteString(tables)
	if opts.Package != "main" {
		root.WriteString(programFunc)
	}

	if g.split {
		out.Files = make(map[string][]byte, len(accessors))
		for _, a := range accessors {
			src := header + fmt.Sprintf("package %s\n\nimport %q\n\n", opts.Package, ImportPath) + a.code
			formatted, err := format.Source([]byte(src))
			if err != nil {
				return nil, fmt.Errorf("dumper: format %s: %w", a.method, err)
			}
			out.Files[ServiceFile(out.ClassDir(), a.method)] = formatted
		}
	} else {
		for _, a := range accessors {
			root.WriteString(a.code)
		}
	}

	formatted, err := format.Source(root.Bytes())
	if err != nil {
		return nil, fmt.Errorf("dumper: format root: %w", err)
	}
	out.Root = formatted
	return out, nil
}

const programFunc = `// Program assembles the compiled tables for container.New.
func Program() *container.Program {
	return &container.Program{
		Class:      Class,
		Signature:  Signature,
		Split:      Split,
		MethodMap:  MethodMap(),
		Aliases:    Aliases(),
		Parameters: Parameters(),
		Removed:    Removed(),
		Synthetic:  Synthetic(),
		Preload:    Preload(),
		Resolve:    Resolve,
	}
}

`

// ── Generator ─────────────────────────────────────────────────────────────────

type accessor struct {
	id     string
	method string
	code   string
}

type generator struct {
	b     *builder.Builder
	opts  Options
	split bool

	// ids that get an accessor, sorted
	services []string

	methodMap map[string]string
	aliases   map[string]string
	removed   map[string]string
	synthetic []string
}

func (g *generator) collect() error {
	g.methodMap = map[string]string{}
	g.aliases = map[string]string{}
	g.removed = map[string]string{}
	for id, reason := range g.b.RemovedIDs() {
		g.removed[id] = string(reason)
	}

	for id, def := range g.b.All() {
		a := def.Attrs()
		alias, isAlias := def.(*definition.Alias)
		switch {
		case isAlias:
			target, err := g.b.Definition(alias.Target)
			if err != nil {
				return fmt.Errorf("dumper: alias %q: %w", id, err)
			}
			if target.Attrs().Public || target.Attrs().Synthetic {
				g.aliases[id] = alias.Target
			} else {
				g.methodMap[id] = Accessor(alias.Target)
			}
		case a.Synthetic:
			g.synthetic = append(g.synthetic, id)
			g.services = append(g.services, id)
		default:
			g.services = append(g.services, id)
			if a.Public {
				g.methodMap[id] = Accessor(id)
			} else {
				g.removed[id] = string(builder.RemovedPrivate)
			}
		}
	}
	return nil
}

func (g *generator) tables() (string, error) {
	var buf bytes.Buffer
	writeStringMap(&buf, "MethodMap maps public service ids to their accessor.", "MethodMap", g.methodMap)
	writeStringMap(&buf, "Aliases maps public aliases to the service they stand for.", "Aliases", g.aliases)

	params, err := literal(g.b.Parameters())
	if err != nil {
		return "", fmt.Errorf("dumper: parameters: %w", err)
	}
	fmt.Fprintf(&buf, "// Parameters is the resolved parameter bag.\nfunc Parameters() map[string]any {\n\treturn %s\n}\n\n", params)

	writeStringMap(&buf, "Removed lists ids dropped at compile time and why.", "Removed", g.removed)

	fmt.Fprintf(&buf, "// Synthetic lists the ids injected at run time.\nfunc Synthetic() []string {\n\treturn []string{")
	for _, id := range g.synthetic {
		fmt.Fprintf(&buf, "%q,", id)
	}
	buf.WriteString("}\n}\n\n")

	fmt.Fprintf(&buf, "// Preload lists the catalog classes warmed at boot.\nfunc Preload() []string {\n\treturn []string{")
	for _, class := range g.b.Preload() {
		if _, err := g.b.Class(class); err != nil {
			return "", fmt.Errorf("dumper: preload: %w", err)
		}
		fmt.Fprintf(&buf, "%q,", class)
	}
	buf.WriteString("}\n}\n\n")

	buf.WriteString("// Resolve dispatches an accessor name.\nfunc Resolve(s *container.Session, method string) (any, error) {\n")
	if g.split && g.opts.Package == "main" {
		// the host loads split service files itself
		buf.WriteString("\treturn s.Unresolvable(method)\n}\n\n")
		return buf.String(), nil
	}
	buf.WriteString("\tswitch method {\n")
	methods := make(map[string]bool, len(g.services))
	for _, id := range g.services {
		methods[Accessor(id)] = true
	}
	for _, m := range definition.SortedKeys(methods) {
		fmt.Fprintf(&buf, "\tcase %q:\n\t\treturn %s(s)\n", m, m)
	}
	buf.WriteString("\t}\n\treturn s.Unresolvable(method)\n}\n\n")
	return buf.String(), nil
}

func writeStringMap(buf *bytes.Buffer, doc, name string, m map[string]string) {
	fmt.Fprintf(buf, "// %s\nfunc %s() map[string]string {\n\treturn map[string]string{\n", doc, name)
	for _, k := range definition.SortedKeys(m) {
		fmt.Fprintf(buf, "\t\t%q: %q,\n", k, m[k])
	}
	buf.WriteString("\t}\n}\n\n")
}

func (g *generator) accessors() ([]accessor, error) {
	out := make([]accessor, 0, len(g.services))
	for _, id := range g.services {
		def, err := g.b.Definition(id)
		if err != nil {
			return nil, err
		}
		code, err := g.accessor(id, def)
		if err != nil {
			return nil, err
		}
		out = append(out, accessor{id: id, method: Accessor(id), code: code})
	}
	return out, nil
}

func (g *generator) accessor(id string, def definition.Definition) (string, error) {
	method := Accessor(id)
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "// %s builds %q%s.\n", method, id, describe(def))
	fmt.Fprintf(&buf, "func %s(s *container.Session) (any, error) {\n", method)

	a := def.Attrs()
	if a.Synthetic {
		fmt.Fprintf(&buf, "\treturn s.Synthetic(%q)\n}\n\n", id)
		return buf.String(), nil
	}
	if a.Shared {
		fmt.Fprintf(&buf, "\tif v, ok, err := s.Claim(%q); err != nil || ok {\n\t\treturn v, err\n\t}\n", id)
	}
	fmt.Fprintf(&buf, "\tif err := s.Enter(%q); err != nil {\n\t\treturn nil, err\n\t}\n\tdefer s.Leave(%q)\n", id, id)

	w := &body{g: g}
	v, err := w.construct(id, def)
	if err != nil {
		return "", fmt.Errorf("dumper: service %q: %w", id, err)
	}
	buf.WriteString(w.buf.String())
	if a.Shared {
		fmt.Fprintf(&buf, "\ts.Share(%q, %s)\n", id, v)
	}
	fmt.Fprintf(&buf, "\treturn %s, nil\n}\n\n", v)
	return buf.String(), nil
}

func describe(def definition.Definition) string {
	switch d := def.(type) {
	case *definition.Object:
		if d.Class != "" {
			return " (" + d.Class + ")"
		}
	case *definition.Factory:
		if d.Static() {
			return " (" + d.Callable() + ")"
		}
		return " (factory " + d.Method + ")"
	case *definition.FactoryCall:
		return " (" + d.Callable + ")"
	case *definition.Iterator:
		return " (tagged " + d.Tag + ")"
	}
	return ""
}

func size(accessors []accessor) int {
	n := 0
	for _, a := range accessors {
		n += len(a.code)
	}
	return n
}

// ── Accessor body ─────────────────────────────────────────────────────────────

type body struct {
	g   *generator
	buf strings.Builder
	n   int
}

func (w *body) next() string {
	v := fmt.Sprintf("v%d", w.n)
	w.n++
	return v
}

// construct emits the statements that build def and returns the variable
// holding the result.
func (w *body) construct(id string, def definition.Definition) (string, error) {
	v := w.next()
	var call string
	switch d := def.(type) {
	case *definition.Iterator:
		methods := make([]string, 0, len(d.Refs))
		for _, r := range d.Refs {
			methods = append(methods, fmt.Sprintf("%q", Accessor(w.g.canonical(r.ID))))
		}
		fmt.Fprintf(&w.buf, "\t%s := s.Sequence(%s)\n", v, strings.Join(methods, ", "))
		return v, nil
	case *definition.Object:
		args, err := w.values(d.Args)
		if err != nil {
			return "", err
		}
		call = fmt.Sprintf("s.New(%q%s)", d.Class, args)
	case *definition.FactoryCall:
		args, err := w.values(d.Args)
		if err != nil {
			return "", err
		}
		call = fmt.Sprintf("s.Func(%q%s)", d.Callable, args)
	case *definition.Factory:
		if d.Static() {
			args, err := w.values(d.Args)
			if err != nil {
				return "", err
			}
			call = fmt.Sprintf("s.Func(%q%s)", d.Callable(), args)
			break
		}
		target, err := w.value(d.Target)
		if err != nil {
			return "", err
		}
		args, err := w.values(d.Args)
		if err != nil {
			return "", err
		}
		call = fmt.Sprintf("s.Invoke(%s, %q%s)", target, d.Method, args)
	default:
		return "", fmt.Errorf("cannot dump a %s definition", def.Kind())
	}
	fmt.Fprintf(&w.buf, "\t%s, err := %s\n\tif err != nil {\n\t\treturn nil, s.Fail(%q, err)\n\t}\n", v, call, id)

	for _, p := range properties(def) {
		val, err := w.value(p.Value)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&w.buf, "\tif err := s.Set(%s, %q, %s); err != nil {\n\t\treturn nil, s.Fail(%q, err)\n\t}\n", v, p.Name, val, id)
	}
	for _, c := range calls(def) {
		args, err := w.values(c.Args)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&w.buf, "\tif err := s.Call(%s, %q%s); err != nil {\n\t\treturn nil, s.Fail(%q, err)\n\t}\n", v, c.Method, args, id)
	}
	return v, nil
}

// values returns ", a, b" for use after a leading argument.
func (w *body) values(vs []any) (string, error) {
	var sb strings.Builder
	for _, v := range vs {
		e, err := w.value(v)
		if err != nil {
			return "", err
		}
		sb.WriteString(", ")
		sb.WriteString(e)
	}
	return sb.String(), nil
}

// value returns a Go expression for v, emitting any statements it needs.
func (w *body) value(v any) (string, error) {
	switch t := v.(type) {
	case definition.Reference:
		return w.reference(t)
	case definition.Param:
		name := w.next()
		fmt.Fprintf(&w.buf, "\t%s, err := s.Param(%q)\n\tif err != nil {\n\t\treturn nil, err\n\t}\n", name, t.Key)
		return name, nil
	case definition.Inline:
		return w.construct(t.ID, t.Definition)
	case definition.Default:
		return "container.UseDefault", nil
	case []any:
		elems := make([]string, len(t))
		for i, e := range t {
			x, err := w.value(e)
			if err != nil {
				return "", err
			}
			elems[i] = x
		}
		return "[]any{" + strings.Join(elems, ", ") + "}", nil
	case map[string]any:
		var sb strings.Builder
		sb.WriteString("map[string]any{")
		for _, k := range definition.SortedKeys(t) {
			x, err := w.value(t[k])
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&sb, "%q: %s, ", k, x)
		}
		sb.WriteString("}")
		return sb.String(), nil
	case definition.TaggedIterator:
		return "", fmt.Errorf("tagged iterator %q was not collected", t.Tag)
	}
	return literal(v)
}

func (w *body) reference(r definition.Reference) (string, error) {
	id := w.g.canonical(r.ID)
	def, err := w.g.b.Definition(id)
	if err != nil {
		return "", fmt.Errorf("reference to %q: %w", r.ID, err)
	}
	method := Accessor(id)
	if def.Attrs().Lazy {
		return fmt.Sprintf("s.Lazy(%q, %q)", id, method), nil
	}
	name := w.next()
	if w.g.split {
		fmt.Fprintf(&w.buf, "\t%s, err := s.Service(%q)\n", name, method)
	} else {
		fmt.Fprintf(&w.buf, "\t%s, err := %s(s)\n", name, method)
	}
	w.buf.WriteString("\tif err != nil {\n\t\treturn nil, err\n\t}\n")
	return name, nil
}

// canonical follows public aliases left in the graph.
func (g *generator) canonical(id string) string {
	for range 16 {
		def, err := g.b.Definition(id)
		if err != nil {
			return id
		}
		alias, ok := def.(*definition.Alias)
		if !ok {
			return id
		}
		id = alias.Target
	}
	return id
}

func properties(def definition.Definition) []definition.Property {
	switch d := def.(type) {
	case *definition.Object:
		return d.Properties
	case *definition.Factory:
		return d.Properties
	}
	return nil
}

func calls(def definition.Definition) []definition.MethodCall {
	switch d := def.(type) {
	case *definition.Object:
		return d.Calls
	case *definition.Factory:
		return d.Calls
	case *definition.FactoryCall:
		return d.Calls
	}
	return nil
}
