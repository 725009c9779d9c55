// Package loader registers definitions read from YAML files on a builder.
//
//	parameters:
//	  mail.from: ops@example.com
//	services:
//	  _defaults:
//	    autowire: true
//	  mailer:
//	    class: app.Mailer
//	    public: true
//	    arguments: { $from: '%mail.from%' }
//	    calls:
//	      - [SetTransport, ['@?transport']]
//	  handlers:
//	    class: app.Handlers
//	    arguments: [!tagged_iterator app.handler]
package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/km-arc/go-container/framework/builder"
	"github.com/km-arc/go-container/framework/definition"
)

// TaggedIteratorTag is the YAML tag that injects every service carrying a
// tag as one sequence.
const TaggedIteratorTag = "!tagged_iterator"

type document struct {
	Imports    []string  `yaml:"imports"`
	Parameters yaml.Node `yaml:"parameters"`
	Services   yaml.Node `yaml:"services"`
}

type service struct {
	Class      string      `yaml:"class"`
	Alias      string      `yaml:"alias"`
	Factory    yaml.Node   `yaml:"factory"`
	Arguments  yaml.Node   `yaml:"arguments"`
	Properties yaml.Node   `yaml:"properties"`
	Calls      []yaml.Node `yaml:"calls"`
	Tags       []yaml.Node `yaml:"tags"`
	Bind       yaml.Node   `yaml:"bind"`
	Public     *bool       `yaml:"public"`
	Shared     *bool       `yaml:"shared"`
	Autowire   *bool       `yaml:"autowire"`
	Lazy       bool        `yaml:"lazy"`
	Synthetic  bool        `yaml:"synthetic"`
	Deprecated string      `yaml:"deprecated"`
}

type defaults struct {
	Public   *bool       `yaml:"public"`
	Shared   *bool       `yaml:"shared"`
	Autowire *bool       `yaml:"autowire"`
	Tags     []yaml.Node `yaml:"tags"`
	Bind     yaml.Node   `yaml:"bind"`
}

// Loader reads definition files into a builder.
type Loader struct {
	b      *builder.Builder
	loaded map[string]bool
}

// New returns a Loader registering on b.
func New(b *builder.Builder) *Loader {
	return &Loader{b: b, loaded: make(map[string]bool)}
}

// LoadDir loads every *.yaml and *.yml file in dir in name order. A missing
// directory loads nothing.
func (l *Loader) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loader: read %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isYAML(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if err := l.LoadFile(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile loads path and its imports. Each file is loaded once and
// recorded as a builder resource.
func (l *Loader) LoadFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("loader: %s: %w", path, err)
	}
	if l.loaded[abs] {
		return nil
	}
	l.loaded[abs] = true
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("loader: read %s: %w", path, err)
	}
	l.b.AddResource(abs)
	return l.load(data, abs)
}

// Load registers the definitions in data. source names the data in errors
// and anchors relative imports.
func (l *Loader) Load(data []byte, source string) error {
	return l.load(data, source)
}

func (l *Loader) load(data []byte, source string) error {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("loader: decode %s: %w", source, err)
	}
	for _, imp := range doc.Imports {
		if !filepath.IsAbs(imp) {
			imp = filepath.Join(filepath.Dir(source), imp)
		}
		if err := l.LoadFile(imp); err != nil {
			return err
		}
	}
	if err := l.parameters(&doc.Parameters, source); err != nil {
		return err
	}
	return l.services(&doc.Services, source)
}

func (l *Loader) parameters(n *yaml.Node, source string) error {
	if n.Kind == 0 {
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("loader: %s: parameters must be a mapping", source)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		v, err := value(n.Content[i+1])
		if err != nil {
			return fmt.Errorf("loader: %s: parameter %q: %w", source, key, err)
		}
		if err := l.b.SetParameter(key, v); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) services(n *yaml.Node, source string) error {
	if n.Kind == 0 {
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("loader: %s: services must be a mapping", source)
	}

	var def defaults
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == "_defaults" {
			if err := n.Content[i+1].Decode(&def); err != nil {
				return fmt.Errorf("loader: %s: _defaults: %w", source, err)
			}
		}
	}

	for i := 0; i+1 < len(n.Content); i += 2 {
		id, body := n.Content[i].Value, n.Content[i+1]
		if id == "_defaults" {
			continue
		}
		d, err := l.service(id, body, &def)
		if err != nil {
			return fmt.Errorf("loader: %s: service %q: %w", source, id, err)
		}
		if err := l.b.Register(id, d); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) service(id string, n *yaml.Node, def *defaults) (definition.Definition, error) {
	// "id: '@target'" is a short alias, "id: ~" a class named after the id
	if n.Kind == yaml.ScalarNode {
		if strings.HasPrefix(n.Value, "@") {
			a := definition.NewAlias(strings.TrimPrefix(n.Value, "@"))
			a.Public = def.Public != nil && *def.Public
			return a, nil
		}
		if n.Tag == "!!null" || n.Value == "" {
			n = &yaml.Node{Kind: yaml.MappingNode}
		}
	}
	var s service
	if err := n.Decode(&s); err != nil {
		return nil, err
	}

	if s.Alias != "" {
		a := definition.NewAlias(s.Alias)
		a.Public = pick(s.Public, def.Public, false)
		a.Deprecated = s.Deprecated
		return a, nil
	}

	d, err := recipe(id, &s)
	if err != nil {
		return nil, err
	}
	a := d.Attrs()
	if !s.Synthetic {
		a.Public = pick(s.Public, def.Public, a.Public)
		a.Autowire = pick(s.Autowire, def.Autowire, a.Autowire)
	}
	a.Shared = pick(s.Shared, def.Shared, a.Shared)
	a.Lazy = s.Lazy
	a.Deprecated = s.Deprecated

	for _, t := range append(append([]yaml.Node{}, def.Tags...), s.Tags...) {
		tag, err := parseTag(&t)
		if err != nil {
			return nil, err
		}
		a.Tags = append(a.Tags, tag)
	}
	for _, bind := range []*yaml.Node{&def.Bind, &s.Bind} {
		if err := mapping(bind, func(key string, v any) {
			if a.Bindings == nil {
				a.Bindings = map[string]any{}
			}
			a.Bindings[key] = v
		}); err != nil {
			return nil, fmt.Errorf("bind: %w", err)
		}
	}
	return d, nil
}

// recipe builds the definition for the construction keys of s.
func recipe(id string, s *service) (definition.Definition, error) {
	if s.Synthetic {
		return definition.NewSynthetic(s.Class), nil
	}

	args, named, err := arguments(&s.Arguments)
	if err != nil {
		return nil, fmt.Errorf("arguments: %w", err)
	}
	calls, err := methodCalls(s.Calls)
	if err != nil {
		return nil, err
	}
	var props []definition.Property
	if err := mapping(&s.Properties, func(key string, v any) {
		props = append(props, definition.Property{Name: key, Value: v})
	}); err != nil {
		return nil, fmt.Errorf("properties: %w", err)
	}

	switch s.Factory.Kind {
	case 0:
		class := s.Class
		if class == "" {
			class = id
		}
		o := definition.NewObject(class, args...)
		o.NamedArgs, o.Properties, o.Calls = named, props, calls
		return o, nil
	case yaml.ScalarNode:
		if len(props) > 0 {
			return nil, fmt.Errorf("a function factory cannot set properties")
		}
		f := definition.NewFactoryCall(s.Factory.Value, args...)
		f.Class, f.NamedArgs, f.Calls = s.Class, named, calls
		return f, nil
	case yaml.SequenceNode:
		var parts []string
		if err := s.Factory.Decode(&parts); err != nil || len(parts) != 2 {
			return nil, fmt.Errorf("factory must be [target, method] or a function name")
		}
		var f *definition.Factory
		if target, ok := strings.CutPrefix(parts[0], "@"); ok {
			f = definition.NewFactory(definition.Ref(target), parts[1], args...)
		} else {
			f = definition.NewStaticFactory(parts[0], parts[1], args...)
		}
		f.Class, f.NamedArgs, f.Properties, f.Calls = s.Class, named, props, calls
		return f, nil
	}
	return nil, fmt.Errorf("factory must be [target, method] or a function name")
}

// arguments splits a list into positional arguments and a mapping into
// named ones.
func arguments(n *yaml.Node) ([]any, map[string]any, error) {
	switch n.Kind {
	case 0:
		return nil, nil, nil
	case yaml.SequenceNode:
		v, err := value(n)
		if err != nil {
			return nil, nil, err
		}
		return v.([]any), nil, nil
	case yaml.MappingNode:
		named := map[string]any{}
		err := mapping(n, func(key string, v any) { named[key] = v })
		return nil, named, err
	}
	return nil, nil, fmt.Errorf("must be a list or a mapping")
}

func methodCalls(nodes []yaml.Node) ([]definition.MethodCall, error) {
	var out []definition.MethodCall
	for i := range nodes {
		n := &nodes[i]
		var method string
		var argsNode *yaml.Node
		switch n.Kind {
		case yaml.SequenceNode:
			if len(n.Content) == 0 || len(n.Content) > 2 {
				return nil, fmt.Errorf("call %d must be [method] or [method, [args]]", i)
			}
			method = n.Content[0].Value
			if len(n.Content) == 2 {
				argsNode = n.Content[1]
			}
		case yaml.MappingNode:
			for j := 0; j+1 < len(n.Content); j += 2 {
				switch n.Content[j].Value {
				case "method":
					method = n.Content[j+1].Value
				case "arguments":
					argsNode = n.Content[j+1]
				}
			}
		default:
			return nil, fmt.Errorf("call %d must be a list or a mapping", i)
		}
		if method == "" {
			return nil, fmt.Errorf("call %d has no method", i)
		}
		var args []any
		if argsNode != nil {
			v, err := value(argsNode)
			if err != nil {
				return nil, fmt.Errorf("call %s: %w", method, err)
			}
			list, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("call %s: arguments must be a list", method)
			}
			args = list
		}
		out = append(out, definition.MethodCall{Method: method, Args: args})
	}
	return out, nil
}

func parseTag(n *yaml.Node) (definition.Tag, error) {
	if n.Kind == yaml.ScalarNode {
		return definition.Tag{Name: n.Value}, nil
	}
	t := definition.Tag{}
	err := mapping(n, func(key string, v any) {
		if key == "name" {
			t.Name, _ = v.(string)
			return
		}
		if t.Attributes == nil {
			t.Attributes = map[string]any{}
		}
		t.Attributes[key] = v
	})
	if err == nil && t.Name == "" {
		err = fmt.Errorf("tag without a name")
	}
	return t, err
}

// mapping calls fn for every pair of the mapping n, in file order.
func mapping(n *yaml.Node, fn func(key string, v any)) error {
	if n.Kind == 0 {
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("must be a mapping")
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		v, err := value(n.Content[i+1])
		if err != nil {
			return fmt.Errorf("%s: %w", n.Content[i].Value, err)
		}
		fn(n.Content[i].Value, v)
	}
	return nil
}

// value converts a YAML node into a definition value: "@id" and "@?id"
// become references, "@@" escapes a leading "@".
func value(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return value(n.Alias)
	case yaml.SequenceNode:
		out := make([]any, len(n.Content))
		for i, c := range n.Content {
			v, err := value(c)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		err := mapping(n, func(key string, v any) { out[key] = v })
		return out, err
	case yaml.ScalarNode:
		if n.Tag == TaggedIteratorTag {
			return definition.TaggedIterator{Tag: n.Value}, nil
		}
		if n.Tag == "!!str" {
			switch s := n.Value; {
			case strings.HasPrefix(s, "@@"):
				return s[1:], nil
			case strings.HasPrefix(s, "@?"):
				return definition.OptionalRef(s[2:]), nil
			case strings.HasPrefix(s, "@") && len(s) > 1:
				return definition.Ref(s[1:]), nil
			}
			return n.Value, nil
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, fmt.Errorf("unsupported YAML node at line %d", n.Line)
}

func pick(own, fallback *bool, def bool) bool {
	if own != nil {
		return *own
	}
	if fallback != nil {
		return *fallback
	}
	return def
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
