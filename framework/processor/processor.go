// Package processor provides the parameter processors used in
// "%key|name%" placeholders: environment lookups, file reads, decoders and
// scalar casts.
//
//	b.AddProcessor(processor.New(processor.WithDotenv(".env")))
//	b.SetParameter("port", "%APP_PORT|env|int%")
package processor

import (
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Names lists every processor name New supports.
var Names = []string{"env", "file", "json", "yaml", "base64", "int", "float", "bool", "trim", "csv"}

// EnvNotFoundError is returned by the env processor for an unset variable.
type EnvNotFoundError struct {
	Name string
}

func (e *EnvNotFoundError) Error() string {
	return fmt.Sprintf("environment variable %q is not defined", e.Name)
}

// Processor implements builder.ParameterProcessor for Names.
type Processor struct {
	dotenv map[string]string
	root   string
	lookup func(string) (string, bool)
}

// Option configures a Processor.
type Option func(*Processor) error

// WithDotenv reads variables from files. The process environment still
// wins over them.
func WithDotenv(files ...string) Option {
	return func(p *Processor) error {
		for _, f := range files {
			if _, err := os.Stat(f); err != nil {
				continue
			}
			vars, err := godotenv.Read(f)
			if err != nil {
				return fmt.Errorf("processor: read %s: %w", f, err)
			}
			for k, v := range vars {
				if _, ok := p.dotenv[k]; !ok {
					p.dotenv[k] = v
				}
			}
		}
		return nil
	}
}

// WithRoot resolves relative paths given to the file processor against dir.
func WithRoot(dir string) Option {
	return func(p *Processor) error {
		p.root = dir
		return nil
	}
}

// WithLookup replaces the process environment lookup.
func WithLookup(fn func(string) (string, bool)) Option {
	return func(p *Processor) error {
		p.lookup = fn
		return nil
	}
}

// New returns a Processor.
func New(opts ...Option) (*Processor, error) {
	p := &Processor{dotenv: map[string]string{}, lookup: os.LookupEnv}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Supports reports whether name is one of Names.
func (p *Processor) Supports(name string) bool { return slices.Contains(Names, name) }

// Process applies the processor called name to raw.
func (p *Processor) Process(name string, raw any) (any, error) {
	switch name {
	case "int":
		return toInt(raw)
	case "float":
		return toFloat(raw)
	case "bool":
		return toBool(raw)
	}

	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%s expects a string, got %T", name, raw)
	}
	switch name {
	case "env":
		return p.env(s)
	case "file":
		path := s
		if !filepath.IsAbs(path) && p.root != "" {
			path = filepath.Join(p.root, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	case "json":
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, err
		}
		return v, nil
	case "yaml":
		var v any
		if err := yaml.Unmarshal([]byte(s), &v); err != nil {
			return nil, err
		}
		return v, nil
	case "base64":
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	case "trim":
		return strings.TrimSpace(s), nil
	case "csv":
		if s == "" {
			return []any{}, nil
		}
		fields, err := csv.NewReader(strings.NewReader(s)).Read()
		if err != nil {
			return nil, err
		}
		out := make([]any, len(fields))
		for i, f := range fields {
			out[i] = f
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported processor %q", name)
}

func (p *Processor) env(name string) (string, error) {
	if v, ok := p.lookup(name); ok {
		return v, nil
	}
	if v, ok := p.dotenv[name]; ok {
		return v, nil
	}
	return "", &EnvNotFoundError{Name: name}
}

// ── casts ─────────────────────────────────────────────────────────────────────

func toInt(raw any) (any, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case float64:
		if v != float64(int(v)) {
			return nil, fmt.Errorf("%v is not an integer", v)
		}
		return int(v), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(v))
	}
	return nil, fmt.Errorf("cannot convert %T to int", raw)
}

func toFloat(raw any) (any, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	}
	return nil, fmt.Errorf("cannot convert %T to float", raw)
}

func toBool(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(v))
	}
	return nil, fmt.Errorf("cannot convert %T to bool", raw)
}
