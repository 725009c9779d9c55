package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/km-arc/go-container/framework/container"
	"github.com/km-arc/go-container/framework/dumper"
)

// Loader turns a published container file into a Program.
type Loader interface {
	Load(ctx context.Context, path string) (*container.Program, error)
}

// exports are the runtime symbols generated code may reference.
var exports = interp.Exports{
	dumper.ImportPath + "/container": {
		"Session":            reflect.ValueOf((*container.Session)(nil)),
		"Program":            reflect.ValueOf((*container.Program)(nil)),
		"Deferred":           reflect.ValueOf((*container.Deferred)(nil)),
		"Sequence":           reflect.ValueOf((*container.Sequence)(nil)),
		"Lookup":             reflect.ValueOf((*container.Lookup)(nil)),
		"UseDefault":         reflect.ValueOf(&container.UseDefault).Elem(),
		"ServiceContainerID": reflect.ValueOf(container.ServiceContainerID),
		"KernelID":           reflect.ValueOf(container.KernelID),
		"EnvironmentID":      reflect.ValueOf(container.EnvironmentID),
	},
}

// YaegiLoader interprets the generated source with yaegi. Split service
// files are evaluated into the same interpreter the first time their
// accessor runs.
type YaegiLoader struct{}

// Load evaluates the container file at path.
func (YaegiLoader) Load(ctx context.Context, path string) (*container.Program, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, ioErr("read", path, err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("bootstrap: %s is empty", path)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("bootstrap: interpreter symbols: %w", err)
	}
	if err := i.Use(exports); err != nil {
		return nil, fmt.Errorf("bootstrap: interpreter symbols: %w", err)
	}
	if _, err := i.EvalPath(path); err != nil {
		return nil, fmt.Errorf("bootstrap: interpret %s: %w", path, err)
	}

	r := &interpreted{i: i, path: path}
	p := &container.Program{}
	if err := r.into(&p.Class, "string(Class)"); err != nil {
		return nil, err
	}
	if err := r.into(&p.Signature, "string(Signature)"); err != nil {
		return nil, err
	}
	if err := r.into(&p.Split, "bool(Split)"); err != nil {
		return nil, err
	}
	if err := r.into(&p.MethodMap, "MethodMap()"); err != nil {
		return nil, err
	}
	if err := r.into(&p.Aliases, "Aliases()"); err != nil {
		return nil, err
	}
	if err := r.into(&p.Parameters, "Parameters()"); err != nil {
		return nil, err
	}
	if err := r.into(&p.Removed, "Removed()"); err != nil {
		return nil, err
	}
	if err := r.into(&p.Synthetic, "Synthetic()"); err != nil {
		return nil, err
	}
	if err := r.into(&p.Preload, "Preload()"); err != nil {
		return nil, err
	}

	if p.Split {
		var classDir string
		if err := r.into(&classDir, "string(ClassDir)"); err != nil {
			return nil, err
		}
		r.dir = filepath.Dir(path)
		r.classDir = classDir
		r.accessors = make(map[string]reflect.Value)
		p.Resolve = r.resolveSplit
	} else {
		fn, err := r.eval("Resolve")
		if err != nil {
			return nil, err
		}
		p.Resolve = func(s *container.Session, method string) (any, error) {
			return results(fn.Call([]reflect.Value{reflect.ValueOf(s), reflect.ValueOf(method)}))
		}
	}
	return p, nil
}

type interpreted struct {
	i    *interp.Interpreter
	path string

	// split mode
	mu        sync.Mutex
	dir       string
	classDir  string
	accessors map[string]reflect.Value
}

func (r *interpreted) eval(expr string) (reflect.Value, error) {
	v, err := r.i.Eval(expr)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("bootstrap: %s: %s: %w", r.path, expr, err)
	}
	return v, nil
}

// into evaluates expr and stores the result in *dst.
func (r *interpreted) into(dst any, expr string) error {
	v, err := r.eval(expr)
	if err != nil {
		return err
	}
	out := reflect.ValueOf(dst).Elem()
	if !v.IsValid() || !v.Type().AssignableTo(out.Type()) {
		return fmt.Errorf("bootstrap: %s: %s does not yield %s", r.path, expr, out.Type())
	}
	out.Set(v)
	return nil
}

func (r *interpreted) resolveSplit(s *container.Session, method string) (any, error) {
	fn, err := r.accessor(method)
	if err != nil {
		return nil, err
	}
	if !fn.IsValid() {
		return s.Unresolvable(method)
	}
	return results(fn.Call([]reflect.Value{reflect.ValueOf(s)}))
}

// accessor evaluates the service file of method on first use. A zero value
// means the file does not exist.
func (r *interpreted) accessor(method string) (reflect.Value, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn, ok := r.accessors[method]; ok {
		return fn, nil
	}
	file := filepath.Join(r.dir, filepath.FromSlash(dumper.ServiceFile(r.classDir, method)))
	if _, err := os.Stat(file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.accessors[method] = reflect.Value{}
			return reflect.Value{}, nil
		}
		return reflect.Value{}, ioErr("stat", file, err)
	}
	if _, err := r.i.EvalPath(file); err != nil {
		return reflect.Value{}, fmt.Errorf("bootstrap: interpret %s: %w", file, err)
	}
	fn, err := r.eval(method)
	if err != nil {
		return reflect.Value{}, err
	}
	r.accessors[method] = fn
	return fn, nil
}

// results unpacks an (any, error) call.
func results(out []reflect.Value) (any, error) {
	if len(out) != 2 {
		return nil, fmt.Errorf("bootstrap: accessor returned %d values", len(out))
	}
	var err error
	if e := out[1]; e.IsValid() && !e.IsNil() {
		err, _ = e.Interface().(error)
	}
	var v any
	if out[0].IsValid() {
		v = out[0].Interface()
	}
	return v, err
}
