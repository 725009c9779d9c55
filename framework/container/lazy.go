package container

import (
	"iter"
	"sync"
)

// ── Deferred ──────────────────────────────────────────────────────────────────

// Deferred stands in for a lazy service. The real accessor runs on the first
// call to Get; later calls return the same value.
//
//	type Newsletter struct{ mailer *container.Deferred }
//
//	func (n *Newsletter) Send() error {
//	    m, err := container.Force[*Mailer](n.mailer)
//	    ...
//	}
type Deferred struct {
	c      *Container
	id     string
	method string

	mu    sync.Mutex
	value any
	ready bool
}

// ID is the id of the service behind the wrapper.
func (d *Deferred) ID() string { return d.id }

// Initialized reports whether Get has already produced the value.
func (d *Deferred) Initialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// Get builds the service on first use and returns it.
func (d *Deferred) Get() (any, error) {
	d.mu.Lock()
	if d.ready {
		v := d.value
		d.mu.Unlock()
		return v, nil
	}
	d.mu.Unlock()

	v, err := d.c.run(func(s *Session) (any, error) { return s.Service(d.method) })
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready {
		d.value, d.ready = v, true
	}
	return d.value, nil
}

// Force resolves d and asserts its type.
func Force[T any](d *Deferred) (T, error) {
	var zero T
	v, err := d.Get()
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, &ServiceError{ID: d.id, Err: errType[T](v)}
	}
	return typed, nil
}

// ── Sequence ──────────────────────────────────────────────────────────────────

// Sequence is the lazy, countable, re-iterable collection of tagged
// services. Each element is built the first time it is reached; later
// traversals replay the recorded values, so construction side effects never
// repeat.
type Sequence struct {
	c       *Container
	methods []string

	mu     sync.Mutex
	values []any
	built  []bool
}

// Len is the number of services in the sequence. It builds nothing.
func (q *Sequence) Len() int { return len(q.methods) }

// At returns the i-th service, building it if needed.
func (q *Sequence) At(i int) (any, error) {
	if v, ok := q.cached(i); ok {
		return v, nil
	}
	v, err := q.c.run(func(s *Session) (any, error) { return s.Service(q.methods[i]) })
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.built[i] {
		q.values[i], q.built[i] = v, true
	}
	return q.values[i], nil
}

// All yields the services in tag registration order. Iteration stops at the
// first build error, which is yielded with a nil value.
//
//	for h, err := range handlers.All() {
//	    if err != nil { return err }
//	    h.(Handler).Handle(evt)
//	}
func (q *Sequence) All() iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for i := range q.methods {
			v, err := q.At(i)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Each calls fn for every service in order and stops at the first error.
func (q *Sequence) Each(fn func(i int, v any) error) error {
	for i := range q.methods {
		v, err := q.At(i)
		if err != nil {
			return err
		}
		if err := fn(i, v); err != nil {
			return err
		}
	}
	return nil
}

// Slice builds every service and returns them in order.
func (q *Sequence) Slice() ([]any, error) {
	out := make([]any, 0, len(q.methods))
	err := q.Each(func(_ int, v any) error {
		out = append(out, v)
		return nil
	})
	return out, err
}

func (q *Sequence) cached(i int) (any, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.values[i], q.built[i]
}

// Collect resolves every element of q and asserts its type.
func Collect[T any](q *Sequence) ([]T, error) {
	out := make([]T, 0, q.Len())
	for v, err := range q.All() {
		if err != nil {
			return nil, err
		}
		typed, ok := v.(T)
		if !ok {
			return nil, errType[T](v)
		}
		out = append(out, typed)
	}
	return out, nil
}
