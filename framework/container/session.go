package container

import (
	"bytes"
	"errors"
	"runtime"
	"strconv"
	"sync/atomic"
)

// Session is one resolution pass started at an entry point. Generated
// accessors receive it and route every construction step through it.
//
// A Session belongs to the goroutine that started it. Entry points reached
// again on that goroutine while it runs (a nested Get, forcing a Deferred,
// iterating a Sequence) join it instead of starting a new one, so
// re-entrant construction is reported as a CircularReferenceError.
type Session struct {
	c   *Container
	gid uint64

	// ids currently being built, in order
	loading map[string]bool
	stack   []string

	// id of the claim s is waiting for, guarded by c.mu
	waiting string

	done atomic.Bool
}

// claim marks a shared service as being built by one session. done is
// closed when the session shares the instance or gives up.
type claim struct {
	owner *Session
	done  chan struct{}
}

// ── Memo ──────────────────────────────────────────────────────────────────────

// Claim returns the memoized instance of the shared service id. When there
// is none yet, s becomes the only session allowed to build it until Share or
// Leave. A session reaching a service another goroutine is building waits
// for it, unless waiting would close a cycle.
//
//	if v, ok, err := s.Claim("mailer"); err != nil || ok {
//	    return v, err
//	}
func (s *Session) Claim(id string) (any, bool, error) {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if v, ok := c.instances[id]; ok {
			return v, true, nil
		}
		cl, held := c.claims[id]
		if !held {
			c.claims[id] = &claim{owner: s, done: make(chan struct{})}
			return nil, false, nil
		}
		if cl.owner == s {
			// re-entrance, reported by Enter
			return nil, false, nil
		}
		if path := c.waitCycle(s, id); path != nil {
			return nil, false, &CircularReferenceError{Path: path}
		}
		s.waiting = id
		c.mu.Unlock()
		<-cl.done
		c.mu.Lock()
		s.waiting = ""
	}
}

// Share memoizes v as the instance of id and wakes the sessions waiting
// for it.
func (s *Session) Share(id string, v any) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.instances[id] = v
	s.c.release(s, id)
}

// waitCycle returns the cycle s would close by waiting for id, or nil.
// Called with c.mu held.
func (c *Container) waitCycle(s *Session, id string) []string {
	path := []string{id}
	owner := c.claims[id].owner
	for owner != s {
		next := owner.waiting
		cl, ok := c.claims[next]
		if next == "" || !ok || len(path) > len(c.claims) {
			return nil
		}
		path = append(path, next)
		owner = cl.owner
	}
	return append([]string{path[len(path)-1]}, path...)
}

// release drops the claim s holds on id. Called with c.mu held.
func (c *Container) release(s *Session, id string) {
	if cl, ok := c.claims[id]; ok && cl.owner == s {
		delete(c.claims, id)
		close(cl.done)
	}
}

// ── Re-entrance ───────────────────────────────────────────────────────────────

// Enter marks id as being built and fails if it already is.
func (s *Session) Enter(id string) error {
	if s.loading[id] {
		path := append([]string{}, s.stack...)
		for i, p := range path {
			if p == id {
				path = path[i:]
				break
			}
		}
		return &CircularReferenceError{Path: append(path, id)}
	}
	s.loading[id] = true
	s.stack = append(s.stack, id)
	return nil
}

// Leave marks id as built. A claim on id that was not shared is given up.
func (s *Session) Leave(id string) {
	delete(s.loading, id)
	if n := len(s.stack); n > 0 && s.stack[n-1] == id {
		s.stack = s.stack[:n-1]
	}
	s.c.mu.Lock()
	s.c.release(s, id)
	s.c.mu.Unlock()
}

// Fail wraps err as a build failure of id. Errors that already name a
// service pass through unchanged.
func (s *Session) Fail(id string, err error) error {
	var se *ServiceError
	var ce *CircularReferenceError
	if errors.As(err, &se) || errors.As(err, &ce) {
		return err
	}
	return &ServiceError{ID: id, Err: err}
}

// ── Construction ──────────────────────────────────────────────────────────────

// New constructs the catalog class with args.
func (s *Session) New(class string, args ...any) (any, error) {
	return s.c.cat.Construct(class, args)
}

// Func invokes the catalog function name with args.
func (s *Session) Func(name string, args ...any) (any, error) {
	return s.c.cat.Invoke(name, args)
}

// Invoke calls method on target and returns its result.
func (s *Session) Invoke(target any, method string, args ...any) (any, error) {
	return s.c.cat.CallMethod(target, method, args)
}

// Call calls method on target for its side effects.
func (s *Session) Call(target any, method string, args ...any) error {
	_, err := s.c.cat.CallMethod(target, method, args)
	return err
}

// Set assigns v to the exported field of target.
func (s *Session) Set(target any, field string, v any) error {
	return s.c.cat.SetField(target, field, v)
}

// ── References ────────────────────────────────────────────────────────────────

// Param returns a resolved parameter.
func (s *Session) Param(key string) (any, error) {
	return s.c.Parameter(key)
}

// Service runs the accessor called method.
func (s *Session) Service(method string) (any, error) {
	return s.c.program.Resolve(s, method)
}

// Synthetic returns the injected value of id. The container's own
// lookup is always available as "service_container".
func (s *Session) Synthetic(id string) (any, error) {
	if id == ServiceContainerID {
		return s.Lookup(), nil
	}
	return s.c.syntheticValue(id)
}

// Unresolvable is emitted for accessor names the generated dispatch does
// not know.
func (s *Session) Unresolvable(method string) (any, error) {
	return nil, &NotFoundError{ID: method}
}

// Lookup returns the container. Provider factories receive it; a Get made
// while s runs joins s.
func (s *Session) Lookup() Lookup { return s.c }

// Lazy returns a wrapper that runs the accessor method on first use.
func (s *Session) Lazy(id, method string) *Deferred {
	return &Deferred{c: s.c, id: id, method: method}
}

// Sequence returns a re-iterable sequence over the accessors methods.
func (s *Session) Sequence(methods ...string) *Sequence {
	return &Sequence{c: s.c, methods: methods, values: make([]any, len(methods)), built: make([]bool, len(methods))}
}

// ── Entry points ──────────────────────────────────────────────────────────────

// run calls fn inside the session running on the calling goroutine, or
// inside a new one that ends when fn returns.
func (c *Container) run(fn func(s *Session) (any, error)) (any, error) {
	gid := goroutineID()
	c.mu.Lock()
	s, ok := c.running[gid]
	if !ok {
		s = &Session{c: c, gid: gid, loading: make(map[string]bool)}
		c.running[gid] = s
	}
	c.mu.Unlock()
	if !ok {
		defer c.finish(s)
	}
	return fn(s)
}

// finish ends s and gives up every claim it still holds.
func (c *Container) finish(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.done.Store(true)
	delete(c.running, s.gid)
	for id, cl := range c.claims {
		if cl.owner == s {
			c.release(s, id)
		}
	}
}

// goroutineID reads the id of the calling goroutine from the header of its
// stack trace: "goroutine 18 [running]:".
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
