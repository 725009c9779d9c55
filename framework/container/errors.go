package container

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/km-arc/go-container/internal/suggest"
)

// ErrNotInjected is wrapped by a ServiceError when a synthetic service is
// requested before Set provided its value.
var ErrNotInjected = errors.New("synthetic service has not been injected")

// NotFoundError is returned by Get for an id the container has never known.
type NotFoundError struct {
	ID           string
	Alternatives []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("container: service %q not found%s", e.ID, suggest.Hint(e.Alternatives))
}

// RemovedServiceError is returned by Get for an id that existed at build time
// but was removed, inlined or kept private during compilation.
type RemovedServiceError struct {
	ID     string
	Reason string
}

func (e *RemovedServiceError) Error() string {
	switch e.Reason {
	case "private":
		return fmt.Sprintf("container: service %q is private; inject it or make it public", e.ID)
	case "inlined":
		return fmt.Sprintf("container: service %q was inlined into its only consumer during compilation", e.ID)
	}
	return fmt.Sprintf("container: service %q was removed during compilation; make it public to fetch it", e.ID)
}

// ParameterNotFoundError is returned for an unknown parameter key.
type ParameterNotFoundError struct {
	Key          string
	Alternatives []string
}

func (e *ParameterNotFoundError) Error() string {
	return fmt.Sprintf("container: parameter %q not found%s", e.Key, suggest.Hint(e.Alternatives))
}

// CircularReferenceError is returned when a service is requested while it is
// still being built, which only happens through a lazy edge forced during
// construction.
type CircularReferenceError struct {
	Path []string
}

func (e *CircularReferenceError) Error() string {
	return "container: circular reference while building: " + strings.Join(e.Path, " -> ")
}

// ServiceError wraps a failure raised while building ID.
type ServiceError struct {
	ID  string
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("container: building %q: %v", e.ID, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func errType[T any](got any) error {
	return fmt.Errorf("expected %s, got %T", reflect.TypeFor[T](), got)
}
