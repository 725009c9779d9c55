package catalog

import (
	"fmt"

	"github.com/km-arc/go-container/internal/suggest"
)

// ClassNotFoundError is returned when a type or function name is not registered.
type ClassNotFoundError struct {
	Name string
	// Kind is "type" or "function".
	Kind         string
	Alternatives []string
}

func (e *ClassNotFoundError) Error() string {
	return fmt.Sprintf("catalog: %s %q is not registered%s", e.Kind, e.Name, suggest.Hint(e.Alternatives))
}

// BindingResolutionError is returned when a method or property cannot be
// bound on a known type.
type BindingResolutionError struct {
	Class  string
	Member string
	// Kind is "method" or "property".
	Kind   string
	Reason string
}

func (e *BindingResolutionError) Error() string {
	return fmt.Sprintf("catalog: cannot bind %s %q on %s: %s", e.Kind, e.Member, e.Class, e.Reason)
}
