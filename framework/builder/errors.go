package builder

import (
	"fmt"
	"strings"

	"github.com/km-arc/go-container/internal/suggest"
)

// ConfigurationError reports a malformed recipe.
type ConfigurationError struct {
	ID     string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "builder: "
	if e.ID != "" {
		msg += fmt.Sprintf("service %q: ", e.ID)
	}
	msg += e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Configf returns a ConfigurationError for id.
func Configf(id, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{ID: id, Reason: fmt.Sprintf(format, args...)}
}

// ResolutionError reports a constructor parameter autowiring could not fill.
type ResolutionError struct {
	ID         string
	Param      string
	Position   int
	Type       string
	Candidates []string
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("builder: cannot resolve argument $%s (position %d, %s) of service %q", e.Param, e.Position, e.Type, e.ID)
	switch len(e.Candidates) {
	case 0:
		return msg + ": no service provides it"
	default:
		return msg + ": ambiguous between " + strings.Join(quote(e.Candidates), ", ")
	}
}

// CircularDependencyError reports a cycle of non-lazy services.
type CircularDependencyError struct {
	Path []string
}

func (e *CircularDependencyError) Error() string {
	return "builder: circular dependency: " + strings.Join(e.Path, " -> ")
}

// FrozenError is returned by every mutation after Compile.
type FrozenError struct {
	Op string
}

func (e *FrozenError) Error() string {
	return fmt.Sprintf("builder: %s: already compiled", e.Op)
}

// ParameterNotFoundError is returned for an unknown parameter key.
type ParameterNotFoundError struct {
	Key string
	// SourceID is the service whose recipe referenced the key, if any.
	SourceID     string
	Alternatives []string
}

func (e *ParameterNotFoundError) Error() string {
	msg := fmt.Sprintf("builder: parameter %q not found", e.Key)
	if e.SourceID != "" {
		msg += fmt.Sprintf(" (referenced by %q)", e.SourceID)
	}
	return msg + suggest.Hint(e.Alternatives)
}

// ParameterCircularReferenceError reports placeholders that refer back to
// themselves.
type ParameterCircularReferenceError struct {
	Path []string
}

func (e *ParameterCircularReferenceError) Error() string {
	return "builder: circular parameter reference: " + strings.Join(e.Path, " -> ")
}

func quote(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = fmt.Sprintf("%q", id)
	}
	return out
}
