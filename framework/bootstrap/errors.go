package bootstrap

import "fmt"

// CacheIOError reports a failed read or write of the container cache.
type CacheIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *CacheIOError) Error() string {
	return fmt.Sprintf("bootstrap: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CacheIOError) Unwrap() error { return e.Err }

func ioErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &CacheIOError{Op: op, Path: path, Err: err}
}
