package bootstrap

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"time"
)

// meta is the sidecar written next to a container in debug mode. It lists
// the files the definitions were loaded from so that edits invalidate the
// cache.
type meta struct {
	Class     string     `json:"class"`
	Signature string     `json:"signature"`
	BuiltAt   time.Time  `json:"built_at"`
	Resources []resource `json:"resources,omitempty"`
}

type resource struct {
	Path    string `json:"path"`
	ModTime int64  `json:"mtime"`
	// Missing records a resource that did not exist at build time.
	Missing bool `json:"missing,omitempty"`
}

func newMeta(class, signature string, paths []string) meta {
	m := meta{Class: class, Signature: signature, BuiltAt: time.Now().UTC()}
	for _, p := range paths {
		r := resource{Path: p}
		if fi, err := os.Stat(p); err == nil {
			r.ModTime = fi.ModTime().UnixNano()
		} else {
			r.Missing = true
		}
		m.Resources = append(m.Resources, r)
	}
	return m
}

func readMeta(path string) (meta, error) {
	var m meta
	data, err := os.ReadFile(path)
	if err != nil {
		return m, ioErr("read", path, err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, ioErr("decode", path, err)
	}
	return m, nil
}

func writeMeta(path string, m meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return ioErr("encode", path, err)
	}
	return writeAtomic(path, data, 0o644)
}

// stale returns the first resource that changed since the build, or "".
func (m meta) stale() string {
	for _, r := range m.Resources {
		fi, err := os.Stat(r.Path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			if !r.Missing {
				return r.Path
			}
		case err != nil:
			return r.Path
		case r.Missing || fi.ModTime().UnixNano() != r.ModTime:
			return r.Path
		}
	}
	return ""
}
