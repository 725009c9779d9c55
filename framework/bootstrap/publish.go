package bootstrap

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// writeAtomic writes data to a temporary file next to path, syncs it and
// renames it over path. Readers see the old content or the new one, never
// a partial file.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ioErr("mkdir", dir, err)
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return ioErr("create", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return ioErr("write", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return ioErr("sync", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return ioErr("close", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return ioErr("rename", path, err)
	}
	return nil
}
