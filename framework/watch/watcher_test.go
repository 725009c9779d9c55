package watch_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-container/framework/watch"
)

func changes(t *testing.T, w *watch.Watcher) <-chan []string {
	t.Helper()
	ch := make(chan []string, 8)
	w.OnChange(func(changed []string) { ch <- changed })
	return ch
}

func TestWatcherReportsChangedFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "services.yaml")
	require.NoError(t, os.WriteFile(file, []byte("services: {}\n"), 0o644))
	other := filepath.Join(dir, "notes.txt")

	w, err := watch.New([]string{file}, watch.WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	defer w.Stop()
	ch := changes(t, w)

	require.NoError(t, os.WriteFile(other, []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(file, []byte("services: { a: ~ }\n"), 0o644))

	select {
	case changed := <-ch:
		assert.Equal(t, []string{file}, changed)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
}

func TestWatcherDirectoryFiltersByExtension(t *testing.T) {
	dir := t.TempDir()
	w, err := watch.New([]string{dir, filepath.Join(dir, "missing.yaml")}, watch.WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	defer w.Stop()
	ch := changes(t, w)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("x"), 0o644))
	created := filepath.Join(dir, "mail.yml")
	require.NoError(t, os.WriteFile(created, []byte("services: {}\n"), 0o644))

	select {
	case changed := <-ch:
		assert.Equal(t, []string{created}, changed)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
}

func TestWatcherStopDropsPendingChanges(t *testing.T) {
	dir := t.TempDir()
	w, err := watch.New([]string{dir}, watch.WithDebounce(200*time.Millisecond))
	require.NoError(t, err)
	ch := changes(t, w)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("{}"), 0o644))
	time.Sleep(50 * time.Millisecond)
	w.Stop()
	w.Stop()

	select {
	case changed := <-ch:
		t.Fatalf("unexpected change %v", changed)
	case <-time.After(400 * time.Millisecond):
	}
}
