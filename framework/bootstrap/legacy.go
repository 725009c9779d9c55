package bootstrap

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const legacySuffix = ".legacy"

// retire marks the split directory of a replaced container as legacy. It is
// not deleted right away because processes that loaded the old container
// may still evaluate service files from it. The marker records the class
// that replaced it.
func (m *Manager) retire(prevClass, newClass string) {
	if prevClass == "" || prevClass == newClass {
		return
	}
	dir := filepath.Join(m.envDir(), prevClass)
	if _, err := os.Stat(dir); err != nil {
		return
	}
	marker := dir + legacySuffix
	if err := os.WriteFile(marker, []byte(newClass), 0o644); err != nil {
		m.log.Warn("bootstrap: mark legacy container", zap.String("dir", dir), zap.Error(err))
		return
	}
	m.mu.Lock()
	m.retired = append(m.retired, prevClass)
	m.mu.Unlock()
	m.log.Debug("bootstrap: container retired", zap.String("class", prevClass), zap.String("by", newClass))
}

// sweep deletes legacy directories replaced before the active container
// was published. Directories retired by the active publish survive until
// the next one.
func (m *Manager) sweep(active string) {
	entries, err := os.ReadDir(m.envDir())
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, legacySuffix) {
			continue
		}
		marker := filepath.Join(m.envDir(), name)
		by, err := os.ReadFile(marker)
		if err != nil || string(by) == active {
			continue
		}
		class := strings.TrimSuffix(name, legacySuffix)
		dir := filepath.Join(m.envDir(), class)
		if err := os.RemoveAll(dir); err != nil {
			m.log.Warn("bootstrap: delete legacy container", zap.String("dir", dir), zap.Error(err))
			continue
		}
		_ = os.Remove(marker)
		m.forget(class)
		m.log.Debug("bootstrap: legacy container deleted", zap.String("class", class))
	}
}

func (m *Manager) forget(class string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.retired {
		if c == class {
			m.retired = append(m.retired[:i], m.retired[i+1:]...)
			return
		}
	}
}

// Retired returns the classes this manager marked legacy and has not yet
// deleted.
func (m *Manager) Retired() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.retired...)
}

// Legacy lists the retired classes still on disk, sorted.
func (m *Manager) Legacy() ([]string, error) {
	entries, err := os.ReadDir(m.envDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ioErr("read", m.envDir(), err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), legacySuffix) {
			out = append(out, strings.TrimSuffix(e.Name(), legacySuffix))
		}
	}
	return out, nil
}

// Sweep deletes retired directories. Unless all is set, the directory
// retired by the latest publish is kept for processes still running it.
func (m *Manager) Sweep(all bool) {
	active := ""
	if !all {
		active = m.Active()
	}
	m.sweep(active)
}

// Active returns the class of the published container, or "" when nothing
// has been published.
func (m *Manager) Active() string {
	md, err := readMeta(m.metaPath())
	if err != nil {
		return ""
	}
	return md.Class
}
