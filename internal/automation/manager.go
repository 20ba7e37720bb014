//go:build !no_automation

package automation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

const (
	scriptExt  = ".lua"
	metaPrefix = "--@meta " // first line of a script file, followed by JSON metadata
	maxIDLen   = 48
)

// ErrInvalidID is returned for script IDs that are not a plain file stem.
var ErrInvalidID = errors.New("invalid script id")

var (
	idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	slugStrip = regexp.MustCompile(`[^a-z0-9]+`)
)

func checkID(id string) error {
	if len(id) > maxIDLen || !idPattern.MatchString(id) {
		return fmt.Errorf("%q: %w", id, ErrInvalidID)
	}
	return nil
}

// Manager stores automation scripts as <id>.lua files in one directory.
type Manager struct {
	dir    string
	logger *slog.Logger

	mu sync.RWMutex
}

// NewManager creates dir if needed and returns a manager rooted there.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scripts dir: %w", err)
	}
	return &Manager{dir: dir, logger: slog.Default().With("component", "automation")}, nil
}

func (m *Manager) path(id string) string {
	return filepath.Join(m.dir, id+scriptExt)
}

// List returns every readable script ordered by ID. Files that fail to
// parse are logged and skipped.
func (m *Manager) List() ([]*Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read scripts dir: %w", err)
	}
	scripts := make([]*Script, 0, len(entries))
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), scriptExt)
		if e.IsDir() || !ok || checkID(id) != nil {
			continue
		}
		s, err := m.load(id)
		if err != nil {
			m.logger.Warn("skip script", "id", id, "err", err)
			continue
		}
		scripts = append(scripts, s)
	}
	return scripts, nil
}

// Get loads one script. A missing script yields an error wrapping
// fs.ErrNotExist.
func (m *Manager) Get(id string) (*Script, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.load(id)
}

// Save writes s, assigning an ID derived from its name when it has none.
// The file is replaced atomically.
func (m *Manager) Save(s *Script) (*Script, error) {
	if s.ID != "" {
		if err := checkID(s.ID); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = m.freeID(slugify(s.Meta.Name))
	}
	s.FilePath = m.path(s.ID)

	tmp, err := os.CreateTemp(m.dir, ".script-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(encodeScript(s)); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write script: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.FilePath); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}
	return s, nil
}

// freeID returns base, or base_N for the first N not yet taken.
func (m *Manager) freeID(base string) string {
	if base == "" {
		base = "script"
	}
	id := base
	for n := 2; ; n++ {
		if _, err := os.Stat(m.path(id)); errors.Is(err, fs.ErrNotExist) {
			return id
		}
		id = base + "_" + strconv.Itoa(n)
	}
}

// Delete removes a script.
func (m *Manager) Delete(id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.Remove(m.path(id)); err != nil {
		return fmt.Errorf("delete script %s: %w", id, err)
	}
	return nil
}

func (m *Manager) load(id string) (*Script, error) {
	path := m.path(id)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", id, err)
	}
	s, err := decodeScript(string(data))
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", id, err)
	}
	s.ID = id
	s.FilePath = path
	return s, nil
}

// decodeScript splits a file into metadata and code. Files without a
// metadata line are plain Lua with zero metadata.
func decodeScript(content string) (*Script, error) {
	s := &Script{}
	first, rest, _ := strings.Cut(content, "\n")
	raw, ok := strings.CutPrefix(strings.TrimRight(first, "\r"), metaPrefix)
	if !ok {
		s.LuaCode = content
		return s, nil
	}
	if err := json.Unmarshal([]byte(raw), &s.Meta); err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	s.LuaCode = strings.TrimLeft(rest, "\r\n")
	return s, nil
}

func encodeScript(s *Script) string {
	meta, _ := json.Marshal(s.Meta)
	var b strings.Builder
	b.WriteString(metaPrefix)
	b.Write(meta)
	b.WriteByte('\n')
	if s.LuaCode != "" {
		b.WriteByte('\n')
		b.WriteString(s.LuaCode)
		if !strings.HasSuffix(s.LuaCode, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// slugify turns a display name into an ID candidate.
func slugify(name string) string {
	s := slugStrip.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	s = strings.Trim(s, "_")
	if len(s) > maxIDLen-4 {
		s = strings.TrimRight(s[:maxIDLen-4], "_")
	}
	return s
}
