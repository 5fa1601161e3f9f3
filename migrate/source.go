package migrate

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// Migration is one schema change. ID orders migrations lexically, so numeric
// identifiers should be zero-padded. Down is optional.
type Migration struct {
	ID   string
	Name string
	Up   string
	Down string
}

// Source yields migrations in ascending ID order.
type Source interface {
	Migrations() ([]Migration, error)
}

// Registry is a programmatic Source.
type Registry struct {
	migrations []Migration
	ids        map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{ids: make(map[string]struct{})}
}

// Add registers a migration. Duplicate IDs and empty up scripts are
// rejected.
func (r *Registry) Add(m Migration) error {
	if m.ID == "" {
		return fmt.Errorf("migrate: migration has no id")
	}
	if strings.TrimSpace(m.Up) == "" {
		return fmt.Errorf("migrate: migration %s has no up script", m.ID)
	}
	if _, dup := r.ids[m.ID]; dup {
		return fmt.Errorf("migrate: duplicate migration id %s", m.ID)
	}
	r.ids[m.ID] = struct{}{}
	r.migrations = append(r.migrations, m)
	return nil
}

// MustAdd is Add that panics, for package-level registration.
func (r *Registry) MustAdd(m Migration) {
	if err := r.Add(m); err != nil {
		panic(err)
	}
}

func (r *Registry) Migrations() ([]Migration, error) {
	out := make([]Migration, len(r.migrations))
	copy(out, r.migrations)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

type fsSource struct {
	fsys fs.FS
	dir  string
}

// Files reads migrations from .sql files under dir, named "<id>_<name>.sql".
// A file is split into up and down sections by "-- +migrate Up" and
// "-- +migrate Down" markers; without markers the whole file is the up
// script. Any fs.FS works, embed.FS included.
func Files(fsys fs.FS, dir string) Source {
	return &fsSource{fsys: fsys, dir: dir}
}

func (s *fsSource) Migrations() ([]Migration, error) {
	entries, err := fs.ReadDir(s.fsys, s.dir)
	if err != nil {
		return nil, fmt.Errorf("migrate: read migration dir %q: %w", s.dir, err)
	}
	seen := make(map[string]string)
	var out []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		m, err := s.parseFile(entry.Name())
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[m.ID]; dup {
			return nil, fmt.Errorf("migrate: duplicate migration id %s (%s and %s)", m.ID, prev, entry.Name())
		}
		seen[m.ID] = entry.Name()
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fsSource) parseFile(name string) (Migration, error) {
	base := strings.TrimSuffix(name, ".sql")
	id, rest, found := strings.Cut(base, "_")
	if !found || id == "" {
		return Migration{}, fmt.Errorf("migrate: file %q does not match <id>_<name>.sql", name)
	}
	raw, err := fs.ReadFile(s.fsys, path.Join(s.dir, name))
	if err != nil {
		return Migration{}, fmt.Errorf("migrate: read %q: %w", name, err)
	}
	up, down := splitSections(string(raw))
	if strings.TrimSpace(up) == "" {
		return Migration{}, fmt.Errorf("migrate: file %q has no up script", name)
	}
	return Migration{ID: id, Name: rest, Up: up, Down: down}, nil
}

func splitSections(content string) (up, down string) {
	downIdx := strings.Index(content, downMarker)
	if downIdx >= 0 {
		down = strings.TrimSpace(content[downIdx+len(downMarker):])
		content = content[:downIdx]
	}
	if upIdx := strings.Index(content, upMarker); upIdx >= 0 {
		content = content[upIdx+len(upMarker):]
	}
	return strings.TrimSpace(content), down
}
