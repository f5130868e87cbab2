// Package catalog discovers migrations on a filesystem and turns each one into
// an ordered list of executable statements.
//
// Layout: every directory directly under a root is one migration, named after
// the directory. All *.sql files inside it are concatenated in filename order.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/mirajehossain/txmigrate/internal/checksum"
)

// ErrDuplicateName is returned when two roots hold a migration with the same
// name. The ledger records migrations by name, so both could never be applied.
var ErrDuplicateName = errors.New("duplicate migration name")

// Migration is immutable once loaded.
type Migration struct {
	Name       string
	Path       string // directory inside the fs
	Files      []string
	Script     string
	Statements []Statement
	Checksum   string
}

// Names returns the migration names in catalog order.
func Names(ms []Migration) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Name
	}
	return out
}

// LoadDir loads a catalog from a directory on disk.
func LoadDir(dir string) ([]Migration, error) {
	return Load(os.DirFS(dir), ".")
}

// Load reads every migration under the given roots of fsys and returns them
// sorted by name. Names must be unique across roots.
func Load(fsys fs.FS, roots ...string) ([]Migration, error) {
	if len(roots) == 0 {
		roots = []string{"."}
	}
	var groups []group
	for _, root := range roots {
		g, err := scan(fsys, root)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", root, err)
		}
		groups = append(groups, g...)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].name == groups[j].name {
			return groups[i].dir < groups[j].dir
		}
		return groups[i].name < groups[j].name
	})
	for i := 1; i < len(groups); i++ {
		if groups[i].name == groups[i-1].name {
			return nil, fmt.Errorf("%w: %s in %s and %s", ErrDuplicateName, groups[i].name, groups[i-1].dir, groups[i].dir)
		}
	}

	out := make([]Migration, 0, len(groups))
	for _, g := range groups {
		m, err := readGroup(fsys, g)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

type group struct {
	name  string
	dir   string
	files []string
}

func scan(fsys fs.FS, root string) ([]group, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, err
	}
	var out []group
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := path.Join(root, e.Name())
		files, err := fs.ReadDir(fsys, dir)
		if err != nil {
			return nil, err
		}
		g := group{name: e.Name(), dir: dir}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".sql") {
				continue
			}
			g.files = append(g.files, path.Join(dir, f.Name()))
		}
		if len(g.files) == 0 {
			continue
		}
		sort.Strings(g.files)
		out = append(out, g)
	}
	return out, nil
}

func readGroup(fsys fs.FS, g group) (Migration, error) {
	parts := make([]string, 0, len(g.files))
	for _, f := range g.files {
		b, err := fs.ReadFile(fsys, f)
		if err != nil {
			return Migration{}, fmt.Errorf("read %s: %w", f, err)
		}
		parts = append(parts, string(b))
	}
	script := strings.Join(parts, "\n")
	return Migration{
		Name:       g.name,
		Path:       g.dir,
		Files:      g.files,
		Script:     script,
		Statements: ParseStatements(script),
		Checksum:   checksum.Script(script),
	}, nil
}

// New builds a migration from an in-memory script, for catalogs assembled in code.
func New(name, script string) Migration {
	return Migration{
		Name:       name,
		Script:     script,
		Statements: ParseStatements(script),
		Checksum:   checksum.Script(script),
	}
}
