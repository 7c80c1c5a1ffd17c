package migrate

import (
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Format: 001_migration_name.up.sql
var migrationFile = regexp.MustCompile(`^(\d+)_(.+)\.up\.sql$`)

// FSProvider reads migrations from a file system, usually an embed.FS
// compiled into the binary.
type FSProvider struct {
	fsys  fs.FS
	dir   string
	table string
}

// NewFSProvider reads dir inside fsys and records versions in table.
func NewFSProvider(fsys fs.FS, dir, table string) *FSProvider {
	if table == "" {
		table = "schema_migrations"
	}
	return &FSProvider{fsys: fsys, dir: dir, table: table}
}

// VersionTable implements Source.
func (fp *FSProvider) VersionTable() string { return fp.table }

// Migrations implements Source, in ascending version order.
func (fp *FSProvider) Migrations() ([]Migration, error) {
	entries, err := fs.ReadDir(fp.fsys, fp.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration directory %s: %w", fp.dir, err)
	}

	seen := make(map[int]string)
	var out []Migration
	for _, e := range entries {
		matches := migrationFile.FindStringSubmatch(e.Name())
		if e.IsDir() || matches == nil {
			continue
		}
		version, err := strconv.Atoi(matches[1])
		if err != nil {
			return nil, fmt.Errorf("invalid version number in file %s: %w", e.Name(), err)
		}
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("migration version %d used by both %s and %s", version, prev, e.Name())
		}
		seen[version] = e.Name()

		content, err := fs.ReadFile(fp.fsys, fp.dir+"/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", e.Name(), err)
		}
		out = append(out, Migration{
			Version: version,
			Name:    strings.ReplaceAll(matches[2], "_", " "),
			SQL:     string(content),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
