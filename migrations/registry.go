// Package migrations exposes the embedded delta schema per SQL dialect.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	delta "github.com/juanbarco92/delta"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const root = "data/sql/migrations"

// Source is the migration tree for one dialect. Postgres files live at the
// root of the tree and sqlite overrides under a subdirectory.
type Source struct {
	Dialect string
	Dir     string
	FS      fs.FS
}

// Versions lists the migration names in the source, without direction suffix.
func (s Source) Versions() ([]string, error) {
	ups, err := fs.Glob(s.FS, "*.up.sql")
	if err != nil {
		return nil, err
	}
	versions := make([]string, 0, len(ups))
	for _, name := range ups {
		versions = append(versions, strings.TrimSuffix(name, ".up.sql"))
	}
	sort.Strings(versions)
	return versions, nil
}

// Validate fails when an up migration has no matching down migration or
// either file is empty.
func (s Source) Validate() error {
	versions, err := s.Versions()
	if err != nil {
		return fmt.Errorf("migrations: list %s: %w", s.Dialect, err)
	}
	if len(versions) == 0 {
		return fmt.Errorf("migrations: no %s migrations under %s", s.Dialect, s.Dir)
	}
	for _, version := range versions {
		for _, direction := range []string{"up", "down"} {
			name := version + "." + direction + ".sql"
			content, err := fs.ReadFile(s.FS, name)
			if err != nil {
				return fmt.Errorf("migrations: %s %s: %w", s.Dialect, name, err)
			}
			if strings.TrimSpace(string(content)) == "" {
				return fmt.Errorf("migrations: %s %s is empty", s.Dialect, name)
			}
		}
	}
	return nil
}

func ForDialect(dialect string) (Source, error) {
	dialect = strings.ToLower(strings.TrimSpace(dialect))
	var dir string
	switch dialect {
	case DialectPostgres:
		dir = root
	case DialectSQLite:
		dir = path.Join(root, DialectSQLite)
	default:
		return Source{}, fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}
	sub, err := fs.Sub(delta.GetMigrationsFS(), dir)
	if err != nil {
		return Source{}, fmt.Errorf("migrations: resolve %s: %w", dir, err)
	}
	return Source{Dialect: dialect, Dir: dir, FS: sub}, nil
}

func Sources() ([]Source, error) {
	sources := make([]Source, 0, 2)
	for _, dialect := range []string{DialectPostgres, DialectSQLite} {
		source, err := ForDialect(dialect)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	return sources, nil
}

type RegisterFunc func(ctx context.Context, source Source) error

// Register validates the sources for the given dialects and passes each one
// to register. With no dialects every supported dialect is registered.
func Register(ctx context.Context, register RegisterFunc, dialects ...string) error {
	if register == nil {
		return fmt.Errorf("migrations: register func is required")
	}
	if len(dialects) == 0 {
		dialects = []string{DialectPostgres, DialectSQLite}
	}
	seen := map[string]bool{}
	for _, dialect := range dialects {
		source, err := ForDialect(dialect)
		if err != nil {
			return err
		}
		if seen[source.Dialect] {
			continue
		}
		seen[source.Dialect] = true
		if err := source.Validate(); err != nil {
			return err
		}
		if err := register(ctx, source); err != nil {
			return fmt.Errorf("migrations: register %s: %w", source.Dialect, err)
		}
	}
	return nil
}
