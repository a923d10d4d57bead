package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed migrations
var embeddedMigrations embed.FS

type migration struct {
	version string
	sql     string
}

// migrationsFor returns the embedded .up.sql files for a dialect in version
// order.
func migrationsFor(dialect string) ([]migration, error) {
	dir := path.Join("migrations", dialect)
	entries, err := fs.ReadDir(embeddedMigrations, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations (%s): %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	migrations := make([]migration, 0, len(names))
	for _, name := range names {
		data, err := embeddedMigrations.ReadFile(path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		migrations = append(migrations, migration{
			version: strings.TrimSuffix(name, ".up.sql"),
			sql:     string(data),
		})
	}
	return migrations, nil
}

// migrator is the minimal surface both backends expose to the runner.
type migrator interface {
	ensureMigrationsTable(ctx context.Context) error
	migrationApplied(ctx context.Context, version string) (bool, error)
	applyMigration(ctx context.Context, m migration) error
}

func runMigrations(ctx context.Context, dialect string, m migrator) error {
	migrations, err := migrationsFor(dialect)
	if err != nil {
		return err
	}
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("failed to ensure schema_migrations table: %w", err)
	}
	for _, mig := range migrations {
		applied, err := m.migrationApplied(ctx, mig.version)
		if err != nil {
			return fmt.Errorf("failed to check migration version %s: %w", mig.version, err)
		}
		if applied {
			continue
		}
		if err := m.applyMigration(ctx, mig); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", mig.version, err)
		}
	}
	return nil
}
