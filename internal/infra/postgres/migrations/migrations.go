package migrations

import (
	"context"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// Migrations holds the schema steps; each file registers itself and bun
// derives the version from the file name.
var Migrations = migrate.NewMigrations()

// execAll runs each statement; embedded files separate statements with --bun:split.
func execAll(sources ...string) migrate.MigrationFunc {
	return func(ctx context.Context, db *bun.DB) error {
		for _, src := range sources {
			for _, stmt := range strings.Split(src, "--bun:split") {
				if strings.TrimSpace(stmt) == "" {
					continue
				}
				if _, err := db.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
		}
		return nil
	}
}
