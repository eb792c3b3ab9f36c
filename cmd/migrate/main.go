package main

import (
	"database/sql"
	"flag"
	"fmt"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/puffperksonline/puffperks/internal/config"
	"github.com/puffperksonline/puffperks/internal/database/migrations"
	"github.com/puffperksonline/puffperks/internal/logger"
)

// Standalone migration runner. The service also migrates on boot; this
// binary exists for operating the schema without starting the gateway.
func main() {
	log := logger.NewLogger()
	defer log.Close()

	var (
		dir     = flag.String("dir", "./migrations", "directory containing migration files")
		down    = flag.Bool("down", false, "roll back all migrations")
		seed    = flag.Bool("seed", false, "include demo seed migrations")
		version = flag.Uint("to", 0, "migrate to a specific version")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}

	cfg := config.Load()
	if cfg.Database.DSN == "" {
		log.Fatal("CONFIG", "POSTGRES_DSN not set")
	}

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{
		MigrationsDir: *dir,
		SeedData:      *seed,
	}, log)
	defer runner.Close()

	switch {
	case *down:
		err = runner.MigrateDown()
	case *version > 0:
		err = runner.MigrateTo(*version)
	default:
		err = runner.RunMigrations()
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migration failed: %v", err))
	}
	log.Info("DATABASE", "✅ Migration complete")
}
