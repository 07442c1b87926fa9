// Standalone migration runner: applies or rolls back the archive schema
// without starting the service.
package main

import (
	"database/sql"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"arcade-presence/internal/database/migrations"
)

func main() {
	down := flag.Bool("down", false, "roll back one migration instead of applying")
	dir := flag.String("dir", "./migrations", "migrations directory")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("[Config] .env file not found, using environment variables")
	}

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("[Database] POSTGRES_DSN not set")
	}

	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("[Database] failed to open PostgreSQL: %v", err)
	}
	defer sqldb.Close()

	if err := sqldb.Ping(); err != nil {
		log.Fatalf("[Database] failed to connect to PostgreSQL: %v", err)
	}

	bunDB := bun.NewDB(sqldb, pgdialect.New())
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{
		MigrationsDir: *dir,
		AutoMigrate:   true,
	})

	if *down {
		if err := runner.Down(); err != nil {
			log.Fatalf("[Migrate] rollback failed: %v", err)
		}
		log.Println("[Migrate] rolled back one migration")
		return
	}

	if err := runner.Up(); err != nil {
		log.Fatalf("[Migrate] migration failed: %v", err)
	}
	log.Println("[Migrate] schema up to date")
}
