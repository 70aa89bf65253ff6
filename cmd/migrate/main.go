package main

import (
	"errors"
	"flag"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	var (
		command string
		dsn     string
		source  string
	)
	flag.StringVar(&command, "cmd", "up", "command to run: up, down")
	flag.StringVar(&dsn, "dsn", os.Getenv("BURNSCOPE_PG_DSN"), "Postgres DSN")
	flag.StringVar(&source, "path", "file://migrations", "migrations source")
	flag.Parse()

	if dsn == "" {
		log.Fatal("dsn is required (flag -dsn or BURNSCOPE_PG_DSN)")
	}

	m, err := migrate.New(source, dsn)
	if err != nil {
		log.Fatalf("migration init failed: %v", err)
	}

	switch command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("migration up failed: %v", err)
		}
		log.Println("migration up done")
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("migration down failed: %v", err)
		}
		log.Println("migration down done")
	default:
		log.Fatalf("unknown command: %s", command)
	}
}
