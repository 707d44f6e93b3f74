package main

import (
	"flag"
	"log"

	"github.com/uptrace/bun/migrate"

	"github.com/chainsafe/liquid-stake/pkg/config"
	"github.com/chainsafe/liquid-stake/pkg/migrations/ledgerdb"
	"github.com/chainsafe/liquid-stake/pkg/pgutil"
	mghelper "github.com/chainsafe/liquid-stake/pkg/pgutil/migrations"
)

func main() {
	cfgPath := flag.String("config", "config.example.yaml", "Path to configuration file")
	flag.Usage = mghelper.Usage
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("error reading configuration file: %s", err.Error())
	}
	if cfg.Database.Driver != "postgres" {
		log.Fatalf("migrations need the postgres driver, got %q", cfg.Database.Driver)
	}

	db, err := pgutil.ConnectDB(&cfg.Database)
	if err != nil {
		log.Fatalf("error connecting to database: %s", err.Error())
	}
	defer db.Close()

	log.Printf("Running migrations for ledger database (%s)...\n", cfg.Database.Database)

	migrator := migrate.NewMigrator(db, ledgerdb.Migrations)

	err = mghelper.RunMigrations(migrator, flag.Args()...)
	if err != nil {
		mghelper.Exitf(err.Error())
	}
}
