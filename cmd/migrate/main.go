package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/Cyannimazing/churchms-backend-sub001/pkg/config"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/database"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/logger"
)

func main() {
	path := flag.String("path", "", "migrations directory (defaults to MIGRATIONS_PATH)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: migrate [-path dir] up|down|version\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg, "migrate")
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if *path == "" {
		*path = cfg.Database.MigrationsPath
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}

	migrator, err := database.NewMigrator(db.DB, *path, logr)
	if err != nil {
		logr.Fatal("failed to init migrator", zap.Error(err))
	}
	defer migrator.Close() //nolint:errcheck

	switch flag.Arg(0) {
	case "up":
		err = migrator.Up()
	case "down":
		err = migrator.Down()
	case "version":
		var (
			version uint
			dirty   bool
		)
		version, dirty, err = migrator.Version()
		if err == nil {
			fmt.Printf("version=%d dirty=%t\n", version, dirty)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logr.Fatal("migration failed", zap.String("command", flag.Arg(0)), zap.Error(err))
	}
}
