package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/platinummonkey/accesscore/pkg/config"
	"github.com/platinummonkey/accesscore/pkg/oauth"
	"github.com/platinummonkey/accesscore/pkg/observability"
	"github.com/platinummonkey/accesscore/pkg/storage/postgres"
)

func main() {
	manifestPath := flag.String("manifest", "", "Path to a YAML client manifest")
	migrateOnly := flag.Bool("migrate-only", false, "Apply database migrations and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr)

	if *manifestPath == "" && !*migrateOnly {
		logger.Fatal("either -manifest or -migrate-only is required")
	}

	var manifest *Manifest
	if !*migrateOnly {
		manifest, err = LoadManifest(*manifestPath)
		if err != nil {
			logger.WithError(err).Fatal("invalid manifest")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cm, err := postgres.NewConnectionManager(postgres.ConnectionConfigFrom(cfg.Storage), logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to postgres")
	}
	defer cm.Close()

	if err := postgres.RunMigrations(ctx, cm.Primary(), logger); err != nil {
		logger.WithError(err).Fatal("migrations failed")
	}
	if *migrateOnly {
		return
	}

	// Registration only touches the client registry
	server := oauth.NewServer(postgres.NewClientStore(cm, 0, 0), nil, nil, cfg.OAuth.Config, oauth.WithLogger(logger))
	if err := register(ctx, server, manifest, os.Stdout); err != nil {
		logger.WithError(err).Fatal("client registration failed")
	}
}
