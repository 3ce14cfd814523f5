// Command fiverecruit-admin is the operator CLI: platform admin bootstrap and
// grants, license minting and token issuance for local testing.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/La-R19/fiverecruit/pkg/audit"
	"github.com/La-R19/fiverecruit/pkg/auth"
	"github.com/La-R19/fiverecruit/pkg/config"
	"github.com/La-R19/fiverecruit/pkg/entitlements"
	"github.com/La-R19/fiverecruit/pkg/permissions"
	"github.com/La-R19/fiverecruit/pkg/platformadmin"
	"github.com/La-R19/fiverecruit/pkg/storage/postgres"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}

	logger := setupLogger(os.Getenv("FIVERECRUIT_LOG_LEVEL"))

	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	db, err := postgres.Connect(ctx, postgres.ConnectionConfig{
		URL:      cfg.Database.URL,
		MaxConns: 2,
		MinConns: 1,
		Timeout:  cfg.Database.ConnectTimeout,
	})
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	dbAudit, err := audit.NewDBLogger(db)
	if err != nil {
		logger.Fatalf("Failed to create audit logger: %v", err)
	}

	checker := permissions.NewResolver(db, nil, dbAudit)
	licenses := entitlements.NewLicenseStore(db, checker, entitlements.NewNotifyPublisher(cfg.Entitlements.InvalidationChannel), dbAudit, nil)

	e := &env{
		admin:  platformadmin.NewService(platformadmin.NewStore(db), licenses, dbAudit),
		out:    os.Stdout,
		logger: logger,
	}
	if cfg.Auth.JWTSecret != "" {
		e.issuer = auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
	}

	if err := cmd.run(ctx, e, os.Args[2:]); err != nil {
		db.Close()
		logger.Fatalf("%s: %v", os.Args[1], err)
	}
}

func setupLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}
