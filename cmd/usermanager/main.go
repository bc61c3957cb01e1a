package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"userManager/internal/cli"
	"userManager/internal/config"
	"userManager/internal/db"
	"userManager/internal/logging"
	"userManager/repository"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "usermanager: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// Load configuration
	cfg, err := config.Load(args)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLog, err := logging.New(cfg.Log.File, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()
	logger.Info("configuration loaded", zap.Stringer("config", cfg))

	users, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Error("open store", zap.Error(err))
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("close store", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = cli.New(users, logger, os.Stdin, os.Stdout).Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openStore(cfg *config.Config) (repository.UserRepositoryI, func() error, error) {
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		d, err := db.Open(cfg.Store.Database)
		if err != nil {
			if errors.Is(err, db.ErrNotDatabase) {
				return nil, nil, &repository.CorruptStoreError{Path: cfg.Store.Database, Err: err}
			}
			return nil, nil, fmt.Errorf("open db: %w", err)
		}
		return repository.NewSQLiteUserRepository(d), d.Close, nil
	default:
		return repository.NewJSONUserRepository(afero.NewOsFs(), cfg.Store.File), func() error { return nil }, nil
	}
}
