package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/hashgate/powreg/client"
	"github.com/hashgate/powreg/config"
	"github.com/hashgate/powreg/logging"
	"github.com/hashgate/powreg/register"
)

// Powreg binary version.
// It should be passed during the build with '-ldflags "-X main.version="'.
var version = "unknown"

// powregMain is the true entry point for powreg. This function is required
// since defers created in the top-level scope of a main method aren't
// executed if os.Exit() is called.
func powregMain() error {
	cfg, err := config.ParseFlags(config.DefaultConfig())
	if err != nil {
		return err
	}
	cfg, err = config.SetupConfig(cfg)
	if err != nil {
		return err
	}

	level := zapcore.InfoLevel
	if cfg.Verbose {
		level = zapcore.DebugLevel
	}
	logger := logging.New(level, cfg.LogFile, cfg.JSONLog)
	defer func() { _ = logger.Sync() }()

	logger.Sugar().Infof("version: %s, endpoint: %s", version, cfg.URL)

	svc, err := client.New(cfg.URL)
	if err != nil {
		return err
	}
	registrar := register.New(svc, register.Config{
		Budget:      cfg.Budget(),
		MaxAttempts: cfg.MaxAttempts,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logging.NewContext(ctx, logger)

	// Attempts are independent of each other; each gets its own deadline
	// inside Run.
	var eg errgroup.Group
	for _, email := range cfg.Emails {
		email := email
		eg.Go(func() error {
			outcome := registrar.Run(ctx, email)
			if !outcome.Success {
				logger.Error("registration failed",
					zap.String("email", email),
					zap.String("reason", outcome.Error),
				)
				return fmt.Errorf("registration failed for %s: %s", email, outcome.Error)
			}
			if outcome.Position >= 0 {
				logger.Info("registered", zap.String("email", email), zap.Int("position", outcome.Position))
			} else {
				logger.Info("registered", zap.String("email", email))
			}
			return nil
		})
	}
	return eg.Wait()
}

func main() {
	// Call the "real" main in a nested manner so the defers will properly
	// be executed in the case of a graceful shutdown.
	if err := powregMain(); err != nil {
		// If it's the flag utility error don't print it,
		// because it was already printed.
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		} else {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
