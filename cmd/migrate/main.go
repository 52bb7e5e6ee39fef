// Package main is the migrate command line tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap/zapcore"

	"github.com/contentmigrate/migrate-framework/pkg/commands"
	"github.com/contentmigrate/migrate-framework/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Interrupted runs stop at the next row boundary and can be resumed.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The configured level raises this one once the config is loaded.
	cfg := logger.Config{Level: zapcore.DebugLevel}
	lggr, err := cfg.New()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = lggr.Sync() }()

	return commands.New(lggr).Root(commands.Deps{}).ExecuteContext(ctx)
}
