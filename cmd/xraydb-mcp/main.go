// Command xraydb-mcp serves x-ray absorption edge lookups as MCP tools over
// stdio.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	_ "github.com/joho/godotenv/autoload"
	"github.com/zillow/xraydb-mcp/internal/config"
	"github.com/zillow/xraydb-mcp/internal/xraytools"
	"github.com/zillow/xraydb-mcp/server"
	"github.com/zillow/xraydb-mcp/xraydb"
)

const instructions = "Look up X-ray absorption edge energies, fluorescence yields and jump ratios by element, or guess the element and edge for a measured edge energy in eV."

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "xraydb-mcp: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the protocol; diagnostics go to stderr
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          cfg.Name,
		Level:           cfg.Level(),
	})

	if err := run(cfg, logger); err != nil {
		logger.Error("Server error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *log.Logger) error {
	db, err := xraydb.Open(context.Background(), cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	b := server.NewRegistryBuilder()
	if err := xraytools.Register(b, db); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}
	registry := b.Freeze()

	mcpServer := server.NewMCPServer(cfg.Name, cfg.Version, registry,
		server.WithInstructions(instructions),
		server.WithCallTimeout(cfg.CallTimeout),
		server.WithLogger(logger),
	)

	logger.Info("Starting stdio server",
		"version", cfg.Version,
		"tools", registry.Len(),
		"concurrency", cfg.Concurrency,
	)
	err = server.ServeStdio(mcpServer,
		server.WithConcurrency(cfg.Concurrency),
		server.WithErrorLogger(logger),
	)
	if errors.Is(err, context.Canceled) {
		// interrupted by a signal
		return nil
	}
	return err
}
