// Package main is the entry point for the rudder trading engine. It wires
// the configuration, logging, persistence, venue adapters and the cycle
// engine, then runs until interrupted.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"github.com/quartzline/rudder/internal/config"
	"github.com/quartzline/rudder/internal/di"
	"github.com/quartzline/rudder/pkg/logger"
)

// version is overridden at build time via -ldflags.
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "rudder",
	Short: "rudder automated trading engine",
	Long: `Rudder evaluates a configured symbol universe on a fixed cadence,
scores entry candidates, sizes and protects positions, and records every
fill and cycle snapshot for later analysis.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the engine, status server and background jobs",
	RunE:  runEngine,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running instance and print its cycle status",
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the rudder version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rudder %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the configuration file (defaults apply when omitted)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
		Dir:    cfg.Logging.Dir,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("version", version).
		Str("mode", cfg.Session.Mode).
		Int("symbols", len(cfg.Symbols)).
		Msg("starting rudder")

	c, err := di.Wire(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to wire application: %w", err)
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := c.Server.Start(); err != nil {
			log.Error().Err(err).Msg("status server stopped")
		}
	}()

	if c.Stream != nil {
		go c.Stream.Run(ctx, cfg.Engine.Symbols)
	}

	c.Scheduler.Start()

	if err := c.Engine.Run(ctx); err != nil {
		return fmt.Errorf("engine exited: %w", err)
	}

	log.Info().Msg("shutting down")
	if err := c.Engine.Shutdown(); err != nil {
		log.Error().Err(err).Msg("session shutdown failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	log.Info().Msg("rudder stopped")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	url := fmt.Sprintf("http://%s:%d/api/status", cfg.Server.Host, cfg.Server.Port)
	resp, err := resty.New().SetTimeout(5 * time.Second).R().Get(url)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", url, err)
	}
	if resp.IsError() {
		return fmt.Errorf("status request returned %s", resp.Status())
	}

	// Re-indent whatever the server sent so the output is readable.
	var status map[string]any
	if err := json.Unmarshal(resp.Body(), &status); err != nil {
		return fmt.Errorf("failed to decode status response: %w", err)
	}
	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
