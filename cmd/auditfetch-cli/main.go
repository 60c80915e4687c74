package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"auditfetch/internal/adapters/activityfeed"
	"auditfetch/internal/adapters/downloader"
	"auditfetch/internal/adapters/oauth"
	"auditfetch/internal/config"
	"auditfetch/internal/core/domain"
	"auditfetch/internal/metrics"
	"auditfetch/internal/service"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "auditfetch",
		Short:         "Download Office 365 Management Activity API content blobs",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(
		fetchCmd(),
		categoriesCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func fetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch audit content for the selected categories and window",
		Example: `  auditfetch fetch --tenant-id <tenant> --app-id <app> --category Audit.Exchange \
      --start 2024-01-01T00:00Z --end 2024-01-02T00:00Z --dest ./logs`,
		RunE: runFetch,
	}
	cmd.Flags().String("config", "", "Config file (default: auditfetch.{yaml,yml,toml,json} in the current directory)")
	cmd.Flags().String("app-id", "", "Application (client) ID")
	cmd.Flags().String("tenant-id", "", "Directory (tenant) ID")
	cmd.Flags().String("app-secret", "", "Client secret (prefer "+config.EnvAppSecret+")")
	cmd.Flags().StringSlice("category", nil, "Content type to fetch (repeatable)")
	cmd.Flags().String("start", "", "Window start, ISO-8601 (default: 24h before end)")
	cmd.Flags().String("end", "", "Window end, ISO-8601 (default: now)")
	cmd.Flags().String("dest", "", "Destination directory or s3://bucket/prefix")
	cmd.Flags().Int("concurrency", 1, "Parallel blob downloads per category")
	cmd.Flags().String("login-url", "", "Identity platform base URL")
	cmd.Flags().String("manage-url", "", "Management API base URL")
	cmd.Flags().String("metrics-file", "", "Write Prometheus metrics to this file when the run ends")
	return cmd
}

func categoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List the supported content types",
		Run: func(cmd *cobra.Command, args []string) {
			for _, c := range domain.Categories {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
		},
	}
}

func runFetch(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd)

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", "error", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	runCfg, err := cfg.RunConfig(time.Now())
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	tokenOpts := []oauth.Option{}
	if cfg.LoginURL != "" {
		tokenOpts = append(tokenOpts, oauth.WithLoginURL(cfg.LoginURL))
	}
	if cfg.ManageURL != "" {
		tokenOpts = append(tokenOpts, oauth.WithResource(cfg.ManageURL))
	}

	orchestrator := service.NewOrchestrator(
		oauth.NewClient(logger, tokenOpts...),
		activityfeed.NewClient(cfg.ManageURL, nil, logger),
		downloader.NewHTTPDownloader(),
		storeOpener(cfg.S3, logger),
		m,
		logger,
	)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			logger.Warn("received interrupt signal, cancelling run")
			cancel()
		case <-ctx.Done():
		}
	}()

	out := cmd.OutOrStdout()
	result := <-orchestrator.Start(ctx, runCfg, func(o domain.Outcome) {
		fmt.Fprintln(out, o.String())
	})

	metricsFile, _ := cmd.Flags().GetString("metrics-file")
	if metricsFile != "" {
		if err := metrics.WriteTextfile(metricsFile, reg); err != nil {
			logger.Warn("failed to write metrics file", "path", metricsFile, "error", err)
		}
	}

	printSummary(cmd, result)
	return result.Err
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	format, _ := cmd.Flags().GetString("log-format")

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler = slog.NewTextHandler(cmd.ErrOrStderr(), opts)
	if format == "json" {
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), opts)
	}
	return slog.New(handler)
}

// loadConfig layers the config file, the environment, and explicit flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := &config.Config{}

	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		loaded, _, err := config.Load(".")
		if err != nil && !errors.Is(err, config.ErrNoConfig) {
			return nil, err
		}
		if loaded != nil {
			cfg = loaded
		}
	}

	cfg.ApplyEnv(os.Getenv)

	flags := cmd.Flags()
	stringFlags := map[string]*string{
		"app-id":     &cfg.AppID,
		"tenant-id":  &cfg.TenantID,
		"app-secret": &cfg.AppSecret,
		"start":      &cfg.Start,
		"end":        &cfg.End,
		"dest":       &cfg.Destination,
		"login-url":  &cfg.LoginURL,
		"manage-url": &cfg.ManageURL,
	}
	for name, dst := range stringFlags {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	if flags.Changed("category") {
		cfg.Categories, _ = flags.GetStringSlice("category")
	}
	if flags.Changed("concurrency") || cfg.Concurrency == 0 {
		cfg.Concurrency, _ = flags.GetInt("concurrency")
	}
	return cfg, nil
}

func printSummary(cmd *cobra.Command, result *domain.RunResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\n=== Run Summary ===")
	fmt.Fprintf(out, "Run ID:       %s\n", result.RunID)
	fmt.Fprintf(out, "Success:      %t\n", result.Success())
	if !result.Success() {
		fmt.Fprintf(out, "Error:        %v\n", result.Err)
	} else {
		fmt.Fprintf(out, "Destination:  %s\n", result.Destination)
		fmt.Fprintf(out, "Saved:        %d\n", result.Log.Count(domain.OutcomeSaved))
		fmt.Fprintf(out, "Duplicates:   %d\n", result.Log.Count(domain.OutcomeDuplicate))
		errs := 0
		for _, e := range result.Log.Entries() {
			if e.IsError() {
				errs++
			}
		}
		fmt.Fprintf(out, "Errors:       %d\n", errs)
	}
	fmt.Fprintf(out, "Completed At: %s\n", result.CompletedAt.Format(time.RFC3339))
}
