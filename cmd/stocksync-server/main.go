package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bobmcallan/stocksync/internal/app"
	"github.com/bobmcallan/stocksync/internal/common"
	"github.com/bobmcallan/stocksync/internal/server"
	"github.com/bobmcallan/stocksync/internal/services/pricesync"
)

var configPath string

func main() {
	// .env is optional; real environment variables take precedence
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stocksync-server",
		Short: "Captured stock and simulated trade price synchronization",
		Long: `stocksync-server keeps captured stocks and simulated trades current with
daily prices from the Kiwoom REST API. Without a subcommand it serves the
REST API and runs the daily sync scheduler.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to stocksync.toml (defaults to STOCKSYNC_CONFIG)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(updateCmd())
	rootCmd.AddCommand(credentialsCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API and run the sync scheduler",
		RunE:  runServe,
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one price sync cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.NewApp(ctx, configPath)
			if err != nil {
				return fmt.Errorf("failed to initialize app: %w", err)
			}
			defer a.Close()

			run, err := a.PriceSyncService.RunCycle(ctx, pricesync.TriggerCLI)
			if run != nil {
				printJSON(cmd.OutOrStdout(), run)
			}
			return err
		},
	}
}

func updateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <code>",
		Short: "Refresh a single tracked stock by code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.NewApp(ctx, configPath)
			if err != nil {
				return fmt.Errorf("failed to initialize app: %w", err)
			}
			defer a.Close()

			if err := a.PriceSyncService.UpdateStock(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stock %s updated\n", args[0])
			return nil
		},
	}
}

func credentialsCmd() *cobra.Command {
	var appKey, secretKey string

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Store Kiwoom API credentials in the database",
		Long: `Stores the Kiwoom app key and secret key in system_kv. Stored values
override the config file; KIWOOM_APP_KEY and KIWOOM_SECRET_KEY still win.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if appKey == "" && secretKey == "" {
				return fmt.Errorf("at least one of --app-key or --secret-key is required")
			}

			a, err := app.NewApp(cmd.Context(), configPath)
			if err != nil {
				return fmt.Errorf("failed to initialize app: %w", err)
			}
			defer a.Close()

			if err := a.StoreKiwoomCredentials(cmd.Context(), appKey, secretKey); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "credentials stored")
			return nil
		},
	}
	setCmd.Flags().StringVar(&appKey, "app-key", "", "Kiwoom app key")
	setCmd.Flags().StringVar(&secretKey, "secret-key", "", "Kiwoom secret key")

	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage stored upstream credentials",
	}
	cmd.AddCommand(setCmd)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			common.LoadVersionFromFile()
			fmt.Fprintf(cmd.OutOrStdout(), "stocksync-server %s\n", common.GetFullVersion())
		},
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := app.NewApp(context.Background(), configPath)
	if err != nil {
		return fmt.Errorf("failed to initialize app: %w", err)
	}

	common.PrintBanner(a.Config, a.Logger)

	// Start background services
	a.StartSyncHub()
	a.StartSyncScheduler()

	srv := server.NewServer(a)
	shutdownChan := make(chan struct{}, 1)
	srv.SetShutdownChannel(shutdownChan)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			a.Logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	a.Logger.Info().
		Str("url", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)).
		Msg("Server ready")

	// Wait for interrupt signal or HTTP shutdown request
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
		a.Logger.Info().Msg("Shutdown signal received")
	case <-shutdownChan:
		a.Logger.Info().Msg("Shutdown requested via HTTP")
	}

	common.PrintShutdownBanner(a.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	a.Close()
	a.Logger.Info().Msg("Server stopped")
	return nil
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
