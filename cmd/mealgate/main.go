package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mealgate/webclient/internal/config"
	"mealgate/webclient/internal/server"
	"mealgate/webclient/internal/service"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "mealgate",
	Short: "mealgate - local app server for the meal subscription site",
	Long: `mealgate serves the meal subscription site's pages and actions from a
local process. Every route runs behind a navigation guard that checks the
CSRF token, the platform session and the admin flag before the page loads.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the app server (default)",
	RunE:  runServe,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Probe the platform tables and print what the client can see",
	Long: `schema reads one row from each table the client depends on and prints the
columns found as JSON. Set MEALGATE_EMAIL and MEALGATE_PASSWORD to probe as a
signed-in user.`,
	RunE: runSchema,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mealgate %s\n", server.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "path to config file (overrides MEALGATE_CONFIG env var)")
	rootCmd.AddCommand(serveCmd, schemaCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configPath picks the config file: flag, then env var, then ./config.yaml,
// then ./config.example.yaml.
func configPath(flag string) string {
	if flag != "" {
		return flag
	}
	if p := os.Getenv("MEALGATE_CONFIG"); p != "" {
		return p
	}
	p := "./config.yaml"
	if _, err := os.Stat(p); os.IsNotExist(err) {
		p = "./config.example.yaml"
	}
	return p
}

func loadConfig() (*config.Config, string, error) {
	path := configPath(configFlag)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, fmt.Errorf("invalid config: %w", err)
	}
	setupLogging(cfg.Logging.Level)
	return cfg, path, nil
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if level == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	log.Info().
		Str("config_path", path).
		Str("log_level", cfg.Logging.Level).
		Str("listen", cfg.Server.Listen).
		Str("site", cfg.Site.URL).
		Msg("server configuration")
	log.Info().
		Str("platform", cfg.Platform.URL).
		Int("timeout_ms", cfg.Platform.TimeoutMs).
		Bool("verify_tokens", cfg.Platform.JWTSecret != "").
		Msg("platform configuration")
	log.Info().
		Str("cookie", cfg.CSRF.CookieName).
		Str("header", cfg.CSRF.HeaderName).
		Str("same_site", cfg.CSRF.SameSite).
		Bool("secure", cfg.CSRF.Secure).
		Int("sign_in_attempts", cfg.Auth.SignInAttempts).
		Msg("csrf and auth configuration")

	app, err := server.Build(cfg, log.Logger)
	if err != nil {
		return err
	}
	// one token per process, issued before the first navigation
	if _, err := app.CSRF.Issue(); err != nil {
		return fmt.Errorf("issue csrf token: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           server.New(app, log.Logger).Handler(),
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
		IdleTimeout:       90 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().Str("listen", cfg.Server.Listen).Str("version", server.Version).Msg("mealgate listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-shutdown:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := app.Auth.SignOut(ctx); err != nil {
			log.Warn().Err(err).Msg("sign out on shutdown failed")
		}
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown failed, forcing close")
			srv.Close()
		}
		log.Info().Msg("shutdown complete")
	}
	return nil
}

func runSchema(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := server.Build(cfg, log.Logger)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*cfg.PlatformTimeout())
	defer cancel()

	if email := os.Getenv("MEALGATE_EMAIL"); email != "" {
		if _, err := app.Auth.SignIn(ctx, email, os.Getenv("MEALGATE_PASSWORD")); err != nil {
			return fmt.Errorf("sign in: %w", err)
		}
		defer func() { _ = app.Auth.SignOut(context.Background()) }()
	}

	report := service.ProbeSchema(ctx, app.Platform, app.Authorizer)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
