package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"clinicdesk/m/domain"
	"clinicdesk/m/internal/api"
	"clinicdesk/m/internal/config"
	"clinicdesk/m/internal/database"
	"clinicdesk/m/internal/migrations"
	"clinicdesk/m/internal/seed"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:          "clinicdesk",
		Short:        "Clinic back office: prescriptions and inventory",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrate, _ := cmd.Flags().GetBool("migrate")
			withSeed, _ := cmd.Flags().GetBool("seed")
			return runServer(migrate, withSeed)
		},
	}
	cmd.Flags().Bool("migrate", true, "Apply the schema before serving")
	cmd.Flags().Bool("seed", false, "Load the CSV seed directory before serving")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, db, err := bootstrap()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := migrations.Run(cmd.Context(), db); err != nil {
				return err
			}
			logger.Info().Int("statements", len(migrations.Statements)).Str("driver", cfg.DatabaseDriver).Msg("schema is up to date")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load staff, patients and inventory from CSV files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, db, err := bootstrap()
			if err != nil {
				return err
			}
			defer db.Close()

			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.SeedDir
			}
			return seed.NewLoader(db, logger).LoadDir(cmd.Context(), dir)
		},
	}
	cmd.Flags().String("dir", "", "Directory holding the seed CSV files (defaults to SEED_DIR)")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for a staff member",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			staffID, _ := cmd.Flags().GetString("staff")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if staffID == "" {
				return errors.New("--staff is required")
			}
			if !domain.IsStaffRole(role) {
				return fmt.Errorf("unknown role %q", role)
			}

			token, err := api.IssueToken(cfg.Secret, staffID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("staff", "", "Staff id placed in the token")
	cmd.Flags().String("role", domain.RoleDoctor, "Role placed in the token")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func runServer(migrate, withSeed bool) error {
	cfg, logger, db, err := bootstrap()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	if migrate {
		if err := migrations.Run(ctx, db); err != nil {
			return err
		}
	}
	if withSeed {
		if err := seed.NewLoader(db, logger).LoadDir(ctx, cfg.SeedDir); err != nil {
			return err
		}
	}

	handler := api.New(db, cfg, logger)
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("stock_consistency", cfg.StockConsistency).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func bootstrap() (config.Config, zerolog.Logger, *sqlx.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Nop(), nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return config.Config{}, zerolog.Nop(), nil, err
	}
	logger.Info().Str("driver", cfg.DatabaseDriver).Msg("connected to database")
	return cfg, logger, db, nil
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout)
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger.Level(level).With().Timestamp().Str("service", "clinicdesk").Logger()
}
