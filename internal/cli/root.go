// Package cli builds the medfolio command tree: serve runs the HTTP API,
// migrate applies the schema, and reconcile repairs recommendation counters.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/medfolio-backend/internal/config"
	httpapi "github.com/tbourn/medfolio-backend/internal/http"
	"github.com/tbourn/medfolio-backend/internal/repo"
	"github.com/tbourn/medfolio-backend/internal/sysutil"
)

// New returns the root command.
func New(version string) *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "medfolio",
		Short:         "Doctor profiles and recommendations backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(envFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newServeCmd(version))
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newReconcileCmd())

	return root
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := bootstrap()
			if err != nil {
				return err
			}
			defer closeDB(db)

			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute recommendation counters from stored recommendations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := bootstrap()
			if err != nil {
				return err
			}
			defer closeDB(db)

			n, err := httpapi.NewProfileService(db, httpapi.Deps{}).Reconcile(cmdContext(cmd))
			if err != nil {
				return err
			}
			log.Info().Int64("profiles", n).Msg("recommendation counters reconciled")
			fmt.Fprintf(cmd.OutOrStdout(), "reconciled %d profiles\n", n)
			return nil
		},
	}
}

// bootstrap loads configuration, configures logging, and opens a migrated
// database handle.
func bootstrap() (config.Config, *gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, fmt.Errorf("config: %w", err)
	}
	sysutil.ConfigureLogger(cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)

	db, err := repo.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return cfg, nil, fmt.Errorf("open %s database: %w", cfg.DB.Driver, err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		closeDB(db)
		return cfg, nil, fmt.Errorf("migrate: %w", err)
	}
	return cfg, db, nil
}

// loadEnvFile applies path to the process environment. Variables already set
// win, and a missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
