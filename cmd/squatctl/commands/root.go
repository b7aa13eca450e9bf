// Package commands implements squatctl subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Youngkwon-Lee/sol-dapp-squat/internal/config"
	"github.com/Youngkwon-Lee/sol-dapp-squat/internal/logging"
	"github.com/Youngkwon-Lee/sol-dapp-squat/internal/storage"
)

// Build information, set with -ldflags.
var (
	Version = "dev"
	Commit  = "none"
)

// ErrBackendNotPostgres is returned by commands that need a database.
var ErrBackendNotPostgres = errors.New("storage backend is not postgres")

type globalOptions struct {
	configPath string
	envFile    string
	verbose    bool
}

// NewRootCommand creates squatctl with all subcommands attached.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "squatctl",
		Short: "Squat repetition counter",
		Long: `squatctl counts squat repetitions from recorded pose keypoints.

Commands:
  replay       Count repetitions in a JSON lines keypoint recording
  estimate     Turn images into recording lines via the pose service
  history      Show stored workouts
  stats        Summarize stored workouts
  init-schema  Create PostgreSQL tables`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ./squat.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with SQUAT_* overrides, skipped when absent")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(newReplayCommand(opts))
	rootCmd.AddCommand(newEstimateCommand(opts))
	rootCmd.AddCommand(newHistoryCommand(opts))
	rootCmd.AddCommand(newStatsCommand(opts))
	rootCmd.AddCommand(newInitSchemaCommand(opts))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "squatctl %s (commit: %s)\n", Version, Commit)
		},
	}
}

// load reads configuration and builds the logger. Logs go to stderr of the command
func (opts *globalOptions) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil && !os.IsNotExist(err) {
			return nil, nil, errors.Wrap(err, "Can't load env file")
		}
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Logging.Level
	if opts.verbose {
		level = "debug"
	}

	return cfg, logging.New(cmd.ErrOrStderr(), level, cfg.Logging.Format), nil
}

func postgresConnString(cfg *config.Config) string {
	return storage.PostgresConfig{
		Host:     cfg.Storage.Postgres.Host,
		Port:     cfg.Storage.Postgres.Port,
		User:     cfg.Storage.Postgres.User,
		Password: cfg.Storage.Postgres.Password,
		DBName:   cfg.Storage.Postgres.DBName,
	}.ConnString()
}

// openStore opens the configured storage backend
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.Storage.Backend == config.BackendPostgres {
		return storage.NewPostgresStore(ctx, postgresConnString(cfg))
	}

	return storage.NewFileStore(cfg.Storage.Path), nil
}

func newInitSchemaCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init-schema",
		Short: "Create workouts table and indexes in PostgreSQL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if cfg.Storage.Backend != config.BackendPostgres {
				return errors.Wrapf(ErrBackendNotPostgres, "'%s'", cfg.Storage.Backend)
			}

			err = storage.InitSchema(cmd.Context(), postgresConnString(cfg))
			if err != nil {
				return err
			}
			logger.Info("schema initialized", "host", cfg.Storage.Postgres.Host, "db", cfg.Storage.Postgres.DBName)

			return nil
		},
	}
}
