package commands

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Youngkwon-Lee/sol-dapp-squat/internal/storage"
)

// Output formats of history and stats.
const (
	FormatTable = "table"
	FormatYAML  = "yaml"
	FormatJSON  = "json"
)

// ErrInvalidFormat is returned for unknown --format values.
var ErrInvalidFormat = errors.New("invalid output format")

type queryCommand struct {
	global  *globalOptions
	subject string
	wallet  string
	limit   int
	format  string
}

func (qc *queryCommand) bind(cobraCmd *cobra.Command) {
	cobraCmd.Flags().StringVar(&qc.subject, "subject", "", "subject identifier")
	cobraCmd.Flags().StringVar(&qc.wallet, "wallet", "", "wallet address")
	cobraCmd.Flags().IntVar(&qc.limit, "limit", 0, "maximum number of workouts (0 = no limit)")
	cobraCmd.Flags().StringVarP(&qc.format, "format", "f", FormatTable, "output format (table, yaml, json)")
}

func (qc *queryCommand) validate() error {
	switch qc.format {
	case FormatTable, FormatYAML, FormatJSON:
		return nil
	default:
		return errors.Wrapf(ErrInvalidFormat, "'%s'", qc.format)
	}
}

// fetch loads workouts matching flags from the configured store
func (qc *queryCommand) fetch(cmd *cobra.Command) ([]storage.Workout, error) {
	if err := qc.validate(); err != nil {
		return nil, err
	}

	cfg, logger, err := qc.global.load(cmd)
	if err != nil {
		return nil, err
	}

	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	workouts, err := store.History(cmd.Context(), storage.Filter{
		SubjectID:     qc.subject,
		WalletAddress: qc.wallet,
		Limit:         qc.limit,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("history loaded", "workouts", len(workouts), "backend", cfg.Storage.Backend)

	return workouts, nil
}

func newHistoryCommand(global *globalOptions) *cobra.Command {
	qc := &queryCommand{global: global}

	cobraCmd := &cobra.Command{
		Use:   "history",
		Short: "List stored workouts, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			workouts, err := qc.fetch(cmd)
			if err != nil {
				return err
			}

			return renderHistory(cmd.OutOrStdout(), workouts, qc.format, time.Now())
		},
	}
	qc.bind(cobraCmd)

	return cobraCmd
}

func newStatsCommand(global *globalOptions) *cobra.Command {
	qc := &queryCommand{global: global}

	cobraCmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize stored workouts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			workouts, err := qc.fetch(cmd)
			if err != nil {
				return err
			}

			return renderStats(cmd.OutOrStdout(), storage.ComputeStats(workouts, time.Local), qc.format)
		},
	}
	qc.bind(cobraCmd)

	return cobraCmd
}
