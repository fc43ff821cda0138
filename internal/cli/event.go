package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/valdirmariano/altaper4mance-sub000/internal/domain"
)

func init() {
	eventCmd.Flags().StringVarP(&eventUser, "user", "u", "", "User id (empty = anonymous, nothing is recorded)")
	eventCmd.Flags().StringVarP(&eventData, "data", "d", "", "JSON payload, e.g. '{\"highestPriority\":true}'")
	rootCmd.AddCommand(eventCmd)
}

var (
	eventUser string
	eventData string
)

var eventCmd = &cobra.Command{
	Use:   "event <kind>",
	Short: "Dispatch a reward event and print the outcome",
	Long: `Dispatch one reward event against the configured store.

Kinds: task_completed, habit_completed, all_habits_completed, goal_achieved,
journal_written, focus_completed, transaction_logged, study_completed,
running_logged, workout_logged, body_measurement_logged.`,
	Args: cobra.ExactArgs(1),
	RunE: runEvent,
}

func runEvent(cmd *cobra.Command, args []string) (err error) {
	ev, err := domain.DecodeEvent(domain.EventKind(args[0]), []byte(eventData))
	if err != nil {
		return err
	}

	svc, closeSvc, err := openService(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, closeSvc()) }()

	out, err := svc.Dispatch(cmd.Context(), domain.User(eventUser), ev)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}
