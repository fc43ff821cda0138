package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/valdirmariano/altaper4mance-sub000/internal/app/progression"
	"github.com/valdirmariano/altaper4mance-sub000/internal/domain"
)

func init() {
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats <user>",
	Short: "Show a user's level, XP, streak and badges",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) (err error) {
	svc, closeSvc, err := openService(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, closeSvc()) }()

	stats, err := svc.Stats(cmd.Context(), domain.User(args[0]))
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), struct {
		domain.UserStats
		Progress progression.Progress `json:"progress"`
	}{stats, progression.ProgressFor(stats.XP)})
}
