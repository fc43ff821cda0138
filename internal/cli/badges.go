package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valdirmariano/altaper4mance-sub000/internal/daemon"
	"github.com/valdirmariano/altaper4mance-sub000/internal/domain"
)

func init() {
	rootCmd.AddCommand(badgesCmd)
}

var badgesCmd = &cobra.Command{
	Use:     "badges",
	Aliases: []string{"ls"},
	Short:   "List the badge catalog",
	RunE:    runBadges,
}

func runBadges(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := daemon.NewDispatcher(cfg)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCATEGORY\tNAME\tUNLOCKS AT")
	for _, def := range d.Registry().Definitions() {
		fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\n",
			def.ID,
			def.Category,
			def.Icon,
			def.Name,
			describeRule(def.Rule),
		)
	}
	return w.Flush()
}

func describeRule(r domain.BadgeRule) string {
	switch r.Metric {
	case domain.MetricCounter:
		return fmt.Sprintf("%s >= %g", r.Counter, r.Min)
	default:
		return fmt.Sprintf("%s >= %g", r.Metric, r.Min)
	}
}
