package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valdirmariano/altaper4mance-sub000/internal/app/progression"
)

func init() {
	rootCmd.AddCommand(levelCmd)
}

var levelCmd = &cobra.Command{
	Use:   "level <xp>",
	Short: "Show the level, remainder and progress for a total XP",
	Args:  cobra.ExactArgs(1),
	RunE:  runLevel,
}

func runLevel(cmd *cobra.Command, args []string) error {
	xp, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || xp < 0 {
		return fmt.Errorf("xp must be a non-negative integer, got %q", args[0])
	}
	p := progression.ProgressFor(xp)
	fmt.Fprintf(cmd.OutOrStdout(), "Level %d  %s\n", p.Level, renderBar(p.ProgressPercent))
	fmt.Fprintf(cmd.OutOrStdout(), "  %d / %d XP into this level, %d to go\n",
		p.RemainderXP, p.Threshold, p.XPToNextLevel)
	return nil
}

// ─── Progress Bar ───────────────────────────────────────────────────────────
// [████████████░░░░░░░░░░░░░░░░░░] 42%

const barWidth = 30 // Characters for the progress bar

func renderBar(pct float64) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int(pct / 100 * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	return fmt.Sprintf("[%s%s] %3.0f%%",
		strings.Repeat("█", filled),
		strings.Repeat("░", barWidth-filled),
		pct,
	)
}
