package cmd

import (
	"fmt"
	"strings"

	"github.com/aegistrace/aegistrace/internal/store"
	"github.com/spf13/cobra"
)

var statsDays int

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show daily threat counts",
	Long: `Stats prints how many threats were stored per day over the last --days days.

Examples:
  aegistrace stats
  aegistrace stats --days 7`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().IntVar(&statsDays, "days", 30, "Number of days to include")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.NewStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	counts, err := st.ThreatCounts(ctx, statsDays)
	if err != nil {
		return fmt.Errorf("failed to load threat counts: %w", err)
	}
	if len(counts) == 0 {
		fmt.Printf("No threats stored in the last %d days.\n", statsDays)
		return nil
	}

	max := 0
	for _, c := range counts {
		if c.Count > max {
			max = c.Count
		}
	}
	for _, c := range counts {
		bar := strings.Repeat("#", (c.Count*40+max-1)/max)
		fmt.Printf("%s %5d %s\n", c.Day, c.Count, bar)
	}
	return nil
}
