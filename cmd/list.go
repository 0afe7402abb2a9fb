package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aegistrace/aegistrace/internal/intel"
	"github.com/aegistrace/aegistrace/internal/store"
	"github.com/spf13/cobra"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list [threats|iocs|runs]",
	Short: "List stored threats, indicators and runs",
	Long: `List threats, enriched indicators or the run log from the database in a
simple text format.

Examples:
  # Latest threats
  aegistrace list threats --limit 10

  # IP indicators stored in the last day
  aegistrace list iocs --type ip --since 24h

  # Run history
  aegistrace list runs`,
	Args: cobra.MaximumNArgs(1),
	RunE: runList,
}

var (
	listType string
	iocTypes []string
	limit    int
	sinceStr string
)

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listType, "what", "threats", "What to list: threats, iocs, runs")
	listCmd.Flags().StringSliceVar(&iocTypes, "type", nil, "Indicator types to include: ip, domain, hash")
	listCmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of items to show")
	listCmd.Flags().StringVar(&sinceStr, "since", "", "Only items since an RFC3339 time or a duration ago, e.g. 2025-08-26T20:00:00Z or 24h")
}

func runList(cmd *cobra.Command, args []string) error {
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

	targetType := strings.ToLower(listType)
	if len(args) > 0 {
		targetType = strings.ToLower(args[0])
	}

	since, err := parseSince(sinceStr, time.Now())
	if err != nil {
		return err
	}

	switch targetType {
	case "threats":
		return listThreats(ctx, st, since)
	case "iocs", "indicators":
		kinds, err := parseKinds(iocTypes)
		if err != nil {
			return err
		}
		return listIOCs(ctx, st, kinds, since)
	case "runs":
		return listRuns(ctx, st)
	default:
		return fmt.Errorf("unknown list type: %s (use 'threats', 'iocs' or 'runs')", targetType)
	}
}

// parseSince accepts an RFC3339 timestamp or a duration counted back from now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since value %q: want RFC3339 or a duration", s)
	}
	return t, nil
}

func parseKinds(raw []string) ([]intel.Kind, error) {
	var kinds []intel.Kind
	for _, r := range raw {
		k, ok := intel.ParseKind(r)
		if !ok {
			return nil, fmt.Errorf("unknown indicator type %q (use ip, domain or hash)", r)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func listThreats(ctx context.Context, st *store.Store, since time.Time) error {
	threats, err := st.ListThreats(ctx, since, limit)
	if err != nil {
		return fmt.Errorf("failed to list threats: %w", err)
	}
	if len(threats) == 0 {
		fmt.Println("No threats found.")
		return nil
	}

	fmt.Printf("Showing %d threats:\n\n", len(threats))
	for i, t := range threats {
		fmt.Printf("%d. %s\n", i+1, t.Title)
		fmt.Printf("   Source: %s\n", t.Source)
		fmt.Printf("   Time: %s\n", t.Timestamp.Format("2006-01-02 15:04:05"))
		if t.ThreatType != "" {
			fmt.Printf("   Type: %s\n", t.ThreatType)
		}
		if t.URL != "" && t.URL != intel.URLPlaceholder {
			fmt.Printf("   URL: %s\n", t.URL)
		}
		fmt.Printf("   Run: %s\n", t.RunID)
		fmt.Println()
	}
	return nil
}

func listIOCs(ctx context.Context, st *store.Store, kinds []intel.Kind, since time.Time) error {
	iocs, err := st.ListIndicators(ctx, kinds, since, limit)
	if err != nil {
		return fmt.Errorf("failed to list indicators: %w", err)
	}
	if len(iocs) == 0 {
		fmt.Println("No indicators found.")
		return nil
	}

	fmt.Printf("Showing %d indicators:\n\n", len(iocs))
	for i, ioc := range iocs {
		fmt.Printf("%d. [%s] %s\n", i+1, strings.ToUpper(ioc.Type), ioc.Indicator)
		fmt.Printf("   Reputation: %s\n", ioc.Reputation)
		if ioc.Country != "" {
			fmt.Printf("   Country: %s\n", ioc.Country)
		}
		fmt.Printf("   Active: %s\n", ioc.Active)
		if len(ioc.Campaigns) > 0 {
			fmt.Printf("   Campaigns: %s\n", strings.Join(ioc.Campaigns, ", "))
		}
		if ioc.DetailsURL != "" {
			fmt.Printf("   Details: %s\n", ioc.DetailsURL)
		}
		fmt.Printf("   Sources: %s\n", strings.Join(ioc.Sources, ", "))
		fmt.Println()
	}
	return nil
}

func listRuns(ctx context.Context, st *store.Store) error {
	runs, err := st.ListRuns(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	fmt.Printf("Showing %d runs:\n\n", len(runs))
	for i, r := range runs {
		fmt.Printf("%d. %s\n", i+1, r.ID)
		fmt.Printf("   Started: %s\n", r.StartedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("   Duration: %s\n", r.FinishedAt.Sub(r.StartedAt))
		fmt.Printf("   Threats: %d  Indicators: %d (ip=%s domain=%s hash=%s)\n",
			r.Threats, r.Indicators, r.Metadata["ip"], r.Metadata["domain"], r.Metadata["hash"])
		fmt.Println()
	}
	return nil
}
