package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aegistrace/aegistrace/internal/intel"
)

const timeLayout = "2006-01-02 15:04:05"

// WriteRunSummary prints a short human summary of a finished run.
func WriteRunSummary(w io.Writer, run *intel.Run) {
	fmt.Fprintf(w, "Run %s finished in %s\n", run.ID, run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "  Threats: %d\n", len(run.Threats))

	perSource := map[string]int{}
	for _, t := range run.Threats {
		perSource[t.Source]++
	}
	sources := make([]string, 0, len(perSource))
	for s := range perSource {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	for _, s := range sources {
		fmt.Fprintf(w, "    %-50s %d\n", s, perSource[s])
	}

	perKind := map[intel.Kind]int{}
	for _, ind := range run.Indicators {
		perKind[ind.Kind]++
	}
	fmt.Fprintf(w, "  Indicators: %d", len(run.Indicators))
	var parts []string
	for _, k := range intel.Kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, perKind[k]))
	}
	fmt.Fprintf(w, " (%s)\n", strings.Join(parts, " "))
}

// WriteThreats prints threats as a numbered list.
func WriteThreats(w io.Writer, threats []intel.ThreatRecord) {
	for i, t := range threats {
		fmt.Fprintf(w, "%d. %s\n", i+1, t.Title)
		fmt.Fprintf(w, "   Source: %s\n", t.Source)
		fmt.Fprintf(w, "   Time: %s\n", t.Timestamp.UTC().Format(timeLayout))
		if t.ThreatType != "" {
			fmt.Fprintf(w, "   Type: %s\n", t.ThreatType)
		}
		if t.URL != "" && t.URL != intel.URLPlaceholder {
			fmt.Fprintf(w, "   URL: %s\n", t.URL)
		}
		fmt.Fprintln(w)
	}
}

// WriteIndicators prints enriched indicators as a numbered list.
func WriteIndicators(w io.Writer, inds []intel.EnrichedIndicator) {
	for i, ind := range inds {
		fmt.Fprintf(w, "%d. [%s] %s\n", i+1, strings.ToUpper(string(ind.Kind)), ind.Value)
		fmt.Fprintf(w, "   Reputation: %s\n", ind.Reputation)
		if c := intel.Deref(ind.Country); c != "" {
			fmt.Fprintf(w, "   Country: %s\n", c)
		}
		fmt.Fprintf(w, "   Active: %s\n", ind.Active)
		if len(ind.Campaigns) > 0 {
			fmt.Fprintf(w, "   Campaigns: %s\n", strings.Join(ind.Campaigns, ", "))
		}
		if d := intel.Deref(ind.DetailsURL); d != "" {
			fmt.Fprintf(w, "   Details: %s\n", d)
		}
		if ind.Note != "" {
			fmt.Fprintf(w, "   Note: %s\n", ind.Note)
		}
		fmt.Fprintf(w, "   Seen in: %s\n", strings.Join(ind.Sources, ", "))
		fmt.Fprintln(w)
	}
}
