// Package report renders pipeline output for people and spreadsheets.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aegistrace/aegistrace/internal/intel"
)

// IndicatorColumns is the header row of the indicator export.
var IndicatorColumns = []string{
	"indicator", "type", "sources", "titles", "first_seen",
	"reputation", "country", "active", "campaigns", "details_url", "note",
}

// WriteIndicatorsCSV writes one row per enriched indicator. List fields are
// joined with ", "; absent values are empty cells.
func WriteIndicatorsCSV(w io.Writer, inds []intel.EnrichedIndicator) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(IndicatorColumns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, ind := range inds {
		firstSeen := ""
		if ind.FirstSeen != nil {
			firstSeen = ind.FirstSeen.UTC().Format(time.RFC3339)
		}
		row := []string{
			ind.Value,
			string(ind.Kind),
			strings.Join(ind.Sources, ", "),
			strings.Join(ind.Titles, ", "),
			firstSeen,
			ind.Reputation,
			intel.Deref(ind.Country),
			ind.Active,
			strings.Join(ind.Campaigns, ", "),
			intel.Deref(ind.DetailsURL),
			ind.Note,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row for %s: %w", ind.Value, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
