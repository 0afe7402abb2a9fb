package enrich

import (
	"fmt"
	"strings"

	"github.com/aegistrace/aegistrace/internal/intel"
)

const (
	tokenSeparator = "; "

	ReputationNoData   = "no_data"
	ReputationDisabled = "disabled"
	ReputationError    = "error"
	NoteDisabled       = "enrichment disabled"
)

// Reduce folds provider partials, in call order, into one enrichment:
//   - reputation joins the non-empty tokens with "; ", or is "no_data";
//   - country and details_url keep the first value supplied;
//   - active takes the last non-empty state, default "unknown";
//   - campaigns are the union in first-seen order.
func Reduce(partials []Partial) intel.Enrichment {
	res := intel.NewEnrichment()

	var tokens []string
	seen := make(map[string]struct{})
	for _, p := range partials {
		if p.Token != "" {
			tokens = append(tokens, p.Token)
		}
		if res.Country == nil && p.Country != nil {
			res.Country = p.Country
		}
		if res.DetailsURL == nil && p.DetailsURL != nil {
			res.DetailsURL = p.DetailsURL
		}
		if p.Active != "" {
			res.Active = p.Active
		}
		for _, c := range p.Campaigns {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			res.Campaigns = append(res.Campaigns, c)
		}
	}

	res.Reputation = strings.Join(tokens, tokenSeparator)
	if res.Reputation == "" {
		res.Reputation = ReputationNoData
	}
	return res
}

// Disabled is the result stamped on every indicator when enrichment is off.
func Disabled() intel.Enrichment {
	res := intel.NewEnrichment()
	res.Reputation = ReputationDisabled
	res.Note = NoteDisabled
	return res
}

// Failed is the result for an indicator whose enrichment broke unexpectedly.
// The note names the dynamic type of the failure value.
func Failed(cause any) intel.Enrichment {
	res := intel.NewEnrichment()
	res.Reputation = ReputationError
	res.Note = fmt.Sprintf("error:%T", cause)
	return res
}
