// Package enrich queries reputation providers for each indicator and folds
// their answers into one intel.Enrichment.
package enrich

import (
	"context"
	"errors"

	"github.com/aegistrace/aegistrace/internal/intel"
)

// Provider looks up one indicator at one reputation service. Lookup never
// returns an error: failures are expressed as tokens in the Partial.
type Provider interface {
	Name() string
	Supports(kind intel.Kind) bool
	Lookup(ctx context.Context, ind intel.Indicator) Partial
}

// Partial is one provider's contribution to an enrichment.
type Partial struct {
	Provider   string
	Token      string
	Country    *string
	Active     string
	Campaigns  []string
	DetailsURL *string
	// Transient is set when the provider could not answer this run, so the
	// result must not be cached.
	Transient bool
	Err       error
}

// Token verdicts shared by providers.
const (
	verdictOK          = "ok"
	verdictUnavailable = "unavailable"
	verdictError       = "error"
	verdictMissingKey  = "missing_key"
	verdictNotFound    = "not_found"
)

func token(prefix, verdict string) string {
	return prefix + ":" + verdict
}

// failure maps a lookup error onto the unavailable/error/not_found tokens.
// A response that arrived with a bad status is "unavailable"; everything that
// went wrong client side, including undecodable bodies, is "error".
func failure(name, prefix string, err error, notFoundDistinct bool) Partial {
	p := Partial{Provider: name, Err: err}
	switch {
	case notFoundDistinct && errors.Is(err, ErrNotFound):
		p.Token = token(prefix, verdictNotFound)
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnexpectedStatus):
		p.Token = token(prefix, verdictUnavailable)
		p.Transient = true
	default:
		p.Token = token(prefix, verdictError)
		p.Transient = true
	}
	return p
}
