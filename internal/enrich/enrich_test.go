package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aegistrace/aegistrace/internal/intel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testIP     = "45.33.32.156"
	testDomain = "evil-c2.example.net"
	testHash   = "44d88612fea8a8f36de82e1278abb02f"
)

func ind(kind intel.Kind, value string) intel.Indicator {
	return intel.Indicator{Value: value, Kind: kind, Sources: []string{"#"}, Titles: []string{"t"}}
}

// fakeProviders serves AbuseIPDB, Pulsedive and VirusTotal from one server.
type fakeProviders struct {
	abuseStatus int
	pulseStatus int
	vtStatus    int
	pulseBody   string
	calls       int32
}

func (f *fakeProviders) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.calls, 1)
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		switch {
		case r.URL.Path == "/api/v2/check":
			assert.Equal(t, "abuse-key", r.Header.Get("Key"))
			assert.Equal(t, "application/json", r.Header.Get("Accept"))
			assert.Equal(t, "90", r.URL.Query().Get("maxAgeInDays"))
			if f.abuseStatus != 0 {
				w.WriteHeader(f.abuseStatus)
				return
			}
			fmt.Fprintf(w, `{"data":{"ipAddress":%q,"abuseConfidenceScore":85,"countryCode":"US"}}`,
				r.URL.Query().Get("ipAddress"))
		case r.URL.Path == "/api/info.php":
			assert.Equal(t, "1", r.URL.Query().Get("pretty"))
			if f.pulseStatus != 0 {
				w.WriteHeader(f.pulseStatus)
				return
			}
			body := f.pulseBody
			if body == "" {
				body = `{"risk":"high","tags":["Emotet","botnet"],"state":"active"}`
			}
			fmt.Fprint(w, body)
		case strings.HasPrefix(r.URL.Path, "/api/v3/files/"):
			assert.Equal(t, "vt-key", r.Header.Get("x-apikey"))
			if f.vtStatus != 0 {
				w.WriteHeader(f.vtStatus)
				return
			}
			fmt.Fprint(w, `{"data":{"attributes":{"last_analysis_stats":{"malicious":3,"suspicious":1,"harmless":60}}}}`)
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	})
}

func newTestOrchestrator(t *testing.T, f *fakeProviders, keys Keys, enabled bool, opts ...Option) *Orchestrator {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	ep := Endpoints{AbuseIPDB: srv.URL, Pulsedive: srv.URL, VirusTotal: srv.URL}
	providers := DefaultProviders(keys, ep, ClientOptions{Timeout: 2 * time.Second})
	return NewOrchestrator(Config{Enabled: enabled, Workers: 4}, providers, zaptest.NewLogger(t).Sugar(), opts...)
}

var allKeys = Keys{AbuseIPDB: "abuse-key", VirusTotal: "vt-key", Pulsedive: "pd-key"}

func TestEnrichIPWithAllProviders(t *testing.T) {
	o := newTestOrchestrator(t, &fakeProviders{}, allKeys, true)

	res := o.Enrich(context.Background(), ind(intel.KindIP, testIP))
	assert.Equal(t, "AbuseIPDB:85/100; Pulsedive:ok", res.Reputation)
	require.NotNil(t, res.Country)
	assert.Equal(t, "US", *res.Country)
	assert.Equal(t, "active", res.Active)
	assert.Equal(t, []string{"Emotet", "botnet"}, res.Campaigns)
	require.NotNil(t, res.DetailsURL)
	assert.Equal(t, "https://www.abuseipdb.com/check/"+testIP, *res.DetailsURL)
	assert.Empty(t, res.Note)
}

func TestEnrichIPWithoutAbuseKey(t *testing.T) {
	f := &fakeProviders{}
	o := newTestOrchestrator(t, f, Keys{}, true)

	res := o.Enrich(context.Background(), ind(intel.KindIP, testIP))
	assert.NotEmpty(t, res.Reputation)
	assert.Contains(t, res.Reputation, "AbuseIPDB:missing_key")
	assert.Equal(t, "AbuseIPDB:missing_key; Pulsedive:ok", res.Reputation)
	assert.Nil(t, res.Country)
	require.NotNil(t, res.DetailsURL)
	assert.Equal(t, "https://pulsedive.com/indicator/?ioc="+testIP, *res.DetailsURL)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.calls), "only Pulsedive should be called")
}

func TestEnrichIPProviderFailures(t *testing.T) {
	o := newTestOrchestrator(t, &fakeProviders{abuseStatus: http.StatusTooManyRequests, pulseStatus: http.StatusNotFound}, allKeys, true)

	res := o.Enrich(context.Background(), ind(intel.KindIP, testIP))
	assert.Equal(t, "AbuseIPDB:unavailable; Pulsedive:unavailable", res.Reputation)
	assert.Equal(t, intel.ActiveUnknown, res.Active)
	assert.Empty(t, res.Campaigns)
	assert.NotNil(t, res.Campaigns)
	assert.Nil(t, res.DetailsURL)
}

func TestEnrichDomainUsesPulsediveOnly(t *testing.T) {
	o := newTestOrchestrator(t, &fakeProviders{pulseBody: `{"tags":"phishing","status":"inactive"}`}, allKeys, true)

	res := o.Enrich(context.Background(), ind(intel.KindDomain, testDomain))
	assert.Equal(t, "Pulsedive:ok", res.Reputation)
	assert.Equal(t, []string{"phishing"}, res.Campaigns)
	assert.Equal(t, "inactive", res.Active)
	assert.Nil(t, res.Country)
	assert.Equal(t, "https://pulsedive.com/indicator/?ioc="+testDomain, intel.Deref(res.DetailsURL))
}

func TestEnrichPulsediveMalformedBodyIsError(t *testing.T) {
	o := newTestOrchestrator(t, &fakeProviders{pulseBody: `<html>`}, allKeys, true)

	res := o.Enrich(context.Background(), ind(intel.KindDomain, testDomain))
	assert.Equal(t, "Pulsedive:error", res.Reputation)
}

func TestEnrichHash(t *testing.T) {
	o := newTestOrchestrator(t, &fakeProviders{}, allKeys, true)

	res := o.Enrich(context.Background(), ind(intel.KindHash, testHash))
	assert.Equal(t, "VT:m=3,s=1", res.Reputation)
	assert.Equal(t, "https://www.virustotal.com/gui/file/"+testHash, intel.Deref(res.DetailsURL))
	assert.Equal(t, intel.ActiveUnknown, res.Active)
}

func TestEnrichHashNotFoundIsDistinct(t *testing.T) {
	notFound := newTestOrchestrator(t, &fakeProviders{vtStatus: http.StatusNotFound}, allKeys, true)
	down := newTestOrchestrator(t, &fakeProviders{vtStatus: http.StatusBadGateway}, allKeys, true)

	nf := notFound.Enrich(context.Background(), ind(intel.KindHash, testHash))
	un := down.Enrich(context.Background(), ind(intel.KindHash, testHash))

	assert.Equal(t, "VT:not_found", nf.Reputation)
	assert.Equal(t, "VT:unavailable", un.Reputation)
	assert.NotEqual(t, nf.Reputation, un.Reputation)
}

func TestEnrichHashWithoutKey(t *testing.T) {
	o := newTestOrchestrator(t, &fakeProviders{}, Keys{}, true)
	res := o.Enrich(context.Background(), ind(intel.KindHash, testHash))
	assert.Equal(t, "VT:missing_key", res.Reputation)
}

func TestEnrichTransportErrorToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	providers := DefaultProviders(allKeys, Endpoints{AbuseIPDB: url, Pulsedive: url, VirusTotal: url},
		ClientOptions{Timeout: time.Second})
	o := NewOrchestrator(Config{Enabled: true}, providers, zaptest.NewLogger(t).Sugar())

	res := o.Enrich(context.Background(), ind(intel.KindIP, testIP))
	assert.Equal(t, "AbuseIPDB:error; Pulsedive:error", res.Reputation)
}

func TestEnrichTimeoutIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p := NewVirusTotal(srv.URL, "vt-key", ClientOptions{Timeout: 50 * time.Millisecond})
	part := p.Lookup(context.Background(), ind(intel.KindHash, testHash))
	assert.Equal(t, "VT:error", part.Token)
	assert.True(t, part.Transient)
}

func TestEnrichDisabledCallsNothing(t *testing.T) {
	f := &fakeProviders{}
	o := newTestOrchestrator(t, f, allKeys, false)

	for _, i := range []intel.Indicator{ind(intel.KindIP, testIP), ind(intel.KindHash, testHash)} {
		res := o.Enrich(context.Background(), i)
		assert.Equal(t, "disabled", res.Reputation)
		assert.Equal(t, "enrichment disabled", res.Note)
		assert.Equal(t, intel.ActiveUnknown, res.Active)
		assert.Empty(t, res.Campaigns)
	}
	assert.Zero(t, atomic.LoadInt32(&f.calls))
}

type panickyProvider struct{}

func (panickyProvider) Name() string { return "panicky" }

func (panickyProvider) Supports(intel.Kind) bool { return true }

func (panickyProvider) Lookup(context.Context, intel.Indicator) Partial {
	var m map[string]int
	m["boom"]++
	return Partial{}
}

func TestEnrichPanicBecomesErrorResult(t *testing.T) {
	o := NewOrchestrator(Config{Enabled: true}, []Provider{panickyProvider{}}, zaptest.NewLogger(t).Sugar())

	res := o.Enrich(context.Background(), ind(intel.KindDomain, testDomain))
	assert.Equal(t, "error", res.Reputation)
	assert.True(t, strings.HasPrefix(res.Note, "error:"), res.Note)
	assert.Equal(t, intel.ActiveUnknown, res.Active)
	assert.NotNil(t, res.Campaigns)
	assert.Nil(t, res.DetailsURL)
}

func TestEnrichNoProvidersIsNoData(t *testing.T) {
	o := NewOrchestrator(Config{Enabled: true}, nil, nil)
	res := o.Enrich(context.Background(), ind(intel.KindDomain, testDomain))
	assert.Equal(t, "no_data", res.Reputation)
}

func TestEnrichAllKeepsOrder(t *testing.T) {
	o := newTestOrchestrator(t, &fakeProviders{}, allKeys, true)

	inds := []intel.Indicator{
		ind(intel.KindHash, testHash),
		ind(intel.KindIP, testIP),
		ind(intel.KindDomain, testDomain),
	}
	out := o.EnrichAll(context.Background(), inds)
	require.Len(t, out, 3)
	for i := range inds {
		assert.Equal(t, inds[i].Value, out[i].Value)
		assert.Equal(t, inds[i].Sources, out[i].Sources)
	}
	assert.Equal(t, "VT:m=3,s=1", out[0].Reputation)
	assert.Equal(t, "Pulsedive:ok", out[2].Reputation)
}

func TestEnrichUsesCacheForDefinitiveResults(t *testing.T) {
	f := &fakeProviders{}
	cache := NewMemoryCache(10, time.Minute)
	o := newTestOrchestrator(t, f, allKeys, true, WithCache(cache))

	first := o.Enrich(context.Background(), ind(intel.KindHash, testHash))
	second := o.Enrich(context.Background(), ind(intel.KindHash, testHash))
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.calls))
}

func TestEnrichSkipsCacheForTransientResults(t *testing.T) {
	f := &fakeProviders{vtStatus: http.StatusServiceUnavailable}
	cache := NewMemoryCache(10, time.Minute)
	o := newTestOrchestrator(t, f, allKeys, true, WithCache(cache))

	o.Enrich(context.Background(), ind(intel.KindHash, testHash))
	o.Enrich(context.Background(), ind(intel.KindHash, testHash))
	assert.Equal(t, int32(2), atomic.LoadInt32(&f.calls))
}
