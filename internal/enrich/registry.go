package enrich

// Keys are the provider API credentials. Each may be empty.
type Keys struct {
	AbuseIPDB  string
	VirusTotal string
	Pulsedive  string
}

// Endpoints override provider base URLs. Empty fields use the public APIs.
type Endpoints struct {
	AbuseIPDB  string `mapstructure:"abuseipdb"`
	Pulsedive  string `mapstructure:"pulsedive"`
	VirusTotal string `mapstructure:"virustotal"`
}

// DefaultProviders returns the providers in call order: AbuseIPDB, then
// Pulsedive, then VirusTotal.
func DefaultProviders(keys Keys, ep Endpoints, opts ClientOptions) []Provider {
	return []Provider{
		NewAbuseIPDB(ep.AbuseIPDB, keys.AbuseIPDB, opts),
		NewPulsedive(ep.Pulsedive, keys.Pulsedive, opts),
		NewVirusTotal(ep.VirusTotal, keys.VirusTotal, opts),
	}
}
