package ioc

import (
	"regexp"
	"time"

	"github.com/dlclark/regexp2"
)

const (
	ipv4Pattern   = `\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`
	domainPattern = `\b(?:(?!-)[A-Za-z0-9-]{1,63}(?<!-)\.)+[A-Za-z]{2,24}\b`
)

// matchTimeout bounds a single domain scan. The domain pattern backtracks.
const matchTimeout = 250 * time.Millisecond

var (
	ipv4RE       = regexp.MustCompile(ipv4Pattern)
	ipv4PrefixRE = regexp.MustCompile(`^` + ipv4Pattern)

	// MD5, SHA-1 and SHA-256 digests all map to KindHash.
	hashREs = []*regexp.Regexp{
		regexp.MustCompile(`\b[a-fA-F0-9]{32}\b`),
		regexp.MustCompile(`\b[a-fA-F0-9]{40}\b`),
		regexp.MustCompile(`\b[a-fA-F0-9]{64}\b`),
	}

	// The lookarounds are not expressible in RE2, hence regexp2.
	domainRE       = mustCompile2(domainPattern)
	domainPrefixRE = mustCompile2(`\A` + domainPattern)
)

func mustCompile2(pattern string) *regexp2.Regexp {
	re := regexp2.MustCompile(pattern, regexp2.None)
	re.MatchTimeout = matchTimeout
	return re
}

// findAll2 returns every non-overlapping match of re in s. A match timeout
// ends the scan early and keeps what was found so far.
func findAll2(re *regexp2.Regexp, s string) []string {
	var out []string
	m, err := re.FindStringMatch(s)
	for err == nil && m != nil {
		out = append(out, m.String())
		m, err = re.FindNextMatch(m)
	}
	return out
}

// LooksLikeDomain reports whether s starts with a domain name.
func LooksLikeDomain(s string) bool {
	ok, err := domainPrefixRE.MatchString(s)
	return err == nil && ok
}

// LooksLikeIPv4 reports whether s starts with a dotted IPv4 address.
func LooksLikeIPv4(s string) bool {
	return ipv4PrefixRE.MatchString(s)
}
