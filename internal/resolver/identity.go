package resolver

import (
	"fmt"
	"math/rand"
	"net/http"

	"audio-converter/internal/converter"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
}

var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.8",
	"en-US,en;q=0.8,de;q=0.6",
}

// RotateIdentity returns a randomized browser identity for the retry made
// after the upstream blocks a request. It satisfies converter.IdentityFunc.
func RotateIdentity() converter.RequestIdentity {
	return converter.RequestIdentity{
		UserAgent:      userAgents[rand.Intn(len(userAgents))],
		ForwardedFor:   randomIPv4(),
		AcceptLanguage: acceptLanguages[rand.Intn(len(acceptLanguages))],
	}
}

// reservedOctets are first octets that hold private, loopback or link-local
// ranges.
var reservedOctets = map[int]bool{0: true, 10: true, 127: true, 169: true, 172: true, 192: true}

func randomIPv4() string {
	first := 0
	for reservedOctets[first] {
		first = 1 + rand.Intn(223)
	}
	return fmt.Sprintf("%d.%d.%d.%d", first, rand.Intn(256), rand.Intn(256), 1+rand.Intn(254))
}

// headerTransport sets fixed headers on every outgoing request.
type headerTransport struct {
	base   http.RoundTripper
	header http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.header) == 0 {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	for k, v := range t.header {
		req.Header[k] = v
	}
	return t.base.RoundTrip(req)
}
