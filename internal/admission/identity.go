package admission

import (
	"net"
	"net/http"
	"strings"
)

// DefaultIdentityHeaders is the preference order used to find the client
// address behind proxies.
var DefaultIdentityHeaders = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"CF-Connecting-IP",
	"True-Client-IP",
}

// ClientIdentity returns the first non-empty value among headers, in order,
// falling back to the host part of r.RemoteAddr. For list-valued headers such
// as X-Forwarded-For only the first hop is used.
func ClientIdentity(r *http.Request, headers []string) string {
	for _, name := range headers {
		v := r.Header.Get(name)
		if v == "" {
			continue
		}
		if i := strings.IndexByte(v, ','); i >= 0 {
			v = v[:i]
		}
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
