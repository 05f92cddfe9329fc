package clientip

import (
	"net"
	"net/http"
	"net/textproto"
	"strings"
)

// Resolver extracts the client IP from a request, consulting only the
// proxy headers it was told to trust.
type Resolver struct {
	headers []string
}

// New returns a Resolver trusting headers in the given priority order.
// With no headers the TCP peer address is always used.
func New(headers ...string) *Resolver {
	r := &Resolver{headers: make([]string, 0, len(headers))}
	for _, h := range headers {
		if h = strings.TrimSpace(h); h != "" {
			r.headers = append(r.headers, textproto.CanonicalMIMEHeaderKey(h))
		}
	}
	return r
}

// IP returns the normalized client IP, or an empty string if neither a
// trusted header nor RemoteAddr holds a valid address.
func (rs *Resolver) IP(r *http.Request) string {
	for _, h := range rs.headers {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		// X-Forwarded-For style lists carry the originating client first.
		for ip := range strings.SplitSeq(v, ",") {
			if parsed := parseIP(ip); parsed != "" {
				return parsed
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return parseIP(r.RemoteAddr)
	}
	return parseIP(host)
}

func parseIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
