package security

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the address used for rate limiting and audit records.
//
// With trustProxy unset only RemoteAddr is used. With trustProxy set the
// X-Forwarded-For entry appended by the nearest trusted proxy is taken, that
// is the entry trustedHops positions from the right (trustedHops < 1 means 1).
// X-Real-IP is the fallback when X-Forwarded-For holds no usable address.
func ClientIP(r *http.Request, trustProxy bool, trustedHops int) string {
	if trustProxy {
		if ip := forwardedFor(r.Header.Values("X-Forwarded-For"), trustedHops); ip != "" {
			return ip
		}
		if ip := parseAddr(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func forwardedFor(values []string, trustedHops int) string {
	var hops []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				hops = append(hops, part)
			}
		}
	}
	if len(hops) == 0 {
		return ""
	}
	if trustedHops < 1 {
		trustedHops = 1
	}
	idx := len(hops) - trustedHops
	if idx < 0 {
		idx = 0
	}
	return parseAddr(hops[idx])
}

func parseAddr(s string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return ""
	}
	return addr.Unmap().String()
}
