package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP extracts the client IP for rate limiting and audit
// correlation. With trustProxy set it consults X-Forwarded-For and
// X-Real-IP; trustedProxyCount says how many rightmost entries of
// X-Forwarded-For are proxies under our control, which is what stops a
// client from spoofing its own position in the chain. Without trustProxy
// the connection's remote address is used as-is.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := ipFromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := r.Header.Get("X-Real-IP"); net.ParseIP(ip) != nil {
			return ip
		}
	}
	return ipFromRemoteAddr(r.RemoteAddr)
}

// ipFromForwardedFor picks the client entry out of an X-Forwarded-For list
// of the form "client, proxy1, proxy2". The client sits immediately left of
// the trusted proxies, so its index is len(entries)-trustedProxyCount-1.
func ipFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	entries := strings.Split(xff, ",")
	if trustedProxyCount <= 0 {
		trustedProxyCount = 1
	}

	idx := len(entries) - trustedProxyCount - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(entries[idx])
	if net.ParseIP(ip) != nil {
		return ip
	}
	return ""
}

func ipFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
