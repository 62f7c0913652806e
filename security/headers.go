package security

import (
	"net/http"
	"net/url"
)

// SetSecurityHeaders applies hardening headers suited to token and
// authorization endpoints: no framing, no sniffing, no referrer leakage, no
// caching of responses that may carry codes or tokens. HSTS is added only
// when the issuer is served over HTTPS.
func SetSecurityHeaders(w http.ResponseWriter, issuerURL string) {
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	w.Header().Set("Referrer-Policy", "no-referrer")

	if parsed, err := url.Parse(issuerURL); err == nil && parsed.Scheme == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// Responses on these endpoints can carry bearer credentials.
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
}
