package proxy

// forwardHeaders is the exact set of client request headers carried
// upstream (spec.md §6). Host is set separately, and a forwarded Referer
// is then overwritten with the origin URL, so neither reaches the origin
// verbatim.
var forwardHeaders = []string{
	"User-Agent",
	"Accept",
	"Accept-Language",
	"Accept-Encoding",
	"Content-Type",
	"Referer",
}

// stripResponseHeaders lists origin response headers dropped before
// emission (spec.md §6) — session/security headers that would leak origin
// policy into the mirror, plus headers the Go HTTP stack recomputes itself.
var stripResponseHeaders = map[string]bool{
	"set-cookie":                  true,
	"content-security-policy":     true,
	"strict-transport-security":   true,
	"x-frame-options":             true,
	"access-control-allow-origin": true,
	"content-encoding":            true,
	"transfer-encoding":           true,
	"content-length":              true,
}

// redirectSafeHeaders is the narrow allowlist copied onto a rewritten 3xx
// response besides Location (spec.md §4.I step 13).
var redirectSafeHeaders = []string{
	"Cache-Control",
	"Expires",
}
