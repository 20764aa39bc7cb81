// Package mapper implements the URL/Domain Mapper (spec.md §4.A): the
// bidirectional mirror<->origin URL translation, including the
// external-domain path encoding and the media-extension table shared with
// the CSS rewriter.
package mapper

import (
	"net/url"
	"strings"

	"github.com/mirrorproxy/internal/site"
)

// MediaExtensions is the fixed set of suffixes treated as media/download
// resources by the mapper and the CSS url() rewriter (spec.md §4.G).
var MediaExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg", ".ico", ".bmp",
	".mp4", ".mkv", ".avi", ".mov", ".m3u8", ".webm", ".flv", ".wmv",
	".mp3", ".wav", ".ogg", ".aac", ".flac", ".m4a",
	".zip", ".rar", ".7z", ".tar", ".gz", ".bz2",
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
	".apk", ".exe", ".dmg", ".deb", ".rpm",
	".ttf", ".woff", ".woff2", ".eot", ".otf",
}

// IsMediaURL reports whether rawURL's path ends (case-insensitively) in a
// known media/download extension.
func IsMediaURL(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, ext := range MediaExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// Mapper performs forward and reverse URL translation for one site.
type Mapper struct {
	MirrorRoot string
	SourceRoot string
}

// New returns a Mapper bound to a site's mirror/source roots.
func New(mirrorRoot, sourceRoot string) Mapper {
	return Mapper{MirrorRoot: mirrorRoot, SourceRoot: sourceRoot}
}

// isEncodedExternalDomain reports whether a path segment looks like an
// encoded external host: it contains a dot and no spaces (spec.md §4.A.1).
func isEncodedExternalDomain(segment string) bool {
	return strings.Contains(segment, ".") && !strings.Contains(segment, " ")
}

// Forward builds the origin URL for an incoming mirror request (spec.md
// §4.A "Forward"). host is the request Host with any port already
// stripped; path is the request path (leading slash assumed); rawQuery is
// the raw query string without the leading '?'.
func (m Mapper) Forward(host, path, rawQuery string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	trimmed := strings.TrimPrefix(path, "/")
	parts := strings.SplitN(trimmed, "/", 2)

	if parts[0] != "" && isEncodedExternalDomain(parts[0]) {
		rest := "/"
		if len(parts) > 1 {
			rest = "/" + parts[1]
		}
		u := "https://" + parts[0] + rest
		if rawQuery != "" {
			u += "?" + rawQuery
		}
		return u
	}

	originHost := m.mapMirrorHostToOriginHost(host)
	u := "https://" + originHost + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

func (m Mapper) mapMirrorHostToOriginHost(host string) string {
	if host == m.MirrorRoot {
		return m.SourceRoot
	}
	suffix := "." + m.MirrorRoot
	if strings.HasSuffix(host, suffix) {
		prefix := strings.TrimSuffix(host, suffix)
		return prefix + "." + m.SourceRoot
	}
	return host
}

func (m Mapper) mapOriginHostToMirrorHost(host string) string {
	if host == m.SourceRoot {
		return m.MirrorRoot
	}
	suffix := "." + m.SourceRoot
	if strings.HasSuffix(host, suffix) {
		prefix := strings.TrimSuffix(host, suffix)
		return prefix + "." + m.MirrorRoot
	}
	return host
}

// isPassthroughScheme reports whether a URL is one of the fixed set of
// schemes/fragments the reverse mapper must leave untouched (spec.md
// §4.A.1: data:, javascript:, mailto:, #...).
func isPassthroughScheme(u string) bool {
	return u == "" ||
		strings.HasPrefix(u, "data:") ||
		strings.HasPrefix(u, "javascript:") ||
		strings.HasPrefix(u, "mailto:") ||
		strings.HasPrefix(u, "#")
}

// makeAbsolute resolves rawURL against the current page's origin URL,
// handling protocol-relative "//host/..." forms explicitly.
func makeAbsolute(rawURL, baseURL string) string {
	if isPassthroughScheme(rawURL) {
		return rawURL
	}
	if strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://") {
		return rawURL
	}
	if strings.HasPrefix(rawURL, "//") {
		base, err := url.Parse(baseURL)
		scheme := "https"
		if err == nil && base.Scheme != "" {
			scheme = base.Scheme
		}
		return scheme + ":" + rawURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return rawURL
	}
	ref, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return base.ResolveReference(ref).String()
}

// Reverse maps an absolute or relative URL found in origin content back
// into the mirror namespace (spec.md §4.A "Reverse"). currentPageOriginURL
// is the absolute origin URL of the page the link was found on (the base
// for relative resolution); proxyExternalDomains is the effective config
// flag gating external-domain re-encoding; mediaPolicyBypass, when true,
// leaves media URLs pointing at the origin unchanged.
func (m Mapper) Reverse(rawURL, currentPageOriginURL string, proxyExternalDomains, mediaPolicyBypass bool) string {
	if isPassthroughScheme(rawURL) {
		return rawURL
	}

	absolute := makeAbsolute(rawURL, currentPageOriginURL)

	if mediaPolicyBypass && IsMediaURL(absolute) {
		return absolute
	}

	parsed, err := url.Parse(absolute)
	if err != nil || parsed.Hostname() == "" {
		return rawURL
	}

	host := parsed.Hostname()
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}

	if host == m.SourceRoot || strings.HasSuffix(host, "."+m.SourceRoot) {
		newHost := m.mapOriginHostToMirrorHost(host)
		return rebuild(newHost, path, parsed.RawQuery, parsed.Fragment)
	}

	if !proxyExternalDomains {
		return absolute
	}

	encodedPath := "/" + host + path
	return rebuild(m.MirrorRoot, encodedPath, parsed.RawQuery, parsed.Fragment)
}

func rebuild(host, path, rawQuery, fragment string) string {
	u := "https://" + host + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	if fragment != "" {
		u += "#" + fragment
	}
	return u
}

// EncodeExternalPath converts an external host+path into the mirror's
// encoded path form "/host/path" (spec.md glossary: External-domain
// encoding).
func EncodeExternalPath(externalHost, externalPath string) string {
	if !strings.HasPrefix(externalPath, "/") {
		externalPath = "/" + externalPath
	}
	return "/" + externalHost + externalPath
}

// NormalizeRedirect resolves a Location header value (possibly relative)
// to an absolute URL against the origin URL that produced the redirect
// (spec.md §4.I step 13).
func NormalizeRedirect(location, originURL string) string {
	if location == "" {
		return location
	}
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return location
	}
	base, err := url.Parse(originURL)
	if err != nil {
		return location
	}
	ref, err := url.Parse(location)
	if err != nil {
		return location
	}
	return base.ResolveReference(ref).String()
}

// ForSite is a convenience constructor reading MirrorRoot/SourceRoot off a
// site.Site.
func ForSite(s *site.Site) Mapper {
	return New(s.MirrorRoot, s.SourceRoot)
}
