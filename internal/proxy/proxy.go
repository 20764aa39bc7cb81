// Package proxy implements the request orchestrator (spec.md §4.I): the
// single handler that admits, resolves, dispatches, transforms and emits
// every mirrored request, tying together every other component package.
// Grounded on the original's proxy_handler/proxy_request pair and shaped,
// as a plain http.Handler, after the teacher's gateway.Proxy.ServeHTTP.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mirrorproxy/internal/cookiejar"
	"github.com/mirrorproxy/internal/events"
	"github.com/mirrorproxy/internal/filter"
	"github.com/mirrorproxy/internal/mapper"
	"github.com/mirrorproxy/internal/ratelimit"
	"github.com/mirrorproxy/internal/rewrite"
	"github.com/mirrorproxy/internal/session"
	"github.com/mirrorproxy/internal/site"
)

// SSRFGuard validates a candidate origin URL before it is dialed.
// *ssrf.Guard satisfies this; tests substitute a stub so they can point at
// an httptest server without tripping the real loopback block.
type SSRFGuard interface {
	Check(ctx context.Context, rawURL string) error
}

// AdminHostChecker reports whether a Host header must never be proxied.
// *config.Settings satisfies this.
type AdminHostChecker interface {
	IsAdminHost(host string) bool
}

// Settings is the subset of ambient configuration the orchestrator needs.
type Settings struct {
	AdminHost          AdminHostChecker
	EnableRateLimiting bool
	MaxResponseSizeMB  int
	RequestTimeout     time.Duration
}

// Orchestrator implements the full per-request pipeline described in
// spec.md §4.I as a standard http.Handler.
type Orchestrator struct {
	settings Settings
	registry site.Registry
	config   site.ConfigStore
	limiter  *ratelimit.Limiter
	ssrf     SSRFGuard
	sessions *session.Manager
	cookies  cookiejar.Store
	sink     events.Sink
	client   *http.Client
	logger   *slog.Logger
}

// New builds an Orchestrator from its collaborators.
func New(settings Settings, registry site.Registry, configStore site.ConfigStore, limiter *ratelimit.Limiter, guard SSRFGuard, sessions *session.Manager, cookies cookiejar.Store, sink events.Sink, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		settings: settings,
		registry: registry,
		config:   configStore,
		limiter:  limiter,
		ssrf:     guard,
		sessions: sessions,
		cookies:  cookies,
		sink:     sink,
		logger:   logger,
		client: &http.Client{
			Timeout: settings.RequestTimeout,
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// ServeHTTP implements the full ADMIT -> RESOLVE-SITE -> BUILD-ORIGIN ->
// SSRF -> SESSION -> UPSTREAM -> {REDIRECT|SIZE-GATE|HTML-XFORM|PASSTHROUGH}
// -> EMIT state machine.
func (o *Orchestrator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	clientIP := clientIPOf(r)
	host := hostWithoutPort(r.Host)

	evt := events.RequestEvent{
		RequestID:  uuid.NewString(),
		Timestamp:  start,
		ClientIP:   clientIP,
		MirrorHost: host,
		UserAgent:  r.Header.Get("User-Agent"),
	}
	defer func() {
		evt.LatencyMs = time.Since(start).Milliseconds()
		o.sink.Emit(evt)
	}()

	// 1. Admission.
	if o.settings.EnableRateLimiting {
		allowed, _ := o.limiter.Allow(clientIP)
		if !allowed {
			retryAfter := o.limiter.RetryAfter(clientIP)
			o.denyRateLimited(w, &evt, retryAfter)
			return
		}
	}

	// 2. Admin-host guard.
	if o.settings.AdminHost.IsAdminHost(host) {
		o.fail(w, &evt, http.StatusNotFound, "not found")
		return
	}

	// 3. Site lookup.
	s, ok := o.registry.FindByHost(host)
	if !ok {
		o.fail(w, &evt, http.StatusNotFound, fmt.Sprintf("no site configured for host: %s", host))
		return
	}

	m := mapper.ForSite(s)

	// 4. Build origin URL.
	mirrorPath := r.URL.Path
	if mirrorPath == "" {
		mirrorPath = "/"
	}
	originURL := m.Forward(host, mirrorPath, r.URL.RawQuery)
	evt.OriginURL = originURL

	// 5. SSRF check.
	if err := o.ssrf.Check(r.Context(), originURL); err != nil {
		o.fail(w, &evt, http.StatusForbidden, fmt.Sprintf("blocked: %s", err))
		return
	}

	// 6. Resolve config.
	cfg := site.Resolve(s, o.config.Get())

	// 7. Session acquisition (cookie-jar mode only).
	var (
		sessionID      string
		signedSession  string
		newSessionMint bool
	)
	if cfg.SessionMode == site.SessionModeCookieJar {
		sessionID, signedSession, newSessionMint = o.acquireSession(r)
	}

	// 8. Build upstream request.
	upstreamReq, err := o.buildUpstreamRequest(r, originURL)
	if err != nil {
		o.fail(w, &evt, http.StatusBadGateway, fmt.Sprintf("error fetching origin: %s", err))
		return
	}

	originHost := upstreamReq.URL.Hostname()
	if cfg.SessionMode == site.SessionModeCookieJar && sessionID != "" {
		stored, err := o.cookies.Get(r.Context(), cookiejar.Key{SiteID: s.ID, SessionID: sessionID, OriginHost: originHost})
		if err == nil && len(stored) > 0 {
			upstreamReq.Header.Set("Cookie", cookiejar.BuildCookieHeader(stored))
		}
	}

	// 9. Dispatch.
	resp, err := o.client.Do(upstreamReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			o.logger.DebugContext(r.Context(), "upstream request canceled by client", "origin_url", originURL)
			return
		}
		o.fail(w, &evt, http.StatusBadGateway, fmt.Sprintf("error fetching origin: %s", err))
		return
	}
	defer resp.Body.Close()
	evt.StatusCode = resp.StatusCode

	// 11. Size guard.
	if exceedsSizeLimit(resp, o.settings.MaxResponseSizeMB) {
		o.fail(w, &evt, http.StatusRequestEntityTooLarge, fmt.Sprintf("response too large: exceeds %dMB limit", o.settings.MaxResponseSizeMB))
		return
	}

	// 12. Persist cookies.
	if cfg.SessionMode == site.SessionModeCookieJar && sessionID != "" {
		setCookies := cookiejar.ParseSetCookieHeaders(resp.Header.Values("Set-Cookie"))
		if len(setCookies) > 0 {
			_ = o.cookies.Merge(r.Context(), cookiejar.Key{SiteID: s.ID, SessionID: sessionID, OriginHost: originHost}, setCookies)
		}
	}

	// 13. Redirect path.
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		o.emitRedirect(w, resp, m, originURL, cfg, newSessionMint, signedSession)
		evt.Message = "proxy redirect"
		return
	}

	contentType := resp.Header.Get("Content-Type")
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		o.fail(w, &evt, http.StatusBadGateway, fmt.Sprintf("error reading origin response: %s", err))
		return
	}

	if strings.Contains(strings.ToLower(contentType), "text/html") {
		o.emitHTML(w, resp, body, m, originURL, cfg, newSessionMint, signedSession)
		evt.Message = "proxy html"
		return
	}

	o.emitOther(w, resp, body, newSessionMint, signedSession)
	evt.Message = "proxy content"
}

func (o *Orchestrator) acquireSession(r *http.Request) (sessionID, signed string, minted bool) {
	cookie, err := r.Cookie(session.CookieName)
	if err == nil && cookie.Value != "" {
		if id, ok := o.sessions.Verify(cookie.Value); ok {
			return id, cookie.Value, false
		}
	}
	newSigned, err := o.sessions.NewSigned()
	if err != nil {
		return "", "", false
	}
	id, _ := o.sessions.Verify(newSigned)
	return id, newSigned, true
}

func (o *Orchestrator) buildUpstreamRequest(r *http.Request, originURL string) (*http.Request, error) {
	var body io.Reader
	if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
		body = r.Body
	}

	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, originURL, body)
	if err != nil {
		return nil, err
	}

	for _, name := range forwardHeaders {
		if v := r.Header.Get(name); v != "" {
			upstreamReq.Header.Set(name, v)
		}
	}
	upstreamReq.Host = upstreamReq.URL.Hostname()
	if r.Header.Get("Referer") != "" {
		upstreamReq.Header.Set("Referer", originURL)
	}

	return upstreamReq, nil
}

func (o *Orchestrator) emitRedirect(w http.ResponseWriter, resp *http.Response, m mapper.Mapper, originURL string, cfg site.EffectiveConfig, newSession bool, signedSession string) {
	location := resp.Header.Get("Location")
	mirrorLocation := location
	if location != "" {
		absolute := mapper.NormalizeRedirect(location, originURL)
		mirrorLocation = m.Reverse(absolute, originURL, cfg.ProxyExternalDomains, cfg.MediaPolicy == site.MediaPolicyBypass)
	}

	h := w.Header()
	if mirrorLocation != "" {
		h.Set("Location", mirrorLocation)
	}
	for _, name := range redirectSafeHeaders {
		if v := resp.Header.Get(name); v != "" {
			h.Set(name, v)
		}
	}
	if newSession {
		setSessionCookie(w, signedSession)
	}
	w.WriteHeader(resp.StatusCode)
}

func (o *Orchestrator) emitHTML(w http.ResponseWriter, resp *http.Response, body []byte, m mapper.Mapper, originURL string, cfg site.EffectiveConfig, newSession bool, signedSession string) {
	html := string(body)

	cleaned, err := filter.Clean(html, filterConfig(cfg))
	if err != nil {
		cleaned = html
	}

	rewritten, err := rewrite.HTML(cleaned, m, originURL, rewriteConfig(cfg))
	if err != nil {
		rewritten = cleaned
	}

	final, err := filter.Inject(rewritten, filterConfig(cfg))
	if err != nil {
		final = rewritten
	}

	copyFilteredHeaders(w, resp.Header)
	if newSession {
		setSessionCookie(w, signedSession)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, bytes.NewReader([]byte(final)))
}

func (o *Orchestrator) emitOther(w http.ResponseWriter, resp *http.Response, body []byte, newSession bool, signedSession string) {
	copyFilteredHeaders(w, resp.Header)
	if newSession {
		setSessionCookie(w, signedSession)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, bytes.NewReader(body))
}

func (o *Orchestrator) denyRateLimited(w http.ResponseWriter, evt *events.RequestEvent, retryAfter time.Duration) {
	seconds := int(retryAfter.Seconds())
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(o.limiter.Max()))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("X-RateLimit-Reset", strconv.Itoa(seconds))
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = io.WriteString(w, fmt.Sprintf("rate limit exceeded, try again in %d seconds", seconds))

	evt.StatusCode = http.StatusTooManyRequests
	evt.Level = slog.LevelWarn
	evt.Message = "rate limit exceeded"
}

func (o *Orchestrator) fail(w http.ResponseWriter, evt *events.RequestEvent, status int, message string) {
	w.WriteHeader(status)
	_, _ = io.WriteString(w, message)

	evt.StatusCode = status
	evt.Message = message
	if status >= 500 {
		evt.Level = slog.LevelError
	} else {
		evt.Level = slog.LevelWarn
	}
}

func setSessionCookie(w http.ResponseWriter, signedValue string) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    signedValue,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   30 * 24 * 60 * 60,
	})
}

func copyFilteredHeaders(w http.ResponseWriter, header http.Header) {
	for name, values := range header {
		if stripResponseHeaders[strings.ToLower(name)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
}

func exceedsSizeLimit(resp *http.Response, maxMB int) bool {
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	for _, media := range []string{"image/", "video/", "audio/", "application/octet-stream"} {
		if strings.Contains(contentType, media) {
			return false
		}
	}
	declared := resp.Header.Get("Content-Length")
	if declared == "" {
		return false
	}
	n, err := strconv.ParseInt(declared, 10, 64)
	if err != nil {
		return false
	}
	return n > int64(maxMB)*1024*1024
}

func filterConfig(cfg site.EffectiveConfig) filter.Config {
	return filter.Config{
		RemoveAds:       cfg.RemoveAds,
		RemoveAnalytics: cfg.RemoveAnalytics,
		InjectAds:       cfg.InjectAds,
		CustomAdHTML:    cfg.CustomAdHTML,
		CustomTrackerJS: cfg.CustomTrackerJS,
	}
}

func rewriteConfig(cfg site.EffectiveConfig) rewrite.Config {
	return rewrite.Config{
		ProxyExternalDomains: cfg.ProxyExternalDomains,
		RewriteJSRedirects:   cfg.RewriteJSRedirects,
		MediaBypass:          cfg.MediaPolicy == site.MediaPolicyBypass,
	}
}

func hostWithoutPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func clientIPOf(r *http.Request) string {
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return h
	}
	return r.RemoteAddr
}
