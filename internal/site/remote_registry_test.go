package site

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt"
)

// newAdminStub starts a fake admin service serving /sites and /config,
// recording the bearer token presented on each request so the test can
// verify mintServiceToken produced something the server side would accept.
func newAdminStub(t *testing.T, serviceKey []byte, sitesJSON, configJSON string) (*httptest.Server, *string) {
	t.Helper()
	var lastToken string

	mux := http.NewServeMux()
	mux.HandleFunc("/sites", func(w http.ResponseWriter, r *http.Request) {
		lastToken = bearerToken(r)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sitesJSON))
	})
	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		lastToken = bearerToken(r)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(configJSON))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &lastToken
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

const remoteFixtureSitesJSON = `[
	{"ID": "s1", "MirrorRoot": "mirror.com", "SourceRoot": "source.com", "Enabled": true},
	{"ID": "s2", "MirrorRoot": "disabled.com", "SourceRoot": "other.com", "Enabled": false}
]`

const remoteFixtureConfigJSON = `{"remove_ads": true, "media_policy": "proxy"}`

func TestRemoteRegistry_RefreshPopulatesSitesAndConfig(t *testing.T) {
	serviceKey := []byte("remote-registry-test-key")
	srv, _ := newAdminStub(t, serviceKey, remoteFixtureSitesJSON, remoteFixtureConfigJSON)

	r := NewRemoteRegistry(srv.URL, serviceKey, slog.Default())
	if r.Ready() {
		t.Error("expected registry to be unready before first Refresh")
	}

	if err := r.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if !r.Ready() {
		t.Error("expected registry to be ready after Refresh")
	}
	if r.SiteCount() != 2 {
		t.Errorf("expected 2 sites loaded, got %d", r.SiteCount())
	}

	g := r.Get()
	if !g.RemoveAds {
		t.Error("expected remove_ads override to be true")
	}
	if g.MediaPolicy != MediaPolicyProxy {
		t.Errorf("expected media_policy override to be applied, got %v", g.MediaPolicy)
	}
}

func TestRemoteRegistry_FindByHost(t *testing.T) {
	serviceKey := []byte("remote-registry-test-key")
	srv, _ := newAdminStub(t, serviceKey, remoteFixtureSitesJSON, remoteFixtureConfigJSON)

	r := NewRemoteRegistry(srv.URL, serviceKey, slog.Default())
	if err := r.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if s, ok := r.FindByHost("mirror.com"); !ok || s.SourceRoot != "source.com" {
		t.Fatalf("expected exact match, got %+v ok=%v", s, ok)
	}
	if s, ok := r.FindByHost("xyz.mirror.com"); !ok || s.SourceRoot != "source.com" {
		t.Fatalf("expected subdomain match, got %+v ok=%v", s, ok)
	}
	if _, ok := r.FindByHost("disabled.com"); ok {
		t.Error("disabled site must not resolve")
	}
	if _, ok := r.FindByHost("unknown.com"); ok {
		t.Error("unknown host must not resolve")
	}
}

func TestRemoteRegistry_RefreshSendsValidBearerToken(t *testing.T) {
	serviceKey := []byte("remote-registry-test-key")
	srv, lastToken := newAdminStub(t, serviceKey, remoteFixtureSitesJSON, remoteFixtureConfigJSON)

	r := NewRemoteRegistry(srv.URL, serviceKey, slog.Default())
	if err := r.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if *lastToken == "" {
		t.Fatal("expected admin service to receive a bearer token")
	}

	parsed, err := jwt.Parse(*lastToken, func(tok *jwt.Token) (interface{}, error) {
		return serviceKey, nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("expected service token to verify against serviceKey, err=%v valid=%v", err, parsed.Valid)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		t.Fatal("expected MapClaims")
	}
	if claims["iss"] != "mirrorproxy" {
		t.Errorf("expected iss claim mirrorproxy, got %v", claims["iss"])
	}
}

func TestRemoteRegistry_RefreshFailsOnAdminError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewRemoteRegistry(srv.URL, []byte("k"), slog.Default())
	if err := r.Refresh(); err == nil {
		t.Fatal("expected error when admin service returns 500")
	}
	if r.Ready() {
		t.Error("expected registry to remain unready after a failed Refresh")
	}
}

func TestRemoteRegistry_GetDefaultsBeforeFirstRefresh(t *testing.T) {
	r := NewRemoteRegistry("http://admin.invalid", []byte("k"), slog.Default())
	if got := r.Get(); got != DefaultGlobalConfig() {
		t.Errorf("expected defaulted global config before first refresh, got %+v", got)
	}
	if r.SiteCount() != 0 {
		t.Errorf("expected zero sites before first refresh, got %d", r.SiteCount())
	}
}
