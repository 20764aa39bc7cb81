package mapper

import "testing"

func TestForward_SimpleHost(t *testing.T) {
	m := New("mirror.com", "source.com")
	got := m.Forward("mirror.com", "/foo/bar", "")
	want := "https://source.com/foo/bar"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestForward_Subdomain(t *testing.T) {
	m := New("mirror.com", "source.com")
	got := m.Forward("xyz.mirror.com", "/abc", "")
	want := "https://xyz.source.com/abc"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestForward_ExternalEncoding(t *testing.T) {
	m := New("mirror.com", "source.com")
	got := m.Forward("mirror.com", "/abc.external.com/path/to", "")
	want := "https://abc.external.com/path/to"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestForward_PreservesQuery(t *testing.T) {
	m := New("mirror.com", "source.com")
	got := m.Forward("mirror.com", "/search", "q=go+lang")
	want := "https://source.com/search?q=go+lang"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestForward_ExternalEncodingNoRemainingPath(t *testing.T) {
	m := New("mirror.com", "source.com")
	got := m.Forward("mirror.com", "/abc.external.com", "")
	want := "https://abc.external.com/"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestReverse_SameDomain(t *testing.T) {
	m := New("mirror.com", "source.com")
	got := m.Reverse("https://xyz.source.com/q", "https://source.com/", true, false)
	want := "https://xyz.mirror.com/q"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestReverse_ExternalDomain_Proxied(t *testing.T) {
	m := New("mirror.com", "source.com")
	got := m.Reverse("https://cdn.other.com/a.js", "https://source.com/", true, false)
	want := "https://mirror.com/cdn.other.com/a.js"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestReverse_ExternalDomain_NotProxied(t *testing.T) {
	m := New("mirror.com", "source.com")
	got := m.Reverse("https://cdn.other.com/a.js", "https://source.com/", false, false)
	want := "https://cdn.other.com/a.js"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestReverse_PassthroughSchemes(t *testing.T) {
	m := New("mirror.com", "source.com")
	for _, u := range []string{"data:image/png;base64,aaaa", "javascript:void(0)", "mailto:a@b.com", "#top"} {
		if got := m.Reverse(u, "https://source.com/", true, false); got != u {
			t.Errorf("expected passthrough for %q, got %q", u, got)
		}
	}
}

func TestReverse_ProtocolRelative(t *testing.T) {
	m := New("mirror.com", "source.com")
	got := m.Reverse("//xyz.source.com/q", "https://source.com/", true, false)
	want := "https://xyz.mirror.com/q"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestReverse_MediaBypass(t *testing.T) {
	m := New("mirror.com", "source.com")
	origin := "https://source.com/images/logo.png"
	got := m.Reverse(origin, "https://source.com/", true, true)
	if got != origin {
		t.Errorf("expected bypassed media URL unchanged, got %q", got)
	}
}

func TestForwardReverseRoundTrip(t *testing.T) {
	m := New("mirror.com", "source.com")
	origin := m.Forward("mirror.com", "/foo/bar", "")
	mirror := m.Reverse(origin, origin, true, false)
	want := "https://mirror.com/foo/bar"
	if mirror != want {
		t.Errorf("round trip broke: got %q want %q", mirror, want)
	}
}

func TestIsMediaURL(t *testing.T) {
	cases := map[string]bool{
		"https://x.com/a.PNG":    true,
		"https://x.com/a.jpg":    true,
		"https://x.com/a.html":   false,
		"https://x.com/path/":    false,
		"https://x.com/a.woff2":  true,
	}
	for u, want := range cases {
		if got := IsMediaURL(u); got != want {
			t.Errorf("IsMediaURL(%q) = %v, want %v", u, got, want)
		}
	}
}

func TestNormalizeRedirect(t *testing.T) {
	got := NormalizeRedirect("/q", "https://source.com/a/b")
	want := "https://source.com/q"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}

	abs := "https://other.com/x"
	if got := NormalizeRedirect(abs, "https://source.com/a/b"); got != abs {
		t.Errorf("expected absolute passthrough, got %q", got)
	}
}

func TestEncodeExternalPath(t *testing.T) {
	got := EncodeExternalPath("abc.external.com", "path/to")
	want := "/abc.external.com/path/to"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}
