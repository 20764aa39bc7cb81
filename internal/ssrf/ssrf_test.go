package ssrf

import (
	"context"
	"errors"
	"net"
	"testing"
)

type fakeResolver struct {
	ips map[string][]net.IPAddr
}

func (f fakeResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	if addrs, ok := f.ips[host]; ok {
		return addrs, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func addr(ip string) net.IPAddr { return net.IPAddr{IP: net.ParseIP(ip)} }

func TestCheck_InvalidScheme(t *testing.T) {
	g := New()
	err := g.Check(context.Background(), "ftp://example.com/x")
	if !errors.Is(err, ErrUnsafeURL) {
		t.Fatalf("expected ErrUnsafeURL, got %v", err)
	}
}

func TestCheck_ExplicitLocalhost(t *testing.T) {
	g := New()
	for _, u := range []string{"http://localhost/", "http://127.0.0.1/", "http://[::1]/"} {
		if err := g.Check(context.Background(), u); !errors.Is(err, ErrUnsafeURL) {
			t.Errorf("expected rejection for %q, got %v", u, err)
		}
	}
}

func TestCheck_LiteralPrivateIP(t *testing.T) {
	g := New()
	err := g.Check(context.Background(), "http://10.0.0.5/")
	if !errors.Is(err, ErrUnsafeURL) {
		t.Fatalf("expected rejection for private literal IP, got %v", err)
	}
}

func TestCheck_ResolvesToPrivate(t *testing.T) {
	g := NewWithResolver(fakeResolver{ips: map[string][]net.IPAddr{
		"internal.example.com": {addr("192.168.1.5")},
	}})
	err := g.Check(context.Background(), "http://internal.example.com/")
	if !errors.Is(err, ErrUnsafeURL) {
		t.Fatalf("expected rejection for DNS-resolved private IP, got %v", err)
	}
}

func TestCheck_ResolvesToLinkLocal(t *testing.T) {
	g := NewWithResolver(fakeResolver{ips: map[string][]net.IPAddr{
		"metadata.example.com": {addr("169.254.169.254")},
	}})
	err := g.Check(context.Background(), "http://metadata.example.com/")
	if !errors.Is(err, ErrUnsafeURL) {
		t.Fatalf("expected rejection for link-local IP, got %v", err)
	}
}

func TestCheck_PublicHostAllowed(t *testing.T) {
	g := NewWithResolver(fakeResolver{ips: map[string][]net.IPAddr{
		"example.com": {addr("93.184.216.34")},
	}})
	if err := g.Check(context.Background(), "http://example.com/path"); err != nil {
		t.Fatalf("expected public host to be allowed, got %v", err)
	}
}

func TestCheck_DNSFailureFailsOpen(t *testing.T) {
	g := NewWithResolver(fakeResolver{ips: map[string][]net.IPAddr{}})
	if err := g.Check(context.Background(), "http://unresolvable.invalid/"); err != nil {
		t.Fatalf("expected DNS failure to fail open, got %v", err)
	}
}

func TestCheck_ReservedRange(t *testing.T) {
	g := New()
	if err := g.Check(context.Background(), "http://192.0.2.10/"); !errors.Is(err, ErrUnsafeURL) {
		t.Fatalf("expected rejection for TEST-NET-1 address, got %v", err)
	}
}
