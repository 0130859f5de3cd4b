package origin

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in         string
		wantOrigin string
		wantHost   string
		wantOK     bool
	}{
		{in: "HTTPS://Example.COM:443", wantOrigin: "https://example.com", wantHost: "example.com", wantOK: true},
		{in: "http://localhost:5173/", wantOrigin: "http://localhost:5173", wantHost: "localhost:5173", wantOK: true},
		{in: "http://[::1]:80", wantOrigin: "http://[::1]", wantHost: "[::1]", wantOK: true},
		{in: "https://[::1]:8443", wantOrigin: "https://[::1]:8443", wantHost: "[::1]:8443", wantOK: true},
		{in: "null", wantOrigin: "null", wantOK: true},
		{in: ""},
		{in: "ftp://example.com"},
		{in: "https://example.com/path"},
		{in: "https://example.com?x=1"},
		{in: "https://user@example.com"},
		{in: "https://example.com#frag"},
		{in: "https://example.com:0"},
		{in: "https://example.com:70000"},
		{in: "example.com"},
	}
	for _, tc := range cases {
		o, host, ok := Normalize(tc.in)
		if ok != tc.wantOK || o != tc.wantOrigin || host != tc.wantHost {
			t.Fatalf("Normalize(%q)=(%q,%q,%v), want (%q,%q,%v)", tc.in, o, host, ok, tc.wantOrigin, tc.wantHost, tc.wantOK)
		}
	}
}

func TestPolicy_SameHostByDefault(t *testing.T) {
	var p Policy

	if _, ok := p.Allow("https://relay.example.com", "relay.example.com:443"); !ok {
		t.Fatalf("same host with default port rejected")
	}
	if _, ok := p.Allow("https://relay.example.com", "relay.example.com"); !ok {
		t.Fatalf("same host rejected")
	}
	if _, ok := p.Allow("http://localhost:5173", "localhost:8080"); ok {
		t.Fatalf("different port allowed")
	}
	if _, ok := p.Allow("null", "localhost:8080"); ok {
		t.Fatalf("null origin allowed without allowlist")
	}
}

func TestPolicy_Allowlist(t *testing.T) {
	p, invalid := NewPolicy([]string{"http://localhost:5173", " HTTPS://App.Example.com ", "not an origin"})
	if len(invalid) != 1 || invalid[0] != "not an origin" {
		t.Fatalf("invalid=%v, want [not an origin]", invalid)
	}

	if o, ok := p.Allow("http://localhost:5173", "relay:8080"); !ok || o != "http://localhost:5173" {
		t.Fatalf("Allow=(%q,%v), want allowed", o, ok)
	}
	if _, ok := p.Allow("https://app.example.com:443", "relay:8080"); !ok {
		t.Fatalf("normalized allowlist entry did not match")
	}
	if _, ok := p.Allow("http://relay:8080", "relay:8080"); ok {
		t.Fatalf("allowlist should replace same-host default")
	}
}

func TestPolicy_Wildcard(t *testing.T) {
	p, _ := NewPolicy([]string{"*"})
	if !p.AllowsAny() {
		t.Fatalf("AllowsAny=false")
	}
	if _, ok := p.Allow("https://anything.example", "relay:8080"); !ok {
		t.Fatalf("wildcard rejected origin")
	}
	if _, ok := p.Allow("javascript:alert(1)", "relay:8080"); ok {
		t.Fatalf("wildcard accepted an invalid origin")
	}
}
