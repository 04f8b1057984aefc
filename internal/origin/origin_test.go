package origin

import "testing"

func TestNormalize(t *testing.T) {
	for _, tc := range []struct {
		in             string
		wantNormalized string
		wantHost       string
	}{
		{in: "HTTPS://Example.COM:443", wantNormalized: "https://example.com", wantHost: "example.com"},
		{in: "http://localhost:5173/", wantNormalized: "http://localhost:5173", wantHost: "localhost:5173"},
		{in: "http://example.com:80", wantNormalized: "http://example.com", wantHost: "example.com"},
		{in: "https://example.com:80", wantNormalized: "https://example.com:80", wantHost: "example.com:80"},
		{in: "http://[::FFFF:192.0.2.1]:8080", wantNormalized: "http://[::ffff:192.0.2.1]:8080", wantHost: "[::ffff:192.0.2.1]:8080"},
		{in: " null ", wantNormalized: "null", wantHost: ""},
	} {
		normalized, host, ok := Normalize(tc.in)
		if !ok {
			t.Fatalf("Normalize(%q) ok=false", tc.in)
		}
		if normalized != tc.wantNormalized || host != tc.wantHost {
			t.Fatalf("Normalize(%q)=(%q, %q), want (%q, %q)", tc.in, normalized, host, tc.wantNormalized, tc.wantHost)
		}
	}
}

func TestNormalizeRejects(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		"example.com",
		"ftp://example.com",
		"https://example.com/path",
		"https://example.com/?q=1",
		"https://example.com?",
		"https://user@example.com",
		"https://example.com/#frag",
		"https://example.com:0",
		"https://example.com:99999",
		"https://example.com:",
		"https://example.com,https://evil.example.com",
	} {
		if _, _, ok := Normalize(in); ok {
			t.Fatalf("Normalize(%q) ok=true, want false", in)
		}
	}
}

func TestPolicySameHostDefault(t *testing.T) {
	var p Policy

	if _, ok := p.Check("https://app.example.com", "app.example.com"); !ok {
		t.Fatalf("expected same-host origin to be allowed")
	}
	if _, ok := p.Check("https://app.example.com", "app.example.com:443"); !ok {
		t.Fatalf("expected default port to match")
	}
	if _, ok := p.Check("https://app.example.com", "app.example.com:8443"); ok {
		t.Fatalf("expected different port to be rejected")
	}
	if _, ok := p.Check("https://evil.example.com", "app.example.com"); ok {
		t.Fatalf("expected different host to be rejected")
	}
	if _, ok := p.Check("null", "app.example.com"); ok {
		t.Fatalf("expected null origin to be rejected by default")
	}
	if normalized, ok := p.Check("", "app.example.com"); !ok || normalized != "" {
		t.Fatalf("Check(no origin)=(%q, %v), want (\"\", true)", normalized, ok)
	}
	if _, ok := p.Check("not an origin", "app.example.com"); ok {
		t.Fatalf("expected malformed origin to be rejected")
	}
}

func TestPolicyAllowList(t *testing.T) {
	p := NewPolicy([]string{"https://app.example.com", "null"})
	if p.AllowsAny() {
		t.Fatalf("AllowsAny()=true without wildcard")
	}

	normalized, ok := p.Check("HTTPS://APP.example.com:443", "relay.example.com")
	if !ok || normalized != "https://app.example.com" {
		t.Fatalf("Check=(%q, %v), want allowed https://app.example.com", normalized, ok)
	}
	if _, ok := p.Check("null", "relay.example.com"); !ok {
		t.Fatalf("expected configured null origin to be allowed")
	}
	if _, ok := p.Check("https://relay.example.com", "relay.example.com"); ok {
		t.Fatalf("allow list must replace the same-host default")
	}
}

func TestPolicyWildcard(t *testing.T) {
	p := NewPolicy([]string{Wildcard})
	if !p.AllowsAny() {
		t.Fatalf("AllowsAny()=false with wildcard")
	}
	if _, ok := p.Check("https://anything.example", "whatever:1234"); !ok {
		t.Fatalf("expected wildcard to allow any origin")
	}
	if _, ok := p.Check("javascript:alert(1)", "whatever:1234"); ok {
		t.Fatalf("wildcard must still reject malformed origins")
	}
}
