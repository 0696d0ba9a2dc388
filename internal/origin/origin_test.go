package origin

import "testing"

func TestNormalize(t *testing.T) {
	t.Run("lowercases and drops default ports", func(t *testing.T) {
		normalized, host, ok := Normalize("HTTPS://Cams.Example.COM:443")
		if !ok {
			t.Fatalf("expected ok=true")
		}
		if normalized != "https://cams.example.com" || host != "cams.example.com" {
			t.Fatalf("got (%q,%q), want (https://cams.example.com,cams.example.com)", normalized, host)
		}
	})

	t.Run("keeps explicit ports and trailing slash", func(t *testing.T) {
		normalized, host, ok := Normalize("http://localhost:5173/")
		if !ok || normalized != "http://localhost:5173" || host != "localhost:5173" {
			t.Fatalf("got (%q,%q,%v)", normalized, host, ok)
		}
	})

	t.Run("ipv6 literal", func(t *testing.T) {
		normalized, _, ok := Normalize("http://[::1]:8080")
		if !ok || normalized != "http://[::1]:8080" {
			t.Fatalf("got (%q,%v), want http://[::1]:8080", normalized, ok)
		}
	})

	t.Run("null origin", func(t *testing.T) {
		normalized, host, ok := Normalize("null")
		if !ok || normalized != "null" || host != "" {
			t.Fatalf("got (%q,%q,%v)", normalized, host, ok)
		}
	})

	t.Run("rejects", func(t *testing.T) {
		for _, raw := range []string{
			"",
			"ftp://example.com",
			"https://example.com/app",
			"https://example.com/?q=1",
			"https://user@example.com",
			"https://example.com/#frag",
			"https://example.com:0",
			"https://example.com:99999",
			"example.com",
		} {
			if _, _, ok := Normalize(raw); ok {
				t.Fatalf("Normalize(%q) ok=true, want false", raw)
			}
		}
	})
}

func TestPolicyCheck(t *testing.T) {
	t.Run("missing origin header is allowed", func(t *testing.T) {
		if _, ok := NewPolicy(nil).Check("", "relay.example.com"); !ok {
			t.Fatalf("expected non-browser request to pass")
		}
	})

	t.Run("default is same host", func(t *testing.T) {
		p := NewPolicy(nil)
		if _, ok := p.Check("https://relay.example.com", "relay.example.com"); !ok {
			t.Fatalf("expected same host to pass")
		}
		if _, ok := p.Check("https://relay.example.com", "relay.example.com:443"); !ok {
			t.Fatalf("expected default port to be equivalent")
		}
		if _, ok := p.Check("http://relay.example.com", "relay.example.com:8080"); ok {
			t.Fatalf("expected different port to fail")
		}
		if _, ok := p.Check("https://evil.example.com", "relay.example.com"); ok {
			t.Fatalf("expected foreign host to fail")
		}
		if _, ok := p.Check("null", "relay.example.com"); ok {
			t.Fatalf("expected null origin to fail by default")
		}
	})

	t.Run("explicit list", func(t *testing.T) {
		p := NewPolicy([]string{"https://viewer.example.com"})
		normalized, ok := p.Check("HTTPS://viewer.example.com", "relay.example.com")
		if !ok || normalized != "https://viewer.example.com" {
			t.Fatalf("got (%q,%v)", normalized, ok)
		}
		if _, ok := p.Check("https://relay.example.com", "relay.example.com"); ok {
			t.Fatalf("explicit list must replace the same-host default")
		}
	})

	t.Run("wildcard", func(t *testing.T) {
		if _, ok := NewPolicy([]string{Wildcard}).Check("https://anything.test", "relay"); !ok {
			t.Fatalf("expected wildcard to pass")
		}
	})

	t.Run("malformed header fails", func(t *testing.T) {
		if _, ok := NewPolicy([]string{Wildcard}).Check("not an origin", "relay"); ok {
			t.Fatalf("expected malformed origin to fail")
		}
	})
}
