package server

import (
	"net/http/httptest"
	"testing"
)

func checkOrigin(t *testing.T, oc *originChecker, origin string) bool {
	t.Helper()
	r := httptest.NewRequest("GET", "/ws", nil)
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return oc.check(r)
}

func TestOriginCheckerAllowsConfigured(t *testing.T) {
	oc := newOriginChecker([]string{"https://chat.example.com", "http://localhost:8080"})

	allowed := []string{
		"https://chat.example.com",
		"HTTPS://CHAT.EXAMPLE.COM",
		"http://localhost:8080",
	}
	for _, origin := range allowed {
		if !checkOrigin(t, oc, origin) {
			t.Errorf("origin %q should be allowed", origin)
		}
	}

	blocked := []string{
		"https://evil.example.com",
		"http://chat.example.com", // scheme matters
		"https://chat.example.com:8443",
		"",
		"not a url",
	}
	for _, origin := range blocked {
		if checkOrigin(t, oc, origin) {
			t.Errorf("origin %q should be blocked", origin)
		}
	}
}

func TestOriginCheckerWildcard(t *testing.T) {
	oc := newOriginChecker([]string{"*"})
	if !checkOrigin(t, oc, "https://anything.example") {
		t.Error("wildcard should allow any well-formed origin")
	}
	if checkOrigin(t, oc, "") {
		t.Error("missing origin header should still be blocked")
	}
	if checkOrigin(t, oc, "%%%") {
		t.Error("malformed origin should still be blocked")
	}
}

func TestOriginCheckerIgnoresInvalidConfigEntries(t *testing.T) {
	oc := newOriginChecker([]string{"   ", "not-a-url", "https://ok.example"})
	if !checkOrigin(t, oc, "https://ok.example") {
		t.Error("valid entry should survive invalid neighbors")
	}
	if checkOrigin(t, oc, "https://not-a-url") {
		t.Error("invalid entries should not become allow rules")
	}
}
