package upstream

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestRedactURL(t *testing.T) {
	got := RedactURL("https://api.shodan.io/shodan/host/1.2.3.4?key=secret", "key")
	if strings.Contains(got, "secret") {
		t.Errorf("Expected key to be redacted, got '%s'", got)
	}
	if !strings.Contains(got, "key=%2A%2A%2A") {
		t.Errorf("Expected redacted key marker, got '%s'", got)
	}
}

func TestRedactURL_NoParam(t *testing.T) {
	in := "https://haveibeenpwned.com/api/v3/breachedaccount/a%40b.c"
	if got := RedactURL(in, "key"); got != in {
		t.Errorf("Expected URL unchanged, got '%s'", got)
	}
}

func TestErrorsUnwrap(t *testing.T) {
	cfg := fmt.Errorf("scan: %w", &ConfigError{Provider: "shodan", Key: "SHODAN_API_KEY", Err: ErrNotConfigured})
	if !errors.Is(cfg, ErrNotConfigured) {
		t.Error("Expected ConfigError to unwrap to ErrNotConfigured")
	}

	var rl *RateLimitError
	if !errors.As(fmt.Errorf("wrap: %w", &RateLimitError{Provider: "hibp"}), &rl) {
		t.Fatal("Expected errors.As to find RateLimitError")
	}
	if !strings.Contains(rl.Error(), "try again later") {
		t.Errorf("Unexpected message: %s", rl.Error())
	}
}
