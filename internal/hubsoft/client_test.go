package hubsoft

import (
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStatusOK(t *testing.T) {
	c := New(Config{Host: "http://example.invalid"}, testLogger())

	if !c.statusOK("success") {
		t.Error(`statusOK("success") should be true`)
	}
	if !c.statusOK("suscess") {
		t.Error(`statusOK("suscess") should be true (upstream typo tolerance)`)
	}
	if c.statusOK("failure") {
		t.Error(`statusOK("failure") should be false`)
	}
}

func TestStatusOK_LogsTypoOnce(t *testing.T) {
	c := New(Config{Host: "http://example.invalid"}, testLogger())

	if c.sawSuscessTypo {
		t.Fatal("sawSuscessTypo should start false")
	}
	c.statusOK("suscess")
	if !c.sawSuscessTypo {
		t.Error("sawSuscessTypo should be set after first typo observation")
	}
}

func TestNew_DefaultsRateLimit(t *testing.T) {
	c := New(Config{Host: "http://example.invalid"}, testLogger())
	if c.limiter.Limit() != 10 {
		t.Errorf("default rate limit = %v, want 10", c.limiter.Limit())
	}
}

func TestNew_CustomRateLimit(t *testing.T) {
	c := New(Config{Host: "http://example.invalid", RateLimitPerSecond: 5}, testLogger())
	if c.limiter.Limit() != 5 {
		t.Errorf("custom rate limit = %v, want 5", c.limiter.Limit())
	}
}

func TestInvalidateToken(t *testing.T) {
	c := New(Config{Host: "http://example.invalid"}, testLogger())
	c.accessToken = "cached-token"
	c.InvalidateToken()
	if c.accessToken != "" {
		t.Error("InvalidateToken should clear the cached access token")
	}
}
