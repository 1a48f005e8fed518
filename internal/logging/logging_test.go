package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestAnonymizeEmail(t *testing.T) {
	t.Parallel()

	a := AnonymizeEmail("You@Example.com ")
	b := AnonymizeEmail("you@example.com")
	if a != b {
		t.Fatalf("expected case-insensitive hash, got %q and %q", a, b)
	}
	if !strings.HasPrefix(a, "user:") || len(a) != len("user:")+16 {
		t.Fatalf("unexpected hash format %q", a)
	}
	if strings.Contains(a, "example") {
		t.Fatal("hash leaks address")
	}
	if AnonymizeEmail("") != "" {
		t.Fatal("empty email should stay empty")
	}
}

func TestErrOmittedWhenNil(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("ok", Err(nil))
	if strings.Contains(buf.String(), KeyError) {
		t.Fatalf("nil error should be omitted: %s", buf.String())
	}

	buf.Reset()
	logger.Info("fail", Err(errors.New("boom")))
	if !strings.Contains(buf.String(), `"error":"boom"`) {
		t.Fatalf("expected error attribute: %s", buf.String())
	}
}
