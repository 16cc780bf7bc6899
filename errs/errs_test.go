package errs

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesCanonicalAndContext(t *testing.T) {
	err := New(
		CodeParse,
		WithCanonical(CanonicalMissingField),
		WithMessage("ticker frame missing bid array"),
		WithField("b"),
		WithContext(map[string]string{
			"channel": "ticker",
			"symbol":  "BTC/USD",
		}),
		WithCause(errors.New("array index out of range")),
	)

	out := err.Error()
	if !strings.Contains(out, "code=parse") {
		t.Fatalf("expected code marker in error string: %s", out)
	}
	if !strings.Contains(out, "canonical=missing_field") {
		t.Fatalf("expected canonical classification in error string: %s", out)
	}
	expectedContext := "context=channel=\"ticker\",symbol=\"BTC/USD\""
	if !strings.Contains(out, expectedContext) {
		t.Fatalf("expected context %q in error string: %s", expectedContext, out)
	}
	if !strings.Contains(out, "cause=\"array index out of range\"") {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestWithCanonicalEmptyDefaultsToUnknown(t *testing.T) {
	err := New(CodeParse, WithCanonical("   "))
	if err.Canonical != CanonicalUnknown {
		t.Fatalf("expected canonical code to default to unknown, got %q", err.Canonical)
	}
	if strings.Contains(err.Error(), "canonical=") {
		t.Fatalf("canonical marker should be omitted when code is unknown: %s", err.Error())
	}
}

func TestWithContextMerge(t *testing.T) {
	err := New(
		CodeSubscription,
		WithContext(map[string]string{"channel": "ticker"}),
		WithContext(map[string]string{"channel": "book", "interval": "60"}),
	)

	if got := err.Context["channel"]; got != "book" {
		t.Fatalf("expected latest context to win, got %q", got)
	}
	if got := err.Context["interval"]; got != "60" {
		t.Fatalf("expected interval context to be present, got %q", got)
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("expected <nil> string for nil error, got %q", got)
	}
}

func TestSeverityOf(t *testing.T) {
	cases := []struct {
		name string
		err  *E
		want Severity
	}{
		{"configuration", New(CodeConfiguration), SeverityCritical},
		{"auth failure", New(CodeConnection, WithCanonical(CanonicalAuthenticationFailed)), SeverityCritical},
		{"connection lost", New(CodeConnection, WithCanonical(CanonicalConnectionLost)), SeverityHigh},
		{"subscription", New(CodeSubscription), SeverityMedium},
		{"network", New(CodeNetwork), SeverityMedium},
		{"parse", New(CodeParse), SeverityLow},
		{"not implemented", New(CodeNotImplemented), SeverityLow},
		{"nil", nil, SeverityLow},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SeverityOf(tc.err); got != tc.want {
				t.Fatalf("SeverityOf() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestIsMatchesCodeAndCanonical(t *testing.T) {
	err := New(CodeConnection, WithCanonical(CanonicalConnectionLost))
	sentinel := New(CodeConnection, WithCanonical(CanonicalConnectionLost))
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected errors.Is to match on code+canonical")
	}
	other := New(CodeConnection, WithCanonical(CanonicalConnectionTimeout))
	if errors.Is(err, other) {
		t.Fatalf("expected errors.Is to reject mismatched canonical")
	}
}

func TestNotImplemented(t *testing.T) {
	err := NotImplemented("private feeds")
	if err.Code != CodeNotImplemented {
		t.Fatalf("expected CodeNotImplemented, got %q", err.Code)
	}
	if err.Message != "private feeds" {
		t.Fatalf("expected message to be preserved, got %q", err.Message)
	}
}
