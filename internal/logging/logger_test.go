package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	testCases := map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"DEBUG":   zapcore.DebugLevel,
		" warn ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	}
	for input, expected := range testCases {
		level, err := ParseLevel(input)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", input, err)
		}
		if level != expected {
			t.Fatalf("expected %s for %q, got %s", expected, input, level)
		}
	}

	level, err := ParseLevel("verbose")
	if err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if level != zapcore.InfoLevel {
		t.Fatalf("expected info fallback, got %s", level)
	}
}

func TestNewLoggerHonorsLevel(t *testing.T) {
	logger, err := NewLogger("error")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.Core().Enabled(zapcore.WarnLevel) {
		t.Fatalf("expected warn to be disabled at error level")
	}
	if !logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatalf("expected error level enabled")
	}
}
