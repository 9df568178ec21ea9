package logging

import (
	"log/slog"
	"testing"
)

func TestLevelFromString(t *testing.T) {
	cases := map[string]slog.Leveler{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
		" DEBUG ": slog.LevelDebug,
	}
	for in, want := range cases {
		if got := levelFromString(in); got != want {
			t.Errorf("levelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerFormatSelection(t *testing.T) {
	if _, ok := NewLogger("info", "text").Handler().(*slog.TextHandler); !ok {
		t.Error("format=text should build a text handler")
	}
	if _, ok := NewLogger("info", "json").Handler().(*slog.JSONHandler); !ok {
		t.Error("format=json should build a JSON handler")
	}
	// unknown formats fall back to JSON
	if _, ok := NewLogger("info", "").Handler().(*slog.JSONHandler); !ok {
		t.Error("empty format should default to JSON")
	}
}
