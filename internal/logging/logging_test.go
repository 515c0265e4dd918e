package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"":      zapcore.InfoLevel,
		"debug": zapcore.DebugLevel,
		"WARN":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: expected %v, got %v", in, want, got)
		}
	}

	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected unknown level to fail")
	}
}

func TestNewHonorsLevel(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		l, err := New("warn", format)
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		if l.Core().Enabled(zapcore.InfoLevel) {
			t.Fatalf("%s: info should be disabled at warn", format)
		}
		if !l.Core().Enabled(zapcore.ErrorLevel) {
			t.Fatalf("%s: error should be enabled at warn", format)
		}
	}
}
