package core

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogKeyValues(t *testing.T) {
	var buf bytes.Buffer
	SetLogOutput(&buf)
	defer SetLogOutput(nil)

	LogInfo("object added", "name", "cube", "triangles", 12)

	out := buf.String()
	if strings.Contains(out, "%!") {
		t.Fatalf("log line has formatting noise: %q", out)
	}
	for _, want := range []string{"object added", "name=cube", "triangles=12"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %q misses %q", out, want)
		}
	}
}

func TestLogLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	SetLogOutput(&buf)
	defer SetLogOutput(nil)
	SetLogLevel(WarnLevel)
	defer SetLogLevel(DebugLevel)

	LogDebug("hidden", "k", 1)
	LogWarn("shown", "k", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line written at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "k=2") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DebugLevel},
		{" WARN ", WarnLevel},
		{"error", ErrorLevel},
		{"nonsense", InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
