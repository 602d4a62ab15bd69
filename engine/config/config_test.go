package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Renderer.FramesInFlight != 2 {
		t.Fatalf("FramesInFlight = %d, want 2", cfg.Renderer.FramesInFlight)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anima.toml")
	data := []byte(`
[application]
width = 800
log_level = "debug"

[renderer]
max_bounces = 8
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Application.Width != 800 || cfg.Application.Height != 720 {
		t.Errorf("size = %dx%d, want 800x720", cfg.Application.Width, cfg.Application.Height)
	}
	if cfg.Application.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.Application.LogLevel)
	}
	if cfg.Renderer.MaxBounces != 8 || cfg.Renderer.FramesInFlight != 2 {
		t.Errorf("renderer = %+v", cfg.Renderer)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"zero width", "[application]\nwidth = 0\n"},
		{"zero frames", "[renderer]\nframes_in_flight = 0\n"},
		{"zero samples", "[renderer]\nsamples_per_frame = 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Parse([]byte(tt.data), Default()); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Renderer.SamplesPerFrame = 3
	data, err := cfg.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got := Default()
	if err := Parse(data, got); err != nil {
		t.Fatal(err)
	}
	if got.Renderer.SamplesPerFrame != 3 {
		t.Fatalf("SamplesPerFrame = %d", got.Renderer.SamplesPerFrame)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{EnvLogLevel: "debug", EnvValidation: "true"}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg := Default()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatal(err)
	}
	if cfg.Application.LogLevel != "debug" || !cfg.Renderer.Validation {
		t.Fatalf("overrides not applied: %+v", cfg)
	}

	env[EnvValidation] = "sometimes"
	if err := Default().ApplyEnv(lookup); err == nil {
		t.Fatal("invalid boolean accepted")
	}

	untouched := Default()
	if err := untouched.ApplyEnv(func(string) (string, bool) { return "", false }); err != nil {
		t.Fatal(err)
	}
	if untouched.Application.LogLevel != Default().Application.LogLevel {
		t.Fatal("unset variables changed the config")
	}
}
