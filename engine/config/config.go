package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Config is the engine configuration, read from a TOML file.
type Config struct {
	Application ApplicationConfig `toml:"application"`
	Renderer    RendererConfig    `toml:"renderer"`
	Assets      AssetsConfig      `toml:"assets"`
}

type ApplicationConfig struct {
	Name      string `toml:"name"`
	StartPosX uint32 `toml:"start_pos_x"`
	StartPosY uint32 `toml:"start_pos_y"`
	Width     uint32 `toml:"width"`
	Height    uint32 `toml:"height"`
	LogLevel  string `toml:"log_level"`
}

type RendererConfig struct {
	// Number of frame slots the host may record ahead of the GPU.
	FramesInFlight  uint32 `toml:"frames_in_flight"`
	SamplesPerFrame uint32 `toml:"samples_per_frame"`
	MaxBounces      uint32 `toml:"max_bounces"`
	// Build acceleration structures on the host when the device allows it.
	PreferHostBuilds bool   `toml:"prefer_host_builds"`
	Validation       bool   `toml:"validation"`
	ShaderDir        string `toml:"shader_dir"`
	EnvironmentMap   string `toml:"environment_map"`
}

type AssetsConfig struct {
	Root  string `toml:"root"`
	Watch bool   `toml:"watch"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Application: ApplicationConfig{
			Name:      "Anima RT",
			StartPosX: 100,
			StartPosY: 100,
			Width:     1280,
			Height:    720,
			LogLevel:  "info",
		},
		Renderer: RendererConfig{
			FramesInFlight:   2,
			SamplesPerFrame:  1,
			MaxBounces:       4,
			PreferHostBuilds: false,
			Validation:       false,
			ShaderDir:        "assets/shaders",
		},
		Assets: AssetsConfig{
			Root:  "assets",
			Watch: true,
		},
	}
}

// Load reads path on top of the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	return cfg, nil
}

// Environment overrides applied by ApplyEnv.
const (
	EnvLogLevel   = "ANIMA_LOG_LEVEL"
	EnvValidation = "ANIMA_VALIDATION"
)

// ApplyEnv overrides the log level and validation flag from the process
// environment. Unset variables leave cfg untouched.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Application.LogLevel = v
	}
	if v, ok := lookup(EnvValidation); ok && v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvValidation, err)
		}
		c.Renderer.Validation = on
	}
	return nil
}

// Parse decodes TOML data into cfg and validates the result.
func Parse(data []byte, cfg *Config) error {
	if err := toml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return cfg.Validate()
}

func (c *Config) Validate() error {
	if c.Application.Width == 0 || c.Application.Height == 0 {
		return fmt.Errorf("application size must be non-zero, got %dx%d", c.Application.Width, c.Application.Height)
	}
	if c.Renderer.FramesInFlight == 0 {
		return errors.New("renderer.frames_in_flight must be at least 1")
	}
	if c.Renderer.SamplesPerFrame == 0 {
		return errors.New("renderer.samples_per_frame must be at least 1")
	}
	return nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
