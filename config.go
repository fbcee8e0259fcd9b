package prism

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config describes one production: window, timing, and the entry documents
// under the asset root. Loaded from a YAML project file.
type Config struct {
	Title  string `yaml:"title"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`

	// FPS is the scripted-mode step rate. Live mode renders at the display
	// rate and ignores it.
	FPS int `yaml:"fps"`

	// SampleRate is the production sample rate. The clock counts time in
	// samples at this rate.
	SampleRate int `yaml:"sample_rate"`

	AssetRoot string `yaml:"asset_root"`
	Timeline  string `yaml:"timeline"` // timeline document, relative to AssetRoot
	Pipeline  string `yaml:"pipeline"` // pipeline document, relative to AssetRoot
	Audio     string `yaml:"audio"`    // soundtrack PCM, relative to AssetRoot; optional

	// Scripted selects deterministic fixed-delta stepping for offline
	// re-renders. The clock drives the audio cursor instead of reading it.
	Scripted bool `yaml:"scripted"`

	DebounceMS    int `yaml:"debounce_ms"`
	DecodeWorkers int `yaml:"decode_workers"`
	MaxTextureDim int `yaml:"max_texture_dim"`
}

// LoadConfig reads a project file and fills in defaults.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("prism: read config %q: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Config{}, fmt.Errorf("prism: parse config %q: %w", path, err)
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	return c, nil
}

func (c *Config) validate() error {
	if c.Timeline == "" {
		return fmt.Errorf("prism: config: missing timeline document")
	}
	if c.Pipeline == "" {
		return fmt.Errorf("prism: config: missing pipeline document")
	}
	if c.FPS < 0 || c.SampleRate < 0 {
		return fmt.Errorf("prism: config: negative timing values")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Title == "" {
		c.Title = "prism"
	}
	if c.Width <= 0 {
		c.Width = 1280
	}
	if c.Height <= 0 {
		c.Height = 720
	}
	if c.FPS == 0 {
		c.FPS = 60
	}
	if c.SampleRate == 0 {
		c.SampleRate = 48000
	}
	if c.AssetRoot == "" {
		c.AssetRoot = "assets"
	}
	if c.DebounceMS == 0 {
		c.DebounceMS = 50
	}
	if c.DecodeWorkers == 0 {
		c.DecodeWorkers = 4
	}
}
