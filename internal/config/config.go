package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type SPI struct {
	ClockHz  int64 `yaml:"clock_hz"`  // source clock the divider applies to, e.g. 250000000
	Fallback bool  `yaml:"fallback"`  // print to the console when the port is missing
}

type Preview struct {
	Addr       string `yaml:"addr"`        // e.g. :8080
	ThrottleMs int    `yaml:"throttle_ms"` // min time between frames sent to viewers
}

type Config struct {
	Backend    string `yaml:"backend"` // "sim" | "spi" | "nrzled" | "console" | "preview"
	Pin        int    `yaml:"pin"`
	Pixels     int    `yaml:"pixels"`
	Unit       int    `yaml:"unit"`
	Lane       int    `yaml:"lane"`
	Brightness uint8  `yaml:"brightness"`
	FPS        int    `yaml:"fps"`
	ResetUs    int    `yaml:"reset_us"`

	SPI     SPI     `yaml:"spi,omitempty"`
	Preview Preview `yaml:"preview,omitempty"`
}

func Default() *Config {
	return &Config{
		Backend:    "sim",
		Pin:        16,
		Pixels:     30,
		Brightness: 64,
		FPS:        30,
		ResetUs:    50,
		SPI:        SPI{ClockHz: 250000000},
		Preview:    Preview{Addr: ":8080", ThrottleMs: 50},
	}
}

// Reset is the configured latch time.
func (c *Config) Reset() time.Duration {
	return time.Duration(c.ResetUs) * time.Microsecond
}

// Validate checks c against a buffer of at most maxPixels.
func (c *Config) Validate(maxPixels int) error {
	switch c.Backend {
	case "sim", "spi", "nrzled", "console", "preview":
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.Pixels < 0 || c.Pixels > maxPixels {
		return fmt.Errorf("config: pixels %d not in [0,%d]", c.Pixels, maxPixels)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("config: fps must be positive, got %d", c.FPS)
	}
	if c.ResetUs < 50 {
		return fmt.Errorf("config: reset_us %d is below the 50µs latch time", c.ResetUs)
	}
	return nil
}

// Load reads path over the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}
	return c, nil
}

func Save(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}
