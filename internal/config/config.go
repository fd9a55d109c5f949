// Package config loads process settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"safemap/core-go/internal/overlay"
	"safemap/core-go/internal/surface"
)

type Config struct {
	HTTPAddr     string             `yaml:"http_addr"`
	LogLevel     string             `yaml:"log_level"`
	DatabaseURL  string             `yaml:"database_url"`
	DBMaxConns   int32              `yaml:"db_max_conns"`
	PollInterval time.Duration      `yaml:"poll_interval"`
	FeedLimit    int                `yaml:"feed_limit"`
	Map          surface.Config     `yaml:"map"`
	Palette      overlay.Palette    `yaml:"palette"`
	Thresholds   overlay.Thresholds `yaml:"thresholds"`
}

func Default() Config {
	return Config{
		HTTPAddr:     ":8081",
		LogLevel:     "info",
		DBMaxConns:   4,
		PollInterval: 5 * time.Second,
		FeedLimit:    2000,
		Map: surface.Config{
			Container: "map",
			Style:     "default",
			Center:    surface.LngLat{Lng: 28.0473, Lat: -26.2041},
			Zoom:      12,
		},
		Palette:    overlay.DefaultPalette(),
		Thresholds: overlay.DefaultThresholds(),
	}
}

// Load reads path (skipped when empty) over the defaults, then applies
// environment overrides read through getenv.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if getenv == nil {
		return nil
	}
	cfg.HTTPAddr = envOr(getenv, "HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = envOr(getenv, "LOG_LEVEL", cfg.LogLevel)
	cfg.DatabaseURL = envOr(getenv, "DATABASE_URL", cfg.DatabaseURL)
	cfg.Map.Style = envOr(getenv, "MAP_STYLE", cfg.Map.Style)

	if v := getenv("POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("POLL_INTERVAL: %w", err)
		}
		cfg.PollInterval = d
	}
	if v := getenv("FEED_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FEED_LIMIT: %w", err)
		}
		cfg.FeedLimit = n
	}
	return nil
}

func envOr(getenv func(string) string, key, fallback string) string {
	v := getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
