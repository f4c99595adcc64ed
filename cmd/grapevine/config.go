package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/grapevine-net/grapevine/gvdisco"
)

// config is everything the process can be told from outside.
// Values come from a YAML file named by -config,
// overridden field by field with GRAPEVINE_* environment variables.
type config struct {
	// Name is an optional human-readable label carried in beacons.
	Name string `yaml:"name"`

	// Listen is the UDP address the QUIC transport binds.
	Listen string `yaml:"listen"`

	// Group is the multicast group beacons travel on.
	Group string `yaml:"group"`

	// AdvertiseAddrs overrides the addresses carried in beacons.
	// Empty advertises the transport's own listen address.
	AdvertiseAddrs []string `yaml:"advertise_addrs"`

	// DataDir is where recipes persist across restarts.
	// Empty keeps them in memory.
	DataDir string `yaml:"data_dir"`

	AnnounceInterval duration `yaml:"announce_interval"`
	PeerTimeout      duration `yaml:"peer_timeout"`

	// MetricsAddr, when set, serves Prometheus metrics
	// at /metrics on that address.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel is one of debug, info, warn, or error.
	LogLevel string `yaml:"log_level"`
}

func defaultConfig() config {
	return config{
		Listen:   "0.0.0.0:0",
		Group:    gvdisco.DefaultGroup,
		LogLevel: "info",
	}
}

// duration decodes YAML strings like "250ms" or "3s".
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = duration(parsed)
	return nil
}

// loadConfig builds the effective configuration:
// defaults, then the file at path if given, then the environment.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return config{}, fmt.Errorf("failed to read config file: %w", err)
		}

		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return config{}, err
	}

	if _, err := parseLogLevel(cfg.LogLevel); err != nil {
		return config{}, err
	}

	return cfg, nil
}

func applyEnv(cfg *config) error {
	if v := os.Getenv("GRAPEVINE_NAME"); v != "" {
		cfg.Name = v
	}
	if v := os.Getenv("GRAPEVINE_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("GRAPEVINE_GROUP"); v != "" {
		cfg.Group = v
	}
	if v := os.Getenv("GRAPEVINE_ADVERTISE_ADDRS"); v != "" {
		cfg.AdvertiseAddrs = splitAddrs(v)
	}
	if v := os.Getenv("GRAPEVINE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("GRAPEVINE_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("GRAPEVINE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("GRAPEVINE_ANNOUNCE_INTERVAL"); v != "" {
		p, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid GRAPEVINE_ANNOUNCE_INTERVAL: %w", err)
		}
		cfg.AnnounceInterval = duration(p)
	}
	if v := os.Getenv("GRAPEVINE_PEER_TIMEOUT"); v != "" {
		p, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid GRAPEVINE_PEER_TIMEOUT: %w", err)
		}
		cfg.PeerTimeout = duration(p)
	}

	return nil
}

func splitAddrs(v string) []string {
	var addrs []string
	for _, a := range strings.Split(v, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
