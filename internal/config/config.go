// Package config loads the chat server settings.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables. Command-line flags are applied on top by the caller
// and the result is checked with Validate.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr            string        `yaml:"addr" env:"CHAT_ADDR" validate:"required"`
	HTTPAddr        string        `yaml:"http_addr" env:"CHAT_HTTP_ADDR"`
	LogLevel        string        `yaml:"log_level" env:"CHAT_LOG_LEVEL" validate:"oneof=debug info warn warning error"`
	LogFormat       string        `yaml:"log_format" env:"CHAT_LOG_FORMAT" validate:"oneof=text json"`
	MaxLineBytes    int           `yaml:"max_line_bytes" env:"CHAT_MAX_LINE_BYTES" validate:"min=64,max=16777216"`
	SendBuffer      int           `yaml:"send_buffer" env:"CHAT_SEND_BUFFER" validate:"min=1"`
	RegistryBuffer  int           `yaml:"registry_buffer" env:"CHAT_REGISTRY_BUFFER" validate:"min=1"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"CHAT_WRITE_TIMEOUT" validate:"min=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"CHAT_SHUTDOWN_TIMEOUT" validate:"gt=0"`
	// Comma separated list of WebSocket origins. Empty or "*" accepts any.
	AllowedOrigins string `yaml:"allowed_origins" env:"CHAT_ALLOWED_ORIGINS"`
}

var validate = validator.New()

func Default() Config {
	return Config{
		Addr:            ":9999",
		HTTPAddr:        ":9090",
		LogLevel:        "info",
		LogFormat:       "text",
		MaxLineBytes:    64 * 1024,
		SendBuffer:      256,
		RegistryBuffer:  128,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Load returns the defaults overlaid with the YAML file at path (skipped
// when path is empty) and then with the process environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path from CLI config
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Origins splits AllowedOrigins into trimmed, non-empty entries.
func (c Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
