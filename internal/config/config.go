// Package config loads the bridge configuration from a YAML file.
// String values may reference environment variables as ${VAR} or $VAR.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/guseggert/wsexec/internal/files"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up from the working directory when none is given.
const FileName = ".wsexec.yaml"

var validate = validator.New()

// Config holds all bridge configuration.
type Config struct {
	ListenAddr     string        `yaml:"listen_addr" validate:"required,hostname_port"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	Shell          ShellConfig   `yaml:"shell"`
	Session        SessionConfig `yaml:"session"`
	Log            LogConfig     `yaml:"log"`
}

// ShellConfig selects how command strings are interpreted.
type ShellConfig struct {
	Path string   `yaml:"path" validate:"required"`
	Args []string `yaml:"args"`
}

// SessionConfig holds per-connection limits.
type SessionConfig struct {
	QueueSize    int           `yaml:"queue_size" validate:"min=1"`
	ReadLimit    int64         `yaml:"read_limit" validate:"min=1"`
	MaxRuntime   time.Duration `yaml:"max_runtime" validate:"min=0"`
	MaxLineBytes int           `yaml:"max_line_bytes" validate:"min=1"`
}

type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ListenAddr: "127.0.0.1:8080",
		Shell: ShellConfig{
			Path: "bash",
			Args: []string{"-c"},
		},
		Session: SessionConfig{
			QueueSize:    32,
			ReadLimit:    32768,
			MaxLineBytes: 64 * 1024,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the YAML file at path. Keys missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(strings.NewReader(expandEnvVars(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Find returns the path of the nearest config file in dir or its parents, or "" if there is none.
func Find(dir string) (string, error) {
	return files.FindUp(FileName, dir)
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// envVarPattern matches ${VAR} or $VAR patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces ${VAR} and $VAR with environment variable values, leaving unset ones as they are.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if match[1] == '{' {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}
