// Package config loads the gateway configuration and publishes it as
// immutable snapshots.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/toolcall-gateway/internal/convert"
	"github.com/tjfontaine/toolcall-gateway/internal/domain"
	"github.com/tjfontaine/toolcall-gateway/internal/toolcall"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// key levels: TOOLGATE_SERVER__PORT sets server.port.
const EnvPrefix = "TOOLGATE_"

// DefaultPath is read when no path is given.
const DefaultPath = "config.yaml"

type Config struct {
	Server               ServerConfig            `koanf:"server"`
	UpstreamServices     []UpstreamServiceConfig `koanf:"upstream_services"`
	ClientAuthentication ClientAuthConfig        `koanf:"client_authentication"`
	Features             FeaturesConfig          `koanf:"features"`
	Storage              StorageConfig           `koanf:"storage"`
	Reasoning            convert.ReasoningBudget `koanf:"reasoning"`
}

type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type UpstreamServiceConfig struct {
	Name        string `koanf:"name"`
	ServiceType string `koanf:"service_type"` // openai, anthropic, gemini
	BaseURL     string `koanf:"base_url"`
	APIKey      string `koanf:"api_key"`
	Priority    int    `koanf:"priority"` // lower is tried first
	IsDefault   bool   `koanf:"is_default"`
	// InjectFunctionCalling overrides features.enable_function_calling for
	// this service; unset inherits it.
	InjectFunctionCalling *bool    `koanf:"inject_function_calling"`
	Models                []string `koanf:"models"`
	Description           string   `koanf:"description"`
}

type ClientAuthConfig struct {
	AllowedKeys []string `koanf:"allowed_keys"`
}

type FeaturesConfig struct {
	EnableFunctionCalling    bool   `koanf:"enable_function_calling"`
	ConvertDeveloperToSystem bool   `koanf:"convert_developer_to_system"`
	KeyPassthrough           bool   `koanf:"key_passthrough"`
	ModelPassthrough         bool   `koanf:"model_passthrough"`
	PromptTemplate           string `koanf:"prompt_template"`
	LogLevel                 string `koanf:"log_level"` // DEBUG, INFO, WARN, ERROR, DISABLED
}

// Level returns the slog level for LogLevel. disabled reports DISABLED.
func (f FeaturesConfig) Level() (level slog.Level, disabled bool) {
	switch strings.ToUpper(f.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug, false
	case "WARN", "WARNING":
		return slog.LevelWarn, false
	case "ERROR", "CRITICAL":
		return slog.LevelError, false
	case "DISABLED":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

type StorageConfig struct {
	Driver string `koanf:"driver"` // memory, sqlite
	DSN    string `koanf:"dsn"`
	// MaxEntries bounds the memory store.
	MaxEntries int `koanf:"max_entries"`
}

var defaults = map[string]any{
	"server.host":                          "0.0.0.0",
	"server.port":                          8000,
	"server.timeout":                       "180s",
	"features.enable_function_calling":     true,
	"features.convert_developer_to_system": true,
	"features.log_level":                   "INFO",
	"storage.driver":                       "memory",
	"storage.dsn":                          "toolgate.db",
	"storage.max_entries":                  1000,
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the YAML file at path, applies TOOLGATE_ environment overrides
// and defaults, expands ${VAR} placeholders in keys and validates the result.
// A missing file is not an error; validation then reports what is missing.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			if err := k.Set(key, value); err != nil {
				return nil, fmt.Errorf("set default %s: %w", key, err)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	for i := range cfg.UpstreamServices {
		cfg.UpstreamServices[i].APIKey = substituteEnvVars(cfg.UpstreamServices[i].APIKey)
	}
	for i := range cfg.ClientAuthentication.AllowedKeys {
		cfg.ClientAuthentication.AllowedKeys[i] = substituteEnvVars(cfg.ClientAuthentication.AllowedKeys[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the service list and feature settings.
func (c *Config) Validate() error {
	if len(c.UpstreamServices) == 0 {
		return errors.New("config: at least one upstream service is required")
	}

	var errs []error
	names := make(map[string]bool)
	defaultCount := 0
	for i, svc := range c.UpstreamServices {
		label := svc.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
			errs = append(errs, fmt.Errorf("upstream service %s: name is required", label))
		} else if names[svc.Name] {
			errs = append(errs, fmt.Errorf("upstream service %s: duplicate name", label))
		}
		names[svc.Name] = true

		if _, err := domain.ParseFormat(svc.ServiceType); err != nil {
			errs = append(errs, fmt.Errorf("upstream service %s: service_type: %w", label, err))
		}
		if strings.TrimSpace(svc.BaseURL) == "" {
			errs = append(errs, fmt.Errorf("upstream service %s: base_url is required", label))
		}
		if svc.IsDefault {
			defaultCount++
		}
	}
	if defaultCount > 1 {
		errs = append(errs, fmt.Errorf("config: %d upstream services are marked is_default, at most one is allowed", defaultCount))
	}

	if tmpl := c.Features.PromptTemplate; tmpl != "" && !strings.Contains(tmpl, toolcall.PlaceholderTools) {
		errs = append(errs, fmt.Errorf("features.prompt_template must contain %s", toolcall.PlaceholderTools))
	}

	switch c.Storage.Driver {
	case "", "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}

	return errors.Join(errs...)
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// MaskKey hides all but the last four characters of a key.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return "***"
	}
	return "***" + key[len(key)-4:]
}
