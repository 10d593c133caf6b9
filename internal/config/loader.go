package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by Defaults.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`

	// Worker process. An empty WorkerBin means the running executable.
	WorkerBin    string   `json:"worker_bin" yaml:"worker_bin" toml:"worker_bin"`
	WorkerEngine string   `json:"worker_engine" yaml:"worker_engine" toml:"worker_engine"`
	WorkerArgs   []string `json:"worker_args" yaml:"worker_args" toml:"worker_args"`

	LoadTimeout   Duration `json:"load_timeout" yaml:"load_timeout" toml:"load_timeout"`
	PromptTimeout Duration `json:"prompt_timeout" yaml:"prompt_timeout" toml:"prompt_timeout"`
	StopGrace     Duration `json:"stop_grace" yaml:"stop_grace" toml:"stop_grace"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`

	CORSEnabled        bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`
	CORSAllowedMethods []string `json:"cors_allowed_methods" yaml:"cors_allowed_methods" toml:"cors_allowed_methods"`
	CORSAllowedHeaders []string `json:"cors_allowed_headers" yaml:"cors_allowed_headers" toml:"cors_allowed_headers"`

	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
}

// Duration is a time.Duration written as a Go duration string ("20s", "1m30s").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Defaults returns the configuration used when nothing else is specified.
func Defaults() Config {
	return Config{
		Addr:          ":8080",
		ModelsDir:     "~/models/llm",
		WorkerEngine:  "llama",
		LoadTimeout:   Duration(60 * time.Second),
		PromptTimeout: Duration(20 * time.Second),
		StopGrace:     Duration(3 * time.Second),
		LogLevel:      "info",
		LogFormat:     "json",
		MaxBodyBytes:  1 << 20,
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// Merge overlays the non-zero fields of over onto base.
func Merge(base, over Config) Config {
	out := base
	setStr(&out.Addr, over.Addr)
	setStr(&out.ModelsDir, over.ModelsDir)
	setStr(&out.DefaultModel, over.DefaultModel)
	setStr(&out.WorkerBin, over.WorkerBin)
	setStr(&out.WorkerEngine, over.WorkerEngine)
	setStr(&out.LogLevel, over.LogLevel)
	setStr(&out.LogFormat, over.LogFormat)
	if len(over.WorkerArgs) > 0 {
		out.WorkerArgs = append([]string(nil), over.WorkerArgs...)
	}
	if over.LoadTimeout > 0 {
		out.LoadTimeout = over.LoadTimeout
	}
	if over.PromptTimeout > 0 {
		out.PromptTimeout = over.PromptTimeout
	}
	if over.StopGrace > 0 {
		out.StopGrace = over.StopGrace
	}
	if over.CORSEnabled {
		out.CORSEnabled = true
	}
	if len(over.CORSAllowedOrigins) > 0 {
		out.CORSAllowedOrigins = append([]string(nil), over.CORSAllowedOrigins...)
	}
	if len(over.CORSAllowedMethods) > 0 {
		out.CORSAllowedMethods = append([]string(nil), over.CORSAllowedMethods...)
	}
	if len(over.CORSAllowedHeaders) > 0 {
		out.CORSAllowedHeaders = append([]string(nil), over.CORSAllowedHeaders...)
	}
	if over.MaxBodyBytes > 0 {
		out.MaxBodyBytes = over.MaxBodyBytes
	}
	return out
}

func setStr(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}
