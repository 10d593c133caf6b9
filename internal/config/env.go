package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment variable read by FromEnv.
const EnvPrefix = "SESSIOND_"

// FromEnv builds a Config from SESSIOND_* variables using lookup
// (os.LookupEnv when nil). Unset variables leave zero values, so the result
// can be layered with Merge.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var cfg Config
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	strs := map[string]*string{
		"ADDR":          &cfg.Addr,
		"MODELS_DIR":    &cfg.ModelsDir,
		"DEFAULT_MODEL": &cfg.DefaultModel,
		"WORKER_BIN":    &cfg.WorkerBin,
		"WORKER_ENGINE": &cfg.WorkerEngine,
		"LOG_LEVEL":     &cfg.LogLevel,
		"LOG_FORMAT":    &cfg.LogFormat,
	}
	for name, dst := range strs {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	lists := map[string]*[]string{
		"WORKER_ARGS":          &cfg.WorkerArgs,
		"CORS_ALLOWED_ORIGINS": &cfg.CORSAllowedOrigins,
		"CORS_ALLOWED_METHODS": &cfg.CORSAllowedMethods,
		"CORS_ALLOWED_HEADERS": &cfg.CORSAllowedHeaders,
	}
	for name, dst := range lists {
		if v, ok := get(name); ok {
			*dst = SplitCSV(v)
		}
	}
	durs := map[string]*Duration{
		"LOAD_TIMEOUT":   &cfg.LoadTimeout,
		"PROMPT_TIMEOUT": &cfg.PromptTimeout,
		"STOP_GRACE":     &cfg.StopGrace,
	}
	for name, dst := range durs {
		if v, ok := get(name); ok {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return cfg, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
		}
	}
	if v, ok := get("CORS_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("%sCORS_ENABLED: %w", EnvPrefix, err)
		}
		cfg.CORSEnabled = b
	}
	if v, ok := get("MAX_BODY_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("%sMAX_BODY_BYTES: %w", EnvPrefix, err)
		}
		cfg.MaxBodyBytes = n
	}
	return cfg, nil
}

// SplitCSV splits a comma-separated list, trimming blanks and dropping empties.
func SplitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
