package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	return parseEnv(target, env.Options{})
}

// ParseEnvPrefix is ParseEnv for a struct whose tags omit a shared prefix:
// with prefix "MTG_OTEL_", a field tagged `env:"ENDPOINT"` reads
// MTG_OTEL_ENDPOINT.
func ParseEnvPrefix(target any, prefix string) error {
	return parseEnv(target, env.Options{Prefix: prefix})
}

func parseEnv(target any, opts env.Options) error {
	if err := env.ParseWithOptions(target, opts); err != nil {
		if opts.Prefix != "" {
			return fmt.Errorf("parse %s* env: %w", opts.Prefix, err)
		}
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
