package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnvPrefixed loads configuration from environment variables whose
// names start with prefix, so tags can stay short.
func ParseEnvPrefixed(target any, prefix string) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: prefix}); err != nil {
		return fmt.Errorf("parse env %s*: %w", prefix, err)
	}
	return nil
}
