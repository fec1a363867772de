package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env holds the settings read only from the environment.
type Env struct {
	ConfigHome string `env:"SWCACHE_CONFIG_HOME"`

	LogLevel string `env:"SWCACHE_LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"SWCACHE_LOG_FILE"`

	OTelEnabled  bool   `env:"SWCACHE_OTEL_ENABLED" envDefault:"true"`
	OTelEndpoint string `env:"SWCACHE_OTEL_ENDPOINT"`
}

// LoadEnv parses Env from the process environment.
func LoadEnv() (Env, error) {
	e, err := env.ParseAs[Env]()
	if err != nil {
		return Env{}, fmt.Errorf("error parsing environment: %w", err)
	}
	return e, nil
}

// TelemetryEnabled reports whether traces should be exported: an endpoint
// is set and SWCACHE_OTEL_ENABLED is not false.
func (e Env) TelemetryEnabled() bool {
	return e.OTelEnabled && e.OTelEndpoint != ""
}
