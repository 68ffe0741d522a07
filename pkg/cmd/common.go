package cmd

import (
	"github.com/testground/feedbench/pkg/config"
)

// loadConfig loads the defaults and .env.toml, applies the explicitly set
// command line flags through apply, and finally the environment overrides.
func loadConfig(apply func(cfg *config.EnvConfig) error, lookupEnv func(string) (string, bool)) (*config.EnvConfig, error) {
	cfg := &config.EnvConfig{}
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	if apply != nil {
		if err := apply(cfg); err != nil {
			return nil, err
		}
	}
	if lookupEnv != nil {
		cfg.ApplyEnv(lookupEnv)
	}
	return cfg, nil
}
