package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/imdario/mergo"

	"github.com/testground/feedbench/pkg/logging"
)

// Load starts from the defaults and applies the optional .env.toml found in
// the home directory on top of them.
func (e *EnvConfig) Load() error {
	// apply fallbacks.
	*e = Defaults()

	// calculate home directory; use env var, or fall back to $HOME/.feedbench
	// otherwise.
	var home string
	if v, ok := os.LookupEnv(EnvFeedbenchHomeDir); ok {
		home = v
	} else {
		v, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to obtain user home dir: %w", err)
		}
		home = filepath.Join(v, ".feedbench")
	}

	if err := ensureDir(home); err != nil {
		return fmt.Errorf("failed to check/create home directory %s: %w", home, err)
	}
	e.home = home

	// parse the .env.toml file, if it exists.
	f := filepath.Join(home, ".env.toml")
	if _, err := os.Stat(f); err == nil {
		if _, err = toml.DecodeFile(f, e); err != nil {
			return fmt.Errorf("found .env.toml at %s, but failed to parse: %w", f, err)
		}
		logging.S().Infof(".env.toml loaded from: %s", f)
	} else {
		logging.S().Infof("no .env.toml found at %s; running with defaults", f)
	}
	return nil
}

// Override replaces every field of e that is set in src. Zero values of src
// are ignored.
func (e *EnvConfig) Override(src EnvConfig) error {
	if err := mergo.Merge(e, src, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge configuration: %w", err)
	}
	return nil
}

// ApplyEnv overrides the endpoints and stamps with the comma separated lists
// of the BEE_* environment variables.
func (e *EnvConfig) ApplyEnv(lookup func(string) (string, bool)) {
	for _, v := range []struct {
		name string
		dst  *[]string
	}{
		{EnvWriterURLs, &e.Bench.Writers},
		{EnvReaderURLs, &e.Bench.Readers},
		{EnvStamps, &e.Bench.Stamps},
	} {
		if s, ok := lookup(v.name); ok && s != "" {
			*v.dst = splitList(s)
			logging.S().Debugw("configuration overridden by environment", "var", v.name, "values", *v.dst)
		}
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ensureDir checks whether the specified path is a directory, and if not it
// attempts to create it.
func ensureDir(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		logging.S().Infof("creating home directory at %s", path)
		return os.MkdirAll(path, os.ModePerm)
	}

	if !fi.IsDir() {
		return fmt.Errorf("path %s exists, and it is not a directory", path)
	}
	return nil
}
