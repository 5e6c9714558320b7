// Package config loads stepwatch configuration from ini files with a merge
// chain of embedded defaults → global config → local config. The loaded
// values are injected explicitly into the components that need them; nothing
// else in the program reads configuration ambiently.
package config

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed defaults
var defaultsFS embed.FS

// localConfigName is the per-project config file looked up in the working
// directory.
const localConfigName = ".stepwatch"

// Config is the merged configuration.
type Config struct {
	Values Values
}

// Load reads configuration with the standard merge chain. globalDir overrides
// the global config directory, empty uses the default location
// (~/.config/stepwatch). A missing file at any level is not an error.
func Load(globalDir string) (*Config, error) {
	dir := globalDir
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		dir = filepath.Join(base, "stepwatch")
	}

	loader := newValuesLoader(defaultsFS)
	values, err := loader.Load(localConfigName, filepath.Join(dir, "config"))
	if err != nil {
		return nil, err
	}
	return &Config{Values: values}, nil
}
