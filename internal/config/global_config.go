package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrConfigExists is returned by WriteDefault when the file is present and
// overwriting was not requested.
var ErrConfigExists = errors.New("config file already exists")

// UserConfigPath returns ~/.config/leakwatch/config.yaml.
func UserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "leakwatch", "config.yaml"), nil
}

// ProjectConfigPath returns .leakwatch/config.yaml under dir.
func ProjectConfigPath(dir string) string {
	return filepath.Join(dir, ProjectConfigDir, "config.yaml")
}

// WriteDefault writes DefaultConfigYAML to path.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("checking config: %w", err)
		}
	}
	if err := AtomicWrite(path, []byte(DefaultConfigYAML)); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
