package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath returns the config file path checked when --config
// isn't given: $COLDBACKUP_CONFIG_PATH if set, else ~/.config/coldbackup.toml.
func DefaultConfigPath() (string, error) {
	if path := os.Getenv("COLDBACKUP_CONFIG_PATH"); path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "coldbackup.toml"), nil
}
