package main

import (
	"os"
	"path/filepath"
)

// resolveConfigPath returns the explicit --config path, or the default
// ~/.cortexd/config.json location used when the flag is empty.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".cortexd", "config.json")
}
