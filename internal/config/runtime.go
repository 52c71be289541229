package config

import (
	"os"
	"path/filepath"
)

const defaultRuntimePath = ".tuskmem"

// GetRuntimePath is used before any config struct is parsed (to find .env).
func GetRuntimePath() string {
	return resolveRuntimePath(os.Getenv("TUSKMEM_RUNTIME_PATH"))
}

func resolveRuntimePath(path string) string {
	if path == "" {
		path = defaultRuntimePath
	}

	if !filepath.IsAbs(path) {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path)
	}
	return path
}
