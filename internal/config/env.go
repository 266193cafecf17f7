package config

import (
	"os"
	"strings"
)

// envPaths are searched in order; the first readable file wins
var envPaths = []string{".env", "../.env", "../../.env"}

// LoadEnv loads variables from the first .env file found. Variables already
// present in the environment are left alone.
func LoadEnv() error {
	for _, envPath := range envPaths {
		data, err := os.ReadFile(envPath)
		if err != nil {
			continue
		}
		applyEnv(string(data))
		break
	}
	return nil
}

func applyEnv(data string) {
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"`)

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
