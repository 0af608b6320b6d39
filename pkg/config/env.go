package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that carry secrets. They are never read from the
// config file.
const (
	EnvVaultKeys    = "ROUTERADAR_VAULT_KEYS"
	EnvAIAPIKey     = "ROUTERADAR_AI_API_KEY"
	EnvMQTTPassword = "ROUTERADAR_MQTT_PASSWORD"
	EnvDBPath       = "ROUTERADAR_DB_PATH"
)

// ApplyEnv loads envFile (if it exists) into the process environment and
// overlays secrets onto cfg. Variables already set in the environment win
// over the file.
func ApplyEnv(cfg *Config, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load env file '%s': %w", envFile, err)
		}
	}

	if v := os.Getenv(EnvVaultKeys); v != "" {
		cfg.Vault.Keys = splitList(v)
	}

	if v := os.Getenv(EnvAIAPIKey); v != "" {
		cfg.AI.APIKey = v
	}

	if v := os.Getenv(EnvMQTTPassword); v != "" {
		cfg.Notify.MQTT.Password = v
	}

	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.DBPath = v
	}

	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}
