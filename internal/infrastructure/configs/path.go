package configs

import (
	"os"

	"github.com/hilthontt/nearchat/internal/infrastructure/env"
)

// DetermineConfigPath resolves the config file from, in order: the value of
// the --config flag, the NEARCHAT_CONFIG env var, then a list of well-known
// locations. An empty result means "defaults and env only".
func DetermineConfigPath(flagValue string) string {
	configPath := flagValue

	if configPath == "" {
		configPath = env.GetString("NEARCHAT_CONFIG", "")
	}

	if configPath == "" {
		candidates := []string{
			"./config.yaml",
			"./config.yml",
			"./tmp/config.yaml",
			"../../config.yaml", // keep for local dev
			"/etc/nearchat/config.yaml",
			"/app/config.yaml", // common in Docker
		}

		for _, p := range candidates {
			if _, err := os.Stat(p); err == nil {
				configPath = p
				break
			}
		}
	}

	return configPath
}
