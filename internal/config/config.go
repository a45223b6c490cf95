package config

import "github.com/neuralhub/neuralhub/internal/catalog"

type Config struct {
	Server   ServerConfig
	Chat     ChatConfig
	FreeTier FreeTierConfig
	Storage  StorageConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

type ChatConfig struct {
	DefaultModel     string
	ResponderDelayMS int
}

type FreeTierConfig struct {
	MaxRequests int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4700,
		},
		Chat: ChatConfig{
			DefaultModel:     catalog.DefaultModel,
			ResponderDelayMS: 1000,
		},
		FreeTier: FreeTierConfig{
			MaxRequests: 10,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend with environment
// overrides.
//
// On macOS the backend is UserDefaults (domain: com.neuralhub.app). On Linux
// it is a JSON file at $XDG_CONFIG_HOME/neuralhub/config.json.
//
// Environment variables (NEURALHUB_*) override backend values on all
// platforms. API keys are not configuration; they live in the daemon's
// credential store.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}
