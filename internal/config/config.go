// Package config loads service configuration from the environment.
//
// Values come from defaults, an optional .env file in the working directory,
// and BILLCHAT_* / provider environment variables, in that order. The two
// provider API keys are required; Load fails fast when either is missing so
// a misconfigured process never serves requests.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	LegiScan LegiScanConfig
	OpenAI   OpenAIConfig
	Storage  StorageConfig
	Tagging  TaggingConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
	// Token guards the HTTP API. Empty disables bearer auth, which is
	// only sensible for local development.
	Token string
}

type LegiScanConfig struct {
	APIKey  string
	BaseURL string
	// State selects the legislature whose master list is cached.
	State string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type StorageConfig struct {
	DataDir string
}

type TaggingConfig struct {
	// Interval is the minimum pause between AI calls while tagging,
	// pacing the pipeline under upstream rate limits.
	Interval time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		LegiScan: LegiScanConfig{
			BaseURL: "https://api.legiscan.com",
			State:   "CA",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-3.5-turbo",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Tagging: TaggingConfig{
			Interval: 3 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir + "/billchat"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return home + "/.local/share/billchat"
}

// Load reads configuration from defaults, an optional .env file, and
// environment variables. It returns an error when a required API key is
// absent.
func Load() (Config, error) {
	// A missing .env file is fine; env vars alone are a complete config.
	_ = godotenv.Load()
	return loadFromEnv(os.Getenv)
}

func loadFromEnv(getenv func(string) string) (Config, error) {
	cfg := defaults()

	if v := getenv("BILLCHAT_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid BILLCHAT_PORT %q: %w", v, err)
		}
		cfg.Server.Port = p
	}
	if v := getenv("BILLCHAT_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
	if v := getenv("BILLCHAT_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := getenv("BILLCHAT_STATE"); v != "" {
		cfg.LegiScan.State = v
	}
	if v := getenv("BILLCHAT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("BILLCHAT_TAG_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid BILLCHAT_TAG_INTERVAL %q: %w", v, err)
		}
		cfg.Tagging.Interval = d
	}

	if v := getenv("LEGISCAN_API_KEY"); v != "" {
		cfg.LegiScan.APIKey = v
	}
	if v := getenv("LEGISCAN_BASE_URL"); v != "" {
		cfg.LegiScan.BaseURL = v
	}
	if v := getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := getenv("OPENAI_MODEL"); v != "" {
		cfg.OpenAI.Model = v
	}

	if cfg.LegiScan.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: LEGISCAN_API_KEY")
	}
	if cfg.OpenAI.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: OPENAI_API_KEY")
	}

	return cfg, nil
}
