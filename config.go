package ember

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the optional TOML configuration for wiring agents from files.
// Environment variables override file values, so deployments can keep
// secrets out of the config.
type Config struct {
	LLM      LLMConfig      `toml:"llm"`
	Store    StoreConfig    `toml:"store"`
	Agent    AgentDefaults  `toml:"agent"`
	Observer ObserverConfig `toml:"observer"`
}

// LLMConfig selects the chat backend.
type LLMConfig struct {
	// BaseURL of the OpenAI-compatible API (e.g. "https://api.openai.com/v1").
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend: "memory", "file", "sqlite", or "postgres".
	Backend string `toml:"backend"`
	// Path for file and sqlite backends.
	Path string `toml:"path"`
	// DSN for the postgres backend.
	DSN string `toml:"dsn"`
}

// AgentDefaults carry loop defaults applied when constructing agents.
type AgentDefaults struct {
	MaxIterations int `toml:"max_iterations"`
	TokenLimit    int `toml:"token_limit"`
}

// ObserverConfig toggles OTEL instrumentation.
type ObserverConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

// LoadConfig reads a TOML config file and applies environment overrides.
// A missing file is not an error when path is empty; the config is then
// built from the environment alone.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if os.IsNotExist(err) {
				return Config{}, &ErrConfig{Key: path, Message: "config file not found", Err: err}
			}
			return Config{}, &ErrConfig{Key: path, Message: "unparseable config: " + err.Error(), Err: err}
		}
	}
	cfg.applyEnv()
	if cfg.LLM.Model == "" {
		return Config{}, &ErrConfig{Key: "llm.model", Message: "missing model (set llm.model or EMBER_MODEL)"}
	}
	return cfg, nil
}

// ConfigFromEnv builds a config purely from the environment.
func ConfigFromEnv() (Config, error) {
	return LoadConfig("")
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("EMBER_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("EMBER_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("EMBER_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.openai.com/v1"
	}
}
