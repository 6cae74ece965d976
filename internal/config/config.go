// Package config loads daemon configuration from
// ~/.config/deskmind/config.yaml and tool-server definitions from
// servers.yaml in the same directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is the daemon configuration.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Providers Providers `mapstructure:"providers"`
	Retriever Retriever `mapstructure:"retriever"`
	Terminal  Terminal  `mapstructure:"terminal"`
	Capture   Capture   `mapstructure:"capture"`
	Notify    Notify    `mapstructure:"notify"`
	Log       Log       `mapstructure:"log"`
}

// Server configures the HTTP/WebSocket listener.
type Server struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AuthToken      string   `mapstructure:"auth_token"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Addr returns the listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Providers holds per-provider credentials and model defaults.
type Providers struct {
	Default   string   `mapstructure:"default"` // model used when a query names none
	Anthropic Provider `mapstructure:"anthropic"`
	OpenAI    Provider `mapstructure:"openai"`
	Gemini    Provider `mapstructure:"gemini"`
	Ollama    Provider `mapstructure:"ollama"`
	LMStudio  Provider `mapstructure:"lmstudio"`
}

// Provider is one LLM backend entry.
type Provider struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	BaseURL   string `mapstructure:"base_url"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// Retriever configures embedding-based tool selection.
type Retriever struct {
	Backend string `mapstructure:"backend"` // auto, ollama, openai, gemini, off
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"` // empty: probe the allowlist
	TopK    int    `mapstructure:"top_k"`
}

// Terminal configures command execution.
type Terminal struct {
	AskLevel      string   `mapstructure:"ask_level"` // always, on-miss, off
	Shell         string   `mapstructure:"shell"`
	AllowPatterns []string `mapstructure:"allow_patterns"` // glob patterns approved without asking
}

// Capture configures screenshot behavior.
type Capture struct {
	Mode string `mapstructure:"mode"` // fullscreen, precision, none
}

// Notify configures out-of-band attention notifications, used when no
// frontend client is connected.
type Notify struct {
	Telegram TelegramNotify `mapstructure:"telegram"`
	WebPush  WebPushNotify  `mapstructure:"webpush"`
}

// TelegramNotify holds bot credentials for Telegram notifications.
type TelegramNotify struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

// WebPushNotify holds VAPID credentials for Web Push notifications.
type WebPushNotify struct {
	VAPIDPublicKey  string `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string `mapstructure:"vapid_private_key"`
	Subscriber      string `mapstructure:"subscriber"` // mailto: contact
}

// Log configures daemon logging.
type Log struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from the config directory, applying
// defaults for anything unset. A missing config file is not an error.
func Load() (*Config, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.expandEnvVars()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8765)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("providers.default", "qwen3:8b")
	v.SetDefault("providers.anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("providers.anthropic.max_tokens", 8192)
	v.SetDefault("providers.openai.model", "gpt-5.2")
	v.SetDefault("providers.gemini.model", "gemini-3-flash-preview")
	v.SetDefault("providers.ollama.base_url", "http://localhost:11434")
	v.SetDefault("providers.ollama.model", "qwen3:8b")
	v.SetDefault("providers.lmstudio.base_url", "http://localhost:1234/v1")

	v.SetDefault("retriever.backend", "auto")
	v.SetDefault("retriever.base_url", "http://localhost:11434")
	v.SetDefault("retriever.top_k", 5)

	v.SetDefault("terminal.ask_level", "on-miss")

	v.SetDefault("capture.mode", "fullscreen")

	v.SetDefault("log.level", "info")
}

// expandEnvVars substitutes ${VAR} references in credential fields so
// keys can live in the environment instead of the config file.
func (c *Config) expandEnvVars() {
	expand := func(s string) string {
		return os.Expand(s, func(key string) string {
			return os.Getenv(key)
		})
	}
	c.Server.AuthToken = expand(c.Server.AuthToken)
	c.Providers.Anthropic.APIKey = expand(c.Providers.Anthropic.APIKey)
	c.Providers.OpenAI.APIKey = expand(c.Providers.OpenAI.APIKey)
	c.Providers.Gemini.APIKey = expand(c.Providers.Gemini.APIKey)
	c.Notify.Telegram.Token = expand(c.Notify.Telegram.Token)
	c.Notify.WebPush.VAPIDPrivateKey = expand(c.Notify.WebPush.VAPIDPrivateKey)
}

// GetConfigDir returns the configuration directory, creating it if
// needed.
func GetConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	dir := filepath.Join(base, "deskmind")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// GetDataDir returns the user data directory (conversation database,
// approval history, Google token), creating it if needed.
func GetDataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".local", "share")
	}
	dir := filepath.Join(base, "deskmind")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// GoogleTokenPath returns the OAuth token file consulted before
// spawning the Google tool servers. GOOGLE_TOKEN_FILE overrides the
// default location in the data directory.
func GoogleTokenPath() string {
	if p := os.Getenv("GOOGLE_TOKEN_FILE"); p != "" {
		return p
	}
	dir, err := GetDataDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "google-token.json")
}

const configTemplate = `# deskmind configuration
server:
  host: 127.0.0.1
  port: 8765
  # auth_token: ${DESKMIND_TOKEN}

providers:
  # Model used when the frontend does not pick one. Bare names run on
  # Ollama; use provider/model (e.g. anthropic/claude-sonnet-4-5) for
  # cloud providers.
  default: qwen3:8b
  anthropic:
    api_key: ${ANTHROPIC_API_KEY}
    model: claude-sonnet-4-5
  openai:
    api_key: ${OPENAI_API_KEY}
    model: gpt-5.2
  gemini:
    api_key: ${GEMINI_API_KEY}
    model: gemini-3-flash-preview
  ollama:
    base_url: http://localhost:11434
    model: qwen3:8b

retriever:
  backend: auto
  top_k: 5

terminal:
  ask_level: on-miss
  # allow_patterns:
  #   - "git status*"
  #   - "ls*"

capture:
  mode: fullscreen
`

// Save writes the commented template config, refusing to clobber an
// existing file.
func Save() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("config already exists at %s", path)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	return path, nil
}
