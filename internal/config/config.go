package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"livecall/native/internal/domain"
)

// EnvPrefix prefixes every environment variable, e.g. LIVECALL_API_TOKEN.
const EnvPrefix = "LIVECALL"

// Config holds the application configuration.
type Config struct {
	SignalingURL string `mapstructure:"signaling_url"`
	APIBaseURL   string `mapstructure:"api_base_url"`
	APIToken     string `mapstructure:"api_token"`
	MediaBaseURL string `mapstructure:"media_base_url"`

	STUNURL      string `mapstructure:"stun_url"`
	TURNURL      string `mapstructure:"turn_url"`
	TURNUsername string `mapstructure:"turn_username"`
	TURNPassword string `mapstructure:"turn_password"`

	PollInterval  time.Duration `mapstructure:"poll_interval"`
	Notifications bool          `mapstructure:"notifications"`
	Tone          bool          `mapstructure:"tone"`

	VideoBitRate int `mapstructure:"video_bitrate"`
	AudioBitRate int `mapstructure:"audio_bitrate"`

	ControlAddr string `mapstructure:"control_addr"`
	LogLevel    string `mapstructure:"log_level"`
}

var defaults = map[string]any{
	"signaling_url":  "",
	"api_base_url":   "",
	"api_token":      "",
	"media_base_url": "",
	"stun_url":       domain.DefaultSTUNURL,
	"turn_url":       "",
	"turn_username":  "",
	"turn_password":  "",
	"poll_interval":  "2.5s",
	"notifications":  true,
	"tone":           true,
	"video_bitrate":  1_000_000,
	"audio_bitrate":  64_000,
	"control_addr":   "127.0.0.1:8765",
	"log_level":      "info",
}

// Load reads configuration from a .env file (if present), an optional YAML
// file and environment variables. Environment variables take precedence.
// An empty file looks for livecall.yaml in the working directory and does
// not fail when there is none.
func Load(file string) (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("livecall")
		v.AddConfigPath(".")
	}

	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll_interval must be positive, got %s", cfg.PollInterval)
	}
	return &cfg, nil
}

// Require fails naming the environment variable of the first empty key.
func (c *Config) Require(keys ...string) error {
	values := map[string]string{
		"signaling_url":  c.SignalingURL,
		"api_base_url":   c.APIBaseURL,
		"api_token":      c.APIToken,
		"media_base_url": c.MediaBaseURL,
	}
	for _, k := range keys {
		val, ok := values[k]
		if !ok {
			return fmt.Errorf("unknown config key %q", k)
		}
		if val == "" {
			return fmt.Errorf("%s_%s environment variable is required", EnvPrefix, strings.ToUpper(k))
		}
	}
	return nil
}

// ICE returns the STUN/TURN settings for peer connections.
func (c *Config) ICE() domain.ICEConfig {
	return domain.ICEConfig{
		STUNURL:      c.STUNURL,
		TURNURL:      c.TURNURL,
		TURNUsername: c.TURNUsername,
		TURNPassword: c.TURNPassword,
	}
}
