package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config carries every tunable the agent consumes. Values come from
// environment variables (AGENT_ prefix) with an optional YAML file layered
// underneath; defaults below are the production defaults.
type Config struct {
	// Pool limits.
	MaxContexts     int `mapstructure:"max_contexts"`
	SlotsPerContext int `mapstructure:"slots_per_context"`

	// Audio pipeline.
	SegmentSeconds int `mapstructure:"segment_seconds"`
	SampleRate     int `mapstructure:"sample_rate"`
	Channels       int `mapstructure:"channels"`

	// Speaker debouncing.
	SpeakerConfirmMs int `mapstructure:"speaker_confirm_ms"`
	SpeakerSilenceMs int `mapstructure:"speaker_silence_ms"`
	SpeakerPollMs    int `mapstructure:"speaker_poll_ms"`

	// External operation bounds.
	JoinTimeout   time.Duration `mapstructure:"join_timeout"`
	MediaTimeout  time.Duration `mapstructure:"media_timeout"`
	LaunchTimeout time.Duration `mapstructure:"launch_timeout"`

	// Collaborator endpoints.
	BackendURL   string `mapstructure:"backend_url"`
	BackendToken string `mapstructure:"backend_token"`
	HarnessURL   string `mapstructure:"harness_url"`
	HarnessToken string `mapstructure:"harness_token"`

	// Control surfaces.
	ListenAddr    string `mapstructure:"listen_addr"`
	MCPListenAddr string `mapstructure:"mcp_listen_addr"`

	// Session behavior.
	ScreenshotsEnabled bool `mapstructure:"screenshots_enabled"`
	MaxDurationMinutes int  `mapstructure:"max_duration_minutes"`
}

// Load reads configuration from the environment and, when path is non-empty,
// a YAML file. Environment variables win over file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("max_contexts", 8)
	v.SetDefault("slots_per_context", 4)
	v.SetDefault("segment_seconds", 10)
	v.SetDefault("sample_rate", 16000)
	v.SetDefault("channels", 1)
	v.SetDefault("speaker_confirm_ms", 2500)
	v.SetDefault("speaker_silence_ms", 500)
	v.SetDefault("speaker_poll_ms", 1000)
	v.SetDefault("join_timeout", 2*time.Minute)
	v.SetDefault("media_timeout", 2*time.Minute)
	v.SetDefault("launch_timeout", 30*time.Second)
	v.SetDefault("listen_addr", ":3001")
	v.SetDefault("screenshots_enabled", false)
	v.SetDefault("max_duration_minutes", 0)

	// AutomaticEnv only resolves keys viper already knows about, so the
	// required-but-defaultless keys get registered with empty defaults.
	v.SetDefault("backend_url", "")
	v.SetDefault("backend_token", "")
	v.SetDefault("harness_url", "")
	v.SetDefault("harness_token", "")
	v.SetDefault("mcp_listen_addr", "")

	v.SetEnvPrefix("AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the core cannot run with. Collaborator
// URLs are required; everything else has a sane default.
func (c *Config) Validate() error {
	if c.MaxContexts <= 0 {
		return fmt.Errorf("max_contexts must be positive, got %d", c.MaxContexts)
	}
	if c.SlotsPerContext <= 0 {
		return fmt.Errorf("slots_per_context must be positive, got %d", c.SlotsPerContext)
	}
	if c.SegmentSeconds <= 0 {
		return fmt.Errorf("segment_seconds must be positive, got %d", c.SegmentSeconds)
	}
	switch c.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return fmt.Errorf("sample_rate %d not supported by the opus decoder", c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}
	if c.SpeakerConfirmMs <= 0 || c.SpeakerSilenceMs <= 0 {
		return fmt.Errorf("speaker debounce thresholds must be positive")
	}
	if c.SpeakerPollMs <= 0 {
		return fmt.Errorf("speaker_poll_ms must be positive, got %d", c.SpeakerPollMs)
	}
	if c.BackendURL == "" {
		return fmt.Errorf("backend_url is required")
	}
	if c.HarnessURL == "" {
		return fmt.Errorf("harness_url is required")
	}
	return nil
}

// SegmentDuration is SegmentSeconds as a time.Duration.
func (c *Config) SegmentDuration() time.Duration {
	return time.Duration(c.SegmentSeconds) * time.Second
}
