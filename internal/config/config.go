package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	Realtime      RealtimeConfig      `mapstructure:"realtime"`
	Session       SessionConfig       `mapstructure:"session"`
	TurnDetection TurnDetectionConfig `mapstructure:"turn_detection"`
	Media         MediaConfig         `mapstructure:"media"`
	Signal        SignalConfig        `mapstructure:"signal"`
}

type RealtimeConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	TokenURL       string        `mapstructure:"token_url"`
	ChannelLabel   string        `mapstructure:"channel_label"`
	ICEServers     []string      `mapstructure:"ice_servers"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type SessionConfig struct {
	StageDelay           time.Duration `mapstructure:"stage_delay"`
	RecoveryDelay        time.Duration `mapstructure:"recovery_delay"`
	AuditCapacity        int           `mapstructure:"audit_capacity"`
	Instructions         string        `mapstructure:"instructions"`
	RecoveryInstructions string        `mapstructure:"recovery_instructions"`
}

type TurnDetectionConfig struct {
	Type              string  `mapstructure:"type"`
	Threshold         float64 `mapstructure:"threshold"`
	PrefixPaddingMS   int     `mapstructure:"prefix_padding_ms"`
	SilenceDurationMS int     `mapstructure:"silence_duration_ms"`
	CreateResponse    bool    `mapstructure:"create_response"`
}

type MediaConfig struct {
	InputFile    string `mapstructure:"input_file"`
	RecordPath   string `mapstructure:"record_path"`
	RecordPaused bool   `mapstructure:"record_paused"`
}

type SignalConfig struct {
	IntentEvery time.Duration `mapstructure:"intent_every"`
	IntentBurst int           `mapstructure:"intent_burst"`
	MaxDrops    int           `mapstructure:"max_drops"`
}

// New returns a viper instance with every default set and env overrides
// (VOICEGUIDE_REALTIME_MODEL and so on) enabled.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("VOICEGUIDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("realtime.base_url", "https://api.openai.com/v1/realtime")
	v.SetDefault("realtime.model", "gpt-4o-realtime-preview-2024-12-17")
	v.SetDefault("realtime.token_url", "http://localhost:3000/token")
	v.SetDefault("realtime.channel_label", "oai-events")
	v.SetDefault("realtime.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("realtime.request_timeout", "15s")

	v.SetDefault("session.stage_delay", "300ms")
	v.SetDefault("session.recovery_delay", "500ms")
	v.SetDefault("session.audit_capacity", 1000)
	v.SetDefault("session.instructions", "")
	v.SetDefault("session.recovery_instructions", "")

	v.SetDefault("turn_detection.type", "server_vad")
	v.SetDefault("turn_detection.threshold", 0.5)
	v.SetDefault("turn_detection.prefix_padding_ms", 300)
	v.SetDefault("turn_detection.silence_duration_ms", 2000)
	v.SetDefault("turn_detection.create_response", true)

	v.SetDefault("media.input_file", "")
	v.SetDefault("media.record_path", "")
	v.SetDefault("media.record_paused", false)

	v.SetDefault("signal.intent_every", "1s")
	v.SetDefault("signal.intent_burst", 3)
	v.SetDefault("signal.max_drops", 8)
	return v
}

// Load reads path, or config/config.<CONFIG_ENV>.yaml when path is empty.
// A missing file is not an error; defaults apply.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = New()
	}
	if path == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		path = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", path).Err(err).Msg("config file not loaded, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", path).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("model", cfg.Realtime.Model).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("config: port %d out of range", c.Port)
	case c.Realtime.TokenURL == "":
		return fmt.Errorf("config: realtime.token_url is required")
	case c.Session.StageDelay < 0 || c.Session.RecoveryDelay < 0:
		return fmt.Errorf("config: session delays must not be negative")
	case c.TurnDetection.Threshold < 0 || c.TurnDetection.Threshold > 1:
		return fmt.Errorf("config: turn_detection.threshold %.2f outside [0,1]", c.TurnDetection.Threshold)
	}
	return nil
}
