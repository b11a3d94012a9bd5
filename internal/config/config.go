package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type ICE struct {
	STUN     []string `mapstructure:"stun"`
	TURN     []string `mapstructure:"turn"`
	TURNUser string   `mapstructure:"turn_user"`
	TURNPass string   `mapstructure:"turn_pass"`
}

type RateLimit struct {
	Messages int           `mapstructure:"messages"`
	Interval time.Duration `mapstructure:"interval"`
}

type Client struct {
	ServerURL      string        `mapstructure:"server_url"`
	ConnectRetries int           `mapstructure:"connect_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	JoinTimeout    time.Duration `mapstructure:"join_timeout"`
	AnswerTimeout  time.Duration `mapstructure:"answer_timeout"`
	PLIInterval    time.Duration `mapstructure:"pli_interval"`
}

type Config struct {
	Mode         string        `mapstructure:"mode"`
	LogLevel     string        `mapstructure:"log_level"`
	Port         int           `mapstructure:"port"`
	StaticPath   string        `mapstructure:"static_path"`
	Secret       string        `mapstructure:"secret"`
	AdminToken   string        `mapstructure:"admin_token"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	WriteWait    time.Duration `mapstructure:"write_wait"`
	SendQueue    int           `mapstructure:"send_queue"`
	SlowConsumer string        `mapstructure:"slow_consumer"`
	RateLimit    RateLimit     `mapstructure:"rate_limit"`
	ICE          ICE           `mapstructure:"ice"`
	Client       Client        `mapstructure:"client"`
}

// New returns a viper instance with defaults, env overrides and the config
// file for CONFIG_ENV registered. Callers may bind flags before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	v.SetConfigFile(fmt.Sprintf("config/config.%s.yaml", env))

	v.SetEnvPrefix("MEETLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "meetlink-dev-secret")
	v.SetDefault("admin_token", "")
	v.SetDefault("read_limit", 64*1024)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_queue", 64)
	v.SetDefault("slow_consumer", "kick")
	v.SetDefault("rate_limit.messages", 200)
	v.SetDefault("rate_limit.interval", "1s")
	v.SetDefault("ice.stun", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("client.server_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("client.connect_retries", 5)
	v.SetDefault("client.retry_backoff", "500ms")
	v.SetDefault("client.join_timeout", "10s")
	v.SetDefault("client.answer_timeout", "15s")
	v.SetDefault("client.pli_interval", "3s")
	return v
}

// Load reads the config file (if any) into a Config.
func Load() (*Config, error) {
	return LoadFrom(New())
}

func LoadFrom(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("slow_consumer", cfg.SlowConsumer).Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.SendQueue <= 0 {
		return fmt.Errorf("send_queue must be positive, got %d", c.SendQueue)
	}
	if c.PingPeriod <= 0 || c.PongWait <= 0 {
		return fmt.Errorf("ping_period (%s) and pong_wait (%s) must be positive", c.PingPeriod, c.PongWait)
	}
	if c.PingPeriod >= c.PongWait {
		return fmt.Errorf("ping_period (%s) must be shorter than pong_wait (%s)", c.PingPeriod, c.PongWait)
	}
	switch c.SlowConsumer {
	case "kick", "drop_oldest":
	default:
		return fmt.Errorf("slow_consumer must be kick or drop_oldest, got %q", c.SlowConsumer)
	}
	if c.Client.ConnectRetries < 1 {
		c.Client.ConnectRetries = 1
	}
	return nil
}
