package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	LogLevel string       `mapstructure:"log_level"`
	Game     GameConfig   `mapstructure:"game"`
	Client   ClientConfig `mapstructure:"client"`
	Server   ServerConfig `mapstructure:"server"`
}

// GameConfig holds the rules shared by the client core and the reference server.
type GameConfig struct {
	TurnLengthSeconds  int `mapstructure:"turn_length_seconds"`
	MaxAttemptsPerTurn int `mapstructure:"max_attempts_per_turn"`
	WildCardsPerPlayer int `mapstructure:"wild_cards_per_player"`
}

type ClientConfig struct {
	APIURL     string `mapstructure:"api_url"`
	EventsURL  string `mapstructure:"events_url"`
	DeviceID   string `mapstructure:"device_id"`
	PlayerName string `mapstructure:"player_name"`
}

type ServerConfig struct {
	HTTPAddress   string        `mapstructure:"http_address"`
	JWTSecret     string        `mapstructure:"jwt_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	Namespace     string        `mapstructure:"metrics_namespace"`
	Heartbeat     time.Duration `mapstructure:"heartbeat"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MaxWaiting    time.Duration `mapstructure:"max_waiting"`
	MaxIdle       time.Duration `mapstructure:"max_idle"`
}

var ErrInvalidGameConfig = errors.New("invalid game config")

var envKeyReplacer = strings.NewReplacer(".", "_")

// DefaultGame returns the rules the game ships with.
func DefaultGame() GameConfig {
	return GameConfig{
		TurnLengthSeconds:  30,
		MaxAttemptsPerTurn: 3,
		WildCardsPerPlayer: 1,
	}
}

// Validate rejects rule sets the turn engine cannot run with.
func (g GameConfig) Validate() error {
	if g.TurnLengthSeconds <= 0 {
		return fmt.Errorf("%w: turn_length_seconds must be positive, got %d", ErrInvalidGameConfig, g.TurnLengthSeconds)
	}
	if g.MaxAttemptsPerTurn <= 0 {
		return fmt.Errorf("%w: max_attempts_per_turn must be positive, got %d", ErrInvalidGameConfig, g.MaxAttemptsPerTurn)
	}
	if g.WildCardsPerPlayer < 0 {
		return fmt.Errorf("%w: wild_cards_per_player must not be negative, got %d", ErrInvalidGameConfig, g.WildCardsPerPlayer)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	game := DefaultGame()
	v.SetDefault("log_level", "info")
	v.SetDefault("game.turn_length_seconds", game.TurnLengthSeconds)
	v.SetDefault("game.max_attempts_per_turn", game.MaxAttemptsPerTurn)
	v.SetDefault("game.wild_cards_per_player", game.WildCardsPerPlayer)
	v.SetDefault("client.api_url", "http://localhost:8080/api")
	v.SetDefault("client.events_url", "ws://localhost:8080/ws")
	v.SetDefault("client.player_name", "Player")
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.jwt_secret", "change-me")
	v.SetDefault("server.token_ttl", "6h")
	v.SetDefault("server.metrics_namespace", "littleletters")
	v.SetDefault("server.heartbeat", "20s")
	v.SetDefault("server.sweep_interval", "1m")
	v.SetDefault("server.max_waiting", "10m")
	v.SetDefault("server.max_idle", "30m")
}

// LoadConfig reads config.yaml from path. A missing file is not an error: defaults and
// environment variables (LITTLELETTERS_GAME_TURN_LENGTH_SECONDS, ...) still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("littleletters")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Game.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
