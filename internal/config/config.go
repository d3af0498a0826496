package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken      string           `yaml:"discord_token" env:"DISCORD_TOKEN"`
	CommandGuildID    string           `yaml:"command_guild_id" env:"COMMAND_GUILD_ID"`
	LogLevel          string           `yaml:"log_level" env:"LOG_LEVEL"`
	DefaultLogChannel string           `yaml:"default_log_channel" env:"DEFAULT_LOG_CHANNEL"`
	RetentionDays     int              `yaml:"retention_days" env:"RETENTION_DAYS"`
	Database          DatabaseConfig   `yaml:"database" envPrefix:"DATABASE_"`
	Health            HealthConfig     `yaml:"health" envPrefix:"HEALTH_"`
	Music             MusicConfig      `yaml:"music" envPrefix:"MUSIC_"`
	Moderation        ModerationConfig `yaml:"moderation" envPrefix:"MODERATION_"`
	Commands          CommandConfig    `yaml:"commands" envPrefix:"COMMANDS_"`
	Notifications     NotifyConfig     `yaml:"notifications" envPrefix:"NOTIFY_"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" env:"DSN"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Addr    string `yaml:"addr" env:"ADDR"`
}

type MusicConfig struct {
	IdleTimeoutSeconds    int      `yaml:"idle_timeout_seconds" env:"IDLE_TIMEOUT_SECONDS"`
	DefaultVolume         int      `yaml:"default_volume" env:"DEFAULT_VOLUME"`
	MaxPlaylistEntries    int      `yaml:"max_playlist_entries" env:"MAX_PLAYLIST_ENTRIES"`
	ResolveTimeoutSeconds int      `yaml:"resolve_timeout_seconds" env:"RESOLVE_TIMEOUT_SECONDS"`
	SearchProviders       []string `yaml:"search_providers" env:"SEARCH_PROVIDERS" envSeparator:","`
	FFmpegPath            string   `yaml:"ffmpeg_path" env:"FFMPEG_PATH"`
	YtdlpPath             string   `yaml:"ytdlp_path" env:"YTDLP_PATH"`
	SpotifyClientID       string   `yaml:"spotify_client_id" env:"SPOTIFY_CLIENT_ID"`
	SpotifyClientSecret   string   `yaml:"spotify_client_secret" env:"SPOTIFY_CLIENT_SECRET"`
}

type ModerationConfig struct {
	AutoroleID         string `yaml:"autorole_id" env:"AUTOROLE_ID"`
	SpamMessages       int    `yaml:"spam_messages" env:"SPAM_MESSAGES"`
	SpamWindowSeconds  int    `yaml:"spam_window_seconds" env:"SPAM_WINDOW_SECONDS"`
	WarningsBeforeKick int    `yaml:"warnings_before_kick" env:"WARNINGS_BEFORE_KICK"`
	ForgiveMinutes     int    `yaml:"forgive_minutes" env:"FORGIVE_MINUTES"`
}

type CommandConfig struct {
	CooldownSeconds float64 `yaml:"cooldown_seconds" env:"COOLDOWN_SECONDS"`
	Burst           int     `yaml:"burst" env:"BURST"`
}

type NotifyConfig struct {
	ChannelWarnEnabled bool        `yaml:"channel_warn_enabled" env:"CHANNEL_WARN_ENABLED"`
	AuditToChannel     bool        `yaml:"audit_to_channel" env:"AUDIT_TO_CHANNEL"`
	EmbedColors        EmbedColors `yaml:"embed_colors" envPrefix:"EMBED_COLOR_"`
}

type EmbedColors struct {
	Music   int `yaml:"music" env:"MUSIC"`
	Action  int `yaml:"action" env:"ACTION"`
	Warning int `yaml:"warning" env:"WARNING"`
	Error   int `yaml:"error" env:"ERROR"`
}

var searchProviders = map[string]struct{}{"ytmusic": {}, "youtube": {}, "ytdlp": {}}

func DefaultConfig() Config {
	return Config{
		LogLevel:      "info",
		RetentionDays: 14,
		Database:      DatabaseConfig{Driver: "sqlite3", DSN: "/data/warden.db"},
		Health:        HealthConfig{Enabled: false, Addr: ":8080"},
		Music: MusicConfig{
			IdleTimeoutSeconds:    180,
			DefaultVolume:         100,
			MaxPlaylistEntries:    100,
			ResolveTimeoutSeconds: 30,
			SearchProviders:       []string{"ytmusic", "youtube", "ytdlp"},
			FFmpegPath:            "ffmpeg",
			YtdlpPath:             "yt-dlp",
		},
		Moderation: ModerationConfig{
			SpamMessages:       6,
			SpamWindowSeconds:  8,
			WarningsBeforeKick: 3,
			ForgiveMinutes:     60,
		},
		Commands: CommandConfig{CooldownSeconds: 2, Burst: 3},
		Notifications: NotifyConfig{
			ChannelWarnEnabled: true,
			AuditToChannel:     true,
			EmbedColors: EmbedColors{
				Music:   0x5865F2,
				Action:  0xF59E0B,
				Warning: 0xEF4444,
				Error:   0xF97316,
			},
		},
	}
}

func Load() (Config, error) {
	_ = godotenv.Load()
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}

	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	cfg.Database.Driver = normalizeDriver(cfg.Database.Driver)
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 14
	}

	music := &cfg.Music
	if music.IdleTimeoutSeconds < 10 {
		music.IdleTimeoutSeconds = 10
	}
	music.DefaultVolume = clamp(music.DefaultVolume, 0, 150)
	music.MaxPlaylistEntries = clamp(music.MaxPlaylistEntries, 1, 500)
	if music.ResolveTimeoutSeconds <= 0 {
		music.ResolveTimeoutSeconds = 30
	}
	var providers []string
	for _, provider := range music.SearchProviders {
		provider = strings.ToLower(strings.TrimSpace(provider))
		if _, ok := searchProviders[provider]; ok {
			providers = append(providers, provider)
		}
	}
	if len(providers) == 0 {
		providers = []string{"ytdlp"}
	}
	music.SearchProviders = providers

	mod := &cfg.Moderation
	if mod.SpamMessages < 2 {
		mod.SpamMessages = 2
	}
	if mod.SpamWindowSeconds <= 0 {
		mod.SpamWindowSeconds = 8
	}
	if mod.WarningsBeforeKick < 1 {
		mod.WarningsBeforeKick = 1
	}

	if cfg.Commands.CooldownSeconds < 0 {
		cfg.Commands.CooldownSeconds = 0
	}
	if cfg.Commands.Burst < 1 {
		cfg.Commands.Burst = 1
	}
}

func normalizeDriver(value string) string {
	switch strings.ToLower(value) {
	case "pgx", "postgres", "postgresql":
		return "pgx"
	default:
		return "sqlite3"
	}
}

func clamp(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
