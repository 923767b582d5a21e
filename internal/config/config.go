package config

import (
	"errors"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogPretty         bool          `mapstructure:"log_pretty" yaml:"log_pretty"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	// Per-session websocket limits.
	SessionQueueSize  int     `mapstructure:"session_queue_size" yaml:"session_queue_size"`
	MessageRatePerSec float64 `mapstructure:"message_rate_per_sec" yaml:"message_rate_per_sec"`
	MessageBurst      int     `mapstructure:"message_burst" yaml:"message_burst"`
	MaxMessageLength  int     `mapstructure:"max_message_length" yaml:"max_message_length"`
	HistoryLimit      int     `mapstructure:"history_limit" yaml:"history_limit"`
	UnreadPreview     int     `mapstructure:"unread_preview" yaml:"unread_preview"`
	OnlineRoom        string  `mapstructure:"online_room" yaml:"online_room"`

	// PublicRooms are created at startup when missing. Their id is their name.
	PublicRooms []string `mapstructure:"public_rooms" yaml:"public_rooms"`

	AuthRatePerMinute int `mapstructure:"auth_rate_per_minute" yaml:"auth_rate_per_minute"`

	// Uploads go to NATS JetStream when NATSURL is set, to UploadDir otherwise.
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`
	UploadDir      string `mapstructure:"upload_dir" yaml:"upload_dir"`
	NATSURL        string `mapstructure:"nats_url" yaml:"nats_url"`
	UploadBucket   string `mapstructure:"upload_bucket" yaml:"upload_bucket"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogPretty:         true,
		DatabasePath:      "rtchat.db",
		JWTSecret:         "change-me",
		JWTIssuer:         "rtchat",
		JWTAudience:       "rtchat-clients",
		JWTTTL:            24 * time.Hour,
		SessionQueueSize:  64,
		MessageRatePerSec: 5,
		MessageBurst:      10,
		MaxMessageLength:  300,
		HistoryLimit:      100,
		UnreadPreview:     5,
		OnlineRoom:        "online-status",
		PublicRooms:       []string{"public-chat"},
		AuthRatePerMinute: 30,
		MaxUploadBytes:    10 << 20,
		UploadDir:         "uploads",
		UploadBucket:      "rtchat-files",
	}
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required"))
	}
	if c.JWTTTL <= 0 {
		errs = append(errs, errors.New("jwt_ttl must be positive"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max_upload_bytes must be positive"))
	}
	if c.MessageRatePerSec < 0 {
		errs = append(errs, errors.New("message_rate_per_sec must not be negative"))
	}
	if c.NATSURL == "" && c.UploadDir == "" {
		errs = append(errs, errors.New("upload_dir is required without nats_url"))
	}
	return errors.Join(errs...)
}
