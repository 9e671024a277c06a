// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// セッションの保存先。
const (
	SessionBackendPostgres = "postgres"
	SessionBackendRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL" env-required:"true"`

	// OAuth
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID" env-required:"true"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET" env-required:"true"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL" env-required:"true"`

	// Session
	SessionSecret          string        `env:"SESSION_SECRET" env-required:"true"`
	SessionMaxAge          int           `env:"SESSION_MAX_AGE" env-default:"5184000"`
	SessionBackend         string        `env:"SESSION_BACKEND" env-default:"postgres"`
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" env-default:"1h"`

	// Redis（SESSION_BACKEND=redisのときのみ使用）
	RedisAddr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// AMQP（空の場合はイベントを配信しない）
	AMQPURL string `env:"AMQP_URL"`

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral    int `env:"RATE_LIMIT_GENERAL" env-default:"120"`
	RateLimitOnboarding int `env:"RATE_LIMIT_ONBOARDING" env-default:"5"`

	// Transcript
	TranscriptFetchTimeout time.Duration `env:"TRANSCRIPT_FETCH_TIMEOUT" env-default:"10s"`
	TranscriptMaxSize      int64         `env:"TRANSCRIPT_MAX_SIZE" env-default:"2097152"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" env-default:"8080"`
	BaseURL    string `env:"BASE_URL" env-required:"true"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" env-default:"http://localhost:3000"`
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む。既存の環境変数は上書きしない。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// Validate は読み込んだ値の整合性を検証する。
func (c *Config) Validate() error {
	var errs []error

	required := []struct{ key, value string }{
		{"DATABASE_URL", c.DatabaseURL},
		{"GOOGLE_CLIENT_ID", c.GoogleClientID},
		{"GOOGLE_CLIENT_SECRET", c.GoogleClientSecret},
		{"GOOGLE_REDIRECT_URL", c.GoogleRedirectURL},
		{"SESSION_SECRET", c.SessionSecret},
		{"BASE_URL", c.BaseURL},
	}
	for _, r := range required {
		// 空文字で設定されている場合もcleanenvは通すのでここで弾く
		if r.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.key))
		}
	}

	if c.SessionMaxAge <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_MAX_AGE must be positive, got %d", c.SessionMaxAge))
	}
	switch c.SessionBackend {
	case SessionBackendPostgres:
	case SessionBackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required when SESSION_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("SESSION_BACKEND must be %q or %q, got %q", SessionBackendPostgres, SessionBackendRedis, c.SessionBackend))
	}
	if c.SessionCleanupInterval <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_CLEANUP_INTERVAL must be positive, got %s", c.SessionCleanupInterval))
	}
	if c.RateLimitGeneral <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_GENERAL must be positive, got %d", c.RateLimitGeneral))
	}
	if c.RateLimitOnboarding <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_ONBOARDING must be positive, got %d", c.RateLimitOnboarding))
	}
	if c.TranscriptFetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("TRANSCRIPT_FETCH_TIMEOUT must be positive, got %s", c.TranscriptFetchTimeout))
	}
	if c.TranscriptMaxSize <= 0 {
		errs = append(errs, fmt.Errorf("TRANSCRIPT_MAX_SIZE must be positive, got %d", c.TranscriptMaxSize))
	}
	if c.BaseURL != "" && !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("BASE_URL must start with http:// or https://, got %q", c.BaseURL))
	}

	return errors.Join(errs...)
}

// Addr はHTTPサーバーのlistenアドレスを返す。
func (c *Config) Addr() string {
	return ":" + c.ServerPort
}
