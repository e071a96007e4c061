package config

import (
	"errors"
	"fmt"
	"github.com/spf13/viper"
	"os"
	"time"
)

const (
	CONFIG_FILE = "CONFIG_FILE"

	APP_PORT                 = "APP_PORT"
	APP_HOST                 = "APP_HOST"
	UPLOAD_MAX_MB            = "UPLOAD_MAX_MB"
	DB_HOST                  = "DB_HOST"
	DB_NAME                  = "DB_NAME"
	DB_USERNAME              = "DB_USERNAME"
	DB_PASS                  = "DB_PASS"
	DB_PORT                  = "DB_PORT"
	DB_CONN_MAX_LIFE_MINUTES = "DB_CONN_MAX_LIFE_MINUTES"
	DB_MAX_OPEN_CONNS        = "DB_MAX_OPEN_CONNS"
	DB_MIN_CONNS             = "DB_MIN_CONNS"
	REDIS_URL                = "REDIS_URL"
	SESSION_LIFETIME_MINUTES = "SESSION_LIFETIME_MINUTES"
	SESSION_COOKIE_NAME      = "SESSION_COOKIE_NAME"
	SESSION_COOKIE_SECURE    = "SESSION_COOKIE_SECURE"
	LOG_LEVEL                = "LOG_LEVEL"
	LOG_FILE                 = "LOG_FILE"
	JAG_DSN                  = "JAG_DSN"
	MAIL_SMTP_HOST           = "MAIL_SMTP_HOST"
	MAIL_SMTP_PORT           = "MAIL_SMTP_PORT"
	MAIL_IMAP_HOST           = "MAIL_IMAP_HOST"
	MAIL_IMAP_PORT           = "MAIL_IMAP_PORT"
	MAIL_USERNAME            = "MAIL_USERNAME"
	MAIL_PASSWORD            = "MAIL_PASSWORD"
	MAIL_FROM                = "MAIL_FROM"
	MAIL_ARCHIVE_MAILBOX     = "MAIL_ARCHIVE_MAILBOX"
)

var defaults = map[string]interface{}{
	APP_PORT:                 "8080",
	APP_HOST:                 "0.0.0.0",
	UPLOAD_MAX_MB:            50,
	DB_HOST:                  "localhost",
	DB_NAME:                  "registration",
	DB_USERNAME:              "postgres",
	DB_PASS:                  "",
	DB_PORT:                  5432,
	DB_CONN_MAX_LIFE_MINUTES: 30,
	DB_MAX_OPEN_CONNS:        50,
	DB_MIN_CONNS:             5,
	REDIS_URL:                "",
	SESSION_LIFETIME_MINUTES: 60,
	SESSION_COOKIE_NAME:      "registration_session",
	SESSION_COOKIE_SECURE:    false,
	LOG_LEVEL:                "info",
	LOG_FILE:                 "./logs/logs.txt",
	JAG_DSN:                  "",
	MAIL_SMTP_HOST:           "",
	MAIL_SMTP_PORT:           587,
	MAIL_IMAP_HOST:           "",
	MAIL_IMAP_PORT:           993,
	MAIL_USERNAME:            "",
	MAIL_PASSWORD:            "",
	MAIL_FROM:                "",
	MAIL_ARCHIVE_MAILBOX:     "Registrations",
}

type Entity struct {
	App     Application `mapstructure:",squash"`
	DB      Database    `mapstructure:",squash"`
	Redis   Redis       `mapstructure:",squash"`
	Session Session     `mapstructure:",squash"`
	Log     Log         `mapstructure:",squash"`
	Jag     Jaeger      `mapstructure:",squash"`
	Mail    Mail        `mapstructure:",squash"`

	// File is the config file in use, empty when configured from env only.
	File string `mapstructure:"-"`
}

// NewConfig reads configuration from the environment, optionally layered over
// the file named by CONFIG_FILE.
func NewConfig() (*Entity, error) {
	for key, value := range defaults {
		viper.SetDefault(key, value)
	}
	viper.AllowEmptyEnv(false)
	viper.AutomaticEnv()

	file := os.Getenv(CONFIG_FILE)
	if file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("NewConfig failed: %w", err)
		}
	}

	config := &Entity{File: file}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("NewConfig failed: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("NewConfig failed: %w", err)
	}

	return config, nil
}

func (e *Entity) validate() error {
	if e.App.UploadMaxMB <= 0 {
		return errors.New("UPLOAD_MAX_MB must be positive")
	}
	if e.Session.LifetimeMinutes <= 0 {
		return errors.New("SESSION_LIFETIME_MINUTES must be positive")
	}
	if e.Session.CookieName == "" {
		return errors.New("SESSION_COOKIE_NAME must not be empty")
	}
	return nil
}

type Application struct {
	Port        string `mapstructure:"APP_PORT"`
	Host        string `mapstructure:"APP_HOST"`
	UploadMaxMB int64  `mapstructure:"UPLOAD_MAX_MB"`
}

// UploadLimit is the request body ceiling in bytes.
func (a Application) UploadLimit() int64 {
	return a.UploadMaxMB * 1024 * 1024
}

type Database struct {
	Hostname     string `mapstructure:"DB_HOST"`
	Name         string `mapstructure:"DB_NAME"`
	User         string `mapstructure:"DB_USERNAME"`
	Pass         string `mapstructure:"DB_PASS"`
	Port         uint16 `mapstructure:"DB_PORT"`
	ConnLifeTime int    `mapstructure:"DB_CONN_MAX_LIFE_MINUTES"`
	MaxOpenConns int32  `mapstructure:"DB_MAX_OPEN_CONNS"`
	MinConns     int32  `mapstructure:"DB_MIN_CONNS"`
}

type Redis struct {
	URL string `mapstructure:"REDIS_URL"`
}

type Session struct {
	LifetimeMinutes int    `mapstructure:"SESSION_LIFETIME_MINUTES"`
	CookieName      string `mapstructure:"SESSION_COOKIE_NAME"`
	CookieSecure    bool   `mapstructure:"SESSION_COOKIE_SECURE"`
}

func (s Session) Lifetime() time.Duration {
	return time.Duration(s.LifetimeMinutes) * time.Minute
}

type Log struct {
	Level string `mapstructure:"LOG_LEVEL"`
	File  string `mapstructure:"LOG_FILE"`
}

type Jaeger struct {
	Dsn string `mapstructure:"JAG_DSN"`
}

type Mail struct {
	SmtpHost       string `mapstructure:"MAIL_SMTP_HOST"`
	SmtpPort       int    `mapstructure:"MAIL_SMTP_PORT"`
	ImapHost       string `mapstructure:"MAIL_IMAP_HOST"`
	ImapPort       int    `mapstructure:"MAIL_IMAP_PORT"`
	Username       string `mapstructure:"MAIL_USERNAME"`
	Password       string `mapstructure:"MAIL_PASSWORD"`
	From           string `mapstructure:"MAIL_FROM"`
	ArchiveMailbox string `mapstructure:"MAIL_ARCHIVE_MAILBOX"`
}

// Enabled reports whether confirmation mails can be sent.
func (m Mail) Enabled() bool {
	return m.SmtpHost != "" && m.From != ""
}
