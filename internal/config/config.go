package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/alumnihub/alumnihub/internal/push"
	"github.com/alumnihub/alumnihub/internal/vault"
)

type Config struct {
	Port      string
	DBPath    string
	LogLevel  string
	LogFormat string

	// Location is the zone reminder windows and the daily job are computed in.
	Location   *time.Location
	ReminderAt string

	Dispatch         push.DispatcherConfig
	SendLogRetention time.Duration

	Push push.Config

	KEK        map[string][]byte
	KEKCurrent string

	AdminToken string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// MetricsAddr serves /metrics on a separate listener when set;
	// otherwise /metrics is on the main router.
	MetricsAddr string
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()
	return parse(os.Getenv)
}

func parse(getenv func(string) string) (*Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Port:          env("ALUMNIHUB_PORT", "8080"),
		DBPath:        env("ALUMNIHUB_DB_PATH", "alumnihub.db"),
		LogLevel:      env("ALUMNIHUB_LOG_LEVEL", "info"),
		LogFormat:     env("ALUMNIHUB_LOG_FORMAT", "text"),
		ReminderAt:    env("ALUMNIHUB_REMINDER_AT", "09:00"),
		AdminToken:    env("ALUMNIHUB_ADMIN_TOKEN", ""),
		RedisAddr:     env("REDIS_ADDR", ""),
		RedisPassword: env("REDIS_PASSWORD", ""),
		MetricsAddr:   env("ALUMNIHUB_METRICS_ADDR", ""),
		KEKCurrent:    env("ALUMNIHUB_KEK_CURRENT", ""),
		Push: push.Config{
			VAPIDPublicKey:  env("VAPID_PUBLIC_KEY", ""),
			VAPIDPrivateKey: env("VAPID_PRIVATE_KEY", ""),
			Subject:         env("VAPID_SUBJECT", "mailto:admin@alumnihub.local"),
		},
	}

	var errs []error

	loc, err := ParseOffset(env("ALUMNIHUB_TZ_OFFSET", "+09:00"))
	if err != nil {
		errs = append(errs, fmt.Errorf("ALUMNIHUB_TZ_OFFSET: %w", err))
	}
	cfg.Location = loc

	def := push.DefaultDispatcherConfig()
	cfg.Dispatch = push.DispatcherConfig{
		BatchSize:  intVar(env, "ALUMNIHUB_PUSH_BATCH_SIZE", def.BatchSize, &errs),
		BatchDelay: durationVar(env, "ALUMNIHUB_PUSH_BATCH_DELAY", def.BatchDelay, &errs),
		RetryBase:  durationVar(env, "ALUMNIHUB_PUSH_RETRY_BASE", def.RetryBase, &errs),
		MaxRetries: intVar(env, "ALUMNIHUB_PUSH_MAX_RETRIES", def.MaxRetries, &errs),
	}
	cfg.SendLogRetention = durationVar(env, "ALUMNIHUB_SEND_LOG_RETENTION", 90*24*time.Hour, &errs)
	cfg.RedisDB = intVar(env, "REDIS_DB", 0, &errs)

	if cfg.Dispatch.BatchSize <= 0 {
		errs = append(errs, errors.New("ALUMNIHUB_PUSH_BATCH_SIZE must be positive"))
	}
	if cfg.Dispatch.MaxRetries < 0 {
		errs = append(errs, errors.New("ALUMNIHUB_PUSH_MAX_RETRIES must not be negative"))
	}

	if raw := env("ALUMNIHUB_KEK", ""); raw != "" {
		secrets, err := vault.ParseSecrets(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("ALUMNIHUB_KEK: %w", err))
		}
		cfg.KEK = secrets
		if cfg.KEKCurrent == "" && len(secrets) == 1 {
			for v := range secrets {
				cfg.KEKCurrent = v
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Keyring builds the subscription keyring from ALUMNIHUB_KEK.
func (c *Config) Keyring() (*vault.Keyring, error) {
	if len(c.KEK) == 0 {
		return nil, errors.New("ALUMNIHUB_KEK is required")
	}
	if c.KEKCurrent == "" {
		return nil, errors.New("ALUMNIHUB_KEK_CURRENT is required when several key versions are configured")
	}
	return vault.NewKeyring(c.KEK, c.KEKCurrent)
}

// PushEnabled reports whether VAPID keys are configured.
func (c *Config) PushEnabled() bool {
	return c.Push.VAPIDPublicKey != "" && c.Push.VAPIDPrivateKey != ""
}

// ParseOffset accepts a UTC offset such as "+09:00" or "-05:30", "Z", or an
// IANA zone name.
func ParseOffset(s string) (*time.Location, error) {
	switch strings.ToUpper(s) {
	case "Z", "UTC":
		return time.UTC, nil
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		t, err := time.Parse("-07:00", s)
		if err != nil {
			return nil, fmt.Errorf("invalid offset %q", s)
		}
		_, offset := t.Zone()
		return time.FixedZone("UTC"+s, offset), nil
	}
	loc, err := time.LoadLocation(s)
	if err != nil {
		return nil, fmt.Errorf("invalid zone %q: %w", s, err)
	}
	return loc, nil
}

func intVar(env func(string, string) string, key string, def int, errs *[]error) int {
	v := env(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func durationVar(env func(string, string) string, key string, def time.Duration, errs *[]error) time.Duration {
	v := env(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}
