package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Cron   CronConfig   `mapstructure:"cron"`

	Microsoft MicrosoftConfig `mapstructure:"microsoft"`
	Meta      MetaConfig      `mapstructure:"meta"`
	Sync      SyncConfig      `mapstructure:"sync"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Sync        string `mapstructure:"sync"`
	TokenHealth string `mapstructure:"token_health"`
	Janitor     string `mapstructure:"janitor"`
}

// MicrosoftConfig is the Azure AD application registration plus the
// advertising account coordinates. The certificate fields are optional and
// enable the client-assertion grant.
type MicrosoftConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	TenantID       string        `mapstructure:"tenant_id"`
	ClientID       string        `mapstructure:"client_id"`
	ClientSecret   string        `mapstructure:"client_secret"`
	Scopes         []string      `mapstructure:"scopes"`
	CertificatePEM string        `mapstructure:"certificate_pem"`
	PrivateKeyPEM  string        `mapstructure:"private_key_pem"`
	BaseURL        string        `mapstructure:"base_url"`
	DeveloperToken string        `mapstructure:"developer_token"`
	CustomerID     string        `mapstructure:"customer_id"`
	AccountID      string        `mapstructure:"account_id"`
	PageSize       int           `mapstructure:"page_size"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type MetaConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	AppID     string        `mapstructure:"app_id"`
	AppSecret string        `mapstructure:"app_secret"`
	BaseURL   string        `mapstructure:"base_url"`
	Version   string        `mapstructure:"version"`
	AccountID string        `mapstructure:"account_id"`
	PageSize  int           `mapstructure:"page_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// SyncConfig tunes the orchestrator, watermark and batching behavior.
type SyncConfig struct {
	ChunkSize         int           `mapstructure:"chunk_size"`
	LookbackHours     int           `mapstructure:"lookback_hours"`
	LookbackDays      int           `mapstructure:"lookback_days"`
	DefaultWindowDays int           `mapstructure:"default_window_days"`
	FullWindowDays    int           `mapstructure:"full_window_days"`
	RefreshMargin     time.Duration `mapstructure:"refresh_margin"`
	MetaRefreshWindow time.Duration `mapstructure:"meta_refresh_window"`
	StaleRunAfter     time.Duration `mapstructure:"stale_run_after"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ADS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.sync", "@every 1h")
	v.SetDefault("cron.token_health", "@every 30m")
	v.SetDefault("cron.janitor", "@every 15m")

	v.SetDefault("microsoft.enabled", true)
	v.SetDefault("microsoft.base_url", "https://campaign.api.ads.microsoft.com/v13")
	v.SetDefault("microsoft.page_size", 500)
	v.SetDefault("microsoft.timeout", "60s")

	v.SetDefault("meta.enabled", true)
	v.SetDefault("meta.base_url", "https://graph.facebook.com")
	v.SetDefault("meta.version", "v19.0")
	v.SetDefault("meta.page_size", 200)
	v.SetDefault("meta.timeout", "60s")

	v.SetDefault("sync.chunk_size", 1000)
	v.SetDefault("sync.lookback_hours", 2)
	v.SetDefault("sync.lookback_days", 0)
	v.SetDefault("sync.default_window_days", 7)
	v.SetDefault("sync.full_window_days", 30)
	v.SetDefault("sync.refresh_margin", "5m")
	v.SetDefault("sync.meta_refresh_window", "168h")
	v.SetDefault("sync.stale_run_after", "2h")
	v.SetDefault("sync.retry_attempts", 3)
	v.SetDefault("sync.retry_backoff", "2s")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
