package config

import (
	"time"
)

type Config struct {
	Provider     ProviderConfig  `mapstructure:"provider"`
	StateStorage StateStorage    `mapstructure:"state_storage"`
	Sync         SyncConfig      `mapstructure:"sync"`
	Scheduler    SchedulerConfig `mapstructure:"scheduler"`
	Server       ServerConfig    `mapstructure:"server"`
	Logging      LoggingConfig   `mapstructure:"logging"`
}

type ProviderConfig struct {
	BaseURL            string `mapstructure:"base_url"`
	AuthorizeURL       string `mapstructure:"authorize_url"`
	TokenURL           string `mapstructure:"token_url"`
	RevokeURL          string `mapstructure:"revoke_url"`
	ClientID           string `mapstructure:"client_id"`
	ClientSecret       string `mapstructure:"client_secret"`
	OAuthCallbackURL   string `mapstructure:"oauth_callback_url"`
	WebhookCallbackURL string `mapstructure:"webhook_callback_url"`
	WebhookSigningKey  string `mapstructure:"webhook_signing_key"`
	StateSecret        string `mapstructure:"state_secret"`
	RequestTimeout     string `mapstructure:"request_timeout"`
	PageSize           int    `mapstructure:"page_size"`
}

func (p ProviderConfig) GetRequestTimeout() time.Duration {
	d, err := time.ParseDuration(p.RequestTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

type StateStorage struct {
	Type     string `mapstructure:"type"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	FilePath string `mapstructure:"file_path"` // For SQLite
}

type SyncConfig struct {
	LookbackDays      int `mapstructure:"lookback_days"`
	DebugLookbackDays int `mapstructure:"debug_lookback_days"`
	LookaheadDays     int `mapstructure:"lookahead_days"`
	DeliveryWorkers   int `mapstructure:"delivery_workers"`
	DeliveryQueueSize int `mapstructure:"delivery_queue_size"`
}

// Lookback returns how far back reconciliation reaches. Debug mode
// widens the window but changes nothing else.
func (s SyncConfig) Lookback(debug bool) time.Duration {
	days := s.LookbackDays
	if days <= 0 {
		days = 30
	}
	if debug {
		days = s.DebugLookbackDays
		if days <= 0 {
			days = 90
		}
	}
	return time.Duration(days) * 24 * time.Hour
}

// Lookahead returns how far forward reconciliation reaches. Without it
// polling would never see future slots: a booking made today for next
// week, or a cancellation of one, only becomes visible once its slot
// has already passed.
func (s SyncConfig) Lookahead() time.Duration {
	days := s.LookaheadDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

type SchedulerConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	PollingInterval  string `mapstructure:"polling_interval"`
	BackstopInterval string `mapstructure:"backstop_interval"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	AuthToken    string   `mapstructure:"auth_token"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
