package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("state_storage.type", "sqlite")
	v.SetDefault("state_storage.file_path", "sync_state.db")

	v.SetDefault("sync.lookback_days", 30)
	v.SetDefault("sync.debug_lookback_days", 90)
	v.SetDefault("sync.lookahead_days", 30)
	v.SetDefault("sync.delivery_workers", 2)
	v.SetDefault("sync.delivery_queue_size", 256)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.polling_interval", "@every 5m")
	v.SetDefault("scheduler.backstop_interval", "@every 1h")

	v.SetDefault("provider.request_timeout", "15s")
	v.SetDefault("provider.page_size", 100)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
