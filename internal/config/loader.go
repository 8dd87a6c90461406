package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from an optional YAML file plus the SCRAPEHUB_
// environment prefix, seeding every field with DefaultConfig() first, the
// same precedence order the teacher's loader used.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	cfg := DefaultConfig()
	setDefaults(v, cfg)

	v.SetEnvPrefix("SCRAPEHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("scrapehub")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.scrapehub")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, err
		}
	}

	out := DefaultConfig()
	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}
	return out, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("pool", cfg.Pool)
	v.SetDefault("rate_limit", cfg.RateLimit)
	v.SetDefault("cache", cfg.Cache)
	v.SetDefault("throttler", cfg.Throttler)
	v.SetDefault("scaler", cfg.Scaler)
	v.SetDefault("worker", cfg.Worker)
	v.SetDefault("logging", cfg.Logging)
	v.SetDefault("metrics", cfg.Metrics)
	v.SetDefault("api", cfg.API)
}
