// Package config loads statecascade settings from defaults, an optional
// config file and STATECASCADE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/rendis/statecascade/internal/identity"
	"github.com/rendis/statecascade/pkg/schema"
)

// Config aggregates configuration for the application.
type Config struct {
	DBPath           string            `mapstructure:"db_path" validate:"required"`
	LogLevel         string            `mapstructure:"log_level" validate:"oneof=debug info warn warning error"`
	LogFormat        string            `mapstructure:"log_format" validate:"oneof=text json"`
	LogFile          string            `mapstructure:"log_file"`
	SourceStore      string            `mapstructure:"source_store" validate:"required"`
	TargetStore      string            `mapstructure:"target_store" validate:"required,nefield=SourceStore"`
	Stores           map[string]string `mapstructure:"stores" validate:"dive,keys,required,endkeys,required"`
	MaxDepth         int               `mapstructure:"max_depth" validate:"min=1"`
	Actor            string            `mapstructure:"actor" validate:"required"`
	WorkflowCacheTTL time.Duration     `mapstructure:"workflow_cache_ttl"`
	Publish          PublishConfig     `mapstructure:"publish"`
	Scheduler        SchedulerConfig   `mapstructure:"scheduler"`
}

// PublishConfig tunes the republish queue and worker.
type PublishConfig struct {
	PoolSize         int           `mapstructure:"pool_size" validate:"min=1"`
	Buffer           int64         `mapstructure:"buffer" validate:"min=0"`
	BreakerThreshold int           `mapstructure:"breaker_threshold" validate:"min=1"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

// SchedulerConfig tunes the schedule poller.
type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DBPath:           "statecascade.db",
		LogLevel:         "info",
		LogFormat:        "text",
		SourceStore:      "master",
		TargetStore:      "web",
		MaxDepth:         3,
		Actor:            "system",
		WorkflowCacheTTL: time.Minute,
		Publish: PublishConfig{
			PoolSize:         4,
			Buffer:           64,
			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Interval: time.Minute,
		},
	}
}

// Load reads configuration from defaults, then the config file, then the
// environment. Environment variables use the prefix "STATECASCADE" and the
// dot character in keys is replaced by an underscore, so "publish.pool_size"
// becomes "STATECASCADE_PUBLISH_POOL_SIZE". An empty file searches
// statecascade.{yaml,toml,json} in . and $HOME/.statecascade.
func Load(file string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	setDefaults(v, cfg)
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("statecascade")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.statecascade")
	}
	v.SetEnvPrefix("STATECASCADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags plus rules that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return schema.NewError(schema.ErrCodeValidation, "invalid config: "+strings.Join(msgs, "; ")).
				WithDetails(map[string]any{"violations": msgs})
		}
		return schema.NewError(schema.ErrCodeValidation, "invalid config").WithCause(err)
	}

	if err := identity.ValidateActor(c.Actor); err != nil {
		return err
	}
	if len(c.Stores) > 0 {
		for _, name := range []string{c.SourceStore, c.TargetStore} {
			if _, ok := c.Stores[name]; !ok {
				return schema.NewErrorf(schema.ErrCodeValidation, "store %q is not configured", name)
			}
		}
	}
	if c.WorkflowCacheTTL < 0 || c.Publish.BreakerCooldown < 0 || c.Scheduler.Interval < 0 {
		return schema.NewError(schema.ErrCodeValidation, "durations must not be negative")
	}
	return nil
}

// StoreDSNs returns the libSQL DSN of every named store. Without an explicit
// stores map the source store lives at db_path and the target store next to
// it.
func (c *Config) StoreDSNs() map[string]string {
	if len(c.Stores) > 0 {
		out := make(map[string]string, len(c.Stores))
		for k, v := range c.Stores {
			out[k] = v
		}
		return out
	}
	base := strings.TrimSuffix(c.DBPath, ".db")
	return map[string]string{
		c.SourceStore: "file:" + c.DBPath,
		c.TargetStore: "file:" + base + "-" + c.TargetStore + ".db",
	}
}

// LockPath is the serve lock file next to the database.
func (c *Config) LockPath() string {
	return c.DBPath + ".lock"
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("db_path", cfg.DBPath)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("source_store", cfg.SourceStore)
	v.SetDefault("target_store", cfg.TargetStore)
	v.SetDefault("max_depth", cfg.MaxDepth)
	v.SetDefault("actor", cfg.Actor)
	v.SetDefault("workflow_cache_ttl", cfg.WorkflowCacheTTL)
	v.SetDefault("publish.pool_size", cfg.Publish.PoolSize)
	v.SetDefault("publish.buffer", cfg.Publish.Buffer)
	v.SetDefault("publish.breaker_threshold", cfg.Publish.BreakerThreshold)
	v.SetDefault("publish.breaker_cooldown", cfg.Publish.BreakerCooldown)
	v.SetDefault("scheduler.enabled", cfg.Scheduler.Enabled)
	v.SetDefault("scheduler.interval", cfg.Scheduler.Interval)
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string(nil), parts...), tag)
		if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Duration(0)) {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
