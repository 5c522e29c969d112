// Package config loads scitrack configuration via Viper and validates it.
package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/YuminosukeSato/scitrack/pkg/errors"
)

// Backend names accepted in tracking.backends.
const (
	BackendMemory     = "memory"
	BackendOffline    = "offline"
	BackendSQL        = "sql"
	BackendMLflow     = "mlflow"
	BackendPrometheus = "prometheus"
)

// EnvPrefix prefixes environment overrides, e.g. SCITRACK_MLFLOW_TRACKING_URI.
const EnvPrefix = "SCITRACK"

// Config captures every knob loaded via Viper.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Tracking   TrackingConfig   `mapstructure:"tracking"`
	MLflow     MLflowConfig     `mapstructure:"mlflow"`
	SQL        SQLConfig        `mapstructure:"sql"`
	Offline    OfflineConfig    `mapstructure:"offline"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// LogConfig selects level and output format.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=json console slog"`
}

// TrackingConfig controls the adapter and which sinks are opened.
type TrackingConfig struct {
	Backends  []string          `mapstructure:"backends" validate:"min=1,dive,oneof=memory offline sql mlflow prometheus"`
	RunName   string            `mapstructure:"run_name"`
	Tags      map[string]string `mapstructure:"tags"`
	NonFinite string            `mapstructure:"non_finite" validate:"oneof=reject pass"`
}

// MLflowConfig points at a tracking server.
type MLflowConfig struct {
	TrackingURI    string        `mapstructure:"tracking_uri" validate:"omitempty,url"`
	Token          string        `mapstructure:"token"`
	ExperimentName string        `mapstructure:"experiment_name"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout" validate:"gte=0"`
}

// SQLConfig selects the database/sql driver and DSN.
type SQLConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite pgx"`
	URL    string `mapstructure:"url"`
}

// OfflineConfig configures the local run file sink.
type OfflineConfig struct {
	// Dir receives one file per run.
	Dir string `mapstructure:"dir"`
}

// PrometheusConfig configures the gauge sink.
type PrometheusConfig struct {
	Namespace string `mapstructure:"namespace"`
	PushURL   string `mapstructure:"push_url" validate:"omitempty,url"`
	Job       string `mapstructure:"job"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("tracking.backends", []string{BackendOffline})
	v.SetDefault("tracking.non_finite", "reject")
	v.SetDefault("mlflow.experiment_name", "Default")
	v.SetDefault("mlflow.http_timeout", 30*time.Second)
	v.SetDefault("sql.driver", "sqlite")
	v.SetDefault("sql.url", "scitrack.db")
	v.SetDefault("offline.dir", "scitrack-runs")
	v.SetDefault("prometheus.namespace", "scitrack")
	v.SetDefault("prometheus.job", "training")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate enforces field rules and cross-field requirements of the
// selected backends.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return errors.NewValidationError(fe.Namespace(), "failed '"+fe.Tag()+"' rule", fe.Value())
		}
		return errors.Wrap(err, "validate config")
	}
	for _, b := range c.Tracking.Backends {
		switch b {
		case BackendMLflow:
			if c.MLflow.TrackingURI == "" {
				return errors.NewValidationError("mlflow.tracking_uri", "required when the mlflow backend is enabled", "")
			}
			if c.MLflow.ExperimentName == "" {
				return errors.NewValidationError("mlflow.experiment_name", "required when the mlflow backend is enabled", "")
			}
		case BackendSQL:
			if c.SQL.URL == "" {
				return errors.NewValidationError("sql.url", "required when the sql backend is enabled", "")
			}
		case BackendOffline:
			if c.Offline.Dir == "" {
				return errors.NewValidationError("offline.dir", "required when the offline backend is enabled", "")
			}
		}
	}
	return nil
}

// HasBackend reports whether name is among the enabled backends.
func (c Config) HasBackend(name string) bool {
	for _, b := range c.Tracking.Backends {
		if b == name {
			return true
		}
	}
	return false
}
