package config

import (
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type UpstreamConfig struct {
	URL string `mapstructure:"url"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int    `mapstructure:"failure_threshold"`
	SuccessThreshold int    `mapstructure:"success_threshold"`
	RecoveryTimeout  string `mapstructure:"recovery_timeout"`
	RequestTimeout   string `mapstructure:"request_timeout"`
	MonitoringWindow string `mapstructure:"monitoring_window"`
	ReportInterval   string `mapstructure:"report_interval"`
}

type AdmissionConfig struct {
	MaxConcurrentPerOrigin int    `mapstructure:"max_concurrent_per_origin"`
	MaxConnections         int    `mapstructure:"max_connections"`
	KeepAliveTimeout       string `mapstructure:"keep_alive_timeout"`
	ConnectTimeout         string `mapstructure:"connect_timeout"`
	StatsInterval          string `mapstructure:"stats_interval"`
	WarmupConnections      bool   `mapstructure:"warmup_connections"`
}

type ValidatorConfig struct {
	MaxChunkSize   int    `mapstructure:"max_chunk_size"`
	MaxTotalSize   int    `mapstructure:"max_total_size"`
	MaxJSONDepth   int    `mapstructure:"max_json_depth"`
	MaxArrayLength int    `mapstructure:"max_array_length"`
	ChunkTimeout   string `mapstructure:"chunk_timeout"`
}

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Upstreams      []UpstreamConfig     `mapstructure:"upstreams"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Admission      AdmissionConfig      `mapstructure:"admission"`
	Validator      ValidatorConfig      `mapstructure:"validator"`
}

func Load() (*Config, error) {
	viper.SetDefault("server.environment", EnvDev)
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("logging.level", LogLevelInfo)

	viper.SetDefault("circuit_breaker.failure_threshold", 5)
	viper.SetDefault("circuit_breaker.success_threshold", 2)
	viper.SetDefault("circuit_breaker.recovery_timeout", "30s")
	viper.SetDefault("circuit_breaker.request_timeout", "10s")
	viper.SetDefault("circuit_breaker.monitoring_window", "60s")
	viper.SetDefault("circuit_breaker.report_interval", "30s")

	viper.SetDefault("admission.max_concurrent_per_origin", 10)
	viper.SetDefault("admission.max_connections", 50)
	viper.SetDefault("admission.keep_alive_timeout", "60s")
	viper.SetDefault("admission.connect_timeout", "10s")
	viper.SetDefault("admission.stats_interval", "5s")
	viper.SetDefault("admission.warmup_connections", false)

	viper.SetDefault("validator.max_chunk_size", 64*1024)
	viper.SetDefault("validator.max_total_size", 10*1024*1024)
	viper.SetDefault("validator.max_json_depth", 64)
	viper.SetDefault("validator.max_array_length", 10000)
	viper.SetDefault("validator.chunk_timeout", "30s")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Error("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", viper.ConfigFileUsed()))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Upstreams,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateUpstreamConfig)),
		),
		validation.Field(&c.CircuitBreaker,
			validation.Required,
			validation.By(func(value interface{}) error {
				cb, ok := value.(CircuitBreakerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CircuitBreakerConfig")
				}
				return validation.ValidateStruct(&cb,
					validation.Field(&cb.FailureThreshold, validation.Required, validation.Min(1)),
					validation.Field(&cb.SuccessThreshold, validation.Required, validation.Min(1)),
					validation.Field(&cb.RecoveryTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&cb.RequestTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&cb.MonitoringWindow, validation.Required, validation.By(validateDuration)),
					validation.Field(&cb.ReportInterval, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.Admission,
			validation.Required,
			validation.By(func(value interface{}) error {
				ac, ok := value.(AdmissionConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be an AdmissionConfig")
				}
				return validation.ValidateStruct(&ac,
					validation.Field(&ac.MaxConcurrentPerOrigin, validation.Required, validation.Min(1)),
					validation.Field(&ac.MaxConnections, validation.Required, validation.Min(1)),
					validation.Field(&ac.KeepAliveTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&ac.ConnectTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&ac.StatsInterval, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.Validator,
			validation.Required,
			validation.By(func(value interface{}) error {
				vc, ok := value.(ValidatorConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ValidatorConfig")
				}
				return validation.ValidateStruct(&vc,
					validation.Field(&vc.MaxChunkSize, validation.Required, validation.Min(1)),
					validation.Field(&vc.MaxTotalSize, validation.Required, validation.Min(1)),
					validation.Field(&vc.MaxJSONDepth, validation.Required, validation.Min(1)),
					validation.Field(&vc.MaxArrayLength, validation.Required, validation.Min(1)),
					validation.Field(&vc.ChunkTimeout, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
	)
}

// Duration parses a duration field that Validate has already checked.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}

func validateUpstreamConfig(value interface{}) error {
	upstream, ok := value.(UpstreamConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be an UpstreamConfig")
	}

	if upstream.URL == "" {
		return validation.NewError("validation_empty_url", "upstream URL cannot be empty")
	}

	parsedURL, err := url.Parse(upstream.URL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}
