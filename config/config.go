package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const DefaultPath = "config_lb.json"

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

const (
	minPort = 1024
	maxPort = 65535
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

type BackendConfig struct {
	ID   int    `mapstructure:"id"`
	IP   string `mapstructure:"ip"`
	Port int    `mapstructure:"port"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type HealthCheckConfig struct {
	Interval string `mapstructure:"interval"`
	Timeout  string `mapstructure:"timeout"`
	Slice    string `mapstructure:"slice"`
}

type RelayConfig struct {
	DialTimeout    string `mapstructure:"dial_timeout"`
	IOTimeout      string `mapstructure:"io_timeout"`
	MaxConnections int64  `mapstructure:"max_connections"`
	MaxFileSize    int64  `mapstructure:"max_file_size"`
}

type LogsConfig struct {
	Health  string `mapstructure:"health"`
	Metrics string `mapstructure:"metrics"`
}

type AdminConfig struct {
	Address string `mapstructure:"address"`
}

type Config struct {
	LBIP        string            `mapstructure:"lb_ip"`
	LBPort      int               `mapstructure:"lb_port"`
	Environment string            `mapstructure:"environment"`
	Backends    []BackendConfig   `mapstructure:"backends"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
	Relay       RelayConfig       `mapstructure:"relay"`
	Logs        LogsConfig        `mapstructure:"logs"`
	Admin       AdminConfig       `mapstructure:"admin"`
}

// Load reads path, applies defaults and LB_ environment overrides and
// validates the result. Validation failures wrap ErrInvalidConfig.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("LB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if len(cfg.Backends) == 0 {
		cfg.Backends = legacyBackends(v)
	}
	for i := range cfg.Backends {
		if cfg.Backends[i].ID == 0 {
			cfg.Backends[i].ID = i + 1
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("lb_ip", "127.0.0.1")
	v.SetDefault("lb_port", 8000)
	v.SetDefault("environment", EnvDev)
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("logging.file", "")
	v.SetDefault("health_check.interval", "1s")
	v.SetDefault("health_check.timeout", "1000ms")
	v.SetDefault("health_check.slice", "100ms")
	v.SetDefault("relay.dial_timeout", "5s")
	v.SetDefault("relay.io_timeout", "0s")
	v.SetDefault("relay.max_connections", 0)
	v.SetDefault("relay.max_file_size", 64<<20)
	v.SetDefault("logs.health", "health_check.log")
	v.SetDefault("logs.metrics", "lb_metrics.log")
	v.SetDefault("admin.address", "")
}

// legacyBackends collects server1_ip/server1_port, server2_ip/... until the
// first missing index.
func legacyBackends(v *viper.Viper) []BackendConfig {
	var backends []BackendConfig
	for n := 1; ; n++ {
		ipKey := fmt.Sprintf("server%d_ip", n)
		if !v.IsSet(ipKey) {
			return backends
		}
		backends = append(backends, BackendConfig{
			ID:   n,
			IP:   v.GetString(ipKey),
			Port: v.GetInt(fmt.Sprintf("server%d_port", n)),
		})
	}
}

// ListenAddress returns the host:port the load balancer binds to.
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.LBIP, strconv.Itoa(c.LBPort))
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.LBIP,
			validation.Required,
			is.Host,
		),
		validation.Field(&c.LBPort,
			validation.Required,
			validation.Min(minPort),
			validation.Max(maxPort),
		),
		validation.Field(&c.Environment,
			validation.Required,
			validation.In(EnvDev, EnvStaging, EnvProd),
		),
		validation.Field(&c.Backends,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateBackendConfig)),
			validation.By(validateUniqueIDs),
		),
		validation.Field(&c.Logging,
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
		validation.Field(&c.HealthCheck,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Interval, validation.Required, validation.By(validatePositiveDuration)),
					validation.Field(&hc.Timeout, validation.Required, validation.By(validatePositiveDuration)),
					validation.Field(&hc.Slice, validation.Required, validation.By(validatePositiveDuration)),
				)
			}),
		),
		validation.Field(&c.Relay,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RelayConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RelayConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.DialTimeout, validation.Required, validation.By(validatePositiveDuration)),
					validation.Field(&rc.IOTimeout, validation.By(validateDuration)),
					validation.Field(&rc.MaxConnections, validation.Min(int64(0))),
					validation.Field(&rc.MaxFileSize, validation.Required, validation.Min(int64(1))),
				)
			}),
		),
		validation.Field(&c.Logs,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LogsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LogsConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Health, validation.Required),
					validation.Field(&lc.Metrics, validation.Required),
				)
			}),
		),
		validation.Field(&c.Admin,
			validation.By(func(value interface{}) error {
				ac, ok := value.(AdminConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be an AdminConfig")
				}
				return validation.ValidateStruct(&ac,
					validation.Field(&ac.Address,
						validation.When(ac.Address != "", validation.By(validateHostPort)),
					),
				)
			}),
		),
	)
}

func validateBackendConfig(value interface{}) error {
	backend, ok := value.(BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a BackendConfig")
	}

	return validation.ValidateStruct(&backend,
		validation.Field(&backend.ID, validation.Min(1)),
		validation.Field(&backend.IP, validation.Required, is.Host),
		validation.Field(&backend.Port,
			validation.Required,
			validation.Min(minPort),
			validation.Max(maxPort),
		),
	)
}

func validateUniqueIDs(value interface{}) error {
	backends, ok := value.([]BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a list of backends")
	}

	seen := make(map[int]struct{}, len(backends))
	for _, b := range backends {
		if _, dup := seen[b.ID]; dup {
			return validation.NewError("validation_duplicate_id", fmt.Sprintf("backend id %d is used more than once", b.ID))
		}
		seen[b.ID] = struct{}{}
	}

	return nil
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
	if durationStr == "" {
		return nil
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 100ms, 2s, 5m)")
	}
	if d < 0 {
		return validation.NewError("validation_negative_duration", "must not be negative")
	}

	return nil
}

func validatePositiveDuration(value interface{}) error {
	if err := validateDuration(value); err != nil {
		return err
	}

	if d, _ := time.ParseDuration(value.(string)); d <= 0 {
		return validation.NewError("validation_nonpositive_duration", "must be greater than zero")
	}

	return nil
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func (h HealthCheckConfig) IntervalDuration() time.Duration { return parseDuration(h.Interval) }
func (h HealthCheckConfig) TimeoutDuration() time.Duration  { return parseDuration(h.Timeout) }
func (h HealthCheckConfig) SliceDuration() time.Duration    { return parseDuration(h.Slice) }

func (r RelayConfig) DialTimeoutDuration() time.Duration { return parseDuration(r.DialTimeout) }
func (r RelayConfig) IOTimeoutDuration() time.Duration   { return parseDuration(r.IOTimeout) }
