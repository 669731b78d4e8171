package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/pilewatch/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel      = string(LogLevelInfo)
	DefaultConfigPath    = "/etc/pilewatch.toml"
	DefaultEnvPrefix     = "PILEWATCH"
	DefaultDriver        = "sqlite"
	DefaultDSN           = "/var/lib/pilewatch/pilewatch.db"
	DefaultBackupDir     = "/var/lib/pilewatch/backups"
	DefaultHistoryLimit  = 365
	DefaultInterval      = 10 * time.Second
	DefaultMaxPiles      = 3
	DefaultMinVoltage    = -1.5
	DefaultMaxVoltage    = -0.5
	DefaultPrecision     = 3
	DefaultAPIAddr       = ":8080"
	DefaultKafkaTopic    = "pile.readings"
	DefaultKafkaGroupID  = "pilewatch"
	configPathEnvVarName = "_CONFIG"
)

type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	Debug     bool            `mapstructure:"debug"`
	Verbose   bool            `mapstructure:"verbose"`
	Timezone  string          `mapstructure:"timezone"`
	PIDDir    string          `mapstructure:"pid_dir"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Generator GeneratorConfig `mapstructure:"generator"`
	API       APIConfig       `mapstructure:"api"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`

	location *time.Location
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	BackupDir    string `mapstructure:"backup_dir"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

type GeneratorConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxPiles   int           `mapstructure:"max_piles"`
	MinVoltage float64       `mapstructure:"min_voltage"`
	MaxVoltage float64       `mapstructure:"max_voltage"`
	Precision  int           `mapstructure:"precision"`
}

type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
	Publish bool     `mapstructure:"publish"`
	Consume bool     `mapstructure:"consume"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)
	v.SetDefault("timezone", "Local")
	v.SetDefault("pid_dir", os.TempDir())

	v.SetDefault("database.driver", DefaultDriver)
	v.SetDefault("database.dsn", DefaultDSN)
	v.SetDefault("database.backup_dir", DefaultBackupDir)
	v.SetDefault("database.history_limit", DefaultHistoryLimit)

	v.SetDefault("generator.enabled", true)
	v.SetDefault("generator.interval", DefaultInterval)
	v.SetDefault("generator.max_piles", DefaultMaxPiles)
	v.SetDefault("generator.min_voltage", DefaultMinVoltage)
	v.SetDefault("generator.max_voltage", DefaultMaxVoltage)
	v.SetDefault("generator.precision", DefaultPrecision)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.addr", DefaultAPIAddr)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", DefaultKafkaTopic)
	v.SetDefault("kafka.group_id", DefaultKafkaGroupID)
	v.SetDefault("kafka.publish", false)
	v.SetDefault("kafka.consume", false)
}

// RegisterFlags adds the flags Load understands to fs. Flag names use dashes;
// they are bound to the matching dotted configuration keys.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to configuration file")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.Bool("debug", false, "Enable debugging mode")
	fs.Bool("verbose", false, "Enable verbose logging")
	fs.String("timezone", "Local", "Timezone used for reading dates")
	fs.String("db-driver", DefaultDriver, "Database driver (sqlite, postgres)")
	fs.String("db-dsn", DefaultDSN, "Database DSN or sqlite file path")
	fs.Duration("interval", DefaultInterval, "Interval between generated readings")
	fs.String("api-addr", DefaultAPIAddr, "HTTP listen address")
}

var flagKeys = map[string]string{
	"log-level": "log_level",
	"debug":     "debug",
	"verbose":   "verbose",
	"timezone":  "timezone",
	"db-driver": "database.driver",
	"db-dsn":    "database.dsn",
	"interval":  "generator.interval",
	"api-addr":  "api.addr",
}

// Load reads defaults, the TOML config file, PILEWATCH_* environment
// variables and finally any flags explicitly set on fs, in that order of
// precedence. fs may be nil.
func Load(fs *pflag.FlagSet, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errFactory.Wrap(errors.ErrBindFlags, err)
				}
			}
		}
		if o.configPath == "" {
			if f := fs.Lookup("config"); f != nil && f.Changed {
				o.configPath = f.Value.String()
			}
		}
	}

	if err := readConfigFile(v, o); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	// --debug and --verbose are shortcuts that only ever raise verbosity.
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.Debug {
		cfg.LogLevel = string(LogLevelDebug)
	} else if cfg.Verbose && cfg.LogLevel != string(LogLevelDebug) {
		cfg.LogLevel = string(LogLevelInfo)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readConfigFile(v *viper.Viper, o options) error {
	errFactory := errors.New()

	path := o.configPath
	explicit := path != ""
	if !explicit {
		if env, ok := os.LookupEnv(o.envPrefix + configPathEnvVarName); ok {
			if env == "" {
				return nil
			}
			path, explicit = env, true
		} else {
			path = DefaultConfigPath
		}
	}

	v.SetConfigFile(path)
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "" || ext == "conf" {
		v.SetConfigType("toml")
	}

	if err := v.ReadInConfig(); err != nil {
		if !explicit && os.IsNotExist(unwrapPathError(err)) {
			return nil
		}
		return errFactory.Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

// unwrapPathError digs the *os.PathError out of viper's read error so a
// missing default file is not treated as fatal.
func unwrapPathError(err error) error {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return pathErr
	}
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return os.ErrNotExist
	}
	return err
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(strings.ToLower(c.LogLevel)).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "", "sqlite", "sqlite3", "postgres", "postgresql", "pgx":
	default:
		return errFactory.WithData(ErrInvalidConfig, "database.driver="+c.Database.Driver)
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		return errFactory.WithData(errors.ErrMissingConfig, "database.dsn")
	}

	if c.Generator.Enabled && c.Generator.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Generator.Interval.String())
	}

	if c.Generator.MaxPiles <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "generator.max_piles must be > 0")
	}

	if c.Generator.MinVoltage > c.Generator.MaxVoltage {
		return errFactory.WithData(ErrInvalidConfig, "generator.min_voltage exceeds generator.max_voltage")
	}

	if c.Generator.Precision < 0 {
		return errFactory.WithData(ErrInvalidConfig, "generator.precision must be >= 0")
	}

	if c.API.Enabled && c.API.Addr == "" {
		return errFactory.WithData(errors.ErrMissingConfig, "api.addr")
	}

	if (c.Kafka.Publish || c.Kafka.Consume) && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errFactory.WithData(ErrInvalidConfig, "kafka requires brokers and topic")
	}

	if c.Kafka.Consume && c.Kafka.GroupID == "" {
		return errFactory.WithData(ErrInvalidConfig, "kafka.group_id required when consuming")
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return errFactory.Wrap(ErrInvalidConfig, err).WithData("timezone=" + c.Timezone)
	}
	c.location = loc

	return nil
}

// Location returns the configured timezone; readings are dated in it.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}
	return c.location
}

// KafkaEnabled reports whether any Kafka transport is configured.
func (c *Config) KafkaEnabled() bool {
	return c.Kafka.Publish || c.Kafka.Consume
}
