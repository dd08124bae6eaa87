package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Version is set at build time with -ldflags "-X ...config.Version=v1.2.3".
var Version = "dev"

// EnvPrefix prefixes every environment override, e.g. PGCRUD_DATABASE_TYPE.
const EnvPrefix = "PGCRUD"

// Config holds application-wide configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Migrate  MigrateConfig  `mapstructure:"migrate"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	BasePath        string        `mapstructure:"basePath"`
	CORSOrigins     []string      `mapstructure:"corsOrigins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

type DatabaseConfig struct {
	Type           string         `mapstructure:"type"`
	ConnectTimeout time.Duration  `mapstructure:"connectTimeout"`
	Postgres       PostgresConfig `mapstructure:"postgres"`
	Gateway        GatewayConfig  `mapstructure:"gateway"`
}

type PostgresConfig struct {
	ConnString string `mapstructure:"connString"`
	MaxConns   int32  `mapstructure:"maxConns"`
}

type GatewayConfig struct {
	URL                   string        `mapstructure:"url"`
	APIKey                string        `mapstructure:"apiKey"`
	RPCFunction           string        `mapstructure:"rpcFunction"`
	Timeout               time.Duration `mapstructure:"timeout"`
	Retries               int           `mapstructure:"retries"`
	AllowUnfilteredDelete bool          `mapstructure:"allowUnfilteredDelete"`
}

type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwtSecret"`
	AccessTokenTTL  time.Duration `mapstructure:"accessTokenTTL"`
	RefreshTokenTTL time.Duration `mapstructure:"refreshTokenTTL"`
	BcryptCost      int           `mapstructure:"bcryptCost"`
}

type CacheConfig struct {
	Driver string        `mapstructure:"driver"`
	TTL    time.Duration `mapstructure:"ttl"`
	Redis  RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type MigrateConfig struct {
	Auto bool `mapstructure:"auto"`
}

// SetDefaults registers every key, which also makes each one reachable
// through its environment variable.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.basePath", "/api/v1")
	v.SetDefault("server.corsOrigins", []string{"*"})
	v.SetDefault("server.shutdownTimeout", 10*time.Second)

	v.SetDefault("database.type", "postgres")
	v.SetDefault("database.connectTimeout", 30*time.Second)
	v.SetDefault("database.postgres.connString", "")
	v.SetDefault("database.postgres.maxConns", 10)
	v.SetDefault("database.gateway.url", "")
	v.SetDefault("database.gateway.apiKey", "")
	v.SetDefault("database.gateway.rpcFunction", "exec_sql")
	v.SetDefault("database.gateway.timeout", 30*time.Second)
	v.SetDefault("database.gateway.retries", 0)
	v.SetDefault("database.gateway.allowUnfilteredDelete", false)

	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.accessTokenTTL", time.Hour)
	v.SetDefault("auth.refreshTokenTTL", 7*24*time.Hour)
	v.SetDefault("auth.bcryptCost", 12)

	v.SetDefault("cache.driver", "none")
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9100")

	v.SetDefault("migrate.auto", false)
}

// Load reads config from file or environment into the global viper, which
// also carries the flags bound by the commands.
func Load(cfgFile string) (*Config, error) {
	return LoadWith(viper.GetViper(), cfgFile)
}

// LoadWith is Load on a caller-provided viper instance.
func LoadWith(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pgcrud")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}

// FileUsed returns the config file viper read, or "".
func FileUsed() string { return viper.ConfigFileUsed() }

// Validate reports configuration that cannot start the server.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Type {
	case "postgres":
		if c.Database.Postgres.ConnString == "" {
			errs = append(errs, errors.New("database.postgres.connString is required"))
		}
	case "gateway":
		if c.Database.Gateway.URL == "" {
			errs = append(errs, errors.New("database.gateway.url is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.type %q is not one of postgres, gateway", c.Database.Type))
	}

	if len(c.Auth.JWTSecret) < 64 {
		errs = append(errs, errors.New("auth.jwtSecret must be at least 64 bytes"))
	}

	switch c.Cache.Driver {
	case "", "none", "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.driver %q is not one of none, memory, redis", c.Cache.Driver))
	}

	if !strings.HasPrefix(c.Server.BasePath, "/") && c.Server.BasePath != "" {
		errs = append(errs, fmt.Errorf("server.basePath %q must start with /", c.Server.BasePath))
	}
	return errors.Join(errs...)
}
