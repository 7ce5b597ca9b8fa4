package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/joestump/joe-sources/internal/datasource"
)

type Config struct {
	HTTP struct {
		Addr string
	}
	DB struct {
		Driver string
		DSN    string
	}
	Log struct {
		Level  string
		Format string
	}
	Pool       datasource.PoolPolicy
	Federation struct {
		MaxRows int
	}
}

// Load reads config from environment (JOE_ prefix) and optional joe-sources.yaml.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JOE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigName("joe-sources")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional config file

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	def := datasource.DefaultPoolPolicy()
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("pool.max_open", def.MaxOpen)
	v.SetDefault("pool.max_idle", def.MaxIdle)
	v.SetDefault("pool.idle_timeout", def.IdleTimeout.String())
	v.SetDefault("pool.conn_timeout", def.ConnTimeout.String())
	v.SetDefault("pool.max_lifetime", def.MaxLifetime.String())
	v.SetDefault("pool.probe_timeout", def.ProbeTimeout.String())
	v.SetDefault("federation.max_rows", 10000)

	cfg := &Config{}
	cfg.HTTP.Addr = v.GetString("http.addr")
	cfg.DB.Driver = v.GetString("db.driver")
	cfg.DB.DSN = v.GetString("db.dsn")
	cfg.Log.Level = v.GetString("log.level")
	cfg.Log.Format = v.GetString("log.format")
	cfg.Pool.MaxOpen = v.GetInt("pool.max_open")
	cfg.Pool.MaxIdle = v.GetInt("pool.max_idle")
	cfg.Federation.MaxRows = v.GetInt("federation.max_rows")

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"pool.idle_timeout", &cfg.Pool.IdleTimeout},
		{"pool.conn_timeout", &cfg.Pool.ConnTimeout},
		{"pool.max_lifetime", &cfg.Pool.MaxLifetime},
		{"pool.probe_timeout", &cfg.Pool.ProbeTimeout},
	}
	for _, d := range durations {
		val, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", envName(d.key), err)
		}
		*d.dst = val
	}

	if cfg.DB.Driver == "" {
		return nil, fmt.Errorf("JOE_DB_DRIVER is required (sqlite3, mysql, postgres)")
	}
	switch cfg.DB.Driver {
	case "sqlite3", "mysql", "postgres":
	default:
		return nil, fmt.Errorf("JOE_DB_DRIVER %q: must be sqlite3, mysql, or postgres", cfg.DB.Driver)
	}
	if cfg.DB.DSN == "" {
		return nil, fmt.Errorf("JOE_DB_DSN is required")
	}
	if cfg.Pool.MaxOpen < 1 {
		return nil, fmt.Errorf("JOE_POOL_MAX_OPEN must be at least 1")
	}
	if cfg.Pool.MaxIdle < 0 || cfg.Pool.MaxIdle > cfg.Pool.MaxOpen {
		return nil, fmt.Errorf("JOE_POOL_MAX_IDLE must be between 0 and JOE_POOL_MAX_OPEN")
	}
	if cfg.Federation.MaxRows < 1 {
		return nil, fmt.Errorf("JOE_FEDERATION_MAX_ROWS must be at least 1")
	}

	return cfg, nil
}

func envName(key string) string {
	return "JOE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
