package sqlkit

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"

	"github.com/syssam/sqlkit/dialect"
)

// Config describes a connection pool and the client built on it.
type Config struct {
	// Dialect is one of dialect.MySQL, dialect.Postgres or dialect.SQLite.
	Dialect  string            `json:"dialect" yaml:"dialect" mapstructure:"dialect"`
	Host     string            `json:"host" yaml:"host" mapstructure:"host"`
	Port     int               `json:"port" yaml:"port" mapstructure:"port"`
	Database string            `json:"database" yaml:"database" mapstructure:"database"`
	Username string            `json:"username" yaml:"username" mapstructure:"username"`
	Password string            `json:"password" yaml:"password" mapstructure:"password"`
	Params   map[string]string `json:"params" yaml:"params" mapstructure:"params"`
	Pool     PoolConfig        `json:"pool" yaml:"pool" mapstructure:"pool"`
	// TimeZone is the zone times are written and read in. Defaults to UTC.
	TimeZone string `json:"time_zone" yaml:"time_zone" mapstructure:"time_zone"`
	// SlowThreshold logs statements slower than the threshold at warn
	// level and counts them in Client.Stats.
	SlowThreshold time.Duration `json:"slow_threshold" yaml:"slow_threshold" mapstructure:"slow_threshold"`
	// Debug logs every completed statement at info level.
	Debug bool `json:"debug" yaml:"debug" mapstructure:"debug"`
	// BindParams sends values as bind parameters instead of interpolating
	// them.
	BindParams bool `json:"bind_params" yaml:"bind_params" mapstructure:"bind_params"`
}

// PoolConfig defines connection pool settings. Zero values keep the
// database/sql defaults.
type PoolConfig struct {
	MaxOpen     int           `json:"max_open" yaml:"max_open" mapstructure:"max_open"`
	MaxIdle     int           `json:"max_idle" yaml:"max_idle" mapstructure:"max_idle"`
	MaxLifetime time.Duration `json:"max_lifetime" yaml:"max_lifetime" mapstructure:"max_lifetime"`
	MaxIdleTime time.Duration `json:"max_idle_time" yaml:"max_idle_time" mapstructure:"max_idle_time"`
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sqlkit: read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("sqlkit: parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration can produce a DSN.
func (c *Config) Validate() error {
	switch c.Dialect {
	case dialect.MySQL, dialect.Postgres:
		if c.Host == "" {
			return &ConfigError{Field: "host", Reason: "required"}
		}
		if c.Port < 0 || c.Port > 65535 {
			return &ConfigError{Field: "port", Reason: fmt.Sprintf("invalid port %d", c.Port)}
		}
	case dialect.SQLite:
		if c.Database == "" {
			return &ConfigError{Field: "database", Reason: "required"}
		}
	case "":
		return &ConfigError{Field: "dialect", Reason: "required"}
	default:
		return &ConfigError{Field: "dialect", Reason: fmt.Sprintf("unsupported dialect %q", c.Dialect)}
	}
	if _, err := c.Location(); err != nil {
		return &ConfigError{Field: "time_zone", Reason: err.Error()}
	}
	return nil
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.TimeZone)
}

// DSN returns the data source name for the dialect's database/sql driver.
func (c *Config) DSN() (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	switch c.Dialect {
	case dialect.MySQL:
		return c.mysqlDSN()
	case dialect.Postgres:
		return c.postgresDSN(), nil
	default:
		return c.sqliteDSN(), nil
	}
}

func (c *Config) mysqlDSN() (string, error) {
	loc, err := c.Location()
	if err != nil {
		return "", err
	}
	m := mysql.NewConfig()
	m.User = c.Username
	m.Passwd = c.Password
	m.Net = "tcp"
	m.Addr = c.hostPort(3306)
	m.DBName = c.Database
	m.ParseTime = true
	m.Loc = loc
	if len(c.Params) > 0 {
		m.Params = make(map[string]string, len(c.Params))
		for k, v := range c.Params {
			m.Params[k] = v
		}
	}
	return m.FormatDSN(), nil
}

func (c *Config) postgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   c.hostPort(5432),
		Path:   "/" + c.Database,
	}
	if c.Username != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		} else {
			u.User = url.User(c.Username)
		}
	}
	u.RawQuery = c.query().Encode()
	return u.String()
}

func (c *Config) sqliteDSN() string {
	q := c.query()
	if len(q) == 0 {
		return c.Database
	}
	return c.Database + "?" + q.Encode()
}

func (c *Config) query() url.Values {
	q := make(url.Values, len(c.Params))
	for k, v := range c.Params {
		q.Set(k, v)
	}
	return q
}

func (c *Config) hostPort(def int) string {
	port := c.Port
	if port == 0 {
		port = def
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}
