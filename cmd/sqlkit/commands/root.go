// Package commands implements the sqlkit CLI commands.
package commands

import (
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/syssam/sqlkit"
	"github.com/syssam/sqlkit/dialect"
)

// configKeys are the settings that can come from the environment, as
// SQLKIT_<KEY> with dots replaced by underscores.
var configKeys = []string{
	"dialect", "host", "port", "database", "username", "password",
	"time_zone", "slow_threshold", "debug", "bind_params",
	"pool.max_open", "pool.max_idle", "pool.max_lifetime", "pool.max_idle_time",
}

type options struct {
	fs      afero.Fs
	v       *viper.Viper
	cfgFile string
	verbose bool
	events  bool
}

// NewRootCommand returns the sqlkit command. Configuration files and
// templates are read from fs.
func NewRootCommand(fs afero.Fs) *cobra.Command {
	o := &options{fs: fs, v: viper.New()}
	cmd := &cobra.Command{
		Use:           "sqlkit",
		Short:         "Resolve and run SQL templates",
		Long:          "sqlkit resolves SQL templates with ? and :name placeholders and runs them against MySQL, PostgreSQL or SQLite.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&o.cfgFile, "config", "", "config file (default .sqlkit.yaml)")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "log statements to stderr")
	flags.BoolVar(&o.events, "events", false, "write statement events to stderr as JSON lines")
	flags.String("dialect", "", "database dialect: mysql, postgres or sqlite")
	flags.String("host", "", "database host")
	flags.String("database", "", "database name, or file for sqlite")
	flags.Bool("bind", false, "send values as bind parameters")
	for key, flag := range map[string]string{
		"dialect":     "dialect",
		"host":        "host",
		"database":    "database",
		"bind_params": "bind",
	} {
		// Only fails for an unknown flag.
		_ = o.v.BindPFlag(key, flags.Lookup(flag))
	}

	cmd.AddCommand(newRenderCommand(o))
	cmd.AddCommand(newQueryCommand(o))
	cmd.AddCommand(newExecCommand(o))
	cmd.AddCommand(newPingCommand(o))
	return cmd
}

// config merges, from lowest to highest precedence, the config file, the
// .env and .env.local files, the SQLKIT_ environment and the flags.
func (o *options) config() (*sqlkit.Config, error) {
	if err := loadEnv(o.fs, ".env", ".env.local"); err != nil {
		return nil, err
	}
	v := o.v
	v.SetFs(o.fs)
	v.SetEnvPrefix("SQLKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range configKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}
	file := o.cfgFile
	if file == "" {
		for _, name := range []string{".sqlkit.yaml", ".sqlkit.yml"} {
			if ok, _ := afero.Exists(o.fs, name); ok {
				file = name
				break
			}
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	cfg := &sqlkit.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if o.verbose {
		cfg.Debug = true
	}
	return cfg, nil
}

// dialect returns the configured dialect, MySQL when unset.
func (o *options) dialect() (string, error) {
	cfg, err := o.config()
	if err != nil {
		return "", err
	}
	switch cfg.Dialect {
	case "":
		return dialect.MySQL, nil
	case dialect.MySQL, dialect.Postgres, dialect.SQLite:
		return cfg.Dialect, nil
	default:
		return "", &sqlkit.ConfigError{Field: "dialect", Reason: fmt.Sprintf("unsupported dialect %q", cfg.Dialect)}
	}
}

// open connects a client with the merged configuration.
func (o *options) open(stderr io.Writer) (*sqlkit.Client, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	return sqlkit.Open(cfg, sqlkit.WithLogger(logger))
}

// loadEnv sets the variables of the given dotenv files. Later files
// override earlier ones; variables already in the environment override
// every file.
func loadEnv(fs afero.Fs, names ...string) error {
	preset := make(map[string]bool)
	for _, kv := range os.Environ() {
		if k, _, ok := strings.Cut(kv, "="); ok {
			preset[k] = true
		}
	}
	for _, name := range names {
		f, err := fs.Open(name)
		if errors.Is(err, iofs.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}
		env, err := godotenv.Parse(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		for k, val := range env {
			if preset[k] {
				continue
			}
			if err := os.Setenv(k, val); err != nil {
				return err
			}
		}
	}
	return nil
}
