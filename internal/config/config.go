// Package config loads pearls settings from flags, environment and an
// optional config file, and builds the loggers the other packages use.
//
// Precedence, highest first: command-line flag, PEARLS_* environment
// variable, config file, default.
package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Keys used in viper, the config file and (upper-cased, prefixed) the
// environment.
const (
	KeyDB            = "db"
	KeyJSON          = "json"
	KeyVerbose       = "verbose"
	KeyLogFile       = "log.file"
	KeyLogMaxSizeMB  = "log.max_size_mb"
	KeyLogMaxBackups = "log.max_backups"
	KeyDashboardPort = "dashboard.port"
)

// EnvPrefix is prepended to every environment variable (PEARLS_DB, ...).
const EnvPrefix = "PEARLS"

// Settings is the resolved configuration.
type Settings struct {
	DBPath        string
	JSON          bool
	Verbose       bool
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	DashboardPort int
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyDB, "./pearls.db")
	v.SetDefault(KeyJSON, false)
	v.SetDefault(KeyVerbose, false)
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyLogMaxSizeMB, 10)
	v.SetDefault(KeyLogMaxBackups, 3)
	v.SetDefault(KeyDashboardPort, 8080)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile loads configFile, or searches for .pearls.{yaml,toml} in the
// working directory and $HOME/.config/pearls when configFile is empty. A
// missing file is not an error unless it was named explicitly.
func ReadFile(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
		return nil
	}

	v.SetConfigName(".pearls")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "pearls"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// FromViper resolves Settings from v.
func FromViper(v *viper.Viper) Settings {
	return Settings{
		DBPath:        v.GetString(KeyDB),
		JSON:          v.GetBool(KeyJSON),
		Verbose:       v.GetBool(KeyVerbose),
		LogFile:       v.GetString(KeyLogFile),
		LogMaxSizeMB:  v.GetInt(KeyLogMaxSizeMB),
		LogMaxBackups: v.GetInt(KeyLogMaxBackups),
		DashboardPort: v.GetInt(KeyDashboardPort),
	}
}

// Logging hands out prefixed loggers that share one destination.
type Logging struct {
	w      io.Writer
	closer io.Closer
}

// NewLogging picks the log destination: a rotating file when LogFile is
// set, stderr when Verbose, otherwise nowhere.
func NewLogging(s Settings) *Logging {
	switch {
	case s.LogFile != "":
		lj := &lumberjack.Logger{
			Filename:   s.LogFile,
			MaxSize:    s.LogMaxSizeMB,
			MaxBackups: s.LogMaxBackups,
		}
		return &Logging{w: lj, closer: lj}
	case s.Verbose:
		return &Logging{w: os.Stderr}
	default:
		return &Logging{w: io.Discard}
	}
}

// Logger returns a logger writing with the given component prefix, e.g.
// "tracker" gives "[tracker] ".
func (l *Logging) Logger(component string) *log.Logger {
	return log.New(l.w, "["+component+"] ", log.LstdFlags)
}

// Writer returns the shared destination.
func (l *Logging) Writer() io.Writer {
	return l.w
}

// Close releases the log file, if any.
func (l *Logging) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
