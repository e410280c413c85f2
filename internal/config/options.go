package config

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

const (
	DefaultListen         = ":8080"
	DefaultData           = "vault-data"
	DefaultSessionTimeout = 30 * time.Minute
	// events are kept for roughly six months
	DefaultRetention   = 186 * 24 * time.Hour
	DefaultConcurrency = 32
)

type Options struct {
	Listen   string `yaml:"listen"`
	Data     string `yaml:"data"`
	InMemory bool   `yaml:"inMemory"`
	LogLevel string `yaml:"logLevel"`
	// Origin is the origin the vault is served from. Messages claiming another
	// origin are rejected.
	Origin string `yaml:"origin"`
	// AllowedOrigins are the sites allowed to embed the tracking script.
	AllowedOrigins []string      `yaml:"allowedOrigins,omitempty"`
	Retention      time.Duration `yaml:"retention"`
	SessionTimeout time.Duration `yaml:"sessionTimeout"`
	Concurrency    int           `yaml:"concurrency"`
	EnableProfile  bool          `yaml:"enableProfile"`
}

func Defaults() *Options {
	return &Options{
		Listen:         DefaultListen,
		Data:           DefaultData,
		LogLevel:       "info",
		Retention:      DefaultRetention,
		SessionTimeout: DefaultSessionTimeout,
		Concurrency:    DefaultConcurrency,
	}
}

// Test returns options suitable for tests: in memory storage and verbose
// logging.
func Test() *Options {
	o := Defaults()
	o.InMemory = true
	o.Data = ""
	o.LogLevel = "debug"
	o.Origin = "http://localhost:8080"
	return o
}

func Logger(level string) *logrus.Logger {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	return &logrus.Logger{
		Out:       os.Stdout,
		Formatter: &logrus.JSONFormatter{},
		Hooks:     make(logrus.LevelHooks),
		Level:     lvl,
		ExitFunc:  os.Exit,
	}
}

func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "listen",
			Usage:   "HTTP address to listen",
			Value:   DefaultListen,
			Sources: cli.EnvVars("VAULT_LISTEN"),
		},
		&cli.StringFlag{
			Name:    "data",
			Usage:   "Path to store events",
			Value:   DefaultData,
			Sources: cli.EnvVars("VAULT_DATA"),
		},
		&cli.BoolFlag{
			Name:    "inMemory",
			Usage:   "Keep events in memory only",
			Sources: cli.EnvVars("VAULT_IN_MEMORY"),
		},
		&cli.StringFlag{
			Name:    "logLevel",
			Value:   "info",
			Sources: cli.EnvVars("VAULT_LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "origin",
			Usage:   "Origin the vault is served from",
			Sources: cli.EnvVars("VAULT_ORIGIN"),
		},
		&cli.StringSliceFlag{
			Name:    "allowedOrigins",
			Usage:   "Sites allowed to send events",
			Sources: cli.EnvVars("VAULT_ALLOWED_ORIGINS"),
		},
		&cli.DurationFlag{
			Name:    "retention",
			Usage:   "How long events are kept",
			Value:   DefaultRetention,
			Sources: cli.EnvVars("VAULT_RETENTION"),
		},
		&cli.DurationFlag{
			Name:    "sessionTimeout",
			Usage:   "Idle time after which a new session starts",
			Value:   DefaultSessionTimeout,
			Sources: cli.EnvVars("VAULT_SESSION_TIMEOUT"),
		},
		&cli.IntFlag{
			Name:    "concurrency",
			Usage:   "Maximum number of messages handled concurrently",
			Value:   DefaultConcurrency,
			Sources: cli.EnvVars("VAULT_CONCURRENCY"),
		},
		&cli.BoolFlag{
			Name:    "enableProfile",
			Usage:   "Serve pprof endpoints under /debug/pprof/",
			Sources: cli.EnvVars("VAULT_ENABLE_PROFILE"),
		},
		&cli.StringFlag{
			Name:    "config",
			Usage:   "Path to yaml configuration file",
			Sources: cli.EnvVars("VAULT_CONFIG"),
		},
	}
}

// FromCommand reads options from parsed flags.
func FromCommand(c *cli.Command) *Options {
	return &Options{
		Listen:         c.String("listen"),
		Data:           c.String("data"),
		InMemory:       c.Bool("inMemory"),
		LogLevel:       c.String("logLevel"),
		Origin:         c.String("origin"),
		AllowedOrigins: c.StringSlice("allowedOrigins"),
		Retention:      c.Duration("retention"),
		SessionTimeout: c.Duration("sessionTimeout"),
		Concurrency:    int(c.Int("concurrency")),
		EnableProfile:  c.Bool("enableProfile"),
	}
}
