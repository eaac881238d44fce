package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/rs/zerolog"
)

// EnvPrefix is the prefix of environment variables read by Load,
// e.g. FILESERVER_PORT or FILESERVER_MAX_CONNS.
const EnvPrefix = "FILESERVER"

// Environments
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds all application configuration.
type Config struct {
	Host        string `config:"host"`
	Port        int    `config:"port"`
	Root        string `config:"root"`
	Workers     int    `config:"workers"`
	MaxConns    int    `config:"max.conns"`
	MetricsAddr string `config:"metrics.addr"`
	Env         string `config:"env"`
	LogLevel    string `config:"log.level"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Host:     "127.0.0.1",
		Port:     8000,
		Root:     ".",
		Workers:  DefaultWorkers(),
		Env:      EnvDevelopment,
		LogLevel: "info",
	}
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Load builds the configuration from, in increasing precedence: defaults, a
// JSON file named by -config, FILESERVER_* environment variables, flags, and
// the positional arguments [host] [port] [root] [workers].
//
// args must not include the program name. flag.ErrHelp is returned when
// usage was requested.
func Load(args []string, usageOut io.Writer) (*Config, error) {
	var (
		configFile string
		flags      = Default()
	)

	fs := flag.NewFlagSet("fileserver", flag.ContinueOnError)
	fs.SetOutput(usageOut)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "A simple HTTP server")
		fmt.Fprintln(fs.Output(), "Usage: fileserver [flags] [host] [port] [root] [workers]")
		fs.PrintDefaults()
	}

	fs.StringVar(&configFile, "config", "", "JSON configuration file")
	fs.StringVar(&flags.Host, "host", flags.Host, "Host to bind")
	fs.IntVar(&flags.Port, "port", flags.Port, "Port to bind")
	fs.StringVar(&flags.Root, "root", flags.Root, "Document root")
	fs.IntVar(&flags.Workers, "workers", flags.Workers, "Number of worker goroutines")
	fs.IntVar(&flags.MaxConns, "max-conns", flags.MaxConns, "Maximum open connections (0 = unlimited)")
	fs.StringVar(&flags.MetricsAddr, "metrics-addr", flags.MetricsAddr, "Address for the Prometheus /metrics endpoint (empty = disabled)")
	fs.StringVar(&flags.Env, "env", flags.Env, "Environment (development/production)")
	fs.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "Log level (debug/info/warn/error)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()

	m := NewManager()
	if configFile != "" {
		if err := m.LoadFromJSON(configFile); err != nil {
			return nil, err
		}
	}
	m.LoadFromEnv(EnvPrefix)
	if err := m.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	// Only flags given on the command line override the layers above
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = flags.Host
		case "port":
			cfg.Port = flags.Port
		case "root":
			cfg.Root = flags.Root
		case "workers":
			cfg.Workers = flags.Workers
		case "max-conns":
			cfg.MaxConns = flags.MaxConns
		case "metrics-addr":
			cfg.MetricsAddr = flags.MetricsAddr
		case "env":
			cfg.Env = flags.Env
		case "log-level":
			cfg.LogLevel = flags.LogLevel
		}
	})

	if err := cfg.applyPositional(fs.Args()); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyPositional(args []string) error {
	if len(args) > 4 {
		return fmt.Errorf("config: too many arguments: %v", args[4:])
	}

	for i, arg := range args {
		switch i {
		case 0:
			c.Host = arg
		case 1:
			port, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("config: invalid port %q: %w", arg, err)
			}
			c.Port = port
		case 2:
			c.Root = arg
		case 3:
			workers, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("config: invalid worker count %q: %w", arg, err)
			}
			c.Workers = workers
		}
	}
	return nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: port %d out of range", c.Port))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("config: worker count must be positive, got %d", c.Workers))
	}
	if c.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("config: max-conns must not be negative, got %d", c.MaxConns))
	}
	if c.Root == "" {
		errs = append(errs, errors.New("config: root must not be empty"))
	}
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		errs = append(errs, fmt.Errorf("config: unknown env %q", c.Env))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}

	return errors.Join(errs...)
}
