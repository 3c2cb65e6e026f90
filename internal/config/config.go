// Package config loads the service configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	StoreMemory   = "memory"
	StoreNATS     = "nats"
	StorePostgres = "postgres"
)

type Config struct {
	Log struct {
		Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info" env-description:"debug, info, warn or error"`
		Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text" env-description:"text or json"`
	} `yaml:"log"`

	HTTP struct {
		Addr            string        `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
	} `yaml:"http"`

	Store struct {
		Type string `yaml:"type" env:"STORE_TYPE" env-default:"memory" env-description:"memory, nats or postgres"`
	} `yaml:"store"`

	NATS struct {
		URL           string `yaml:"url" env:"NATS_URL" env-default:"nats://localhost:4222"`
		SubjectPrefix string `yaml:"subject_prefix" env:"NATS_SUBJECT_PREFIX" env-default:"chargebridge"`
		Stream        string `yaml:"stream" env:"NATS_STREAM" env-default:"CHARGEBRIDGE_ES"`
		PendingBucket string `yaml:"pending_bucket" env:"NATS_PENDING_BUCKET" env-default:"chargebridge-pending"`

		// NoRelay stops forwarding OCPP-J calls to the instance holding the
		// station's websocket.
		NoRelay bool `yaml:"no_relay" env:"NATS_NO_RELAY"`
	} `yaml:"nats"`

	Postgres struct {
		URL      string `yaml:"url" env:"POSTGRES_URL"`
		Table    string `yaml:"table" env:"POSTGRES_TABLE" env-default:"events"`
		MaxConns int32  `yaml:"max_conns" env:"POSTGRES_MAX_CONNS" env-default:"10"`

		// SkipMigrate leaves the events table to the operator.
		SkipMigrate bool `yaml:"skip_migrate" env:"POSTGRES_SKIP_MIGRATE"`
	} `yaml:"postgres"`

	AddOn struct {
		InstanceID string `yaml:"instance_id" env:"ADDON_INSTANCE_ID" env-description:"defaults to a random id"`
	} `yaml:"addon"`

	SOAP struct {
		Disabled bool `yaml:"disabled" env:"SOAP_DISABLED"`

		// Endpoint is a URL template; "{id}" is replaced by the station id.
		Endpoint string        `yaml:"endpoint" env:"SOAP_ENDPOINT"`
		From     string        `yaml:"from" env:"SOAP_FROM"`
		Timeout  time.Duration `yaml:"timeout" env:"SOAP_TIMEOUT" env-default:"30s"`
	} `yaml:"soap"`

	WSJSON struct {
		Disabled          bool          `yaml:"disabled" env:"WSJSON_DISABLED"`
		Timeout           time.Duration `yaml:"timeout" env:"WSJSON_TIMEOUT" env-default:"30s"`
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"WSJSON_HEARTBEAT_INTERVAL" env-default:"5m"`
		WriteTimeout      time.Duration `yaml:"write_timeout" env:"WSJSON_WRITE_TIMEOUT" env-default:"10s"`
	} `yaml:"wsjson"`

	Router struct {
		MaxRetries int `yaml:"max_retries" env:"ROUTER_MAX_RETRIES" env-default:"3"`
	} `yaml:"router"`

	View struct {
		PollInterval time.Duration `yaml:"poll_interval" env:"VIEW_POLL_INTERVAL" env-default:"1s" env-description:"how often the station view reads new events from the store"`
	} `yaml:"view"`
}

// Load reads path when it exists and applies the environment on top. A
// missing file leaves the environment and the defaults. Defaults only fill
// zero values.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	var err error
	if _, statErr := os.Stat(path); path != "" && statErr == nil {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.AddOn.InstanceID == "" {
		cfg.AddOn.InstanceID = gonanoid.Must(10)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Usage describes every environment variable.
func Usage() string {
	desc, _ := cleanenv.GetDescription(&Config{}, nil)
	return desc
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Type {
	case StoreMemory, StoreNATS:
	case StorePostgres:
		if c.Postgres.URL == "" {
			errs = append(errs, errors.New("postgres.url is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.type %q is not one of memory, nats, postgres", c.Store.Type))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}
	if c.Router.MaxRetries < 0 {
		errs = append(errs, errors.New("router.max_retries must not be negative"))
	}
	if c.View.PollInterval <= 0 {
		errs = append(errs, errors.New("view.poll_interval must be positive"))
	}
	if !c.WSJSON.Disabled && c.WSJSON.Timeout <= 0 {
		errs = append(errs, errors.New("wsjson.timeout must be positive"))
	}
	if !c.SOAP.Disabled && c.SOAP.Endpoint != "" && !strings.Contains(c.SOAP.Endpoint, "{id}") {
		errs = append(errs, errors.New(`soap.endpoint must contain "{id}"`))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

// Logger builds the process logger.
func (c *Config) Logger() *slog.Logger {
	level, _ := c.LogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
