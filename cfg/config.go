package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"path"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// DatabaseDriver selects the SQL backend for table packs
type DatabaseDriver string

const (
	DriverSQLite DatabaseDriver = "sqlite3"
	DriverMySQL  DatabaseDriver = "mysql"
)

// SinkType selects where audit events are published
type SinkType string

const (
	SinkNone  SinkType = ""
	SinkNATS  SinkType = "nats"
	SinkKafka SinkType = "kafka"
)

// ServerConfiguration controls the HTTP endpoint serving pack actions
type ServerConfiguration struct {
	BindAddress         string `toml:"bind_address"`
	Port                int    `toml:"port"`
	URLPrefix           string `toml:"url_prefix"`            // Mount point for pack routes
	ReadTimeoutSeconds  int    `toml:"read_timeout_seconds"`  // http.Server ReadTimeout
	WriteTimeoutSeconds int    `toml:"write_timeout_seconds"` // http.Server WriteTimeout
	Compression         bool   `toml:"compression"`           // gzip responses
}

// AuthConfiguration protects pack routes with a shared secret
type AuthConfiguration struct {
	Secret string `toml:"secret"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// ObserverConfiguration controls action instrumentation
type ObserverConfiguration struct {
	Verbosity string `toml:"verbosity"` // none, warnings, calls, more
	Debug     bool   `toml:"debug"`     // missing context params become fatal
}

// PagingConfiguration holds grid paging defaults
type PagingConfiguration struct {
	Start int `toml:"start"`
	Limit int `toml:"limit"`
}

// DatabaseConfiguration describes the SQL store behind table packs
type DatabaseConfiguration struct {
	Driver             DatabaseDriver `toml:"driver"`
	DSN                string         `toml:"dsn"`                   // Defaults to <data_dir>/objectpack.db for sqlite3
	PoolSize           int            `toml:"pool_size"`             // Max open connections
	MaxIdleTimeSeconds int            `toml:"max_idle_time_seconds"` // Max time connection can be idle
	MaxLifetimeSeconds int            `toml:"max_lifetime_seconds"`  // Max lifetime of a connection
	StatementCacheSize int            `toml:"statement_cache_size"`  // Compiled SQL kept per table
}

// NATSConfiguration for the JetStream audit sink
type NATSConfiguration struct {
	URL           string `toml:"url"`
	Stream        string `toml:"stream"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// KafkaConfiguration for the Kafka audit sink
type KafkaConfiguration struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// AuditConfiguration controls publishing of action events
type AuditConfiguration struct {
	Sink    SinkType           `toml:"sink"`
	Actions []string           `toml:"actions"` // Glob patterns over action names, empty = all
	NATS    NATSConfiguration  `toml:"nats"`
	Kafka   KafkaConfiguration `toml:"kafka"`
}

// ColumnConfiguration describes one grid column of a table pack
type ColumnConfiguration struct {
	DataIndex  string `toml:"data_index"`
	Header     string `toml:"header"`
	Type       string `toml:"type"` // text, integer, float, decimal, date, datetime, time, boolean or list
	Sortable   bool   `toml:"sortable"`
	Searchable bool   `toml:"searchable"`
	Filter     bool   `toml:"filter"`
}

// PackConfiguration declares a table-backed object pack
type PackConfiguration struct {
	Name          string                `toml:"name"`
	Table         string                `toml:"table"`
	Title         string                `toml:"title"`
	Columns       []ColumnConfiguration `toml:"columns"`
	ListSortOrder []string              `toml:"list_sort_order"`
	ReadOnly      bool                  `toml:"read_only"`
	CanDelete     bool                  `toml:"can_delete"`
	ParentField   string                `toml:"parent_field"` // Non-empty makes a tree pack
	FilterEngine  string                `toml:"filter_engine"`
	Schema        string                `toml:"schema"` // DDL run at startup, e.g. CREATE TABLE IF NOT EXISTS
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID uint64 `toml:"instance_id"`
	DataDir    string `toml:"data_dir"`

	Server     ServerConfiguration     `toml:"server"`
	Auth       AuthConfiguration       `toml:"auth"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Observer   ObserverConfiguration   `toml:"observer"`
	Paging     PagingConfiguration     `toml:"paging"`
	Database   DatabaseConfiguration   `toml:"database"`
	Audit      AuditConfiguration      `toml:"audit"`
	Packs      []PackConfiguration     `toml:"packs"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	BindFlag       = flag.String("bind", "", "HTTP bind address (overrides config)")
	PortFlag       = flag.Int("port", 0, "HTTP port (overrides config)")
)

// Default configuration
var Config = Default()

// Default returns a fresh configuration with default values
func Default() *Configuration {
	return &Configuration{
		InstanceID: 0, // Auto-generate
		DataDir:    "./objectpack-data",

		Server: ServerConfiguration{
			BindAddress:         "0.0.0.0",
			Port:                8000,
			URLPrefix:           "/packs",
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 30,
			Compression:         true,
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: true,
		},

		Observer: ObserverConfiguration{
			Verbosity: "warnings",
		},

		Paging: PagingConfiguration{
			Start: 0,
			Limit: 25,
		},

		Database: DatabaseConfiguration{
			Driver:             DriverSQLite,
			PoolSize:           4,
			MaxIdleTimeSeconds: 10,
			MaxLifetimeSeconds: 300,
			StatementCacheSize: 128,
		},

		Audit: AuditConfiguration{
			NATS: NATSConfiguration{
				URL:           "nats://127.0.0.1:4222",
				Stream:        "objectpack",
				SubjectPrefix: "objectpack.actions",
			},
			Kafka: KafkaConfiguration{
				Topic: "objectpack.actions",
			},
		},
	}
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *BindFlag != "" {
		Config.Server.BindAddress = *BindFlag
	}
	if *PortFlag != 0 {
		Config.Server.Port = *PortFlag
	}

	if Config.InstanceID == 0 {
		var err error
		Config.InstanceID, err = generateInstanceID()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}
		log.Info().Uint64("instance_id", Config.InstanceID).Msg("Auto-generated instance ID")
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateInstanceID creates a stable ID based on machine ID
func generateInstanceID() (uint64, error) {
	id, err := machineid.ProtectedID("objectpack")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Server.Port < 1 || Config.Server.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", Config.Server.Port)
	}

	if Config.Server.URLPrefix != "" && !strings.HasPrefix(Config.Server.URLPrefix, "/") {
		return fmt.Errorf("url prefix must start with '/': %q", Config.Server.URLPrefix)
	}

	switch Config.Observer.Verbosity {
	case "none", "warnings", "calls", "more":
	default:
		return fmt.Errorf("invalid observer verbosity: %s", Config.Observer.Verbosity)
	}

	if Config.Paging.Start < 0 {
		return fmt.Errorf("paging start must be >= 0")
	}

	if Config.Paging.Limit < 0 {
		return fmt.Errorf("paging limit must be >= 0")
	}

	switch Config.Database.Driver {
	case DriverSQLite:
		if Config.Database.DSN == "" {
			Config.Database.DSN = GetDatabasePath()
		}
	case DriverMySQL:
		if Config.Database.DSN == "" {
			return fmt.Errorf("mysql driver requires a dsn")
		}
	default:
		return fmt.Errorf("invalid database driver: %s", Config.Database.Driver)
	}

	if Config.Database.PoolSize < 1 {
		return fmt.Errorf("database pool size must be >= 1")
	}

	if Config.Database.MaxIdleTimeSeconds < 0 {
		return fmt.Errorf("database max idle time must be >= 0")
	}

	if Config.Database.MaxLifetimeSeconds < 0 {
		return fmt.Errorf("database max lifetime must be >= 0")
	}

	if Config.Database.StatementCacheSize < 1 {
		return fmt.Errorf("statement cache size must be >= 1")
	}

	switch Config.Audit.Sink {
	case SinkNone:
	case SinkNATS:
		if Config.Audit.NATS.URL == "" {
			return fmt.Errorf("nats audit sink requires a url")
		}
	case SinkKafka:
		if len(Config.Audit.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka audit sink requires at least one broker")
		}
		if Config.Audit.Kafka.Topic == "" {
			return fmt.Errorf("kafka audit sink requires a topic")
		}
	default:
		return fmt.Errorf("invalid audit sink: %s", Config.Audit.Sink)
	}

	seen := make(map[string]bool, len(Config.Packs))
	for i, p := range Config.Packs {
		if p.Name == "" {
			return fmt.Errorf("pack #%d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate pack name: %s", p.Name)
		}
		seen[p.Name] = true
		if p.Table == "" {
			return fmt.Errorf("pack %s has no table", p.Name)
		}
		if len(p.Columns) == 0 {
			return fmt.Errorf("pack %s has no columns", p.Name)
		}
		for _, c := range p.Columns {
			if c.DataIndex == "" || strings.ContainsAny(c.DataIndex, ". ") {
				return fmt.Errorf("pack %s: invalid column %q", p.Name, c.DataIndex)
			}
		}
		switch p.FilterEngine {
		case "", "menu", "column":
		default:
			return fmt.Errorf("pack %s: invalid filter engine %q", p.Name, p.FilterEngine)
		}
	}

	return nil
}

// GetDatabasePath returns the default SQLite database location
func GetDatabasePath() string {
	return path.Join(Config.DataDir, "objectpack.db")
}
