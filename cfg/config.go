package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// AdminConfiguration for the HTTP admin endpoint
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	AuthToken   string `toml:"auth_token"` // empty disables auth
}

// EmulatorConfiguration for the embedded notification server
type EmulatorConfiguration struct {
	DatabasePath   string `toml:"database_path"`
	DatabaseName   string `toml:"database_name"`
	Charset        string `toml:"charset"`
	DeliveryBuffer int    `toml:"delivery_buffer"`
	SMTPAddress    string `toml:"smtp_address"`
	SMTPFrom       string `toml:"smtp_from"`
}

// GroupingConfiguration batches notifications over a time window
type GroupingConfiguration struct {
	WindowSeconds int    `toml:"window_seconds"` // 0 = no grouping
	Type          string `toml:"type"`           // "summary" or "last"
}

// SubscriptionConfiguration describes the registration submitted at startup
type SubscriptionConfiguration struct {
	Namespace      string                `toml:"namespace"` // "dbchange" or "aq"
	Protocol       string                `toml:"protocol"`  // "callback", "mail", "plsql", "http"
	Recipient      string                `toml:"recipient"`
	Name           string                `toml:"name"`
	QoS            []string              `toml:"qos"`        // reliable, dereg_nfy, rowids, query, best_effort
	Operations     []string              `toml:"operations"` // insert, update, delete, alter, drop, all_rows
	TimeoutSeconds int                   `toml:"timeout_seconds"`
	Port           int                   `toml:"port"`
	IPAddress      string                `toml:"ip_address"`
	Tables         []string              `toml:"tables"`
	Grouping       GroupingConfiguration `toml:"grouping"`
}

// SinkConfiguration describes one relay destination
type SinkConfiguration struct {
	Name            string   `toml:"name"`
	Type            string   `toml:"type"`   // "nats", "kafka"
	Format          string   `toml:"format"` // "json", "msgpack"
	NatsURL         string   `toml:"nats_url"`
	Brokers         []string `toml:"brokers"`
	TopicPrefix     string   `toml:"topic_prefix"`
	FilterTables    []string `toml:"filter_tables"`
	FilterDatabases []string `toml:"filter_databases"`
	BatchSize       int      `toml:"batch_size"`
	PollIntervalMS  int      `toml:"poll_interval_ms"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
}

// RelayConfiguration controls forwarding of received events
type RelayConfiguration struct {
	Enabled bool                `toml:"enabled"`
	DataDir string              `toml:"data_dir"`
	Sinks   []SinkConfiguration `toml:"sinks"`
}

// Configuration is the main configuration structure
type Configuration struct {
	ClientID uint64 `toml:"client_id"`

	Logging      LoggingConfiguration      `toml:"logging"`
	Prometheus   PrometheusConfiguration   `toml:"prometheus"`
	Admin        AdminConfiguration        `toml:"admin"`
	Emulator     EmulatorConfiguration     `toml:"emulator"`
	Subscription SubscriptionConfiguration `toml:"subscription"`
	Relay        RelayConfiguration        `toml:"relay"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "cqnwatch.toml", "Path to configuration file")
	DatabaseFlag   = flag.String("db", "", "SQLite database watched by the embedded server (overrides config)")
	TablesFlag     = flag.String("tables", "", "Comma separated tables to watch (overrides config)")
	TimeoutFlag    = flag.Duration("timeout", 0, "Subscription timeout (overrides config)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
)

// Default configuration
var Config = &Configuration{
	ClientID: 0, // Auto-generate

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},

	Admin: AdminConfiguration{
		Enabled:     true,
		BindAddress: "127.0.0.1",
		Port:        8089,
	},

	Emulator: EmulatorConfiguration{
		DatabasePath:   "./cqnwatch.db",
		DatabaseName:   "CQNWATCH",
		Charset:        "AL32UTF8",
		DeliveryBuffer: 256,
	},

	Subscription: SubscriptionConfiguration{
		Namespace: "dbchange",
		Protocol:  "callback",
		QoS:       []string{"rowids"},
		Grouping: GroupingConfiguration{
			Type: "summary",
		},
	},

	Relay: RelayConfiguration{
		Enabled: false,
		DataDir: "./cqnwatch-data",
	},
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

	applyOverrides()

	if Config.ClientID == 0 {
		var err error
		Config.ClientID, err = generateClientID()
		if err != nil {
			return fmt.Errorf("failed to generate client ID: %w", err)
		}
		log.Info().Uint64("client_id", Config.ClientID).Msg("Auto-generated client ID")
	}

	if Config.Subscription.Name == "" && Config.Subscription.Namespace != "aq" {
		Config.Subscription.Name = "cqnwatch-" + strconv.FormatUint(Config.ClientID%100000, 10)
	}

	if Config.Relay.Enabled {
		if err := os.MkdirAll(Config.Relay.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create relay data directory: %w", err)
		}
	}

	return nil
}

func applyOverrides() {
	if *DatabaseFlag != "" {
		Config.Emulator.DatabasePath = *DatabaseFlag
	}
	if *TablesFlag != "" {
		Config.Subscription.Tables = splitList(*TablesFlag)
	}
	if *TimeoutFlag != 0 {
		Config.Subscription.TimeoutSeconds = int(*TimeoutFlag / time.Second)
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// generateClientID creates a stable client ID based on machine ID
func generateClientID() (uint64, error) {
	id, err := machineid.ProtectedID("cqnwatch")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

var (
	validNamespaces = map[string]bool{"dbchange": true, "aq": true}
	validProtocols  = map[string]bool{"callback": true, "mail": true, "plsql": true, "http": true}
	validQoS        = map[string]bool{
		"reliable": true, "dereg_nfy": true, "rowids": true, "query": true, "best_effort": true,
	}
	validOperations = map[string]bool{
		"insert": true, "update": true, "delete": true, "alter": true, "drop": true, "all_rows": true,
	}
	validGrouping   = map[string]bool{"summary": true, "last": true}
	validSinkTypes  = map[string]bool{"nats": true, "kafka": true}
	validSinkFormat = map[string]bool{"json": true, "msgpack": true}
)

// Validate checks configuration for errors
func Validate() error {
	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	if Config.Emulator.DatabasePath == "" {
		return fmt.Errorf("emulator database path is required")
	}

	if Config.Emulator.DeliveryBuffer < 1 {
		return fmt.Errorf("emulator delivery buffer must be >= 1")
	}

	sub := Config.Subscription
	if !validNamespaces[sub.Namespace] {
		return fmt.Errorf("invalid subscription namespace: %s", sub.Namespace)
	}

	if !validProtocols[sub.Protocol] {
		return fmt.Errorf("invalid subscription protocol: %s", sub.Protocol)
	}

	if sub.Protocol != "callback" && sub.Recipient == "" {
		return fmt.Errorf("protocol %s requires a recipient", sub.Protocol)
	}

	for _, q := range sub.QoS {
		if !validQoS[strings.ToLower(q)] {
			return fmt.Errorf("invalid qos flag: %s", q)
		}
	}

	for _, op := range sub.Operations {
		if !validOperations[strings.ToLower(op)] {
			return fmt.Errorf("invalid operation: %s", op)
		}
	}

	if sub.TimeoutSeconds < 0 {
		return fmt.Errorf("subscription timeout must be >= 0")
	}

	if sub.Port < 0 || sub.Port > 65535 {
		return fmt.Errorf("invalid subscription port: %d", sub.Port)
	}

	if sub.Grouping.WindowSeconds < 0 {
		return fmt.Errorf("grouping window must be >= 0")
	}

	if sub.Grouping.WindowSeconds > 0 && !validGrouping[sub.Grouping.Type] {
		return fmt.Errorf("invalid grouping type: %s", sub.Grouping.Type)
	}

	if sub.Namespace == "aq" && sub.Name == "" {
		return fmt.Errorf("queue subscriptions require a name (QUEUE or QUEUE:CONSUMER)")
	}

	if Config.Relay.Enabled {
		if Config.Relay.DataDir == "" {
			return fmt.Errorf("relay data directory is required")
		}
		seen := make(map[string]bool)
		for _, sink := range Config.Relay.Sinks {
			if sink.Name == "" {
				return fmt.Errorf("relay sink name is required")
			}
			if seen[sink.Name] {
				return fmt.Errorf("duplicate relay sink name: %s", sink.Name)
			}
			seen[sink.Name] = true
			if !validSinkTypes[sink.Type] {
				return fmt.Errorf("invalid relay sink type %q for sink %s", sink.Type, sink.Name)
			}
			if !validSinkFormat[sink.Format] {
				return fmt.Errorf("invalid relay sink format %q for sink %s", sink.Format, sink.Name)
			}
		}
	}

	return nil
}
