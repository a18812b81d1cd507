package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Configuration {
	return &Configuration{
		ClientID: 1,
		Logging:  LoggingConfiguration{Format: "console"},
		Admin:    AdminConfiguration{Enabled: true, Port: 8089},
		Emulator: EmulatorConfiguration{
			DatabasePath:   "./test.db",
			DeliveryBuffer: 16,
		},
		Subscription: SubscriptionConfiguration{
			Namespace: "dbchange",
			Protocol:  "callback",
			QoS:       []string{"rowids", "query"},
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()
	assert.NoError(t, Validate())
}

func TestValidate_Rejects(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tests := []struct {
		name     string
		mutate   func(c *Configuration)
		contains string
	}{
		{"logging format", func(c *Configuration) { c.Logging.Format = "xml" }, "logging format"},
		{"admin port", func(c *Configuration) { c.Admin.Port = 70000 }, "admin port"},
		{"database path", func(c *Configuration) { c.Emulator.DatabasePath = "" }, "database path"},
		{"namespace", func(c *Configuration) { c.Subscription.Namespace = "rows" }, "namespace"},
		{"protocol", func(c *Configuration) { c.Subscription.Protocol = "pigeon" }, "protocol"},
		{"recipient", func(c *Configuration) { c.Subscription.Protocol = "http" }, "recipient"},
		{"qos", func(c *Configuration) { c.Subscription.QoS = []string{"fast"} }, "qos"},
		{"operation", func(c *Configuration) { c.Subscription.Operations = []string{"merge"} }, "operation"},
		{"timeout", func(c *Configuration) { c.Subscription.TimeoutSeconds = -1 }, "timeout"},
		{"grouping type", func(c *Configuration) {
			c.Subscription.Grouping = GroupingConfiguration{WindowSeconds: 5, Type: "first"}
		}, "grouping type"},
		{"queue name", func(c *Configuration) { c.Subscription.Namespace = "aq" }, "queue subscriptions"},
		{"sink type", func(c *Configuration) {
			c.Relay = RelayConfiguration{Enabled: true, DataDir: "x", Sinks: []SinkConfiguration{{Name: "a", Type: "sqs", Format: "json"}}}
		}, "sink type"},
		{"duplicate sink", func(c *Configuration) {
			c.Relay = RelayConfiguration{Enabled: true, DataDir: "x", Sinks: []SinkConfiguration{
				{Name: "a", Type: "nats", Format: "json"},
				{Name: "a", Type: "kafka", Format: "json"},
			}}
		}, "duplicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Config = validConfig()
			tt.mutate(Config)
			err := Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	dir := t.TempDir()
	path := filepath.Join(dir, "cqnwatch.toml")
	content := `
client_id = 7

[emulator]
database_path = "app.db"
delivery_buffer = 32

[subscription]
namespace = "dbchange"
protocol = "callback"
qos = ["query", "rowids"]
operations = ["insert", "delete"]
timeout_seconds = 30
tables = ["orders", "customers"]

[subscription.grouping]
window_seconds = 5
type = "last"

[relay]
enabled = true
data_dir = "` + filepath.ToSlash(filepath.Join(dir, "relay")) + `"

[[relay.sinks]]
name = "events"
type = "nats"
format = "json"
nats_url = "nats://localhost:4222"
filter_tables = ["orders*"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	Config = validConfig()
	Config.ClientID = 0
	require.NoError(t, Load(path))

	assert.Equal(t, uint64(7), Config.ClientID)
	assert.Equal(t, "app.db", Config.Emulator.DatabasePath)
	assert.Equal(t, []string{"query", "rowids"}, Config.Subscription.QoS)
	assert.Equal(t, []string{"orders", "customers"}, Config.Subscription.Tables)
	assert.Equal(t, 30, Config.Subscription.TimeoutSeconds)
	assert.Equal(t, "last", Config.Subscription.Grouping.Type)
	assert.Equal(t, "cqnwatch-7", Config.Subscription.Name)
	require.Len(t, Config.Relay.Sinks, 1)
	assert.Equal(t, []string{"orders*"}, Config.Relay.Sinks[0].FilterTables)
	assert.DirExists(t, filepath.Join(dir, "relay"))
	assert.NoError(t, Validate())
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Nil(t, splitList(""))
}
