package config

import (
	"FlowSpectra/internal/model"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Clock names accepted by engine.clock.
const (
	ClockPacket = "packet"
	ClockWall   = "wall"
)

// EngineConfig holds the flow extraction engine settings. Durations are Go
// duration strings ("1s", "500ms").
type EngineConfig struct {
	IdleTimeout         string `yaml:"idle_timeout"`
	ActivityTimeout     string `yaml:"activity_timeout"`
	MaxFlowDuration     string `yaml:"max_flow_duration"`
	MaxLiveFlows        int    `yaml:"max_live_flows"`
	SinkQueueCapacity   int    `yaml:"sink_queue_capacity"`
	SweepInterval       string `yaml:"sweep_interval"`
	NumShards           int    `yaml:"num_shards"`
	NumWorkers          int    `yaml:"num_workers"`
	SizeOfPacketChannel int    `yaml:"size_of_packet_channel"`
	Clock               string `yaml:"clock"`
	BatchSize           int    `yaml:"batch_size"`
	FlushInterval       string `yaml:"flush_interval"`
}

// CSVConfig configures the csv file sink.
type CSVConfig struct {
	Path string `yaml:"path"`
}

// ClickHouseConfig holds the connection details for ClickHouse.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
}

// NATSConfig holds a NATS server url and subject.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// SinkConfig defines one feature vector sink.
type SinkConfig struct {
	Type       string           `yaml:"type"`
	Enabled    bool             `yaml:"enabled"`
	CSV        CSVConfig        `yaml:"csv"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	NATS       NATSConfig       `yaml:"nats"`
}

// ProbeConfig defines where the probe publishes packet records.
type ProbeConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// APIConfig holds the HTTP listen address.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// GRPCConfig holds the gRPC listen address.
type GRPCConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Engine EngineConfig `yaml:"engine"`
	Sinks  []SinkConfig `yaml:"sinks"`
	Probe  ProbeConfig  `yaml:"probe"`
	API    APIConfig    `yaml:"api"`
	GRPC   GRPCConfig   `yaml:"grpc"`
}

// Default returns a complete configuration with a single csv sink.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			IdleTimeout:         "1s",
			MaxFlowDuration:     "120s",
			MaxLiveFlows:        100000,
			SinkQueueCapacity:   4096,
			SweepInterval:       "500ms",
			NumShards:           256,
			NumWorkers:          4,
			SizeOfPacketChannel: 10000,
			Clock:               ClockPacket,
			BatchSize:           256,
			FlushInterval:       "1s",
		},
		Sinks: []SinkConfig{
			{Type: "csv", Enabled: true, CSV: CSVConfig{Path: "out/flows.csv"}},
		},
		Probe: ProbeConfig{NATSURL: "nats://127.0.0.1:4222", Subject: "flowspectra.packets"},
		API:   APIConfig{ListenAddr: ":8080"},
		GRPC:  GRPCConfig{ListenAddr: ":50051"},
	}
}

// LoadConfig reads the configuration from a YAML file on top of Default and
// validates it.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Timings are the parsed engine durations.
type Timings struct {
	IdleTimeout     time.Duration
	ActivityTimeout time.Duration
	MaxFlowDuration time.Duration
	SweepInterval   time.Duration
	FlushInterval   time.Duration
}

// Timings parses the engine durations. An empty activity_timeout falls back
// to idle_timeout.
func (e EngineConfig) Timings() (Timings, error) {
	var t Timings
	fields := []struct {
		name     string
		value    string
		dst      *time.Duration
		optional bool
	}{
		{"idle_timeout", e.IdleTimeout, &t.IdleTimeout, false},
		{"activity_timeout", e.ActivityTimeout, &t.ActivityTimeout, true},
		{"max_flow_duration", e.MaxFlowDuration, &t.MaxFlowDuration, false},
		{"sweep_interval", e.SweepInterval, &t.SweepInterval, false},
		{"flush_interval", e.FlushInterval, &t.FlushInterval, false},
	}
	for _, f := range fields {
		if f.value == "" && f.optional {
			continue
		}
		d, err := time.ParseDuration(f.value)
		if err != nil {
			return Timings{}, fmt.Errorf("%w: invalid engine %s %q: %v", model.ErrInvalidConfig, f.name, f.value, err)
		}
		if d <= 0 {
			return Timings{}, fmt.Errorf("%w: engine %s must be a positive duration", model.ErrInvalidConfig, f.name)
		}
		*f.dst = d
	}
	if t.ActivityTimeout == 0 {
		t.ActivityTimeout = t.IdleTimeout
	}
	return t, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if _, err := c.Engine.Timings(); err != nil {
		return err
	}
	positive := []struct {
		name  string
		value int
	}{
		{"max_live_flows", c.Engine.MaxLiveFlows},
		{"sink_queue_capacity", c.Engine.SinkQueueCapacity},
		{"num_shards", c.Engine.NumShards},
		{"num_workers", c.Engine.NumWorkers},
		{"size_of_packet_channel", c.Engine.SizeOfPacketChannel},
		{"batch_size", c.Engine.BatchSize},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%w: engine %s must be positive, got %d", model.ErrInvalidConfig, p.name, p.value)
		}
	}
	if c.Engine.Clock != ClockPacket && c.Engine.Clock != ClockWall {
		return fmt.Errorf("%w: unknown engine clock %q", model.ErrInvalidConfig, c.Engine.Clock)
	}
	for i, s := range c.Sinks {
		if s.Type == "" {
			return fmt.Errorf("%w: sink %d has no type", model.ErrInvalidConfig, i)
		}
	}
	return nil
}
