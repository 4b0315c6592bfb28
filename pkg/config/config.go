package config

import (
	"fmt"
	"net"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/beacon/pkg/types"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. BEACON_MAX_EVENTS
const EnvPrefix = "BEACON_"

// DataType is the per-topic configuration block
type DataType struct {
	Enabled bool `yaml:"enabled"`
}

// Config holds every tunable of the service. It is built once at startup
// and passed by pointer; components never mutate it.
//
// Units follow the parameter names: *_ttl values for events, caches and
// monitoring are seconds, intervals and queue_ttl are milliseconds.
type Config struct {
	WebSocketHost string `yaml:"websocket_host"`
	WebSocketPort int    `yaml:"websocket_port"`
	StatusHost    string `yaml:"status_host"`
	StatusPort    int    `yaml:"status_port"`

	BackendEndpoint     string `yaml:"backend_endpoint"`
	BackendToken        string `yaml:"backend_token"`
	BackendPollInterval int    `yaml:"backend_poll_interval"`
	PollTimeout         int    `yaml:"poll_timeout"`

	MaxEvents int `yaml:"max_events"`
	EventTTL  int `yaml:"event_ttl"`

	BatchSize      int `yaml:"batch_size"`
	FlushInterval  int `yaml:"flush_interval"`
	FlushThreshold int `yaml:"flush_threshold"`
	MaxQueueSize   int `yaml:"max_queue_size"`
	QueueTTL       int `yaml:"queue_ttl"`

	MaxConnectionsPerIP       int     `yaml:"max_connections_per_ip"`
	MaxSubscriptionsPerClient int     `yaml:"max_subscriptions_per_client"`
	IdleTimeout               int     `yaml:"idle_timeout"`
	HandshakeRate             float64 `yaml:"handshake_rate"`
	HandshakeBurst            int     `yaml:"handshake_burst"`

	AllowedOrigins    []string `yaml:"allowed_origins"`
	AllowedCIDRs      []string `yaml:"allowed_cidrs"`
	DeniedCIDRs       []string `yaml:"denied_cidrs"`
	TrustProxyHeaders bool     `yaml:"trust_proxy_headers"`
	AuthSecret        string   `yaml:"auth_secret"`
	AuthRequired      bool     `yaml:"auth_required"`
	PushToken         string   `yaml:"push_token"`

	CacheTTL            int `yaml:"cache_ttl"`
	CleanupInterval     int `yaml:"cleanup_interval"`
	MonitoringRetention int `yaml:"monitoring_retention"`
	StatusTimeout       int `yaml:"status_timeout"`
	FatalGrace          int `yaml:"fatal_grace"`

	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	DataTypes map[string]DataType `yaml:"data_types"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	dataTypes := make(map[string]DataType, types.NumTopics)
	for _, t := range types.AllTopics() {
		dataTypes[t.String()] = DataType{Enabled: true}
	}

	return &Config{
		WebSocketHost: "0.0.0.0",
		WebSocketPort: 6001,
		StatusHost:    "0.0.0.0",
		StatusPort:    6002,

		BackendEndpoint:     "http://localhost:8000/api/realtime/events",
		BackendPollInterval: 1000,

		MaxEvents: 1000,
		EventTTL:  300,

		BatchSize:     50,
		FlushInterval: 100,
		MaxQueueSize:  500,
		QueueTTL:      30000,

		MaxConnectionsPerIP:       10,
		MaxSubscriptionsPerClient: 20,
		IdleTimeout:               60,
		HandshakeRate:             5,
		HandshakeBurst:            10,

		CacheTTL:            60,
		CleanupInterval:     60000,
		MonitoringRetention: 3600,
		StatusTimeout:       500,
		FatalGrace:          10,

		LogLevel: "info",

		DataTypes: dataTypes,
	}
}

// Load reads a YAML file on top of the defaults. Keys absent from the file
// keep their default values, except that a data_types section lists the
// complete set of topics.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// A data_types section replaces the defaults: topics it omits are disabled
	var topics struct {
		DataTypes map[string]DataType `yaml:"data_types"`
	}
	if err := yaml.Unmarshal(data, &topics); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if topics.DataTypes != nil {
		cfg.DataTypes = topics.DataTypes
	}

	return cfg, nil
}

// ApplyEnv overrides fields from environment variables named after the
// yaml keys (BEACON_MAX_EVENTS, BEACON_ALLOWED_ORIGINS=a,b). The special
// BEACON_ENABLED_TOPICS lists the enabled topics and disables the rest.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	v := reflect.ValueOf(c).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := strings.Split(field.Tag.Get("yaml"), ",")[0]
		if key == "" || key == "data_types" {
			continue
		}

		raw, ok := lookup(EnvPrefix + strings.ToUpper(key))
		if !ok {
			continue
		}
		if err := setField(v.Field(i), strings.TrimSpace(raw)); err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, strings.ToUpper(key), err)
		}
	}

	if raw, ok := lookup(EnvPrefix + "ENABLED_TOPICS"); ok {
		enabled := make(map[string]DataType, types.NumTopics)
		for _, topic := range types.AllTopics() {
			enabled[topic.String()] = DataType{Enabled: false}
		}
		for _, name := range splitList(raw) {
			topic, err := types.ParseTopic(name)
			if err != nil {
				return fmt.Errorf("invalid %sENABLED_TOPICS: %w", EnvPrefix, err)
			}
			enabled[topic.String()] = DataType{Enabled: true}
		}
		c.DataTypes = enabled
	}

	return nil
}

func setField(f reflect.Value, raw string) error {
	switch f.Kind() {
	case reflect.String:
		f.SetString(raw)
	case reflect.Int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		f.SetInt(int64(n))
	case reflect.Float64:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		f.SetFloat(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		f.SetBool(b)
	case reflect.Slice:
		f.Set(reflect.ValueOf(splitList(raw)))
	default:
		return fmt.Errorf("unsupported field kind %s", f.Kind())
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks ranges and cross-field constraints
func (c *Config) Validate() error {
	var problems []string
	positive := map[string]int{
		"websocket_port":               c.WebSocketPort,
		"status_port":                  c.StatusPort,
		"backend_poll_interval":        c.BackendPollInterval,
		"max_events":                   c.MaxEvents,
		"event_ttl":                    c.EventTTL,
		"batch_size":                   c.BatchSize,
		"flush_interval":               c.FlushInterval,
		"max_queue_size":               c.MaxQueueSize,
		"queue_ttl":                    c.QueueTTL,
		"max_connections_per_ip":       c.MaxConnectionsPerIP,
		"max_subscriptions_per_client": c.MaxSubscriptionsPerClient,
		"idle_timeout":                 c.IdleTimeout,
		"cache_ttl":                    c.CacheTTL,
		"cleanup_interval":             c.CleanupInterval,
		"monitoring_retention":         c.MonitoringRetention,
		"status_timeout":               c.StatusTimeout,
	}
	keys := make([]string, 0, len(positive))
	for k := range positive {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if positive[k] <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive (got %d)", k, positive[k]))
		}
	}

	if c.WebSocketPort == c.StatusPort && c.WebSocketHost == c.StatusHost {
		problems = append(problems, "status_port must differ from websocket_port")
	}
	if c.PollTimeout < 0 || (c.PollTimeout > 0 && c.PollTimeout >= c.BackendPollInterval) {
		problems = append(problems, "poll_timeout must be shorter than backend_poll_interval")
	}
	if c.StatusTimeout >= 1000 {
		problems = append(problems, "status_timeout must be below 1000ms")
	}
	if c.FlushThreshold < 0 {
		problems = append(problems, "flush_threshold must not be negative")
	}
	if c.HandshakeRate < 0 || c.HandshakeBurst < 0 {
		problems = append(problems, "handshake_rate and handshake_burst must not be negative")
	}
	if c.AuthRequired && c.AuthSecret == "" {
		problems = append(problems, "auth_required needs auth_secret")
	}
	if c.BackendEndpoint == "" {
		problems = append(problems, "backend_endpoint is required")
	}
	for _, cidr := range append(append([]string{}, c.AllowedCIDRs...), c.DeniedCIDRs...) {
		if _, _, err := net.ParseCIDR(cidr); err != nil && net.ParseIP(cidr) == nil {
			problems = append(problems, fmt.Sprintf("invalid CIDR %q", cidr))
		}
	}
	for name := range c.DataTypes {
		if _, err := types.ParseTopic(name); err != nil {
			problems = append(problems, fmt.Sprintf("data_types: %v", err))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// EnabledTopics returns the set of topics whose enabled flag is true.
// Topics missing from data_types are disabled.
func (c *Config) EnabledTopics() types.TopicSet {
	var set types.TopicSet
	for name, dt := range c.DataTypes {
		if !dt.Enabled {
			continue
		}
		if topic, err := types.ParseTopic(name); err == nil {
			set = set.Add(topic)
		}
	}
	return set
}

// WebSocketAddr is the listen address of the client-facing server
func (c *Config) WebSocketAddr() string {
	return net.JoinHostPort(c.WebSocketHost, strconv.Itoa(c.WebSocketPort))
}

// StatusAddr is the listen address of the status server
func (c *Config) StatusAddr() string {
	return net.JoinHostPort(c.StatusHost, strconv.Itoa(c.StatusPort))
}

func (c *Config) EventTTLDuration() time.Duration    { return seconds(c.EventTTL) }
func (c *Config) CacheTTLDuration() time.Duration    { return seconds(c.CacheTTL) }
func (c *Config) IdleTimeoutDuration() time.Duration { return seconds(c.IdleTimeout) }
func (c *Config) FatalGraceDuration() time.Duration  { return seconds(c.FatalGrace) }
func (c *Config) MonitoringRetentionDuration() time.Duration {
	return seconds(c.MonitoringRetention)
}

func (c *Config) QueueTTLDuration() time.Duration        { return millis(c.QueueTTL) }
func (c *Config) PollIntervalDuration() time.Duration    { return millis(c.BackendPollInterval) }
func (c *Config) FlushIntervalDuration() time.Duration   { return millis(c.FlushInterval) }
func (c *Config) CleanupIntervalDuration() time.Duration { return millis(c.CleanupInterval) }
func (c *Config) StatusTimeoutDuration() time.Duration   { return millis(c.StatusTimeout) }

// PollTimeoutDuration defaults to 80% of the poll interval so a slow
// backend never overlaps the next tick
func (c *Config) PollTimeoutDuration() time.Duration {
	if c.PollTimeout > 0 {
		return millis(c.PollTimeout)
	}
	return millis(c.BackendPollInterval) * 8 / 10
}

// EffectiveFlushThreshold is the queue depth that triggers an early flush
func (c *Config) EffectiveFlushThreshold() int {
	if c.FlushThreshold > 0 {
		return c.FlushThreshold
	}
	return c.BatchSize
}

// YAML renders the configuration, used by `beacon config print`
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
func millis(n int) time.Duration  { return time.Duration(n) * time.Millisecond }
