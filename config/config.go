package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/c360/trafficstreams/errors"
	"github.com/c360/trafficstreams/pkg/tlsutil"
)

// Transport names accepted by StreamConfig.Transport.
const (
	TransportAuto      = "auto"
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// Aggregator names accepted by SubscriptionConfig.Aggregate.
const (
	AggregateTrafficByDirection   = "traffic_by_direction"
	AggregateVehicleSpeedBySensor = "vehicle_speed_by_sensor"
)

// Config represents the complete daemon configuration
type Config struct {
	Version       string               `json:"version,omitempty" yaml:"version,omitempty"`
	Stream        StreamConfig         `json:"stream" yaml:"stream"`
	Subscriptions []SubscriptionConfig `json:"subscriptions" yaml:"subscriptions"`
	Aggregate     AggregateConfig      `json:"aggregate" yaml:"aggregate"`
	Snapshot      SnapshotConfig       `json:"snapshot" yaml:"snapshot"`
	Relay         RelayConfig          `json:"relay" yaml:"relay"`
	NATS          NATSConfig           `json:"nats" yaml:"nats"`
	Metrics       MetricsConfig        `json:"metrics" yaml:"metrics"`
	Feed          FeedConfig           `json:"feed" yaml:"feed"`
}

// StreamConfig configures the connection manager and its transports
type StreamConfig struct {
	BaseURL          string   `json:"base_url" yaml:"base_url"`
	Transport        string   `json:"transport" yaml:"transport"`
	RetryInterval    Duration `json:"retry_interval" yaml:"retry_interval"`
	MaxRetries       int      `json:"max_retries" yaml:"max_retries"` // 0 retries forever
	QueueSize        int      `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`
	HonorServerRetry bool     `json:"honor_server_retry,omitempty" yaml:"honor_server_retry,omitempty"`

	// TLS applies to upstream streams and snapshot sources.
	TLS tlsutil.ClientConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// SubscriptionConfig declares one dashboard view bound to a stream path
type SubscriptionConfig struct {
	Name             string   `json:"name" yaml:"name"`
	Path             string   `json:"path" yaml:"path"`
	MaxEvents        int      `json:"max_events,omitempty" yaml:"max_events,omitempty"`
	RetryInterval    Duration `json:"retry_interval,omitempty" yaml:"retry_interval,omitempty"`
	AutoConnectDelay Duration `json:"auto_connect_delay,omitempty" yaml:"auto_connect_delay,omitempty"`
	Aggregate        string   `json:"aggregate,omitempty" yaml:"aggregate,omitempty"`
	Relay            bool     `json:"relay,omitempty" yaml:"relay,omitempty"`
}

// AggregateConfig configures the sliding windows
type AggregateConfig struct {
	WindowSize int        `json:"window_size" yaml:"window_size"`
	Thresholds Thresholds `json:"thresholds" yaml:"thresholds"`
}

// Thresholds are the congestion level boundaries
type Thresholds struct {
	Medium   float64 `json:"medium" yaml:"medium"`
	High     float64 `json:"high" yaml:"high"`
	Critical float64 `json:"critical" yaml:"critical"`
}

// SnapshotConfig configures the baseline poller
type SnapshotConfig struct {
	Interval Duration         `json:"interval" yaml:"interval"`
	MaxAge   Duration         `json:"max_age,omitempty" yaml:"max_age,omitempty"`
	Timeout  Duration         `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Sources  []SnapshotSource `json:"sources,omitempty" yaml:"sources,omitempty"`
}

// SnapshotSource is one HTTP endpoint returning a baseline document
type SnapshotSource struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
}

// RelayConfig configures republishing to NATS
type RelayConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Prefix  string   `json:"prefix" yaml:"prefix"`
	Kinds   []string `json:"kinds,omitempty" yaml:"kinds,omitempty"`
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// Workers > 0 publishes asynchronously through a bounded queue of QueueSize events.
	Workers   int `json:"workers,omitempty" yaml:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`
}

// FeedConfig configures the WebSocket live feed served next to the metrics
type FeedConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	SendBuffer int    `json:"send_buffer,omitempty" yaml:"send_buffer,omitempty"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty" yaml:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait Duration      `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string        `json:"token,omitempty" yaml:"token,omitempty"`
	TLS           NATSTLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
}

// MetricsConfig configures the metrics, health and dashboard HTTP server
type MetricsConfig struct {
	Port int    `json:"port" yaml:"port"` // 0 disables the server
	Path string `json:"path" yaml:"path"`
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{
		config: cfg,
	}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically updates the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "check config")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// Redacted returns a copy with NATS credentials masked, for display.
func (c *Config) Redacted() *Config {
	clone := c.Clone()
	mask := func(s *string) {
		if *s != "" {
			*s = "****"
		}
	}
	mask(&clone.NATS.Password)
	mask(&clone.NATS.Token)
	return clone
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	switch c.Stream.Transport {
	case TransportAuto, TransportSSE, TransportWebSocket:
	default:
		return invalid("stream.transport %q must be auto, sse or websocket", c.Stream.Transport)
	}
	if c.Stream.BaseURL != "" {
		u, err := url.Parse(c.Stream.BaseURL)
		if err != nil || !u.IsAbs() {
			return invalid("stream.base_url %q must be an absolute URL", c.Stream.BaseURL)
		}
	}
	if c.Stream.RetryInterval <= 0 {
		return invalid("stream.retry_interval must be positive")
	}
	if c.Stream.MaxRetries < 0 {
		return invalid("stream.max_retries must not be negative")
	}
	if c.Stream.QueueSize < 0 {
		return invalid("stream.queue_size must not be negative")
	}
	if err := c.Stream.TLS.Validate(); err != nil {
		return fmt.Errorf("stream.tls: %w", err)
	}

	names := make(map[string]bool, len(c.Subscriptions))
	for i, sub := range c.Subscriptions {
		if sub.Name == "" {
			return invalid("subscriptions[%d].name is required", i)
		}
		if names[sub.Name] {
			return invalid("subscriptions[%d].name %q is duplicated", i, sub.Name)
		}
		names[sub.Name] = true
		if sub.Path == "" {
			return invalid("subscription %s: path is required", sub.Name)
		}
		if sub.Path[0] == '/' && c.Stream.BaseURL == "" {
			return invalid("subscription %s: relative path needs stream.base_url", sub.Name)
		}
		if sub.MaxEvents < 0 {
			return invalid("subscription %s: max_events must not be negative", sub.Name)
		}
		switch sub.Aggregate {
		case "", AggregateTrafficByDirection, AggregateVehicleSpeedBySensor:
		default:
			return invalid("subscription %s: unknown aggregate %q", sub.Name, sub.Aggregate)
		}
	}

	if c.Aggregate.WindowSize < 1 {
		return invalid("aggregate.window_size must be at least 1")
	}
	th := c.Aggregate.Thresholds
	if !(th.Medium < th.High && th.High < th.Critical) {
		return invalid("aggregate.thresholds must satisfy medium < high < critical")
	}

	if len(c.Snapshot.Sources) > 0 && c.Snapshot.Interval <= 0 {
		return invalid("snapshot.interval must be positive")
	}
	sources := make(map[string]bool, len(c.Snapshot.Sources))
	for i, src := range c.Snapshot.Sources {
		if src.Name == "" || src.URL == "" {
			return invalid("snapshot.sources[%d] needs name and url", i)
		}
		if sources[src.Name] {
			return invalid("snapshot source %q is duplicated", src.Name)
		}
		sources[src.Name] = true
	}

	if c.Relay.Enabled {
		if len(c.NATS.URLs) == 0 {
			return invalid("relay needs nats.urls")
		}
		if !isValidNATSSubjectPart(c.Relay.Prefix) {
			return invalid("relay.prefix %q is not valid for NATS subjects", c.Relay.Prefix)
		}
		if c.Relay.Workers < 0 || c.Relay.QueueSize < 0 {
			return invalid("relay.workers and relay.queue_size must not be negative")
		}
	}
	if err := c.validateNATSTLS(); err != nil {
		return err
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return invalid("metrics.port %d out of range", c.Metrics.Port)
	}
	if c.Feed.Enabled {
		if !strings.HasPrefix(c.Feed.Path, "/") {
			return invalid("feed.path %q must start with /", c.Feed.Path)
		}
		if c.Feed.Path == c.Metrics.Path {
			return invalid("feed.path collides with metrics.path")
		}
		if c.Feed.SendBuffer < 0 {
			return invalid("feed.send_buffer must not be negative")
		}
	}
	return nil
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

func (c *Config) validateNATSTLS() error {
	tls := c.NATS.TLS
	if !tls.Enabled {
		return nil
	}
	for name, path := range map[string]string{"cert_file": tls.CertFile, "key_file": tls.KeyFile, "ca_file": tls.CAFile} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%w: nats.tls.%s: %v", errors.ErrInvalidConfig, name, err)
		}
	}
	return nil
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:    []string{},
		envPrefix: "TRAFFICSTREAMS",
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		merged, err := l.mergeFromMap(cfg, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to merge %s: %w", path, err)
		}
		cfg = merged
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Defaults returns the configuration every layer is merged onto.
func Defaults() *Config {
	return &Config{
		Stream: StreamConfig{
			Transport:     TransportAuto,
			RetryInterval: Duration(3 * time.Second),
		},
		Aggregate: AggregateConfig{
			WindowSize: 10,
			Thresholds: Thresholds{Medium: 30, High: 50, Critical: 70},
		},
		Snapshot: SnapshotConfig{
			Interval: Duration(30 * time.Second),
			Timeout:  Duration(10 * time.Second),
		},
		Relay: RelayConfig{
			Prefix: "traffic.events",
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
		Feed: FeedConfig{
			Enabled: true,
			Path:    "/ws/events",
		},
	}
}

// loadRaw loads a JSON or YAML file as a generic map
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if isYAML(path) {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "loadRaw", "parse yaml")
		}
		return raw, nil
	}

	if err := checkJSONDepth(data); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "loadRaw", "check json depth")
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "loadRaw", "parse json")
	}
	return raw, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "mergeFromMap", "decode merged config")
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence.
// Lists are replaced, not appended.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	env := func(name string) (string, bool, error) {
		key := l.envPrefix + "_" + name
		val := os.Getenv(key)
		if val == "" {
			return "", false, nil
		}
		if err := checkEnvValue(key, val); err != nil {
			return "", false, errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "read "+key)
		}
		return val, true, nil
	}
	parseErr := func(name string, err error) error {
		return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "parse "+l.envPrefix+"_"+name)
	}

	if val, ok, err := env("STREAM_BASE_URL"); err != nil {
		return err
	} else if ok {
		cfg.Stream.BaseURL = val
	}
	if val, ok, err := env("STREAM_TRANSPORT"); err != nil {
		return err
	} else if ok {
		cfg.Stream.Transport = val
	}
	if val, ok, err := env("STREAM_RETRY_INTERVAL"); err != nil {
		return err
	} else if ok {
		d, err := parseDurationWithDays(val)
		if err != nil {
			return parseErr("STREAM_RETRY_INTERVAL", err)
		}
		cfg.Stream.RetryInterval = Duration(d)
	}
	if val, ok, err := env("STREAM_MAX_RETRIES"); err != nil {
		return err
	} else if ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			return parseErr("STREAM_MAX_RETRIES", err)
		}
		cfg.Stream.MaxRetries = n
	}

	if val, ok, err := env("NATS_URLS"); err != nil {
		return err
	} else if ok {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val, ok, err := env("NATS_USERNAME"); err != nil {
		return err
	} else if ok {
		cfg.NATS.Username = val
	}
	if val, ok, err := env("NATS_PASSWORD"); err != nil {
		return err
	} else if ok {
		cfg.NATS.Password = val
	}
	if val, ok, err := env("NATS_TOKEN"); err != nil {
		return err
	} else if ok {
		cfg.NATS.Token = val
	}

	if val, ok, err := env("RELAY_ENABLED"); err != nil {
		return err
	} else if ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return parseErr("RELAY_ENABLED", err)
		}
		cfg.Relay.Enabled = b
	}
	if val, ok, err := env("METRICS_PORT"); err != nil {
		return err
	} else if ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			return parseErr("METRICS_PORT", err)
		}
		cfg.Metrics.Port = n
	}
	return nil
}

// SaveToFile saves the configuration as JSON or YAML, chosen by extension
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	return writeConfigFile(path, data)
}

// String returns a JSON representation of the config with credentials masked
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}
