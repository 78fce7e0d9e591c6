package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/streamrt/errors"
)

// Defaults applied before any layer is merged.
const (
	DefaultBackend         = "host"
	DefaultBufferBytes     = 32 << 10
	DefaultPollInterval    = 50 * time.Millisecond
	DefaultStopTimeout     = 5 * time.Second
	DefaultMonitorInterval = time.Second
	DefaultMaxNOutput      = 8192
	DefaultMetricsAddress  = ":9090"
	DefaultMetricsPath     = "/metrics"
	DefaultSubjectPrefix   = "streamrt.edge"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// Network transports understood by the CLI.
const (
	TransportNone      = ""
	TransportNATS      = "nats"
	TransportWebSocket = "websocket"
)

// Config is the complete runtime configuration.
type Config struct {
	Runtime    RuntimeConfig     `json:"runtime" yaml:"runtime"`
	Schedulers []SchedulerConfig `json:"schedulers,omitempty" yaml:"schedulers,omitempty"`
	Network    NetworkConfig     `json:"network" yaml:"network"`
	Metrics    MetricsConfig     `json:"metrics" yaml:"metrics"`
	Log        LogConfig         `json:"log" yaml:"log"`
}

// RuntimeConfig sizes buffers and tunes the default scheduler.
type RuntimeConfig struct {
	DefaultBackend  string   `json:"default_backend" yaml:"default_backend"`
	BufferBytes     int      `json:"buffer_bytes" yaml:"buffer_bytes"`
	MinBufferItems  int      `json:"min_buffer_items,omitempty" yaml:"min_buffer_items,omitempty"`
	MaxBufferItems  int      `json:"max_buffer_items,omitempty" yaml:"max_buffer_items,omitempty"`
	Workers         int      `json:"workers,omitempty" yaml:"workers,omitempty"` // 0 = GOMAXPROCS
	MaxNOutput      int      `json:"max_noutput" yaml:"max_noutput"`
	PollInterval    Duration `json:"poll_interval" yaml:"poll_interval"`
	StopTimeout     Duration `json:"stop_timeout" yaml:"stop_timeout"`
	MonitorInterval Duration `json:"monitor_interval" yaml:"monitor_interval"`
}

// SchedulerConfig declares a named partition. Blocks are matched by name.
type SchedulerConfig struct {
	Name    string   `json:"name" yaml:"name"`
	Workers int      `json:"workers,omitempty" yaml:"workers,omitempty"`
	CPUs    []int    `json:"cpus,omitempty" yaml:"cpus,omitempty"`
	Blocks  []string `json:"blocks,omitempty" yaml:"blocks,omitempty"`
}

// NetworkConfig selects the transport behind the network buffer backend.
type NetworkConfig struct {
	Transport     string   `json:"transport,omitempty" yaml:"transport,omitempty"`
	URL           string   `json:"url,omitempty" yaml:"url,omitempty"`
	SubjectPrefix string   `json:"subject_prefix" yaml:"subject_prefix"`
	MaxReconnects int      `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
	Username      string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string   `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string   `json:"token,omitempty" yaml:"token,omitempty"`
}

// MetricsConfig controls the /metrics and /health endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Address string `json:"address" yaml:"address"`
	Path    string `json:"path" yaml:"path"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Duration is a time.Duration that reads "250ms" style strings or
// nanosecond integers from JSON and YAML.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON writes the duration string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(val))
	case nil:
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
	return nil
}

// MarshalYAML writes the duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if n, err := strconv.ParseInt(node.Value, 10, 64); err == nil {
		*d = Duration(time.Duration(n))
		return nil
	}
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			DefaultBackend:  DefaultBackend,
			BufferBytes:     DefaultBufferBytes,
			MaxNOutput:      DefaultMaxNOutput,
			PollInterval:    Duration(DefaultPollInterval),
			StopTimeout:     Duration(DefaultStopTimeout),
			MonitorInterval: Duration(DefaultMonitorInterval),
		},
		Network: NetworkConfig{
			SubjectPrefix: DefaultSubjectPrefix,
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		Metrics: MetricsConfig{
			Address: DefaultMetricsAddress,
			Path:    DefaultMetricsPath,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// Validate runs the semantic checks the schema cannot express.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
			"Config", "Validate", "validate configuration")
	}

	r := c.Runtime
	if r.DefaultBackend == "" {
		return invalid("runtime.default_backend is required")
	}
	if r.BufferBytes <= 0 {
		return invalid("runtime.buffer_bytes must be positive")
	}
	if r.MaxBufferItems > 0 && r.MinBufferItems > r.MaxBufferItems {
		return invalid("runtime.min_buffer_items %d exceeds max_buffer_items %d", r.MinBufferItems, r.MaxBufferItems)
	}
	if r.MaxNOutput <= 0 {
		return invalid("runtime.max_noutput must be positive")
	}

	names := make(map[string]bool, len(c.Schedulers))
	owner := make(map[string]string)
	for i, s := range c.Schedulers {
		if s.Name == "" {
			return invalid("schedulers[%d].name is required", i)
		}
		if names[s.Name] {
			return invalid("scheduler %q declared twice", s.Name)
		}
		names[s.Name] = true
		for _, cpu := range s.CPUs {
			if cpu < 0 {
				return invalid("scheduler %q: negative cpu %d", s.Name, cpu)
			}
		}
		for _, b := range s.Blocks {
			if prev, ok := owner[b]; ok {
				return invalid("block %q assigned to both %q and %q", b, prev, s.Name)
			}
			owner[b] = s.Name
		}
	}

	switch c.Network.Transport {
	case TransportNone:
	case TransportNATS, TransportWebSocket:
		if c.Network.URL == "" {
			return invalid("network.url is required for transport %q", c.Network.Transport)
		}
	default:
		return invalid("unknown network.transport %q", c.Network.Transport)
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return invalid("metrics.address is required when metrics are enabled")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("unknown log.level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return invalid("unknown log.format %q", c.Log.Format)
	}
	return nil
}

// SchedulerFor returns the partition a block is assigned to, if any.
func (c *Config) SchedulerFor(block string) (SchedulerConfig, bool) {
	for _, s := range c.Schedulers {
		for _, b := range s.Blocks {
			if b == block {
				return s, true
			}
		}
	}
	return SchedulerConfig{}, false
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
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

// String returns a JSON representation with credentials masked.
func (c *Config) String() string {
	masked := c.Clone()
	for _, s := range []*string{&masked.Network.Password, &masked.Network.Token} {
		if *s != "" {
			*s = "***"
		}
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// SaveToFile writes the configuration as YAML or JSON depending on the
// extension of path.
func (c *Config) SaveToFile(path string) error {
	format, err := formatOf(path)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "SaveToFile", "choose format")
	}
	var data []byte
	if format == formatYAML {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return errors.Wrap(err, "Config", "SaveToFile", "encode configuration")
	}
	return writeConfigFile(path, data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "update configuration")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Loader merges configuration layers over the defaults, applies environment
// overrides and validates the result.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	getenv     func(string) string
}

// NewLoader creates a loader reading STREAMRT_* overrides.
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  EnvPrefix,
		getenv:     osGetenv,
	}
}

// AddLayer adds a configuration file layer. Later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation toggles the semantic checks. Schema validation always runs.
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
	merged, err := toMap(Default())
	if err != nil {
		return nil, errors.Wrap(err, "Loader", "Load", "encode defaults")
	}

	for _, path := range l.layers {
		layer, err := loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+path)
		}
		merged = deepMergeMaps(merged, layer)
	}

	if err := validateSchema(merged); err != nil {
		return nil, err
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"Loader", "Load", "decode configuration")
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

// Parse decodes a single YAML or JSON document over the defaults without
// touching the environment. ext may be empty to detect the format.
func Parse(data []byte, ext string) (*Config, error) {
	layer, err := decodeRaw(data, ext)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "Parse", "decode document")
	}
	merged, err := toMap(Default())
	if err != nil {
		return nil, errors.Wrap(err, "config", "Parse", "encode defaults")
	}
	merged = deepMergeMaps(merged, layer)
	if err := validateSchema(merged); err != nil {
		return nil, err
	}
	cfg, err := fromMap(merged)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"config", "Parse", "decode configuration")
	}
	return cfg, cfg.Validate()
}

func loadRaw(path string) (map[string]any, error) {
	data, format, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	return decodeRaw(data, format)
}

// decodeRaw parses a document into a JSON-compatible map. YAML is routed
// through JSON so both formats feed the same schema and merge.
func decodeRaw(data []byte, ext string) (map[string]any, error) {
	ext = strings.ToLower(ext)
	if ext == "" {
		if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
			ext = ".json"
		} else {
			ext = ".yaml"
		}
	}

	var raw map[string]any
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		normalized, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("normalize yaml: %w", err)
		}
		data = normalized
		raw = nil
	}

	if err := checkNesting(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// deepMergeMaps recursively merges two maps, with override taking
// precedence. Lists are replaced, not appended.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}

	keys := make([]string, 0, len(override))
	for k := range override {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := override[k]
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
