package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamrt/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func noEnv(string) string { return "" }

func TestLoader_Defaults(t *testing.T) {
	cfg, err := NewLoader().WithEnv(noEnv).Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultBackend, cfg.Runtime.DefaultBackend)
	assert.Equal(t, DefaultBufferBytes, cfg.Runtime.BufferBytes)
	assert.Equal(t, DefaultPollInterval, cfg.Runtime.PollInterval.Std())
	assert.Equal(t, DefaultStopTimeout, cfg.Runtime.StopTimeout.Std())
	assert.Equal(t, -1, cfg.Network.MaxReconnects)
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Path)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoader_YAML(t *testing.T) {
	path := writeFile(t, "streamrt.yaml", `
runtime:
  buffer_bytes: 65536
  workers: 4
  poll_interval: 10ms
schedulers:
  - name: rx
    workers: 2
    cpus: [0, 1]
    blocks: [src, copy]
network:
  transport: nats
  url: nats://localhost:4222
log:
  level: debug
  format: json
`)

	cfg, err := NewLoader().WithEnv(noEnv).LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 65536, cfg.Runtime.BufferBytes)
	assert.Equal(t, 4, cfg.Runtime.Workers)
	assert.Equal(t, 10*time.Millisecond, cfg.Runtime.PollInterval.Std())
	assert.Equal(t, DefaultStopTimeout, cfg.Runtime.StopTimeout.Std(), "unset fields keep defaults")
	require.Len(t, cfg.Schedulers, 1)
	assert.Equal(t, []int{0, 1}, cfg.Schedulers[0].CPUs)
	assert.Equal(t, TransportNATS, cfg.Network.Transport)
	assert.Equal(t, DefaultSubjectPrefix, cfg.Network.SubjectPrefix)
	assert.Equal(t, "json", cfg.Log.Format)

	s, ok := cfg.SchedulerFor("copy")
	require.True(t, ok)
	assert.Equal(t, "rx", s.Name)
	_, ok = cfg.SchedulerFor("sink")
	assert.False(t, ok)
}

func TestLoader_JSONLayers(t *testing.T) {
	base := writeFile(t, "base.json", `{
		"runtime": {"buffer_bytes": 4096, "stop_timeout": "1s"},
		"metrics": {"enabled": true, "address": ":9100"}
	}`)
	override := writeFile(t, "override.yml", `
runtime:
  stop_timeout: 3000000000
metrics:
  path: /prom
`)

	l := NewLoader().WithEnv(noEnv)
	l.AddLayer(base)
	l.AddLayer(override)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 4096, cfg.Runtime.BufferBytes)
	assert.Equal(t, 3*time.Second, cfg.Runtime.StopTimeout.Std())
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9100", cfg.Metrics.Address)
	assert.Equal(t, "/prom", cfg.Metrics.Path)
}

func TestLoader_SchemaRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown section", "bogus: {}\n"},
		{"unknown field", "runtime:\n  buffer_size: 10\n"},
		{"negative workers", "runtime:\n  workers: -2\n"},
		{"bad duration", "runtime:\n  poll_interval: soon\n"},
		{"bad transport", "network:\n  transport: carrier-pigeon\n"},
		{"scheduler without name", "schedulers:\n  - workers: 1\n"},
		{"bad metrics path", "metrics:\n  path: metrics\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "bad.yaml", tt.doc)
			_, err := NewLoader().WithEnv(noEnv).LoadFile(path)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestLoader_RejectsPaths(t *testing.T) {
	_, err := NewLoader().WithEnv(noEnv).LoadFile(writeFile(t, "cfg.toml", "x = 1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only JSON or YAML")

	_, err = NewLoader().WithEnv(noEnv).LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate_Semantic(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"min above max", func(c *Config) { c.Runtime.MinBufferItems, c.Runtime.MaxBufferItems = 10, 5 }, "min_buffer_items"},
		{"duplicate scheduler", func(c *Config) {
			c.Schedulers = []SchedulerConfig{{Name: "a"}, {Name: "a"}}
		}, "declared twice"},
		{"block in two partitions", func(c *Config) {
			c.Schedulers = []SchedulerConfig{{Name: "a", Blocks: []string{"x"}}, {Name: "b", Blocks: []string{"x"}}}
		}, "assigned to both"},
		{"transport without url", func(c *Config) { c.Network.Transport = TransportWebSocket }, "network.url"},
		{"metrics without address", func(c *Config) { c.Metrics.Enabled, c.Metrics.Address = true, "" }, "metrics.address"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	require.NoError(t, Default().Validate())
}

func TestLoader_EnvOverrides(t *testing.T) {
	env := map[string]string{
		"STREAMRT_RUNTIME_WORKERS":       "3",
		"STREAMRT_RUNTIME_POLL_INTERVAL": "5ms",
		"STREAMRT_NETWORK_TRANSPORT":     "nats",
		"STREAMRT_NETWORK_URL":           "nats://broker:4222",
		"STREAMRT_METRICS_ENABLED":       "true",
		"STREAMRT_LOG_LEVEL":             "warn",
	}
	cfg, err := NewLoader().WithEnv(func(k string) string { return env[k] }).Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Runtime.Workers)
	assert.Equal(t, 5*time.Millisecond, cfg.Runtime.PollInterval.Std())
	assert.Equal(t, "nats://broker:4222", cfg.Network.URL)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "warn", cfg.Log.Level)

	env = map[string]string{"STREAMRT_RUNTIME_WORKERS": "many"}
	_, err = NewLoader().WithEnv(func(k string) string { return env[k] }).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STREAMRT_RUNTIME_WORKERS")

	env = map[string]string{"STREAMRT_LOG_FORMAT": "js\x00on"}
	_, err = NewLoader().WithEnv(func(k string) string { return env[k] }).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null byte")
}

func TestParse_DetectsFormat(t *testing.T) {
	cfg, err := Parse([]byte(`{"runtime": {"workers": 2}}`), "")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Runtime.Workers)

	cfg, err = Parse([]byte("runtime:\n  workers: 5\n"), "")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Runtime.Workers)
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Runtime.Workers = 6
	cfg.Schedulers = []SchedulerConfig{{Name: "dsp", CPUs: []int{2}, Blocks: []string{"fir"}}}

	for _, name := range []string{"out.yaml", "out.json"} {
		path := filepath.Join(t.TempDir(), name)
		require.NoError(t, cfg.SaveToFile(path))

		loaded, err := NewLoader().WithEnv(noEnv).LoadFile(path)
		require.NoError(t, err, name)
		assert.Equal(t, cfg, loaded, name)
	}
}

func TestConfig_StringMasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.Network.Password = "hunter2"
	cfg.Network.Token = "tok"

	s := cfg.String()
	assert.NotContains(t, s, "hunter2")
	assert.NotContains(t, s, "\"tok\"")
	assert.Equal(t, "hunter2", cfg.Network.Password, "String must not mutate the receiver")
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(nil)
	assert.Equal(t, DefaultBackend, sc.Get().Runtime.DefaultBackend)

	got := sc.Get()
	got.Runtime.Workers = 99
	assert.Zero(t, sc.Get().Runtime.Workers, "Get returns a copy")

	bad := Default()
	bad.Log.Level = "nope"
	require.Error(t, sc.Update(bad))
	require.Error(t, sc.Update(nil))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			next := Default()
			next.Runtime.Workers = n
			assert.NoError(t, sc.Update(next))
		}(i + 1)
		go func() {
			defer wg.Done()
			_ = sc.Get().Runtime.Workers
		}()
	}
	wg.Wait()
	assert.Positive(t, sc.Get().Runtime.Workers)
}

func TestCheckNesting(t *testing.T) {
	require.NoError(t, checkNesting([]byte(`{"a": [1, {"b": "}}]]"}]}`)))

	deep := strings.Repeat("[", maxNesting+1) + strings.Repeat("]", maxNesting+1)
	assert.ErrorContains(t, checkNesting([]byte(deep)), "nesting deeper")
	assert.ErrorContains(t, checkNesting([]byte(`{"a": [}`)), "malformed")
}

func TestCheckPath(t *testing.T) {
	_, err := checkPath("../etc/streamrt.yaml")
	assert.Error(t, err)
	_, err = checkPath("")
	assert.Error(t, err)

	format, err := checkPath("conf/streamrt.yml")
	require.NoError(t, err)
	assert.Equal(t, formatYAML, format)
}
