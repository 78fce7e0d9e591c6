package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c360/streamrt/errors"
)

// EnvPrefix is prepended to every override variable.
const EnvPrefix = "STREAMRT"

var osGetenv = os.Getenv

// WithEnv replaces the environment lookup, mainly for tests.
func (l *Loader) WithEnv(getenv func(string) string) *Loader {
	if getenv != nil {
		l.getenv = getenv
	}
	return l
}

// applyEnvOverrides applies STREAMRT_* variables on top of the merged file
// layers.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	get := func(name string) (string, bool, error) {
		key := l.envPrefix + "_" + name
		val := l.getenv(key)
		if err := checkEnvValue(key, val); err != nil {
			return "", false, errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "read "+key)
		}
		return val, val != "", nil
	}

	strs := []struct {
		name string
		dst  *string
	}{
		{"RUNTIME_DEFAULT_BACKEND", &cfg.Runtime.DefaultBackend},
		{"NETWORK_TRANSPORT", &cfg.Network.Transport},
		{"NETWORK_URL", &cfg.Network.URL},
		{"NETWORK_SUBJECT_PREFIX", &cfg.Network.SubjectPrefix},
		{"NETWORK_USERNAME", &cfg.Network.Username},
		{"NETWORK_PASSWORD", &cfg.Network.Password},
		{"NETWORK_TOKEN", &cfg.Network.Token},
		{"METRICS_ADDRESS", &cfg.Metrics.Address},
		{"METRICS_PATH", &cfg.Metrics.Path},
		{"LOG_LEVEL", &cfg.Log.Level},
		{"LOG_FORMAT", &cfg.Log.Format},
	}
	for _, s := range strs {
		val, ok, err := get(s.name)
		if err != nil {
			return err
		}
		if ok {
			*s.dst = val
		}
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"RUNTIME_BUFFER_BYTES", &cfg.Runtime.BufferBytes},
		{"RUNTIME_WORKERS", &cfg.Runtime.Workers},
		{"RUNTIME_MAX_NOUTPUT", &cfg.Runtime.MaxNOutput},
		{"NETWORK_MAX_RECONNECTS", &cfg.Network.MaxReconnects},
	}
	for _, s := range ints {
		val, ok, err := get(s.name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return envError(s.name, val, err)
		}
		*s.dst = n
	}

	durations := []struct {
		name string
		dst  *Duration
	}{
		{"RUNTIME_POLL_INTERVAL", &cfg.Runtime.PollInterval},
		{"RUNTIME_STOP_TIMEOUT", &cfg.Runtime.StopTimeout},
		{"NETWORK_RECONNECT_WAIT", &cfg.Network.ReconnectWait},
	}
	for _, s := range durations {
		val, ok, err := get(s.name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(val))
		if err != nil {
			return envError(s.name, val, err)
		}
		*s.dst = Duration(d)
	}

	val, ok, err := get("METRICS_ENABLED")
	if err != nil {
		return err
	}
	if ok {
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			return envError("METRICS_ENABLED", val, err)
		}
		cfg.Metrics.Enabled = b
	}
	return nil
}

func envError(name, val string, err error) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s_%s=%q: %v", errors.ErrInvalidConfig, EnvPrefix, name, val, err),
		"Loader", "applyEnvOverrides", "parse environment override")
}
