// Package config loads streamrt runtime configuration.
//
// A configuration is built from the defaults, then zero or more YAML or JSON
// file layers (later layers win, maps merge, lists replace), then STREAMRT_*
// environment overrides. The merged document is checked against an embedded
// JSON schema before it is decoded, and Config.Validate adds the checks a
// schema cannot express (unique partition names, a block in at most one
// partition, a URL for the selected network transport).
//
//	loader := config.NewLoader()
//	loader.AddLayer("streamrt.yaml")
//	loader.AddLayer("streamrt.local.yaml")
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//	opts := runtime.OptionsFromConfig(cfg)
//
// Durations accept Go duration strings ("250ms") or integer nanoseconds.
//
// # Environment overrides
//
//	STREAMRT_RUNTIME_DEFAULT_BACKEND  STREAMRT_RUNTIME_BUFFER_BYTES
//	STREAMRT_RUNTIME_WORKERS          STREAMRT_RUNTIME_MAX_NOUTPUT
//	STREAMRT_RUNTIME_POLL_INTERVAL    STREAMRT_RUNTIME_STOP_TIMEOUT
//	STREAMRT_NETWORK_TRANSPORT        STREAMRT_NETWORK_URL
//	STREAMRT_NETWORK_SUBJECT_PREFIX   STREAMRT_NETWORK_MAX_RECONNECTS
//	STREAMRT_NETWORK_RECONNECT_WAIT   STREAMRT_NETWORK_USERNAME
//	STREAMRT_NETWORK_PASSWORD         STREAMRT_NETWORK_TOKEN
//	STREAMRT_METRICS_ENABLED          STREAMRT_METRICS_ADDRESS
//	STREAMRT_METRICS_PATH             STREAMRT_LOG_LEVEL
//	STREAMRT_LOG_FORMAT
//
// SafeConfig wraps a Config for concurrent readers; Get returns a deep copy
// and Update validates before swapping.
package config
