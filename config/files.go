package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Limits on what the loader accepts.
const (
	maxFileBytes = 10 << 20
	maxNesting   = 64
	maxEnvValue  = 10000
	maxPathBytes = 4096
)

// Document formats, named by their canonical extension.
const (
	formatJSON = ".json"
	formatYAML = ".yaml"
)

// formatOf maps a config file name to its document format.
func formatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	default:
		return "", fmt.Errorf("only JSON or YAML config files allowed: %s", path)
	}
}

// checkPath rejects empty, oversized and parent-relative paths and returns
// the document format.
func checkPath(path string) (string, error) {
	switch {
	case path == "":
		return "", fmt.Errorf("empty config path")
	case len(path) > maxPathBytes:
		return "", fmt.Errorf("config path longer than %d bytes", maxPathBytes)
	case slices.Contains(strings.Split(filepath.ToSlash(path), "/"), ".."):
		return "", fmt.Errorf("config path %s must not contain '..'", path)
	}
	return formatOf(path)
}

// readConfigFile reads a regular file of bounded size.
func readConfigFile(path string) ([]byte, string, error) {
	format, err := checkPath(path)
	if err != nil {
		return nil, "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, "", fmt.Errorf("stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, "", fmt.Errorf("%s is not a regular file", path)
	}

	data, err := io.ReadAll(io.LimitReader(f, maxFileBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read config file: %w", err)
	}
	if len(data) > maxFileBytes {
		return nil, "", fmt.Errorf("config file %s exceeds %d bytes", path, maxFileBytes)
	}
	return data, format, nil
}

// writeConfigFile writes data readable by the owner only.
func writeConfigFile(path string, data []byte) error {
	if _, err := checkPath(path); err != nil {
		return err
	}
	if len(data) > maxFileBytes {
		return fmt.Errorf("config data exceeds %d bytes", maxFileBytes)
	}
	return os.WriteFile(path, data, 0600)
}

// checkEnvValue bounds the length of an override and rejects NUL bytes.
func checkEnvValue(key, value string) error {
	if len(value) > maxEnvValue {
		return fmt.Errorf("environment variable %s longer than %d bytes", key, maxEnvValue)
	}
	if strings.IndexByte(value, 0) >= 0 {
		return fmt.Errorf("null byte in environment variable %s", key)
	}
	return nil
}

// checkNesting walks the JSON token stream and fails once objects and
// arrays nest deeper than maxNesting.
func checkNesting(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("malformed JSON: %w", err)
		}
		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
			if depth > maxNesting {
				return fmt.Errorf("JSON nesting deeper than %d", maxNesting)
			}
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
}
