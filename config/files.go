package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360/trafficstreams/errors"
)

// Limits applied to everything the loader reads.
const (
	maxFileSize  = 1 << 20
	maxJSONDepth = 64
	maxEnvLen    = 4096
)

// readConfigFile reads a JSON or YAML config file after checking its extension,
// size and type. Relative paths may not climb above the working directory.
func readConfigFile(path string) ([]byte, error) {
	if err := checkConfigPath(path); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "readConfigFile", "check path")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "readConfigFile", "stat "+path)
	}
	if !info.Mode().IsRegular() {
		return nil, errors.WrapInvalid(fmt.Errorf("%s is not a regular file", path), "Loader", "readConfigFile", "stat "+path)
	}
	if info.Size() > maxFileSize {
		return nil, errors.WrapInvalid(fmt.Errorf("%d bytes exceeds %d", info.Size(), maxFileSize),
			"Loader", "readConfigFile", "size check "+path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "readConfigFile", "read "+path)
	}
	return data, nil
}

// writeConfigFile writes data owner-readable only.
func writeConfigFile(path string, data []byte) error {
	if err := checkConfigPath(path); err != nil {
		return errors.WrapInvalid(err, "Config", "SaveToFile", "check path")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(err, "Config", "SaveToFile", "write "+path)
	}
	return nil
}

func checkConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("empty config path")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
	default:
		return fmt.Errorf("unsupported config file type %q", filepath.Ext(path))
	}
	if !filepath.IsAbs(path) {
		clean := filepath.Clean(path)
		if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return fmt.Errorf("%s resolves outside the working directory", path)
		}
	}
	return nil
}

// checkJSONDepth rejects documents nested deeper than maxJSONDepth. It only
// counts brackets outside strings; json.Unmarshal reports any other syntax error.
func checkJSONDepth(data []byte) error {
	depth := 0
	inString, escaped := false, false
	for _, b := range data {
		switch {
		case escaped:
			escaped = false
		case inString && b == '\\':
			escaped = true
		case b == '"':
			inString = !inString
		case inString:
		case b == '{' || b == '[':
			depth++
			if depth > maxJSONDepth {
				return fmt.Errorf("nesting deeper than %d", maxJSONDepth)
			}
		case b == '}' || b == ']':
			depth--
		}
	}
	return nil
}

func checkEnvValue(key, value string) error {
	if len(value) > maxEnvLen {
		return fmt.Errorf("%s is %d bytes, limit %d", key, len(value), maxEnvLen)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("%s contains a NUL byte", key)
	}
	return nil
}
