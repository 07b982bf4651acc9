package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	maxFileSize  = 1 << 20 // config files are small; anything larger is a mistake
	maxNesting   = 32
	maxEnvVarLen = 4096
	maxPathLen   = 4096
)

// checkPath rejects empty, oversized, or escaping paths and unknown extensions.
func checkPath(path string) error {
	if path == "" {
		return errors.New("empty config path")
	}
	if len(path) > maxPathLen {
		return fmt.Errorf("path too long: %d > %d", len(path), maxPathLen)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
	default:
		return fmt.Errorf("unsupported config file extension: %s", path)
	}

	if filepath.IsAbs(path) {
		return nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	rel, err := filepath.Rel(cwd, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("relative path escapes working directory: %s", path)
	}
	return nil
}

func safeReadFile(path string) ([]byte, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes", info.Size())
	}
	return os.ReadFile(path)
}

// safeWriteFile writes owner-only, since configs may carry NATS credentials.
func safeWriteFile(path string, data []byte) error {
	if err := checkPath(path); err != nil {
		return err
	}
	if len(data) > maxFileSize {
		return fmt.Errorf("config too large: %d bytes", len(data))
	}
	return os.WriteFile(path, data, 0o600)
}

func validateEnvVar(key, value string) error {
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("%s too long: %d > %d", key, len(value), maxEnvVarLen)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("%s contains a NUL byte", key)
	}
	return nil
}

// validateJSONDepth scans brackets outside string literals and rejects
// documents nested deeper than maxNesting.
func validateJSONDepth(data []byte) error {
	var (
		depth    int
		inString bool
		escaped  bool
	)
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
			if depth > maxNesting {
				return fmt.Errorf("nesting too deep: more than %d levels", maxNesting)
			}
		case b == '}' || b == ']':
			depth--
			if depth < 0 {
				return errors.New("unbalanced brackets")
			}
		}
	}
	if depth != 0 {
		return errors.New("unclosed brackets")
	}
	return nil
}
