package config

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/c360/graphbus/errors"
)

const (
	maxConfigSize = 4 << 20
	maxJSONDepth  = 64
	maxEnvVarLen  = 8192
	maxPathLen    = 4096
)

var configExtensions = []string{".json", ".yaml", ".yml", ".toml"}

// validateConfigPath accepts config file paths with a known extension and no
// parent directory elements.
func validateConfigPath(path string) error {
	switch {
	case path == "":
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "validateConfigPath", "empty path")
	case len(path) > maxPathLen:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "validateConfigPath",
			fmt.Sprintf("path longer than %d", maxPathLen))
	}

	if slices.Contains(strings.Split(filepath.ToSlash(path), "/"), "..") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "validateConfigPath",
			"parent directory in "+path)
	}
	if !slices.Contains(configExtensions, strings.ToLower(filepath.Ext(path))) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "validateConfigPath",
			"unsupported config format "+path)
	}
	return nil
}

// safeReadFile reads a regular file of bounded size.
func safeReadFile(path string) ([]byte, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "safeReadFile", "stat "+path)
	}
	if !info.Mode().IsRegular() {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "config", "safeReadFile", "not a regular file "+path)
	}
	if info.Size() > maxConfigSize {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "config", "safeReadFile",
			fmt.Sprintf("%s is %d bytes, limit %d", path, info.Size(), maxConfigSize))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "safeReadFile", "read "+path)
	}
	return data, nil
}

// safeWriteFile writes data readable by the owner only.
func safeWriteFile(path string, data []byte) error {
	if err := validateConfigPath(path); err != nil {
		return err
	}
	if len(data) > maxConfigSize {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "safeWriteFile", "config too large")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.WrapFatal(err, "config", "safeWriteFile", "write "+path)
	}
	return nil
}

func validateEnvVar(key, value string) error {
	if len(value) > maxEnvVarLen {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "validateEnvVar", key+" too long")
	}
	if strings.ContainsRune(value, 0) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "validateEnvVar", key+" contains a null byte")
	}
	return nil
}

// validateJSONDepth walks the token stream and rejects documents nested
// deeper than maxJSONDepth before they are decoded into maps.
func validateJSONDepth(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return errors.WrapInvalid(err, "config", "validateJSONDepth", "scan document")
		}

		delim, ok := tok.(json.Delim)
		if !ok {
			continue
		}
		switch delim {
		case '{', '[':
			depth++
			if depth > maxJSONDepth {
				return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "validateJSONDepth",
					fmt.Sprintf("nesting deeper than %d", maxJSONDepth))
			}
		default:
			depth--
		}
	}
	if depth != 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "validateJSONDepth", "unclosed document")
	}
	return nil
}
