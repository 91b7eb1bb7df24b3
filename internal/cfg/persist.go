package cfg

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Marshal encodes c as an indented JSON document, or as YAML when path has a
// .yaml or .yml extension. A nil trading schedule is written as an empty
// mapping so it reads back as "no trading days" rather than the defaults.
func Marshal(c Config, path string) ([]byte, error) {
	if c.Trading.TradingHours == nil {
		c.Trading.TradingHours = map[string][]string{}
	}
	if isYAML(path) {
		return yaml.Marshal(c)
	}
	data, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Save writes c to path. The file is replaced atomically so a failed write
// never leaves a truncated document behind.
func Save(c Config, path string) error {
	data, err := Marshal(c, path)
	if err != nil {
		return &ConfigError{Op: "save", Path: path, Err: fmt.Errorf("encode: %w", err)}
	}
	if err := writeFileAtomic(path, data, 0o600); err != nil {
		return &ConfigError{Op: "save", Path: path, Err: err}
	}
	return nil
}

// Load reads the document at path and merges it onto Default(). The result
// is validated before it is returned.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &ConfigError{Op: "load", Path: path, Err: err}
	}

	var p Patch
	if isYAML(path) {
		p, err = ParseYAMLPatch(data)
	} else {
		p, err = ParsePatch(data)
	}
	if err != nil {
		return Config{}, &ConfigError{Op: "load", Path: path, Err: err}
	}

	c, err := Default().Apply(p)
	if err != nil {
		return Config{}, &ConfigError{Op: "load", Path: path, Err: err}
	}
	return c, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
