package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment variable read by Load.
	EnvPrefix = "PATTERND_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// nestedSections lists sub-sections whose environment names would otherwise be
// ambiguous: PATTERND_SEARCH_EMBEDDINGS_MODEL is search.embeddings.model.
var nestedSections = map[string][]string{
	"search":  {"embeddings"},
	"logging": {"sampling", "redaction"},
}

// Load reads configuration from the YAML file at configPath, then overrides
// it with environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (PATTERND_SERVER_HTTP_PORT, PATTERND_PRUNER_SCHEDULE, ...)
//  2. YAML config file (~/.config/patternd/config.yaml)
//  3. Default()
//
// An empty configPath uses the default path. A missing file is not an error.
//
// # Security Considerations
//
// The file must live under ~/.config/patternd/ or /etc/patternd/, be readable
// only by its owner (0600 or 0400), and be at most 1MB.
//
// # Environment Variable Mapping
//
// The prefix is stripped and the first underscore separates the section from
// the field:
//
//	PATTERND_SERVER_HTTP_PORT            -> server.http_port
//	PATTERND_CONFIDENCE_FAILURE_DELTA    -> confidence.failure_delta
//	PATTERND_SEARCH_EMBEDDINGS_BASE_URL  -> search.embeddings.base_url
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	content, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps PATTERND_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	section, field := parts[0], parts[1]
	for _, sub := range nestedSections[section] {
		if strings.HasPrefix(field, sub+"_") {
			return section + "." + sub + "." + strings.TrimPrefix(field, sub+"_")
		}
	}
	return section + "." + field
}

// readConfigFile returns the file content, or nil if the file does not exist.
// The file is opened once and validated through its descriptor.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// Dir returns the user's patternd config directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "patternd"), nil
}

// EnsureDir creates the config directory with 0700 permissions.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// validateConfigPath checks that path is inside an allowed directory. It runs
// even if the file does not exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(ExpandHome(path))
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	// Resolve symlinks so a link cannot escape the allowed directories.
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolved = absPath
	}

	userDir, err := Dir()
	if err != nil {
		return err
	}
	if r, err := filepath.EvalSymlinks(userDir); err == nil {
		userDir = r
	}
	for _, dir := range []string{userDir, "/etc/patternd"} {
		if resolved == dir || strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/patternd/ or /etc/patternd/, got %s", resolved)
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0o600 && perm != 0o400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
