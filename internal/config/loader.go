package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024

// sections are the top-level keys that SECTION_FIELD variables may address.
var sections = map[string]bool{
	"server":    true,
	"providers": true,
	"batch":     true,
	"progress":  true,
	"artifacts": true,
	"logging":   true,
	"telemetry": true,
}

// credentialEnv maps the conventional vendor variables onto config keys.
var credentialEnv = map[string]string{
	"OPENAI_API_KEY":     "providers.openai.api_key",
	"OPENAI_BASE_URL":    "providers.openai.base_url",
	"ANTHROPIC_API_KEY":  "providers.anthropic.api_key",
	"ANTHROPIC_BASE_URL": "providers.anthropic.base_url",
	"GOOGLE_API_KEY":     "providers.google.api_key",
	"GEMINI_API_KEY":     "providers.google.api_key",
	"GOOGLE_BASE_URL":    "providers.google.base_url",
}

// Load reads configuration with the precedence defaults < YAML file < environment.
//
// A .env file in the working directory is merged into the process environment
// first; variables that are already set win. When configPath is empty the
// default ~/.config/recd/config.yaml is used if it exists.
//
// Environment variables map SECTION_FIELD to section.field:
//
//	SERVER_PORT          -> server.port
//	BATCH_MAX_ATTEMPTS   -> batch.max_attempts
//	PROGRESS_NATS_URL    -> progress.nats_url
//	OPENAI_API_KEY       -> providers.openai.api_key
func Load(configPath string) (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	k := koanf.New(".")

	if configPath == "" {
		configPath = DefaultPath()
	}
	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
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

// LoadDotEnv merges a dotenv file into the environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// DefaultPath returns ~/.config/recd/config.yaml, or "" when HOME is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "recd", "config.yaml")
}

// envKey transforms an environment variable name into a koanf key.
// Variables outside the known sections return "" and are skipped.
func envKey(s string) string {
	if key, ok := credentialEnv[s]; ok {
		return key
	}

	lower := strings.ToLower(s)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) != 2 || !sections[parts[0]] {
		return ""
	}

	section, field := parts[0], parts[1]
	if section == "providers" {
		// PROVIDERS_OPENAI_BASE_URL -> providers.openai.base_url
		for _, name := range []string{"openai", "anthropic", "google"} {
			if rest, ok := strings.CutPrefix(field, name+"_"); ok {
				return section + "." + name + "." + rest
			}
		}
	}
	return section + "." + field
}

// readConfigFile returns nil content when the file does not exist.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFile(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigFile rejects oversized and group/world writable files.
func validateConfigFile(info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", info.Name())
	}
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o022 != 0 {
			return fmt.Errorf("insecure config file permissions: %v (must not be group or world writable)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
