package holocron

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/holocron-labs/holocron/storage"
)

//go:embed config.schema.json
var configSchemaJSON string

var (
	configSchemaOnce sync.Once
	configSchema     *jsonschema.Schema
	configSchemaErr  error
)

func compiledConfigSchema() (*jsonschema.Schema, error) {
	configSchemaOnce.Do(func() {
		configSchema, configSchemaErr = jsonschema.CompileString("config.schema.json", configSchemaJSON)
	})
	return configSchema, configSchemaErr
}

// LoadConfig reads and parses a config file from the given path.
// Supported formats: JSON (.json), YAML (.yaml, .yml).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}

	return &cfg, nil
}

// ValidateConfig validates a Config for correctness: first against the
// embedded JSON schema, then the rules the schema cannot express.
func ValidateConfig(cfg Config) error {
	schema, err := compiledConfigSchema()
	if err != nil {
		return fmt.Errorf("compiling config schema: %w", err)
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("config does not match schema: %w", err)
	}

	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("base_url %q is not an absolute URL", cfg.BaseURL)
		}
	}

	if cfg.Storage.Driver == storage.DriverPostgres && strings.TrimSpace(cfg.Storage.DSN) == "" {
		return fmt.Errorf("storage driver %q requires a dsn", cfg.Storage.Driver)
	}
	if cfg.FetchLog.Driver == "postgres" && strings.TrimSpace(cfg.FetchLog.DSN) == "" {
		return fmt.Errorf("fetch_log driver %q requires a dsn", cfg.FetchLog.Driver)
	}

	for name, rl := range map[string]*RateLimitConfig{
		"rate_limit":        cfg.RateLimit,
		"client_rate_limit": cfg.ClientRateLimit,
	} {
		if rl != nil && rl.Burst > 0 && rl.Burst < 1 {
			return fmt.Errorf("%s burst must be at least 1, got %v", name, rl.Burst)
		}
	}

	return nil
}
