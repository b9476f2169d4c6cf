package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"invoicely/internal/domain"
)

// marshalIndent and writeFile are used by WriteDefault and Save; tests may replace to force errors.
var (
	marshalIndent = json.MarshalIndent
	writeFile     = os.WriteFile
)

// Default returns the configuration used when a field is left unset.
func Default() *domain.Config {
	return &domain.Config{
		Gateway: domain.GatewayConfig{
			Port:           8080,
			AllowedOrigins: []string{},
		},
		WhatsApp: domain.WhatsAppConfig{
			SessionDB:        "whatsapp.db",
			ConnectOnStart:   true,
			PrintQR:          false,
			PairingTimeout:   0,
			WatchdogInterval: 30,
		},
		Mirror: domain.MirrorConfig{
			Driver:         domain.MirrorDriverSQL,
			URL:            "file:invoicely.db",
			Table:          "settings",
			Timeout:        5000,
			FallbackOnBoot: true,
		},
		Infra: domain.InfraConfig{LogFormat: "text", LogLevel: "info"},
	}
}

// WriteDefault writes a default Config to path (e.g. invoicely.json). YAML is
// written when the extension is .yaml or .yml.
func WriteDefault(path string) error {
	return Save(path, Default())
}

// Load reads path (JSON or YAML by extension) over Default, so omitted fields
// keep their default values, then applies INVOICELY_* environment overrides
// and cleans path fields.
// Returns error if the file is missing or cannot be parsed.
func Load(path string) (*domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	c := Default()
	if isYAML(path) {
		err = yaml.Unmarshal(data, c)
	} else {
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return nil, fmt.Errorf("config parse: %w", err)
	}
	ApplyDefaults(c)
	if err := ParseEnv(c); err != nil {
		return nil, err
	}
	CleanPaths(c)
	if err := Validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults with
// environment overrides applied. The bool reports whether the file existed.
func LoadOrDefault(path string) (*domain.Config, bool, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	cfg = Default()
	if err := ParseEnv(cfg); err != nil {
		return nil, false, err
	}
	CleanPaths(cfg)
	if err := Validate(cfg); err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// ApplyDefaults replaces explicitly emptied fields that have no meaningful
// zero value. Port 0 is kept: the gateway then binds a random port.
func ApplyDefaults(cfg *domain.Config) {
	if cfg == nil {
		return
	}
	d := Default()
	if cfg.WhatsApp.SessionDB == "" {
		cfg.WhatsApp.SessionDB = d.WhatsApp.SessionDB
	}
	if cfg.WhatsApp.WatchdogInterval <= 0 {
		cfg.WhatsApp.WatchdogInterval = d.WhatsApp.WatchdogInterval
	}
	if cfg.Mirror.Driver == "" {
		cfg.Mirror.Driver = d.Mirror.Driver
	}
	if cfg.Mirror.URL == "" {
		cfg.Mirror.URL = d.Mirror.URL
	}
	if cfg.Mirror.Table == "" {
		cfg.Mirror.Table = d.Mirror.Table
	}
	if cfg.Mirror.Timeout <= 0 {
		cfg.Mirror.Timeout = d.Mirror.Timeout
	}
	if cfg.Infra.LogFormat == "" {
		cfg.Infra.LogFormat = d.Infra.LogFormat
	}
	if cfg.Infra.LogLevel == "" {
		cfg.Infra.LogLevel = d.Infra.LogLevel
	}
}

// Validate rejects configurations the server cannot start with.
func Validate(cfg *domain.Config) error {
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		return fmt.Errorf("config: gateway port %d out of range", cfg.Gateway.Port)
	}
	switch cfg.Mirror.Driver {
	case domain.MirrorDriverSQL:
	case domain.MirrorDriverSupabase:
		if cfg.Mirror.SupabaseURL == "" || cfg.Mirror.SupabaseKey == "" {
			return fmt.Errorf("config: supabase mirror requires supabaseUrl and supabaseKey")
		}
	default:
		return fmt.Errorf("config: unknown mirror driver %q", cfg.Mirror.Driver)
	}
	if cfg.WhatsApp.PairingTimeout < 0 {
		return fmt.Errorf("config: pairingTimeout must be >= 0")
	}
	return nil
}

// CleanPaths applies filepath.Clean to the session database path.
func CleanPaths(cfg *domain.Config) {
	if cfg == nil {
		return
	}
	cfg.WhatsApp.SessionDB = filepath.Clean(cfg.WhatsApp.SessionDB)
}

// Save writes cfg to path as JSON, or YAML for .yaml/.yml paths.
func Save(path string, cfg *domain.Config) error {
	if cfg == nil {
		return fmt.Errorf("config save: nil config")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("config save mkdir: %w", err)
	}
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = marshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("config save marshal: %w", err)
	}
	if err := writeFile(path, data, 0644); err != nil {
		return fmt.Errorf("config save write: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
