// Package config handles layered YAML configuration with environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the project-local config file.
const FileName = "contactbook.yaml"

// Config holds all contactbook configuration.
type Config struct {
	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	Storage  Storage  `yaml:"storage"`
	Auth     Auth     `yaml:"auth"`
	Log      Log      `yaml:"log"`
	Client   Client   `yaml:"client"`
}

// Server holds listener settings.
type Server struct {
	Addr      string `yaml:"addr"`
	TLSCert   string `yaml:"tls_cert"`
	TLSKey    string `yaml:"tls_key"`
	PublicURL string `yaml:"public_url"` // Base of the download URLs handed out
}

// Database holds the SQLite settings.
type Database struct {
	Path     string `yaml:"path"`
	PoolSize int    `yaml:"pool_size"`
}

// Storage holds the image bucket settings.
type Storage struct {
	Dir           string `yaml:"dir"`
	Encrypt       bool   `yaml:"encrypt"`
	MasterKeyFile string `yaml:"master_key_file"`
}

// Auth holds account settings.
type Auth struct {
	SessionTTL        time.Duration `yaml:"session_ttl"`
	MinPasswordLength int           `yaml:"min_password_length"`
}

// Log holds logger settings.
type Log struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Client holds terminal client settings.
type Client struct {
	ServerURL   string `yaml:"server_url"`
	SessionFile string `yaml:"session_file"` // Empty means <config dir>/session.json
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: Server{
			Addr:      ":8080",
			PublicURL: "http://localhost:8080",
		},
		Database: Database{
			Path:     "data/contactbook.db",
			PoolSize: 4,
		},
		Storage: Storage{
			Dir:           "data/files",
			MasterKeyFile: "data/master.key",
		},
		Auth: Auth{
			SessionTTL:        30 * 24 * time.Hour,
			MinPasswordLength: 6,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Client: Client{
			ServerURL: "http://localhost:8080",
		},
	}
}

// DefaultPaths returns the config files in increasing priority: the user
// config, then the project file in the working directory.
func DefaultPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "contactbook", "config.yaml"))
	}
	return append(paths, FileName)
}

// Load reads defaults, the given layers and the environment, then
// validates the result.
func Load(paths ...string) (*Config, error) {
	cfg, err := LoadLayered(paths...)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadLayered loads config from multiple paths with increasing priority.
// Later paths override earlier ones. Missing files are skipped.
func LoadLayered(paths ...string) (*Config, error) {
	cfg := DefaultConfig()

	for _, path := range paths {
		layer, err := loadLayer(path)
		if err != nil {
			return nil, err
		}
		if layer == nil {
			continue
		}
		cfg.merge(layer)
	}

	return &cfg, nil
}

// Validate checks that config values are usable.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("config: server.addr cannot be empty")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("config: server.tls_cert and server.tls_key must be set together")
	}
	if err := checkURL("server.public_url", c.Server.PublicURL); err != nil {
		return err
	}
	if c.Database.Path == "" {
		return errors.New("config: database.path cannot be empty")
	}
	if c.Database.PoolSize < 1 {
		return fmt.Errorf("config: database.pool_size must be positive, got %d", c.Database.PoolSize)
	}
	if c.Storage.Dir == "" {
		return errors.New("config: storage.dir cannot be empty")
	}
	if c.Storage.Encrypt && c.Storage.MasterKeyFile == "" {
		return errors.New("config: storage.master_key_file is required when storage.encrypt is set")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("config: auth.session_ttl must be positive, got %v", c.Auth.SessionTTL)
	}
	if c.Auth.MinPasswordLength < 1 {
		return fmt.Errorf("config: auth.min_password_length must be positive, got %d", c.Auth.MinPasswordLength)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format must be \"text\" or \"json\", got %q", c.Log.Format)
	}
	return checkURL("client.server_url", c.Client.ServerURL)
}

func checkURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: %s must be an http(s) URL, got %q", field, raw)
	}
	return nil
}

// ApplyEnv applies environment variable overrides to the config.
// Supported variables: CONTACTBOOK_ADDR, CONTACTBOOK_PUBLIC_URL,
// CONTACTBOOK_DB_PATH, CONTACTBOOK_STORAGE_DIR, CONTACTBOOK_ENCRYPT,
// CONTACTBOOK_MASTER_KEY_FILE, CONTACTBOOK_SESSION_TTL,
// CONTACTBOOK_LOG_LEVEL, CONTACTBOOK_LOG_FORMAT, CONTACTBOOK_SERVER_URL.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"CONTACTBOOK_ADDR":            &c.Server.Addr,
		"CONTACTBOOK_PUBLIC_URL":      &c.Server.PublicURL,
		"CONTACTBOOK_DB_PATH":         &c.Database.Path,
		"CONTACTBOOK_STORAGE_DIR":     &c.Storage.Dir,
		"CONTACTBOOK_MASTER_KEY_FILE": &c.Storage.MasterKeyFile,
		"CONTACTBOOK_LOG_LEVEL":       &c.Log.Level,
		"CONTACTBOOK_LOG_FORMAT":      &c.Log.Format,
		"CONTACTBOOK_SERVER_URL":      &c.Client.ServerURL,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("CONTACTBOOK_ENCRYPT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: invalid CONTACTBOOK_ENCRYPT %q: %w", v, err)
		}
		c.Storage.Encrypt = b
	}
	if v := os.Getenv("CONTACTBOOK_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: invalid CONTACTBOOK_SESSION_TTL %q: %w", v, err)
		}
		c.Auth.SessionTTL = d
	}
	return nil
}

// rawConfig mirrors Config but uses pointers to distinguish set vs unset fields.
type rawConfig struct {
	Server   *rawServer   `yaml:"server"`
	Database *rawDatabase `yaml:"database"`
	Storage  *rawStorage  `yaml:"storage"`
	Auth     *rawAuth     `yaml:"auth"`
	Log      *rawLog      `yaml:"log"`
	Client   *rawClient   `yaml:"client"`
}

type rawServer struct {
	Addr      *string `yaml:"addr"`
	TLSCert   *string `yaml:"tls_cert"`
	TLSKey    *string `yaml:"tls_key"`
	PublicURL *string `yaml:"public_url"`
}

type rawDatabase struct {
	Path     *string `yaml:"path"`
	PoolSize *int    `yaml:"pool_size"`
}

type rawStorage struct {
	Dir           *string `yaml:"dir"`
	Encrypt       *bool   `yaml:"encrypt"`
	MasterKeyFile *string `yaml:"master_key_file"`
}

type rawAuth struct {
	SessionTTL        *time.Duration `yaml:"session_ttl"`
	MinPasswordLength *int           `yaml:"min_password_length"`
}

type rawLog struct {
	Level  *string `yaml:"level"`
	Format *string `yaml:"format"`
}

type rawClient struct {
	ServerURL   *string `yaml:"server_url"`
	SessionFile *string `yaml:"session_file"`
}

// loadLayer reads a single config file into a rawConfig for selective merging.
// Returns nil if the file does not exist. Rejects unknown fields.
func loadLayer(path string) (*rawConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if len(data) == 0 {
		return nil, nil
	}

	var raw rawConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		// Comment-only YAML files produce EOF with no decoded content.
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return &raw, nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// merge applies non-nil fields from a rawConfig layer onto this Config.
func (c *Config) merge(layer *rawConfig) {
	if s := layer.Server; s != nil {
		set(&c.Server.Addr, s.Addr)
		set(&c.Server.TLSCert, s.TLSCert)
		set(&c.Server.TLSKey, s.TLSKey)
		set(&c.Server.PublicURL, s.PublicURL)
	}
	if d := layer.Database; d != nil {
		set(&c.Database.Path, d.Path)
		set(&c.Database.PoolSize, d.PoolSize)
	}
	if s := layer.Storage; s != nil {
		set(&c.Storage.Dir, s.Dir)
		set(&c.Storage.Encrypt, s.Encrypt)
		set(&c.Storage.MasterKeyFile, s.MasterKeyFile)
	}
	if a := layer.Auth; a != nil {
		set(&c.Auth.SessionTTL, a.SessionTTL)
		set(&c.Auth.MinPasswordLength, a.MinPasswordLength)
	}
	if l := layer.Log; l != nil {
		set(&c.Log.Level, l.Level)
		set(&c.Log.Format, l.Format)
	}
	if cl := layer.Client; cl != nil {
		set(&c.Client.ServerURL, cl.ServerURL)
		set(&c.Client.SessionFile, cl.SessionFile)
	}
}
