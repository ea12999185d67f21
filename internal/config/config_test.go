package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr = %q", cfg.Server.Addr)
	}
	if cfg.Auth.SessionTTL != 30*24*time.Hour {
		t.Errorf("default session ttl = %v", cfg.Auth.SessionTTL)
	}
	if cfg.Auth.MinPasswordLength != 6 {
		t.Errorf("default min password length = %d", cfg.Auth.MinPasswordLength)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadLayered_Override(t *testing.T) {
	// Given a user file and a project file
	dir := t.TempDir()
	user := writeFile(t, dir, "user.yaml", `
server:
  addr: ":9000"
  public_url: https://contacts.example.com
log:
  level: debug
`)
	project := writeFile(t, dir, "project.yaml", `
server:
  addr: ":9100"
database:
  pool_size: 8
`)

	// When both are layered
	cfg, err := LoadLayered(user, project, filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadLayered() error = %v", err)
	}

	// Then later files win and unset fields keep earlier values
	if cfg.Server.Addr != ":9100" {
		t.Errorf("addr = %q, want :9100", cfg.Server.Addr)
	}
	if cfg.Server.PublicURL != "https://contacts.example.com" {
		t.Errorf("public_url = %q", cfg.Server.PublicURL)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	if cfg.Database.PoolSize != 8 || cfg.Database.Path != "data/contactbook.db" {
		t.Errorf("database = %+v", cfg.Database)
	}
}

func TestLoadLayered_ExplicitFalseOverrides(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.yaml", "storage:\n  encrypt: true\n")
	b := writeFile(t, dir, "b.yaml", "storage:\n  encrypt: false\n")
	cfg, err := LoadLayered(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Encrypt {
		t.Error("encrypt = true, want explicit false to win")
	}
}

func TestLoadLayered_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		body string
	}{
		{"invalid yaml", "{{invalid yaml"},
		{"unknown field", "server:\n  port: 80\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeFile(t, dir, strings.ReplaceAll(tt.name, " ", "_")+".yaml", tt.body)
			if _, err := LoadLayered(p); err == nil {
				t.Error("LoadLayered() error = nil")
			}
		})
	}
}

func TestLoadLayered_CommentOnly(t *testing.T) {
	p := writeFile(t, t.TempDir(), "c.yaml", "# nothing here\n")
	cfg, err := LoadLayered(p)
	if err != nil {
		t.Fatal(err)
	}
	if *cfg != DefaultConfig() {
		t.Errorf("comment-only file changed config: %+v", *cfg)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CONTACTBOOK_ADDR", ":7000")
	t.Setenv("CONTACTBOOK_ENCRYPT", "true")
	t.Setenv("CONTACTBOOK_SESSION_TTL", "2h")
	t.Setenv("CONTACTBOOK_SERVER_URL", "https://api.example.com")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":7000" || !cfg.Storage.Encrypt || cfg.Auth.SessionTTL != 2*time.Hour {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Client.ServerURL != "https://api.example.com" {
		t.Errorf("server url = %q", cfg.Client.ServerURL)
	}
}

func TestApplyEnv_Invalid(t *testing.T) {
	t.Setenv("CONTACTBOOK_SESSION_TTL", "forever")
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err == nil {
		t.Error("ApplyEnv() accepted a bad duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"cert without key", func(c *Config) { c.Server.TLSCert = "cert.pem" }},
		{"bad public url", func(c *Config) { c.Server.PublicURL = "localhost" }},
		{"pool size", func(c *Config) { c.Database.PoolSize = 0 }},
		{"no storage dir", func(c *Config) { c.Storage.Dir = "" }},
		{"encrypt without key", func(c *Config) { c.Storage.Encrypt = true; c.Storage.MasterKeyFile = "" }},
		{"ttl", func(c *Config) { c.Auth.SessionTTL = 0 }},
		{"password length", func(c *Config) { c.Auth.MinPasswordLength = 0 }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"client url", func(c *Config) { c.Client.ServerURL = "ftp://x" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	p := writeFile(t, t.TempDir(), "c.yaml", "log:\n  format: yaml\n")
	if _, err := Load(p); err == nil {
		t.Error("Load() returned an invalid config")
	}
}
