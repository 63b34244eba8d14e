package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigWithInfoDefaultsWhenMissing(t *testing.T) {
	t.Parallel()

	cfg, info, err := LoadConfigWithInfo(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("LoadConfigWithInfo: %v", err)
	}
	if info.PortSpecified {
		t.Fatalf("port should not be marked as specified")
	}
	if cfg.Export.ImageConcurrency != 10 || cfg.LLM.BatchSize != 30 {
		t.Fatalf("unexpected defaults: %+v", cfg.Export)
	}
	if len(cfg.Selection.Creators) != 2 {
		t.Fatalf("creators=%v", cfg.Selection.Creators)
	}
}

func TestLoadConfigWithInfoReadsToml(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
port = 9000

[storage]
endpoint = "acc.r2.cloudflarestorage.com"
bucket = "products"
public_url = "https://pub.example.com"

[selection]
creators = ["a", "b"]

[[auth.users]]
name = "flz"
password = "secret"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, info, err := LoadConfigWithInfo(path)
	if err != nil {
		t.Fatalf("LoadConfigWithInfo: %v", err)
	}
	if !info.PortSpecified || cfg.Server.Port != 9000 {
		t.Fatalf("port=%d specified=%v", cfg.Server.Port, info.PortSpecified)
	}
	if !cfg.Storage.Enabled() || cfg.Storage.Region != "auto" {
		t.Fatalf("storage=%+v", cfg.Storage)
	}
	if cfg.Selection.Creators[0] != "a" || len(cfg.Auth.Users) != 1 {
		t.Fatalf("selection=%v users=%v", cfg.Selection.Creators, cfg.Auth.Users)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"DATABASE_URL":     "postgres://u:p@localhost/db?sslmode=disable",
		"R2_ENDPOINT":      "https://acc.r2.cloudflarestorage.com/",
		"R2_BUCKET_NAME":   "bucket",
		"R2_PUBLIC_URL":    "https://pub.example.com",
		"GEMINI_API_KEY":   "g-key",
		"LLM_MODEL":        "gemini-2.5-flash",
		"PORT":             "8080",
		"R2_ACCESS_KEY_ID": " ",
	}
	cfg := DefaultConfig()
	ApplyEnv(cfg, func(k string) string { return env[k] })

	if cfg.Database.Driver != "postgres" || cfg.Database.DSN != env["DATABASE_URL"] {
		t.Fatalf("database=%+v", cfg.Database)
	}
	if cfg.Storage.Endpoint != "acc.r2.cloudflarestorage.com" {
		t.Fatalf("endpoint=%q", cfg.Storage.Endpoint)
	}
	if cfg.Storage.AccessKey != "" {
		t.Fatalf("blank env should not override, got %q", cfg.Storage.AccessKey)
	}
	if cfg.LLM.APIKey != "g-key" || cfg.LLM.Model != "gemini-2.5-flash" || cfg.Server.Port != 8080 {
		t.Fatalf("llm=%+v port=%d", cfg.LLM, cfg.Server.Port)
	}
}

func TestDatabaseDSN(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if got := DatabaseDSN(cfg, "/data"); got != filepath.Join("/data", "productselect.db") {
		t.Fatalf("sqlite dsn=%q", got)
	}
	cfg.Database.Driver = "postgres"
	cfg.Database.DSN = "postgres://x"
	if got := DatabaseDSN(cfg, "/data"); got != "postgres://x" {
		t.Fatalf("postgres dsn=%q", got)
	}
}
