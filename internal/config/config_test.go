package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"toolstream/internal/config"
)

const sampleConfig = `
server:
  listen: ":9100"
  keep_alive: 5s
backend:
  url: http://backend:8000
  timeout: 2s
  retries: 1
session:
  idle_timeout: 10m
tools:
  - name: detect_drift
    description: Detect data drift for a dataset
    params:
      - name: dataset_id
        type: integer
        required: true
      - name: window
        type: integer
        default: 14
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := config.Load(config.LoadOptions{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != ":8090" || cfg.Server.StreamPath != "/sse" || cfg.Server.MessagesPath != "/messages" {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Backend.Timeout != 30*time.Second || cfg.Backend.PathPrefix != "/api/tools" {
		t.Fatalf("unexpected backend defaults: %+v", cfg.Backend)
	}
	if cfg.Session.Retention != 5*time.Minute || cfg.Session.Buffer != 64 {
		t.Fatalf("unexpected session defaults: %+v", cfg.Session)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	chdir(t, t.TempDir())
	path := writeConfig(t, sampleConfig)
	t.Setenv("TOOLSTREAM_BACKEND_TIMEOUT", "750ms")

	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String("listen", ":8090", "")
	if err := flags.Parse([]string{"--listen", ":7000"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: path,
		Flags:      map[string]*pflag.Flag{"server.listen": flags.Lookup("listen")},
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != ":7000" {
		t.Fatalf("flag should win, got %q", cfg.Server.Listen)
	}
	if cfg.Server.KeepAlive != 5*time.Second {
		t.Fatalf("keep_alive from file, got %s", cfg.Server.KeepAlive)
	}
	if cfg.Backend.Timeout != 750*time.Millisecond {
		t.Fatalf("env should override file, got %s", cfg.Backend.Timeout)
	}
	if cfg.Backend.URL != "http://backend:8000" || cfg.Backend.Retries != 1 {
		t.Fatalf("unexpected backend: %+v", cfg.Backend)
	}
	if len(cfg.Tools) != 1 || cfg.Tools[0].Name != "detect_drift" || len(cfg.Tools[0].Params) != 2 {
		t.Fatalf("unexpected tools: %+v", cfg.Tools)
	}
	if !cfg.Tools[0].Params[0].Required {
		t.Fatalf("dataset_id should be required")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoad_UnsetFlagDoesNotOverrideFile(t *testing.T) {
	chdir(t, t.TempDir())
	path := writeConfig(t, sampleConfig)

	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String("listen", ":8090", "")

	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: path,
		Flags:      map[string]*pflag.Flag{"server.listen": flags.Lookup("listen")},
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != ":9100" {
		t.Fatalf("expected file value, got %q", cfg.Server.Listen)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	envPath := filepath.Join(dir, "custom.env")
	if err := os.WriteFile(envPath, []byte("TOOLSTREAM_REDIS_URL=redis://localhost:6379/0\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("TOOLSTREAM_REDIS_URL", "")
	os.Unsetenv("TOOLSTREAM_REDIS_URL")

	cfg, err := config.Load(config.LoadOptions{EnvFile: envPath})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.URL != "redis://localhost:6379/0" {
		t.Fatalf("env file not applied, got %q", cfg.Redis.URL)
	}
}

func TestLoad_MissingExplicitFiles(t *testing.T) {
	if _, err := config.Load(config.LoadOptions{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")}); err == nil {
		t.Fatalf("expected error for missing config file")
	}
	if _, err := config.Load(config.LoadOptions{EnvFile: filepath.Join(t.TempDir(), "nope.env")}); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := config.Load(config.LoadOptions{ConfigFile: writeConfig(t, `
server:
  listen: ""
  stream_path: sse
backend:
  url: "not a url"
  timeout: 0s
tools:
  - name: a
    params:
      - name: x
        type: date
  - name: a
`)})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	err = cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"server.listen", "server.stream_path", "backend.url", "backend.timeout", `unsupported type "date"`, `duplicate tool "a"`} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}
}

func TestApplyFile(t *testing.T) {
	chdir(t, t.TempDir())
	src := writeConfig(t, sampleConfig)
	dst := filepath.Join(t.TempDir(), "home", ".toolstream", "config.yaml")

	if err := config.ApplyFile(src, dst); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read dst: %v", err)
	}
	if string(got) != sampleConfig {
		t.Fatalf("copied content differs")
	}

	bad := writeConfig(t, "backend:\n  timeout: 0s\n")
	if err := config.ApplyFile(bad, dst); err == nil {
		t.Fatalf("expected invalid config to be rejected")
	}
}
