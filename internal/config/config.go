// Package config loads toolstream settings from a YAML file, a .env file,
// TOOLSTREAM_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	dirName  = ".toolstream"
	fileName = "config.yaml"

	envPrefix = "TOOLSTREAM"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Redis   RedisConfig   `mapstructure:"redis" yaml:"redis"`
	Tools   []ToolConfig  `mapstructure:"tools" yaml:"tools,omitempty"`
}

type ServerConfig struct {
	Listen       string        `mapstructure:"listen" yaml:"listen"`
	StreamPath   string        `mapstructure:"stream_path" yaml:"stream_path"`
	WSPath       string        `mapstructure:"ws_path" yaml:"ws_path"`
	MessagesPath string        `mapstructure:"messages_path" yaml:"messages_path"`
	ToolsPath    string        `mapstructure:"tools_path" yaml:"tools_path"`
	MCPPath      string        `mapstructure:"mcp_path" yaml:"mcp_path"`
	KeepAlive    time.Duration `mapstructure:"keep_alive" yaml:"keep_alive"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

type BackendConfig struct {
	URL          string        `mapstructure:"url" yaml:"url"`
	PathPrefix   string        `mapstructure:"path_prefix" yaml:"path_prefix"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Retries      int           `mapstructure:"retries" yaml:"retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
}

type SessionConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	Retention     time.Duration `mapstructure:"retention" yaml:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	Buffer        int           `mapstructure:"buffer" yaml:"buffer"`
}

type RedisConfig struct {
	URL       string        `mapstructure:"url" yaml:"url"`
	KeyPrefix string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// ToolConfig declares an extra backend-routed tool.
type ToolConfig struct {
	Name        string        `mapstructure:"name" yaml:"name"`
	Description string        `mapstructure:"description" yaml:"description,omitempty"`
	Route       string        `mapstructure:"route" yaml:"route,omitempty"`
	Params      []ParamConfig `mapstructure:"params" yaml:"params,omitempty"`
}

type ParamConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Type        string `mapstructure:"type" yaml:"type"`
	Required    bool   `mapstructure:"required" yaml:"required,omitempty"`
	Description string `mapstructure:"description" yaml:"description,omitempty"`
	Default     any    `mapstructure:"default" yaml:"default,omitempty"`
}

type LoadOptions struct {
	ConfigFile string
	EnvFile    string
	// Flags maps config keys to command-line flags; a flag wins only when set.
	Flags map[string]*pflag.Flag
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8090")
	v.SetDefault("server.stream_path", "/sse")
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("server.messages_path", "/messages")
	v.SetDefault("server.tools_path", "/tools")
	v.SetDefault("server.mcp_path", "/mcp")
	v.SetDefault("server.keep_alive", 15*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)

	v.SetDefault("backend.url", "http://localhost:8000")
	v.SetDefault("backend.path_prefix", "/api/tools")
	v.SetDefault("backend.timeout", 30*time.Second)
	v.SetDefault("backend.retries", 0)
	v.SetDefault("backend.retry_backoff", 200*time.Millisecond)

	v.SetDefault("session.idle_timeout", 30*time.Minute)
	v.SetDefault("session.retention", 5*time.Minute)
	v.SetDefault("session.sweep_interval", 30*time.Second)
	v.SetDefault("session.buffer", 64)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.key_prefix", "toolstream:session:")
	v.SetDefault("redis.ttl", 30*time.Second)
}

// Load builds a Config. A missing config file is only an error when it was
// named explicitly.
func Load(opts LoadOptions) (*Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, flag := range opts.Flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", key, err)
		}
	}

	path := ResolveConfigPath(opts.ConfigFile)
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if opts.ConfigFile != "" {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// loadEnvFile applies a dotenv file without overriding variables already set.
func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if explicit {
			return fmt.Errorf("env file %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

var validParamTypes = map[string]bool{
	"string": true, "number": true, "integer": true, "boolean": true, "object": true, "array": true,
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	for key, p := range map[string]string{
		"server.stream_path":   c.Server.StreamPath,
		"server.ws_path":       c.Server.WSPath,
		"server.messages_path": c.Server.MessagesPath,
		"server.tools_path":    c.Server.ToolsPath,
		"server.mcp_path":      c.Server.MCPPath,
	} {
		if p != "" && !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("%s must start with /", key))
		}
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be > 0"))
	}
	if c.Backend.URL != "" {
		u, err := url.Parse(c.Backend.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("backend.url %q is not an absolute URL", c.Backend.URL))
		}
	}
	if c.Backend.Timeout <= 0 {
		errs = append(errs, errors.New("backend.timeout must be > 0"))
	}
	if c.Backend.Retries < 0 {
		errs = append(errs, errors.New("backend.retries must be >= 0"))
	}
	if c.Session.IdleTimeout < 0 {
		errs = append(errs, errors.New("session.idle_timeout must be >= 0"))
	}
	if c.Session.Buffer <= 0 {
		errs = append(errs, errors.New("session.buffer must be > 0"))
	}
	if c.Redis.URL != "" && c.Redis.TTL <= 0 {
		errs = append(errs, errors.New("redis.ttl must be > 0 when redis.url is set"))
	}

	seen := map[string]bool{}
	for i, t := range c.Tools {
		if strings.TrimSpace(t.Name) == "" {
			errs = append(errs, fmt.Errorf("tools[%d].name is required", i))
			continue
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("tools[%d]: duplicate tool %q", i, t.Name))
		}
		seen[t.Name] = true
		for j, p := range t.Params {
			if p.Name == "" {
				errs = append(errs, fmt.Errorf("tools[%d].params[%d].name is required", i, j))
			}
			if !validParamTypes[p.Type] {
				errs = append(errs, fmt.Errorf("tools[%d].params[%d]: unsupported type %q", i, j, p.Type))
			}
		}
	}
	return errors.Join(errs...)
}

// DefaultConfigPath is ~/.toolstream/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(dirName, fileName)
	}
	return filepath.Join(home, dirName, fileName)
}

// ResolveConfigPath returns explicit when set; otherwise the nearest
// .toolstream/config.yaml walking up from the working directory to the
// project root, falling back to DefaultConfigPath.
func ResolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	wd, err := os.Getwd()
	if err != nil {
		return DefaultConfigPath()
	}
	for dir := wd; ; {
		candidate := filepath.Join(dir, dirName, fileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return DefaultConfigPath()
}

// ApplyFile validates src and copies it to dst.
func ApplyFile(src, dst string) error {
	cfg, err := Load(LoadOptions{ConfigFile: src})
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o600)
}
