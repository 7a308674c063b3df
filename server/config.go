package server

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Hardcoded defaults.
const (
	DefaultSessionTTL = 30 * time.Minute
	DefaultRootPath   = "Google"
	DefaultStorePath  = ".secrets/credentials.json"
	DefaultScope      = "https://www.googleapis.com/auth/spreadsheets"
)

// Config captures the full application configuration loaded from YAML
// and environment variables.
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Google   GoogleConfig  `yaml:"google"`
	Store    StoreConfig   `yaml:"store"`
	Sessions SessionConfig `yaml:"sessions"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	PublicURL       string    `yaml:"public_url"`
	DevListenAddr   string    `yaml:"dev_listen_addr"`
	HTTPListenAddr  string    `yaml:"http_listen_addr"`
	HTTPSListenAddr string    `yaml:"https_listen_addr"`
	DevMode         bool      `yaml:"dev_mode"`
	CookieDomain    string    `yaml:"cookie_domain"`
	TLS             TLSConfig `yaml:"tls"`
}

// TLSConfig defines autocert behaviour.
type TLSConfig struct {
	Domains []string `yaml:"domains"`
	Email   string   `yaml:"email"`
}

// GoogleConfig fixes the provider endpoints, the default scope, and the
// credential root path in the store.
type GoogleConfig struct {
	AuthURI     string `yaml:"auth_uri"`
	TokenURI    string `yaml:"token_uri"`
	RedirectURI string `yaml:"redirect_uri"`
	Scope       string `yaml:"scope"`
	RootPath    string `yaml:"root_path"`
}

// StoreConfig locates the credential store file.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// SessionConfig controls browser session lifetime.
type SessionConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// LoadConfig reads the YAML config file and merges environment
// overrides. Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		sanitized := stripYAMLComments(b)

		decoder := yaml.NewDecoder(bytes.NewReader(sanitized))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
				return Config{}, fmt.Errorf("invalid config: %w (check for typos or deprecated fields)", err)
			}
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:8080",
			DevListenAddr:   "127.0.0.1:8080",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			TLS: TLSConfig{
				Domains: []string{"localhost"},
			},
		},
		Google: GoogleConfig{
			Scope:    DefaultScope,
			RootPath: DefaultRootPath,
		},
		Store: StoreConfig{
			Path: DefaultStorePath,
		},
		Sessions: SessionConfig{
			TTL: DefaultSessionTTL,
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

// applyDerived fills values computed from others, currently only the
// redirect URI when the config leaves it empty.
func (c *Config) applyDerived() {
	if c.Google.RedirectURI == "" {
		c.Google.RedirectURI = strings.TrimSuffix(c.Server.PublicURL, "/") + "/oauth/callback"
	}
	if c.Sessions.TTL <= 0 {
		c.Sessions.TTL = DefaultSessionTTL
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.PublicURL == "" {
		return fmt.Errorf("server.public_url is required")
	}
	if c.Google.Scope == "" {
		return fmt.Errorf("google.scope is required")
	}
	if c.Google.RootPath == "" {
		return fmt.Errorf("google.root_path is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		return fmt.Errorf("server.tls.domains is required outside dev mode")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GSHEETD_PUBLIC_URL"); v != "" {
		cfg.Server.PublicURL = v
	}
	if v := os.Getenv("GSHEETD_LISTEN_ADDR"); v != "" {
		cfg.Server.DevListenAddr = v
	}
	if v := os.Getenv("GSHEETD_REDIRECT_URI"); v != "" {
		cfg.Google.RedirectURI = v
	}
	if v := os.Getenv("GSHEETD_SCOPE"); v != "" {
		cfg.Google.Scope = v
	}
	if v := os.Getenv("GSHEETD_ROOT_PATH"); v != "" {
		cfg.Google.RootPath = v
	}
	if v := os.Getenv("GSHEETD_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
}

func stripYAMLComments(in []byte) []byte {
	lines := bytes.Split(in, []byte("\n"))
	out := make([][]byte, 0, len(lines))
	for _, line := range lines {
		trim := bytes.TrimLeft(line, " \t")
		if len(trim) > 0 && trim[0] == '#' {
			continue
		}
		out = append(out, line)
	}
	return bytes.Join(out, []byte("\n"))
}
