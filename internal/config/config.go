// Package config loads and validates the TOML configuration file and
// CLI arguments described in §6, adapted from the teacher's env-var
// Config struct (internal/config/config.go: New/Validate/DefaultConfig
// shape) to a TOML-file-driven source, decoded with
// github.com/pelletier/go-toml/v2.
package config

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/sofatutor/park/internal/parkerr"
)

// Database holds the [database] section of the TOML config.
type Database struct {
	URI     string `toml:"uri"`
	MaxSize int64  `toml:"max_size"`
}

// Server holds the [server] section of the TOML config.
type Server struct {
	Address        string `toml:"address"`
	Bind           string `toml:"bind"`
	MaxConnections int    `toml:"max_connections"`
	ClientTimeout  int    `toml:"client_timeout"` // seconds
	ServerTimeout  int    `toml:"server_timeout"` // seconds
	SSLCert        string `toml:"ssl_cert"`
	SSLKey         string `toml:"ssl_key"`
}

// Config is the fully validated, defaulted configuration.
type Config struct {
	Database Database
	Server   Server
}

const (
	// DefaultMaxSize is database.max_size's default (10 MiB, §6).
	DefaultMaxSize = 10 * 1024 * 1024
	// DefaultBind is server.bind's default.
	DefaultBind = "127.0.0.1:3000"
	// DefaultControlAPIAddr is the control API's default bind address (§4.G).
	DefaultControlAPIAddr = "127.0.0.1:9000"
)

// Load reads and validates a TOML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, parkerr.Wrap(parkerr.BadConfig, "failed to read config file", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, parkerr.Wrap(parkerr.BadConfig, "failed to parse config file", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromArgs builds a Config from the positional ADDRESS and BIND CLI
// arguments (§6): ADDRESS is promoted to http://HOST:PORT if it has no
// scheme; BIND is a bare port (127.0.0.1 assumed) or IP:PORT.
func FromArgs(address, bind string) (*Config, error) {
	addr, err := promoteAddress(address)
	if err != nil {
		return nil, err
	}
	b := DefaultBind
	if bind != "" {
		b, err = promoteBind(bind)
		if err != nil {
			return nil, err
		}
	}
	cfg := &Config{
		Database: Database{URI: "sqlite::memory:", MaxSize: DefaultMaxSize},
		Server:   Server{Address: addr, Bind: b},
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func promoteAddress(address string) (string, error) {
	if address == "" {
		return "", parkerr.New(parkerr.BadConfig, "ADDRESS is required")
	}
	if strings.Contains(address, "://") {
		return address, nil
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		return "", parkerr.Wrap(parkerr.BadConfig, "ADDRESS must be HOST:PORT or a full URL", err)
	}
	return "http://" + address, nil
}

func promoteBind(bind string) (string, error) {
	if _, _, err := net.SplitHostPort(bind); err == nil {
		return bind, nil
	}
	if isBarePort(bind) {
		return "127.0.0.1:" + bind, nil
	}
	return "", parkerr.New(parkerr.BadConfig, "BIND must be a bare port or IP:PORT")
}

func isBarePort(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func applyDefaults(cfg *Config) {
	if cfg.Database.MaxSize == 0 {
		cfg.Database.MaxSize = DefaultMaxSize
	}
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = DefaultBind
	}
	if cfg.Server.ClientTimeout == 0 {
		cfg.Server.ClientTimeout = 10
	}
	if cfg.Server.ServerTimeout == 0 {
		cfg.Server.ServerTimeout = 10
	}
}

// validate checks the cross-field invariants named in §6: address must
// have a host and an http/https scheme; if TLS is enabled, the cert and
// key must parse as a valid X.509 key pair.
func validate(cfg *Config) error {
	if cfg.Database.URI == "" {
		return parkerr.New(parkerr.BadConfig, "database.uri is required")
	}
	if cfg.Server.Address == "" {
		return parkerr.New(parkerr.BadConfig, "server.address is required")
	}
	u, err := url.Parse(cfg.Server.Address)
	if err != nil {
		return parkerr.Wrap(parkerr.BadConfig, "server.address is not a valid url", err)
	}
	if u.Host == "" {
		return parkerr.New(parkerr.BadConfig, "server.address must have a host")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return parkerr.New(parkerr.BadConfig, "server.address scheme must be http or https")
	}

	if cfg.Server.SSLCert != "" || cfg.Server.SSLKey != "" {
		if cfg.Server.SSLCert == "" || cfg.Server.SSLKey == "" {
			return parkerr.New(parkerr.BadConfig, "ssl_cert and ssl_key must both be set to enable TLS")
		}
		if _, err := tls.LoadX509KeyPair(cfg.Server.SSLCert, cfg.Server.SSLKey); err != nil {
			return parkerr.Wrap(parkerr.BadConfig, "failed to load ssl_cert/ssl_key", err)
		}
	}
	return nil
}

// ClientTimeoutDuration returns server.client_timeout as a time.Duration.
func (c *Config) ClientTimeoutDuration() time.Duration {
	return time.Duration(c.Server.ClientTimeout) * time.Second
}

// ServerTimeoutDuration returns server.server_timeout as a time.Duration.
func (c *Config) ServerTimeoutDuration() time.Duration {
	return time.Duration(c.Server.ServerTimeout) * time.Second
}

// TLSEnabled reports whether both certificate and key paths are configured.
func (c *Config) TLSEnabled() bool {
	return c.Server.SSLCert != "" && c.Server.SSLKey != ""
}

// UpstreamURL parses server.address into a *url.URL. Callers should only
// use this after validate has confirmed the address parses cleanly.
func (c *Config) UpstreamURL() (*url.URL, error) {
	u, err := url.Parse(c.Server.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream address: %w", err)
	}
	return u, nil
}
