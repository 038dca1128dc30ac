// Package config handles supernet configuration file parsing and validation.
//
// The configuration is a YAML file with the following top-level sections:
//   - host: Socket and host settings (bind address, port, encryption, MTU)
//   - peer: Defaults for every peer (handshake, resend and ping timing)
//   - log: Log level and output format
//
// Example:
//
//	host:
//	  bind: "0.0.0.0"
//	  port: 9050
//	  private_key: "host.key"
//	  compression: deflate
//	  crc32: true
//	peer:
//	  connect_delay: 250ms
//	  resend_delay: 200ms
//	  remote_public_key: "3b6a27bc..."
//	log:
//	  level: info
//	  format: console
package config

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/vibing/supernet/compress"
	"github.com/vibing/supernet/crypt"
	"github.com/vibing/supernet/host"
)

// Config is the top-level configuration.
type Config struct {
	Host HostSection `yaml:"host"`
	Peer PeerSection `yaml:"peer"`
	Log  LogSection  `yaml:"log"`
}

// HostSection holds socket and host settings.
type HostSection struct {
	// Bind is the local address. Empty binds all interfaces.
	Bind string `yaml:"bind"`

	// Port is the UDP port to listen on. Zero picks an ephemeral port.
	Port int `yaml:"port"`

	DualMode  bool `yaml:"dual_mode"`
	Broadcast bool `yaml:"broadcast"`

	// Compression is "none", "deflate" or "s2". Default: "none".
	Compression string `yaml:"compression"`

	CRC32             bool `yaml:"crc32"`
	TTL               int  `yaml:"ttl"`
	SendBufferSize    int  `yaml:"send_buffer_size"`
	ReceiveBufferSize int  `yaml:"receive_buffer_size"`
	ReceiveMTU        int  `yaml:"receive_mtu"`
	ReceiveCount      int  `yaml:"receive_count"`

	// PrivateKey is the path to a file holding the hex Ed25519 seed.
	// Relative paths are resolved against the config file's directory.
	PrivateKey string `yaml:"private_key"`

	Unencrypted bool `yaml:"unencrypted"`

	// RequestRate limits connection requests per second. Zero disables it.
	RequestRate  float64 `yaml:"request_rate"`
	RequestBurst int     `yaml:"request_burst"`
}

// PeerSection holds peer defaults. Durations use Go syntax ("250ms").
type PeerSection struct {
	ConnectAttempts  int           `yaml:"connect_attempts"`
	ConnectDelay     time.Duration `yaml:"connect_delay"`
	DisconnectDelay  time.Duration `yaml:"disconnect_delay"`
	DuplicateTimeout time.Duration `yaml:"duplicate_timeout"`
	PingDelay        time.Duration `yaml:"ping_delay"`
	ResendDelay      time.Duration `yaml:"resend_delay"`

	// RemotePublicKey is the hex Ed25519 public key the remote host must
	// prove it holds.
	RemotePublicKey string `yaml:"remote_public_key"`
}

// LogSection configures logging.
type LogSection struct {
	// Level is a zerolog level name. Default: "info".
	Level string `yaml:"level"`

	// Format is "console" or "json". Default: "console".
	Format string `yaml:"format"`
}

// Load reads and parses a YAML config file.
// Relative paths in the config are resolved against the config file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if absDir, err := filepath.Abs(dir); err == nil {
		dir = absDir
	}
	cfg.ResolveRelativePaths(dir)

	return cfg, nil
}

// Parse parses a YAML config from raw bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return &cfg, nil
}

// ResolveRelativePaths resolves relative file paths in the config
// against the given context directory.
func (c *Config) ResolveRelativePaths(contextDir string) {
	if p := c.Host.PrivateKey; p != "" && !filepath.IsAbs(p) {
		c.Host.PrivateKey = filepath.Join(contextDir, p)
	}
}

// ApplyDefaults fills in default values for unset fields. Zero host and
// peer values are left for the host package defaults.
func (c *Config) ApplyDefaults() {
	if c.Host.Compression == "" {
		c.Host.Compression = "none"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Validate checks the configuration for errors.
// Call ApplyDefaults before Validate if you want defaults to be set.
func (c *Config) Validate() error {
	if c.Host.Bind != "" {
		if _, err := netip.ParseAddr(c.Host.Bind); err != nil {
			return fmt.Errorf("config: host.bind: %w", err)
		}
	}
	if c.Host.Port < 0 || c.Host.Port > 65535 {
		return fmt.Errorf("config: host.port must be between 0 and 65535, got %d", c.Host.Port)
	}
	switch c.Host.Compression {
	case "none", "deflate", "s2":
	default:
		return fmt.Errorf("config: host.compression must be \"none\", \"deflate\" or \"s2\", got %q", c.Host.Compression)
	}
	if m := c.Host.ReceiveMTU; m != 0 && (m < 576 || m > 65507) {
		return fmt.Errorf("config: host.receive_mtu must be between 576 and 65507, got %d", m)
	}
	if c.Host.RequestRate < 0 {
		return fmt.Errorf("config: host.request_rate must not be negative")
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"connect_delay", c.Peer.ConnectDelay},
		{"disconnect_delay", c.Peer.DisconnectDelay},
		{"duplicate_timeout", c.Peer.DuplicateTimeout},
		{"ping_delay", c.Peer.PingDelay},
		{"resend_delay", c.Peer.ResendDelay},
	} {
		if d.value < 0 {
			return fmt.Errorf("config: peer.%s must not be negative, got %s", d.name, d.value)
		}
	}
	if c.Peer.ConnectAttempts < 0 {
		return fmt.Errorf("config: peer.connect_attempts must not be negative")
	}
	if k := c.Peer.RemotePublicKey; k != "" {
		if _, err := decodeKey(k, crypt.PublicKeySize); err != nil {
			return fmt.Errorf("config: peer.remote_public_key: %w", err)
		}
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("config: log.format must be \"console\" or \"json\", got %q", c.Log.Format)
	}
	return nil
}

// HostConfig converts the host section. The private key file is read
// when set.
func (c *Config) HostConfig() (host.HostConfig, error) {
	h := c.Host
	cfg := host.HostConfig{
		DualMode:          h.DualMode,
		Port:              uint16(h.Port),
		Broadcast:         h.Broadcast,
		CRC32:             h.CRC32,
		TTL:               h.TTL,
		SendBufferSize:    h.SendBufferSize,
		ReceiveBufferSize: h.ReceiveBufferSize,
		ReceiveMTU:        h.ReceiveMTU,
		ReceiveCount:      h.ReceiveCount,
		Unencrypted:       h.Unencrypted,
		RequestRate:       rate.Limit(h.RequestRate),
		RequestBurst:      h.RequestBurst,
	}
	if h.Bind != "" {
		addr, err := netip.ParseAddr(h.Bind)
		if err != nil {
			return host.HostConfig{}, fmt.Errorf("config: host.bind: %w", err)
		}
		cfg.BindAddress = addr
	}

	switch h.Compression {
	case "deflate":
		cfg.Compression = true
		cfg.Compressor = compress.NewDeflate(-1)
	case "s2":
		cfg.Compression = true
		cfg.Compressor = compress.NewS2()
	}

	if h.PrivateKey != "" {
		seed, err := ReadKey(h.PrivateKey)
		if err != nil {
			return host.HostConfig{}, err
		}
		cfg.PrivateKey = seed
	}
	return cfg, nil
}

// PeerConfig converts the peer section.
func (c *Config) PeerConfig() (host.PeerConfig, error) {
	p := c.Peer
	cfg := host.PeerConfig{
		ConnectAttempts:  p.ConnectAttempts,
		ConnectDelay:     p.ConnectDelay,
		DisconnectDelay:  p.DisconnectDelay,
		DuplicateTimeout: p.DuplicateTimeout,
		PingDelay:        p.PingDelay,
		ResendDelay:      p.ResendDelay,
	}
	if p.RemotePublicKey != "" {
		key, err := decodeKey(p.RemotePublicKey, crypt.PublicKeySize)
		if err != nil {
			return host.PeerConfig{}, fmt.Errorf("config: peer.remote_public_key: %w", err)
		}
		cfg.RemotePublicKey = key
	}
	return cfg, nil
}

// Logger builds a zerolog logger writing to w.
func (c *Config) Logger(w io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if c.Log.Level != "" {
		var err error
		if level, err = zerolog.ParseLevel(c.Log.Level); err != nil {
			return zerolog.Nop(), fmt.Errorf("config: log.level: %w", err)
		}
	}
	if c.Log.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// ReadKey reads a hex-encoded Ed25519 seed from path.
func ReadKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read key %s: %w", path, err)
	}
	seed, err := decodeKey(strings.TrimSpace(string(data)), crypt.SeedSize)
	if err != nil {
		return nil, fmt.Errorf("config: key %s: %w", path, err)
	}
	return seed, nil
}

// WriteKey writes a hex-encoded seed to path, readable by the owner only.
func WriteKey(path string, seed []byte) error {
	if err := os.WriteFile(path, []byte(hex.EncodeToString(seed)+"\n"), 0o600); err != nil {
		return fmt.Errorf("config: write key %s: %w", path, err)
	}
	return nil
}

func decodeKey(s string, size int) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	if len(key) != size {
		return nil, fmt.Errorf("expected %d bytes, got %d", size, len(key))
	}
	return key, nil
}
