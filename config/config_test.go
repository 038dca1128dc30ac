package config

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vibing/supernet/compress"
	"github.com/vibing/supernet/crypt"
)

const validConfig = `
host:
  bind: "127.0.0.1"
  port: 9050
  broadcast: true
  compression: s2
  crc32: true
  receive_mtu: 1400
  receive_count: 2
  private_key: "host.key"
  request_rate: 10

peer:
  connect_attempts: 5
  connect_delay: 100ms
  resend_delay: 50ms
  duplicate_timeout: 3s

log:
  level: debug
  format: json
`

func TestParse_Valid(t *testing.T) {
	cfg, err := Parse([]byte(validConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	if cfg.Host.Bind != "127.0.0.1" || cfg.Host.Port != 9050 {
		t.Errorf("host = %s:%d", cfg.Host.Bind, cfg.Host.Port)
	}
	if !cfg.Host.Broadcast || !cfg.Host.CRC32 || cfg.Host.Compression != "s2" {
		t.Errorf("host flags = %+v", cfg.Host)
	}
	if cfg.Peer.ConnectDelay != 100*time.Millisecond {
		t.Errorf("connect_delay = %v", cfg.Peer.ConnectDelay)
	}
	if cfg.Peer.DuplicateTimeout != 3*time.Second {
		t.Errorf("duplicate_timeout = %v", cfg.Peer.DuplicateTimeout)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("host: [")); err == nil {
		t.Fatal("expected error")
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.Host.Compression != "none" || cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Errorf("defaults = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad bind", func(c *Config) { c.Host.Bind = "not-an-ip" }, "host.bind"},
		{"bad port", func(c *Config) { c.Host.Port = 70000 }, "host.port"},
		{"bad compression", func(c *Config) { c.Host.Compression = "zstd" }, "host.compression"},
		{"small mtu", func(c *Config) { c.Host.ReceiveMTU = 100 }, "host.receive_mtu"},
		{"negative rate", func(c *Config) { c.Host.RequestRate = -1 }, "host.request_rate"},
		{"negative delay", func(c *Config) { c.Peer.ResendDelay = -time.Second }, "peer.resend_delay"},
		{"negative attempts", func(c *Config) { c.Peer.ConnectAttempts = -1 }, "peer.connect_attempts"},
		{"short remote key", func(c *Config) { c.Peer.RemotePublicKey = "abcd" }, "peer.remote_public_key"},
		{"bad hex remote key", func(c *Config) { c.Peer.RemotePublicKey = "zz" }, "peer.remote_public_key"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.ApplyDefaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_ResolvesKeyPath(t *testing.T) {
	dir := t.TempDir()
	seed, _, err := crypt.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteKey(filepath.Join(dir, "host.key"), seed); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "supernet.yaml")
	if err := os.WriteFile(path, []byte(validConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if want := filepath.Join(dir, "host.key"); cfg.Host.PrivateKey != want {
		t.Errorf("private_key = %q, want %q", cfg.Host.PrivateKey, want)
	}

	hc, err := cfg.HostConfig()
	if err != nil {
		t.Fatalf("HostConfig() = %v", err)
	}
	if !bytes.Equal(hc.PrivateKey, seed) {
		t.Error("private key not loaded")
	}
	if !hc.BindAddress.IsLoopback() || hc.Port != 9050 {
		t.Errorf("bind = %v:%d", hc.BindAddress, hc.Port)
	}
	if !hc.Compression {
		t.Error("compression disabled")
	}
	if _, ok := hc.Compressor.(compress.S2); !ok {
		t.Errorf("compressor = %T, want compress.S2", hc.Compressor)
	}
	if hc.ReceiveMTU != 1400 || hc.ReceiveCount != 2 || hc.RequestRate != 10 {
		t.Errorf("host config = %+v", hc)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config: read") {
		t.Errorf("err = %v", err)
	}
}

func TestResolveRelativePaths(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", ""},
		{"/etc/supernet/host.key", "/etc/supernet/host.key"},
		{"keys/host.key", "/srv/cfg/keys/host.key"},
	}
	for _, tt := range tests {
		cfg := Config{Host: HostSection{PrivateKey: tt.key}}
		cfg.ResolveRelativePaths("/srv/cfg")
		if cfg.Host.PrivateKey != tt.want {
			t.Errorf("ResolveRelativePaths(%q) = %q, want %q", tt.key, cfg.Host.PrivateKey, tt.want)
		}
	}
}

func TestHostConfig_Compression(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
	}{
		{"none", false},
		{"deflate", true},
		{"s2", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Host: HostSection{Compression: tt.name}}
			hc, err := cfg.HostConfig()
			if err != nil {
				t.Fatal(err)
			}
			if hc.Compression != tt.enabled {
				t.Errorf("Compression = %v, want %v", hc.Compression, tt.enabled)
			}
		})
	}
}

func TestHostConfig_MissingKey(t *testing.T) {
	cfg := Config{Host: HostSection{PrivateKey: filepath.Join(t.TempDir(), "none.key")}}
	if _, err := cfg.HostConfig(); err == nil {
		t.Fatal("expected error")
	}
}

func TestPeerConfig(t *testing.T) {
	_, pub, err := crypt.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	cfg := Config{Peer: PeerSection{
		ConnectAttempts: 3,
		PingDelay:       2 * time.Second,
		RemotePublicKey: hex.EncodeToString(pub),
	}}
	pc, err := cfg.PeerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if pc.ConnectAttempts != 3 || pc.PingDelay != 2*time.Second {
		t.Errorf("peer config = %+v", pc)
	}
	if !bytes.Equal(pc.RemotePublicKey, pub) {
		t.Error("remote public key mismatch")
	}

	cfg.Peer.RemotePublicKey = "00"
	if _, err := cfg.PeerConfig(); err == nil {
		t.Error("expected error for short key")
	}
}

func TestKeyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.key")
	seed, _, err := crypt.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteKey(path, seed); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("mode = %o, want 600", perm)
	}

	got, err := ReadKey(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, seed) {
		t.Error("seed mismatch")
	}

	if err := os.WriteFile(path, []byte("abcd\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadKey(path); err == nil {
		t.Error("expected error for short seed")
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Log: LogSection{Level: "warn", Format: "json"}}
	log, err := cfg.Logger(&buf)
	if err != nil {
		t.Fatal(err)
	}
	log.Info().Msg("hidden")
	log.Warn().Str("peer", "10.0.0.1:4000").Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message logged at warn level")
	}
	if !strings.Contains(out, `"peer":"10.0.0.1:4000"`) || !strings.Contains(out, `"message":"shown"`) {
		t.Errorf("output = %q", out)
	}

	cfg.Log.Level = "loud"
	if _, err := cfg.Logger(&buf); err == nil {
		t.Error("expected error for bad level")
	}
}
