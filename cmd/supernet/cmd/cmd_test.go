package cmd

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vibing/supernet/config"
	"github.com/vibing/supernet/host"
	"github.com/vibing/supernet/packet"
	"github.com/vibing/supernet/transport"
)

func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root := RootCmd()
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestKeygenCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.key")
	out, err := executeCommand("keygen", "--out", path)
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	if !strings.HasPrefix(out, "public: ") {
		t.Fatalf("output = %q", out)
	}
	public, err := hex.DecodeString(strings.TrimSpace(strings.TrimPrefix(out, "public: ")))
	if err != nil || len(public) != 32 {
		t.Fatalf("public key = %q", out)
	}

	seed, err := config.ReadKey(path)
	if err != nil {
		t.Fatal(err)
	}
	conn, err := transport.NewMockNetwork().Listen(netip.MustParseAddrPort("10.0.0.1:4000"))
	if err != nil {
		t.Fatal(err)
	}
	nop := zerolog.Nop()
	h, err := host.New(host.HostConfig{PrivateKey: seed, Conn: conn, Logger: &nop}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Dispose()
	if !bytes.Equal(h.PublicKey(), public) {
		t.Error("printed public key does not match the written seed")
	}
}

func TestKeygenCommand_Stdout(t *testing.T) {
	out, err := executeCommand("keygen", "--out", "")
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	if !strings.Contains(out, "private: ") || !strings.Contains(out, "public: ") {
		t.Errorf("output = %q", out)
	}
}

func TestInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("log:\n  format: xml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := executeCommand("keygen", "--config", path)
	cfgFile = ""
	if err == nil || !strings.Contains(err.Error(), "log.format") {
		t.Errorf("err = %v", err)
	}
}

func TestConnectCommand_BadAddress(t *testing.T) {
	if _, err := executeCommand("connect", "not-an-address"); err == nil {
		t.Error("expected error")
	}
	if _, err := executeCommand("connect"); err == nil {
		t.Error("expected error for missing address")
	}
}

func TestDiscoverCommand_RequiresPort(t *testing.T) {
	_, err := executeCommand("discover", "--port", "0")
	if err == nil || !strings.Contains(err.Error(), "--port") {
		t.Errorf("err = %v", err)
	}
}

func TestConnectCommand(t *testing.T) {
	nop := zerolog.Nop()
	received := make(chan string, 4)
	peers := &host.PeerEvents{
		Receive: func(p *host.Peer, msg *packet.Reader, info host.MessageReceived) {
			received <- string(msg.Remaining())
		},
	}
	server, err := host.New(host.HostConfig{
		BindAddress: netip.MustParseAddr("127.0.0.1"),
		Logger:      &nop,
	}, &host.HostEvents{
		ReceiveRequest: func(req *host.ConnectionRequest, msg *packet.Reader) {
			req.Accept(host.PeerConfig{}, peers)
		},
	})
	if err != nil {
		t.Skipf("cannot listen on loopback: %v", err)
	}
	defer server.Dispose()

	out, err := executeCommand("connect", server.AddrPort().String(), "hello", "world", "--channel", "7", "--log-level", "error")
	if err != nil {
		t.Fatalf("connect failed: %v\n%s", err, out)
	}
	for _, want := range []string{"connected to", "acked seq=0", "acked seq=1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	got := []string{<-received, <-received}
	if fmt.Sprint(got) != "[hello world]" {
		t.Errorf("received %v", got)
	}
}
