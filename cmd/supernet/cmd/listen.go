package cmd

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vibing/supernet/host"
	"github.com/vibing/supernet/packet"
)

// discoveryReply prefixes the answer to a discovery broadcast.
const discoveryReply = "supernet"

var (
	listenPortFlag uint16
	listenEchoFlag bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run a host that accepts every peer",
	Long: `Run a host that accepts every connection request and logs the messages
it receives. With --echo every message is sent back with the same options.
Discovery broadcasts are answered with the host's public key.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pc, err := cfg.PeerConfig()
		if err != nil {
			return err
		}

		var self atomic.Pointer[host.Host]
		peers := &host.PeerEvents{
			Connect: func(p *host.Peer) {
				logger.Info().Stringer("remote", p.Remote()).Msg("peer connected")
			},
			Disconnect: func(p *host.Peer, msg *packet.Reader, reason host.DisconnectReason, err error) {
				ev := logger.Info().Stringer("remote", p.Remote()).Stringer("reason", reason).Err(err)
				if msg != nil && msg.Len() > 0 {
					ev = ev.Bytes("message", msg.Remaining())
				}
				ev.Msg("peer disconnected")
			},
			Receive: func(p *host.Peer, msg *packet.Reader, info host.MessageReceived) {
				data := msg.Remaining()
				logger.Info().
					Stringer("remote", p.Remote()).
					Uint8("channel", info.Channel).
					Uint16("seq", info.Sequence).
					Bool("reliable", info.Reliable).
					Dur("age", info.Age()).
					Bytes("payload", data).
					Msg("message")
				if !listenEchoFlag {
					return
				}
				reply := host.RawMessage{MessageOptions: info.MessageOptions, Payload: bytes.Clone(data)}
				if _, err := p.Send(reply); err != nil {
					logger.Warn().Stringer("remote", p.Remote()).Err(err).Msg("echo failed")
				}
			},
			Exception: func(p *host.Peer, err error) {
				logger.Debug().Stringer("remote", p.Remote()).Err(err).Msg("peer exception")
			},
		}
		events := &host.HostEvents{
			ReceiveRequest: func(req *host.ConnectionRequest, msg *packet.Reader) {
				if _, err := req.Accept(pc, peers); err != nil {
					logger.Warn().Stringer("remote", req.Remote()).Err(err).Msg("accept failed")
				}
			},
			ReceiveBroadcast: func(remote netip.AddrPort, msg *packet.Reader) {
				h := self.Load()
				if h == nil {
					return
				}
				reply := discoveryReply
				if key := h.PublicKey(); key != nil {
					reply += " " + hex.EncodeToString(key)
				}
				if _, err := h.SendUnconnected(remote, packet.Bytes(reply)); err != nil {
					logger.Debug().Stringer("remote", remote).Err(err).Msg("discovery reply failed")
				}
			},
			Exception: func(remote netip.AddrPort, err error) {
				logger.Debug().Stringer("remote", remote).Err(err).Msg("dropped")
			},
		}

		h, err := newHost(listenPortFlag, true, events)
		if err != nil {
			return err
		}
		self.Store(h)
		if key := h.PublicKey(); key != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "public: %s\n", hex.EncodeToString(key))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", h.AddrPort())

		<-ctx.Done()
		shutdown(h)
		st := h.Statistics()
		logger.Info().
			Uint64("rx_packets", st.RxPackets).
			Uint64("tx_packets", st.TxPackets).
			Uint64("dropped", st.Dropped).
			Msg("host stopped")
		return nil
	},
}

func init() {
	listenCmd.Flags().Uint16Var(&listenPortFlag, "port", 0, "UDP port (overrides host.port)")
	listenCmd.Flags().BoolVar(&listenEchoFlag, "echo", false, "send every message back to its sender")
	rootCmd.AddCommand(listenCmd)
}
