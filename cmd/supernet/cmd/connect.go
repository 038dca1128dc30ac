package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vibing/supernet/host"
	"github.com/vibing/supernet/packet"
)

var (
	connectChannelFlag uint8
	connectTimeoutFlag time.Duration
	connectWaitFlag    time.Duration
)

var connectCmd = &cobra.Command{
	Use:   "connect <addr> [message...]",
	Short: "Connect to a host and send messages",
	Long: `Connect to a host, send every message as a reliable ordered message on
--channel, wait until all are acknowledged, then disconnect. Messages
received from the remote during --wait are printed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, err := netip.ParseAddrPort(args[0])
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", args[0], err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pc, err := cfg.PeerConfig()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		connected := make(chan struct{})
		closed := make(chan error, 1)
		events := &host.PeerEvents{
			Connect: func(p *host.Peer) { close(connected) },
			Disconnect: func(p *host.Peer, msg *packet.Reader, reason host.DisconnectReason, err error) {
				if err == nil {
					err = fmt.Errorf("disconnected: %s", reason)
				}
				if msg != nil && msg.Len() > 0 {
					err = fmt.Errorf("%w: %q", err, msg.Remaining())
				}
				closed <- err
			},
			Receive: func(p *host.Peer, msg *packet.Reader, info host.MessageReceived) {
				fmt.Fprintf(out, "recv ch=%d seq=%d %q\n", info.Channel, info.Sequence, msg.Remaining())
			},
		}

		h, err := newHost(0, false, nil)
		if err != nil {
			return err
		}
		defer shutdown(h)

		peer, err := h.Connect(remote, pc, events, nil)
		if err != nil {
			return err
		}

		timeout := time.NewTimer(connectTimeoutFlag)
		defer timeout.Stop()
		select {
		case <-connected:
		case err := <-closed:
			return err
		case <-timeout.C:
			return fmt.Errorf("connect %s: timed out", remote)
		case <-ctx.Done():
			return ctx.Err()
		}
		fmt.Fprintf(out, "connected to %s\n", remote)

		acked := make(chan *host.MessageSent, len(args)-1)
		listener := &host.MessageEvents{
			Acknowledge: func(p *host.Peer, m *host.MessageSent) { acked <- m },
		}
		opts := host.MessageOptions{Channel: connectChannelFlag, Reliable: true, Ordered: true, Timed: true}
		for _, text := range args[1:] {
			if _, err := peer.SendWith(host.RawMessage{MessageOptions: opts, Payload: []byte(text)}, listener); err != nil {
				return err
			}
		}
		for range args[1:] {
			select {
			case m := <-acked:
				fmt.Fprintf(out, "acked seq=%d attempts=%d\n", m.Sequence(), m.Attempts())
			case err := <-closed:
				return err
			case <-timeout.C:
				return errors.New("timed out waiting for acknowledgments")
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if connectWaitFlag > 0 {
			select {
			case <-time.After(connectWaitFlag):
			case err := <-closed:
				return err
			case <-ctx.Done():
			}
		}

		dctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := peer.Disconnect(dctx, nil); err != nil && !errors.Is(err, host.ErrDisposed) {
			return fmt.Errorf("disconnect: %w", err)
		}
		fmt.Fprintf(out, "rtt %s\n", peer.RTT())
		return nil
	},
}

func init() {
	connectCmd.Flags().Uint8Var(&connectChannelFlag, "channel", 0, "channel to send messages on")
	connectCmd.Flags().DurationVar(&connectTimeoutFlag, "timeout", 5*time.Second, "time allowed to connect and for all acknowledgments")
	connectCmd.Flags().DurationVar(&connectWaitFlag, "wait", 0, "time to keep printing received messages before disconnecting")
	rootCmd.AddCommand(connectCmd)
}
