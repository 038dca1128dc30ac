package cmd

import (
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vibing/supernet/host"
	"github.com/vibing/supernet/packet"
)

var (
	discoverPortFlag uint16
	discoverWaitFlag time.Duration
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find hosts on the local network",
	Long: `Broadcast a discovery message to --port and print every host that
answers within --wait.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if discoverPortFlag == 0 {
			return fmt.Errorf("--port flag is required")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var (
			mu   sync.Mutex
			seen = make(map[netip.AddrPort]bool)
		)
		out := cmd.OutOrStdout()
		events := &host.HostEvents{ReceiveUnconnected: func(remote netip.AddrPort, msg *packet.Reader) {
			reply := string(msg.Remaining())
			if !strings.HasPrefix(reply, discoveryReply) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[remote] {
				return
			}
			seen[remote] = true
			fmt.Fprintf(out, "%s %s\n", remote, strings.TrimSpace(strings.TrimPrefix(reply, discoveryReply)))
		}}

		h, err := newHost(0, true, events)
		if err != nil {
			return err
		}
		defer shutdown(h)

		if _, err := h.SendBroadcast(discoverPortFlag, packet.Bytes(discoveryReply+"?")); err != nil {
			return fmt.Errorf("broadcast: %w", err)
		}

		select {
		case <-time.After(discoverWaitFlag):
		case <-ctx.Done():
		}

		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == 0 {
			fmt.Fprintln(out, "no hosts found")
		}
		return nil
	},
}

func init() {
	discoverCmd.Flags().Uint16Var(&discoverPortFlag, "port", 0, "port the hosts listen on (required)")
	discoverCmd.Flags().DurationVar(&discoverWaitFlag, "wait", time.Second, "time to wait for answers")
	rootCmd.AddCommand(discoverCmd)
}
