package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/vibing/supernet/host"
)

const shutdownTimeout = 2 * time.Second

// newHost creates a host from the loaded config. port overrides the
// configured port when non-zero.
func newHost(port uint16, broadcast bool, listener host.HostListener) (*host.Host, error) {
	hc, err := cfg.HostConfig()
	if err != nil {
		return nil, err
	}
	if port != 0 {
		hc.Port = port
	}
	if broadcast {
		hc.Broadcast = true
	}
	hc.Logger = &logger
	return host.New(hc, listener)
}

// shutdown disconnects every peer and closes h.
func shutdown(h *host.Host) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := h.Shutdown(ctx); err != nil && !errors.Is(err, host.ErrDisposed) {
		logger.Warn().Err(err).Msg("shutdown")
	}
}
