package fileserver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
)

// TunnelInfo describes one active tunnel held by the local agent.
type TunnelInfo struct {
	// PublicURL is the externally reachable base URL.
	PublicURL string
	// ForwardAddr is the local address the tunnel forwards to.
	ForwardAddr string
}

// TunnelAgent is the contract for the external process that exposes a local
// port publicly. Implementations must return ErrTunnelConflict (possibly
// wrapped) from Connect when the endpoint is already online, and
// ErrConfiguration when their credential is missing.
type TunnelAgent interface {
	// List reports tunnels currently held by the local agent, including
	// ones left behind by crashed runs.
	List(ctx context.Context) ([]TunnelInfo, error)
	// Connect opens a tunnel forwarding to the given local port.
	Connect(ctx context.Context, port int) (TunnelInfo, error)
	// Disconnect closes one tunnel by its public URL.
	Disconnect(ctx context.Context, publicURL string) error
	// Reset tears down the local agent process entirely, clearing any
	// state a plain Disconnect cannot reach.
	Reset(ctx context.Context) error
}

// resolvePublicTunnel opens a tunnel to port, recovering from stale tunnels
// left by prior crashed runs: any listed tunnel already forwarding to our
// port is disconnected first, and an "already online" conflict triggers one
// full agent reset before the single retry. Any other failure is fatal for
// startup.
func resolvePublicTunnel(ctx context.Context, agent TunnelAgent, port int, logger *log.Logger) (TunnelInfo, error) {
	if tunnels, err := agent.List(ctx); err == nil {
		for _, t := range tunnels {
			if strings.Contains(t.ForwardAddr, strconv.Itoa(port)) {
				logger.Info("disconnecting stale tunnel", "port", port, "url", t.PublicURL)
				_ = agent.Disconnect(ctx, t.PublicURL)
			}
		}
	}

	info, err := agent.Connect(ctx, port)
	if err == nil {
		return info, nil
	}
	if !errors.Is(err, ErrTunnelConflict) {
		return TunnelInfo{}, fmt.Errorf("tunnel connect: %w", err)
	}

	logger.Warn("stale tunnel endpoint detected, resetting agent and retrying")
	_ = agent.Reset(ctx)

	info, err = agent.Connect(ctx, port)
	if err != nil {
		return TunnelInfo{}, fmt.Errorf("tunnel connect after reset: %w", err)
	}
	return info, nil
}
