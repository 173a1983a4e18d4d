// Package gateway wires the upstream transport and the downstream tool
// subprocess together through the interceptor and sanitizer, running both
// forwarding directions concurrently until either side closes.
package gateway

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chimera-labs/ipg/internal/interceptor"
	"github.com/chimera-labs/ipg/internal/sanitizer"
	"github.com/chimera-labs/ipg/internal/transport"
)

// Gateway owns the downstream subprocess lifecycle and the two forwarding
// loops described in §4.11.
type Gateway struct {
	upstream     transport.Transport
	launcher     Launcher
	interceptor  *interceptor.Interceptor
	sanitizer    *sanitizer.Sanitizer
	shutdownWait time.Duration
	logger       *slog.Logger
}

// New builds a Gateway. shutdownGrace bounds how long Stop waits for the
// downstream process to exit cleanly before force-terminating it.
func New(upstream transport.Transport, launcher Launcher, ic *interceptor.Interceptor, san *sanitizer.Sanitizer, shutdownGrace time.Duration) *Gateway {
	return &Gateway{
		upstream:     upstream,
		launcher:     launcher,
		interceptor:  ic,
		sanitizer:    san,
		shutdownWait: shutdownGrace,
		logger:       slog.Default().With("component", "gateway"),
	}
}

// Run starts the downstream process and both forwarding loops, blocking
// until ctx is cancelled or either direction ends. It always attempts a
// graceful Stop before returning.
func (g *Gateway) Run(ctx context.Context) error {
	downIn, downOut, err := g.launcher.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting downstream: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return g.upstreamToDownstream(groupCtx, downIn)
	})
	group.Go(func() error {
		return g.downstreamToUpstream(groupCtx, downOut)
	})

	err = group.Wait()
	g.Stop(context.Background())
	return err
}

// upstreamToDownstream reads upstream messages, runs them through the
// interceptor, and either writes the rewritten message downstream or (on a
// deny decision) answers upstream directly without forwarding.
func (g *Gateway) upstreamToDownstream(ctx context.Context, downIn io.WriteCloser) error {
	defer downIn.Close()

	msgs, errs := g.upstream.ReadMessages(ctx)
	writer := bufio.NewWriter(downIn)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				continue
			}
			if err != nil {
				return fmt.Errorf("upstream read: %w", err)
			}
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			outcome := g.interceptor.Process(ctx, msg)
			if outcome.Route == "shadow" {
				g.logger.Warn("message routed to shadow environment", "preview", preview(msg))
			}

			if outcome.Block {
				if err := g.upstream.WriteMessage(ctx, outcome.Message); err != nil {
					g.logger.Error("failed to write denial reply upstream", "error", err)
				}
				continue
			}

			if _, err := fmt.Fprintln(writer, outcome.Message); err != nil {
				return fmt.Errorf("downstream write: %w", err)
			}
			if err := writer.Flush(); err != nil {
				return fmt.Errorf("downstream flush: %w", err)
			}
		}
	}
}

// downstreamToUpstream reads downstream lines, sanitizes them, and writes
// them upstream (the HTTP transport routes by id; stdio just appends).
func (g *Gateway) downstreamToUpstream(ctx context.Context, downOut io.ReadCloser) error {
	defer downOut.Close()

	scanner := bufio.NewScanner(downOut)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if line == "" {
			continue
		}
		clean := g.sanitizer.Sanitize(line)
		if err := g.upstream.WriteMessage(ctx, clean); err != nil {
			g.logger.Error("failed to write message upstream", "error", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("downstream read: %w", err)
	}
	return nil
}

// Stop closes the upstream transport and terminates the downstream
// process, waiting up to the configured grace period before force-killing.
func (g *Gateway) Stop(ctx context.Context) {
	if err := g.launcher.Stop(ctx, g.shutdownWait); err != nil {
		g.logger.Warn("downstream stop error", "error", err)
	}
	if err := g.upstream.Close(); err != nil {
		g.logger.Warn("upstream close error", "error", err)
	}
}

func preview(s string) string {
	const max = 50
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
