package signaling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/rtcsignal/internal/config"
	"github.com/1ureka/rtcsignal/internal/transport"
	"github.com/1ureka/rtcsignal/internal/util"
)

var (
	ErrNegotiationTimeout = errors.New("negotiation timed out")
	ErrEngineClosed       = errors.New("peer connection closed before connecting")
)

const handshakeTimeout = 15 * time.Second

// Establish executes the full answering-side flow:
//  1. Connect to the signaling relay
//  2. Create a Transport
//  3. Announce ourselves and answer the peer's offer
//  4. Exchange candidates until the PeerConnection is connected
//  5. Close the relay connection (resource cleanup)
//  6. Return the connected Transport
func Establish(ctx context.Context, cfg config.Config, opts ...Option) (*transport.Transport, error) {
	// 1. Connect to the relay.
	util.LogInfo("connecting to signaling relay %s", cfg.SignalURL)
	ch, err := Dial(ctx, cfg.SignalURL, DialOptions{
		HandshakeTimeout: handshakeTimeout,
		PingInterval:     cfg.PingInterval,
	})
	if err != nil {
		return nil, err
	}
	defer ch.Close()
	util.LogDebug("WS connected: %s", cfg.SignalURL)

	// 2. Create Transport.
	tr, err := transport.New(ctx, transport.OptionsFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create Transport: %w", err)
	}

	// 3-4. Negotiate.
	opts = append([]Option{WithMode(cfg.Mode)}, opts...)
	if err := Negotiate(ctx, ch, tr, cfg.NegotiationTimeout, opts...); err != nil {
		tr.Close()
		return nil, err
	}

	// 5. The deferred Close releases the relay connection.
	return tr, nil
}

// Negotiate runs an Adapter over conn until the engine connects. It fails
// when the channel closes first, when the engine shuts down, when timeout
// (if positive) elapses, or when ctx is cancelled. The adapter loop has
// exited when Negotiate returns; only the track handler stays attached to
// the engine.
func Negotiate(ctx context.Context, conn Conn, engine Engine, timeout time.Duration, opts ...Option) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a := NewAdapter(conn, engine, opts...)

	// Start adapter loop (background goroutine).
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(runCtx)
	}()

	// Stop the loop and wait for it.
	stop := func() {
		cancel()
		<-errCh
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	var engineDone <-chan struct{}
	if d, ok := engine.(interface{ Done() <-chan struct{} }); ok {
		engineDone = d.Done()
	}

	// Wait for result.
	select {
	case <-a.Connected():
		stop()
		util.LogSuccess("peer connected (session %s)", a.ID())
		util.LogDebug("signaling: %s", util.Summary())
		return nil

	case err := <-errCh:
		cancel()
		// If the relay went away right as the engine connected, that's fine.
		select {
		case <-a.Connected():
			return nil
		default:
			return fmt.Errorf("signaling failed: %w", err)
		}

	case <-engineDone:
		stop()
		return ErrEngineClosed

	case <-timeoutCh:
		stop()
		return fmt.Errorf("%w after %s (phase %s)", ErrNegotiationTimeout, timeout, a.Phase())

	case <-ctx.Done():
		stop()
		return ctx.Err()
	}
}
