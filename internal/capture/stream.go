package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/breeze-rmm/audiocapture/internal/pcm"
)

// DefaultPollInterval is how long the polling loop yields when no packet is
// pending.
const DefaultPollInterval = 5 * time.Millisecond

// Mode reports which capture topology is active.
type Mode uint8

const (
	ModeNone Mode = iota
	// ModeProcess captures only the target process tree.
	ModeProcess
	// ModeDevice captures the whole default render device. It is a
	// reduced-fidelity mode: all system audio is included.
	ModeDevice
)

func (m Mode) String() string {
	switch m {
	case ModeProcess:
		return "process"
	case ModeDevice:
		return "device"
	default:
		return "none"
	}
}

// Deliver receives one captured packet in the stream's native format. The
// slice is only valid for the duration of the call. A non-nil error ends the
// stream.
type Deliver func(data []byte) error

// Stream is an established capture strategy.
type Stream interface {
	Mode() Mode
	Format() pcm.Format
	// Pump delivers packets in capture order until stop is closed or capture
	// fails. It returns nil on a requested stop.
	Pump(stop <-chan struct{}, deliver Deliver) error
	// Close releases every native resource of the stream. It is idempotent.
	Close() error
}

// ProcessOptions tune the per-process strategy.
type ProcessOptions struct {
	ActivationTimeout time.Duration
	PollInterval      time.Duration
}

// processStream drains a per-process loopback session by polling.
type processStream struct {
	session    *Session
	activation *Activation
	poll       time.Duration
}

// OpenProcessStream composes the activation handshake and a capture session
// into a running per-process stream. Any failure disposes what was built and
// returns an error wrapping ErrUnavailable. When the handshake timed out the
// error also wraps an *ActivationError whose Release must be called.
func OpenProcessStream(ctx context.Context, activator ProcessActivator, target Target, opts ProcessOptions) (Stream, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	session := NewSession()
	if err := session.beginActivation(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	act, err := Activate(ctx, activator, target, opts.ActivationTimeout)
	if err != nil {
		_ = session.Dispose()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	ps := &processStream{session: session, activation: act, poll: opts.PollInterval}
	if _, err := session.Initialize(act.Client); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err := session.Start(); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return ps, nil
}

func (p *processStream) Mode() Mode         { return ModeProcess }
func (p *processStream) Format() pcm.Format { return p.session.Format() }

func (p *processStream) Pump(stop <-chan struct{}, deliver Deliver) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		frame, err := p.session.DrainOnce()
		if err != nil {
			var de *DrainError
			if errors.As(err, &de) && !de.Fatal() {
				log.Debug("transient drain failure", "error", err)
				if !sleepOrStop(stop, p.poll) {
					return nil
				}
				continue
			}
			if errors.Is(err, ErrClosed) {
				// Released underneath us by a timed-out stop.
				return nil
			}
			return err
		}
		if frame == nil {
			if !sleepOrStop(stop, p.poll) {
				return nil
			}
			continue
		}
		if err := deliver(frame.Data); err != nil {
			return err
		}
	}
}

// Close disposes the session, then frees the activation parameters.
func (p *processStream) Close() error {
	err := p.session.Dispose()
	p.activation.Release()
	return err
}

// sleepOrStop waits for d and reports false if stop closed first.
func sleepOrStop(stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
