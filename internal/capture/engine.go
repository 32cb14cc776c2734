// Package capture implements the capture engine: per-process loopback
// activation and draining, fallback to full-device loopback, and delivery of
// converted PCM to a caller-owned sink.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/breeze-rmm/audiocapture/internal/health"
	"github.com/breeze-rmm/audiocapture/internal/logging"
	"github.com/breeze-rmm/audiocapture/internal/pcm"
)

var log = logging.L("capture")

// DefaultStopTimeout bounds how long Stop waits for the capture loop.
const DefaultStopTimeout = time.Second

// HealthComponent is the name the engine reports under in a health.Monitor.
const HealthComponent = "audio_capture"

// EngineState is the lifecycle position of an Engine.
type EngineState uint8

const (
	EngineIdle EngineState = iota
	EngineStarting
	EngineRunning
	EngineStopping
	EngineStopped
)

func (s EngineState) String() string {
	switch s {
	case EngineIdle:
		return "idle"
	case EngineStarting:
		return "starting"
	case EngineRunning:
		return "running"
	case EngineStopping:
		return "stopping"
	case EngineStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithActivationTimeout bounds the per-process activation handshake.
func WithActivationTimeout(d time.Duration) Option {
	return func(e *Engine) { e.activationTimeout = d }
}

// WithPollInterval sets the yield between empty polls of the capture loop.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) { e.pollInterval = d }
}

// WithStopTimeout bounds how long Stop waits for the capture loop to exit.
func WithStopTimeout(d time.Duration) Option {
	return func(e *Engine) { e.stopTimeout = d }
}

// WithDeviceFallback enables or disables the full-device fallback.
func WithDeviceFallback(enabled bool) Option {
	return func(e *Engine) { e.fallback = enabled }
}

// WithLogger replaces the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithHealth reports capture health to m.
func WithHealth(m *health.Monitor) Option {
	return func(e *Engine) { e.health = m }
}

// Engine selects a capture strategy, runs the capture loop and writes
// target-format PCM to the sink. The sink stays owned by the caller and is
// never closed by the engine.
type Engine struct {
	target  Target
	sink    io.Writer
	backend Backend

	activationTimeout time.Duration
	pollInterval      time.Duration
	stopTimeout       time.Duration
	fallback          bool
	logger            *slog.Logger
	health            *health.Monitor

	mu            sync.Mutex
	state         EngineState
	mode          Mode
	stream        Stream
	closed        bool
	stopRequested bool
	cancelStart   context.CancelFunc
	err           error

	// Abandoned activations whose parameters are freed when the engine stops.
	held []*ActivationError

	stopCh      chan struct{}
	stopOnce    sync.Once
	loopDone    chan struct{}
	done        chan struct{}
	doneOnce    sync.Once
	releaseOnce sync.Once

	// Touched only by the goroutine delivering packets.
	conv       *pcm.Converter
	convWarned bool
}

// NewEngine creates an idle engine for target writing to sink.
func NewEngine(target Target, sink io.Writer, backend Backend, opts ...Option) (*Engine, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, errors.New("capture engine: sink is nil")
	}
	e := &Engine{
		target:            target,
		sink:              sink,
		backend:           backend,
		activationTimeout: DefaultActivationTimeout,
		pollInterval:      DefaultPollInterval,
		stopTimeout:       DefaultStopTimeout,
		fallback:          true,
		stopCh:            make(chan struct{}),
		loopDone:          make(chan struct{}),
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log
	}
	e.logger = e.logger.With("pid", target.ProcessID)
	return e, nil
}

// State returns the current engine state.
func (e *Engine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Mode returns the active capture topology, or ModeNone when not running.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Done is closed once the engine reaches EngineStopped.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Err returns the terminal error, if any.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Wait blocks until the engine stops and returns its terminal error.
func (e *Engine) Wait() error {
	<-e.done
	return e.Err()
}

// Start selects a strategy and starts the capture loop. Per-process capture
// is tried first; when it is unavailable the default device is captured
// instead. Start returns an EngineError of kind NoCaptureAvailable when
// neither can be established.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.state != EngineIdle {
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("%w: engine is %s", ErrInvalidState, state)
	}
	e.state = EngineStarting
	startCtx, cancel := context.WithCancel(ctx)
	e.cancelStart = cancel
	e.mu.Unlock()
	defer cancel()

	stream, err := e.open(startCtx)

	e.mu.Lock()
	e.cancelStart = nil
	if e.stopRequested || e.closed {
		e.state = EngineStopped
		e.mu.Unlock()
		if stream != nil {
			e.closeStream(stream)
		}
		e.releaseHeld()
		e.closeDone()
		return ErrClosed
	}
	if err != nil {
		e.state = EngineStopped
		e.err = err
		e.mu.Unlock()
		e.report(health.Unhealthy, err.Error())
		e.releaseHeld()
		e.closeDone()
		return err
	}
	e.stream = stream
	e.mode = stream.Mode()
	e.state = EngineRunning
	e.conv = pcm.NewConverter(stream.Format(), pcm.Target)
	e.mu.Unlock()

	if e.conv.Passthrough() {
		e.logger.Info("capture format matches output, no conversion", "format", stream.Format().String())
	} else {
		e.logger.Info("converting capture format", "from", stream.Format().String(), "to", pcm.Target.String())
	}
	if stream.Mode() == ModeDevice {
		e.report(health.Degraded, "capturing all system audio; per-process capture unavailable")
	} else {
		e.report(health.Healthy, "per-process capture running")
	}

	go e.run(stream)
	return nil
}

func (e *Engine) open(ctx context.Context) (Stream, error) {
	leave := e.backend.enter()
	defer leave()

	var causes []error
	if e.backend.Activator != nil {
		stream, err := OpenProcessStream(ctx, e.backend.Activator, e.target, ProcessOptions{
			ActivationTimeout: e.activationTimeout,
			PollInterval:      e.pollInterval,
		})
		if err == nil {
			e.logger.Info("per-process capture active", "mode", e.target.Mode.String())
			return stream, nil
		}
		var ae *ActivationError
		if errors.As(err, &ae) && ae.params != nil {
			e.mu.Lock()
			e.held = append(e.held, ae)
			e.mu.Unlock()
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Info("per-process capture unavailable", "error", err)
		causes = append(causes, err)
	} else {
		causes = append(causes, fmt.Errorf("%w: per-process capture: %w", ErrUnavailable, ErrUnsupported))
	}

	if !e.fallback {
		return nil, &EngineError{Kind: NoCaptureAvailable, Err: errors.Join(causes...)}
	}
	if e.backend.Devices == nil {
		causes = append(causes, fmt.Errorf("device loopback: %w", ErrUnsupported))
		return nil, &EngineError{Kind: NoCaptureAvailable, Err: errors.Join(causes...)}
	}

	stream, err := e.backend.Devices.OpenDefault()
	if err != nil {
		causes = append(causes, fmt.Errorf("device loopback: %w", err))
		return nil, &EngineError{Kind: NoCaptureAvailable, Err: errors.Join(causes...)}
	}
	e.logger.Warn("falling back to device loopback: ALL system audio is captured, not just the target process",
		"format", stream.Format().String())
	return stream, nil
}

func (e *Engine) run(stream Stream) {
	defer close(e.loopDone)

	err := func() error {
		leave := e.backend.enter()
		defer leave()
		return stream.Pump(e.stopCh, e.deliver)
	}()

	if err != nil {
		if !IsEngineError(err, SinkClosed) {
			err = &EngineError{Kind: CaptureFailed, Err: err}
		}
		e.logger.Warn("capture loop ended", "error", err)
		e.mu.Lock()
		if e.err == nil {
			e.err = err
		}
		if e.state == EngineRunning {
			e.state = EngineStopping
		}
		e.mu.Unlock()
		e.report(health.Unhealthy, err.Error())
	}
	e.finish()
}

func (e *Engine) deliver(data []byte) error {
	out, err := e.conv.Convert(data)
	if err != nil && !e.convWarned {
		e.convWarned = true
		e.logger.Warn("format conversion failed, passing audio through unconverted; output is not s16le/48k/stereo",
			"error", err)
	}
	if len(out) == 0 {
		return nil
	}
	if _, err := e.sink.Write(out); err != nil {
		return &EngineError{Kind: SinkClosed, Err: err}
	}
	return nil
}

// Stop ends capture. It is safe to call from any state and more than once.
// It waits up to the stop timeout for the capture loop, then releases the
// stream regardless; ErrStopTimeout reports that the wait expired.
func (e *Engine) Stop() error {
	e.mu.Lock()
	switch e.state {
	case EngineIdle:
		e.state = EngineStopped
		e.mu.Unlock()
		e.closeDone()
		return nil
	case EngineStopped:
		e.mu.Unlock()
		return nil
	case EngineStarting:
		e.stopRequested = true
		cancel := e.cancelStart
		e.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return e.waitFor(e.done)
	case EngineRunning:
		e.state = EngineStopping
	}
	e.mu.Unlock()

	e.stopOnce.Do(func() { close(e.stopCh) })
	err := e.waitFor(e.loopDone)
	if err != nil {
		e.logger.Warn("capture loop did not exit in time, releasing resources", "timeout", e.stopTimeout)
	}
	e.finish()
	return err
}

// Close stops the engine and marks it disposed; Start fails afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return e.Stop()
}

func (e *Engine) waitFor(ch <-chan struct{}) error {
	t := time.NewTimer(e.stopTimeout)
	defer t.Stop()
	select {
	case <-ch:
		return nil
	case <-t.C:
		return ErrStopTimeout
	}
}

// finish releases the stream once and moves the engine to EngineStopped.
func (e *Engine) finish() {
	e.releaseOnce.Do(func() {
		e.mu.Lock()
		stream := e.stream
		e.mu.Unlock()
		if stream != nil {
			e.closeStream(stream)
		}
	})
	e.releaseHeld()

	e.mu.Lock()
	e.state = EngineStopped
	e.mode = ModeNone
	e.mu.Unlock()
	e.closeDone()
}

func (e *Engine) closeStream(stream Stream) {
	if err := stream.Close(); err != nil {
		e.logger.Debug("release capture stream", "error", err)
	}
}

// releaseHeld frees parameters of activations that never completed.
func (e *Engine) releaseHeld() {
	e.mu.Lock()
	held := e.held
	e.held = nil
	e.mu.Unlock()
	for _, ae := range held {
		ae.Release()
	}
}

func (e *Engine) closeDone() {
	e.doneOnce.Do(func() {
		close(e.done)
		e.logger.Info("capture stopped")
	})
}

func (e *Engine) report(status health.Status, msg string) {
	if e.health != nil {
		e.health.Update(HealthComponent, status, msg)
	}
}
