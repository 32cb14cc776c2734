package capture

import (
	"errors"
	"sync"

	"github.com/breeze-rmm/audiocapture/internal/pcm"
)

// maxTransientStreak is how many consecutive transient drain failures are
// tolerated before the session is treated as lost.
const maxTransientStreak = 100

// SessionState is the lifecycle position of a Session.
type SessionState uint8

const (
	SessionUninitialized SessionState = iota
	SessionActivating
	SessionInitialized
	SessionRunning
	SessionStopped
	SessionDisposed
)

func (s SessionState) String() string {
	switch s {
	case SessionUninitialized:
		return "uninitialized"
	case SessionActivating:
		return "activating"
	case SessionInitialized:
		return "initialized"
	case SessionRunning:
		return "running"
	case SessionStopped:
		return "stopped"
	case SessionDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Frame is one drained packet. Data is owned by the caller.
type Frame struct {
	Data       []byte
	FrameCount uint32
	Silent     bool
}

// Session owns one native audio client and, once initialized, its capture
// client. DrainOnce is serialized so only one reader drains at a time.
type Session struct {
	mu        sync.Mutex
	state     SessionState
	client    AudioClient
	capture   CaptureClient
	format    pcm.Format
	transient int
}

// NewSession returns an uninitialized session.
func NewSession() *Session {
	return &Session{}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Format returns the negotiated capture format.
func (s *Session) Format() pcm.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

func (s *Session) beginActivation() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionDisposed {
		return ErrClosed
	}
	if s.state != SessionUninitialized {
		return ErrInvalidState
	}
	s.state = SessionActivating
	return nil
}

// Initialize takes ownership of client, negotiates the capture format and
// acquires the capture client. The session owns client even when
// initialization fails; Dispose releases it.
func (s *Session) Initialize(client AudioClient) (pcm.Format, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SessionDisposed:
		if client != nil {
			_ = client.Release()
		}
		return pcm.Format{}, ErrClosed
	case SessionUninitialized, SessionActivating:
	default:
		return pcm.Format{}, &InitError{Op: "initialize", Err: ErrInvalidState}
	}
	if client == nil {
		return pcm.Format{}, &InitError{Op: "initialize", Code: ENoInterface}
	}
	s.client = client

	format, err := client.MixFormat()
	if err != nil {
		log.Info("mix format unavailable, using default", "error", err, "format", pcm.DefaultMixFormat.String())
		format = pcm.DefaultMixFormat
	}

	if err := client.Initialize(format, StreamFlagsLoopback, 0); err != nil {
		return pcm.Format{}, &InitError{Op: "initialize", Code: hresultOf(err), Err: err}
	}

	cc, err := client.CaptureClient()
	if err != nil {
		return pcm.Format{}, &InitError{Op: "get capture client", Code: hresultOf(err), Err: err}
	}
	if cc == nil {
		return pcm.Format{}, &InitError{Op: "get capture client", Code: ENoInterface}
	}

	s.capture = cc
	s.format = format
	s.state = SessionInitialized
	log.Info("capture session initialized", "format", format.String())
	return format, nil
}

// Start asks the native client to begin delivering buffers.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SessionDisposed:
		return ErrClosed
	case SessionInitialized:
	default:
		return &InitError{Op: "start", Err: ErrInvalidState}
	}
	if err := s.client.Start(); err != nil {
		return &InitError{Op: "start", Code: hresultOf(err), Err: err}
	}
	s.state = SessionRunning
	return nil
}

// DrainOnce reads at most one packet. It returns (nil, nil) when no packet is
// pending. Packet bytes are copied before the native buffer is released.
func (s *Session) DrainOnce() (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SessionDisposed:
		return nil, ErrClosed
	case SessionRunning:
	default:
		return nil, &DrainError{Kind: DrainFatal, Op: "state", Err: ErrInvalidState}
	}
	if s.capture == nil {
		return nil, &DrainError{Kind: DrainFatal, Op: "capture client", Err: ErrClosed}
	}

	pending, err := s.capture.NextPacketSize()
	if err != nil {
		return nil, s.drainError("next packet size", err)
	}
	if pending == 0 {
		s.transient = 0
		return nil, nil
	}

	buf, err := s.capture.GetBuffer()
	if err != nil {
		return nil, s.drainError("get buffer", err)
	}

	var frame *Frame
	if buf.Frames > 0 {
		data := make([]byte, int(buf.Frames)*s.format.BlockAlign())
		silent := buf.Flags&BufferFlagSilent != 0
		if !silent {
			copy(data, buf.Data)
		}
		frame = &Frame{Data: data, FrameCount: buf.Frames, Silent: silent}
	}

	if err := s.capture.ReleaseBuffer(buf.Frames); err != nil {
		// The driver's buffer accounting is out of step; nothing further can
		// be read reliably.
		return nil, &DrainError{Kind: DrainFatal, Op: "release buffer", Err: err}
	}
	s.transient = 0
	return frame, nil
}

func (s *Session) drainError(op string, err error) *DrainError {
	var hr HRESULT
	if !errors.As(err, &hr) || fatalDrainCodes[hr] {
		return &DrainError{Kind: DrainFatal, Op: op, Err: err}
	}
	s.transient++
	if s.transient > maxTransientStreak {
		return &DrainError{Kind: DrainFatal, Op: op, Err: err}
	}
	return &DrainError{Kind: DrainTransient, Op: op, Err: err}
}

// Stop halts the native stream. It is idempotent.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionDisposed {
		return ErrClosed
	}
	s.stopLocked()
	return nil
}

func (s *Session) stopLocked() {
	switch s.state {
	case SessionRunning:
		if err := s.client.Stop(); err != nil {
			log.Debug("stop audio client", "error", err)
		}
		s.state = SessionStopped
	case SessionInitialized:
		s.state = SessionStopped
	}
}

// Dispose stops the session if needed and releases the capture client and
// then the audio client. Release failures are logged and swallowed. It is
// idempotent.
func (s *Session) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionDisposed {
		return nil
	}
	s.stopLocked()

	if s.capture != nil {
		if err := s.capture.Release(); err != nil {
			log.Debug("release capture client", "error", err)
		}
		s.capture = nil
	}
	if s.client != nil {
		if err := s.client.Release(); err != nil {
			log.Debug("release audio client", "error", err)
		}
		s.client = nil
	}
	s.state = SessionDisposed
	return nil
}
