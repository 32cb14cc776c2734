package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTarget is returned for a target that cannot be captured,
	// such as process id 0 (the system's "no process" id).
	ErrInvalidTarget = errors.New("invalid capture target")

	// ErrClosed is returned by any operation on a disposed session or engine.
	ErrClosed = errors.New("capture resource is closed")

	// ErrUnavailable marks a capture strategy that cannot run on this host.
	// It is an expected outcome and triggers fallback.
	ErrUnavailable = errors.New("capture strategy unavailable")

	// ErrUnsupported is returned by backends that do not implement a strategy.
	ErrUnsupported = errors.New("not supported on this platform")

	// ErrStopTimeout is returned by Stop when the capture loop did not exit
	// within the stop timeout. Resources are released regardless.
	ErrStopTimeout = errors.New("capture loop did not stop in time")

	// ErrInvalidState is returned when an operation is not valid in the
	// current lifecycle state.
	ErrInvalidState = errors.New("invalid capture state")
)

// HRESULT is a native COM result code. Negative values are failures.
type HRESULT int32

// Failed reports whether hr is a failure code.
func (hr HRESULT) Failed() bool { return hr < 0 }

func (hr HRESULT) Error() string {
	if name, ok := hresultNames[hr]; ok {
		return fmt.Sprintf("HRESULT 0x%08X (%s)", uint32(hr), name)
	}
	return fmt.Sprintf("HRESULT 0x%08X", uint32(hr))
}

// Well-known result codes.
const (
	SOK                       HRESULT = 0
	EFail                     HRESULT = -0x7FFFBFFB // 0x80004005
	ENoInterface              HRESULT = -0x7FFFBFFE // 0x80004002
	ENotImpl                  HRESULT = -0x7FFFBFFF // 0x80004001
	AudclntENotInitialized    HRESULT = -0x7776FFFF // 0x88890001
	AudclntEDeviceInvalidated HRESULT = -0x7776FFFC // 0x88890004
	AudclntEServiceNotRunning HRESULT = -0x7776FFF0 // 0x88890010
	AudclntEBufferError       HRESULT = -0x7776FFE8 // 0x88890018
	AudclntEResourcesInvalid  HRESULT = -0x7776FFDA // 0x88890026
)

var hresultNames = map[HRESULT]string{
	EFail:                     "E_FAIL",
	ENoInterface:              "E_NOINTERFACE",
	ENotImpl:                  "E_NOTIMPL",
	AudclntENotInitialized:    "AUDCLNT_E_NOT_INITIALIZED",
	AudclntEDeviceInvalidated: "AUDCLNT_E_DEVICE_INVALIDATED",
	AudclntEServiceNotRunning: "AUDCLNT_E_SERVICE_NOT_RUNNING",
	AudclntEBufferError:       "AUDCLNT_E_BUFFER_ERROR",
	AudclntEResourcesInvalid:  "AUDCLNT_E_RESOURCES_INVALIDATED",
}

// fatalDrainCodes end a capture session; other drain failures are retried.
var fatalDrainCodes = map[HRESULT]bool{
	AudclntENotInitialized:    true,
	AudclntEDeviceInvalidated: true,
	AudclntEServiceNotRunning: true,
	AudclntEResourcesInvalid:  true,
}

// ActivationErrorKind classifies activation handshake failures.
type ActivationErrorKind uint8

const (
	ActivationTimeout ActivationErrorKind = iota + 1
	ActivationNativeFailure
	ActivationNoInterface
)

func (k ActivationErrorKind) String() string {
	switch k {
	case ActivationTimeout:
		return "timeout"
	case ActivationNativeFailure:
		return "native failure"
	case ActivationNoInterface:
		return "no interface"
	default:
		return "unknown"
	}
}

// ActivationError reports why the process loopback client could not be
// activated.
type ActivationError struct {
	Kind ActivationErrorKind
	Code HRESULT // set for ActivationNativeFailure
	Err  error

	// params is set when the request was abandoned while still in flight.
	params *paramOwner
}

// Release frees activation parameters still held by an abandoned request.
// The late completion frees them too; whichever runs first wins. It is a
// no-op for errors that hold nothing.
func (e *ActivationError) Release() {
	if e != nil {
		e.params.free()
	}
}

func (e *ActivationError) Error() string {
	msg := "activate process loopback: " + e.Kind.String()
	if e.Kind == ActivationNativeFailure {
		msg += ": " + e.Code.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ActivationError) Unwrap() error { return e.Err }

// InitError reports a failure while initializing or starting a session.
type InitError struct {
	Op   string
	Code HRESULT
	Err  error
}

func (e *InitError) Error() string {
	msg := "initialize capture session: " + e.Op
	if e.Code != SOK {
		msg += ": " + e.Code.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InitError) Unwrap() error { return e.Err }

// DrainErrorKind separates retryable drain failures from terminal ones.
type DrainErrorKind uint8

const (
	DrainTransient DrainErrorKind = iota + 1
	DrainFatal
)

// DrainError reports a failure while reading a packet from a session.
type DrainError struct {
	Kind DrainErrorKind
	Op   string
	Err  error
}

func (e *DrainError) Error() string {
	kind := "transient"
	if e.Kind == DrainFatal {
		kind = "fatal"
	}
	return fmt.Sprintf("drain %s (%s): %v", e.Op, kind, e.Err)
}

func (e *DrainError) Unwrap() error { return e.Err }

// Fatal reports whether the session must stop.
func (e *DrainError) Fatal() bool { return e.Kind == DrainFatal }

// EngineErrorKind classifies terminal engine errors.
type EngineErrorKind uint8

const (
	NoCaptureAvailable EngineErrorKind = iota + 1
	SinkClosed
	CaptureFailed
)

func (k EngineErrorKind) String() string {
	switch k {
	case NoCaptureAvailable:
		return "no capture available"
	case SinkClosed:
		return "sink closed"
	case CaptureFailed:
		return "capture failed"
	default:
		return "unknown"
	}
}

// EngineError is the terminal error surfaced once by the engine.
type EngineError struct {
	Kind EngineErrorKind
	Err  error
}

func (e *EngineError) Error() string {
	if e.Err == nil {
		return "capture engine: " + e.Kind.String()
	}
	return fmt.Sprintf("capture engine: %s: %v", e.Kind, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// IsEngineError reports whether err is an EngineError of the given kind.
func IsEngineError(err error, kind EngineErrorKind) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Kind == kind
}

// IsActivationError reports whether err is an ActivationError of the given kind.
func IsActivationError(err error, kind ActivationErrorKind) bool {
	var ae *ActivationError
	return errors.As(err, &ae) && ae.Kind == kind
}

// hresultOf extracts a native result code from err, or EFail if none.
func hresultOf(err error) HRESULT {
	var hr HRESULT
	if errors.As(err, &hr) {
		return hr
	}
	return EFail
}
