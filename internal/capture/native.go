package capture

import (
	"fmt"
	"strings"
	"time"

	"github.com/breeze-rmm/audiocapture/internal/pcm"
)

// ProcessLoopbackDevice is the virtual device path that denotes process
// loopback rather than a physical endpoint.
const ProcessLoopbackDevice = `VAD\Process_Loopback`

// DefaultActivationTimeout bounds the wait for the activation completion.
const DefaultActivationTimeout = 10 * time.Second

// LoopbackMode selects whether the target's child processes are captured.
type LoopbackMode uint8

const (
	// IncludeTree captures the target process and its descendants.
	IncludeTree LoopbackMode = iota
	// ExcludeTree captures everything except the target process tree.
	ExcludeTree
)

func (m LoopbackMode) String() string {
	if m == ExcludeTree {
		return "exclude-tree"
	}
	return "include-tree"
}

// ParseLoopbackMode accepts "include"/"exclude" and their "-tree" forms.
func ParseLoopbackMode(s string) (LoopbackMode, error) {
	switch strings.ToLower(s) {
	case "", "include", "include-tree":
		return IncludeTree, nil
	case "exclude", "exclude-tree":
		return ExcludeTree, nil
	default:
		return IncludeTree, fmt.Errorf("unknown loopback mode %q", s)
	}
}

// Target identifies the process whose render streams are captured.
type Target struct {
	ProcessID uint32
	Mode      LoopbackMode
}

// Validate rejects targets that have no capture meaning.
func (t Target) Validate() error {
	if t.ProcessID == 0 {
		return fmt.Errorf("%w: process id 0 denotes no process", ErrInvalidTarget)
	}
	return nil
}

// StreamFlags are passed to AudioClient.Initialize.
type StreamFlags uint32

// StreamFlagsLoopback requests a loopback capture stream.
const StreamFlagsLoopback StreamFlags = 0x00020000

// BufferFlags describe a buffer returned by CaptureClient.GetBuffer.
type BufferFlags uint32

const (
	BufferFlagDataDiscontinuity BufferFlags = 0x1
	BufferFlagSilent            BufferFlags = 0x2
	BufferFlagTimestampError    BufferFlags = 0x4
)

// AudioClient is the subset of the native audio client a capture session
// needs. Implementations return HRESULT values (or errors wrapping them) on
// native failures.
type AudioClient interface {
	// MixFormat reports the engine's shared-mode mix format.
	MixFormat() (pcm.Format, error)
	// Initialize prepares a shared-mode stream. A zero bufferDuration asks
	// for the device default.
	Initialize(format pcm.Format, flags StreamFlags, bufferDuration time.Duration) error
	// CaptureClient returns the capture service of an initialized client.
	CaptureClient() (CaptureClient, error)
	Start() error
	Stop() error
	// Release drops the native reference. It is called once.
	Release() error
}

// Buffer is a view of a native capture buffer. Data is only valid until the
// matching ReleaseBuffer call and may be nil for silent buffers.
type Buffer struct {
	Data   []byte
	Frames uint32
	Flags  BufferFlags
}

// CaptureClient is the subset of the native capture client used for draining.
type CaptureClient interface {
	NextPacketSize() (uint32, error)
	GetBuffer() (Buffer, error)
	ReleaseBuffer(frames uint32) error
	// Release drops the native reference. It is called once.
	Release() error
}

// ActivationResult is delivered by a ProcessActivator when the native
// activation completes. Client is nil when the activated interface could not
// be converted to an AudioClient.
type ActivationResult struct {
	Code   HRESULT
	Client AudioClient
}

// ParamBlock owns native memory that must outlive the activation request.
type ParamBlock interface {
	Free()
}

// ProcessActivator issues the asynchronous process loopback activation.
//
// BeginActivate must call done exactly once, from any goroutine, unless it
// returns an error. The returned ParamBlock is owned by the caller.
type ProcessActivator interface {
	BeginActivate(devicePath string, target Target, done func(ActivationResult)) (ParamBlock, error)
}

// Apartment prepares the calling OS thread for native calls (COM apartment
// entry on Windows). The returned leave function undoes it.
type Apartment interface {
	Enter() (leave func(), err error)
}

// DeviceOpener opens the fallback full-device loopback stream.
type DeviceOpener interface {
	OpenDefault() (Stream, error)
}

// Backend bundles the platform bindings used by the engine. Nil members
// disable the corresponding strategy.
type Backend struct {
	Activator ProcessActivator
	Devices   DeviceOpener
	Apartment Apartment
}

func (b Backend) enter() func() {
	if b.Apartment == nil {
		return func() {}
	}
	leave, err := b.Apartment.Enter()
	if err != nil {
		log.Warn("failed to enter native apartment", "error", err)
		return func() {}
	}
	return leave
}
