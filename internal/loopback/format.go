// Package loopback captures the whole default render device. It is the
// reduced-fidelity fallback used when per-process capture is unavailable.
package loopback

import (
	"errors"
	"fmt"

	"github.com/breeze-rmm/audiocapture/internal/pcm"
)

// DefaultQueueDepth is how many device callbacks may be buffered before
// packets are dropped.
const DefaultQueueDepth = 64

// ErrDeviceStopped is returned by Pump when the device stops on its own,
// for example because the endpoint was unplugged.
var ErrDeviceStopped = errors.New("loopback device stopped")

// Sample format codes as numbered by miniaudio's ma_format.
const (
	sampleUnknown = iota
	sampleU8
	sampleS16
	sampleS24
	sampleS32
	sampleF32
)

// nativeFormat describes the negotiated device format as a pcm.Format.
func nativeFormat(code int, channels, rate uint32) (pcm.Format, error) {
	f := pcm.Format{SampleRate: rate, Channels: uint16(channels), Encoding: pcm.IntegerPCM}
	switch code {
	case sampleU8:
		f.BitsPerSample = 8
	case sampleS16:
		f.BitsPerSample = 16
	case sampleS24:
		f.BitsPerSample = 24
	case sampleS32:
		f.BitsPerSample = 32
	case sampleF32:
		f.Encoding, f.BitsPerSample = pcm.FloatPCM, 32
	default:
		return pcm.Format{}, fmt.Errorf("unknown device sample format %d", code)
	}
	if err := f.Validate(); err != nil {
		return pcm.Format{}, fmt.Errorf("device format %s: %w", f, err)
	}
	return f, nil
}
