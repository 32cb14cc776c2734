//go:build !windows || !cgo

package loopback

import "github.com/breeze-rmm/audiocapture/internal/capture"

// Opener is unavailable on this platform.
type Opener struct {
	QueueDepth int
}

func (Opener) OpenDefault() (capture.Stream, error) {
	return nil, capture.ErrUnsupported
}
