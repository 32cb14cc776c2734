//go:build !windows

package platform

import (
	"github.com/breeze-rmm/audiocapture/internal/capture"
	"github.com/breeze-rmm/audiocapture/internal/loopback"
)

// Backend returns bindings without per-process capture. Device loopback
// reports capture.ErrUnsupported, so the engine fails with
// NoCaptureAvailable.
func Backend() capture.Backend {
	return capture.Backend{
		Devices: loopback.Opener{},
	}
}
