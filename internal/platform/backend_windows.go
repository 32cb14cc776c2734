//go:build windows

package platform

import (
	"github.com/breeze-rmm/audiocapture/internal/capture"
	"github.com/breeze-rmm/audiocapture/internal/loopback"
	"github.com/breeze-rmm/audiocapture/internal/wasapi"
)

// Backend returns the Windows bindings: process loopback through
// ActivateAudioInterfaceAsync and device loopback through miniaudio.
func Backend() capture.Backend {
	return capture.Backend{
		Activator: wasapi.Activator{},
		Devices:   loopback.Opener{},
		Apartment: wasapi.Apartment{},
	}
}
