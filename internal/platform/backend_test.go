package platform

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/breeze-rmm/audiocapture/internal/capture"
)

func TestBackendWithoutNativeCapture(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("native capture is available on windows")
	}
	b := Backend()
	if b.Activator != nil {
		t.Fatal("per-process capture should be unavailable")
	}

	var sink bytes.Buffer
	e, err := capture.NewEngine(capture.Target{ProcessID: 1234}, &sink, b)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	err = e.Start(context.Background())
	if !capture.IsEngineError(err, capture.NoCaptureAvailable) {
		t.Fatalf("Start = %v, want NoCaptureAvailable", err)
	}
	if !errors.Is(err, capture.ErrUnsupported) {
		t.Fatalf("Start error should wrap ErrUnsupported: %v", err)
	}
	if e.State() != capture.EngineStopped {
		t.Fatalf("state = %v, want stopped", e.State())
	}
}
