//go:build windows && cgo

package loopback

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/breeze-rmm/audiocapture/internal/capture"
	"github.com/breeze-rmm/audiocapture/internal/logging"
	"github.com/breeze-rmm/audiocapture/internal/pcm"
)

var log = logging.L("loopback")

// Opener opens WASAPI loopback on the default render device through
// miniaudio.
type Opener struct {
	QueueDepth int
}

// OpenDefault starts loopback capture in the device's own mix format.
func (o Opener) OpenDefault() (capture.Stream, error) {
	depth := o.QueueDepth
	if depth <= 0 {
		depth = DefaultQueueDepth
	}

	ctx, err := malgo.InitContext([]malgo.Backend{malgo.BackendWasapi}, malgo.ContextConfig{}, func(msg string) {
		log.Debug("miniaudio", "message", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	s := &deviceStream{
		ctx:     ctx,
		packets: make(chan []byte, depth),
		stopped: make(chan struct{}),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Loopback)
	// Zero values ask for the device's native format.
	cfg.Capture.Format = malgo.FormatUnknown
	cfg.Capture.Channels = 0
	cfg.SampleRate = 0

	dev, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		s.freeContext()
		return nil, fmt.Errorf("init loopback device: %w", err)
	}
	s.dev = dev

	format, err := nativeFormat(int(dev.CaptureFormat()), dev.CaptureChannels(), dev.SampleRate())
	if err != nil {
		s.Close()
		return nil, err
	}
	s.format = format

	if err := dev.Start(); err != nil {
		s.Close()
		return nil, fmt.Errorf("start loopback device: %w", err)
	}
	log.Info("device loopback started", "format", format.String())
	return s, nil
}

// deviceStream buffers miniaudio callbacks for the engine's capture loop.
type deviceStream struct {
	ctx    *malgo.AllocatedContext
	dev    *malgo.Device
	format pcm.Format

	packets  chan []byte
	stopped  chan struct{}
	stopOnce sync.Once
	closing  atomic.Bool
	dropped  atomic.Uint64

	closeOnce sync.Once
}

func (s *deviceStream) Mode() capture.Mode { return capture.ModeDevice }
func (s *deviceStream) Format() pcm.Format { return s.format }

// onData runs on miniaudio's thread. The input buffer is reused after the
// callback returns.
func (s *deviceStream) onData(_, input []byte, _ uint32) {
	if len(input) == 0 {
		return
	}
	b := make([]byte, len(input))
	copy(b, input)
	select {
	case s.packets <- b:
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Warn("loopback queue full, dropping audio", "dropped", n)
		}
	}
}

func (s *deviceStream) onStop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

func (s *deviceStream) Pump(stop <-chan struct{}, deliver capture.Deliver) error {
	for {
		select {
		case <-stop:
			return nil
		case <-s.stopped:
			if s.closing.Load() {
				return nil
			}
			return ErrDeviceStopped
		case b := <-s.packets:
			if err := deliver(b); err != nil {
				return err
			}
		}
	}
}

func (s *deviceStream) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		if s.dev != nil {
			s.dev.Uninit()
			s.dev = nil
		}
		s.freeContext()
		if n := s.dropped.Load(); n > 0 {
			log.Info("device loopback closed", "dropped", n)
		}
	})
	return nil
}

func (s *deviceStream) freeContext() {
	if s.ctx == nil {
		return
	}
	if err := s.ctx.Uninit(); err != nil {
		log.Debug("uninit audio context", "error", err)
	}
	s.ctx.Free()
	s.ctx = nil
}
