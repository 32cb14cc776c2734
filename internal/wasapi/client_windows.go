//go:build windows

package wasapi

import (
	"time"
	"unsafe"

	"github.com/go-ole/go-ole"
	"github.com/moutend/go-wca/pkg/wca"

	"github.com/breeze-rmm/audiocapture/internal/capture"
	"github.com/breeze-rmm/audiocapture/internal/pcm"
)

// audioClient adapts IAudioClient to capture.AudioClient.
type audioClient struct {
	ac *wca.IAudioClient

	// mixBlob holds the engine's own wave format description once
	// MixFormat succeeds, so Initialize can hand back the exact structure
	// (including WAVEFORMATEXTENSIBLE channel masks).
	mixBlob []byte
	mix     pcm.Format
	format  pcm.Format
}

// toAudioClient queries unk for IAudioClient. It returns nil when the
// activated object does not implement it.
func toAudioClient(unk *ole.IUnknown) capture.AudioClient {
	disp, err := unk.QueryInterface(wca.IID_IAudioClient)
	if err != nil {
		log.Debug("activated object is not an IAudioClient", "error", hresult(err))
		return nil
	}
	return &audioClient{ac: (*wca.IAudioClient)(unsafe.Pointer(disp))}
}

func (c *audioClient) MixFormat() (pcm.Format, error) {
	var wfx *wca.WAVEFORMATEX
	if err := c.ac.GetMixFormat(&wfx); err != nil {
		return pcm.Format{}, hresult(err)
	}
	if wfx == nil {
		return pcm.Format{}, capture.EFail
	}
	defer ole.CoTaskMemFree(uintptr(unsafe.Pointer(wfx)))

	n := waveFormatLen(wfx.CbSize)
	blob := make([]byte, n)
	copy(blob, unsafe.Slice((*byte)(unsafe.Pointer(wfx)), n))

	f, err := parseWaveFormat(blob)
	if err != nil {
		return pcm.Format{}, err
	}
	c.mixBlob, c.mix = blob, f
	return f, nil
}

func (c *audioClient) Initialize(f pcm.Format, flags capture.StreamFlags, bufferDuration time.Duration) error {
	blob := c.mixBlob
	if blob == nil || c.mix != f {
		blob = buildWaveFormat(f)
	}
	wfx := (*wca.WAVEFORMATEX)(unsafe.Pointer(&blob[0]))

	// REFERENCE_TIME is in 100 ns units.
	dur := wca.REFERENCE_TIME(bufferDuration / 100)
	if err := c.ac.Initialize(wca.AUDCLNT_SHAREMODE_SHARED, uint32(flags), dur, 0, wfx, nil); err != nil {
		return hresult(err)
	}
	c.format = f
	return nil
}

func (c *audioClient) CaptureClient() (capture.CaptureClient, error) {
	var cc *wca.IAudioCaptureClient
	if err := c.ac.GetService(wca.IID_IAudioCaptureClient, &cc); err != nil {
		return nil, hresult(err)
	}
	if cc == nil {
		return nil, capture.ENoInterface
	}
	return &captureClient{cc: cc, blockAlign: c.format.BlockAlign()}, nil
}

func (c *audioClient) Start() error { return hresult(c.ac.Start()) }
func (c *audioClient) Stop() error  { return hresult(c.ac.Stop()) }

func (c *audioClient) Release() error {
	if c.ac != nil {
		c.ac.Release()
		c.ac = nil
	}
	return nil
}

// captureClient adapts IAudioCaptureClient to capture.CaptureClient.
type captureClient struct {
	cc         *wca.IAudioCaptureClient
	blockAlign int
}

func (c *captureClient) NextPacketSize() (uint32, error) {
	var n uint32
	if err := c.cc.GetNextPacketSize(&n); err != nil {
		return 0, hresult(err)
	}
	return n, nil
}

// GetBuffer returns a view of the native buffer. Data aliases driver
// memory until ReleaseBuffer.
func (c *captureClient) GetBuffer() (capture.Buffer, error) {
	var (
		data           *byte
		frames, flags  uint32
		devicePosition uint64
		qpcPosition    uint64
	)
	if err := c.cc.GetBuffer(&data, &frames, &flags, &devicePosition, &qpcPosition); err != nil {
		err = hresult(err)
		if hr, ok := err.(capture.HRESULT); ok && !hr.Failed() {
			// AUDCLNT_S_BUFFER_EMPTY
			return capture.Buffer{}, nil
		}
		return capture.Buffer{}, err
	}
	buf := capture.Buffer{Frames: frames, Flags: capture.BufferFlags(flags)}
	if data != nil && frames > 0 && c.blockAlign > 0 {
		buf.Data = unsafe.Slice(data, int(frames)*c.blockAlign)
	}
	return buf, nil
}

func (c *captureClient) ReleaseBuffer(frames uint32) error {
	return hresult(c.cc.ReleaseBuffer(frames))
}

func (c *captureClient) Release() error {
	if c.cc != nil {
		c.cc.Release()
		c.cc = nil
	}
	return nil
}
