// Package wasapi binds the capture engine to the Windows audio stack:
// process loopback activation, IAudioClient and IAudioCaptureClient
// adapters, and COM apartment entry.
package wasapi

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/breeze-rmm/audiocapture/internal/pcm"
)

// Wave format tags.
const (
	waveFormatPCM        = 0x0001
	waveFormatIEEEFloat  = 0x0003
	waveFormatExtensible = 0xFFFE
)

const (
	waveFormatExSize         = 18
	waveFormatExtensibleSize = waveFormatExSize + 22
	// Offset of SubFormat.Data1 inside WAVEFORMATEXTENSIBLE.
	subFormatOffset = 24
)

var errShortWaveFormat = errors.New("wave format too short")

// parseWaveFormat decodes a WAVEFORMATEX or WAVEFORMATEXTENSIBLE blob.
func parseWaveFormat(b []byte) (pcm.Format, error) {
	if len(b) < waveFormatExSize {
		return pcm.Format{}, errShortWaveFormat
	}
	le := binary.LittleEndian
	tag := le.Uint16(b[0:])
	f := pcm.Format{
		Channels:      le.Uint16(b[2:]),
		SampleRate:    le.Uint32(b[4:]),
		BitsPerSample: le.Uint16(b[14:]),
	}

	switch tag {
	case waveFormatPCM:
		f.Encoding = pcm.IntegerPCM
	case waveFormatIEEEFloat:
		f.Encoding = pcm.FloatPCM
	case waveFormatExtensible:
		if len(b) < waveFormatExtensibleSize {
			return pcm.Format{}, fmt.Errorf("extensible %w", errShortWaveFormat)
		}
		switch sub := le.Uint32(b[subFormatOffset:]); sub {
		case waveFormatPCM:
			f.Encoding = pcm.IntegerPCM
		case waveFormatIEEEFloat:
			f.Encoding = pcm.FloatPCM
		default:
			return pcm.Format{}, fmt.Errorf("unsupported extensible sub-format 0x%08X", sub)
		}
	default:
		return pcm.Format{}, fmt.Errorf("unsupported wave format tag 0x%04X", tag)
	}
	return f, nil
}

// waveFormatLen is the full size of a wave format whose extension is cbSize
// bytes long.
func waveFormatLen(cbSize uint16) int {
	return waveFormatExSize + int(cbSize)
}

// buildWaveFormat encodes f as a plain WAVEFORMATEX.
func buildWaveFormat(f pcm.Format) []byte {
	b := make([]byte, waveFormatExSize)
	le := binary.LittleEndian
	tag := uint16(waveFormatPCM)
	if f.Encoding == pcm.FloatPCM {
		tag = waveFormatIEEEFloat
	}
	le.PutUint16(b[0:], tag)
	le.PutUint16(b[2:], f.Channels)
	le.PutUint32(b[4:], f.SampleRate)
	le.PutUint32(b[8:], uint32(f.BytesPerSecond()))
	le.PutUint16(b[12:], uint16(f.BlockAlign()))
	le.PutUint16(b[14:], f.BitsPerSample)
	return b
}
