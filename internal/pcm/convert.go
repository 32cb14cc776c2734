package pcm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrUnsupportedConversion is returned alongside an unmodified copy of the
// input when a buffer cannot be converted. The stream stays continuous but
// the output no longer matches the target format.
var ErrUnsupportedConversion = errors.New("unsupported pcm conversion")

type convPath uint8

const (
	pathCopy convPath = iota
	pathFloatToInt16
	pathGeneral
	pathUnsupported
)

// Converter turns buffers in one Format into another. It is stateful (the
// resampler carries position across packets) and not safe for concurrent use.
// The slice returned by Convert is reused by the next call.
type Converter struct {
	src, dst Format
	path     convPath
	reason   error

	out       []byte
	frames    []float64
	resampled []float64
	resampler *Resampler
}

// NewConverter prepares a converter from src to dst.
func NewConverter(src, dst Format) *Converter {
	c := &Converter{src: src, dst: dst}
	switch {
	case src.Compatible(dst):
		c.path = pathCopy
	case src.Validate() != nil:
		c.path = pathUnsupported
		c.reason = fmt.Errorf("source %s: %w", src, src.Validate())
	case dst.Validate() != nil:
		c.path = pathUnsupported
		c.reason = fmt.Errorf("target %s: %w", dst, dst.Validate())
	case src.Encoding == FloatPCM && src.BitsPerSample == 32 &&
		dst.Encoding == IntegerPCM && dst.BitsPerSample == 16 &&
		src.Channels == dst.Channels && src.SampleRate == dst.SampleRate:
		c.path = pathFloatToInt16
	default:
		c.path = pathGeneral
		if src.SampleRate != dst.SampleRate {
			c.resampler = NewResampler(src.SampleRate, dst.SampleRate, int(dst.Channels))
		}
	}
	return c
}

// Source returns the input format.
func (c *Converter) Source() Format { return c.src }

// Passthrough reports whether Convert only copies bytes.
func (c *Converter) Passthrough() bool { return c.path == pathCopy }

// Lossless reports whether the converter produces dst-format output.
func (c *Converter) Lossless() bool { return c.path != pathUnsupported }

// Convert converts in and returns the converted bytes. Trailing bytes that do
// not form a whole source frame are dropped. On ErrUnsupportedConversion the
// returned slice holds the original bytes unchanged.
func (c *Converter) Convert(in []byte) ([]byte, error) {
	switch c.path {
	case pathCopy:
		out := c.grow(len(in))
		copy(out, in)
		return out, nil
	case pathFloatToInt16:
		frames := len(in) / c.src.BlockAlign()
		samples := frames * int(c.src.Channels)
		out := c.grow(samples * 2)
		Float32ToInt16(out, in[:samples*4])
		return out, nil
	case pathGeneral:
		return c.convertGeneral(in), nil
	default:
		out := c.grow(len(in))
		copy(out, in)
		return out, fmt.Errorf("%w: %v", ErrUnsupportedConversion, c.reason)
	}
}

// Reset clears resampler history, e.g. after a discontinuity.
func (c *Converter) Reset() {
	if c.resampler != nil {
		c.resampler.Reset()
	}
}

func (c *Converter) grow(n int) []byte {
	if cap(c.out) < n {
		c.out = make([]byte, n)
	}
	c.out = c.out[:n]
	return c.out
}

func (c *Converter) convertGeneral(in []byte) []byte {
	srcCh := int(c.src.Channels)
	dstCh := int(c.dst.Channels)
	srcBytes := int(c.src.BitsPerSample / 8)
	block := c.src.BlockAlign()
	frames := len(in) / block

	c.frames = c.frames[:0]
	for f := 0; f < frames; f++ {
		base := f * block
		for ch := 0; ch < dstCh; ch++ {
			sc := ch
			if sc >= srcCh {
				sc = ch % srcCh
			}
			c.frames = append(c.frames, decodeSample(in[base+sc*srcBytes:], c.src))
		}
	}

	samples := c.frames
	if c.resampler != nil {
		if need := c.resampler.OutputFrames(frames) * dstCh; cap(c.resampled) < need {
			c.resampled = make([]float64, 0, need)
		}
		c.resampled = c.resampler.Process(c.resampled[:0], c.frames)
		samples = c.resampled
	}

	dstBytes := int(c.dst.BitsPerSample / 8)
	out := c.grow(len(samples) * dstBytes)
	for i, s := range samples {
		encodeSample(out[i*dstBytes:], s, c.dst)
	}
	return out
}

// Float32ToInt16 converts little-endian float32 samples in src to int16
// samples in dst and returns the number of bytes written. Samples are clamped
// to [-1, 1] and scaled by 32767 with rounding to nearest.
func Float32ToInt16(dst, src []byte) int {
	n := min(len(src)/4, len(dst)/2)
	for i := 0; i < n; i++ {
		s := math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(FloatToInt16(float64(s))))
	}
	return n * 2
}

// FloatToInt16 clamps s to [-1, 1] and scales it to a 16-bit sample,
// rounding to nearest. Encoders that truncate toward zero instead produce
// values that differ from this by at most 1 LSB; both map ±1 to ±32767.
func FloatToInt16(s float64) int16 {
	if s != s { // NaN
		return 0
	}
	s = min(max(s, -1), 1)
	return int16(math.Round(s * 32767))
}

func decodeSample(b []byte, f Format) float64 {
	if f.Encoding == FloatPCM {
		if f.BitsPerSample == 64 {
			return math.Float64frombits(binary.LittleEndian.Uint64(b))
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
	switch f.BitsPerSample {
	case 8:
		return (float64(b[0]) - 128) / 128
	case 16:
		return float64(int16(binary.LittleEndian.Uint16(b))) / 32768
	case 24:
		v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
		return float64(v) / 8388608
	default:
		return float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648
	}
}

func encodeSample(b []byte, s float64, f Format) {
	if f.Encoding == FloatPCM {
		if f.BitsPerSample == 64 {
			binary.LittleEndian.PutUint64(b, math.Float64bits(s))
		} else {
			binary.LittleEndian.PutUint32(b, math.Float32bits(float32(s)))
		}
		return
	}
	if s != s {
		s = 0
	}
	s = min(max(s, -1), 1)
	switch f.BitsPerSample {
	case 8:
		b[0] = byte(int(math.Round(s*127)) + 128)
	case 16:
		binary.LittleEndian.PutUint16(b, uint16(int16(math.Round(s*32767))))
	case 24:
		v := int32(math.Round(s * 8388607))
		b[0] = byte(v)
		b[1] = byte(v >> 8)
		b[2] = byte(v >> 16)
	default:
		binary.LittleEndian.PutUint32(b, uint32(int32(math.Round(s*2147483647))))
	}
}
