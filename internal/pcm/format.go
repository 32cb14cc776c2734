// Package pcm describes PCM sample formats and converts captured audio into
// the fixed output format consumed downstream (s16le, 48 kHz, stereo).
package pcm

import (
	"errors"
	"fmt"
)

// Encoding is the sample representation of a PCM stream.
type Encoding uint8

const (
	IntegerPCM Encoding = iota + 1
	FloatPCM
)

func (e Encoding) String() string {
	switch e {
	case IntegerPCM:
		return "pcm"
	case FloatPCM:
		return "float"
	default:
		return fmt.Sprintf("encoding(%d)", uint8(e))
	}
}

// MaxChannels is the largest channel count a Format may carry.
const MaxChannels = 8

// Format describes an interleaved PCM stream. It is treated as immutable once
// negotiated for a capture session.
type Format struct {
	Encoding      Encoding
	SampleRate    uint32
	Channels      uint16
	BitsPerSample uint16
}

var (
	// Target is the output contract: 48 kHz, 16-bit signed, 2 channels.
	Target = Format{Encoding: IntegerPCM, SampleRate: 48000, Channels: 2, BitsPerSample: 16}

	// DefaultMixFormat is assumed when a client cannot report its mix format.
	DefaultMixFormat = Format{Encoding: FloatPCM, SampleRate: 48000, Channels: 2, BitsPerSample: 32}
)

// BlockAlign returns the size of one frame in bytes.
func (f Format) BlockAlign() int {
	return int(f.Channels) * int(f.BitsPerSample) / 8
}

// BytesPerSecond returns the average data rate of the format.
func (f Format) BytesPerSecond() int {
	return int(f.SampleRate) * f.BlockAlign()
}

// Compatible reports whether data in f can be used as g without conversion.
func (f Format) Compatible(g Format) bool {
	return f.Encoding == g.Encoding &&
		f.SampleRate == g.SampleRate &&
		f.Channels == g.Channels &&
		f.BitsPerSample == g.BitsPerSample
}

// Validate checks that the format is one the converter can reason about.
func (f Format) Validate() error {
	var errs []error
	if f.Encoding != IntegerPCM && f.Encoding != FloatPCM {
		errs = append(errs, fmt.Errorf("unknown encoding %d", f.Encoding))
	}
	if f.SampleRate == 0 {
		errs = append(errs, errors.New("sample rate is zero"))
	}
	if f.Channels < 1 || f.Channels > MaxChannels {
		errs = append(errs, fmt.Errorf("channel count %d outside 1-%d", f.Channels, MaxChannels))
	}
	switch f.Encoding {
	case FloatPCM:
		if f.BitsPerSample != 32 && f.BitsPerSample != 64 {
			errs = append(errs, fmt.Errorf("float samples must be 32 or 64 bits, got %d", f.BitsPerSample))
		}
	case IntegerPCM:
		switch f.BitsPerSample {
		case 8, 16, 24, 32:
		default:
			errs = append(errs, fmt.Errorf("integer samples must be 8, 16, 24 or 32 bits, got %d", f.BitsPerSample))
		}
	}
	return errors.Join(errs...)
}

func (f Format) String() string {
	return fmt.Sprintf("%s %d Hz %d ch %d-bit", f.Encoding, f.SampleRate, f.Channels, f.BitsPerSample)
}
