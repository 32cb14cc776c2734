package pcm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func floatBytes(samples ...float32) []byte {
	b := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(s))
	}
	return b
}

func int16s(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func TestFloatToInt16(t *testing.T) {
	tests := []struct {
		in   float64
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32767},
		{0.5, 16384}, // 16383.5 rounds away from zero
		{-0.5, -16384},
		{0.25, 8192}, // 8191.75
		{1.5, 32767},
		{-2.0, -32767},
		{math.Inf(1), 32767},
		{math.Inf(-1), -32767},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		if got := FloatToInt16(tt.in); got != tt.want {
			t.Fatalf("FloatToInt16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFloatToInt16MatchesRoundedScale(t *testing.T) {
	for i := -1000; i <= 1000; i++ {
		s := float64(i) / 1000
		want := int16(math.Round(s * 32767))
		if got := FloatToInt16(s); got != want {
			t.Fatalf("FloatToInt16(%v) = %d, want %d", s, got, want)
		}
	}
}

func TestFloatToInt16WithinOneStepOfTruncation(t *testing.T) {
	for i := -2000; i <= 2000; i++ {
		s := float64(i) / 2000
		trunc := int(int16(s * 32767))
		got := int(FloatToInt16(s))
		if d := got - trunc; d < -1 || d > 1 {
			t.Fatalf("FloatToInt16(%v) = %d, truncated scale = %d", s, got, trunc)
		}
	}
	if got := FloatToInt16(0.5); got != 16384 {
		t.Fatalf("FloatToInt16(0.5) = %d, want 16384 (rounded, not truncated 16383)", got)
	}
	if got := FloatToInt16(-2); got != -32767 {
		t.Fatalf("FloatToInt16(-2) = %d, want -32767", got)
	}
}

func TestConvertFastPathPreservesFrameCount(t *testing.T) {
	src := Format{Encoding: FloatPCM, SampleRate: 48000, Channels: 2, BitsPerSample: 32}
	c := NewConverter(src, Target)
	if c.Passthrough() || !c.Lossless() {
		t.Fatal("float32 stereo should take the conversion fast path")
	}

	const frames = 480
	samples := make([]float32, frames*2)
	for i := range samples {
		samples[i] = float32(math.Sin(float64(i) / 10))
	}
	out, err := c.Convert(floatBytes(samples...))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(out) != frames*Target.BlockAlign() {
		t.Fatalf("got %d bytes, want %d (%d frames x 4)", len(out), frames*4, frames)
	}
	got := int16s(out)
	for i, s := range samples {
		if want := FloatToInt16(float64(s)); got[i] != want {
			t.Fatalf("sample %d: got %d, want %d", i, got[i], want)
		}
	}
}

func TestConvertFastPathClamps(t *testing.T) {
	src := Format{Encoding: FloatPCM, SampleRate: 48000, Channels: 2, BitsPerSample: 32}
	c := NewConverter(src, Target)
	out, err := c.Convert(floatBytes(1.5, -2.0, 0.0, 1.0))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	want := []int16{32767, -32767, 0, 32767}
	got := int16s(out)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestConvertDropsPartialFrame(t *testing.T) {
	src := Format{Encoding: FloatPCM, SampleRate: 48000, Channels: 2, BitsPerSample: 32}
	c := NewConverter(src, Target)
	in := append(floatBytes(0.1, 0.2), 0xAA, 0xBB, 0xCC)
	out, err := c.Convert(in)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("got %d bytes, want one 4-byte frame", len(out))
	}
}

func TestConvertCompatibleIsCopy(t *testing.T) {
	c := NewConverter(Target, Target)
	if !c.Passthrough() {
		t.Fatal("identical formats should pass through")
	}
	in := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	out, err := c.Convert(in)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Fatalf("got %v, want %v", out, in)
	}
	out[0] = 42
	if in[0] != 1 {
		t.Fatal("copy path must not alias the input buffer")
	}
}

func TestConvertGeneralDownsample(t *testing.T) {
	src := Format{Encoding: IntegerPCM, SampleRate: 96000, Channels: 2, BitsPerSample: 16}
	c := NewConverter(src, Target)
	if c.Passthrough() {
		t.Fatal("96 kHz source must not pass through")
	}

	in := make([]byte, 10*src.BlockAlign())
	out, err := c.Convert(in)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got := len(out) / Target.BlockAlign(); got != 5 {
		t.Fatalf("first packet: got %d frames, want 5", got)
	}

	out, err = c.Convert(in)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got := len(out) / Target.BlockAlign(); got != 5 {
		t.Fatalf("second packet: got %d frames, want 5", got)
	}
}

func TestConvertGeneralMonoToStereo(t *testing.T) {
	src := Format{Encoding: IntegerPCM, SampleRate: 48000, Channels: 1, BitsPerSample: 16}
	c := NewConverter(src, Target)

	in := make([]byte, 4)
	binary.LittleEndian.PutUint16(in, uint16(16384))
	binary.LittleEndian.PutUint16(in[2:], uint16(0xC000)) // -16384
	out, err := c.Convert(in)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	got := int16s(out)
	if len(got) != 4 {
		t.Fatalf("got %d samples, want 4", len(got))
	}
	if got[0] != got[1] || got[2] != got[3] {
		t.Fatalf("mono sample not duplicated across channels: %v", got)
	}
	if got[0] != 16384 || got[2] != -16384 {
		t.Fatalf("unexpected sample values: %v", got)
	}
}

func TestConvertGeneralDownmixKeepsFrontPair(t *testing.T) {
	src := Format{Encoding: FloatPCM, SampleRate: 48000, Channels: 6, BitsPerSample: 32}
	c := NewConverter(src, Target)
	out, err := c.Convert(floatBytes(0.5, -0.5, 1, 1, 1, 1))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	got := int16s(out)
	want := []int16{16384, -16384}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestConvertGeneral24Bit(t *testing.T) {
	src := Format{Encoding: IntegerPCM, SampleRate: 48000, Channels: 2, BitsPerSample: 24}
	c := NewConverter(src, Target)
	// Left = max positive, right = min negative.
	in := []byte{0xFF, 0xFF, 0x7F, 0x00, 0x00, 0x80}
	out, err := c.Convert(in)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	got := int16s(out)
	if got[0] != 32767 || got[1] != -32767 {
		t.Fatalf("got %v, want [32767 -32767]", got)
	}
}

func TestConvertUnsupportedPassesThrough(t *testing.T) {
	src := Format{Encoding: IntegerPCM, SampleRate: 48000, Channels: 2, BitsPerSample: 12}
	c := NewConverter(src, Target)
	if c.Lossless() {
		t.Fatal("12-bit source should be unsupported")
	}
	in := []byte{1, 2, 3, 4, 5}
	out, err := c.Convert(in)
	if !errors.Is(err, ErrUnsupportedConversion) {
		t.Fatalf("expected ErrUnsupportedConversion, got %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Fatalf("got %v, want original bytes %v", out, in)
	}
}

func TestFormatValidate(t *testing.T) {
	tests := []struct {
		name string
		f    Format
		ok   bool
	}{
		{"target", Target, true},
		{"default mix", DefaultMixFormat, true},
		{"zero rate", Format{Encoding: IntegerPCM, Channels: 2, BitsPerSample: 16}, false},
		{"nine channels", Format{Encoding: IntegerPCM, SampleRate: 48000, Channels: 9, BitsPerSample: 16}, false},
		{"float16", Format{Encoding: FloatPCM, SampleRate: 48000, Channels: 2, BitsPerSample: 16}, false},
		{"no encoding", Format{SampleRate: 48000, Channels: 2, BitsPerSample: 16}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.f.Validate()
			if (err == nil) != tt.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestFormatCompatible(t *testing.T) {
	other := Target
	other.SampleRate = 44100
	if Target.Compatible(other) {
		t.Fatal("different sample rates must not be compatible")
	}
	if !Target.Compatible(Target) {
		t.Fatal("identical formats must be compatible")
	}
	if Target.BlockAlign() != 4 {
		t.Fatalf("target block align = %d, want 4", Target.BlockAlign())
	}
}
