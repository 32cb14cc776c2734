package pcm

// Resampler converts interleaved float frames between sample rates using
// linear interpolation. It keeps the last input frame of each call so that
// consecutive packets interpolate across their boundary.
//
// For a first call with N input frames the number of output frames is
// ceil((N-1)/ratio), where ratio = inRate/outRate. Fractional positions carry
// over to the next call, so no frames drift over a continuous stream.
type Resampler struct {
	ratio    float64
	channels int
	pos      float64
	prev     []float64
	hasPrev  bool
}

// NewResampler creates a resampler for the given rates and channel count.
func NewResampler(inRate, outRate uint32, channels int) *Resampler {
	return &Resampler{
		ratio:    float64(inRate) / float64(outRate),
		channels: channels,
		prev:     make([]float64, channels),
	}
}

// Process resamples the interleaved frames in and appends the result to dst.
func (r *Resampler) Process(dst, in []float64) []float64 {
	ch := r.channels
	inFrames := len(in) / ch
	n := inFrames
	if r.hasPrev {
		n++
	}
	if n == 0 {
		return dst
	}

	at := func(frame, c int) float64 {
		if r.hasPrev {
			if frame == 0 {
				return r.prev[c]
			}
			frame--
		}
		return in[frame*ch+c]
	}

	count := r.OutputFrames(inFrames)
	for k := 0; k < count; k++ {
		p := r.pos + float64(k)*r.ratio
		idx := int(p)
		frac := p - float64(idx)
		if idx+1 >= n {
			idx, frac = n-2, 1
		}
		for c := 0; c < ch; c++ {
			a := at(idx, c)
			b := at(idx+1, c)
			dst = append(dst, a+(b-a)*frac)
		}
	}

	// Re-base the read position on the frame kept as history.
	r.pos += float64(count)*r.ratio - float64(n-1)
	if r.pos < 0 {
		r.pos = 0
	}
	for c := 0; c < ch; c++ {
		r.prev[c] = at(n-1, c)
	}
	r.hasPrev = true
	return dst
}

// OutputFrames estimates how many frames Process will produce for inFrames
// input frames given the current state.
func (r *Resampler) OutputFrames(inFrames int) int {
	n := inFrames
	if r.hasPrev {
		n++
	}
	if n < 2 {
		return 0
	}
	span := float64(n-1) - r.pos
	if span <= 0 {
		return 0
	}
	count := int(span / r.ratio)
	if float64(count)*r.ratio < span {
		count++
	}
	return count
}

// Reset drops history and the fractional read position.
func (r *Resampler) Reset() {
	r.pos = 0
	r.hasPrev = false
	clear(r.prev)
}
