package audio

import "math"

// Resampler linearly interpolates interleaved S16 audio from one sample
// rate to another. Spec §4.7 rationale: a polyphase/FFT resampler adds
// allocation spikes and failure modes an AirPlay sender can't tolerate;
// linear interpolation is sufficient since the sender already targets a
// fixed 44.1/48 kHz reference clock.
//
// Process is called once per outgoing packet, so the Resampler carries
// one sample frame's worth of state (the fractional phase and the last
// input frame) across calls: spec §4.7 requires continuous phase across
// packet boundaries, since resetting it every call would put an audible
// click at every packet edge.
type Resampler struct {
	fromRate int
	toRate   int
	channels int

	pos       float64 // fractional position of the next output sample, relative to this call's input
	prevFrame []int16 // last input frame of the previous call, used as virtual index -1
}

// NewResampler builds a Resampler for a fixed channel count and rate pair.
// fromRate == toRate is allowed and degenerates to a pass-through copy.
func NewResampler(fromRate, toRate, channels int) *Resampler {
	return &Resampler{fromRate: fromRate, toRate: toRate, channels: channels}
}

// Process resamples in (interleaved, channels frames) to the target rate,
// continuing the phase left over from the previous call.
func (r *Resampler) Process(in []int16) []int16 {
	if r.fromRate == r.toRate {
		return in
	}
	frames := len(in) / r.channels
	if frames == 0 {
		return nil
	}

	ratio := float64(r.fromRate) / float64(r.toRate)
	var out []int16

	pos := r.pos
	for {
		idx := int(math.Floor(pos))
		s0, ok0 := r.frameAt(idx, in, frames)
		s1, ok1 := r.frameAt(idx+1, in, frames)
		if !ok0 || !ok1 {
			break
		}
		frac := pos - math.Floor(pos)

		for ch := 0; ch < r.channels; ch++ {
			v := float64(s0[ch]) + (float64(s1[ch])-float64(s0[ch]))*frac
			out = append(out, int16(v))
		}
		pos += ratio
	}

	r.pos = pos - float64(frames)
	last := make([]int16, r.channels)
	copy(last, in[(frames-1)*r.channels:frames*r.channels])
	r.prevFrame = last

	return out
}

// frameAt returns the frame at virtual index idx, where -1 refers to the
// previous call's last frame (nil before the first call, in which case
// idx -1 simply yields no sample and the loop stops there).
func (r *Resampler) frameAt(idx int, in []int16, frames int) ([]int16, bool) {
	if idx == -1 {
		if r.prevFrame == nil {
			return nil, false
		}
		return r.prevFrame, true
	}
	if idx >= 0 && idx < frames {
		return in[idx*r.channels : (idx+1)*r.channels], true
	}
	return nil, false
}
