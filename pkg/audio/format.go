// Package audio implements the pull pipeline a Session drives once
// streaming starts: SampleSource -> resampler -> bit-depth converter ->
// codec -> payload encryptor -> RTP packetizer, paced by a monotonic
// clock (spec §4.7).
package audio

import "github.com/airlift/airplay2/pkg/liberrors"

// SampleFormat tags the PCM representation a SampleSource produces.
type SampleFormat int

// Supported sample formats (spec §3 "SampleBuffer").
const (
	FormatU8 SampleFormat = iota
	FormatS16
	FormatS24
	FormatF32
)

// AudioFormat describes a SampleSource's native output shape.
type AudioFormat struct {
	SampleFormat SampleFormat
	Channels     int
	SampleRate   int
}

// SampleBuffer is an immutable PCM frame chunk: produced by a
// SampleSource, consumed by the pipeline, released after packetization.
type SampleBuffer struct {
	Format  AudioFormat
	Samples []byte // interleaved, native encoding of Format.SampleFormat
}

// SampleSource is the pluggable upstream plug point the pipeline pulls
// from (spec §4.7). Implementations are the caller's concern (file
// decoders, synthetic generators, live capture).
type SampleSource interface {
	Format() AudioFormat
	Read(out []byte) (n int, err error)
}

// ErrEndOfStream is returned by a SampleSource to signal a clean end.
// Re-exported here so pipeline callers don't need to import liberrors
// just to compare against it.
var ErrEndOfStream = liberrors.ErrEndOfStream{}

// Codec identifies the negotiated wire codec (spec §4.6 "ct" values).
type Codec int

const (
	CodecL16 Codec = iota
	CodecALAC
	CodecAAC
)

// CodecTypeValue returns the SETUP(2) plist "ct" value for a Codec.
func (c Codec) CodecTypeValue() int64 {
	switch c {
	case CodecL16:
		return 1
	case CodecALAC:
		return 2
	case CodecAAC:
		return 4
	}
	return 1
}

// FramesPerPacket returns the codec's fixed sample-group size (spec
// §4.7's "samples_per_packet").
func (c Codec) FramesPerPacket() int {
	switch c {
	case CodecL16:
		return 352
	case CodecALAC:
		return 352
	case CodecAAC:
		return 1024
	}
	return 352
}
