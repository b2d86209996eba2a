package audio

import (
	"io"
	"net"
	"time"

	"github.com/airlift/airplay2/pkg/liberrors"
)

// Pipeline drives one audio stream end to end: read from SampleSource,
// resample/convert/encode, optionally encrypt, packetize, pace, and send
// over a UDP data socket (spec §4.7).
type Pipeline struct {
	source SampleSource
	codec  Codec

	targetRate int
	channels   int

	resampler *Resampler
	pktz      *Packetizer
	pacer     *Pacer

	shk, aiv []byte // nil disables payload encryption (L16 streams)

	dataConn *net.UDPConn

	samplesPerPacket int
}

// Config bundles the inputs NewPipeline needs, mirroring the SETUP(2)
// fields the session negotiates.
type Config struct {
	Codec      Codec
	TargetRate int
	Channels   int
	SSRC       uint32
	InitialSeq uint16
	InitialTS  uint32
	SHK, AIV   []byte // nil for L16
	DataConn   *net.UDPConn
	Start      time.Time
}

// NewPipeline builds a Pipeline ready to run.
func NewPipeline(source SampleSource, cfg Config) *Pipeline {
	spp := cfg.Codec.FramesPerPacket()
	return &Pipeline{
		source:           source,
		codec:            cfg.Codec,
		targetRate:       cfg.TargetRate,
		channels:         cfg.Channels,
		resampler:        NewResampler(source.Format().SampleRate, cfg.TargetRate, cfg.Channels),
		pktz:             NewPacketizer(cfg.SSRC, cfg.InitialSeq, cfg.InitialTS),
		pacer:            NewPacer(cfg.TargetRate, spp, cfg.Start),
		shk:              cfg.SHK,
		aiv:              cfg.AIV,
		dataConn:         cfg.DataConn,
		samplesPerPacket: spp,
	}
}

// RunOnce pulls, encodes and sends exactly one packet's worth of audio,
// blocking on the pacer's deadline first. Returns liberrors.ErrEndOfStream
// when the source is exhausted (clean Streaming -> Ready transition).
func (p *Pipeline) RunOnce(sleep func(time.Duration)) error {
	p.pacer.Wait(time.Now, sleep)

	bufSize := p.samplesPerPacket * p.channels * bytesPerSample(p.source.Format().SampleFormat)
	if p.codec == CodecAAC {
		// AAC-LC encoding (MDCT, psychoacoustic allocation, Huffman
		// spectral coding) is an external collaborator this pipeline
		// does not implement (SPEC_FULL.md "Audio pipeline" scope
		// note); for ct=4 the SampleSource is expected to already
		// produce encoded AAC-LC access units, one per Read, which
		// this stage only RFC 3640 AU-headers, encrypts and
		// packetizes. bufSize is sized for PCM; AAC access units are
		// smaller and variable-length, so give Read the codec's
		// worst-case AU budget instead.
		bufSize = maxAACAccessUnitSize
	}
	raw := make([]byte, bufSize)
	n, err := p.source.Read(raw)
	if err != nil {
		if err == io.EOF || err == ErrEndOfStream {
			return liberrors.ErrEndOfStream{}
		}
		return liberrors.ErrSampleSource{Err: err}
	}
	if n == 0 {
		return liberrors.ErrEndOfStream{}
	}

	var payload []byte
	switch p.codec {
	case CodecL16:
		s16 := ConvertToS16(p.source.Format().SampleFormat, raw[:n])
		resampled := p.resampler.Process(s16)
		payload = EncodeL16(resampled)
	case CodecALAC:
		s16 := ConvertToS16(p.source.Format().SampleFormat, raw[:n])
		resampled := p.resampler.Process(s16)
		payload = EncodeALACFrame(resampled)
	case CodecAAC:
		framed, err := EncodeAACAUHeader(raw[:n])
		if err != nil {
			return err
		}
		payload = framed
	default:
		return liberrors.ErrUnsupportedCodec{Codec: "unknown"}
	}

	if p.shk != nil && p.codec != CodecL16 {
		encrypted, err := EncryptPayload(p.shk, p.aiv, payload)
		if err != nil {
			return err
		}
		payload = encrypted
	}

	frame, err := p.pktz.Next(payload, uint32(p.samplesPerPacket))
	if err != nil {
		return liberrors.ErrIO{Err: err}
	}

	if _, err := p.dataConn.Write(frame); err != nil {
		return liberrors.ErrIO{Err: err}
	}

	if resynced := p.pacer.Advance(time.Now()); resynced {
		p.pktz.ForceMarker()
	}
	return nil
}

// Flush resets the packetizer and pacer past a flushed region (spec §4.6
// "FLUSH").
func (p *Pipeline) Flush(nextSeq uint16, nextTimestamp uint32, at time.Time) {
	p.pktz.Flush(nextSeq, nextTimestamp)
	p.pacer = NewPacer(p.targetRate, p.samplesPerPacket, at)
}

// NextRTPInfo returns the seq/rtptime pair for the RTP-Info header FLUSH
// requires.
func (p *Pipeline) NextRTPInfo() (seq uint16, rtpTime uint32) {
	return p.pktz.SequenceNumber(), p.pktz.Timestamp()
}

func bytesPerSample(f SampleFormat) int {
	switch f {
	case FormatU8:
		return 1
	case FormatS16:
		return 2
	case FormatS24:
		return 3
	case FormatF32:
		return 4
	}
	return 2
}
