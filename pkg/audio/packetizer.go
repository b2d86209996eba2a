package audio

import (
	"github.com/pion/rtp"
)

// rtpPayloadType is the dynamic payload type AirPlay 2 always negotiates
// for its single audio stream (spec §3 "RtpPacket").
const rtpPayloadType = 96

// Packetizer builds RTP packets for one audio stream, owning the
// sequence/timestamp counters once streaming begins (spec §5: "the
// audio task owns sequence/timestamp/nonce_write exclusively").
type Packetizer struct {
	ssrc           uint32
	sequenceNumber uint16
	timestamp      uint32
	firstPacket    bool
}

// NewPacketizer starts a Packetizer at the given random SSRC/initial
// sequence/timestamp (spec §3: "random 16-bit start").
func NewPacketizer(ssrc uint32, initialSeq uint16, initialTimestamp uint32) *Packetizer {
	return &Packetizer{ssrc: ssrc, sequenceNumber: initialSeq, timestamp: initialTimestamp, firstPacket: true}
}

// Next builds the next RTP packet for payload, advancing sequence by 1
// and timestamp by samplesPerPacket (both wrap naturally, spec §8 "RTP
// monotonicity").
func (p *Packetizer) Next(payload []byte, samplesPerPacket uint32) ([]byte, error) {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         p.firstPacket,
			PayloadType:    rtpPayloadType,
			SequenceNumber: p.sequenceNumber,
			Timestamp:      p.timestamp,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}
	p.firstPacket = false
	p.sequenceNumber++
	p.timestamp += samplesPerPacket

	return pkt.Marshal()
}

// Flush advances the packetizer past a flushed region (spec §3: "on
// FLUSH [sequence/timestamp] advance past the flushed region") and marks
// the next packet as a stream restart.
func (p *Packetizer) Flush(nextSeq uint16, nextTimestamp uint32) {
	p.sequenceNumber = nextSeq
	p.timestamp = nextTimestamp
	p.firstPacket = true
}

// ForceMarker sets the marker bit on the next packet built by Next,
// without otherwise disturbing the sequence/timestamp counters (spec §4.7:
// "the next packet carries a marker bit" after a pacer resync).
func (p *Packetizer) ForceMarker() { p.firstPacket = true }

// SequenceNumber returns the next sequence number to be used, for
// RTP-Info headers on FLUSH.
func (p *Packetizer) SequenceNumber() uint16 { return p.sequenceNumber }

// Timestamp returns the next timestamp to be used, for RTP-Info headers.
func (p *Packetizer) Timestamp() uint32 { return p.timestamp }
