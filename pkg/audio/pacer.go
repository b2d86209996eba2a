package audio

import "time"

// Pacer schedules packet emission against a monotonic clock: it computes
// the wall-clock deadline for packet k from the sample clock (spec §4.7
// "Pacing").
type Pacer struct {
	sampleRate       int
	samplesPerPacket int
	start            time.Time
	packetIndex      uint64
}

// NewPacer anchors a Pacer at start, the wall-clock instant packet 0 is
// scheduled for.
func NewPacer(sampleRate, samplesPerPacket int, start time.Time) *Pacer {
	return &Pacer{sampleRate: sampleRate, samplesPerPacket: samplesPerPacket, start: start}
}

// NextDeadline returns the wall-clock instant at which the next packet
// should be sent: start + k*samples_per_packet/sample_rate.
func (p *Pacer) NextDeadline() time.Time {
	elapsed := time.Duration(p.packetIndex) * time.Duration(p.samplesPerPacket) * time.Second / time.Duration(p.sampleRate)
	return p.start.Add(elapsed)
}

// Advance records that the current packet was sent, tolerating up to 5 ms
// of jitter around the deadline without adjustment. Larger drift
// resynchronizes by advancing the packet index to match elapsed wall
// time, without bursting catch-up packets; the caller should mark its
// next packet with a fresh RTP marker bit when resynced is true.
func (p *Pacer) Advance(now time.Time) (resynced bool) {
	deadline := p.NextDeadline()
	drift := now.Sub(deadline)

	const jitterTolerance = 5 * time.Millisecond
	if drift > jitterTolerance || drift < -jitterTolerance {
		elapsedSamples := uint64(now.Sub(p.start).Seconds() * float64(p.sampleRate))
		p.packetIndex = elapsedSamples / uint64(p.samplesPerPacket)
		resynced = true
	}

	p.packetIndex++
	return resynced
}

// Wait blocks (via a timer, cancellable by ctx.Done through the caller's
// select) until the next packet's deadline; callers own the select loop
// so the packetizer never holds a lock across this suspension point
// (spec §5: "packetizer must never hold a lock across suspension").
func (p *Pacer) Wait(now func() time.Time, sleep func(time.Duration)) {
	d := p.NextDeadline().Sub(now())
	if d > 0 {
		sleep(d)
	}
}
