package audio

import (
	"github.com/pion/rtcp"

	"github.com/airlift/airplay2/pkg/ntp"
	"github.com/airlift/airplay2/pkg/timing"
)

// SenderReportTick builds one RTCP Sender Report for the control port,
// letting the receiver correlate the RTP timestamp clock with wall time.
// Not named by spec.md directly, but implied by C7's "RTP packetizer"
// sharing a control port with C8's timing subsystem; the sender report is
// built with pion/rtcp rather than hand-rolled.
func SenderReportTick(clock *timing.Clock, ssrc uint32, rtpTimestamp uint32, packetCount, octetCount uint32) ([]byte, error) {
	sr := &rtcp.SenderReport{
		SSRC:        ssrc,
		NTPTime:     ntp.Encode(clock.WallNow()),
		RTPTime:     rtpTimestamp,
		PacketCount: packetCount,
		OctetCount:  octetCount,
	}
	return sr.Marshal()
}
