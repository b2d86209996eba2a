package timing

import (
	"context"
	"encoding/binary"
	"net"

	"github.com/rs/zerolog"

	"github.com/airlift/airplay2/pkg/liberrors"
	"github.com/airlift/airplay2/pkg/ntp"
)

// ntpPacketSize is the fixed size of the timing request/response exchanged
// on the negotiated timing port: three 64-bit NTP-format timestamps.
const ntpPacketSize = 24

// NTPResponder answers the receiver's timing requests by echoing its
// originate timestamp and stamping our own receive/transmit times, using
// the same NTP wire format pion-flavored RTSP stacks already know
// (RFC 3550 §4, adapted from pkg/ntp).
type NTPResponder struct {
	conn  *net.UDPConn
	clock *Clock
	log   zerolog.Logger
}

// NewNTPResponder binds a UDP socket on the given local address (port 0
// lets the kernel choose, matching the negotiated timing port flow).
func NewNTPResponder(clock *Clock, laddr string, log zerolog.Logger) (*NTPResponder, error) {
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, liberrors.ErrPtpBindDenied{Err: err}
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, liberrors.ErrPtpBindDenied{Err: err}
	}
	return &NTPResponder{conn: conn, clock: clock, log: log.With().Str("component", "ntp").Logger()}, nil
}

// LocalPort returns the bound UDP port, for the SETUP(1) plist.
func (r *NTPResponder) LocalPort() int {
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

// Serve answers requests until ctx is cancelled.
func (r *NTPResponder) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = r.conn.Close()
	}()

	buf := make([]byte, 256)
	for {
		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return liberrors.ErrIO{Err: err}
		}
		if n < 8 {
			continue
		}

		originate := binary.BigEndian.Uint64(buf[:8])
		receive := ntp.Encode(r.clock.WallNow())
		transmit := ntp.Encode(r.clock.WallNow())

		resp := make([]byte, ntpPacketSize)
		binary.BigEndian.PutUint64(resp[0:8], originate)
		binary.BigEndian.PutUint64(resp[8:16], receive)
		binary.BigEndian.PutUint64(resp[16:24], transmit)

		if _, err := r.conn.WriteToUDP(resp, from); err != nil {
			r.log.Warn().Err(err).Msg("ntp response write failed")
		}
	}
}

// Close releases the responder's socket.
func (r *NTPResponder) Close() error {
	return r.conn.Close()
}
