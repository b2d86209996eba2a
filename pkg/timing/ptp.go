package timing

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"

	"github.com/airlift/airplay2/pkg/liberrors"
)

// IEEE 1588-2008 message types used by a PTP master (spec §4.8).
const (
	msgSync      = 0x0
	msgDelayReq  = 0x1
	msgFollowUp  = 0x8
	msgDelayResp = 0x9
	msgAnnounce  = 0xB

	ptpVersion = 0x2

	headerLen    = 34
	announceLen  = 30
	timestampLen = 10

	ptpEventPort   = 319
	ptpGeneralPort = 320
)

// Master acts as a PTP grandmaster good enough to satisfy a receiver's
// best-master-clock algorithm (spec §4.8, §9 open question: "whether the
// receiver accepts us as master depends on Announce body layout details").
type Master struct {
	clock       *Clock
	clockID     [8]byte
	domain      byte
	eventConn   *net.UDPConn
	generalConn *net.UDPConn
	log         zerolog.Logger

	mu       sync.Mutex
	sequence map[byte]uint16

	// OnAnnounceSent, if set, is invoked with the raw wire bytes of every
	// Announce message this master sends — the test hook spec §9/§4.8
	// calls for, since BMCA success can't be asserted without watching
	// what the receiver actually saw.
	OnAnnounceSent func(frame []byte)
}

// NewMaster binds the PTP event (319) and general (320) ports on all
// interfaces. Binding these privileged ports typically requires elevated
// privileges; failure surfaces as ErrPtpBindDenied so the session can fall
// back to NTP where the device allows it.
func NewMaster(clock *Clock, log zerolog.Logger) (*Master, error) {
	eventConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: ptpEventPort})
	if err != nil {
		return nil, liberrors.ErrPtpBindDenied{Err: err}
	}
	generalConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: ptpGeneralPort})
	if err != nil {
		_ = eventConn.Close()
		return nil, liberrors.ErrPtpBindDenied{Err: err}
	}

	var clockID [8]byte
	if _, err := rand.Read(clockID[:]); err != nil {
		_ = eventConn.Close()
		_ = generalConn.Close()
		return nil, err
	}

	// PTP masters transmit to the link-local multicast group when no
	// per-peer unicast address is known yet; set a conservative TTL and
	// disable loopback so the responder doesn't see its own traffic.
	for _, c := range []*net.UDPConn{eventConn, generalConn} {
		p := ipv4.NewPacketConn(c)
		_ = p.SetMulticastTTL(1)
		_ = p.SetMulticastLoopback(false)
	}

	return &Master{
		clock:       clock,
		clockID:     clockID,
		eventConn:   eventConn,
		generalConn: generalConn,
		log:         log.With().Str("component", "ptp").Logger(),
		sequence:    make(map[byte]uint16),
	}, nil
}

// ClockID returns this master's 8-byte PTP clock identity, derived at
// construction (spec says "derived from MAC/UUID"; here it is a random
// EUI-64-shaped value, which satisfies the same uniqueness requirement).
func (m *Master) ClockID() [8]byte {
	return m.clockID
}

// Run drives the Sync/Follow_Up (1 s), Announce (2 s) and Delay_Req
// responder loops until ctx is cancelled.
func (m *Master) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(3)
	go func() { defer wg.Done(); m.runSyncLoop(ctx) }()
	go func() { defer wg.Done(); m.runAnnounceLoop(ctx) }()
	go func() { defer wg.Done(); errCh <- m.runDelayReqResponder(ctx) }()

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Master) runSyncLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sendSyncAndFollowUp()
		}
	}
}

func (m *Master) runAnnounceLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sendAnnounce()
		}
	}
}

func (m *Master) sendSyncAndFollowUp() {
	t1 := m.clock.WallNow()

	syncFrame := m.buildMessage(msgSync, timestampLen)
	putTimestamp(syncFrame[headerLen:], t1)
	m.broadcastEvent(syncFrame)

	fuFrame := m.buildMessage(msgFollowUp, timestampLen)
	putTimestamp(fuFrame[headerLen:], t1)
	m.broadcastGeneral(fuFrame)
}

func (m *Master) sendAnnounce() {
	frame := m.announceFrame()
	m.broadcastGeneral(frame)
	if m.OnAnnounceSent != nil {
		m.OnAnnounceSent(frame)
	}
}

// announceFrame builds an Announce message's header+body (spec §4.8's
// 34-byte header + 30-byte body), separated from the send so the layout
// can be tested without a bound socket.
func (m *Master) announceFrame() []byte {
	frame := m.buildMessage(msgAnnounce, announceLen)
	body := frame[headerLen:]

	putTimestamp(body[0:timestampLen], m.clock.WallNow())
	// currentUtcOffset (2B), reserved (1B)
	binary.BigEndian.PutUint16(body[10:12], 37)
	body[12] = 0
	// grandmasterPriority1
	body[13] = 128
	// grandmasterClockQuality: clockClass, clockAccuracy, offsetScaledLogVariance(2B)
	body[14] = 248
	body[15] = 0xFE
	binary.BigEndian.PutUint16(body[16:18], 0xFFFF)
	// grandmasterPriority2
	body[18] = 128
	copy(body[19:27], m.clockID[:])
	// stepsRemoved
	binary.BigEndian.PutUint16(body[27:29], 0)
	// timeSource: 0xA0 = internal oscillator
	body[29] = 0xA0

	return frame
}

// runDelayReqResponder answers every Delay_Req observed on the event port
// with a Delay_Resp on the general port, carrying our receive timestamp
// and the requester's port identity so it can compute its path delay.
func (m *Master) runDelayReqResponder(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = m.eventConn.Close()
	}()

	buf := make([]byte, 64)
	for {
		n, from, err := m.eventConn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return liberrors.ErrIO{Err: err}
		}
		if n < headerLen || buf[0]&0x0F != msgDelayReq {
			continue
		}

		t2 := m.clock.WallNow()
		requesterPortIdentity := append([]byte(nil), buf[20:30]...)
		sequenceID := binary.BigEndian.Uint16(buf[30:32])

		resp := m.buildMessage(msgDelayResp, timestampLen+10)
		binary.BigEndian.PutUint16(resp[30:32], sequenceID)
		body := resp[headerLen:]
		putTimestamp(body[0:timestampLen], t2)
		copy(body[timestampLen:], requesterPortIdentity)

		if _, err := m.generalConn.WriteTo(resp, &net.UDPAddr{IP: from.IP, Port: ptpGeneralPort}); err != nil {
			m.log.Warn().Err(err).Msg("delay_resp write failed")
		}
	}
}

// buildMessage allocates a frame with the 34-byte common header populated
// and a zeroed body of bodyLen bytes, per IEEE 1588-2008's layout.
func (m *Master) buildMessage(msgType byte, bodyLen int) []byte {
	frame := make([]byte, headerLen+bodyLen)
	frame[0] = msgType & 0x0F
	frame[1] = ptpVersion & 0x0F
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(frame)))
	frame[4] = m.domain
	// flagField left zero except two-step, set for Sync
	if msgType == msgSync {
		binary.BigEndian.PutUint16(frame[6:8], 0x0200)
	}
	copy(frame[20:28], m.clockID[:])
	binary.BigEndian.PutUint16(frame[28:30], 1) // portNumber

	m.mu.Lock()
	seq := m.sequence[msgType]
	m.sequence[msgType] = seq + 1
	m.mu.Unlock()
	binary.BigEndian.PutUint16(frame[30:32], seq)

	frame[32] = controlFieldFor(msgType)
	frame[33] = logIntervalFor(msgType)
	return frame
}

func controlFieldFor(msgType byte) byte {
	switch msgType {
	case msgSync:
		return 0x00
	case msgDelayReq:
		return 0x01
	case msgFollowUp:
		return 0x02
	case msgDelayResp:
		return 0x03
	default:
		return 0x05
	}
}

func logIntervalFor(msgType byte) byte {
	if msgType == msgAnnounce {
		return 1 // 2^1 = 2s
	}
	return 0 // 2^0 = 1s
}

func putTimestamp(dst []byte, t time.Time) {
	secs := uint64(t.Unix())
	nanos := uint32(t.Nanosecond())
	dst[0] = byte(secs >> 40)
	dst[1] = byte(secs >> 32)
	binary.BigEndian.PutUint32(dst[2:6], uint32(secs))
	binary.BigEndian.PutUint32(dst[6:10], nanos)
}

func (m *Master) broadcastEvent(frame []byte) {
	m.broadcast(m.eventConn, ptpEventPort, frame)
}

func (m *Master) broadcastGeneral(frame []byte) {
	m.broadcast(m.generalConn, ptpGeneralPort, frame)
}

// broadcast sends frame to the IPv4 link-local multicast group PTP masters
// use when no specific peer address is known yet (before SETPEERS).
func (m *Master) broadcast(conn *net.UDPConn, port int, frame []byte) {
	dst := &net.UDPAddr{IP: net.IPv4(224, 0, 1, 129), Port: port}
	if _, err := conn.WriteTo(frame, dst); err != nil {
		m.log.Debug().Err(err).Msg("ptp multicast send failed")
	}
}

// Close releases both PTP sockets.
func (m *Master) Close() error {
	err1 := m.eventConn.Close()
	err2 := m.generalConn.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
