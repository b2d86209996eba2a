package airplay2

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/airlift/airplay2/pkg/audio"
	"github.com/airlift/airplay2/pkg/base"
	"github.com/airlift/airplay2/pkg/bplist"
	"github.com/airlift/airplay2/pkg/liberrors"
	"github.com/airlift/airplay2/pkg/pairing"
	"github.com/airlift/airplay2/pkg/pairstore"
	"github.com/airlift/airplay2/pkg/timing"
)

// State is a Session's position in the control-flow state machine (spec §3).
type State int

const (
	StateInit State = iota
	StateConnected
	StatePaired
	StateSetupPhase1
	StateSetupPhase2
	StateReady
	StateStreaming
	StatePaused
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateConnected:
		return "Connected"
	case StatePaired:
		return "Paired"
	case StateSetupPhase1:
		return "SetupPhase1"
	case StateSetupPhase2:
		return "SetupPhase2"
	case StateReady:
		return "Ready"
	case StateStreaming:
		return "Streaming"
	case StatePaused:
		return "Paused"
	case StateClosed:
		return "Closed"
	case StateFailed:
		return "Failed"
	}
	return "Unknown"
}

// Config is the collaborator surface the player façade accepts (spec §6
// "CLI/environment").
type Config struct {
	PIN              string
	Codec            audio.Codec
	SampleRate       int
	InitialVolume    float32
	PairingStorePath string

	// AudioEncryptionType overrides the SETUP(2) `at` field. Zero means
	// "use audioEncryptionTypeForModel's per-codec default" (Open
	// Question 1: implementers should parameterize `at` by model rather
	// than hard-code a single value).
	AudioEncryptionType int64

	// Logger receives session lifecycle events (connect, pair, SETUP
	// phases, RECORD, teardown, feedback failures, PTP election). A nil
	// Logger is a no-op, so library consumers are never forced to see
	// output, mirroring the teacher's OnRequest/OnResponse callback
	// fields that default to nil.
	Logger *zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.PIN == "" {
		c.PIN = pairing.DefaultPIN
	}
	if c.SampleRate == 0 {
		c.SampleRate = 44100
	}
	if c.PairingStorePath == "" {
		c.PairingStorePath = "airplay2-pairings.json"
	}
	return c
}

func (c Config) logger() zerolog.Logger {
	if c.Logger == nil {
		return zerolog.Nop()
	}
	return *c.Logger
}

// audioEncryptionTypeForModel resolves SETUP(2)'s `at` field by codec
// only: L16/ALAC default to 1, buffered-audio AAC streams default to 4,
// both overridable via Config. The device's model is not consulted.
func audioEncryptionTypeForModel(d DeviceInfo, codec audio.Codec) int64 {
	if codec == audio.CodecAAC {
		return 4
	}
	return 1
}

// Session is a mutable, single-connection control session against one
// receiver (spec §3). All exported methods suspend the caller until the
// requested state is reached or an error is surfaced; none are safe to
// call concurrently with each other.
type Session struct {
	mu        sync.Mutex
	state     State
	failure   error
	device    DeviceInfo
	config    Config
	sessionID string // client-session UUID, doubles as the RTSP path

	cc    *conn
	store *pairstore.Store
	rec   pairstore.Record

	clock        *timing.Clock
	timingProt   TimingProtocol
	ntp          *timing.NTPResponder
	ptp          *timing.Master
	timingCancel context.CancelFunc

	ssrc                              uint32
	codec                             audio.Codec
	shk, aiv                          []byte
	dataConn                          *net.UDPConn
	controlConn                       *net.UDPConn
	localDataPort, localControlPort   int
	remoteDataPort, remoteControlPort int

	pipeline     *audio.Pipeline
	streamCancel context.CancelFunc
	streamWG     sync.WaitGroup

	queuedVolume *float32
	capabilities DeviceCapabilities

	eventConn      net.Conn
	feedbackCancel context.CancelFunc

	log zerolog.Logger
}

// Connect opens the control TCP connection, pairs (or resumes a stored
// pairing), negotiates SETUP phase 1/2 and SETPEERS, and leaves the
// session in Ready, prepared for Stream (spec §4.6's OPTIONS -> GET /info
// -> pair -> SETUP(1) -> SETUP(2) -> SETPEERS sequence).
func Connect(ctx context.Context, device DeviceInfo, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()

	s := &Session{
		device: device,
		config: cfg,
		state:  StateInit,
		clock:  timing.NewClock(),
		log:    cfg.logger().With().Str("component", "airplay2.session").Str("device", device.Name).Logger(),
	}

	host := pickHost(device)
	addr := net.JoinHostPort(host, strconv.Itoa(device.Port))
	cc, err := dial(addr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	s.cc = cc
	s.setState(StateConnected)

	if _, err := cc.do(&base.Request{Method: base.MethodOptions, Path: "*"}, 5*time.Second); err != nil {
		return nil, s.fail(err)
	}

	infoRes, err := cc.do(&base.Request{Method: base.MethodGet, Path: "/info"}, 5*time.Second)
	if err != nil {
		return nil, s.fail(err)
	}
	s.capabilities = DeriveCapabilities(device)
	if len(infoRes.Body) > 0 {
		if decoded, err := bplist.Decode(infoRes.Body); err == nil {
			if dict, ok := decoded.(*bplist.Dict); ok {
				if iv, ok := dict.GetInt("initialVolume"); ok {
					s.capabilities.InitialVolumeDB = float64(iv)
				}
			}
		}
	}

	if err := s.pair(); err != nil {
		return nil, s.fail(err)
	}
	s.setState(StatePaired)

	s.sessionID = uuid.NewString()
	s.timingProt = SelectTimingProtocol(device)
	if err := s.startTiming(); err != nil {
		return nil, s.fail(err)
	}

	if err := s.setupPhase1(); err != nil {
		return nil, s.fail(err)
	}
	s.setState(StateSetupPhase1)

	s.codec = cfg.Codec
	if err := s.setupPhase2(); err != nil {
		return nil, s.fail(err)
	}
	s.setState(StateSetupPhase2)

	if err := s.setPeers(); err != nil {
		return nil, s.fail(err)
	}

	s.setState(StateReady)
	s.startFeedbackLoop()
	return s, nil
}

func pickHost(d DeviceInfo) string {
	if len(d.IPv4) > 0 {
		return d.IPv4[0]
	}
	if len(d.IPv6) > 0 {
		return d.IPv6[0]
	}
	return d.Hostname
}

func accessoryKey(d DeviceInfo) string {
	if d.DeviceID != "" {
		return d.DeviceID
	}
	return d.PairingID
}

// pair resumes a stored pairing via pair-verify, or falls back to a full
// pair-setup when none is on file (spec §4.5 step 5 onward).
func (s *Session) pair() error {
	store, err := pairstore.Open(s.config.PairingStorePath)
	if err != nil {
		return liberrors.ErrPairingStorage{Err: err}
	}
	s.store = store

	key := accessoryKey(s.device)
	rec, err := store.Load(key)
	if err != nil {
		controllerID := uuid.NewString()
		newRec, _, err := pairing.StandardPairSetup(s.cc, s.config.PIN, key, controllerID)
		if err != nil {
			return err
		}
		if saveErr := store.Save(*newRec); saveErr != nil {
			return liberrors.ErrPairingStorage{Err: saveErr}
		}
		rec = *newRec
	}
	s.rec = rec

	verify, err := pairing.PairVerify(s.cc, rec)
	if err != nil {
		return err
	}
	return s.cc.enableEncryption(verify.ControlWriteKey, verify.ControlReadKey)
}

// startTiming brings up the negotiated timing subsystem's sockets before
// SETUP phase 1 advertises timingPeerInfo (spec §4.8).
func (s *Session) startTiming() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.timingCancel = cancel

	if s.timingProt == TimingProtocolPTP {
		master, err := timing.NewMaster(s.clock, s.log)
		if err != nil {
			cancel()
			return err
		}
		s.ptp = master
		go func() {
			if err := master.Run(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("PTP master stopped")
			}
		}()
		return nil
	}

	responder, err := timing.NewNTPResponder(s.clock, ":0", s.log)
	if err != nil {
		cancel()
		return err
	}
	s.ntp = responder
	go func() {
		if err := responder.Serve(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn().Err(err).Msg("NTP responder stopped")
		}
	}()
	return nil
}

// setupPhase1 advertises the timing protocol and our local addresses
// (spec §4.6).
func (s *Session) setupPhase1() error {
	peerInfo := bplist.NewDict().
		Set("Addresses", []any{localAddresses()}).
		Set("ID", s.sessionID)

	body := bplist.NewDict().
		Set("timingProtocol", s.timingProt.String()).
		Set("timingPeerInfo", peerInfo).
		// FairPlay key material is out of scope (spec Non-goals); these
		// fields are present for shape compatibility only.
		Set("ekey", []byte{}).
		Set("eiv", make([]byte, 16)).
		Set("et", int64(4))

	encoded, err := bplist.Encode(body)
	if err != nil {
		return liberrors.ErrBadPlist{Err: err}
	}

	req := &base.Request{
		Method: base.MethodSetup,
		Path:   "/" + s.sessionID,
		Header: base.Header{"Content-Type": base.HeaderValue{"application/x-apple-binary-plist"}},
		Body:   encoded,
	}
	res, err := s.cc.do(req, 10*time.Second)
	if err != nil {
		return err
	}

	if len(res.Body) > 0 {
		if decoded, derr := bplist.Decode(res.Body); derr == nil {
			if dict, ok := decoded.(*bplist.Dict); ok {
				if ep, ok := dict.GetInt("eventPort"); ok {
					s.dialEventConn(int(uint16(ep)))
				}
			}
		}
	}
	return nil
}

// dialEventConn opens the accessory's event TCP socket; failures here are
// not fatal to Connect (the feedback loop simply has nothing to read),
// since not every receiver advertises eventPort.
func (s *Session) dialEventConn(port int) {
	if port == 0 {
		return
	}
	host := pickHost(s.device)
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	nc, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		s.log.Debug().Err(err).Msg("event connection unavailable")
		return
	}
	s.eventConn = nc
}

// setupPhase2 reserves local data/control UDP sockets, describes the
// stream and parses the accessory's chosen destination ports (spec §4.6).
func (s *Session) setupPhase2() error {
	dataPort, err := reserveUDPPort()
	if err != nil {
		return liberrors.ErrIO{Err: err}
	}
	controlPort, err := reserveUDPPort()
	if err != nil {
		return liberrors.ErrIO{Err: err}
	}
	s.localDataPort = dataPort
	s.localControlPort = controlPort

	s.ssrc = randomUint32()
	s.shk = randomBytes(16)
	s.aiv = randomBytes(16)

	at := s.config.AudioEncryptionType
	if at == 0 {
		at = audioEncryptionTypeForModel(s.device, s.codec)
	}

	stream := bplist.NewDict().
		Set("type", int64(96)).
		Set("audioFormat", audioFormatCode(s.codec, s.config.SampleRate)).
		Set("ct", s.codec.CodecTypeValue()).
		Set("spf", int64(s.codec.FramesPerPacket())).
		Set("shk", s.shk).
		Set("aiv", s.aiv).
		Set("at", at).
		Set("controlPort", int64(controlPort)).
		Set("dataPort", int64(dataPort))

	body := bplist.NewDict().Set("streams", []any{stream})
	encoded, err := bplist.Encode(body)
	if err != nil {
		return liberrors.ErrBadPlist{Err: err}
	}

	req := &base.Request{
		Method: base.MethodSetup,
		Path:   "/" + s.sessionID,
		Header: base.Header{"Content-Type": base.HeaderValue{"application/x-apple-binary-plist"}},
		Body:   encoded,
	}
	res, err := s.cc.do(req, 5*time.Second)
	if err != nil {
		return err
	}

	remoteData, remoteControl := dataPort, controlPort
	if len(res.Body) > 0 {
		if decoded, derr := bplist.Decode(res.Body); derr == nil {
			if dict, ok := decoded.(*bplist.Dict); ok {
				if streams, ok := dict.Get("streams"); ok {
					if arr, ok := streams.([]any); ok && len(arr) > 0 {
						if sd, ok := arr[0].(*bplist.Dict); ok {
							if v, ok := sd.GetInt("dataPort"); ok {
								remoteData = int(uint16(v))
							}
							if v, ok := sd.GetInt("controlPort"); ok {
								remoteControl = int(uint16(v))
							}
						}
					}
				}
			}
		}
	}
	s.remoteDataPort = remoteData
	s.remoteControlPort = remoteControl

	host := pickHost(s.device)
	dataConn, err := net.DialUDP("udp", &net.UDPAddr{Port: dataPort}, &net.UDPAddr{IP: net.ParseIP(host), Port: remoteData})
	if err != nil {
		return liberrors.ErrIO{Err: err}
	}
	s.dataConn = dataConn

	ctlConn, err := net.DialUDP("udp", &net.UDPAddr{Port: controlPort}, &net.UDPAddr{IP: net.ParseIP(host), Port: remoteControl})
	if err != nil {
		return liberrors.ErrIO{Err: err}
	}
	s.controlConn = ctlConn

	return nil
}

// setPeers tells the accessory about every timing peer we know of, here
// just ourselves (spec §4.6 "SETPEERS").
func (s *Session) setPeers() error {
	body := bplist.NewDict().Set("peers", []any{localAddresses()})
	encoded, err := bplist.Encode(body)
	if err != nil {
		return liberrors.ErrBadPlist{Err: err}
	}
	req := &base.Request{
		Method: base.MethodSetPeers,
		Path:   "/" + s.sessionID,
		Header: base.Header{"Content-Type": base.HeaderValue{"application/x-apple-binary-plist"}},
		Body:   encoded,
	}
	_, err = s.cc.do(req, 5*time.Second)
	return err
}

// Stream begins reading from source and sending RTP until it's exhausted,
// the session is paused, or Disconnect is called (spec §4.11 "stream").
// It returns once RECORD has been acknowledged and the pipeline goroutine
// is running; streaming errors surface via the returned channel.
func (s *Session) Stream(source audio.SampleSource) (<-chan error, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == StateStreaming || state == StatePaused {
		return nil, liberrors.ErrAlreadyStreaming{}
	}
	if state != StateReady {
		return nil, liberrors.ErrNotConnected{}
	}

	errCh := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	s.streamCancel = cancel

	s.pipeline = audio.NewPipeline(source, audio.Config{
		Codec:      s.codec,
		TargetRate: s.config.SampleRate,
		Channels:   2,
		SSRC:       s.ssrc,
		InitialSeq: uint16(randomUint32()),
		InitialTS:  randomUint32(),
		SHK:        encryptionKeyFor(s.codec, s.shk),
		AIV:        encryptionKeyFor(s.codec, s.aiv),
		DataConn:   s.dataConn,
		Start:      time.Now().Add(100 * time.Millisecond),
	})

	s.streamWG.Add(1)
	go s.runPipeline(ctx, errCh)

	// RECORD is sent once the data path has begun producing packets
	// (spec §3: "some receivers accept RECORD only once data is
	// flowing").
	time.Sleep(100 * time.Millisecond)
	if err := s.record(); err != nil {
		cancel()
		return nil, err
	}

	s.setState(StateStreaming)
	s.applyQueuedVolume()
	return errCh, nil
}

// encryptionKeyFor disables payload encryption for raw L16 streams (spec
// §4.7: only ALAC/AAC payloads are AES-CBC encrypted).
func encryptionKeyFor(codec audio.Codec, key []byte) []byte {
	if codec == audio.CodecL16 {
		return nil
	}
	return key
}

func (s *Session) runPipeline(ctx context.Context, errCh chan<- error) {
	defer s.streamWG.Done()
	defer close(errCh)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.pipeline.RunOnce(time.Sleep); err != nil {
			if _, ok := err.(liberrors.ErrEndOfStream); ok {
				s.setState(StateReady)
				return
			}
			errCh <- err
			s.fail(err)
			return
		}

		select {
		case <-ticker.C:
			s.sendSenderReport()
		default:
		}
	}
}

func (s *Session) sendSenderReport() {
	if s.pipeline == nil || s.controlConn == nil {
		return
	}
	seq, rtpTime := s.pipeline.NextRTPInfo()
	report, err := audio.SenderReportTick(s.clock, s.ssrc, rtpTime, uint32(seq), 0)
	if err != nil {
		return
	}
	_, _ = s.controlConn.Write(report)
}

func (s *Session) record() error {
	req := &base.Request{
		Method: base.MethodRecord,
		Path:   "/" + s.sessionID,
		Header: base.Header{"RTP-Info": base.HeaderValue{"seq=0;rtptime=0"}},
	}
	_, err := s.cc.do(req, 5*time.Second)
	return err
}

// Pause stops the pipeline goroutine without tearing down the session
// (spec §4.11 "pause").
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return liberrors.ErrNotInPlayingState{}
	}
	s.mu.Unlock()

	if s.streamCancel != nil {
		s.streamCancel()
		s.streamWG.Wait()
	}
	s.setState(StatePaused)
	return nil
}

// Resume restarts streaming from the same SampleSource position, issuing
// a FLUSH first so the RTP sequence/timestamp advance past the paused
// region (spec §4.6 "FLUSH").
func (s *Session) Resume(source audio.SampleSource) (<-chan error, error) {
	s.mu.Lock()
	if s.state != StatePaused {
		s.mu.Unlock()
		return nil, liberrors.ErrNotInPlayingState{}
	}
	s.state = StateReady
	s.mu.Unlock()
	return s.Stream(source)
}

// Seek issues a FLUSH with the RTP-Info header set to the pipeline's next
// sequence/timestamp, per spec §4.6: "FLUSH is issued before any seek".
func (s *Session) Seek(position time.Duration) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != StateStreaming && state != StatePaused {
		return liberrors.ErrNotInPlayingState{}
	}

	seq, rtpTime := uint16(0), uint32(0)
	if s.pipeline != nil {
		seq, rtpTime = s.pipeline.NextRTPInfo()
	}

	req := &base.Request{
		Method: base.MethodFlush,
		Path:   "/" + s.sessionID,
		Header: base.Header{"RTP-Info": base.HeaderValue{
			fmt.Sprintf("seq=%d;rtptime=%d", seq, rtpTime),
		}},
	}
	_, err := s.cc.do(req, 5*time.Second)
	if err != nil {
		return err
	}
	if s.pipeline != nil {
		s.pipeline.Flush(seq, rtpTime, time.Now())
	}
	return nil
}

// SetVolume converts linear to dB and issues SET_PARAMETER. If called
// before streaming begins, no request is sent to the receiver: the volume
// is queued, ErrNotInPlayingState is returned, and the queued volume is
// sent without caller retry once Streaming is entered (spec §4.6, §8
// "Volume before and during stream").
func (s *Session) SetVolume(linear float32) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state != StateStreaming && state != StatePaused {
		s.queuedVolume = &linear
		return liberrors.ErrNotInPlayingState{}
	}
	return s.sendVolume(linear)
}

func (s *Session) sendVolume(linear float32) error {
	db := VolumeToDB(linear)
	body := []byte(fmt.Sprintf("volume: %.6f\r\n", db))
	req := &base.Request{
		Method: base.MethodSetParameter,
		Path:   "/" + s.sessionID,
		Header: base.Header{"Content-Type": base.HeaderValue{"text/parameters"}},
		Body:   body,
	}
	_, err := s.cc.do(req, 5*time.Second)
	if err == nil {
		s.queuedVolume = nil
	}
	return err
}

func (s *Session) applyQueuedVolume() {
	if s.queuedVolume == nil {
		return
	}
	v := *s.queuedVolume
	go func() { _ = s.sendVolume(v) }()
}

// Disconnect tears down the pipeline, timing sockets and control
// connection (spec §4.11 "disconnect").
func (s *Session) Disconnect() error {
	if s.feedbackCancel != nil {
		s.feedbackCancel()
	}
	if s.eventConn != nil {
		_ = s.eventConn.Close()
	}
	if s.streamCancel != nil {
		s.streamCancel()
		s.streamWG.Wait()
	}
	if s.timingCancel != nil {
		s.timingCancel()
	}
	if s.ntp != nil {
		_ = s.ntp.Close()
	}
	if s.ptp != nil {
		_ = s.ptp.Close()
	}
	if s.dataConn != nil {
		_ = s.dataConn.Close()
	}
	if s.controlConn != nil {
		_ = s.controlConn.Close()
	}

	var teardownErr error
	if s.cc != nil {
		_, teardownErr = s.cc.do(&base.Request{Method: base.MethodTeardown, Path: "/" + s.sessionID}, 5*time.Second)
		_ = s.cc.close()
	}

	s.setState(StateClosed)
	return teardownErr
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Failure returns the error that caused Failed, if any.
func (s *Session) Failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Capabilities returns the device capabilities derived at connect time,
// refined with GET /info's initial-volume hint.
func (s *Session) Capabilities() DeviceCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.state = StateFailed
	s.failure = err
	s.mu.Unlock()
	s.log.Error().Err(err).Msg("session failed")
	return err
}

// audioFormatCode derives a plausible per-codec/sample-rate audioFormat
// bitmask for SETUP(2). AirPlay2's receiver firmwares are tolerant of a
// narrower set of values than the full published bitmask; this picks the
// conservative "stereo, 16-bit" entry for each codec family.
func audioFormatCode(codec audio.Codec, sampleRate int) int64 {
	switch codec {
	case audio.CodecALAC:
		return 0x40
	case audio.CodecAAC:
		return 0x400
	default:
		return 0x4
	}
}

func reserveUDPPort() (int, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return 0, err
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	_ = conn.Close()
	return port, nil
}

func localAddresses() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
	}
	return "127.0.0.1"
}
