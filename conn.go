package airplay2

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/airlift/airplay2/pkg/base"
	"github.com/airlift/airplay2/pkg/bplist"
	"github.com/airlift/airplay2/pkg/hapcrypto"
	"github.com/airlift/airplay2/pkg/liberrors"
)

// userAgent identifies this sender on the control channel (spec §4.4).
const userAgent = "AirPlay/placeholder"

// conn wraps one RTSP-derived control-channel TCP connection: request
// framing, the monotonic CSeq counter, the mandatory per-session headers,
// and post-pair-verify AEAD body wrapping (spec §4.4, §4.5).
//
// conn implements pkg/pairing.Transport, so the pairing engine can drive
// /pair-setup and /pair-verify directly over a live socket.
type conn struct {
	nc net.Conn
	br *bufio.Reader
	bw *bufio.Writer

	dacpID         string
	activeRemote   string
	clientInstance string

	mu    sync.Mutex
	cseq  int
	codec *hapcrypto.FrameCodec // nil until pair-verify completes
}

// dial opens a TCP control connection to addr ("host:port") and prepares
// the per-session headers AirPlay requires on every request.
func dial(addr string, timeout time.Duration) (*conn, error) {
	nc, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, liberrors.ErrIO{Err: err}
	}

	instance := uuid.New()
	dacp := uuid.New()
	return &conn{
		nc:             nc,
		br:             bufio.NewReader(nc),
		bw:             bufio.NewWriter(nc),
		dacpID:         fmt.Sprintf("%016X", dacp[:8]),
		activeRemote:   strconv.FormatUint(uint64(binary.BigEndian.Uint32(instance[:4])), 10),
		clientInstance: strings.ToUpper(strings.ReplaceAll(instance.String(), "-", "")),
	}, nil
}

// enableEncryption switches the connection into AEAD-framed bodies once
// pair-verify has derived the control write/read keys (spec §4.4).
func (c *conn) enableEncryption(writeKey, readKey []byte) error {
	codec, err := hapcrypto.NewFrameCodec(writeKey, readKey)
	if err != nil {
		return liberrors.ErrKeyDerivationFailure{Err: err}
	}
	c.mu.Lock()
	c.codec = codec
	c.mu.Unlock()
	return nil
}

// do sends req with the mandatory headers and CSeq attached, and returns
// the accessory's parsed response. Body framing (plaintext vs AEAD) is
// decided by whether encryption has been enabled yet.
func (c *conn) do(req *base.Request, timeout time.Duration) (*base.Response, error) {
	c.mu.Lock()
	c.cseq++
	cseq := c.cseq
	codec := c.codec
	c.mu.Unlock()

	if req.Header == nil {
		req.Header = make(base.Header)
	}
	req.Header["CSeq"] = base.HeaderValue{strconv.Itoa(cseq)}
	req.Header["User-Agent"] = base.HeaderValue{userAgent}
	req.Header["DACP-ID"] = base.HeaderValue{c.dacpID}
	req.Header["Active-Remote"] = base.HeaderValue{c.activeRemote}
	req.Header["Client-Instance"] = base.HeaderValue{c.clientInstance}

	if codec != nil && len(req.Body) > 0 {
		frame, _, err := codec.WrapBody(req.Body)
		if err != nil {
			return nil, liberrors.ErrIO{Err: err}
		}
		req.Body = frame
	}

	if err := c.nc.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return nil, liberrors.ErrIO{Err: err}
	}
	if err := req.Write(c.bw); err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, liberrors.ErrTimeout{Op: string(req.Method), Timeout: timeout}
		}
		return nil, liberrors.ErrIO{Err: err}
	}

	if err := c.nc.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, liberrors.ErrIO{Err: err}
	}
	var res base.Response
	if err := res.Read(c.br); err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, liberrors.ErrTimeout{Op: string(req.Method), Timeout: timeout}
		}
		return nil, liberrors.ErrLostConnection{}
	}

	if got, ok := res.Header["CSeq"]; ok && (len(got) != 1 || got[0] != strconv.Itoa(cseq)) {
		return nil, liberrors.ErrUnexpectedResponse{Reason: fmt.Sprintf("response CSeq %v does not match request CSeq %d", got, cseq)}
	}

	if codec != nil && len(res.Body) > 0 {
		plain, err := codec.UnwrapBody(res.Body)
		if err != nil {
			return nil, err
		}
		res.Body = plain
	}

	if res.StatusCode != base.StatusOK {
		return &res, liberrors.ErrRTSP{Status: int(res.StatusCode), Method: string(req.Method), CSeq: cseq}
	}

	return &res, nil
}

// PostPlist implements pkg/pairing.Transport: POST a plist body to path
// and decode the accessory's plist response.
func (c *conn) PostPlist(path string, body *bplist.Dict) (*bplist.Dict, error) {
	encoded, err := bplist.Encode(body)
	if err != nil {
		return nil, liberrors.ErrBadPlist{Err: err}
	}

	req := &base.Request{
		Method: base.MethodPost,
		Path:   path,
		Header: base.Header{
			"Content-Type": base.HeaderValue{"application/x-apple-binary-plist"},
		},
		Body: encoded,
	}

	res, err := c.do(req, 10*time.Second)
	if err != nil {
		return nil, err
	}

	if len(res.Body) == 0 {
		return bplist.NewDict(), nil
	}
	decoded, err := bplist.Decode(res.Body)
	if err != nil {
		return nil, liberrors.ErrBadPlist{Err: err}
	}
	dict, ok := decoded.(*bplist.Dict)
	if !ok {
		return nil, liberrors.ErrUnexpectedResponse{Reason: "plist response is not a dictionary"}
	}
	return dict, nil
}

// close closes the underlying TCP connection.
func (c *conn) close() error {
	return c.nc.Close()
}
