package airplay2

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/airlift/airplay2/pkg/base"
	"github.com/airlift/airplay2/pkg/liberrors"
)

// fakeAccessory accepts one connection and answers every request with a
// fixed status, recording each request it receives.
func fakeAccessory(t *testing.T, status base.StatusCode) (addr string, received chan *base.Request) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	received = make(chan *base.Request, 16)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		br := bufio.NewReader(nc)
		bw := bufio.NewWriter(nc)
		for {
			var req base.Request
			if err := req.Read(br); err != nil {
				return
			}
			received <- &req
			res := base.Response{StatusCode: status, StatusMessage: "OK", Header: base.Header{}}
			if err := res.Write(bw); err != nil {
				return
			}
		}
	}()

	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().String(), received
}

func TestConnDoSetsCSeqAndHeaders(t *testing.T) {
	addr, received := fakeAccessory(t, base.StatusOK)

	c, err := dial(addr, time.Second)
	require.NoError(t, err)
	defer c.close()

	_, err = c.do(&base.Request{Method: base.MethodOptions, Path: "*"}, time.Second)
	require.NoError(t, err)
	_, err = c.do(&base.Request{Method: base.MethodGet, Path: "/info"}, time.Second)
	require.NoError(t, err)

	req1 := <-received
	req2 := <-received
	require.Equal(t, []string{"1"}, []string(req1.Header["CSeq"]))
	require.Equal(t, []string{"2"}, []string(req2.Header["CSeq"]))
	require.NotEmpty(t, req1.Header["DACP-ID"])
	require.NotEmpty(t, req1.Header["Active-Remote"])
	require.NotEmpty(t, req1.Header["Client-Instance"])
}

func TestConnDoSurfacesNonOKStatus(t *testing.T) {
	addr, _ := fakeAccessory(t, base.StatusSessionNotFound)

	c, err := dial(addr, time.Second)
	require.NoError(t, err)
	defer c.close()

	_, err = c.do(&base.Request{Method: base.MethodRecord, Path: "/x"}, time.Second)
	require.Error(t, err)
}

// silentAccessory accepts one connection, reads whatever is sent, and never
// replies, so c.do's read deadline is the only thing that ever fires.
func silentAccessory(t *testing.T) (addr string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	stop := make(chan struct{})
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		_, _ = bufio.NewReader(nc).ReadByte()
		<-stop
	}()

	t.Cleanup(func() {
		close(stop)
		_ = ln.Close()
	})
	return ln.Addr().String()
}

func TestConnDoSurfacesTimeout(t *testing.T) {
	addr := silentAccessory(t)

	c, err := dial(addr, time.Second)
	require.NoError(t, err)
	defer c.close()

	_, err = c.do(&base.Request{Method: base.MethodGetParameter, Path: "/x"}, 20*time.Millisecond)
	require.Error(t, err)

	var timeoutErr liberrors.ErrTimeout
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, "GET_PARAMETER", timeoutErr.Op)
}
