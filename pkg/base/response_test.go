package base

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResponseWriteRead(t *testing.T) {
	res := Response{
		StatusCode: StatusOK,
		Header:     Header{"CSeq": HeaderValue{"4"}},
		Body:       []byte("body"),
	}

	var buf bytes.Buffer
	err := res.Write(bufio.NewWriter(&buf))
	require.NoError(t, err)

	var decoded Response
	err = decoded.Read(bufio.NewReader(&buf))
	require.NoError(t, err)

	require.Equal(t, StatusOK, decoded.StatusCode)
	require.Equal(t, "OK", decoded.StatusMessage)
	require.Equal(t, []byte("body"), decoded.Body)
}

func TestResponseMethodNotValidInThisState(t *testing.T) {
	require.Equal(t, StatusCode(455), StatusMethodNotValidInThisState)
	require.Equal(t, "Method Not Valid In This State", statusMessages[StatusMethodNotValidInThisState])
}
