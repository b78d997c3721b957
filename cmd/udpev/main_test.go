package main

import (
	"bytes"
	"strconv"
	"testing"
	"time"

	"github.com/cyberinferno/udpev/client"
	"github.com/cyberinferno/udpev/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	t.Run("ipv4", func(t *testing.T) {
		addr, err := parseEndpoint("127.0.0.1:9000")
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9000", addr.String())
	})

	t.Run("ipv6", func(t *testing.T) {
		addr, err := parseEndpoint("[::1]:53")
		require.NoError(t, err)
		assert.Equal(t, 53, addr.Port)
	})

	for _, bad := range []string{"127.0.0.1", "127.0.0.1:0", "127.0.0.1:x", "example.com:53"} {
		t.Run("rejects "+bad, func(t *testing.T) {
			_, err := parseEndpoint(bad)
			assert.ErrorIs(t, err, status.ErrInvalidArgument)
		})
	}
}

func TestSendCmd(t *testing.T) {
	echo, err := client.NewConn("127.0.0.1", 0)
	require.NoError(t, err)
	defer echo.Close()

	go func() {
		buf := make([]byte, 256)
		n, from, err := echo.Recv(buf, 2*time.Second)
		if err == nil {
			_, _ = echo.Send(from, buf[:n])
		}
	}()

	var out bytes.Buffer
	cmd := sendCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--to", "127.0.0.1:" + strconv.Itoa(echo.LocalAddr().Port), "--bind", "127.0.0.1", "hello", "world"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "hello world")
}

func TestSendCmd_NoReply(t *testing.T) {
	silent, err := client.NewConn("127.0.0.1", 0)
	require.NoError(t, err)
	defer silent.Close()

	var out bytes.Buffer
	cmd := sendCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--to", silent.LocalAddr().String(), "--timeout", "50ms", "ping"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "no reply within 50ms")
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := versionCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(nil)

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "udpev dev (none)\n", out.String())
}
