package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionCodec(t *testing.T) {
	t.Run("pads short peer", func(t *testing.T) {
		b := encodeSession("10.0.0.1:53", 32)
		assert.Len(t, b, 32)
		assert.Equal(t, uint32(1), sessionPackets(b))
		assert.Equal(t, "10.0.0.1:53", sessionPeer(b))
	})

	t.Run("truncates long peer", func(t *testing.T) {
		b := encodeSession("[2001:db8::1]:65535", 10)
		assert.Len(t, b, 10)
		assert.Equal(t, "[2001:", sessionPeer(b))
	})

	t.Run("counts packets in place", func(t *testing.T) {
		b := encodeSession("p", 8)
		countPacket(b)
		countPacket(b)
		assert.Equal(t, uint32(3), sessionPackets(b))
		assert.Equal(t, "p", sessionPeer(b))
	})

	t.Run("count only", func(t *testing.T) {
		b := encodeSession("ignored", 4)
		assert.Equal(t, "", sessionPeer(b))
	})
}
