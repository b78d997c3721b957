package server

import (
	"bytes"
	"encoding/binary"
)

// Session payload layout: a 4-byte big-endian datagram count followed by the
// peer address, NUL padded to the session size and truncated if it does not fit.
const countLen = 4

// encodeSession returns a size-byte payload for a new session of peer.
func encodeSession(peer string, size int) []byte {
	b := make([]byte, size)
	binary.BigEndian.PutUint32(b, 1)
	copy(b[countLen:], peer)
	return b
}

// sessionPackets returns the datagram count stored in payload.
func sessionPackets(payload []byte) uint32 {
	return binary.BigEndian.Uint32(payload)
}

// countPacket increments the datagram count stored in payload in place.
func countPacket(payload []byte) {
	binary.BigEndian.PutUint32(payload, sessionPackets(payload)+1)
}

// sessionPeer reads the peer address up to the first NUL byte.
func sessionPeer(payload []byte) string {
	peer := payload[countLen:]
	if i := bytes.IndexByte(peer, 0); i != -1 {
		peer = peer[:i]
	}

	return string(peer)
}
