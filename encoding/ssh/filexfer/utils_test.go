package sshfx

import (
	"testing"
)

type marshalPacketFunc func(reqid uint32, b []byte) (header, payload []byte, err error)

// testComposePacket checks that marshaling reuses a sufficiently large buffer,
// then returns the whole composed packet.
func testComposePacket(t *testing.T, marshal marshalPacketFunc, reqid uint32) (data []byte, err error) {
	t.Helper()

	b := make([]byte, DefaultMaxPacketLength)

	header, _, err := marshal(reqid, b)
	if err != nil {
		return nil, err
	}

	if len(header) > 0 && &header[0] != &b[0] {
		t.Error("MarshalPacket() did not reuse the given buffer")
	}

	return ComposePacket(marshal(reqid, nil))
}
