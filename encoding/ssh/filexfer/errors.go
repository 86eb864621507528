package sshfx

import (
	"fmt"
)

// UnexpectedPacketTypeError is returned when a packet of one type was received,
// where only another type could be accepted.
type UnexpectedPacketTypeError struct {
	Want PacketType
	Got  PacketType
}

func (e *UnexpectedPacketTypeError) Error() string {
	return fmt.Sprintf("unexpected packet type: got %v, want %v", e.Got, e.Want)
}
