package openssh

import (
	sshfx "github.com/pkg/sftpclient/encoding/ssh/filexfer"
)

const extensionLimits = "limits@openssh.com"

// ExtensionLimits returns an ExtensionPair suitable to append into an sshfx.InitPacket or sshfx.VersionPacket.
func ExtensionLimits() *sshfx.ExtensionPair {
	return &sshfx.ExtensionPair{
		Name: extensionLimits,
		Data: "1",
	}
}

// LimitsExtendedPacket defines the limits@openssh.com extend packet.
// The request carries no data.
type LimitsExtendedPacket struct{}

// Type returns the SSH_FXP_EXTENDED packet type.
func (ep *LimitsExtendedPacket) Type() sshfx.PacketType {
	return sshfx.PacketTypeExtended
}

// ExtendedRequest returns the SSH_FXP_EXTENDED extended-request field associated with this packet type.
func (ep *LimitsExtendedPacket) ExtendedRequest() string {
	return extensionLimits
}

// MarshalPacket returns ep as a two-part binary encoding of the full extended packet.
func (ep *LimitsExtendedPacket) MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error) {
	return extendedRequest(reqid, b, extensionLimits, nil)
}

// LimitsExtendedReplyPacket defines the reply to a limits@openssh.com request.
//
// A value of zero in any field means the server did not declare a limit.
type LimitsExtendedReplyPacket struct {
	MaxPacketLength uint64
	MaxReadLength   uint64
	MaxWriteLength  uint64
	MaxOpenHandles  uint64
}

// Type returns the SSH_FXP_EXTENDED_REPLY packet type.
func (ep *LimitsExtendedReplyPacket) Type() sshfx.PacketType {
	return sshfx.PacketTypeExtendedReply
}

// MarshalPacket returns ep as a two-part binary encoding of the full extended reply packet.
func (ep *LimitsExtendedReplyPacket) MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error) {
	p := &sshfx.ExtendedReplyPacket{
		Data: ep,
	}
	return p.MarshalPacket(reqid, b)
}

// UnmarshalPacketBody decodes the reply body from buf.
// It is assumed that the uint32(request-id) has already been consumed.
func (ep *LimitsExtendedReplyPacket) UnmarshalPacketBody(buf *sshfx.Buffer) (err error) {
	*ep = LimitsExtendedReplyPacket{
		MaxPacketLength: buf.ConsumeUint64(),
		MaxReadLength:   buf.ConsumeUint64(),
		MaxWriteLength:  buf.ConsumeUint64(),
		MaxOpenHandles:  buf.ConsumeUint64(),
	}

	return buf.Err
}

// MarshalBinary encodes ep into the binary encoding of the limits@openssh.com reply data.
func (ep *LimitsExtendedReplyPacket) MarshalBinary() ([]byte, error) {
	buf := sshfx.NewBuffer(make([]byte, 0, 4*8))
	buf.AppendUint64(ep.MaxPacketLength)
	buf.AppendUint64(ep.MaxReadLength)
	buf.AppendUint64(ep.MaxWriteLength)
	buf.AppendUint64(ep.MaxOpenHandles)
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes the limits@openssh.com reply data into ep.
func (ep *LimitsExtendedReplyPacket) UnmarshalBinary(data []byte) error {
	return ep.UnmarshalPacketBody(sshfx.NewBuffer(data))
}
