package sshfx

import (
	"encoding"
)

// ExtendedData aliases the untyped interface composition of encoding.BinaryMarshaler and encoding.BinaryUnmarshaler.
// The openssh package defines the extension-specific data types of the extensions the client uses.
type ExtendedData = interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// marshalExtended marshals an SSH_FXP_EXTENDED or SSH_FXP_EXTENDED_REPLY packet.
// The extension name is only present in requests.
// The marshaled data is returned as the payload.
func marshalExtended(typ PacketType, reqid uint32, b []byte, name string, data ExtendedData) (header, payload []byte, err error) {
	size := 0
	if typ == PacketTypeExtended {
		size = 4 + len(name)
	}

	buf := marshalBuffer(b, size)

	buf.StartPacket(typ, reqid)
	if typ == PacketTypeExtended {
		buf.AppendString(name)
	}

	if data != nil {
		payload, err = data.MarshalBinary()
		if err != nil {
			return nil, nil, err
		}
	}

	return buf.Packet(payload)
}

// unmarshalExtended unmarshals the remainder of buf into data,
// or into a new Buffer, if data is nil.
func unmarshalExtended(buf *Buffer, data *ExtendedData) error {
	if *data == nil {
		*data = new(Buffer)
	}

	return (*data).UnmarshalBinary(buf.Bytes())
}

// ExtendedPacket defines the SSH_FXP_EXTENDED packet.
type ExtendedPacket struct {
	ExtendedRequest string

	Data ExtendedData
}

// Type returns the SSH_FXP_xy value associated with this packet type.
func (p *ExtendedPacket) Type() PacketType {
	return PacketTypeExtended
}

// MarshalPacket returns p as a two-part binary encoding of p.
//
// The Data is marshaled into binary, and returned as the payload.
func (p *ExtendedPacket) MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error) {
	return marshalExtended(PacketTypeExtended, reqid, b, p.ExtendedRequest, p.Data)
}

// UnmarshalPacketBody unmarshals the packet body from the given Buffer.
// It is assumed that the uint32(request-id) has already been consumed.
//
// If p.Data is nil, the request-specific data is kept as a Buffer,
// for the receiver to decode once it has looked at ExtendedRequest.
func (p *ExtendedPacket) UnmarshalPacketBody(buf *Buffer) (err error) {
	p.ExtendedRequest = buf.ConsumeString()
	if buf.Err != nil {
		return buf.Err
	}

	return unmarshalExtended(buf, &p.Data)
}

// ExtendedReplyPacket defines the SSH_FXP_EXTENDED_REPLY packet.
// Nothing in the reply names the extension, so the receiver must set Data to the type it expects.
type ExtendedReplyPacket struct {
	Data ExtendedData
}

// Type returns the SSH_FXP_xy value associated with this packet type.
func (p *ExtendedReplyPacket) Type() PacketType {
	return PacketTypeExtendedReply
}

// MarshalPacket returns p as a two-part binary encoding of p.
//
// The Data is marshaled into binary, and returned as the payload.
func (p *ExtendedReplyPacket) MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error) {
	return marshalExtended(PacketTypeExtendedReply, reqid, b, "", p.Data)
}

// UnmarshalPacketBody unmarshals the packet body from the given Buffer.
// It is assumed that the uint32(request-id) has already been consumed.
//
// If p.Data is nil, then the reply-specific data is wrapped in a Buffer and assigned to p.Data.
func (p *ExtendedReplyPacket) UnmarshalPacketBody(buf *Buffer) (err error) {
	return unmarshalExtended(buf, &p.Data)
}
