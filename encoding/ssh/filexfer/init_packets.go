package sshfx

import (
	"io"
)

// InitPacket defines the SSH_FXP_INIT packet.
type InitPacket struct {
	Version    uint32
	Extensions []*ExtensionPair
}

// MarshalBinary returns p as the binary encoding of p.
func (p *InitPacket) MarshalBinary() ([]byte, error) {
	return marshalVersion(PacketTypeInit, p.Version, p.Extensions)
}

// UnmarshalBinary unmarshals a full raw packet out of the given data.
// It is assumed that the uint32(length) has already been consumed to receive the data.
// It is also assumed that the uint8(type) has already been consumed to which packet to unmarshal into.
func (p *InitPacket) UnmarshalBinary(data []byte) (err error) {
	p.Version, p.Extensions, err = unmarshalVersion(NewBuffer(data))
	return err
}

// ReadFrom reads a full SSH_FXP_INIT packet out of the given reader.
func (p *InitPacket) ReadFrom(r io.Reader, b []byte, maxPacketLength uint32) (err error) {
	buf, err := readVersionPacket(r, b, maxPacketLength, PacketTypeInit)
	if err != nil {
		return err
	}

	p.Version, p.Extensions, err = unmarshalVersion(buf)
	return err
}

// VersionPacket defines the SSH_FXP_VERSION packet.
type VersionPacket struct {
	Version    uint32
	Extensions []*ExtensionPair
}

// MarshalBinary returns p as the binary encoding of p.
func (p *VersionPacket) MarshalBinary() ([]byte, error) {
	return marshalVersion(PacketTypeVersion, p.Version, p.Extensions)
}

// UnmarshalBinary unmarshals a full raw packet out of the given data.
// It is assumed that the uint32(length) has already been consumed to receive the data.
// It is also assumed that the uint8(type) has already been consumed to which packet to unmarshal into.
func (p *VersionPacket) UnmarshalBinary(data []byte) (err error) {
	p.Version, p.Extensions, err = unmarshalVersion(NewBuffer(data))
	return err
}

// ReadFrom reads a full SSH_FXP_VERSION packet out of the given reader.
// Any other packet type results in an error.
func (p *VersionPacket) ReadFrom(r io.Reader, b []byte, maxPacketLength uint32) (err error) {
	buf, err := readVersionPacket(r, b, maxPacketLength, PacketTypeVersion)
	if err != nil {
		return err
	}

	p.Version, p.Extensions, err = unmarshalVersion(buf)
	return err
}

func marshalVersion(typ PacketType, version uint32, exts []*ExtensionPair) ([]byte, error) {
	size := 1 + 4 // byte(type) + uint32(version)

	for _, ext := range exts {
		size += ext.Len()
	}

	buf := NewBuffer(make([]byte, 4, 4+size))
	buf.AppendUint8(uint8(typ))
	buf.AppendUint32(version)

	for _, ext := range exts {
		ext.MarshalInto(buf)
	}

	buf.PutLength(size)

	return buf.Bytes(), nil
}

func unmarshalVersion(buf *Buffer) (version uint32, exts []*ExtensionPair, err error) {
	version = buf.ConsumeUint32()

	for buf.Len() > 0 && buf.Err == nil {
		ext := new(ExtensionPair)
		if err := ext.UnmarshalFrom(buf); err != nil {
			return version, exts, err
		}

		exts = append(exts, ext)
	}

	return version, exts, buf.Err
}

func readVersionPacket(r io.Reader, b []byte, maxPacketLength uint32, want PacketType) (*Buffer, error) {
	data, err := readPacket(r, b, maxPacketLength)
	if err != nil {
		return nil, err
	}

	buf := NewBuffer(data)

	if typ := PacketType(buf.ConsumeUint8()); typ != want {
		return nil, &UnexpectedPacketTypeError{Want: want, Got: typ}
	}

	return buf, nil
}
