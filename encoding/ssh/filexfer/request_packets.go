package sshfx

// SSH_FXF_* flags.
const (
	FlagRead      = 1 << iota // SSH_FXF_READ
	FlagWrite                 // SSH_FXF_WRITE
	FlagAppend                // SSH_FXF_APPEND
	FlagCreate                // SSH_FXF_CREAT
	FlagTruncate              // SSH_FXF_TRUNC
	FlagExclusive             // SSH_FXF_EXCL
)

// requestBody is implemented by the request packets whose body is more than a single string.
type requestBody interface {
	Type() PacketType

	// bodyLen is the length of the body, not counting any pass-through payload.
	bodyLen() int
	appendBody(buf *Buffer)
}

// marshalRequest marshals the header of p into b, if it has enough capacity.
// Any payload is passed through without being copied.
func marshalRequest(p requestBody, reqid uint32, b, payload []byte) (header, payloadPassThru []byte, err error) {
	buf := marshalBuffer(b, p.bodyLen())

	buf.StartPacket(p.Type(), reqid)
	p.appendBody(buf)

	return buf.Packet(payload)
}

// marshalString marshals the many packet types whose body is a single path or handle.
func marshalString(typ PacketType, reqid uint32, b []byte, s string) (header, payload []byte, err error) {
	buf := marshalBuffer(b, 4+len(s))

	buf.StartPacket(typ, reqid)
	buf.AppendString(s)

	return buf.Packet(nil)
}

// OpenPacket defines the SSH_FXP_OPEN packet.
type OpenPacket struct {
	Filename string
	PFlags   uint32
	Attrs    Attributes
}

// Type returns the SSH_FXP_xy value associated with this packet type.
func (p *OpenPacket) Type() PacketType { return PacketTypeOpen }

func (p *OpenPacket) bodyLen() int { return 4 + len(p.Filename) + 4 + p.Attrs.Len() }

func (p *OpenPacket) appendBody(buf *Buffer) {
	buf.AppendString(p.Filename)
	buf.AppendUint32(p.PFlags)
	p.Attrs.MarshalInto(buf)
}

// MarshalPacket returns p as a two-part binary encoding of p.
func (p *OpenPacket) MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error) {
	return marshalRequest(p, reqid, b, nil)
}

// UnmarshalPacketBody unmarshals the packet body from the given Buffer.
// It is assumed that the uint32(request-id) has already been consumed.
func (p *OpenPacket) UnmarshalPacketBody(buf *Buffer) (err error) {
	*p = OpenPacket{
		Filename: buf.ConsumeString(),
		PFlags:   buf.ConsumeUint32(),
	}

	return p.Attrs.UnmarshalFrom(buf)
}

// ReadPacket defines the SSH_FXP_READ packet.
// The server may return fewer than Length bytes, even before the end of the file.
type ReadPacket struct {
	Handle string
	Offset uint64
	Length uint32
}

// Type returns the SSH_FXP_xy value associated with this packet type.
func (p *ReadPacket) Type() PacketType { return PacketTypeRead }

func (p *ReadPacket) bodyLen() int { return 4 + len(p.Handle) + 8 + 4 }

func (p *ReadPacket) appendBody(buf *Buffer) {
	buf.AppendString(p.Handle)
	buf.AppendUint64(p.Offset)
	buf.AppendUint32(p.Length)
}

// MarshalPacket returns p as a two-part binary encoding of p.
func (p *ReadPacket) MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error) {
	return marshalRequest(p, reqid, b, nil)
}

// UnmarshalPacketBody unmarshals the packet body from the given Buffer.
// It is assumed that the uint32(request-id) has already been consumed.
func (p *ReadPacket) UnmarshalPacketBody(buf *Buffer) (err error) {
	*p = ReadPacket{
		Handle: buf.ConsumeString(),
		Offset: buf.ConsumeUint64(),
		Length: buf.ConsumeUint32(),
	}

	return buf.Err
}

// WritePacket defines the SSH_FXP_WRITE packet.
type WritePacket struct {
	Handle string
	Offset uint64
	Data   []byte
}

// Type returns the SSH_FXP_xy value associated with this packet type.
func (p *WritePacket) Type() PacketType { return PacketTypeWrite }

// bodyLen includes the length prefix of Data, but not Data itself.
func (p *WritePacket) bodyLen() int { return 4 + len(p.Handle) + 8 + 4 }

func (p *WritePacket) appendBody(buf *Buffer) {
	buf.AppendString(p.Handle)
	buf.AppendUint64(p.Offset)
	buf.AppendUint32(uint32(len(p.Data)))
}

// MarshalPacket returns p as a two-part binary encoding of p.
// The data is not copied, it is returned as the payload.
func (p *WritePacket) MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error) {
	return marshalRequest(p, reqid, b, p.Data)
}

// UnmarshalPacketBody unmarshals the packet body from the given Buffer.
// It is assumed that the uint32(request-id) has already been consumed.
//
// If p.Data already has sufficient capacity, the data is copied into it,
// otherwise a new byte slice is allocated.
// This never aliases the buffer passed in.
func (p *WritePacket) UnmarshalPacketBody(buf *Buffer) (err error) {
	hint := p.Data

	*p = WritePacket{
		Handle: buf.ConsumeString(),
		Offset: buf.ConsumeUint64(),
		Data:   buf.ConsumeByteSliceCopy(hint),
	}

	return buf.Err
}

// marshalWithAttrs marshals a body of string(path or handle) + ATTRS(attrs).
func marshalWithAttrs(typ PacketType, reqid uint32, b []byte, s string, attrs *Attributes) (header, payload []byte, err error) {
	buf := marshalBuffer(b, 4+len(s)+attrs.Len())

	buf.StartPacket(typ, reqid)
	buf.AppendString(s)
	attrs.MarshalInto(buf)

	return buf.Packet(nil)
}

// SetStatPacket defines the SSH_FXP_SETSTAT packet.
type SetStatPacket struct {
	Path  string
	Attrs Attributes
}

// Type returns the SSH_FXP_xy value associated with this packet type.
func (p *SetStatPacket) Type() PacketType { return PacketTypeSetStat }

// MarshalPacket returns p as a two-part binary encoding of p.
func (p *SetStatPacket) MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error) {
	return marshalWithAttrs(PacketTypeSetStat, reqid, b, p.Path, &p.Attrs)
}

// UnmarshalPacketBody unmarshals the packet body from the given Buffer.
// It is assumed that the uint32(request-id) has already been consumed.
func (p *SetStatPacket) UnmarshalPacketBody(buf *Buffer) (err error) {
	*p = SetStatPacket{
		Path: buf.ConsumeString(),
	}

	return p.Attrs.UnmarshalFrom(buf)
}

// FSetStatPacket defines the SSH_FXP_FSETSTAT packet.
type FSetStatPacket struct {
	Handle string
	Attrs  Attributes
}

// Type returns the SSH_FXP_xy value associated with this packet type.
func (p *FSetStatPacket) Type() PacketType { return PacketTypeFSetStat }

// MarshalPacket returns p as a two-part binary encoding of p.
func (p *FSetStatPacket) MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error) {
	return marshalWithAttrs(PacketTypeFSetStat, reqid, b, p.Handle, &p.Attrs)
}

// UnmarshalPacketBody unmarshals the packet body from the given Buffer.
// It is assumed that the uint32(request-id) has already been consumed.
func (p *FSetStatPacket) UnmarshalPacketBody(buf *Buffer) (err error) {
	*p = FSetStatPacket{
		Handle: buf.ConsumeString(),
	}

	return p.Attrs.UnmarshalFrom(buf)
}

// MkdirPacket defines the SSH_FXP_MKDIR packet.
type MkdirPacket struct {
	Path  string
	Attrs Attributes
}

// Type returns the SSH_FXP_xy value associated with this packet type.
func (p *MkdirPacket) Type() PacketType { return PacketTypeMkdir }

// MarshalPacket returns p as a two-part binary encoding of p.
func (p *MkdirPacket) MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error) {
	return marshalWithAttrs(PacketTypeMkdir, reqid, b, p.Path, &p.Attrs)
}

// UnmarshalPacketBody unmarshals the packet body from the given Buffer.
// It is assumed that the uint32(request-id) has already been consumed.
func (p *MkdirPacket) UnmarshalPacketBody(buf *Buffer) (err error) {
	*p = MkdirPacket{
		Path: buf.ConsumeString(),
	}

	return p.Attrs.UnmarshalFrom(buf)
}

// RenamePacket defines the SSH_FXP_RENAME packet.
type RenamePacket struct {
	OldPath string
	NewPath string
}

// Type returns the SSH_FXP_xy value associated with this packet type.
func (p *RenamePacket) Type() PacketType { return PacketTypeRename }

func (p *RenamePacket) bodyLen() int { return 4 + len(p.OldPath) + 4 + len(p.NewPath) }

func (p *RenamePacket) appendBody(buf *Buffer) {
	buf.AppendString(p.OldPath)
	buf.AppendString(p.NewPath)
}

// MarshalPacket returns p as a two-part binary encoding of p.
func (p *RenamePacket) MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error) {
	return marshalRequest(p, reqid, b, nil)
}

// UnmarshalPacketBody unmarshals the packet body from the given Buffer.
// It is assumed that the uint32(request-id) has already been consumed.
func (p *RenamePacket) UnmarshalPacketBody(buf *Buffer) (err error) {
	*p = RenamePacket{
		OldPath: buf.ConsumeString(),
		NewPath: buf.ConsumeString(),
	}

	return buf.Err
}

// SymlinkPacket defines the SSH_FXP_SYMLINK packet.
//
// OpenSSH sends the target before the link path, the reverse of the draft standard,
// and every widely deployed server now expects that order.
// See Section 4.1 of https://github.com/openssh/openssh-portable/blob/master/PROTOCOL
type SymlinkPacket struct {
	LinkPath   string
	TargetPath string
}

// Type returns the SSH_FXP_xy value associated with this packet type.
func (p *SymlinkPacket) Type() PacketType { return PacketTypeSymlink }

func (p *SymlinkPacket) bodyLen() int { return 4 + len(p.TargetPath) + 4 + len(p.LinkPath) }

func (p *SymlinkPacket) appendBody(buf *Buffer) {
	buf.AppendString(p.TargetPath)
	buf.AppendString(p.LinkPath)
}

// MarshalPacket returns p as a two-part binary encoding of p.
func (p *SymlinkPacket) MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error) {
	return marshalRequest(p, reqid, b, nil)
}

// UnmarshalPacketBody unmarshals the packet body from the given Buffer.
// It is assumed that the uint32(request-id) has already been consumed.
func (p *SymlinkPacket) UnmarshalPacketBody(buf *Buffer) (err error) {
	*p = SymlinkPacket{
		TargetPath: buf.ConsumeString(),
		LinkPath:   buf.ConsumeString(),
	}

	return buf.Err
}
