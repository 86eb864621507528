package openssh

import (
	"bytes"
	"testing"

	sshfx "github.com/pkg/sftpclient/encoding/ssh/filexfer"
)

var _ sshfx.PacketMarshaller = &FSyncExtendedPacket{}

func TestFSyncExtendedPacket(t *testing.T) {
	const (
		id     = 42
		handle = "somehandle"
	)

	ep := &FSyncExtendedPacket{
		Handle: handle,
	}

	data, err := sshfx.ComposePacket(ep.MarshalPacket(id, nil))
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	want := []byte{
		0x00, 0x00, 0x00, 40,
		200,
		0x00, 0x00, 0x00, 42,
		0x00, 0x00, 0x00, 17, 'f', 's', 'y', 'n', 'c', '@', 'o', 'p', 'e', 'n', 's', 's', 'h', '.', 'c', 'o', 'm',
		0x00, 0x00, 0x00, 10, 's', 'o', 'm', 'e', 'h', 'a', 'n', 'd', 'l', 'e',
	}

	if !bytes.Equal(data, want) {
		t.Fatalf("MarshalPacket() = %X, but wanted %X", data, want)
	}

	var p sshfx.ExtendedPacket
	p.Data = new(FSyncExtendedPacket)

	// UnmarshalPacketBody assumes the (length, type, request-id) have already been consumed.
	if err := p.UnmarshalPacketBody(sshfx.NewBuffer(data[9:])); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if p.ExtendedRequest != extensionFSync {
		t.Errorf("ExtendedRequest = %q, but expected %q", p.ExtendedRequest, extensionFSync)
	}

	if got := p.Data.(*FSyncExtendedPacket).Handle; got != handle {
		t.Errorf("Handle = %q, but expected %q", got, handle)
	}
}

func TestPOSIXRenameExtendedPacket(t *testing.T) {
	ep := &POSIXRenameExtendedPacket{
		OldPath: "/foo",
		NewPath: "/bar",
	}

	data, err := sshfx.ComposePacket(ep.MarshalPacket(42, nil))
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	var p sshfx.ExtendedPacket
	if err := p.UnmarshalPacketBody(sshfx.NewBuffer(data[9:])); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if p.ExtendedRequest != "posix-rename@openssh.com" {
		t.Errorf("ExtendedRequest = %q", p.ExtendedRequest)
	}

	// Unregistered extensions decode into a raw Buffer.
	raw, err := p.Data.MarshalBinary()
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	var got POSIXRenameExtendedPacket
	if err := got.UnmarshalBinary(raw); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if got != *ep {
		t.Errorf("UnmarshalBinary() = %+v, but expected %+v", got, *ep)
	}
}

func TestLimitsExtendedReplyPacket(t *testing.T) {
	ep := &LimitsExtendedReplyPacket{
		MaxPacketLength: 256 * 1024,
		MaxReadLength:   255 * 1024,
		MaxWriteLength:  255 * 1024,
		MaxOpenHandles:  1024,
	}

	data, err := sshfx.ComposePacket(ep.MarshalPacket(42, nil))
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	var raw sshfx.RawPacket
	if err := raw.ReadFrom(bytes.NewReader(data), nil, sshfx.DefaultMaxPacketLength); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if raw.PacketType != sshfx.PacketTypeExtendedReply {
		t.Fatalf("PacketType = %v, but expected %v", raw.PacketType, sshfx.PacketTypeExtendedReply)
	}

	var got LimitsExtendedReplyPacket
	if err := got.UnmarshalPacketBody(&raw.Data); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if got != *ep {
		t.Errorf("UnmarshalPacketBody() = %+v, but expected %+v", got, *ep)
	}
}
