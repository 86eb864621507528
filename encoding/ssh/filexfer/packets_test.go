package sshfx

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestReadPacketLengths(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		max     uint32
		wantErr error
	}{
		{
			name:    "too short",
			data:    []byte{0x00, 0x00, 0x00, 4, 1, 2, 3, 4},
			max:     DefaultMaxPacketLength,
			wantErr: ErrShortPacket,
		},
		{
			name:    "too long",
			data:    []byte{0x00, 0x01, 0x00, 0x00},
			max:     1024,
			wantErr: ErrLongPacket,
		},
		{
			name:    "truncated",
			data:    []byte{0x00, 0x00, 0x00, 9, 101, 0x00, 0x00},
			max:     DefaultMaxPacketLength,
			wantErr: io.ErrUnexpectedEOF,
		},
		{
			name:    "empty stream",
			data:    nil,
			max:     DefaultMaxPacketLength,
			wantErr: io.EOF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p RawPacket

			err := p.ReadFrom(bytes.NewReader(tt.data), nil, tt.max)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ReadFrom() = %v, but expected %v", err, tt.wantErr)
			}
		})
	}
}

func TestRawPacket(t *testing.T) {
	const (
		id = 42
	)

	p := &RawPacket{
		PacketType: PacketTypeStat,
		RequestID:  id,
		Data:       *NewBuffer([]byte{0x00, 0x00, 0x00, 4, '/', 'f', 'o', 'o'}),
	}

	data, err := p.MarshalBinary()
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	want := []byte{
		0x00, 0x00, 0x00, 13,
		17,
		0x00, 0x00, 0x00, 42,
		0x00, 0x00, 0x00, 4, '/', 'f', 'o', 'o',
	}

	if !bytes.Equal(data, want) {
		t.Fatalf("MarshalBinary() = %X, but wanted %X", data, want)
	}

	*p = RawPacket{}

	if err := p.ReadFrom(bytes.NewReader(data), nil, DefaultMaxPacketLength); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if p.PacketType != PacketTypeStat {
		t.Errorf("RawPacket.PacketType = %v, but expected %v", p.PacketType, PacketTypeStat)
	}

	if p.RequestID != uint32(id) {
		t.Errorf("RawPacket.RequestID = %d, but expected %d", p.RequestID, id)
	}

	var sp StatPacket
	if err := sp.UnmarshalPacketBody(&p.Data); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if sp.Path != "/foo" {
		t.Errorf("StatPacket.Path = %q, but expected %q", sp.Path, "/foo")
	}
}

func TestRequestPacket(t *testing.T) {
	const (
		id = 42
	)

	p := &RequestPacket{
		RequestID: id,
		Request: &RenamePacket{
			OldPath: "/foo",
			NewPath: "/bar",
		},
	}

	data, err := p.MarshalBinary()
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	*p = RequestPacket{}

	if err := p.ReadFrom(bytes.NewReader(data), nil, DefaultMaxPacketLength); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if p.RequestID != uint32(id) {
		t.Errorf("RequestPacket.RequestID = %d, but expected %d", p.RequestID, id)
	}

	req, ok := p.Request.(*RenamePacket)
	if !ok {
		t.Fatalf("unexpected Request type %T", p.Request)
	}

	if req.OldPath != "/foo" || req.NewPath != "/bar" {
		t.Errorf("RenamePacket = %+v", req)
	}
}

func TestVersionPacket(t *testing.T) {
	p := &VersionPacket{
		Version: 3,
		Extensions: []*ExtensionPair{
			{
				Name: "foo",
				Data: "1",
			},
		},
	}

	data, err := p.MarshalBinary()
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	want := []byte{
		0x00, 0x00, 0x00, 17,
		2,
		0x00, 0x00, 0x00, 3,
		0x00, 0x00, 0x00, 3, 'f', 'o', 'o',
		0x00, 0x00, 0x00, 1, '1',
	}

	if !bytes.Equal(data, want) {
		t.Fatalf("MarshalBinary() = %X, but wanted %X", data, want)
	}

	*p = VersionPacket{}

	if err := p.ReadFrom(bytes.NewReader(data), nil, DefaultMaxPacketLength); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if p.Version != 3 {
		t.Errorf("VersionPacket.Version = %d, but expected 3", p.Version)
	}

	if len(p.Extensions) != 1 || p.Extensions[0].Name != "foo" || p.Extensions[0].Data != "1" {
		t.Errorf("VersionPacket.Extensions = %v", p.Extensions)
	}

	var init InitPacket
	err = init.ReadFrom(bytes.NewReader(data), nil, DefaultMaxPacketLength)

	var typeErr *UnexpectedPacketTypeError
	if !errors.As(err, &typeErr) {
		t.Fatalf("InitPacket.ReadFrom() = %v, but expected an *UnexpectedPacketTypeError", err)
	}
}

func FuzzRawPacketReadFrom(f *testing.F) {
	f.Add([]byte{0x00, 0x00, 0x00, 9, 101, 0x00, 0x00, 0x00, 1, 0x00, 0x00, 0x00, 0x00})
	f.Add([]byte{0x00, 0x00, 0x00, 13, 104, 0x00, 0x00, 0x00, 1, 0xFF, 0xFF, 0xFF, 0xFF})
	f.Add([]byte{0x00, 0x00, 0x00, 5, 2, 0x00, 0x00, 0x00, 3})

	f.Fuzz(func(t *testing.T, data []byte) {
		var p RawPacket
		if err := p.ReadFrom(bytes.NewReader(data), nil, DefaultMaxPacketLength); err != nil {
			return
		}

		// None of these may panic, whatever the body holds.
		switch p.PacketType {
		case PacketTypeStatus:
			_ = new(StatusPacket).UnmarshalPacketBody(&p.Data)
		case PacketTypeName:
			_ = new(NamePacket).UnmarshalPacketBody(&p.Data)
		case PacketTypeAttrs:
			_ = new(AttrsPacket).UnmarshalPacketBody(&p.Data)
		default:
			_ = new(DataPacket).UnmarshalPacketBody(&p.Data)
		}
	})
}
