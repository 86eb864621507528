package sshfx

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"testing"
)

var _ Packet = &StatusPacket{}

func TestStatusPacket(t *testing.T) {
	const (
		id           = 42
		statusCode   = StatusBadMessage
		errorMessage = "foo"
		languageTag  = "x-example"
	)

	p := &StatusPacket{
		StatusCode:   statusCode,
		ErrorMessage: errorMessage,
		LanguageTag:  languageTag,
	}

	data, err := testComposePacket(t, p.MarshalPacket, id)
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	want := []byte{
		0x00, 0x00, 0x00, 29,
		101,
		0x00, 0x00, 0x00, 42,
		0x00, 0x00, 0x00, 5,
		0x00, 0x00, 0x00, 3, 'f', 'o', 'o',
		0x00, 0x00, 0x00, 9, 'x', '-', 'e', 'x', 'a', 'm', 'p', 'l', 'e',
	}

	if !bytes.Equal(data, want) {
		t.Fatalf("Marshal() = %X, but wanted %X", data, want)
	}

	*p = StatusPacket{}

	if err := p.UnmarshalPacketBody(NewBuffer(data[9:])); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if p.StatusCode != statusCode || p.ErrorMessage != errorMessage || p.LanguageTag != languageTag {
		t.Errorf("UnmarshalPacketBody(): got %+v", p)
	}
}

func TestStatusPacketCodeOnly(t *testing.T) {
	var p StatusPacket

	if err := p.UnmarshalPacketBody(NewBuffer([]byte{0x00, 0x00, 0x00, 0x04})); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if p.StatusCode != StatusFailure {
		t.Errorf("StatusCode = %v, but expected %v", p.StatusCode, StatusFailure)
	}
}

func TestStatusPacketIs(t *testing.T) {
	tests := []struct {
		code   Status
		target error
	}{
		{StatusNoSuchFile, fs.ErrNotExist},
		{StatusPermissionDenied, fs.ErrPermission},
		{StatusFileAlreadyExists, fs.ErrExist},
		{StatusEOF, io.EOF},
		{StatusOPUnsupported, StatusOPUnsupported},
		{StatusFailure, &StatusPacket{StatusCode: StatusFailure}},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			var err error = &StatusPacket{StatusCode: tt.code}

			if !errors.Is(err, tt.target) {
				t.Errorf("errors.Is(%v, %v) = false, but expected true", err, tt.target)
			}
		})
	}

	if errors.Is(&StatusPacket{StatusCode: StatusFailure}, fs.ErrNotExist) {
		t.Error("SSH_FX_FAILURE unexpectedly matched fs.ErrNotExist")
	}
}

var _ Packet = &NamePacket{}

func TestNamePacket(t *testing.T) {
	const (
		id = 42
	)

	p := &NamePacket{
		Entries: []*NameEntry{
			{
				Filename: "foo",
				Longname: "111111111",
				Attrs: Attributes{
					Flags:       AttrPermissions,
					Permissions: ModeDir | 0o755,
				},
			},
			{
				Filename: "bar",
				Longname: "22",
			},
		},
	}

	data, err := testComposePacket(t, p.MarshalPacket, id)
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	*p = NamePacket{}

	if err := p.UnmarshalPacketBody(NewBuffer(data[9:])); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if len(p.Entries) != 2 {
		t.Fatalf("UnmarshalPacketBody(): len(Entries) = %d, but expected 2", len(p.Entries))
	}

	if !p.Entries[0].IsDir() || p.Entries[0].Name() != "foo" {
		t.Errorf("Entries[0] = %+v", p.Entries[0])
	}

	if p.Entries[1].Name() != "bar" || p.Entries[1].Longname != "22" {
		t.Errorf("Entries[1] = %+v", p.Entries[1])
	}
}

func TestNamePacketCountTooLarge(t *testing.T) {
	var p NamePacket

	err := p.UnmarshalPacketBody(NewBuffer([]byte{0x7F, 0xFF, 0xFF, 0xFF, 0x00}))
	if !errors.Is(err, ErrShortPacket) {
		t.Fatalf("UnmarshalPacketBody() = %v, but expected %v", err, ErrShortPacket)
	}
}

func TestPathPseudoPacket(t *testing.T) {
	p := &PathPseudoPacket{
		Path: "/home/foo",
	}

	data, err := testComposePacket(t, p.MarshalPacket, 42)
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	*p = PathPseudoPacket{}

	if err := p.UnmarshalPacketBody(NewBuffer(data[9:])); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if p.Path != "/home/foo" {
		t.Errorf("Path = %q, but expected %q", p.Path, "/home/foo")
	}
}

func TestDataPacketCopiesIntoHint(t *testing.T) {
	data, err := ComposePacket((&DataPacket{Data: []byte("foobar")}).MarshalPacket(42, nil))
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	hint := make([]byte, 16)
	p := &DataPacket{Data: hint}

	if err := p.UnmarshalPacketBody(NewBuffer(data[9:])); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if string(p.Data) != "foobar" {
		t.Errorf("Data = %q, but expected %q", p.Data, "foobar")
	}

	if &p.Data[0] != &hint[0] {
		t.Error("UnmarshalPacketBody() did not reuse the hint buffer")
	}
}
