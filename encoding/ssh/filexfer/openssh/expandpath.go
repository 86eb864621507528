package openssh

import (
	sshfx "github.com/pkg/sftpclient/encoding/ssh/filexfer"
)

const extensionExpandPath = "expand-path@openssh.com"

// ExtensionExpandPath returns an ExtensionPair suitable to append into an sshfx.InitPacket or sshfx.VersionPacket.
func ExtensionExpandPath() *sshfx.ExtensionPair {
	return &sshfx.ExtensionPair{
		Name: extensionExpandPath,
		Data: "1",
	}
}

// ExpandPathExtendedPacket defines the expand-path@openssh.com extend packet.
//
// It behaves like SSH_FXP_REALPATH, except that a leading "~" or "~user" is expanded to a home directory.
// The server replies with an SSH_FXP_NAME carrying exactly one entry.
type ExpandPathExtendedPacket struct {
	Path string
}

// Type returns the SSH_FXP_EXTENDED packet type.
func (ep *ExpandPathExtendedPacket) Type() sshfx.PacketType {
	return sshfx.PacketTypeExtended
}

// ExtendedRequest returns the SSH_FXP_EXTENDED extended-request field associated with this packet type.
func (ep *ExpandPathExtendedPacket) ExtendedRequest() string {
	return extensionExpandPath
}

// MarshalPacket returns ep as a two-part binary encoding of the full extended packet.
func (ep *ExpandPathExtendedPacket) MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error) {
	return extendedRequest(reqid, b, extensionExpandPath, ep)
}

// MarshalBinary encodes ep into the binary encoding of the expand-path@openssh.com extended packet-specific data.
func (ep *ExpandPathExtendedPacket) MarshalBinary() ([]byte, error) {
	return marshalStrings(ep.Path), nil
}

// UnmarshalBinary decodes the expand-path@openssh.com extended packet-specific data into ep.
func (ep *ExpandPathExtendedPacket) UnmarshalBinary(data []byte) (err error) {
	return unmarshalStrings(data, &ep.Path)
}
