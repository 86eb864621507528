package openssh

import (
	sshfx "github.com/pkg/sftpclient/encoding/ssh/filexfer"
)

const extensionPOSIXRename = "posix-rename@openssh.com"

// ExtensionPOSIXRename returns an ExtensionPair suitable to append into an sshfx.InitPacket or sshfx.VersionPacket.
func ExtensionPOSIXRename() *sshfx.ExtensionPair {
	return &sshfx.ExtensionPair{
		Name: extensionPOSIXRename,
		Data: "1",
	}
}

// POSIXRenameExtendedPacket defines the posix-rename@openssh.com extend packet.
type POSIXRenameExtendedPacket struct {
	OldPath string
	NewPath string
}

// Type returns the SSH_FXP_EXTENDED packet type.
func (ep *POSIXRenameExtendedPacket) Type() sshfx.PacketType {
	return sshfx.PacketTypeExtended
}

// ExtendedRequest returns the SSH_FXP_EXTENDED extended-request field associated with this packet type.
func (ep *POSIXRenameExtendedPacket) ExtendedRequest() string {
	return extensionPOSIXRename
}

// MarshalPacket returns ep as a two-part binary encoding of the full extended packet.
func (ep *POSIXRenameExtendedPacket) MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error) {
	return extendedRequest(reqid, b, extensionPOSIXRename, ep)
}

// MarshalBinary encodes ep into the binary encoding of the posix-rename@openssh.com extended packet-specific data.
//
// NOTE: This _only_ encodes the packet-specific data, it does not encode the full extended packet.
func (ep *POSIXRenameExtendedPacket) MarshalBinary() ([]byte, error) {
	return marshalStrings(ep.OldPath, ep.NewPath), nil
}

// UnmarshalBinary decodes the posix-rename@openssh.com extended packet-specific data into ep.
func (ep *POSIXRenameExtendedPacket) UnmarshalBinary(data []byte) (err error) {
	return unmarshalStrings(data, &ep.OldPath, &ep.NewPath)
}
