// Package openssh implements the openssh secsh-filexfer extensions as described in https://github.com/openssh/openssh-portable/blob/master/PROTOCOL
package openssh

import (
	sshfx "github.com/pkg/sftpclient/encoding/ssh/filexfer"
)

// extendedRequest marshals an extended packet carrying data as its request-specific body.
func extendedRequest(reqid uint32, b []byte, name string, data sshfx.ExtendedData) (header, payload []byte, err error) {
	p := &sshfx.ExtendedPacket{
		ExtendedRequest: name,

		Data: data,
	}
	return p.MarshalPacket(reqid, b)
}

// marshalStrings encodes the packet-specific data of the extensions whose body is only strings.
func marshalStrings(strs ...string) []byte {
	size := 0
	for _, s := range strs {
		size += 4 + len(s)
	}

	buf := sshfx.NewBuffer(make([]byte, 0, size))
	for _, s := range strs {
		buf.AppendString(s)
	}

	return buf.Bytes()
}

// unmarshalStrings decodes data into dst, in order.
func unmarshalStrings(data []byte, dst ...*string) error {
	buf := sshfx.NewBuffer(data)

	for _, s := range dst {
		*s = buf.ConsumeString()
	}

	return buf.Err
}
