package sshfx

import (
	"fmt"
	"io"
	"io/fs"
)

// Status defines the SFTP error codes used in SSH_FXP_STATUS response packets.
type Status uint32

// Defines the various SSH_FX_* values.
const (
	// see draft-ietf-secsh-filexfer-02
	// https://tools.ietf.org/html/draft-ietf-secsh-filexfer-02#section-7
	StatusOK = Status(iota)
	StatusEOF
	StatusNoSuchFile
	StatusPermissionDenied
	StatusFailure
	StatusBadMessage
	StatusNoConnection
	StatusConnectionLost
	StatusOPUnsupported

	// see draft-ietf-secsh-filexfer-13
	// https://tools.ietf.org/html/draft-ietf-secsh-filexfer-13#section-9.1
	// Defined only for interoperability!
	StatusInvalidHandle
	StatusNoSuchPath
	StatusFileAlreadyExists
	StatusWriteProtect
	StatusNoMedia
	StatusNoSpaceOnFilesystem
	StatusQuotaExceeded
	StatusUnknownPrincipal
	StatusLockConflict
	StatusDirNotEmpty
	StatusNotADirectory
	StatusInvalidFilename
	StatusLinkLoop
	StatusCannotDelete
	StatusInvalidParameter
	StatusFileIsADirectory
	StatusByteRangeLockConflict
	StatusByteRangeLockRefused
	StatusDeletePending
	StatusFileCorrupt
	StatusOwnerInvalid
	StatusGroupInvalid
	StatusNoMatchingByteRangeLock
)

var statusNames = [...]string{
	StatusOK:                      "SSH_FX_OK",
	StatusEOF:                     "SSH_FX_EOF",
	StatusNoSuchFile:              "SSH_FX_NO_SUCH_FILE",
	StatusPermissionDenied:        "SSH_FX_PERMISSION_DENIED",
	StatusFailure:                 "SSH_FX_FAILURE",
	StatusBadMessage:              "SSH_FX_BAD_MESSAGE",
	StatusNoConnection:            "SSH_FX_NO_CONNECTION",
	StatusConnectionLost:          "SSH_FX_CONNECTION_LOST",
	StatusOPUnsupported:           "SSH_FX_OP_UNSUPPORTED",
	StatusInvalidHandle:           "SSH_FX_INVALID_HANDLE",
	StatusNoSuchPath:              "SSH_FX_NO_SUCH_PATH",
	StatusFileAlreadyExists:       "SSH_FX_FILE_ALREADY_EXISTS",
	StatusWriteProtect:            "SSH_FX_WRITE_PROTECT",
	StatusNoMedia:                 "SSH_FX_NO_MEDIA",
	StatusNoSpaceOnFilesystem:     "SSH_FX_NO_SPACE_ON_FILESYSTEM",
	StatusQuotaExceeded:           "SSH_FX_QUOTA_EXCEEDED",
	StatusUnknownPrincipal:        "SSH_FX_UNKNOWN_PRINCIPAL",
	StatusLockConflict:            "SSH_FX_LOCK_CONFLICT",
	StatusDirNotEmpty:             "SSH_FX_DIR_NOT_EMPTY",
	StatusNotADirectory:           "SSH_FX_NOT_A_DIRECTORY",
	StatusInvalidFilename:         "SSH_FX_INVALID_FILENAME",
	StatusLinkLoop:                "SSH_FX_LINK_LOOP",
	StatusCannotDelete:            "SSH_FX_CANNOT_DELETE",
	StatusInvalidParameter:        "SSH_FX_INVALID_PARAMETER",
	StatusFileIsADirectory:        "SSH_FX_FILE_IS_A_DIRECTORY",
	StatusByteRangeLockConflict:   "SSH_FX_BYTE_RANGE_LOCK_CONFLICT",
	StatusByteRangeLockRefused:    "SSH_FX_BYTE_RANGE_LOCK_REFUSED",
	StatusDeletePending:           "SSH_FX_DELETE_PENDING",
	StatusFileCorrupt:             "SSH_FX_FILE_CORRUPT",
	StatusOwnerInvalid:            "SSH_FX_OWNER_INVALID",
	StatusGroupInvalid:            "SSH_FX_GROUP_INVALID",
	StatusNoMatchingByteRangeLock: "SSH_FX_NO_MATCHING_BYTE_RANGE_LOCK",
}

func (f Status) String() string {
	if int(f) < len(statusNames) {
		return statusNames[f]
	}

	return fmt.Sprintf("SSH_FX_UNKNOWN(%d)", f)
}

// Error makes Status a valid error, so that a bare Status may be compared with errors.Is.
func (f Status) Error() string {
	return f.String()
}

// Is returns true if target is a Status with the same value,
// or the standard library error this Status corresponds to.
func (f Status) Is(target error) bool {
	switch target {
	case fs.ErrNotExist:
		return f == StatusNoSuchFile || f == StatusNoSuchPath
	case fs.ErrPermission:
		return f == StatusPermissionDenied || f == StatusWriteProtect
	case fs.ErrExist:
		return f == StatusFileAlreadyExists
	case io.EOF:
		return f == StatusEOF
	}

	if other, ok := target.(Status); ok {
		return f == other
	}

	return false
}
