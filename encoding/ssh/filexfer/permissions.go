package sshfx

import (
	"io/fs"
)

// FileMode represents a file’s mode and permission bits.
// The bits are defined according to POSIX standards,
// and may not apply to the OS being built for.
type FileMode uint32

// Permission flags, defined here to avoid potential inconsistencies in individual OS implementations.
const (
	ModePerm       FileMode = 0o0777 // S_IRWXU | S_IRWXG | S_IRWXO
	ModeUserRead   FileMode = 0o0400 // S_IRUSR
	ModeUserWrite  FileMode = 0o0200 // S_IWUSR
	ModeUserExec   FileMode = 0o0100 // S_IXUSR
	ModeGroupRead  FileMode = 0o0040 // S_IRGRP
	ModeGroupWrite FileMode = 0o0020 // S_IWGRP
	ModeGroupExec  FileMode = 0o0010 // S_IXGRP
	ModeOtherRead  FileMode = 0o0004 // S_IROTH
	ModeOtherWrite FileMode = 0o0002 // S_IWOTH
	ModeOtherExec  FileMode = 0o0001 // S_IXOTH

	ModeSetUID FileMode = 0o4000 // S_ISUID
	ModeSetGID FileMode = 0o2000 // S_ISGID
	ModeSticky FileMode = 0o1000 // S_ISVTX

	ModeType       FileMode = 0xF000 // S_IFMT
	ModeNamedPipe  FileMode = 0x1000 // S_IFIFO
	ModeCharDevice FileMode = 0x2000 // S_IFCHR
	ModeDir        FileMode = 0x4000 // S_IFDIR
	ModeDevice     FileMode = 0x6000 // S_IFBLK
	ModeRegular    FileMode = 0x8000 // S_IFREG
	ModeSymlink    FileMode = 0xA000 // S_IFLNK
	ModeSocket     FileMode = 0xC000 // S_IFSOCK
)

// IsDir reports whether m describes a directory.
func (m FileMode) IsDir() bool {
	return (m & ModeType) == ModeDir
}

// IsRegular reports whether m describes a regular file.
func (m FileMode) IsRegular() bool {
	return (m & ModeType) == ModeRegular
}

// Perm returns the POSIX permission bits in m (m & ModePerm).
func (m FileMode) Perm() FileMode {
	return (m & ModePerm)
}

// Type returns the type bits in m (m & ModeType).
func (m FileMode) Type() FileMode {
	return (m & ModeType)
}

var modeTypes = []struct {
	posix FileMode
	gofs  fs.FileMode
}{
	{ModeNamedPipe, fs.ModeNamedPipe},
	{ModeCharDevice, fs.ModeDevice | fs.ModeCharDevice},
	{ModeDir, fs.ModeDir},
	{ModeDevice, fs.ModeDevice},
	{ModeRegular, 0},
	{ModeSymlink, fs.ModeSymlink},
	{ModeSocket, fs.ModeSocket},
}

// ToGoFileMode converts the portable POSIX mode bits into the equivalent fs.FileMode.
func ToGoFileMode(mode FileMode) fs.FileMode {
	fsMode := fs.FileMode(mode.Perm())

	for _, t := range modeTypes {
		if mode.Type() == t.posix {
			fsMode |= t.gofs
			break
		}
	}

	if mode&ModeSetUID != 0 {
		fsMode |= fs.ModeSetuid
	}
	if mode&ModeSetGID != 0 {
		fsMode |= fs.ModeSetgid
	}
	if mode&ModeSticky != 0 {
		fsMode |= fs.ModeSticky
	}

	return fsMode
}

// FromGoFileMode converts the fs.FileMode into the equivalent portable POSIX mode bits.
func FromGoFileMode(mode fs.FileMode) FileMode {
	posix := FileMode(mode.Perm())

	typ := mode.Type()
	for _, t := range modeTypes {
		if typ == t.gofs {
			posix |= t.posix
			break
		}
	}

	if mode&fs.ModeSetuid != 0 {
		posix |= ModeSetUID
	}
	if mode&fs.ModeSetgid != 0 {
		posix |= ModeSetGID
	}
	if mode&fs.ModeSticky != 0 {
		posix |= ModeSticky
	}

	return posix
}
