package sftp

import (
	"cmp"
	"context"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"
	"syscall"
	"time"

	kfs "github.com/kr/fs"

	sshfx "github.com/pkg/sftpclient/encoding/ssh/filexfer"
	"github.com/pkg/sftpclient/encoding/ssh/filexfer/openssh"
	"github.com/pkg/sftpclient/internal/sync"
)

// Fs is a view of the remote filesystem of a Client.
//
// Relative names given to an Fs are resolved against its working directory, if one is set,
// otherwise they are sent as-is, and the server resolves them, usually against the login directory.
//
// The methods of Fs are safe for concurrent use.
type Fs struct {
	cl *Client
	w  *writeEnd

	mu  sync.RWMutex
	cwd string
}

// Cwd returns the current working directory of fsys, or "" if none has been set.
func (fsys *Fs) Cwd() string {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()

	return fsys.cwd
}

// SetCwd sets the working directory that relative names are resolved against.
//
// A relative dir is itself resolved against the current working directory.
// A dir starting with "~" is expanded by the server with expand-path@openssh.com, if it is supported.
// No check is made that dir exists.
func (fsys *Fs) SetCwd(ctx context.Context, dir string) error {
	if strings.HasPrefix(dir, "~") && fsys.cl.conn.aux.exts.ExpandPath {
		expanded, err := fsys.ExpandPath(ctx, dir)
		if err != nil {
			return err
		}

		dir = expanded
	}

	dir = fsys.resolve(dir)

	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	fsys.cwd = dir
	return nil
}

// resolve returns name joined to the working directory, unless name is absolute, or there is no working directory.
func (fsys *Fs) resolve(name string) string {
	if path.IsAbs(name) {
		return name
	}

	cwd := fsys.Cwd()
	if cwd == "" {
		return name
	}

	return path.Join(cwd, name)
}

// Close gives the spare request-id kept for sequential requests back to the pool.
// It does not close the Client, nor any Dir or File opened through fsys, and fsys remains usable.
// Calling Close is optional, an Fs holds nothing of its own.
func (fsys *Fs) Close() error {
	fsys.w.release()
	return nil
}

// Mkdir creates the specified directory.
// An error will be returned if a file or directory with the specified path already exists,
// or if the directory's parent folder does not exist.
func (fsys *Fs) Mkdir(ctx context.Context, name string, perm fs.FileMode) error {
	name = fsys.resolve(name)

	return wrapPathError("mkdir", name,
		fsys.w.sendPacket(ctx, &sshfx.MkdirPacket{
			Path: name,
			Attrs: sshfx.Attributes{
				Flags:       sshfx.AttrPermissions,
				Permissions: sshfx.FileMode(perm.Perm()),
			},
		}),
	)
}

// MkdirAll creates a directory named path, along with any necessary parents.
// If a path is already a directory, MkdirAll does nothing and returns nil.
func (fsys *Fs) MkdirAll(ctx context.Context, name string, perm fs.FileMode) error {
	name = fsys.resolve(name)

	// Fast path: if we can tell whether name is a directory or file, stop with success or error.
	dir, err := fsys.Stat(ctx, name)
	if err == nil {
		if dir.IsDir() {
			return nil
		}

		return wrapPathError("mkdir", name, syscall.ENOTDIR)
	}

	// Slow path: make sure parent exists and then call Mkdir for name.
	if parent := path.Dir(name); parent != name && parent != "." {
		if err := fsys.MkdirAll(ctx, parent, perm); err != nil {
			return err
		}
	}

	if err := fsys.Mkdir(ctx, name, perm); err != nil {
		// Handle arguments like "foo/." by
		// double-checking that directory doesn't exist.
		dir, err1 := fsys.Lstat(ctx, name)
		if err1 == nil && dir.IsDir() {
			return nil
		}
		return err
	}

	return nil
}

// Remove removes the named file or (empty) directory.
//
// If both operations fail, then Remove will stat the named filesystem object.
// It then returns the error from that SSH_FX_STAT request if one occurs,
// or the error from the SSH_FX_RMDIR request if it is a directory,
// otherwise returning the error from the SSH_FX_REMOVE request.
func (fsys *Fs) Remove(ctx context.Context, name string) error {
	name = fsys.resolve(name)

	err := fsys.w.sendPacket(ctx, &sshfx.RemovePacket{
		Path: name,
	})
	if err == nil {
		return nil
	}

	err1 := fsys.w.sendPacket(ctx, &sshfx.RmdirPacket{
		Path: name,
	})
	if err1 == nil {
		return nil
	}

	// Both failed: figure out which error to return.
	attrs, err2 := getPacket[sshfx.AttrsPacket](ctx, fsys.w, &sshfx.StatPacket{
		Path: name,
	})
	if err2 != nil {
		err = err2
	} else if perm, ok := attrs.Attrs.GetPermissions(); ok && perm.IsDir() {
		err = err1
	}

	return wrapPathError("remove", name, err)
}

// Rmdir removes the named empty directory.
func (fsys *Fs) Rmdir(ctx context.Context, name string) error {
	name = fsys.resolve(name)

	return wrapPathError("rmdir", name,
		fsys.w.sendPacket(ctx, &sshfx.RmdirPacket{
			Path: name,
		}),
	)
}

func (fsys *Fs) setstat(ctx context.Context, name string, attrs *sshfx.Attributes) error {
	name = fsys.resolve(name)

	return wrapPathError("setstat", name,
		fsys.w.sendPacket(ctx, &sshfx.SetStatPacket{
			Path:  name,
			Attrs: *attrs,
		}),
	)
}

// Truncate changes the size of the named file.
// If the file is a symbolic link, it changes the size of the link's target.
func (fsys *Fs) Truncate(ctx context.Context, name string, size int64) error {
	return fsys.setstat(ctx, name, &sshfx.Attributes{
		Flags: sshfx.AttrSize,
		Size:  uint64(size),
	})
}

// Chmod changes the mode of the named file to mode.
// If the file is a symbolic link, it changes the mode of the link's target.
//
// The Go FileMode will be converted to a "portable" POSIX file permission, and then sent to the server.
// The server is then responsible for interpreting that permission.
func (fsys *Fs) Chmod(ctx context.Context, name string, mode fs.FileMode) error {
	return fsys.setstat(ctx, name, &sshfx.Attributes{
		Flags:       sshfx.AttrPermissions,
		Permissions: sshfx.FromGoFileMode(mode),
	})
}

// Chown changes the numeric uid and gid of the named file.
// The server is told to set the uid and gid as given, and it is up to the server to define that behavior.
func (fsys *Fs) Chown(ctx context.Context, name string, uid, gid int) error {
	return fsys.setstat(ctx, name, &sshfx.Attributes{
		Flags: sshfx.AttrUIDGID,
		UID:   uint32(uid),
		GID:   uint32(gid),
	})
}

// Chtimes changes the access and modification times of the named file.
//
// The SFTP protocol only supports an accuracy to the second,
// so these times will be truncated to the second before being sent to the server.
func (fsys *Fs) Chtimes(ctx context.Context, name string, atime, mtime time.Time) error {
	return fsys.setstat(ctx, name, &sshfx.Attributes{
		Flags: sshfx.AttrACModTime,
		ATime: uint32(atime.Unix()),
		MTime: uint32(mtime.Unix()),
	})
}

// RealPath returns the server canonicalized absolute path for the given path name.
func (fsys *Fs) RealPath(ctx context.Context, name string) (string, error) {
	name = fsys.resolve(name)

	pkt, err := getPacket[sshfx.PathPseudoPacket](ctx, fsys.w, &sshfx.RealPathPacket{
		Path: name,
	})
	if err != nil {
		return "", wrapPathError("realpath", name, err)
	}

	return pkt.Path, nil
}

// ExpandPath is like RealPath, except that a leading "~" or "~user" is expanded into a home directory.
//
// If the server did not announce support for the "expand-path@openssh.com" extension,
// then no request will be sent, and ExpandPath returns an *fs.PathError wrapping sshfx.StatusOPUnsupported.
func (fsys *Fs) ExpandPath(ctx context.Context, name string) (string, error) {
	if !fsys.cl.conn.aux.exts.ExpandPath {
		return "", wrapPathError("expandpath", name, sshfx.StatusOPUnsupported)
	}

	pkt, err := getPacket[sshfx.PathPseudoPacket](ctx, fsys.w, &openssh.ExpandPathExtendedPacket{
		Path: name,
	})
	if err != nil {
		return "", wrapPathError("expandpath", name, err)
	}

	return pkt.Path, nil
}

// ReadLink returns the destination of the named symbolic link.
func (fsys *Fs) ReadLink(ctx context.Context, name string) (string, error) {
	name = fsys.resolve(name)

	pkt, err := getPacket[sshfx.PathPseudoPacket](ctx, fsys.w, &sshfx.ReadLinkPacket{
		Path: name,
	})
	if err != nil {
		return "", wrapPathError("readlink", name, err)
	}

	return pkt.Path, nil
}

// Rename renames (moves) oldpath to newpath.
// If the server supports "posix-rename@openssh.com", then an existing newpath is replaced.
func (fsys *Fs) Rename(ctx context.Context, oldpath, newpath string) error {
	oldpath, newpath = fsys.resolve(oldpath), fsys.resolve(newpath)

	if fsys.cl.conn.aux.exts.POSIXRename {
		return wrapLinkError("rename", oldpath, newpath,
			fsys.w.sendPacket(ctx, &openssh.POSIXRenameExtendedPacket{
				OldPath: oldpath,
				NewPath: newpath,
			}),
		)
	}

	return wrapLinkError("rename", oldpath, newpath,
		fsys.w.sendPacket(ctx, &sshfx.RenamePacket{
			OldPath: oldpath,
			NewPath: newpath,
		}),
	)
}

// Symlink creates newname as a symbolic link to oldname.
// The oldname is sent as given, and is not resolved against the working directory.
func (fsys *Fs) Symlink(ctx context.Context, oldname, newname string) error {
	newname = fsys.resolve(newname)

	return wrapLinkError("symlink", oldname, newname,
		fsys.w.sendPacket(ctx, &sshfx.SymlinkPacket{
			LinkPath:   newname,
			TargetPath: oldname,
		}),
	)
}

// HardLink creates newname as a hard link to oldname file.
//
// If the server did not announce support for the "hardlink@openssh.com" extension,
// then no request will be sent,
// and HardLink returns an *os.LinkError wrapping sshfx.StatusOPUnsupported.
func (fsys *Fs) HardLink(ctx context.Context, oldname, newname string) error {
	oldname, newname = fsys.resolve(oldname), fsys.resolve(newname)

	if !fsys.cl.conn.aux.exts.HardLink {
		return wrapLinkError("hardlink", oldname, newname, sshfx.StatusOPUnsupported)
	}

	return wrapLinkError("hardlink", oldname, newname,
		fsys.w.sendPacket(ctx, &openssh.HardlinkExtendedPacket{
			OldPath: oldname,
			NewPath: newname,
		}),
	)
}

// Stat returns a FileInfo describing the named file.
// If the file is a symbolic link, the returned FileInfo describes the link's target.
func (fsys *Fs) Stat(ctx context.Context, name string) (fs.FileInfo, error) {
	name = fsys.resolve(name)

	pkt, err := getPacket[sshfx.AttrsPacket](ctx, fsys.w, &sshfx.StatPacket{
		Path: name,
	})
	if err != nil {
		return nil, wrapPathError("stat", name, err)
	}

	return &sshfx.NameEntry{
		Filename: path.Base(name),
		Attrs:    pkt.Attrs,
	}, nil
}

// Lstat returns a FileInfo describing the named file.
// If the file is a symbolic link, the returned FileInfo describes the symbolic link.
func (fsys *Fs) Lstat(ctx context.Context, name string) (fs.FileInfo, error) {
	name = fsys.resolve(name)

	pkt, err := getPacket[sshfx.AttrsPacket](ctx, fsys.w, &sshfx.LStatPacket{
		Path: name,
	})
	if err != nil {
		return nil, wrapPathError("lstat", name, err)
	}

	return &sshfx.NameEntry{
		Filename: path.Base(name),
		Attrs:    pkt.Attrs,
	}, nil
}

// ReadDir reads the named directory, returning all its directory entries sorted by filename.
// The "." and ".." entries are not included.
// If an error occurs reading the directory,
// ReadDir returns the entries it was able to read before the error, along with the error.
func (fsys *Fs) ReadDir(ctx context.Context, name string) ([]fs.DirEntry, error) {
	d, err := fsys.OpenDir(ctx, name)
	if err != nil {
		return nil, err
	}

	ents, err := d.ReadDirAll(ctx)

	slices.SortFunc(ents, func(a, b fs.DirEntry) int {
		return cmp.Compare(a.Name(), b.Name())
	})

	return ents, cmp.Or(err, d.Close(ctx))
}

// ReadFile reads the named file and returns the contents.
// A successful call returns err == nil, not err == EOF.
func (fsys *Fs) ReadFile(ctx context.Context, name string) ([]byte, error) {
	f, err := fsys.Open(ctx, name)
	if err != nil {
		return nil, err
	}

	data, err := f.readAll(ctx)

	return data, cmp.Or(err, f.Close())
}

// WriteFile writes data to the named file, creating it if necessary.
// If the file does not exist, WriteFile creates it with permissions perm (before umask);
// otherwise WriteFile truncates it before writing, without changing permissions.
func (fsys *Fs) WriteFile(ctx context.Context, name string, data []byte, perm fs.FileMode) error {
	f, err := fsys.OpenFile(ctx, name, OpenFlagWriteOnly|OpenFlagCreate|OpenFlagTruncate, perm)
	if err != nil {
		return err
	}

	_, err = f.WriteAtContext(ctx, data, 0)

	return cmp.Or(err, f.Close())
}

// Walk returns a new Walker rooted at root, which walks the remote file tree in lexical order.
// The ctx is used for every request the Walker makes.
func (fsys *Fs) Walk(ctx context.Context, root string) *kfs.Walker {
	return kfs.WalkFS(fsys.resolve(root), &walkFS{
		ctx:  ctx,
		fsys: fsys,
	})
}

// walkFS adapts an Fs to the kfs.FileSystem interface.
type walkFS struct {
	ctx  context.Context
	fsys *Fs
}

func (w *walkFS) ReadDir(dirname string) ([]os.FileInfo, error) {
	ents, err := w.fsys.ReadDir(w.ctx, dirname)

	fis := make([]os.FileInfo, 0, len(ents))
	for _, ent := range ents {
		if fi, ok := ent.(fs.FileInfo); ok {
			fis = append(fis, fi)
		}
	}

	return fis, err
}

func (w *walkFS) Lstat(name string) (os.FileInfo, error) {
	return w.fsys.Lstat(w.ctx, name)
}

func (w *walkFS) Join(elem ...string) string {
	return path.Join(elem...)
}
