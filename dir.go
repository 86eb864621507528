package sftp

import (
	"context"
	"io"
	"io/fs"
	"os"

	"github.com/pkg/errors"

	sshfx "github.com/pkg/sftpclient/encoding/ssh/filexfer"
	"github.com/pkg/sftpclient/internal/sync"
)

// Dir represents an open directory handle.
//
// The methods of Dir are safe for concurrent use.
// A Dir that is discarded without being closed is closed on a best-effort basis once it is garbage collected.
type Dir struct {
	fsys *Fs
	name string

	handle ownedHandle

	mu sync.Mutex
}

// OpenDir opens the named directory for reading.
//
// If the server declared a limit on open handles, and that many are already open through this Client,
// OpenDir fails with a ResourceExhausted error without sending a request.
func (fsys *Fs) OpenDir(ctx context.Context, name string) (*Dir, error) {
	name = fsys.resolve(name)

	if err := fsys.cl.conn.reserveHandle("opendir"); err != nil {
		return nil, wrapPathError("opendir", name, err)
	}

	pkt, err := getPacket[sshfx.HandlePacket](ctx, fsys.w, &sshfx.OpenDirPacket{
		Path: name,
	})
	if err != nil {
		fsys.cl.conn.releaseHandle()
		return nil, wrapPathError("opendir", name, err)
	}

	d := &Dir{
		fsys: fsys,
		name: name,
	}

	d.handle.init(fsys.w, pkt.Handle)
	attachCleanup(d, &d.handle)

	return d, nil
}

func (d *Dir) wrapErr(op string, err error) error {
	return wrapPathError(op, d.name, err)
}

// Name returns the name of the directory as presented to OpenDir, resolved against the working directory.
func (d *Dir) Name() string {
	return d.name
}

// Close closes the Dir, rendering it unusable.
// It sends an SSH_FXP_CLOSE request for the handle.
// Close will not send any request, and return an error if it has already been called.
func (d *Dir) Close(ctx context.Context) error {
	if d == nil {
		return os.ErrInvalid
	}

	return d.wrapErr("close", d.handle.close(ctx))
}

// ReadDir reads the next batch of entries from the directory, in directory order, as returned from the server.
// The "." and ".." entries are not included.
// At the end of the directory, it returns a nil slice and io.EOF.
func (d *Dir) ReadDir(ctx context.Context) ([]fs.DirEntry, error) {
	if d == nil {
		return nil, os.ErrInvalid
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for {
		handle, _, err := d.handle.get()
		if err != nil {
			return nil, d.wrapErr("readdir", err)
		}

		pkt, err := getPacket[sshfx.NamePacket](ctx, d.fsys.w, &sshfx.ReadDirPacket{
			Handle: handle,
		})
		if err != nil {
			return nil, d.wrapErr("readdir", err)
		}

		ents := make([]fs.DirEntry, 0, len(pkt.Entries))
		for _, ent := range pkt.Entries {
			if ent.Filename == "." || ent.Filename == ".." {
				continue
			}

			ents = append(ents, ent)
		}

		if len(ents) > 0 {
			return ents, nil
		}
	}
}

// ReadDirAll reads all the remaining entries from the directory.
// When it succeeds, it returns a nil error (not io.EOF).
// On error, it returns the entries read before the error, along with the error.
func (d *Dir) ReadDirAll(ctx context.Context) ([]fs.DirEntry, error) {
	var all []fs.DirEntry

	for {
		ents, err := d.ReadDir(ctx)
		all = append(all, ents...)

		if err != nil {
			if errors.Is(err, io.EOF) {
				return all, nil
			}

			return all, err
		}
	}
}
