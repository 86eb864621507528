package sftp

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"slices"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/sync/errgroup"

	sshfx "github.com/pkg/sftpclient/encoding/ssh/filexfer"
	"github.com/pkg/sftpclient/encoding/ssh/filexfer/openssh"
	"github.com/pkg/sftpclient/internal/sync"
)

// File represents an open file handle.
//
// The methods of File are safe for concurrent use.
// A File that is discarded without being closed is closed on a best-effort basis once it is garbage collected.
type File struct {
	fsys *Fs
	name string

	handle ownedHandle

	mu     sync.Mutex
	offset int64 // current offset within remote file
}

// These aliases to the os package values are provided as a convenience to avoid needing two imports to use OpenFile.
const (
	// Exactly one of OpenReadOnly, OpenWriteOnly, OpenReadWrite must be specified.
	OpenFlagReadOnly  = os.O_RDONLY
	OpenFlagWriteOnly = os.O_WRONLY
	OpenFlagReadWrite = os.O_RDWR
	// The remaining values may be or'ed in to control behavior.
	OpenFlagAppend    = os.O_APPEND
	OpenFlagCreate    = os.O_CREATE
	OpenFlagTruncate  = os.O_TRUNC
	OpenFlagExclusive = os.O_EXCL
)

// toPortableFlags converts the flags passed to OpenFile into SFTP flags.
// Unsupported flags are ignored.
func toPortableFlags(f int) uint32 {
	var out uint32
	switch f & (OpenFlagReadOnly | OpenFlagWriteOnly | OpenFlagReadWrite) {
	case OpenFlagReadOnly:
		out |= sshfx.FlagRead
	case OpenFlagWriteOnly:
		out |= sshfx.FlagWrite
	case OpenFlagReadWrite:
		out |= sshfx.FlagRead | sshfx.FlagWrite
	}
	if f&OpenFlagAppend == OpenFlagAppend {
		out |= sshfx.FlagAppend
	}
	if f&OpenFlagCreate == OpenFlagCreate {
		out |= sshfx.FlagCreate
	}
	if f&OpenFlagTruncate == OpenFlagTruncate {
		out |= sshfx.FlagTruncate
	}
	if f&OpenFlagExclusive == OpenFlagExclusive {
		out |= sshfx.FlagExclusive
	}
	return out
}

// Open opens the named file for reading.
func (fsys *Fs) Open(ctx context.Context, name string) (*File, error) {
	return fsys.OpenFile(ctx, name, OpenFlagReadOnly, 0)
}

// Create creates or truncates the named file.
// If the file does not exist, it is created with mode 0o666 (before umask).
func (fsys *Fs) Create(ctx context.Context, name string) (*File, error) {
	return fsys.OpenFile(ctx, name, OpenFlagReadWrite|OpenFlagCreate|OpenFlagTruncate, 0666)
}

// OpenFile is the generalized open call;
// most users can use the simplified Open or Create methods instead.
// If the file does not exist, and the OpenFlagCreate flag is passed, it is created with mode perm (before umask).
//
// If the server declared a limit on open handles, and that many are already open through this Client,
// OpenFile fails with a ResourceExhausted error without sending a request.
//
// Note well: since all Write operations are done through an offset-specifying operation,
// the OpenFlagAppend flag is passed to the server, but otherwise ignored.
func (fsys *Fs) OpenFile(ctx context.Context, name string, flag int, perm fs.FileMode) (*File, error) {
	name = fsys.resolve(name)

	if err := fsys.cl.conn.reserveHandle("openfile"); err != nil {
		return nil, wrapPathError("openfile", name, err)
	}

	pkt, err := getPacket[sshfx.HandlePacket](ctx, fsys.w, &sshfx.OpenPacket{
		Filename: name,
		PFlags:   toPortableFlags(flag),
		Attrs: sshfx.Attributes{
			Flags:       sshfx.AttrPermissions,
			Permissions: sshfx.FileMode(perm.Perm()),
		},
	})
	if err != nil {
		fsys.cl.conn.releaseHandle()
		return nil, wrapPathError("openfile", name, err)
	}

	f := &File{
		fsys: fsys,
		name: name,
	}

	f.handle.init(fsys.w, pkt.Handle)
	attachCleanup(f, &f.handle)

	return f, nil
}

func (f *File) wrapErr(op string, err error) error {
	return wrapPathError(op, f.name, err)
}

// Close closes the File, rendering it unusable for I/O.
// Close will not send any request, and return an error if it has already been called.
//
// The SSH_FXP_CLOSE request is sent even if the File is in use by other goroutines,
// their outstanding requests may then fail.
func (f *File) Close() error {
	if f == nil {
		return fs.ErrInvalid
	}

	return f.wrapErr("close", f.handle.close(context.Background()))
}

// Name returns the name of the file as presented to Open, resolved against the working directory.
//
// It is safe to call Name after Close.
func (f *File) Name() string {
	return f.name
}

func (f *File) setstat(ctx context.Context, attrs *sshfx.Attributes) error {
	handle, _, err := f.handle.get()
	if err != nil {
		return f.wrapErr("fsetstat", err)
	}

	return f.wrapErr("fsetstat",
		f.fsys.w.sendPacket(ctx, &sshfx.FSetStatPacket{
			Handle: handle,
			Attrs:  *attrs,
		}),
	)
}

// Truncate changes the size of the file.
// It does not change the I/O offset.
func (f *File) Truncate(ctx context.Context, size int64) error {
	return f.setstat(ctx, &sshfx.Attributes{
		Flags: sshfx.AttrSize,
		Size:  uint64(size),
	})
}

// Chmod changes the mode of the file to mode.
func (f *File) Chmod(ctx context.Context, mode fs.FileMode) error {
	return f.setstat(ctx, &sshfx.Attributes{
		Flags:       sshfx.AttrPermissions,
		Permissions: sshfx.FromGoFileMode(mode),
	})
}

// Chown changes the numeric uid and gid of the file.
// The server is told to set the uid and gid as given, and it is up to the server to define that behavior.
func (f *File) Chown(ctx context.Context, uid, gid int) error {
	return f.setstat(ctx, &sshfx.Attributes{
		Flags: sshfx.AttrUIDGID,
		UID:   uint32(uid),
		GID:   uint32(gid),
	})
}

// Chtimes sends a request to change the access and modification times of the file.
//
// Be careful, the server may later alter the access or modification time upon Close of this file.
func (f *File) Chtimes(ctx context.Context, atime, mtime time.Time) error {
	return f.setstat(ctx, &sshfx.Attributes{
		Flags: sshfx.AttrACModTime,
		ATime: uint32(atime.Unix()),
		MTime: uint32(mtime.Unix()),
	})
}

// Stat returns the FileInfo structure describing file.
func (f *File) Stat(ctx context.Context) (fs.FileInfo, error) {
	if f == nil {
		return nil, fs.ErrInvalid
	}

	handle, _, err := f.handle.get()
	if err != nil {
		return nil, f.wrapErr("fstat", err)
	}

	pkt, err := getPacket[sshfx.AttrsPacket](ctx, f.fsys.w, &sshfx.FStatPacket{
		Handle: handle,
	})
	if err != nil {
		return nil, f.wrapErr("fstat", err)
	}

	return &sshfx.NameEntry{
		Filename: path.Base(f.name),
		Attrs:    pkt.Attrs,
	}, nil
}

// Sync commits the current contents of the file to stable storage.
//
// If the server did not announce support for the "fsync@openssh.com" extension,
// then no request will be sent,
// and Sync returns an *fs.PathError wrapping sshfx.StatusOPUnsupported.
func (f *File) Sync(ctx context.Context) error {
	if f == nil {
		return fs.ErrInvalid
	}

	handle, _, err := f.handle.get()
	if err != nil {
		return f.wrapErr("fsync", err)
	}

	if !f.fsys.cl.conn.aux.exts.FSync {
		return f.wrapErr("fsync", sshfx.StatusOPUnsupported)
	}

	return f.wrapErr("fsync",
		f.fsys.w.sendPacket(ctx, &openssh.FSyncExtendedPacket{
			Handle: handle,
		}),
	)
}

// chunkResult is the outcome of one request of a pipelined read or write.
type chunkResult struct {
	n   int
	err error
}

// reduceChunks returns the number of bytes transferred before the earliest failed chunk, and that chunk's error.
// A chunk that was only cancelled because a later chunk failed reports the later chunk's error instead.
func reduceChunks(ctx context.Context, results []chunkResult, groupErr error) (int, error) {
	var n int

	for _, r := range results {
		n += r.n

		if r.err != nil {
			err := r.err
			if groupErr != nil && ctx.Err() == nil && errors.Is(err, context.Canceled) {
				err = groupErr
			}

			return n, err
		}
	}

	return n, nil
}

// readChunk attempts to read the whole entire length of the buffer from the file starting at the offset.
// It will continue progressively reading into the buffer until it fills the whole buffer, or an error occurs.
func (f *File) readChunk(ctx context.Context, b []byte, off int64) (read int, err error) {
	req := &sshfx.ReadPacket{
		Offset: uint64(off),
	}

	var resp sshfx.DataPacket

	chunkSize := f.fsys.cl.readLen

	for len(b) > 0 {
		handle, _, err := f.handle.get()
		if err != nil {
			return read, err
		}
		req.Handle = handle

		n := min(len(b), chunkSize)

		req.Length = uint32(n)

		// If we get a larger data packet than the hint resp.Data, it is grown to fit.
		// So, the hint is clipped to ensure we never write past len(b) into cap(b).
		resp.Data = slices.Clip(b[:n])

		raw, err := f.fsys.w.send(ctx, req)
		if err != nil {
			return read, err
		}

		m, err := f.fsys.w.recvData(raw, &resp)

		if m > n {
			// Because of the slices.Clip above, this MUST have reallocated.
			m = copy(b, resp.Data)
		}
		b = b[m:]

		req.Offset += uint64(m)
		read += m

		if err != nil {
			return read, err
		}
	}

	return read, nil
}

func (f *File) readat(ctx context.Context, b []byte, off int64) (int, error) {
	chunkSize := f.fsys.cl.readLen

	if len(b) <= chunkSize {
		n, err := f.readChunk(ctx, b, off)
		return n, f.wrapErr("readat", err)
	}

	results := make([]chunkResult, (len(b)+chunkSize-1)/chunkSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.fsys.cl.maxInflight)

	for i := range results {
		start := i * chunkSize
		chunk := b[start:min(start+chunkSize, len(b))]

		g.Go(func() error {
			n, err := f.readChunk(gctx, chunk, off+int64(start))
			results[i] = chunkResult{n, err}

			if errors.Is(err, io.EOF) {
				// Reading past the end is not a failure of the other chunks.
				return nil
			}
			return err
		})
	}

	n, err := reduceChunks(ctx, results, g.Wait())
	return n, f.wrapErr("readat", err)
}

// ReadAtContext reads len(b) bytes from the File starting at byte offset off.
// Reads larger than the negotiated read length are split into concurrent requests.
// It returns the number of bytes read, which are always the leading bytes of b, and the error, if any.
// At the end of file, the error is io.EOF.
func (f *File) ReadAtContext(ctx context.Context, b []byte, off int64) (int, error) {
	if f == nil {
		return 0, fs.ErrInvalid
	}

	return f.readat(ctx, b, off)
}

// ReadAt calls [File.ReadAtContext] with the background context.
func (f *File) ReadAt(b []byte, off int64) (int, error) {
	return f.ReadAtContext(context.Background(), b, off)
}

// Read reads up to len(b) bytes from the File and stores them in b.
// It returns the number of bytes read and any error encountered.
// At end of file, Read returns 0, io.EOF.
func (f *File) Read(b []byte) (int, error) {
	if f == nil {
		return 0, fs.ErrInvalid
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.readat(context.Background(), b, f.offset)

	f.offset += int64(n)

	if errors.Is(err, io.EOF) && n != 0 {
		return n, nil
	}

	return n, err
}

// readAll reads from the current offset to the end of the file.
func (f *File) readAll(ctx context.Context) ([]byte, error) {
	buf := new(bytes.Buffer)

	// Don't trust the file size for pre-allocation unless it is a regular file.
	if fi, err := f.Stat(ctx); err == nil && fi.Mode().IsRegular() {
		if size := fi.Size(); int64(int(size)) == size {
			buf.Grow(int(size))
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for {
		b := buf.AvailableBuffer()
		if cap(b) < f.fsys.cl.readLen {
			buf.Grow(f.fsys.cl.readLen)
			b = buf.AvailableBuffer()
		}
		b = b[:cap(b)]

		n, err := f.readat(ctx, b, f.offset)
		buf.Write(b[:n])
		f.offset += int64(n)

		if err != nil {
			if errors.Is(err, io.EOF) {
				return buf.Bytes(), nil
			}

			return buf.Bytes(), err
		}
	}
}

// writeChunk sends a single SSH_FXP_WRITE for all of b.
func (f *File) writeChunk(ctx context.Context, b []byte, off int64) (int, error) {
	handle, _, err := f.handle.get()
	if err != nil {
		return 0, err
	}

	err = f.fsys.w.sendPacket(ctx, &sshfx.WritePacket{
		Handle: handle,
		Offset: uint64(off),
		Data:   b,
	})
	if err != nil {
		return 0, err
	}

	return len(b), nil
}

func (f *File) writeat(ctx context.Context, b []byte, off int64) (int, error) {
	chunkSize := f.fsys.cl.writeLen

	if len(b) <= chunkSize {
		n, err := f.writeChunk(ctx, b, off)
		return n, f.wrapErr("writeat", err)
	}

	// Split the write into concurrent writes bounded by maxInflight.
	// This allows writes with a suitably large buffer to transfer data at a much faster rate
	// due to overlapping round trip times.
	results := make([]chunkResult, (len(b)+chunkSize-1)/chunkSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.fsys.cl.maxInflight)

	for i := range results {
		start := i * chunkSize
		chunk := b[start:min(start+chunkSize, len(b))]

		g.Go(func() error {
			n, err := f.writeChunk(gctx, chunk, off+int64(start))
			results[i] = chunkResult{n, err}
			return err
		})
	}

	n, err := reduceChunks(ctx, results, g.Wait())
	return n, f.wrapErr("writeat", err)
}

// WriteAtContext writes len(b) bytes to the File starting at byte offset off.
// Writes larger than the negotiated write length are split into concurrent requests.
// If any request fails, it returns the number of bytes before the earliest failed request, and that error.
func (f *File) WriteAtContext(ctx context.Context, b []byte, off int64) (int, error) {
	if f == nil {
		return 0, fs.ErrInvalid
	}

	return f.writeat(ctx, b, off)
}

// WriteAt calls [File.WriteAtContext] with the background context.
func (f *File) WriteAt(b []byte, off int64) (int, error) {
	return f.WriteAtContext(context.Background(), b, off)
}

// Write writes len(b) bytes from b to the File.
// It returns the number of bytes written and an error, if any.
// Write returns a non-nil error when n != len(b)
func (f *File) Write(b []byte) (int, error) {
	if f == nil {
		return 0, fs.ErrInvalid
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.writeat(context.Background(), b, f.offset)
	f.offset += int64(n)

	return n, err
}

// WriteString is like Write, but writes the contents of the string s rather than a slice of bytes.
func (f *File) WriteString(s string) (n int, err error) {
	b := unsafe.Slice(unsafe.StringData(s), len(s))
	return f.Write(b)
}

// batchLen is how many bytes ReadFrom and WriteTo move per round of concurrent requests.
func (f *File) batchLen(chunkSize int) int {
	return chunkSize * f.fsys.cl.maxInflight
}

// ReadFrom reads data from r until EOF and writes it to the file at the current offset.
// The return value is the number of bytes read from r.
// Any error except io.EOF encountered during the read or write is also returned.
//
// This method is preferred over calling Write multiple times
// to maximize throughput when transferring an entire file,
// especially over high-latency links.
func (f *File) ReadFrom(r io.Reader) (read int64, err error) {
	if f == nil {
		return 0, fs.ErrInvalid
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ctx := context.Background()
	b := make([]byte, f.batchLen(f.fsys.cl.writeLen))

	for {
		n, rerr := io.ReadFull(r, b)
		if n > 0 {
			read += int64(n)

			m, err := f.writeat(ctx, b[:n], f.offset)
			f.offset += int64(m)

			if err != nil {
				return read, err
			}
		}

		switch {
		case rerr == nil:
		case errors.Is(rerr, io.EOF), errors.Is(rerr, io.ErrUnexpectedEOF):
			return read, nil
		default:
			return read, rerr
		}
	}
}

// WriteTo writes the file, from the current offset to its end, to the given Writer.
// The return value is the number of bytes written to w.
// Any error encountered during the read or write is also returned.
//
// This method is preferred over calling Read multiple times
// to maximize throughput for transferring the entire file,
// especially over high latency links.
func (f *File) WriteTo(w io.Writer) (written int64, err error) {
	if f == nil {
		return 0, fs.ErrInvalid
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ctx := context.Background()
	b := make([]byte, f.batchLen(f.fsys.cl.readLen))

	for {
		n, err := f.readat(ctx, b, f.offset)
		f.offset += int64(n)

		if n > 0 {
			m, werr := w.Write(b[:n])
			written += int64(m)

			if werr != nil {
				return written, werr
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return written, nil
			}

			return written, err
		}
	}
}

var gatherPool bytebufferpool.Pool

// gather returns the prefix and rest as one contiguous slice, and a func to release it.
// A single buffer is returned as-is, without copying.
func gather(prefix [][]byte, rest []byte) ([]byte, func()) {
	switch {
	case len(prefix) == 0:
		return rest, func() {}
	case len(prefix) == 1 && rest == nil:
		return prefix[0], func() {}
	}

	bb := gatherPool.Get()
	for _, b := range prefix {
		bb.Write(b)
	}
	bb.Write(rest)

	return bb.B, func() { gatherPool.Put(bb) }
}

func (f *File) writeBuffersAt(ctx context.Context, bufs [][]byte, off int64) (int, error) {
	chunkSize := f.fsys.cl.writeLen

	var total int
	for _, b := range bufs {
		total += len(b)
	}

	results := make([]chunkResult, (total+chunkSize-1)/chunkSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.fsys.cl.maxInflight)

	pos := off
	for i := range results {
		taken, prefix, rest, ok := takeBuffers(bufs, chunkSize)
		if !ok {
			break
		}

		data, release := gather(prefix, rest)
		chunkOff := pos

		g.Go(func() error {
			defer release()

			n, err := f.writeChunk(gctx, data, chunkOff)
			results[i] = chunkResult{n, err}
			return err
		})

		bufs = advanceBuffers(bufs, taken)
		pos += int64(taken)
	}

	n, err := reduceChunks(ctx, results, g.Wait())
	return n, f.wrapErr("writeat", err)
}

// WriteBuffersAt writes the contents of bufs, in order, to the File starting at byte offset off.
// The buffers are packed into as few SSH_FXP_WRITE requests as the negotiated write length allows,
// which are sent concurrently.
// If any request fails, it returns the number of bytes before the earliest failed request, and that error.
func (f *File) WriteBuffersAt(ctx context.Context, bufs [][]byte, off int64) (int, error) {
	if f == nil {
		return 0, fs.ErrInvalid
	}

	return f.writeBuffersAt(ctx, bufs, off)
}

// WriteBuffers is like WriteBuffersAt, but writes at the current offset, and advances it.
func (f *File) WriteBuffers(ctx context.Context, bufs [][]byte) (int, error) {
	if f == nil {
		return 0, fs.ErrInvalid
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.writeBuffersAt(ctx, bufs, f.offset)
	f.offset += int64(n)

	return n, err
}

// These aliases to the io package values are provided as a convenience to avoid needing two imports to use Seek.
const (
	SeekStart   = io.SeekStart   // seek relative to the origin of the file
	SeekCurrent = io.SeekCurrent // seek relative to the current offset
	SeekEnd     = io.SeekEnd     // seek relative to the end
)

// Seek sets the offset for the next Read or Write on file to offset,
// interpreted according to whence:
// SeekStart means relative to the origin of the file,
// SeekCurrent means relative to the current offset,
// and SeekEnd means relative to the end.
// It returns the new offset and an error, if any.
//
// Note well, a whence of SeekEnd will make an SSH_FX_FSTAT request on the file handle.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f == nil {
		return 0, fs.ErrInvalid
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var abs int64
	switch whence {
	case SeekStart:
		abs = offset
	case SeekCurrent:
		abs = f.offset + offset
	case SeekEnd:
		fi, err := f.Stat(context.Background())
		if err != nil {
			return 0, err
		}
		abs = fi.Size() + offset
	default:
		return 0, f.wrapErr("seek", errors.Wrapf(fs.ErrInvalid, "invalid whence: %d", whence))
	}

	if abs < 0 {
		return 0, f.wrapErr("seek", errors.Wrapf(fs.ErrInvalid, "negative offset: %d", abs))
	}

	f.offset = abs
	return abs, nil
}
