package sftp

import (
	"context"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	sshfx "github.com/pkg/sftpclient/encoding/ssh/filexfer"
	"github.com/pkg/sftpclient/encoding/ssh/filexfer/openssh"
	"github.com/pkg/sftpclient/internal/sync"
)

const fakeHome = "/home/user"

type fakeHandle struct {
	path  string
	dir   bool
	names []string // remaining directory entries
}

// fakeServer is a minimal in-memory SFTP server speaking over a pair of pipes.
// It answers requests one at a time, in the order they arrive.
type fakeServer struct {
	t testing.TB

	exts   []*sshfx.ExtensionPair
	limits *openssh.LimitsExtendedReplyPacket

	// readDirBatch is how many names each SSH_FXP_READDIR returns, zero meaning all.
	readDirBatch int

	// intercept, if set, is offered every request before it is handled.
	// It returns true if it took care of the request, replying later with reply, or not at all.
	intercept func(reqid uint32, req sshfx.Packet) bool

	rd *io.PipeReader
	wr *io.PipeWriter

	wmu sync.Mutex

	mu       sync.Mutex
	files    map[string][]byte
	dirs     map[string]bool
	handles  map[string]*fakeHandle
	nextH    int
	requests []sshfx.Packet
	reqids   []uint32
	writes   int

	done chan struct{}
}

func newFakeServer(t testing.TB) *fakeServer {
	return &fakeServer{
		t: t,
		exts: []*sshfx.ExtensionPair{
			openssh.ExtensionLimits(),
			openssh.ExtensionExpandPath(),
			openssh.ExtensionFSync(),
			openssh.ExtensionPOSIXRename(),
			openssh.ExtensionHardlink(),
		},
		limits: &openssh.LimitsExtendedReplyPacket{
			MaxPacketLength: sshfx.DefaultMaxPacketLength,
			MaxReadLength:   sshfx.DefaultMaxDataLength,
			MaxWriteLength:  sshfx.DefaultMaxDataLength,
		},
		files: make(map[string][]byte),
		dirs: map[string]bool{
			"/":      true,
			"/home":  true,
			fakeHome: true,
		},
		handles: make(map[string]*fakeHandle),
		done:    make(chan struct{}),
	}
}

func (s *fakeServer) mkdir(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for p := name; p != "/"; p = path.Dir(p) {
		s.dirs[p] = true
	}
}

func (s *fakeServer) writeFile(name string, data []byte) {
	s.mkdir(path.Dir(name))

	s.mu.Lock()
	defer s.mu.Unlock()

	s.files[name] = data
}

func (s *fakeServer) file(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.files[name]
	return data, ok
}

func (s *fakeServer) openHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.handles)
}

func (s *fakeServer) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writes
}

// seen returns the request-ids and paths of every received request of the given type, in order.
func (s *fakeServer) seen(typ sshfx.PacketType) (ids []uint32, paths []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, req := range s.requests {
		if req.Type() != typ {
			continue
		}

		ids = append(ids, s.reqids[i])

		switch req := req.(type) {
		case *sshfx.StatPacket:
			paths = append(paths, req.Path)
		case *sshfx.LStatPacket:
			paths = append(paths, req.Path)
		case *sshfx.OpenDirPacket:
			paths = append(paths, req.Path)
		case *sshfx.OpenPacket:
			paths = append(paths, req.Filename)
		}
	}

	return ids, paths
}

// start connects a new Client to s, which is closed at the end of the test.
func (s *fakeServer) start(opts ...ClientOption) *Client {
	s.t.Helper()

	cl, err := s.connect(context.Background(), opts...)
	require.NoError(s.t, err)

	s.t.Cleanup(func() {
		cl.Close()
		s.wait()
	})

	return cl
}

func (s *fakeServer) connect(ctx context.Context, opts ...ClientOption) (*Client, error) {
	crd, swr := io.Pipe()
	srd, cwr := io.Pipe()

	s.rd, s.wr = srd, swr

	go s.serve()

	cl, err := NewClientPipe(ctx, crd, cwr, opts...)
	if err != nil {
		s.wait()
		return nil, err
	}

	return cl, nil
}

// wait returns once the server has stopped, which happens when the client closes its end.
func (s *fakeServer) wait() {
	select {
	case <-s.done:
	case <-time.After(10 * time.Second):
		s.t.Error("fake server did not stop")
	}
}

func (s *fakeServer) serve() {
	defer close(s.done)
	defer s.wr.Close()
	defer s.rd.Close()

	var initPkt sshfx.InitPacket
	if err := initPkt.ReadFrom(s.rd, make([]byte, sshfx.DefaultMaxPacketLength), sshfx.DefaultMaxPacketLength); err != nil {
		return
	}

	verPkt := &sshfx.VersionPacket{
		Version:    sftpProtocolVersion,
		Extensions: s.exts,
	}

	data, err := verPkt.MarshalBinary()
	if err != nil {
		panic(err)
	}

	if _, err := s.wr.Write(data); err != nil {
		return
	}

	for {
		var req sshfx.RequestPacket
		if err := req.ReadFrom(s.rd, make([]byte, sshfx.DefaultMaxPacketLength), sshfx.DefaultMaxPacketLength); err != nil {
			return
		}

		s.mu.Lock()
		s.requests = append(s.requests, req.Request)
		s.reqids = append(s.reqids, req.RequestID)
		s.mu.Unlock()

		if s.intercept != nil && s.intercept(req.RequestID, req.Request) {
			continue
		}

		s.reply(req.RequestID, s.handle(req.Request))
	}
}

// reply writes a response packet.
// Write errors are ignored, they only mean the client has gone away.
func (s *fakeServer) reply(reqid uint32, pkt sshfx.PacketMarshaller) {
	header, payload, err := pkt.MarshalPacket(reqid, nil)
	if err != nil {
		panic(err)
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	if _, err := s.wr.Write(header); err != nil {
		return
	}

	if len(payload) > 0 {
		s.wr.Write(payload)
	}
}

// cut writes only the first part of a response, and then closes the stream.
func (s *fakeServer) cut(reqid uint32, pkt sshfx.PacketMarshaller) {
	data, err := sshfx.ComposePacket(pkt.MarshalPacket(reqid, nil))
	if err != nil {
		panic(err)
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.wr.Write(data[:len(data)/2])
	s.wr.Close()
}

func status(code sshfx.Status) *sshfx.StatusPacket {
	return &sshfx.StatusPacket{
		StatusCode:   code,
		ErrorMessage: code.String(),
	}
}

func fileAttrs(size int) sshfx.Attributes {
	return sshfx.Attributes{
		Flags:       sshfx.AttrSize | sshfx.AttrPermissions,
		Size:        uint64(size),
		Permissions: sshfx.ModeRegular | 0o644,
	}
}

func dirAttrs() sshfx.Attributes {
	return sshfx.Attributes{
		Flags:       sshfx.AttrPermissions,
		Permissions: sshfx.ModeDir | 0o755,
	}
}

func (s *fakeServer) abs(p string) string {
	if !path.IsAbs(p) {
		p = path.Join(fakeHome, p)
	}
	return path.Clean(p)
}

func (s *fakeServer) newHandle(h *fakeHandle) string {
	s.nextH++
	handle := "h" + strconv.Itoa(s.nextH)
	s.handles[handle] = h
	return handle
}

func (s *fakeServer) children(dir string) []string {
	var names []string

	for p := range s.files {
		if path.Dir(p) == dir {
			names = append(names, path.Base(p))
		}
	}

	for p := range s.dirs {
		if p != "/" && path.Dir(p) == dir {
			names = append(names, path.Base(p))
		}
	}

	sort.Strings(names)
	return names
}

func (s *fakeServer) stat(p string) sshfx.PacketMarshaller {
	p = s.abs(p)

	if data, ok := s.files[p]; ok {
		return &sshfx.AttrsPacket{Attrs: fileAttrs(len(data))}
	}

	if s.dirs[p] {
		return &sshfx.AttrsPacket{Attrs: dirAttrs()}
	}

	return status(sshfx.StatusNoSuchFile)
}

func (s *fakeServer) handle(req sshfx.Packet) sshfx.PacketMarshaller {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req := req.(type) {
	case *sshfx.OpenDirPacket:
		p := s.abs(req.Path)
		if !s.dirs[p] {
			return status(sshfx.StatusNoSuchFile)
		}

		names := append([]string{".", ".."}, s.children(p)...)
		return &sshfx.HandlePacket{
			Handle: s.newHandle(&fakeHandle{path: p, dir: true, names: names}),
		}

	case *sshfx.ReadDirPacket:
		h, ok := s.handles[req.Handle]
		if !ok || !h.dir {
			return status(sshfx.StatusInvalidHandle)
		}

		if len(h.names) == 0 {
			return status(sshfx.StatusEOF)
		}

		n := len(h.names)
		if s.readDirBatch > 0 {
			n = min(n, s.readDirBatch)
		}

		pkt := &sshfx.NamePacket{}
		for _, name := range h.names[:n] {
			var attrs sshfx.Attributes

			switch name {
			case ".", "..":
				attrs = dirAttrs()
			default:
				p := path.Join(h.path, name)
				if data, ok := s.files[p]; ok {
					attrs = fileAttrs(len(data))
				} else {
					attrs = dirAttrs()
				}
			}

			pkt.Entries = append(pkt.Entries, &sshfx.NameEntry{
				Filename: name,
				Longname: name,
				Attrs:    attrs,
			})
		}
		h.names = h.names[n:]

		return pkt

	case *sshfx.ClosePacket:
		if _, ok := s.handles[req.Handle]; !ok {
			return status(sshfx.StatusInvalidHandle)
		}
		delete(s.handles, req.Handle)
		return status(sshfx.StatusOK)

	case *sshfx.OpenPacket:
		p := s.abs(req.Filename)

		if s.dirs[p] {
			return status(sshfx.StatusFileIsADirectory)
		}

		data, exists := s.files[p]
		switch {
		case exists && req.PFlags&sshfx.FlagCreate != 0 && req.PFlags&sshfx.FlagExclusive != 0:
			return status(sshfx.StatusFileAlreadyExists)
		case !exists && req.PFlags&sshfx.FlagCreate == 0:
			return status(sshfx.StatusNoSuchFile)
		case !exists && !s.dirs[path.Dir(p)]:
			return status(sshfx.StatusNoSuchFile)
		case !exists, req.PFlags&sshfx.FlagTruncate != 0:
			data = nil
		}
		s.files[p] = data

		return &sshfx.HandlePacket{
			Handle: s.newHandle(&fakeHandle{path: p}),
		}

	case *sshfx.ReadPacket:
		h, ok := s.handles[req.Handle]
		if !ok || h.dir {
			return status(sshfx.StatusInvalidHandle)
		}

		data := s.files[h.path]
		if req.Offset >= uint64(len(data)) {
			return status(sshfx.StatusEOF)
		}

		data = data[req.Offset:]
		data = data[:min(len(data), int(req.Length))]

		return &sshfx.DataPacket{
			Data: append([]byte(nil), data...),
		}

	case *sshfx.WritePacket:
		h, ok := s.handles[req.Handle]
		if !ok || h.dir {
			return status(sshfx.StatusInvalidHandle)
		}

		s.writes++

		data := s.files[h.path]
		if end := int(req.Offset) + len(req.Data); end > len(data) {
			data = append(data, make([]byte, end-len(data))...)
		}
		copy(data[req.Offset:], req.Data)
		s.files[h.path] = data

		return status(sshfx.StatusOK)

	case *sshfx.FStatPacket:
		h, ok := s.handles[req.Handle]
		if !ok {
			return status(sshfx.StatusInvalidHandle)
		}
		return s.stat(h.path)

	case *sshfx.FSetStatPacket:
		h, ok := s.handles[req.Handle]
		if !ok {
			return status(sshfx.StatusInvalidHandle)
		}

		if size, ok := req.Attrs.GetSize(); ok {
			data := s.files[h.path]
			if int(size) <= len(data) {
				data = data[:size]
			} else {
				data = append(data, make([]byte, int(size)-len(data))...)
			}
			s.files[h.path] = data
		}

		return status(sshfx.StatusOK)

	case *sshfx.StatPacket:
		return s.stat(req.Path)

	case *sshfx.LStatPacket:
		return s.stat(req.Path)

	case *sshfx.MkdirPacket:
		p := s.abs(req.Path)

		if _, ok := s.files[p]; ok || s.dirs[p] {
			return status(sshfx.StatusFailure)
		}

		if !s.dirs[path.Dir(p)] {
			return status(sshfx.StatusNoSuchFile)
		}

		s.dirs[p] = true
		return status(sshfx.StatusOK)

	case *sshfx.RemovePacket:
		p := s.abs(req.Path)

		if _, ok := s.files[p]; !ok {
			return status(sshfx.StatusFailure)
		}

		delete(s.files, p)
		return status(sshfx.StatusOK)

	case *sshfx.RmdirPacket:
		p := s.abs(req.Path)

		if !s.dirs[p] {
			return status(sshfx.StatusNoSuchFile)
		}

		if len(s.children(p)) > 0 {
			return status(sshfx.StatusFailure)
		}

		delete(s.dirs, p)
		return status(sshfx.StatusOK)

	case *sshfx.RealPathPacket:
		return &sshfx.PathPseudoPacket{
			Path: s.abs(req.Path),
		}

	case *sshfx.ExtendedPacket:
		return s.extended(req)
	}

	return status(sshfx.StatusOPUnsupported)
}

func (s *fakeServer) extended(req *sshfx.ExtendedPacket) sshfx.PacketMarshaller {
	data, err := req.Data.MarshalBinary()
	if err != nil {
		return status(sshfx.StatusBadMessage)
	}

	switch req.ExtendedRequest {
	case openssh.ExtensionLimits().Name:
		return s.limits

	case openssh.ExtensionExpandPath().Name:
		var ep openssh.ExpandPathExtendedPacket
		if err := ep.UnmarshalBinary(data); err != nil {
			return status(sshfx.StatusBadMessage)
		}

		p := ep.Path
		if p == "~" || strings.HasPrefix(p, "~/") {
			p = fakeHome + p[1:]
		}

		return &sshfx.PathPseudoPacket{
			Path: s.abs(p),
		}

	case openssh.ExtensionFSync().Name:
		return status(sshfx.StatusOK)
	}

	return status(sshfx.StatusOPUnsupported)
}
