package sftp

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"

	sshfx "github.com/pkg/sftpclient/encoding/ssh/filexfer"
	"github.com/pkg/sftpclient/internal/sync"
)

// maxWriteAttempts bounds how many write deadlines may expire while a single packet is still making progress.
const maxWriteAttempts = 8

// pendingReply is the single-resolution reply slot for one in-flight request.
type pendingReply struct {
	id *requestID
	ch chan *sshfx.RawPacket

	abandoned bool // guarded by clientConn.mu
}

// clientConn multiplexes requests over one byte stream.
//
// Requests are written by their callers, one packet at a time under wmu.
// All responses are read by the single recvLoop goroutine, which hands each one to the pendingReply registered under its request-id.
type clientConn struct {
	rd io.Reader
	wr io.WriteCloser

	aux *auxiliary
	ids *idPool
	log *slog.Logger

	maxPacket    uint32
	writeTimeout time.Duration

	resPool *sync.ChanPool[*sshfx.RawPacket]
	bufPool *sync.SlicePool[[]byte, byte]
	pktPool *sync.Pool[sshfx.RawPacket]
	hdrPool bytebufferpool.Pool

	mu       sync.Mutex
	inflight map[uint32]*pendingReply

	wmu     sync.Mutex
	wbroken error

	// submitted counts requests written whose responses have not yet been read.
	submitted atomic.Int64
	wake      chan struct{}

	closing   chan struct{}
	closeOnce sync.Once

	done    chan struct{}
	termErr error

	openHandles atomic.Int64
}

func newClientConn(rd io.Reader, wr io.WriteCloser) *clientConn {
	return &clientConn{
		rd:       rd,
		wr:       wr,
		aux:      newAuxiliary(),
		log:      discardLogger,
		inflight: make(map[uint32]*pendingReply),
		wake:     make(chan struct{}, 1),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (c *clientConn) handshake(ctx context.Context) (Extensions, error) {
	initPkt := &sshfx.InitPacket{
		Version: sftpProtocolVersion,
	}

	data, err := initPkt.MarshalBinary()
	if err != nil {
		return Extensions{}, newError(KindCodec, "init", err)
	}

	var verPkt sshfx.VersionPacket
	errch := make(chan error, 1)

	// Neither the write nor the read observes ctx, so both run apart from the caller.
	go func() {
		defer close(errch)

		if err := c.write(data, nil); err != nil {
			errch <- newError(KindTransport, "init", err)
			return
		}

		b := make([]byte, c.maxPacket)

		if err := verPkt.ReadFrom(c.rd, b, c.maxPacket); err != nil {
			var typeErr *sshfx.UnexpectedPacketTypeError
			switch {
			case errors.As(err, &typeErr),
				errors.Is(err, sshfx.ErrShortPacket),
				errors.Is(err, sshfx.ErrLongPacket):
				errch <- newError(KindHandshake, "version", err)
			default:
				errch <- newError(KindTransport, "version", err)
			}
			return
		}

		if verPkt.Version != sftpProtocolVersion {
			errch <- newError(KindHandshake, "version",
				errors.Errorf("unexpected server version: got %d, want %d", verPkt.Version, sftpProtocolVersion))
		}
	}()

	select {
	case err := <-errch:
		if err != nil {
			return Extensions{}, err
		}
	case <-ctx.Done():
		return Extensions{}, newError(KindTransport, "version", ctx.Err())
	}

	return parseExtensions(verPkt.Extensions), nil
}

// start launches the response reader.
func (c *clientConn) start() {
	go c.recvLoop()
}

func (c *clientConn) recvLoop() {
	defer close(c.done)

	err := c.readLoop()

	select {
	case <-c.closing:
		// Anything that goes wrong after Close began is part of the shutdown.
		err = nil
	default:
	}

	if err != nil {
		c.log.Debug("sftp: response reader failed", slog.Any("error", err))
		c.aux.fail(err)
	} else {
		c.log.Debug("sftp: response reader stopped")
		c.aux.fail(ErrClosed)
	}

	c.releaseAbandoned()

	c.termErr = err
}

// releaseAbandoned releases the ids of every request whose caller stopped waiting.
// No response can arrive for them once the reader has stopped.
//
// It must only be called after the signal is set,
// so that abandon can no longer hand an id over to the reader.
func (c *clientConn) releaseAbandoned() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for reqid, pr := range c.inflight {
		if !pr.abandoned {
			continue
		}

		delete(c.inflight, reqid)
		c.resPool.Put(pr.ch)
		pr.id.release()
	}
}

// acquireID leases a request-id from the pool.
// It fails with the reader's failure if the reader stops before an id becomes available.
func (c *clientConn) acquireID(ctx context.Context) (*requestID, error) {
	if err := c.aux.err(); err != nil {
		return nil, err
	}

	bound, release := c.aux.bind(ctx)
	defer release()

	id, err := c.ids.acquire(bound)
	if err != nil {
		if ctx.Err() == nil {
			if failure := c.aux.err(); failure != nil {
				return nil, failure
			}
		}

		return nil, err
	}

	return id, nil
}

// waitForRequest blocks until at least one written request has not been read back.
// It returns false if the connection is closing.
func (c *clientConn) waitForRequest() bool {
	for {
		if c.submitted.Load() > 0 {
			return true
		}

		select {
		case <-c.wake:
		case <-c.closing:
			return false
		}
	}
}

func (c *clientConn) readLoop() error {
	for {
		if !c.waitForRequest() {
			return nil
		}

		raw := c.pktPool.Get()

		if err := raw.ReadFrom(c.rd, c.bufPool.Get(), c.maxPacket); err != nil {
			c.pktPool.Put(raw)

			if errors.Is(err, sshfx.ErrShortPacket) || errors.Is(err, sshfx.ErrLongPacket) {
				return newError(KindCodec, "read packet", err)
			}

			return newError(KindTransport, "read packet", err)
		}

		c.submitted.Add(-1)

		pr, abandoned := c.takePending(raw.RequestID)
		if pr == nil {
			id := raw.RequestID
			c.returnRaw(raw)
			return newError(KindCodec, "read packet", errors.Errorf("response for unknown request id %d", id))
		}

		if abandoned {
			// The caller stopped waiting, so this goroutine now owns the id.
			c.returnRaw(raw)
			c.resPool.Put(pr.ch)
			pr.id.release()
			continue
		}

		pr.ch <- raw
	}
}

func (c *clientConn) takePending(reqid uint32) (pr *pendingReply, abandoned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pr, ok := c.inflight[reqid]
	if !ok {
		return nil, false
	}

	delete(c.inflight, reqid)

	return pr, pr.abandoned
}

// dispatch marshals and writes req under the given id.
// It returns the pendingReply upon which the response will be delivered.
//
// If dispatch fails, the id was never put in flight, and still belongs to the caller.
func (c *clientConn) dispatch(id *requestID, req sshfx.PacketMarshaller) (*pendingReply, error) {
	if err := c.aux.err(); err != nil {
		return nil, err
	}

	hdr := c.hdrPool.Get()
	defer c.hdrPool.Put(hdr)

	header, payload, err := req.MarshalPacket(id.value(), hdr.B)
	if err != nil {
		return nil, newError(KindCodec, "marshal packet", err)
	}
	hdr.B = header[:0]

	// payload usually aliases a caller-held byte slice,
	// so, _do not_ put it into any pool.

	pr := &pendingReply{
		id: id,
		ch: c.resPool.Get(),
	}

	c.mu.Lock()
	c.inflight[id.value()] = pr
	c.mu.Unlock()

	if err := c.write(header, payload); err != nil {
		c.mu.Lock()
		delete(c.inflight, id.value())
		c.mu.Unlock()

		c.resPool.Put(pr.ch)

		return nil, newError(KindTransport, "write packet", err)
	}

	c.submitted.Add(1)

	select {
	case c.wake <- struct{}{}:
	default:
	}

	return pr, nil
}

// write writes one whole packet to the stream.
// Once any write has failed, the stream may hold a partial packet, so every later write fails too.
func (c *clientConn) write(header, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.wbroken != nil {
		return c.wbroken
	}

	if err := c.writeFull(header); err != nil {
		c.wbroken = err
		return err
	}

	if len(payload) != 0 {
		if err := c.writeFull(payload); err != nil {
			c.wbroken = err
			return err
		}
	}

	return nil
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// writeFull writes all of b.
// If the stream supports write deadlines, and a timeout is set,
// an expired deadline that still made progress is retried after a back-off.
func (c *clientConn) writeFull(b []byte) error {
	wd, ok := c.wr.(writeDeadliner)
	if !ok || c.writeTimeout <= 0 {
		_, err := c.wr.Write(b)
		return errors.WithStack(err)
	}
	defer wd.SetWriteDeadline(time.Time{})

	bo := &backoff.Backoff{
		Factor: 1.25,
		Jitter: true,
		Min:    10 * time.Millisecond,
		Max:    time.Second,
	}

	for len(b) > 0 {
		if err := wd.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return errors.WithStack(err)
		}

		n, err := c.wr.Write(b)
		b = b[n:]

		if err == nil {
			continue
		}

		if !errors.Is(err, os.ErrDeadlineExceeded) || n == 0 || bo.Attempt() >= maxWriteAttempts {
			return errors.WithStack(err)
		}

		time.Sleep(bo.Duration())
	}

	return nil
}

// await waits for the response to pr.
//
// A response that is already available always wins over a failure of the reader.
// If await returns the id, the caller still owns it.
// If ctx is done first, the wait is abandoned, and the id passes to the reader, which releases it when the response arrives.
// The error is then ctx.Err() itself, unclassified, so that callers see the same error they would from any other ctx-aware call.
func (c *clientConn) await(ctx context.Context, pr *pendingReply) (*sshfx.RawPacket, *requestID, error) {
	select {
	case raw := <-pr.ch:
		c.resPool.Put(pr.ch)
		return raw, pr.id, nil
	default:
	}

	guard := taskGuard{aux: c.aux}

	if err := guard.poll(); err != nil {
		return c.reclaim(pr, err)
	}

	select {
	case raw := <-pr.ch:
		c.resPool.Put(pr.ch)
		return raw, pr.id, nil

	case <-guard.fired():
		return c.reclaim(pr, guard.poll())

	case <-ctx.Done():
		return nil, c.abandon(pr), ctx.Err()
	}
}

// reclaim removes pr from the in-flight table after the reader has failed.
// If the reader took the response before it failed, the response is returned instead of err.
func (c *clientConn) reclaim(pr *pendingReply, err error) (*sshfx.RawPacket, *requestID, error) {
	c.mu.Lock()
	_, pending := c.inflight[pr.id.value()]
	delete(c.inflight, pr.id.value())
	c.mu.Unlock()

	if pending {
		c.resPool.Put(pr.ch)
		return nil, pr.id, err
	}

	// The reader always delivers after taking a non-abandoned reply.
	raw := <-pr.ch
	c.resPool.Put(pr.ch)
	return raw, pr.id, nil
}

// abandon gives up waiting on pr.
// It returns the id if the caller still owns it, which is the case when the response was already delivered,
// or when the reader is no longer running.
func (c *clientConn) abandon(pr *pendingReply) *requestID {
	c.mu.Lock()

	if _, pending := c.inflight[pr.id.value()]; pending {
		if c.aux.err() != nil {
			delete(c.inflight, pr.id.value())
			c.mu.Unlock()

			c.resPool.Put(pr.ch)
			return pr.id
		}

		pr.abandoned = true
		c.mu.Unlock()
		return nil
	}

	c.mu.Unlock()

	raw := <-pr.ch
	c.returnRaw(raw)
	c.resPool.Put(pr.ch)
	return pr.id
}

// sendDetached sends req without waiting for its response.
// It is used for best-effort closes, where no one is left to receive the result.
func (c *clientConn) sendDetached(ctx context.Context, req sshfx.PacketMarshaller) error {
	id, err := c.acquireID(ctx)
	if err != nil {
		return err
	}

	pr, err := c.dispatch(id, req)
	if err != nil {
		id.release()
		return err
	}

	if id := c.abandon(pr); id != nil {
		id.release()
	}

	return nil
}

func (c *clientConn) returnRaw(raw *sshfx.RawPacket) {
	c.bufPool.Put(raw.Data.HintReturn())
	c.pktPool.Put(raw)
}

// reserveHandle accounts for one more open handle,
// failing if that would exceed the limit declared by the server.
func (c *clientConn) reserveHandle(op string) error {
	limit := c.aux.limits.OpenHandles
	if limit == 0 {
		return nil
	}

	if n := c.openHandles.Add(1); uint64(n) > limit {
		c.openHandles.Add(-1)
		return newError(KindResourceExhausted, op, errors.Errorf("open handle limit of %d reached", limit))
	}

	return nil
}

func (c *clientConn) releaseHandle() {
	if c.aux.limits.OpenHandles == 0 {
		return
	}

	c.openHandles.Add(-1)
}

// close begins shutting down the connection.
// The reader stops once it observes the close, or once the stream ends.
func (c *clientConn) close() error {
	var err error

	c.closeOnce.Do(func() {
		close(c.closing)
		c.aux.fail(ErrClosed)

		err = c.wr.Close()

		if rc, ok := c.rd.(io.Closer); ok {
			rc.Close()
		}
	})

	return err
}

// wait blocks until the reader has stopped, and returns the reason it stopped, if abnormal.
func (c *clientConn) wait() error {
	<-c.done
	return c.termErr
}
