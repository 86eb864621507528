package sftp

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/pkg/errors"

	sshfx "github.com/pkg/sftpclient/encoding/ssh/filexfer"
	"github.com/pkg/sftpclient/encoding/ssh/filexfer/openssh"
	"github.com/pkg/sftpclient/internal/sync"
)

const sftpProtocolVersion = 3 // https://filezilla-project.org/specs/draft-ietf-secsh-filexfer-02.txt

const defaultMaxInflight = 64

var discardLogger = slog.New(slog.DiscardHandler)

// ClientOption specifies an optional that can be set on a client.
type ClientOption func(*Client) error

// WithMaxInflight sets the maximum number of inflight packets at one time.
// This is the number of request-ids the client leases out.
//
// It will generate an error if one attempts to set it to a value less than one.
func WithMaxInflight(count int) ClientOption {
	return func(cl *Client) error {
		if count < 1 {
			return fmt.Errorf("max inflight packets cannot be less than 1, was: %d", count)
		}

		if int64(count) > math.MaxInt32 {
			return fmt.Errorf("max inflight packets must fit in an int32: %d", count)
		}

		cl.maxInflight = count

		return nil
	}
}

// WithMaxDataLength sets the maximum length of a data that will be used in SSH_FX_READ and SSH_FX_WRITE requests.
// This will also adjust the maximum packet length to at least the data length + 1232 bytes as overhead room.
// (This is the difference between the 34000 byte packet size vs 32768 data packet size.)
//
// The maximum data length can only be increased,
// if an attempt is made to set this value lower than it currently is,
// it will simply not perform any operation.
//
// The server may still declare lower limits through limits@openssh.com, which are then used instead.
func WithMaxDataLength(length int) ClientOption {
	withPktLen := WithMaxPacketLength(length + sshfx.MaxPacketLengthOverhead)

	return func(cl *Client) error {
		if err := withPktLen(cl); err != nil {
			return err
		}

		// This has to be cast to int64 to safely perform this test on 32-bit archs.
		if int64(length) > math.MaxUint32 {
			return fmt.Errorf("sftp: max data length must fit in a uint32: %d", length)
		}

		// Negative values will be stomped by the max with cl.maxDataLen.
		cl.maxDataLen = max(cl.maxDataLen, length)

		return nil
	}
}

// WithMaxPacketLength sets the maximum length of a packet that the client will accept.
//
// The maximum packet length can only be increased,
// if an attempt is made to set this value lower than it currently is,
// it will simply not perform any operation.
func WithMaxPacketLength(length int) ClientOption {
	return func(cl *Client) error {
		if int64(length) > math.MaxUint32 {
			return fmt.Errorf("sftp: max packet length must fit in a uint32: %d", length)
		}

		if length < 0 {
			// Short circuit to avoid a negative value handling during the cast to uint32.
			return nil
		}

		cl.maxPacket = max(cl.maxPacket, uint32(length))
		return nil
	}
}

// WithLogger sets the structured logger that the client reports session events to.
// By default, nothing is logged.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cl *Client) error {
		if logger == nil {
			return errors.New("sftp: logger cannot be nil")
		}

		cl.log = logger
		return nil
	}
}

// WithFailFast makes requests fail with a ResourceExhausted error when every request-id is already in flight,
// instead of waiting for one to be released.
func WithFailFast() ClientOption {
	return func(cl *Client) error {
		cl.failFast = true
		return nil
	}
}

// WithWriteTimeout sets a per-attempt deadline on each packet write,
// for transports that support SetWriteDeadline.
// A write that times out after making progress is retried after a short back-off,
// a write that makes no progress at all fails the request.
func WithWriteTimeout(timeout time.Duration) ClientOption {
	return func(cl *Client) error {
		if timeout < 0 {
			return fmt.Errorf("sftp: write timeout cannot be negative: %v", timeout)
		}

		cl.writeTimeout = timeout
		return nil
	}
}

// Client represents one SFTP session over a single byte stream.
// A client may be used concurrently from multiple goroutines,
// and any number of requests may be in flight at once, up to the max inflight setting.
//
// If the background response reader fails, every waiting and every later operation fails
// with an error of KindBackgroundTask, and the client must be closed and replaced.
type Client struct {
	conn *clientConn
	w    *writeEnd

	maxPacket    uint32
	maxDataLen   int
	maxInflight  int
	failFast     bool
	writeTimeout time.Duration
	log          *slog.Logger
	dial         dialPolicy

	// readLen and writeLen are the data lengths actually used, after negotiation.
	readLen  int
	writeLen int

	closer    func() error
	closeOnce sync.Once
	closeErr  error
}

// NewClientPipe creates a new SFTP client given a Reader and WriteCloser.
// This can be used for connecting an SFTP server over TCP/TLS, or by using the system's ssh client program.
//
// The given context is only used for the negotiation of init and version packets, and of limits.
func NewClientPipe(ctx context.Context, rd io.Reader, wr io.WriteCloser, opts ...ClientOption) (*Client, error) {
	cl := &Client{
		conn: newClientConn(rd, wr),

		maxPacket:   sshfx.DefaultMaxPacketLength,
		maxDataLen:  sshfx.DefaultMaxDataLength,
		maxInflight: defaultMaxInflight,
		log:         discardLogger,
	}

	for _, opt := range opts {
		if err := opt(cl); err != nil {
			return nil, err
		}
	}

	c := cl.conn
	c.log = cl.log
	c.maxPacket = cl.maxPacket
	c.writeTimeout = cl.writeTimeout

	exts, err := c.handshake(ctx)
	if err != nil {
		c.close()
		return nil, err
	}

	c.aux.exts = exts

	cl.log.Debug("sftp: handshake complete",
		slog.Int("version", sftpProtocolVersion),
		slog.Int("extensions", len(exts.Raw)),
	)

	c.ids, err = newIDPool(ctx, cl.maxInflight, cl.failFast)
	if err != nil {
		c.close()
		return nil, newError(KindHandshake, "request ids", err)
	}

	cl.w = newWriteEnd(c)

	c.resPool = sync.NewChanPool[*sshfx.RawPacket](cl.maxInflight)
	c.bufPool = sync.NewSlicePool[[]byte](cl.maxInflight, int(cl.maxPacket))
	c.pktPool = sync.NewPool[sshfx.RawPacket](cl.maxInflight)

	c.start()

	if err := cl.negotiateLimits(ctx); err != nil {
		cl.Close()
		return nil, err
	}

	return cl, nil
}

// negotiateLimits queries limits@openssh.com if the server supports it,
// and sizes the read and write chunks to fit.
func (cl *Client) negotiateLimits(ctx context.Context) error {
	limits := defaultLimits

	if cl.conn.aux.exts.Limits {
		pkt, err := getPacket[openssh.LimitsExtendedReplyPacket](ctx, cl.w, &openssh.LimitsExtendedPacket{})
		if err != nil {
			return newError(KindHandshake, "limits", err)
		}

		limits = Limits{
			PacketLen:   pkt.MaxPacketLength,
			ReadLen:     pkt.MaxReadLength,
			WriteLen:    pkt.MaxWriteLength,
			OpenHandles: pkt.MaxOpenHandles,
		}
	}

	cl.conn.aux.limits = limits

	cl.readLen = clampLen(cl.maxDataLen, limits.ReadLen, limits.PacketLen)
	cl.writeLen = clampLen(cl.maxDataLen, limits.WriteLen, limits.PacketLen)

	cl.log.Debug("sftp: negotiated limits",
		slog.Uint64("max_packet_length", limits.PacketLen),
		slog.Uint64("max_read_length", limits.ReadLen),
		slog.Uint64("max_write_length", limits.WriteLen),
		slog.Uint64("max_open_handles", limits.OpenHandles),
		slog.Int("read_chunk", cl.readLen),
		slog.Int("write_chunk", cl.writeLen),
	)

	return nil
}

// clampLen returns the client data length, lowered to fit the server data and packet lengths where those are declared.
func clampLen(client int, data, packet uint64) int {
	n := client

	if data > 0 && data < uint64(n) {
		n = int(data)
	}

	if packet > sshfx.MaxPacketLengthOverhead && packet-sshfx.MaxPacketLengthOverhead < uint64(n) {
		n = int(packet - sshfx.MaxPacketLengthOverhead)
	}

	return max(n, 1)
}

// Extensions returns the extensions that the server announced.
func (cl *Client) Extensions() Extensions {
	return cl.conn.aux.exts
}

// Limits returns the limits in effect for this session.
// If the server does not support limits@openssh.com, these are the protocol defaults.
func (cl *Client) Limits() Limits {
	return cl.conn.aux.limits
}

// Fs returns a new view of the remote filesystem, with its own working directory.
// Every Fs of a Client shares the same session, and the same spare request-id,
// so any number of them may be created without reserving capacity from the session.
func (cl *Client) Fs() *Fs {
	return &Fs{
		cl: cl,
		w:  cl.w,
	}
}

// ReportPoolMetrics writes buffer pool metrics to the given writer, if pool metrics are enabled.
// It is expected that this is only useful during testing, and benchmarking.
//
// To enable you must include `-tags sftp.sync.metrics` to your go command-line.
func (cl *Client) ReportPoolMetrics(wr io.Writer) {
	type poolMetrics interface {
		Hits() (hits, total uint64)
		Drops() uint64
	}

	report := func(name string, m poolMetrics) {
		hits, total := m.Hits()
		if total == 0 {
			return
		}
		fmt.Fprintf(wr, "%s hit rate: %d / %d = %f, dropped: %d\n", name, hits, total, float64(hits)/float64(total), m.Drops())
	}

	c := cl.conn
	if c.bufPool != nil {
		report("bufpool", c.bufPool)
	}
	if c.pktPool != nil {
		report("pktpool", c.pktPool)
	}
	if c.resPool != nil {
		report("respool", c.resPool)
	}
}

// Close closes the SFTP session, and the transport underneath it.
// Operations still waiting on a response fail with ErrClosed.
func (cl *Client) Close() error {
	cl.closeOnce.Do(func() {
		err := cl.conn.close()

		if cl.closer != nil {
			err = cmp.Or(cl.closer(), err)
		}

		cl.closeErr = err
	})

	return cl.closeErr
}

// Wait blocks until the background response reader has stopped.
// It returns nil if the reader stopped because the client was closed,
// otherwise it returns the failure that stopped it.
func (cl *Client) Wait() error {
	return cl.conn.wait()
}
