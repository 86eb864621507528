package sftp

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"

	sshfx "github.com/pkg/sftpclient/encoding/ssh/filexfer"
)

// writeEnd sends requests over a clientConn, keeping one spare request-id between calls.
//
// Strictly sequential use never touches the id pool after the first request.
// Overlapping calls find the spare already taken, and fall back to the pool.
type writeEnd struct {
	conn *clientConn

	cached atomic.Pointer[requestID]
}

func newWriteEnd(conn *clientConn) *writeEnd {
	return &writeEnd{
		conn: conn,
	}
}

func (w *writeEnd) acquire(ctx context.Context) (*requestID, error) {
	if id := w.cached.Swap(nil); id != nil {
		return id, nil
	}

	return w.conn.acquireID(ctx)
}

// keep holds onto id as the spare, or releases it to the pool if a spare is already held.
func (w *writeEnd) keep(id *requestID) {
	if id == nil {
		return
	}

	if !w.cached.CompareAndSwap(nil, id) {
		id.release()
	}
}

// release gives the spare id, if any, back to the pool.
func (w *writeEnd) release() {
	if id := w.cached.Swap(nil); id != nil {
		id.release()
	}
}

// start dispatches req, and returns the pending reply to be passed to finish.
func (w *writeEnd) start(ctx context.Context, req sshfx.PacketMarshaller) (*pendingReply, error) {
	id, err := w.acquire(ctx)
	if err != nil {
		return nil, err
	}

	pr, err := w.conn.dispatch(id, req)
	if err != nil {
		w.keep(id)
		return nil, err
	}

	return pr, nil
}

// finish waits for the response to a request started with start.
// The caller must pass the returned packet to returnRaw once it is done with it.
func (w *writeEnd) finish(ctx context.Context, pr *pendingReply) (*sshfx.RawPacket, error) {
	raw, id, err := w.conn.await(ctx, pr)
	w.keep(id)

	return raw, err
}

func (w *writeEnd) send(ctx context.Context, req sshfx.PacketMarshaller) (*sshfx.RawPacket, error) {
	pr, err := w.start(ctx, req)
	if err != nil {
		return nil, err
	}

	return w.finish(ctx, pr)
}

type respPacket[PKT any] interface {
	*PKT
	sshfx.Packet
}

// getPacket sends req, and decodes the response as a PKT.
// An SSH_FXP_STATUS response is converted into an error.
func getPacket[PKT any, P respPacket[PKT]](ctx context.Context, w *writeEnd, req sshfx.PacketMarshaller) (*PKT, error) {
	raw, err := w.send(ctx, req)
	if err != nil {
		return nil, err
	}
	defer w.conn.returnRaw(raw)

	var resp P

	switch raw.PacketType {
	case resp.Type():
		resp = new(PKT)
		if err := resp.UnmarshalPacketBody(&raw.Data); err != nil {
			return nil, newError(KindCodec, raw.PacketType.String(), err)
		}

		return resp, nil

	case sshfx.PacketTypeStatus:
		var status sshfx.StatusPacket
		if err := status.UnmarshalPacketBody(&raw.Data); err != nil {
			return nil, newError(KindCodec, raw.PacketType.String(), err)
		}

		return nil, statusToError(&status, false)

	default:
		return nil, unexpectedPacket(raw.PacketType)
	}
}

// recvStatus decodes an SSH_FXP_STATUS response.
func (w *writeEnd) recvStatus(raw *sshfx.RawPacket) error {
	defer w.conn.returnRaw(raw)

	switch raw.PacketType {
	case sshfx.PacketTypeStatus:
		var status sshfx.StatusPacket
		if err := status.UnmarshalPacketBody(&raw.Data); err != nil {
			return newError(KindCodec, raw.PacketType.String(), err)
		}

		return statusToError(&status, true)

	default:
		return unexpectedPacket(raw.PacketType)
	}
}

// sendPacket sends req, and expects an SSH_FXP_STATUS response.
func (w *writeEnd) sendPacket(ctx context.Context, req sshfx.PacketMarshaller) error {
	raw, err := w.send(ctx, req)
	if err != nil {
		return err
	}

	return w.recvStatus(raw)
}

// recvData decodes an SSH_FXP_DATA response into resp, which may hold a hint buffer in resp.Data.
func (w *writeEnd) recvData(raw *sshfx.RawPacket, resp *sshfx.DataPacket) (int, error) {
	defer w.conn.returnRaw(raw)

	switch raw.PacketType {
	case sshfx.PacketTypeData:
		if err := resp.UnmarshalPacketBody(&raw.Data); err != nil {
			return 0, newError(KindCodec, raw.PacketType.String(), err)
		}
		return len(resp.Data), nil

	case sshfx.PacketTypeStatus:
		var status sshfx.StatusPacket
		if err := status.UnmarshalPacketBody(&raw.Data); err != nil {
			return 0, newError(KindCodec, raw.PacketType.String(), err)
		}

		return 0, statusToError(&status, false)

	default:
		return 0, unexpectedPacket(raw.PacketType)
	}
}

func unexpectedPacket(typ sshfx.PacketType) error {
	return newError(KindCodec, "", errors.Errorf("unexpected packet type: %s", typ))
}
