package sftp

import (
	"context"
	"io/fs"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	sshfx "github.com/pkg/sftpclient/encoding/ssh/filexfer"
)

// leakedCloseTimeout bounds how long a best-effort close of a discarded handle may wait for a request-id.
const leakedCloseTimeout = 30 * time.Second

// handleState is kept apart from its owner, so that a cleanup attached to the owner can still reach it.
type handleState struct {
	value  atomic.Pointer[string]
	closed chan struct{}
}

// ownedHandle owns a server-issued handle until it is closed.
//
// If its owning Dir or File becomes unreachable without being closed,
// a cleanup sends a fire-and-forget SSH_FXP_CLOSE, so the server-side handle slot is not leaked.
type ownedHandle struct {
	w     *writeEnd
	state *handleState

	cleanup runtime.Cleanup
}

func (h *ownedHandle) init(w *writeEnd, handle string) {
	h.w = w
	h.state = &handleState{
		closed: make(chan struct{}),
	}
	h.state.value.Store(&handle)
}

// attachCleanup arranges for the handle to be closed if owner is collected without Close having been called.
// The cleanup must not reference owner, or it would never run.
func attachCleanup[T any](owner *T, h *ownedHandle) {
	h.cleanup = runtime.AddCleanup(owner, closeLeaked, leakedHandle{
		conn:  h.w.conn,
		state: h.state,
	})
}

type leakedHandle struct {
	conn  *clientConn
	state *handleState
}

func closeLeaked(lh leakedHandle) {
	handle := lh.state.value.Swap(nil)
	if handle == nil {
		return
	}
	close(lh.state.closed)

	// Cleanups run on a shared goroutine, which must not block on the network.
	go func() {
		defer lh.conn.releaseHandle()

		ctx, cancel := context.WithTimeout(context.Background(), leakedCloseTimeout)
		defer cancel()

		err := lh.conn.sendDetached(ctx, &sshfx.ClosePacket{
			Handle: *handle,
		})

		lh.conn.log.Debug("sftp: closed discarded handle", slog.String("handle", *handle), slog.Any("error", err))
	}()
}

func (h *ownedHandle) get() (handle string, closed <-chan struct{}, err error) {
	p := h.state.value.Load()
	if p == nil {
		return "", nil, fs.ErrClosed
	}
	return *p, h.state.closed, nil
}

// close invalidates the handle, then sends SSH_FXP_CLOSE for it.
// Only the first call sends a request, every later call returns fs.ErrClosed.
//
// The server forgets the handle whether or not the close succeeds,
// so the handle is invalid after close returns in either case.
func (h *ownedHandle) close(ctx context.Context) error {
	handle := h.state.value.Swap(nil)
	if handle == nil {
		return fs.ErrClosed
	}

	h.cleanup.Stop()

	// After this, no new request is dispatched on the handle,
	// so the close below is the final request for it.
	close(h.state.closed)

	defer h.w.conn.releaseHandle()

	// The request-id is acquired without ctx, so a cancelled ctx still sends the SSH_FXP_CLOSE.
	pr, err := h.w.start(context.WithoutCancel(ctx), &sshfx.ClosePacket{
		Handle: *handle,
	})
	if err != nil {
		return err
	}

	raw, err := h.w.finish(ctx, pr)
	if err != nil {
		return err
	}

	return h.w.recvStatus(raw)
}
