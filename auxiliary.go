package sftp

import (
	"context"

	"github.com/pkg/errors"

	sshfx "github.com/pkg/sftpclient/encoding/ssh/filexfer"
	"github.com/pkg/sftpclient/encoding/ssh/filexfer/openssh"
	"github.com/pkg/sftpclient/internal/sync"
)

// Extensions records which protocol extensions the server announced in its SSH_FXP_VERSION packet.
type Extensions struct {
	Limits      bool
	ExpandPath  bool
	FSync       bool
	HardLink    bool
	POSIXRename bool
	StatVFS     bool
	CopyData    bool

	// Raw holds every announced extension name mapped to its data.
	Raw map[string]string
}

func parseExtensions(pairs []*sshfx.ExtensionPair) Extensions {
	exts := Extensions{
		Raw: make(map[string]string, len(pairs)),
	}

	for _, pair := range pairs {
		exts.Raw[pair.Name] = pair.Data
	}

	has := func(ext *sshfx.ExtensionPair) bool {
		data, ok := exts.Raw[ext.Name]
		return ok && data == ext.Data
	}

	exts.Limits = has(openssh.ExtensionLimits())
	exts.ExpandPath = has(openssh.ExtensionExpandPath())
	exts.FSync = has(openssh.ExtensionFSync())
	exts.HardLink = has(openssh.ExtensionHardlink())
	exts.POSIXRename = has(openssh.ExtensionPOSIXRename())

	_, exts.StatVFS = exts.Raw["statvfs@openssh.com"]
	_, exts.CopyData = exts.Raw["copy-data"]

	return exts
}

// Limits are the server-declared limits on packet and data lengths, and on open handles.
// A zero value means the server did not declare a limit.
type Limits struct {
	PacketLen   uint64
	ReadLen     uint64
	WriteLen    uint64
	OpenHandles uint64
}

// defaultLimits are used when the server does not support limits@openssh.com.
var defaultLimits = Limits{
	ReadLen:  sshfx.DefaultMaxDataLength,
	WriteLen: sshfx.DefaultMaxDataLength,
}

// auxiliary is the state shared by every user of one session.
//
// The extensions and limits are written once before the Client is returned, and only read afterwards.
// The signal is a context that fail cancels exactly once, after which its cause is immutable.
type auxiliary struct {
	exts   Extensions
	limits Limits

	once   sync.Once
	signal context.Context
	cancel context.CancelCauseFunc
}

func newAuxiliary() *auxiliary {
	signal, cancel := context.WithCancelCause(context.Background())

	return &auxiliary{
		signal: signal,
		cancel: cancel,
	}
}

// fail sets the cancellation signal with the given cause.
// Only the first call has any effect.
func (a *auxiliary) fail(cause error) {
	a.once.Do(func() {
		if !errors.Is(cause, ErrClosed) {
			cause = newError(KindBackgroundTask, "", cause)
		}

		a.cancel(cause)
	})
}

// failed returns the channel that is closed when the signal is set.
func (a *auxiliary) failed() <-chan struct{} {
	return a.signal.Done()
}

// err returns the failure cause if the signal has been set, or nil.
func (a *auxiliary) err() error {
	if a.signal.Err() == nil {
		return nil
	}

	return context.Cause(a.signal)
}

// bind returns a copy of ctx that is also cancelled when the signal is set,
// and a func that must be called to release it.
func (a *auxiliary) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(a.signal, cancel)

	return ctx, func() {
		stop()
		cancel()
	}
}
