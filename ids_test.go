package sftp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sshfx "github.com/pkg/sftpclient/encoding/ssh/filexfer"
	"github.com/pkg/sftpclient/encoding/ssh/filexfer/openssh"
)

func TestIDPoolDistinct(t *testing.T) {
	ctx := context.Background()

	p, err := newIDPool(ctx, 4, false)
	require.NoError(t, err)

	seen := make(map[uint32]bool)
	var ids []*requestID

	for range 4 {
		id, err := p.acquire(ctx)
		require.NoError(t, err)

		assert.False(t, seen[id.value()], "id %d handed out twice", id.value())
		seen[id.value()] = true
		ids = append(ids, id)
	}

	assert.Equal(t, 4, p.inflight())

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	_, err = p.acquire(tctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ids[0].release()

	id, err := p.acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids[0].value(), id.value())

	id.release()
	for _, id := range ids[1:] {
		id.release()
	}

	assert.Equal(t, 0, p.inflight())
}

func TestIDPoolFailFast(t *testing.T) {
	ctx := context.Background()

	p, err := newIDPool(ctx, 1, true)
	require.NoError(t, err)

	id, err := p.acquire(ctx)
	require.NoError(t, err)

	_, err = p.acquire(ctx)
	assert.ErrorIs(t, err, ErrResourceExhausted)
	assert.True(t, IsRetryable(err))

	id.release()

	id, err = p.acquire(ctx)
	require.NoError(t, err)
	id.release()
}

func TestParseExtensions(t *testing.T) {
	exts := parseExtensions([]*sshfx.ExtensionPair{
		openssh.ExtensionLimits(),
		openssh.ExtensionFSync(),
		{Name: "hardlink@openssh.com", Data: "2"}, // unknown version
		{Name: "statvfs@openssh.com", Data: "2"},
	})

	assert.True(t, exts.Limits)
	assert.True(t, exts.FSync)
	assert.False(t, exts.HardLink)
	assert.False(t, exts.ExpandPath)
	assert.True(t, exts.StatVFS)
	assert.Equal(t, "2", exts.Raw["hardlink@openssh.com"])
}

func TestClampLen(t *testing.T) {
	tests := []struct {
		client       int
		data, packet uint64
		want         int
	}{
		{32768, 0, 0, 32768},
		{32768, 1000, 0, 1000},
		{32768, 0, 2000, 2000 - sshfx.MaxPacketLengthOverhead},
		{32768, 0, 1000, 32768}, // packet limit too small to account for
		{100, 1000, 0, 100},
		{32768, 1, 0, 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, clampLen(tt.client, tt.data, tt.packet), "clampLen(%d, %d, %d)", tt.client, tt.data, tt.packet)
	}
}
