package sftp

import (
	"context"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sshfx "github.com/pkg/sftpclient/encoding/ssh/filexfer"
	"github.com/pkg/sftpclient/encoding/ssh/filexfer/openssh"
)

func TestRelativePaths(t *testing.T) {
	ctx := context.Background()

	srv := newFakeServer(t)
	srv.writeFile("/tmp/a", []byte("a"))

	cl := srv.start()
	fsys := cl.Fs()
	assert.Equal(t, "", fsys.Cwd())

	require.NoError(t, fsys.SetCwd(ctx, "/tmp"))

	fi, err := fsys.Stat(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", fi.Name())

	require.NoError(t, fsys.SetCwd(ctx, "sub/.."))
	assert.Equal(t, "/tmp", fsys.Cwd())

	require.NoError(t, fsys.SetCwd(ctx, "~"))
	assert.Equal(t, fakeHome, fsys.Cwd())

	_, err = fsys.Stat(ctx, "x")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, paths := srv.seen(sshfx.PacketTypeStat)
	assert.Equal(t, []string{"/tmp/a", fakeHome + "/x"}, paths)

	other := cl.Fs()
	assert.Equal(t, "", other.Cwd(), "each Fs has its own working directory")
	require.NoError(t, other.Close())
}

func TestExpandPathUnsupported(t *testing.T) {
	ctx := context.Background()

	srv := newFakeServer(t)
	srv.exts = []*sshfx.ExtensionPair{openssh.ExtensionLimits()}

	cl := srv.start()
	fsys := cl.Fs()

	_, err := fsys.ExpandPath(ctx, "~")
	assert.ErrorIs(t, err, sshfx.StatusOPUnsupported)

	p, err := fsys.RealPath(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, fakeHome+"/docs", p)
}

func TestReadDirSorted(t *testing.T) {
	ctx := context.Background()

	srv := newFakeServer(t)
	srv.readDirBatch = 1
	srv.writeFile("/d/zeta", nil)
	srv.writeFile("/d/alpha", []byte("1234"))
	srv.mkdir("/d/mid")

	cl := srv.start()
	fsys := cl.Fs()

	ents, err := fsys.ReadDir(ctx, "/d")
	require.NoError(t, err)

	var names []string
	for _, ent := range ents {
		names = append(names, ent.Name())
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)

	assert.True(t, ents[1].IsDir())

	fi, err := ents[0].Info()
	require.NoError(t, err)
	assert.Equal(t, int64(4), fi.Size())

	assert.Equal(t, 0, srv.openHandles())
}

func TestMkdirAllAndRemove(t *testing.T) {
	ctx := context.Background()

	srv := newFakeServer(t)
	srv.writeFile("/x/file", []byte("x"))

	cl := srv.start()
	fsys := cl.Fs()

	require.NoError(t, fsys.MkdirAll(ctx, "/x/y/z", 0o755))

	fi, err := fsys.Stat(ctx, "/x/y/z")
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	require.NoError(t, fsys.MkdirAll(ctx, "/x/y", 0o755), "existing directories are fine")
	assert.Error(t, fsys.MkdirAll(ctx, "/x/file", 0o755))

	require.NoError(t, fsys.Remove(ctx, "/x/y/z"))
	require.NoError(t, fsys.Remove(ctx, "/x/file"))

	_, err = fsys.Lstat(ctx, "/x/file")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	err = fsys.Remove(ctx, "/x/nope")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestWalk(t *testing.T) {
	ctx := context.Background()

	srv := newFakeServer(t)
	srv.writeFile("/w/a", []byte("a"))
	srv.writeFile("/w/d/b", []byte("b"))

	cl := srv.start()
	fsys := cl.Fs()

	var paths []string

	walker := fsys.Walk(ctx, "/w")
	for walker.Step() {
		require.NoError(t, walker.Err())
		paths = append(paths, walker.Path())
	}

	assert.Equal(t, []string{"/w", "/w/a", "/w/d", "/w/d/b"}, paths)
	assert.Equal(t, 0, srv.openHandles())
}

func TestWriteFileReplaces(t *testing.T) {
	ctx := context.Background()

	srv := newFakeServer(t)
	srv.writeFile("/f", []byte("previous contents"))

	cl := srv.start()
	fsys := cl.Fs()

	require.NoError(t, fsys.WriteFile(ctx, "/f", []byte("new"), 0o644))

	got, err := fsys.ReadFile(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}
