package sftp

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestTaskGuard(t *testing.T) {
	aux := newAuxiliary()
	g := taskGuard{aux: aux}

	assert.Nil(t, g.fired(), "not listening before the first poll")

	require.NoError(t, g.poll())
	require.NotNil(t, g.fired())
	assert.False(t, isClosed(g.fired()))

	cause := errors.New("stream reset")
	aux.fail(cause)

	assert.True(t, isClosed(g.fired()))

	err := g.poll()
	assert.ErrorIs(t, err, ErrBackgroundTaskFailure)
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, err, g.poll(), "the failure is sticky")
}

func TestTaskGuardAfterFailure(t *testing.T) {
	aux := newAuxiliary()
	aux.fail(errors.New("stream reset"))

	g := taskGuard{aux: aux}

	assert.ErrorIs(t, g.poll(), ErrBackgroundTaskFailure)
	assert.Nil(t, g.fired())
}

func TestAuxiliaryFailsOnce(t *testing.T) {
	aux := newAuxiliary()
	assert.NoError(t, aux.err())

	aux.fail(ErrClosed)
	aux.fail(errors.New("late"))

	err := aux.err()
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, KindUnknown, KindOf(err), "a local close is not a background failure")
}

func TestAuxiliaryBind(t *testing.T) {
	aux := newAuxiliary()

	ctx, release := aux.bind(context.Background())
	defer release()

	assert.NoError(t, ctx.Err())

	aux.fail(errors.New("stream reset"))

	assert.Eventually(t, func() bool {
		return ctx.Err() != nil
	}, 5*time.Second, time.Millisecond)
}
