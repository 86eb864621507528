package sftp

import (
	"context"
	"sync/atomic"

	"github.com/jackc/puddle/v2"
	"github.com/pkg/errors"
)

// requestID is a request-id leased from an idPool.
// It must not be used after it has been released.
type requestID struct {
	res *puddle.Resource[uint32]
}

func (id *requestID) value() uint32 {
	return id.res.Value()
}

func (id *requestID) release() {
	id.res.Release()
}

// idPool hands out request-ids for in-flight requests.
//
// The pool holds exactly maxInflight ids, all created up front,
// so the number of ids leased at any one time bounds how many requests can be pipelined.
// An id is never handed out again until it has been released.
type idPool struct {
	pool     *puddle.Pool[uint32]
	failFast bool
}

func newIDPool(ctx context.Context, size int, failFast bool) (*idPool, error) {
	var next atomic.Uint32

	pool, err := puddle.NewPool(&puddle.Config[uint32]{
		Constructor: func(ctx context.Context) (uint32, error) {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			return next.Add(1), nil
		},
		Destructor: func(uint32) {},
		MaxSize:    int32(size),
	})
	if err != nil {
		return nil, err
	}

	for range size {
		if err := pool.CreateResource(ctx); err != nil {
			return nil, err
		}
	}

	return &idPool{
		pool:     pool,
		failFast: failFast,
	}, nil
}

// acquire leases an id, blocking until one is available or ctx is done.
// In fail-fast mode, it returns a ResourceExhausted error instead of blocking.
func (p *idPool) acquire(ctx context.Context) (*requestID, error) {
	if p.failFast {
		res, err := p.pool.TryAcquire(ctx)
		if err != nil {
			if errors.Is(err, puddle.ErrNotAvailable) {
				return nil, newError(KindResourceExhausted, "acquire request id", errors.New("all request ids are in flight"))
			}
			return nil, err
		}

		return &requestID{res: res}, nil
	}

	res, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	return &requestID{res: res}, nil
}

// inflight returns the number of ids currently leased.
func (p *idPool) inflight() int {
	return int(p.pool.Stat().AcquiredResources())
}
