package sync

// freeList is the channel-backed free list underneath each of the pools.
// Unlike the standard library Pool, items are never released by the garbage collector,
// and are handed out again in round-robin order.
type freeList[V any] struct {
	noCopy noCopy

	metrics

	ch chan V
}

func (l *freeList[V]) take() (v V, ok bool) {
	select {
	case v = <-l.ch:
		l.hit()
		return v, true

	default:
		l.miss()
		return v, false
	}
}

func (l *freeList[V]) give(v V) {
	select {
	case l.ch <- v:
	default:
		l.drop()
	}
}

// SlicePool is a free list of byte-slice style buffers.
// The client uses it to recycle the buffers that responses are read into.
//
// A SlicePool is safe for use by multiple goroutines simultaneously.
type SlicePool[S []T, T any] struct {
	freeList[S]

	length int
}

// NewSlicePool returns a [SlicePool] set to hold onto depth number of items,
// and discard any slice with a capacity greater than the cull length.
//
// It will panic if given a negative depth, the same as making a negative-buffer channel.
// It will also panic if given a zero or negative cull length.
func NewSlicePool[S []T, T any](depth, cullLength int) *SlicePool[S, T] {
	if cullLength <= 0 {
		panic("sftp: bufPool: cull length must be greater than zero")
	}

	p := &SlicePool[S, T]{
		length: cullLength,
	}
	p.ch = make(chan S, depth)

	return p
}

// Get retrieves a slice from the pool, re-extended to its full capacity.
// If the pool is empty, it returns a nil slice,
// leaving the packet reader to allocate exactly the size it needs.
//
// A nil SlicePool is treated as an empty pool.
func (p *SlicePool[S, T]) Get() S {
	if p == nil {
		return nil
	}

	b, ok := p.take()
	if !ok {
		return nil
	}

	return b[:cap(b)]
}

// Put adds the slice to the pool, if there is room in the pool,
// and if the capacity of the slice does not exceed the cull length.
// A single oversized response is thus never pinned in memory.
//
// A nil SlicePool is treated as a pool with no capacity.
func (p *SlicePool[S, T]) Put(b S) {
	if p == nil {
		return
	}

	if cap(b) > p.length {
		p.drop()
		return
	}

	p.give(b)
}

// Pool is a free list of pointers to items.
// The client uses it to recycle the raw response packets.
//
// A Pool is safe for use by multiple goroutines simultaneously.
type Pool[T any] struct {
	freeList[*T]
}

// NewPool returns a [Pool] set to hold onto depth number of pointers to the given type.
//
// It will panic if given a negative depth, the same as making a negative-buffer channel.
func NewPool[T any](depth int) *Pool[T] {
	p := new(Pool[T])
	p.ch = make(chan *T, depth)

	return p
}

// Get returns a pooled item, or a newly allocated one if the pool is empty.
//
// A nil Pool always allocates.
func (p *Pool[T]) Get() *T {
	if p == nil {
		return new(T)
	}

	if v, ok := p.take(); ok {
		return v
	}

	return new(T)
}

// Put zeroes the item, and then adds it to the pool, if there is room in the pool.
//
// A nil Pool is treated as a pool with no capacity.
func (p *Pool[T]) Put(v *T) {
	if p == nil {
		return
	}

	var z T
	*v = z // shallow zero.

	p.give(v)
}

// ChanPool is a free list of single-use reply channels, each with a buffer of 1.
//
// A ChanPool is filled to capacity at creation, so that a steady number of in-flight requests never allocates.
// A channel must only be put back once it is empty, and no sender still holds it.
type ChanPool[T any] struct {
	freeList[chan T]
}

// NewChanPool returns a [ChanPool] holding depth channels of the given type.
//
// It will panic if given a negative depth, the same as making a negative-buffer channel.
func NewChanPool[T any](depth int) *ChanPool[T] {
	p := new(ChanPool[T])
	p.ch = make(chan chan T, depth)

	for len(p.ch) < cap(p.ch) {
		p.ch <- make(chan T, 1)
	}

	return p
}

// Get retrieves a channel from the pool, or makes a new one if the pool is empty.
//
// A nil ChanPool always makes a new channel.
func (p *ChanPool[T]) Get() chan T {
	if p == nil {
		return make(chan T, 1)
	}

	if v, ok := p.take(); ok {
		return v
	}

	return make(chan T, 1)
}

// Put returns the given channel to the pool, if there is room in the pool.
//
// A nil ChanPool simply discards channels.
func (p *ChanPool[T]) Put(v chan T) {
	if p == nil {
		return
	}

	p.give(v)
}
