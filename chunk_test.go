package sftp

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func sizedBuffers(sizes ...int) [][]byte {
	bufs := make([][]byte, len(sizes))
	for i, size := range sizes {
		bufs[i] = bytes.Repeat([]byte{byte('a' + i)}, size)
	}
	return bufs
}

func TestTakeBuffers(t *testing.T) {
	tests := []struct {
		name   string
		bufs   [][]byte
		limit  int
		taken  int
		prefix int // number of whole buffers taken
		rest   int // length of the truncated buffer, -1 for nil
		ok     bool
	}{
		{
			name:   "split inside a buffer",
			bufs:   sizedBuffers(50, 50, 50),
			limit:  80,
			taken:  80,
			prefix: 1,
			rest:   30,
			ok:     true,
		},
		{
			name:   "exact boundary",
			bufs:   sizedBuffers(50, 50, 50),
			limit:  100,
			taken:  100,
			prefix: 2,
			rest:   -1,
			ok:     true,
		},
		{
			name:   "everything fits",
			bufs:   sizedBuffers(10, 20),
			limit:  100,
			taken:  30,
			prefix: 2,
			rest:   -1,
			ok:     true,
		},
		{
			name:   "first buffer larger than limit",
			bufs:   sizedBuffers(100),
			limit:  40,
			taken:  40,
			prefix: 0,
			rest:   40,
			ok:     true,
		},
		{
			name:   "leading empty buffer",
			bufs:   sizedBuffers(0, 10),
			limit:  5,
			taken:  5,
			prefix: 1,
			rest:   5,
			ok:     true,
		},
		{
			name:  "no buffers",
			bufs:  nil,
			limit: 10,
		},
		{
			name:  "only empty buffers",
			bufs:  sizedBuffers(0, 0),
			limit: 10,
		},
		{
			name:  "zero limit",
			bufs:  sizedBuffers(10),
			limit: 0,
		},
		{
			name:  "negative limit",
			bufs:  sizedBuffers(10),
			limit: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			taken, prefix, rest, ok := takeBuffers(tt.bufs, tt.limit)

			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.taken, taken)
			assert.Len(t, prefix, tt.prefix)

			if tt.rest < 0 {
				assert.Nil(t, rest)
			} else {
				assert.Len(t, rest, tt.rest)
				assert.Equal(t, len(rest), cap(rest), "rest must not allow appends into the caller's buffer")
			}
		})
	}
}

func TestTakeBuffersDoesNotMutate(t *testing.T) {
	bufs := sizedBuffers(50, 50, 50)
	want := sizedBuffers(50, 50, 50)

	for {
		taken, _, _, ok := takeBuffers(bufs, 80)
		if !ok {
			break
		}
		bufs = advanceBuffers(bufs, taken)
	}

	assert.Empty(t, bufs)

	orig := sizedBuffers(50, 50, 50)
	takeBuffers(orig, 80)
	advanceBuffers(orig, 80)

	if diff := cmp.Diff(want, orig); diff != "" {
		t.Errorf("buffers were modified (-want +got):\n%s", diff)
	}
}

func TestAdvanceBuffers(t *testing.T) {
	bufs := [][]byte{[]byte("abc"), []byte("de")}

	assert.Equal(t, bufs, advanceBuffers(bufs, 0))
	assert.Equal(t, [][]byte{[]byte("bc"), []byte("de")}, advanceBuffers(bufs, 1))
	assert.Equal(t, [][]byte{[]byte("de")}, advanceBuffers(bufs, 3))
	assert.Equal(t, [][]byte{[]byte("e")}, advanceBuffers(bufs, 4))
	assert.Empty(t, advanceBuffers(bufs, 5))
}

func FuzzTakeBuffers(f *testing.F) {
	f.Add([]byte{50, 50, 50}, uint16(80))
	f.Add([]byte{0, 10, 0}, uint16(5))
	f.Add([]byte{}, uint16(1))
	f.Add([]byte{255, 1}, uint16(0))

	f.Fuzz(func(t *testing.T, sizes []byte, limit uint16) {
		ints := make([]int, len(sizes))
		for i, size := range sizes {
			ints[i] = int(size)
		}
		bufs := sizedBuffers(ints...)

		var want []byte
		for _, b := range bufs {
			want = append(want, b...)
		}

		var got []byte
		var chunks int

		for {
			taken, prefix, rest, ok := takeBuffers(bufs, int(limit))
			if !ok {
				break
			}

			if taken <= 0 || taken > int(limit) {
				t.Fatalf("took %d bytes with a limit of %d", taken, limit)
			}

			var chunk []byte
			for _, b := range prefix {
				chunk = append(chunk, b...)
			}
			chunk = append(chunk, rest...)

			if len(chunk) != taken {
				t.Fatalf("chunk of %d bytes reported as %d", len(chunk), taken)
			}

			got = append(got, chunk...)
			chunks++

			bufs = advanceBuffers(bufs, taken)
		}

		if limit == 0 {
			if chunks != 0 {
				t.Fatalf("took %d chunks with a zero limit", chunks)
			}
			return
		}

		if !bytes.Equal(want, got) {
			t.Fatalf("reassembled bytes differ: want %d bytes, got %d bytes", len(want), len(got))
		}

		if wantChunks := (len(want) + int(limit) - 1) / int(limit); chunks != wantChunks {
			t.Fatalf("got %d chunks, want %d", chunks, wantChunks)
		}
	})
}
