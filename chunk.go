package sftp

// takeBuffers splits the leading limit bytes off of an ordered list of buffers.
//
// Whole buffers are taken into prefix while the running total stays within limit.
// The first buffer that would exceed limit is truncated to the bytes still allowed, and returned as rest.
// Buffers after that point are not taken, and should be offered again on the next call.
// If limit falls exactly on a buffer boundary, rest is nil.
//
// It returns ok == false when there is nothing to take:
// the buffers hold no bytes at all, or limit is not positive.
func takeBuffers(bufs [][]byte, limit int) (taken int, prefix [][]byte, rest []byte, ok bool) {
	if limit <= 0 {
		return 0, nil, nil, false
	}

	var total int
	for _, b := range bufs {
		total += len(b)
	}

	if total == 0 {
		return 0, nil, nil, false
	}

	for i, b := range bufs {
		if taken+len(b) > limit {
			if n := limit - taken; n > 0 {
				rest = b[:n:n]
				taken += n
			}

			return taken, bufs[:i:i], rest, true
		}

		taken += len(b)
	}

	return taken, bufs, nil, true
}

// advanceBuffers drops n leading bytes from bufs, as consumed by a write.
// It does not modify the buffers themselves, only which are referenced.
func advanceBuffers(bufs [][]byte, n int) [][]byte {
	for len(bufs) > 0 && n >= len(bufs[0]) {
		n -= len(bufs[0])
		bufs = bufs[1:]
	}

	if len(bufs) > 0 && n > 0 {
		bufs = append([][]byte{bufs[0][n:]}, bufs[1:]...)
	}

	return bufs
}
