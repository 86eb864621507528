//go:build !sftp.sync.metrics

package sync

// metrics is a no-op unless the build tag "sftp.sync.metrics" is given.
type metrics struct{}

func (*metrics) hit()  {}
func (*metrics) miss() {}
func (*metrics) drop() {}

// Hits always returns 0, 0.
func (*metrics) Hits() (hits, total uint64) { return 0, 0 }

// Drops always returns 0.
func (*metrics) Drops() uint64 { return 0 }
