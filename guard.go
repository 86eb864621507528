package sftp

// taskGuard lets a caller waiting on a reply also observe the failure of the response reader.
//
// A taskGuard lives in the stack frame of a single wait, and is not safe for concurrent use.
// Once it has reported a failure, it keeps reporting the same failure.
type taskGuard struct {
	aux *auxiliary

	done <-chan struct{}
	err  error
}

// poll returns the failure cause if the reader has already terminated abnormally.
// Otherwise it starts listening for the signal on the first call, and returns nil.
func (g *taskGuard) poll() error {
	if g.err != nil {
		return g.err
	}

	if err := g.aux.err(); err != nil {
		g.err = err
		g.done = nil
		return err
	}

	if g.done == nil {
		g.done = g.aux.failed()
	}

	return nil
}

// fired returns a channel that is closed once the reader has failed.
// It is nil, and so blocks forever in a select, until poll has returned nil once.
func (g *taskGuard) fired() <-chan struct{} {
	return g.done
}
