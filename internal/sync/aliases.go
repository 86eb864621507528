package sync

import (
	"sync"
)

// Mutex is an alias to [sync.Mutex]
type Mutex = sync.Mutex

// RWMutex is an alias to [sync.RWMutex]
type RWMutex = sync.RWMutex

// Once is an alias to [sync.Once]
type Once = sync.Once

// noCopy marks the pools as not to be copied after first use.
// It is recognized by the -copylocks checker of `go vet`.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
