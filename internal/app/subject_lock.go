package app

import "sync"

// subjectLocks serializes mutations of one subject's cycle chain. Different
// subjects never contend.
type subjectLocks struct {
	locks sync.Map // map[int64]*sync.Mutex
}

// lock blocks until the subject's chain is free and returns the unlock func.
func (l *subjectLocks) lock(subjectID int64) func() {
	mu, _ := l.locks.LoadOrStore(subjectID, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}
