package corpus

import "sync"

// Lock guards the corpus and the index files the pipeline derives from it.
// Ingestion rebuilds the whole index and holds it exclusively; queries only
// read the index and share it.
type Lock struct {
	mu sync.RWMutex
}

func (l *Lock) Ingesting() (release func()) {
	l.mu.Lock()
	return l.mu.Unlock
}

func (l *Lock) Reading() (release func()) {
	l.mu.RLock()
	return l.mu.RUnlock
}
