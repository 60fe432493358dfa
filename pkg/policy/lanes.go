package policy

import "sync"

// keyLanes serializes background network writes per key: jobs for one key
// run FIFO in a single goroutine while different keys proceed
// independently. This keeps a slow earlier write from being clobbered by a
// faster later one without serializing writes globally.
type keyLanes[ID comparable] struct {
	mu      sync.Mutex
	queues  map[ID][]func()
	running map[ID]bool
	wg      sync.WaitGroup
}

func newKeyLanes[ID comparable]() *keyLanes[ID] {
	return &keyLanes[ID]{
		queues:  make(map[ID][]func()),
		running: make(map[ID]bool),
	}
}

// enqueue schedules job on the key's lane, spawning the lane worker when
// none is running.
func (l *keyLanes[ID]) enqueue(key ID, job func()) {
	l.mu.Lock()
	l.queues[key] = append(l.queues[key], job)
	if l.running[key] {
		l.mu.Unlock()
		return
	}
	l.running[key] = true
	l.wg.Add(1)
	l.mu.Unlock()

	go l.drain(key)
}

// enqueueWait schedules job and blocks until it has run. Synchronous write
// policies use it so their network call still honors queue order for the key.
func (l *keyLanes[ID]) enqueueWait(key ID, job func()) {
	done := make(chan struct{})
	l.enqueue(key, func() {
		defer close(done)
		job()
	})
	<-done
}

func (l *keyLanes[ID]) drain(key ID) {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		queue := l.queues[key]
		if len(queue) == 0 {
			delete(l.queues, key)
			delete(l.running, key)
			l.mu.Unlock()
			return
		}
		job := queue[0]
		l.queues[key] = queue[1:]
		l.mu.Unlock()

		job()
	}
}

// wait blocks until every lane has drained.
func (l *keyLanes[ID]) wait() {
	l.wg.Wait()
}
