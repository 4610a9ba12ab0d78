package syncengine

import "sync"

// lanes serializes work per key. Each busy key owns one goroutine that drains its jobs in
// arrival order and exits once the key has nothing pending.
type lanes struct {
	mu     sync.Mutex
	queues map[string]*lane
}

type lane struct {
	jobs    chan func()
	pending int // guarded by lanes.mu
}

func newLanes() *lanes {
	return &lanes{queues: make(map[string]*lane)}
}

// do runs fn on key's lane and waits for its result.
// fn must not call do for the same key.
func (l *lanes) do(key string, fn func() error) error {
	res := make(chan error, 1)
	l.enqueue(key, func() { res <- fn() })
	return <-res
}

func (l *lanes) enqueue(key string, job func()) {
	l.mu.Lock()
	q, ok := l.queues[key]
	if !ok {
		q = &lane{jobs: make(chan func(), 16)}
		l.queues[key] = q
		go l.drain(key, q)
	}
	q.pending++
	l.mu.Unlock()

	q.jobs <- job
}

func (l *lanes) drain(key string, q *lane) {
	for job := range q.jobs {
		job()

		l.mu.Lock()
		q.pending--
		if q.pending == 0 {
			delete(l.queues, key)
			l.mu.Unlock()
			return
		}
		l.mu.Unlock()
	}
}

// busy reports the number of keys with pending work.
func (l *lanes) busy() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues)
}
