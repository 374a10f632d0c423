package llm

import (
	"context"
	"io"
	"sync"
)

// fragmentQueue bridges a callback-driven producer to a pull-based consumer.
// At most one consumer and one producer may be parked at a time; each is
// woken through a single-use channel.
type fragmentQueue struct {
	mu    sync.Mutex
	items []string
	limit int
	done  bool
	err   error
	ready chan struct{} // parked consumer
	space chan struct{} // parked producer
}

func newFragmentQueue(limit int) *fragmentQueue {
	return &fragmentQueue{limit: limit}
}

// push enqueues a fragment, blocking while the queue is full. It returns
// false if ctx ends first or the queue is already finished.
func (q *fragmentQueue) push(ctx context.Context, frag string) bool {
	if frag == "" {
		return true
	}
	for {
		q.mu.Lock()
		if q.done {
			q.mu.Unlock()
			return false
		}
		if q.limit <= 0 || len(q.items) < q.limit {
			q.items = append(q.items, frag)
			q.wake(&q.ready)
			q.mu.Unlock()
			return true
		}
		wait := make(chan struct{})
		q.space = wait
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return false
		case <-wait:
		}
	}
}

// pop returns the next fragment, io.EOF once the producer finished and the
// queue drained, or ctx's error if ctx ends while waiting.
func (q *fragmentQueue) pop(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			frag := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			q.wake(&q.space)
			q.mu.Unlock()
			return frag, nil
		}
		if q.done {
			q.mu.Unlock()
			return "", io.EOF
		}
		wait := make(chan struct{})
		q.ready = wait
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-wait:
		}
	}
}

// finish marks the producer as done. Later calls are ignored.
func (q *fragmentQueue) finish(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.done {
		return
	}
	q.done = true
	q.err = err
	q.wake(&q.ready)
	q.wake(&q.space)
}

func (q *fragmentQueue) failure() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// wake releases a parked waiter. Caller holds q.mu.
func (q *fragmentQueue) wake(ch *chan struct{}) {
	if *ch != nil {
		close(*ch)
		*ch = nil
	}
}

// queueStream exposes a fragmentQueue as a Stream.
type queueStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	queue  *fragmentQueue
}

func (s *queueStream) Recv() (string, error) {
	if s.ctx.Err() != nil {
		return "", io.EOF
	}
	frag, err := s.queue.pop(s.ctx)
	if err != nil || s.ctx.Err() != nil {
		return "", io.EOF
	}
	return frag, nil
}

func (s *queueStream) Err() error {
	return s.queue.failure()
}

func (s *queueStream) Close() error {
	s.cancel()
	return nil
}
