package llm

import (
	"context"
	"io"
	"sync"
)

// Stream yields the text fragments of one assistant reply.
//
// Recv returns io.EOF when the reply is finished or the generation was
// cancelled. Once the context passed to Generate is done, Recv never
// returns another fragment, even if one was already buffered.
type Stream interface {
	Recv() (string, error)
	// Err reports why the producer stopped early. The failure is also
	// visible in the reply text as an annotation fragment.
	Err() error
	Close() error
}

// EmitFunc hands one fragment to the consumer. It returns false once the
// consumer has gone away and the producer should stop.
type EmitFunc func(fragment string) bool

type channelStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	frags  <-chan string

	mu  sync.Mutex
	err error
}

// NewStream runs produce in its own goroutine and exposes its fragments
// as a pull-based Stream. Empty fragments are dropped.
func NewStream(ctx context.Context, produce func(ctx context.Context, emit EmitFunc) error) Stream {
	streamCtx, cancel := context.WithCancel(ctx)
	ch := make(chan string)
	s := &channelStream{ctx: streamCtx, cancel: cancel, frags: ch}

	emit := func(fragment string) bool {
		if fragment == "" {
			return streamCtx.Err() == nil
		}
		select {
		case <-streamCtx.Done():
			return false
		case ch <- fragment:
			return true
		}
	}

	go func() {
		defer close(ch)
		if err := produce(streamCtx, emit); err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()
	return s
}

func (s *channelStream) Recv() (string, error) {
	if s.ctx.Err() != nil {
		return "", io.EOF
	}
	select {
	case <-s.ctx.Done():
		return "", io.EOF
	case frag, ok := <-s.frags:
		if !ok || s.ctx.Err() != nil {
			return "", io.EOF
		}
		return frag, nil
	}
}

func (s *channelStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *channelStream) Close() error {
	s.cancel()
	return nil
}

// Collect drains a stream into a single string.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var out []byte
	for {
		frag, err := s.Recv()
		if err == io.EOF {
			return string(out), s.Err()
		}
		if err != nil {
			return string(out), err
		}
		out = append(out, frag...)
	}
}
