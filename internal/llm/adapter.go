package llm

import "context"

// Adapter turns a transcript into a stream of reply fragments.
//
// Generate never fails synchronously: connection, status and load errors
// are surfaced as a final annotation fragment and reported by Stream.Err.
type Adapter interface {
	Name() string
	Generate(ctx context.Context, transcript []Message, modelID string, s Settings) Stream
}

// Selector maps a configured backend to its adapter.
type Selector struct {
	mock   Adapter
	remote Adapter
	local  Adapter
}

func NewSelector(mock, remote, local Adapter) *Selector {
	return &Selector{mock: mock, remote: remote, local: local}
}

// For returns the adapter for b. Unknown backends fall back to the remote adapter.
func (s *Selector) For(b Backend) Adapter {
	switch b {
	case BackendMock:
		return s.mock
	case BackendLocal:
		return s.local
	default:
		return s.remote
	}
}
