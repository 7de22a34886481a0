package coordinator

import "sync/atomic"

// sequence numbers drain passes. Pass numbers are strictly increasing for
// the lifetime of a Coordinator and appear in logs, traces and reports.
type sequence struct {
	n atomic.Int64
}

func (s *sequence) next() int64 {
	return s.n.Add(1)
}

func (s *sequence) current() int64 {
	return s.n.Load()
}
