package connectivity

import (
	"context"
	"net/http"
	"time"
)

// ChannelSource is a Source driven by calls to Set.
type ChannelSource struct {
	ch chan bool
}

// NewChannelSource creates a source with a small buffer so Set does not block
// on a busy monitor.
func NewChannelSource() *ChannelSource {
	return &ChannelSource{ch: make(chan bool, 16)}
}

// Set reports the current reachability.
func (s *ChannelSource) Set(reachable bool) {
	s.ch <- reachable
}

func (s *ChannelSource) Watch(context.Context) (<-chan bool, error) {
	return s.ch, nil
}

// ProbeSource reports reachability of a URL by probing it on an interval.
// Any HTTP response below 500 counts as reachable.
type ProbeSource struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Client   *http.Client
}

// NewProbeSource creates a probe with a per-probe timeout of half the
// interval.
func NewProbeSource(url string, interval time.Duration) *ProbeSource {
	return &ProbeSource{
		URL:      url,
		Interval: interval,
		Timeout:  interval / 2,
		Client:   http.DefaultClient,
	}
}

func (s *ProbeSource) Watch(ctx context.Context) (<-chan bool, error) {
	out := make(chan bool, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case out <- s.probe(ctx):
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *ProbeSource) probe(ctx context.Context) bool {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.URL, nil)
	if err != nil {
		return false
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
