package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects transitions delivered to a subscriber.
type recorder struct {
	mu  sync.Mutex
	got []Transition
}

func (r *recorder) record(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, t)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.got))
	for i, t := range r.got {
		out[i] = t.To
	}
	return out
}

// countingSource counts Watch calls.
type countingSource struct {
	*ChannelSource
	mu    sync.Mutex
	calls int
}

func (s *countingSource) Watch(ctx context.Context) (<-chan bool, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.ChannelSource.Watch(ctx)
}

type failingSource struct{}

func (failingSource) Watch(context.Context) (<-chan bool, error) {
	return nil, errors.New("no network stack")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}

func TestMonitor_StartsOnFirstSubscribe(t *testing.T) {
	src := &countingSource{ChannelSource: NewChannelSource()}
	m := New(src)
	defer m.Close()

	assert.Equal(t, 0, src.calls)

	unsub1, err := m.Subscribe(func(Transition) {})
	require.NoError(t, err)
	defer unsub1()
	unsub2, err := m.Subscribe(func(Transition) {})
	require.NoError(t, err)
	defer unsub2()

	assert.Equal(t, 1, src.calls)
}

func TestMonitor_DeliversOnlyTransitions(t *testing.T) {
	src := NewChannelSource()
	m := New(src)
	defer m.Close()

	var rec recorder
	unsub, err := m.Subscribe(rec.record)
	require.NoError(t, err)
	defer unsub()

	for _, v := range []bool{true, true, false, false, true} {
		src.Set(v)
	}

	waitFor(t, func() bool { return len(rec.states()) == 3 })
	assert.Equal(t, []State{Connected, Disconnected, Connected}, rec.states())
	assert.Equal(t, Connected, m.State())

	rec.mu.Lock()
	first := rec.got[0]
	rec.mu.Unlock()
	assert.Equal(t, Unknown, first.From)
}

func TestMonitor_SubscribersCalledInOrder(t *testing.T) {
	src := NewChannelSource()
	m := New(src)
	defer m.Close()

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		unsub, err := m.Subscribe(func(Transition) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		})
		require.NoError(t, err)
		defer unsub()
	}

	src.Set(true)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestMonitor_UnsubscribeAffectsOnlyThatCallback(t *testing.T) {
	src := NewChannelSource()
	m := New(src)
	defer m.Close()

	var kept, dropped recorder
	unsubKept, err := m.Subscribe(kept.record)
	require.NoError(t, err)
	defer unsubKept()
	unsubDropped, err := m.Subscribe(dropped.record)
	require.NoError(t, err)

	src.Set(true)
	waitFor(t, func() bool { return len(dropped.states()) == 1 })

	unsubDropped()
	unsubDropped() // idempotent

	src.Set(false)
	waitFor(t, func() bool { return len(kept.states()) == 2 })
	assert.Len(t, dropped.states(), 1)
}

func TestMonitor_SubscribeFailsWhenSourceFails(t *testing.T) {
	m := New(failingSource{})
	_, err := m.Subscribe(func(Transition) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no network stack")
}

func TestMonitor_CloseIsIdempotent(t *testing.T) {
	m := New(NewChannelSource())
	_, err := m.Subscribe(func(Transition) {})
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err = m.Subscribe(func(Transition) {})
	require.Error(t, err)
}

func TestMonitor_CloseWithoutStart(t *testing.T) {
	m := New(NewChannelSource())
	assert.NoError(t, m.Close())
}

func TestMonitor_StampsTransitions(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	src := NewChannelSource()
	m := New(src, WithClock(func() time.Time { return at }))
	defer m.Close()

	var rec recorder
	_, err := m.Subscribe(rec.record)
	require.NoError(t, err)

	src.Set(false)
	waitFor(t, func() bool { return len(rec.states()) == 1 })
	assert.Equal(t, at, rec.got[0].At)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unknown", Unknown.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "disconnected", Disconnected.String())
}
