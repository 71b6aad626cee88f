package broadcast

import (
	"encoding/json"
	"sync"
	"testing"

	"acctmonitor/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newBroadcaster() (*Broadcaster, *Registry) {
	reg := NewRegistry(metrics.New(prometheus.NewRegistry()))
	return NewBroadcaster(reg, nil, zap.NewNop()), reg
}

// go test -v --run TestRegisterUnregister
func TestRegisterUnregister(t *testing.T) {
	reg := NewRegistry(nil)
	s := NewSubscription(4)
	assert.NotEmpty(t, s.ID())

	assert.True(t, reg.Register(s))
	assert.False(t, reg.Register(s), "duplicate register is a no-op")
	assert.Equal(t, 1, reg.Len())

	assert.True(t, reg.Unregister(s))
	assert.False(t, reg.Unregister(s), "second unregister is a no-op")
	assert.True(t, s.Closed())

	assert.False(t, reg.Register(s), "closed handle cannot be registered again")
	assert.Equal(t, 0, reg.Len())
}

// go test -v --run TestFilter
func TestFilter(t *testing.T) {
	reg := NewRegistry(nil)
	s := NewSubscription(1)
	reg.SetFilter(s, Filter{Symbol: "EURUSD"})
	_, ok := reg.Filter(s)
	assert.False(t, ok, "filters only stick to registered subscribers")

	reg.Register(s)
	reg.SetFilter(s, Filter{Symbol: "EURUSD", AccountID: 1001})
	f, ok := reg.Filter(s)
	require.True(t, ok)
	assert.Equal(t, "EURUSD", f.Symbol)

	reg.SetFilter(s, Filter{Symbol: "XAUUSD"})
	f, _ = reg.Filter(s)
	assert.Equal(t, Filter{Symbol: "XAUUSD", AccountID: 1001}, f, "empty fields keep the previous value")

	reg.Unregister(s)
	_, ok = reg.Filter(s)
	assert.False(t, ok)
}

// go test -v --run TestPublish
func TestPublish(t *testing.T) {
	b, reg := newBroadcaster()
	a, c := NewSubscription(2), NewSubscription(2)
	reg.Register(a)
	reg.Register(c)

	res, err := b.Publish(map[string]any{"type": "update", "cycle": 1})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)

	for _, s := range []*Subscription{a, c} {
		var frame map[string]any
		require.NoError(t, json.Unmarshal(<-s.C(), &frame))
		assert.Equal(t, "update", frame["type"])
	}
}

// go test -v --run TestPublishDropsSlowSubscriber
func TestPublishDropsSlowSubscriber(t *testing.T) {
	b, reg := newBroadcaster()
	slow, fast := NewSubscription(1), NewSubscription(8)
	reg.Register(slow)
	reg.Register(fast)

	_, err := b.Publish("one")
	require.NoError(t, err)
	res, err := b.Publish("two")
	require.NoError(t, err)

	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, res.Dropped)
	assert.True(t, slow.Closed())
	assert.Equal(t, 1, reg.Len())
	assert.Len(t, fast.C(), 2)
}

// go test -v --run TestPublishDuringDisconnect
func TestPublishDuringDisconnect(t *testing.T) {
	b, reg := newBroadcaster()
	subs := make([]*Subscription, 50)
	for i := range subs {
		subs[i] = NewSubscription(64)
		reg.Register(subs[i])
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_, err := b.Publish(i)
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for _, s := range subs[:25] {
			reg.Unregister(s)
		}
	}()
	wg.Wait()

	assert.Equal(t, 25, reg.Len())
	for _, s := range subs[25:] {
		assert.Len(t, s.C(), 20, "remaining subscribers receive every frame")
	}
}

// go test -v --run TestSend
func TestSend(t *testing.T) {
	b, _ := newBroadcaster()
	s := NewSubscription(1)
	require.NoError(t, b.Send(s, "hello"))
	assert.Equal(t, `"hello"`, string(<-s.C()))

	s.close()
	err := b.Send(s, "again")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClosed)
}
