package memorystore

import (
	"errors"
	"sync"
	"testing"
	"time"

	"acctmonitor/internal/account"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotFor(id account.ID, equity int64) account.Snapshot {
	return account.NewSnapshot(id, account.Fields{
		Balance: decimal.NewFromInt(1000),
		Equity:  decimal.NewFromInt(equity),
		Margin:  decimal.NewFromInt(100),
	}, time.Now())
}

func positionsFor(id account.ID, n int, volume int64) []account.Position {
	out := make([]account.Position, n)
	for i := range out {
		out[i] = account.Position{AccountID: id, PositionID: int64(i + 1), Symbol: "EURUSD", Volume: decimal.NewFromInt(volume)}
	}
	return out
}

// go test -v --run TestStoreUpsertAndGet
func TestStoreUpsertAndGet(t *testing.T) {
	s := NewStore(0)
	added, err := s.Track(1001)
	require.NoError(t, err)
	require.True(t, added)

	_, ok := s.Get(1001)
	assert.False(t, ok, "unpolled account must be absent")

	m, ok := s.Member(1001)
	require.True(t, ok)
	require.True(t, s.Upsert(m, snapshotFor(1001, 900), positionsFor(1001, 2, 1)))

	e, ok := s.Get(1001)
	require.True(t, ok)
	assert.True(t, e.Snapshot.Equity.Equal(decimal.NewFromInt(900)))
	assert.Len(t, e.Positions, 2)

	// Callers get copies.
	e.Positions[0].Symbol = "XAUUSD"
	again, _ := s.Get(1001)
	assert.Equal(t, "EURUSD", again.Positions[0].Symbol)
}

// go test -v --run TestStoreTrackValidation
func TestStoreTrackValidation(t *testing.T) {
	s := NewStore(1)
	_, err := s.Track(0)
	assert.True(t, account.IsValidationError(err))

	_, err = s.Track(1)
	require.NoError(t, err)
	added, err := s.Track(1)
	require.NoError(t, err)
	assert.False(t, added)

	_, err = s.Track(2)
	assert.ErrorIs(t, err, account.ErrAccountLimit)
}

// go test -v --run TestStoreNoResurrection
func TestStoreNoResurrection(t *testing.T) {
	s := NewStore(0)
	_, _ = s.Track(1002)
	stale, _ := s.Member(1002)

	assert.True(t, s.Untrack(1002))
	assert.False(t, s.Upsert(stale, snapshotFor(1002, 100), nil))
	_, ok := s.Get(1002)
	assert.False(t, ok)

	// Re-adding gives a new generation; the in-flight result is still stale.
	_, _ = s.Track(1002)
	assert.False(t, s.Upsert(stale, snapshotFor(1002, 100), nil))
	assert.False(t, s.MarkFailed(stale, errors.New("late"), time.Now()))
	_, ok = s.Get(1002)
	assert.False(t, ok)

	assert.False(t, s.Untrack(4242), "unknown id is a no-op")
}

// go test -v --run TestStoreMarkFailedKeepsLastGood
func TestStoreMarkFailedKeepsLastGood(t *testing.T) {
	s := NewStore(0)
	_, _ = s.Track(7)
	m, _ := s.Member(7)
	s.Upsert(m, snapshotFor(7, 500), positionsFor(7, 1, 1))

	require.True(t, s.MarkFailed(m, errors.New("timeout"), time.Now()))
	e, ok := s.Get(7)
	require.True(t, ok)
	assert.Equal(t, "timeout", e.LastError)
	assert.True(t, e.Snapshot.Equity.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, 1, s.FailedCount())

	s.Upsert(m, snapshotFor(7, 600), nil)
	assert.Equal(t, 0, s.FailedCount())
}

// go test -v --run TestStoreListAllConsistent
func TestStoreListAllConsistent(t *testing.T) {
	s := NewStore(0)
	const accounts = 8
	for id := account.ID(1); id <= accounts; id++ {
		_, _ = s.Track(id)
	}

	// Writers always pair equity N with N positions; readers must never see a
	// mismatched pair.
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for id := account.ID(1); id <= accounts; id++ {
		m, _ := s.Member(id)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := int64(1); ; n++ {
				select {
				case <-stop:
					return
				default:
				}
				s.Upsert(m, snapshotFor(m.ID, n%20), positionsFor(m.ID, int(n%20), 1))
			}
		}()
	}

	for i := 0; i < 200; i++ {
		for id, e := range s.ListAll() {
			require.Equal(t, e.Snapshot.Equity.IntPart(), int64(len(e.Positions)), "torn read for %d", id)
		}
	}
	close(stop)
	wg.Wait()
}
