// Package sourcetest provides an in-memory account.DataSource for tests.
package sourcetest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"acctmonitor/internal/account"
)

// Gate holds fetches for one account until released.
type Gate struct {
	entered chan struct{}
	release chan struct{}
	enter   sync.Once
	done    sync.Once
}

// Entered is closed once a fetch is waiting on the gate.
func (g *Gate) Entered() <-chan struct{} { return g.entered }

// Release lets waiting and future fetches through.
func (g *Gate) Release() { g.done.Do(func() { close(g.release) }) }

// Source is a scriptable DataSource. All methods are safe for concurrent use.
type Source struct {
	mu         sync.Mutex
	accounts   map[account.ID]account.Fields
	positions  map[account.ID][]account.Position
	trades     map[account.ID][]account.Trade
	failing    map[account.ID]error
	gates      map[account.ID]*Gate
	connectErr error

	AccountCalls atomic.Int64
	TradeCalls   atomic.Int64
}

func New() *Source {
	return &Source{
		accounts:  make(map[account.ID]account.Fields),
		positions: make(map[account.ID][]account.Position),
		trades:    make(map[account.ID][]account.Trade),
		failing:   make(map[account.ID]error),
		gates:     make(map[account.ID]*Gate),
	}
}

func (s *Source) SetAccount(id account.ID, f account.Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[id] = f
}

func (s *Source) SetPositions(id account.ID, positions ...account.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[id] = positions
}

func (s *Source) SetTrades(id account.ID, trades ...account.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[id] = trades
}

// Fail makes every fetch for id return err until Recover is called.
func (s *Source) Fail(id account.ID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[id] = err
}

func (s *Source) Recover(id account.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failing, id)
}

// Hold blocks account fetches for id until the returned gate is released.
// A held fetch ignores context cancellation, like a hung backend call.
func (s *Source) Hold(id account.ID) *Gate {
	g := &Gate{entered: make(chan struct{}), release: make(chan struct{})}
	s.mu.Lock()
	s.gates[id] = g
	s.mu.Unlock()
	return g
}

func (s *Source) SetConnectError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectErr = err
}

func (s *Source) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		return &account.ConnectionError{Backend: "sourcetest", Err: s.connectErr}
	}
	return nil
}

func (s *Source) Close() error { return nil }

func (s *Source) FetchAccount(_ context.Context, id account.ID) (account.Fields, error) {
	s.AccountCalls.Add(1)

	s.mu.Lock()
	g := s.gates[id]
	s.mu.Unlock()
	if g != nil {
		g.enter.Do(func() { close(g.entered) })
		<-g.release
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing[id]; err != nil {
		return account.Fields{}, err
	}
	f, ok := s.accounts[id]
	if !ok {
		return account.Fields{}, fmt.Errorf("unknown login %d", id)
	}
	return f, nil
}

func (s *Source) FetchPositions(_ context.Context, id account.ID) ([]account.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing[id]; err != nil {
		return nil, err
	}
	return slices.Clone(s.positions[id]), nil
}

func (s *Source) FetchTrades(_ context.Context, id account.ID, _ int) ([]account.Trade, error) {
	s.TradeCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing[id]; err != nil {
		return nil, err
	}
	return slices.Clone(s.trades[id]), nil
}
