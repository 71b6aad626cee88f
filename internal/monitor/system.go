// Package monitor wires the poller, the account store, the exposure and alert
// derivations and the broadcaster into one owned System.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"acctmonitor/internal/account"
	"acctmonitor/internal/alert"
	"acctmonitor/internal/broadcast"
	"acctmonitor/internal/exposure"
	"acctmonitor/internal/memorystore"
	"acctmonitor/internal/metrics"
	"acctmonitor/internal/poller"

	"go.uber.org/zap"
)

// State is the lifecycle state of a System.
type State int

const (
	Created State = iota
	Initialized
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config configures a System.
type Config struct {
	Poller      poller.Config
	MaxAccounts int
	Thresholds  alert.Thresholds
}

// System is the monitor coordinator. Queries are served from the store at
// call time and never wait for a cycle in progress.
type System struct {
	cfg         Config
	source      account.DataSource
	store       *memorystore.Store
	poller      *poller.Poller
	evaluator   *alert.Evaluator
	broadcaster *broadcast.Broadcaster
	metrics     *metrics.Metrics
	logger      *zap.Logger

	mu     sync.Mutex // serializes lifecycle transitions
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}

	statsMu     sync.RWMutex
	cycles      uint64
	lastCycle   poller.Report
	lastUpdate  *time.Time
	totalErrors uint64
}

func New(cfg Config, source account.DataSource, m *metrics.Metrics, logger *zap.Logger) *System {
	store := memorystore.NewStore(cfg.MaxAccounts)
	return &System{
		cfg:         cfg,
		source:      source,
		store:       store,
		poller:      poller.New(cfg.Poller, source, store, m, logger),
		evaluator:   alert.NewEvaluator(cfg.Thresholds),
		broadcaster: broadcast.NewBroadcaster(broadcast.NewRegistry(m), m, logger),
		metrics:     m,
		logger:      logger.With(zap.String("component", "monitor")),
	}
}

func (s *System) State() State { return State(s.state.Load()) }

func (s *System) setState(st State) { s.state.Store(int32(st)) }

// Initialize connects the DataSource. A failure is returned as a
// ConnectionError and leaves the System in Created.
func (s *System) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.State(); st != Created {
		return fmt.Errorf("initialize from %s: %w", st, account.ErrInvalidState)
	}
	if err := s.source.Connect(ctx); err != nil {
		if !account.IsConnectionError(err) {
			err = &account.ConnectionError{Backend: "datasource", Err: err}
		}
		s.logger.Error("failed to connect data source", zap.Error(err))
		return err
	}
	s.setState(Initialized)
	s.logger.Info("monitor initialized", zap.Int("accounts", s.store.Len()))
	return nil
}

// Start begins the poll loop. It is valid from Initialized or Stopped.
func (s *System) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.State(); st != Initialized && st != Stopped {
		return fmt.Errorf("start from %s: %w", st, account.ErrInvalidState)
	}

	ctx, cancel := context.WithCancel(context.Background())
	reports := make(chan poller.Report)
	done := make(chan struct{})
	go s.poller.Run(ctx, reports)
	go func() {
		defer close(done)
		for r := range reports {
			s.completeCycle(r)
		}
	}()

	s.cancel, s.done = cancel, done
	s.setState(Running)
	s.logger.Info("monitor started", zap.Duration("interval", s.interval()))
	return nil
}

// Stop cancels the poll loop and waits for the cycle in progress, including
// its broadcast, to finish. Stop on a System that is not running is a no-op.
func (s *System) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != Running {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
	s.setState(Stopped)
	s.logger.Info("monitor stopped")
	return nil
}

// Close stops the System and closes the DataSource.
func (s *System) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}
	if err := s.source.Close(); err != nil {
		return fmt.Errorf("close data source: %w", err)
	}
	return nil
}

func (s *System) completeCycle(r poller.Report) {
	now := time.Now()
	s.statsMu.Lock()
	s.cycles++
	s.lastCycle = r
	s.lastUpdate = &now
	s.totalErrors += uint64(r.Failed)
	s.statsMu.Unlock()

	frame := s.frame(FrameUpdate)
	s.metrics.SetAlerts(alertMetrics(frame.Stats.Alerts))

	res, err := s.broadcaster.Publish(frame)
	if err != nil {
		s.logger.Error("failed to publish cycle", zap.Uint64("cycle", r.Seq), zap.Error(err))
		return
	}
	s.logger.Debug("cycle published",
		zap.Uint64("cycle", r.Seq),
		zap.Int("clients", res.Delivered),
		zap.Int("dropped", res.Dropped),
	)
}

func alertMetrics(byKind map[account.AlertKind]int) map[string]int {
	out := map[string]int{
		string(account.MarginWarning):  0,
		string(account.MarginCritical): 0,
		string(account.MaxLoss):        0,
	}
	for k, n := range byKind {
		out[string(k)] = n
	}
	return out
}

// AddAccount adds id to the monitored set. It is picked up by the next cycle.
func (s *System) AddAccount(id account.ID) error {
	added, err := s.store.Track(id)
	if errors.Is(err, account.ErrAccountLimit) {
		return &account.ValidationError{Field: "login_id", Reason: fmt.Sprintf("cannot monitor %d: %v", id, err)}
	}
	if err != nil {
		return err
	}
	if added {
		s.logger.Info("account added", zap.Int64("login_id", int64(id)))
	}
	s.metrics.SetStore(s.store.Len(), s.store.FailedCount())
	return nil
}

// RemoveAccount drops id and all of its data. Removing an id that is not
// monitored is not an error.
func (s *System) RemoveAccount(id account.ID) error {
	if !id.Valid() {
		return &account.ValidationError{Field: "login_id", Reason: "must be a positive integer"}
	}
	if s.store.Untrack(id) {
		s.logger.Info("account removed", zap.Int64("login_id", int64(id)))
	}
	s.metrics.SetStore(s.store.Len(), s.store.FailedCount())
	return nil
}

// IsMonitored reports whether id is in the monitored set.
func (s *System) IsMonitored(id account.ID) bool { return s.store.IsTracked(id) }

// Accounts returns the monitored ids in ascending order.
func (s *System) Accounts() []account.ID {
	members := s.store.Members()
	out := make([]account.ID, len(members))
	for i, m := range members {
		out[i] = m.ID
	}
	return out
}

// Snapshot returns the latest data for id. It reports false when id is not
// monitored or has not been polled successfully yet.
func (s *System) Snapshot(id account.ID) (AccountView, bool) {
	e, ok := s.store.Get(id)
	if !ok {
		return AccountView{}, false
	}
	return newAccountView(e), true
}

// AllSnapshots returns every polled account ordered by login.
func (s *System) AllSnapshots() []AccountView {
	return accountViews(s.store.ListAll())
}

// Exposure aggregates net volume per symbol, optionally for one symbol.
func (s *System) Exposure(symbol string) []account.SymbolExposure {
	return exposure.Aggregate(s.store.ListAll(), symbol)
}

// PositionsBySymbol lists the open positions in symbol across accounts.
func (s *System) PositionsBySymbol(symbol string) []account.Position {
	return exposure.Positions(s.store.ListAll(), symbol)
}

// Alerts evaluates the current snapshots against the thresholds.
func (s *System) Alerts() []account.Alert {
	return s.evaluator.EvaluateAll(s.store.ListAll())
}

func (s *System) Thresholds() alert.Thresholds { return s.evaluator.Thresholds() }

// Trades returns the stored trade history of id and its summary.
func (s *System) Trades(id account.ID) (AccountTrades, bool) {
	e, ok := s.store.Get(id)
	if !ok {
		return AccountTrades{}, false
	}
	return newAccountTrades(id, e.Trades, e.TradesUpdated), true
}

// RefreshTrades fetches the trade history window of id now.
func (s *System) RefreshTrades(ctx context.Context, id account.ID) (AccountTrades, error) {
	if st := s.State(); st == Created {
		return AccountTrades{}, fmt.Errorf("refresh trades from %s: %w", st, account.ErrInvalidState)
	}
	trades, err := s.poller.RefreshTrades(ctx, id)
	if err != nil {
		return AccountTrades{}, err
	}
	now := time.Now()
	return newAccountTrades(id, trades, &now), nil
}

func newAccountTrades(id account.ID, trades []account.Trade, updated *time.Time) AccountTrades {
	if trades == nil {
		trades = []account.Trade{}
	}
	sum := account.SummarizeTrades(trades, time.Now())
	sum.LastUpdated = updated
	return AccountTrades{AccountID: id, Trades: trades, Summary: sum}
}

// Stats reports counters of the poll loop together with alert counts and
// totals computed from the current store contents.
func (s *System) Stats() Stats {
	return s.stats(s.store.ListAll(), nil)
}

func (s *System) stats(entries map[account.ID]memorystore.Entry, alerts []account.Alert) Stats {
	if alerts == nil {
		alerts = s.evaluator.EvaluateAll(entries)
	}

	state := s.State()
	s.statsMu.RLock()
	st := Stats{
		State:             state.String(),
		Running:           state == Running,
		Interval:          s.interval().Seconds(),
		CyclesCompleted:   s.cycles,
		LastUpdate:        s.lastUpdate,
		LastCycleDuration: s.lastCycle.Duration.Seconds(),
		LastErrorCount:    s.lastCycle.Failed,
		TotalErrors:       s.totalErrors,
	}
	s.statsMu.RUnlock()

	st.MonitoredCount = s.store.Len()
	st.AccountsInError = s.store.FailedCount()
	st.Alerts = alert.CountByKind(alerts)
	st.AlertCount = len(alerts)
	st.ConnectedClients = s.broadcaster.Registry().Len()
	st.Summary = summarize(accountViews(entries))
	return st
}

func (s *System) interval() time.Duration {
	if s.cfg.Poller.Interval <= 0 {
		return 5 * time.Second
	}
	return s.cfg.Poller.Interval
}

// Frame captures the full current state from a single store read.
func (s *System) Frame() Frame { return s.frame(FrameInitial) }

func (s *System) frame(typ string) Frame {
	entries := s.store.ListAll()
	alerts := s.evaluator.EvaluateAll(entries)

	s.statsMu.RLock()
	cycle := s.cycles
	s.statsMu.RUnlock()

	return Frame{
		Type:      typ,
		Cycle:     cycle,
		Timestamp: time.Now(),
		Accounts:  accountViews(entries),
		Exposure:  exposure.Aggregate(entries, ""),
		Alerts:    alerts,
		Stats:     s.stats(entries, alerts),
	}
}

// Subscribe queues the initial frame for a new subscriber and then registers
// it, so no cycle frame can precede the initial one. Cycle frames follow on
// the returned handle until Unsubscribe.
func (s *System) Subscribe(buffer int) *broadcast.Subscription {
	sub := broadcast.NewSubscription(buffer)
	if err := s.broadcaster.Send(sub, s.Frame()); err != nil {
		s.logger.Warn("failed to send initial frame", zap.String("client", sub.ID()), zap.Error(err))
	}
	s.broadcaster.Registry().Register(sub)
	s.logger.Info("subscriber connected", zap.String("client", sub.ID()))
	return sub
}

// Unsubscribe removes sub. It is safe to call more than once.
func (s *System) Unsubscribe(sub *broadcast.Subscription) {
	if s.broadcaster.Registry().Unregister(sub) {
		s.logger.Info("subscriber disconnected", zap.String("client", sub.ID()))
	}
}

// LastFilter returns the last query filter recorded for sub.
func (s *System) LastFilter(sub *broadcast.Subscription) (broadcast.Filter, bool) {
	return s.broadcaster.Registry().Filter(sub)
}

// Remember records the last query filter of sub.
func (s *System) Remember(sub *broadcast.Subscription, f broadcast.Filter) {
	s.broadcaster.Registry().SetFilter(sub, f)
}
