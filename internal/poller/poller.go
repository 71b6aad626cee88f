package poller

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"acctmonitor/internal/account"
	"acctmonitor/internal/memorystore"
	"acctmonitor/internal/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config controls the poll loop.
type Config struct {
	Interval          time.Duration
	Concurrency       int           // max accounts fetched at once
	CycleTimeout      time.Duration // upper bound for one cycle
	TradeHistoryDays  int
	TradeRefreshEvery int // refresh trade history every N cycles; 0 disables
}

// Report describes one completed cycle.
type Report struct {
	Seq       uint64
	StartedAt time.Time
	Duration  time.Duration
	Attempted int
	Succeeded int
	Failed    int
	Discarded int // results dropped because the account was removed mid-cycle
}

// Poller refreshes every monitored account from the DataSource on a fixed
// interval and writes the results into the store.
type Poller struct {
	cfg     Config
	source  account.DataSource
	store   *memorystore.Store
	metrics *metrics.Metrics
	logger  *zap.Logger

	seq atomic.Uint64
}

func New(cfg Config, source account.DataSource, store *memorystore.Store, m *metrics.Metrics, logger *zap.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 30 * time.Second
	}
	return &Poller{
		cfg:     cfg,
		source:  source,
		store:   store,
		metrics: m,
		logger:  logger.With(zap.String("component", "poller")),
	}
}

// Run polls until ctx is cancelled and sends a Report after every cycle. A
// cycle already running when ctx is cancelled is completed first. Run closes
// reports on return.
func (p *Poller) Run(ctx context.Context, reports chan<- Report) {
	defer close(reports)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("poll loop started", zap.Duration("interval", p.cfg.Interval))
	for ctx.Err() == nil {
		reports <- p.RunCycle(context.WithoutCancel(ctx))

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
	p.logger.Info("poll loop stopped")
}

type outcome int

const (
	succeeded outcome = iota
	failed
	discarded
)

// RunCycle polls the accounts monitored at the moment it is called. Accounts
// added later wait for the next cycle.
func (p *Poller) RunCycle(ctx context.Context) Report {
	seq := p.seq.Add(1)
	start := time.Now()
	members := p.store.Members()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.CycleTimeout)
	defer cancel()

	withTrades := p.cfg.TradeRefreshEvery > 0 && (seq-1)%uint64(p.cfg.TradeRefreshEvery) == 0

	var counts [3]atomic.Int64
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for _, m := range members {
		m := m
		g.Go(func() error {
			counts[p.pollAccount(ctx, m, withTrades)].Add(1)
			return nil
		})
	}
	_ = g.Wait()

	r := Report{
		Seq:       seq,
		StartedAt: start,
		Duration:  time.Since(start),
		Attempted: len(members),
		Succeeded: int(counts[succeeded].Load()),
		Failed:    int(counts[failed].Load()),
		Discarded: int(counts[discarded].Load()),
	}
	p.metrics.ObserveCycle(r.Duration)
	p.metrics.SetStore(p.store.Len(), p.store.FailedCount())

	fields := []zap.Field{
		zap.Uint64("cycle", r.Seq),
		zap.Int("accounts", r.Attempted),
		zap.Int("failed", r.Failed),
		zap.Duration("elapsed", r.Duration),
	}
	if r.Failed > 0 {
		p.logger.Warn("poll cycle finished with errors", fields...)
	} else {
		p.logger.Debug("poll cycle finished", fields...)
	}
	return r
}

func (p *Poller) pollAccount(ctx context.Context, m memorystore.Member, withTrades bool) outcome {
	fields, err := fetch(ctx, func(ctx context.Context) (account.Fields, error) {
		return p.source.FetchAccount(ctx, m.ID)
	})
	if err != nil {
		return p.fail(m, &account.FetchError{AccountID: m.ID, Op: "account", Err: err})
	}

	positions, err := fetch(ctx, func(ctx context.Context) ([]account.Position, error) {
		return p.source.FetchPositions(ctx, m.ID)
	})
	if err != nil {
		return p.fail(m, &account.FetchError{AccountID: m.ID, Op: "positions", Err: err})
	}
	for i := range positions {
		positions[i].AccountID = m.ID
	}

	if !p.store.Upsert(m, account.NewSnapshot(m.ID, fields, time.Now()), positions) {
		p.metrics.DiscardedResult()
		p.logger.Debug("discarded result for removed account", zap.Int64("login_id", int64(m.ID)))
		return discarded
	}

	if withTrades {
		if _, err := p.refreshTrades(ctx, m); err != nil {
			p.logger.Warn("failed to refresh trades", zap.Int64("login_id", int64(m.ID)), zap.Error(err))
		}
	}
	return succeeded
}

func (p *Poller) fail(m memorystore.Member, err *account.FetchError) outcome {
	if !p.store.MarkFailed(m, err, time.Now()) {
		p.metrics.DiscardedResult()
		return discarded
	}
	p.metrics.FetchError(err.Op)
	p.logger.Warn("failed to poll account", zap.Int64("login_id", int64(m.ID)), zap.String("op", err.Op), zap.Error(err.Err))
	return failed
}

// RefreshTrades fetches the trade history window of id and stores it.
func (p *Poller) RefreshTrades(ctx context.Context, id account.ID) ([]account.Trade, error) {
	m, ok := p.store.Member(id)
	if !ok {
		return nil, &account.ValidationError{Field: "login_id", Reason: fmt.Sprintf("account %d is not monitored", id)}
	}
	return p.refreshTrades(ctx, m)
}

func (p *Poller) refreshTrades(ctx context.Context, m memorystore.Member) ([]account.Trade, error) {
	trades, err := fetch(ctx, func(ctx context.Context) ([]account.Trade, error) {
		return p.source.FetchTrades(ctx, m.ID, p.cfg.TradeHistoryDays)
	})
	if err != nil {
		p.metrics.FetchError("trades")
		return nil, &account.FetchError{AccountID: m.ID, Op: "trades", Err: err}
	}
	for i := range trades {
		trades[i].AccountID = m.ID
	}
	p.store.SetTrades(m, trades, time.Now())
	return trades, nil
}

// fetch runs fn but stops waiting once ctx is done, so a source that ignores
// cancellation cannot hold up the cycle.
func fetch[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
