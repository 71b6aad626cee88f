package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"

	"acctmonitor/internal/account"
	"acctmonitor/internal/metrics"

	"go.uber.org/zap"
)

// Result summarizes one Publish call.
type Result struct {
	Delivered int
	Skipped   int // subscriber disconnected while publishing
	Dropped   int // subscriber removed after a failed delivery
}

// Broadcaster pushes frames to every registered subscriber. Each delivery is
// a non-blocking queue insert, so one slow client never delays the others.
type Broadcaster struct {
	reg     *Registry
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewBroadcaster(reg *Registry, m *metrics.Metrics, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		reg:     reg,
		metrics: m,
		logger:  logger.With(zap.String("component", "broadcaster")),
	}
}

func (b *Broadcaster) Registry() *Registry { return b.reg }

// Publish encodes v once and offers it to every subscriber. A subscriber
// whose buffer is full is dropped from the registry.
func (b *Broadcaster) Publish(v any) (Result, error) {
	frame, err := json.Marshal(v)
	if err != nil {
		return Result{}, fmt.Errorf("encode frame: %w", err)
	}

	var res Result
	for _, s := range b.reg.list() {
		err := s.Offer(frame)
		switch {
		case err == nil:
			res.Delivered++
		case errors.Is(err, ErrClosed):
			res.Skipped++
		default:
			res.Dropped++
			b.reg.Unregister(s)
			b.metrics.DeliveryDropped()
			b.logger.Warn("dropping subscriber", zap.Error(&account.DeliveryError{Client: s.ID(), Err: err}))
		}
	}
	b.metrics.FramePublished()
	return res, nil
}

// Send encodes v and queues it for s alone.
func (b *Broadcaster) Send(s *Subscription, v any) error {
	frame, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := s.Offer(frame); err != nil {
		return &account.DeliveryError{Client: s.ID(), Err: err}
	}
	return nil
}
