package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/notification/domain"
	"github.com/smallbiznis/storefront/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultWorkers     = 4
	defaultQueueSize   = 1024
	defaultSendTimeout = 5 * time.Second
)

// Pusher delivers a notification to every live connection of a user and
// returns how many received it.
type Pusher interface {
	SendToGroup(ctx context.Context, userID snowflake.ID, n domain.View) (int, error)
}

type DispatcherParams struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	Pusher     Pusher
	Metrics    *metrics.Metrics    `optional:"true"`
	HubMetrics *metrics.HubMetrics `optional:"true"`
}

// Dispatcher is a bounded worker pool between committed notifications and
// the hub. Enqueue never blocks; overflow is dropped because the store
// already holds the record.
type Dispatcher struct {
	log        *zap.Logger
	pusher     Pusher
	metrics    *metrics.Metrics
	hubMetrics *metrics.HubMetrics
	workers    int
	timeout    time.Duration

	mu     sync.RWMutex
	queue  chan domain.View
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	workers := p.Cfg.Hub.DispatchWorkers
	if workers <= 0 {
		workers = defaultWorkers
	}
	size := p.Cfg.Hub.DispatchQueue
	if size <= 0 {
		size = defaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		log:        p.Log.Named("notification.dispatcher"),
		pusher:     p.Pusher,
		metrics:    p.Metrics,
		hubMetrics: p.HubMetrics,
		workers:    workers,
		timeout:    defaultSendTimeout,
		queue:      make(chan domain.View, size),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
}

// Stop drains queued work until ctx expires, then abandons the rest.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) Enqueue(n domain.View) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("dispatcher stopped, notification not pushed",
			zap.String("notification_id", n.ID.String()))
		return false
	}

	select {
	case d.queue <- n:
		d.hubMetrics.SetDispatchQueue(len(d.queue))
		return true
	default:
		d.metrics.RecordHubDelivery(d.ctx, metrics.DeliveryReasonQueueFull, 1)
		d.log.Warn("dispatch queue full, notification not pushed",
			zap.String("notification_id", n.ID.String()),
			zap.String("user_id", n.UserID.String()),
		)
		return false
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for n := range d.queue {
		d.hubMetrics.SetDispatchQueue(len(d.queue))
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n domain.View) {
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	delivered, err := d.pusher.SendToGroup(ctx, n.UserID, n)
	switch {
	case err != nil:
		d.metrics.RecordHubDelivery(ctx, metrics.DeliveryReasonFailed, 1)
		d.log.Warn("hub delivery failed",
			zap.Error(err),
			zap.String("notification_id", n.ID.String()),
			zap.String("user_id", n.UserID.String()),
		)
	case delivered == 0:
		d.metrics.RecordHubDelivery(ctx, metrics.DeliveryReasonNoConnections, 1)
		d.log.Debug("no live connections",
			zap.String("notification_id", n.ID.String()),
			zap.String("user_id", n.UserID.String()),
		)
	default:
		d.metrics.RecordHubDelivery(ctx, metrics.DeliveryReasonDelivered, delivered)
	}
}
