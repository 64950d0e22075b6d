package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/notification/domain"
	"github.com/smallbiznis/storefront/internal/notification/repository"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakePusher struct {
	mu      sync.Mutex
	got     []domain.View
	err     error
	block   chan struct{}
	results int
}

func (f *fakePusher) SendToGroup(ctx context.Context, userID snowflake.ID, n domain.View) (int, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, n)
	return f.results, f.err
}

func (f *fakePusher) received() []domain.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.View(nil), f.got...)
}

func newDispatcher(pusher Pusher, workers, queue int) *Dispatcher {
	return NewDispatcher(DispatcherParams{
		Log:    zap.NewNop(),
		Cfg:    config.Config{Hub: config.HubConfig{DispatchWorkers: workers, DispatchQueue: queue}},
		Pusher: pusher,
	})
}

func shippedOrder() orderdomain.Order {
	return orderdomain.Order{
		ID:       snowflake.ID(555),
		UserID:   snowflake.ID(1),
		Status:   orderdomain.StatusShipped,
		Total:    decimal.RequireFromString("42.50"),
		Currency: "usd",
	}
}

func TestOrderStatusChangedStoresInTransaction(t *testing.T) {
	db := storetest.OpenDB(t)
	storetest.SeedUser(t, db, 1, "ana@example.com", "customer")
	pusher := &fakePusher{results: 1}
	d := newDispatcher(pusher, 1, 8)
	d.Start()
	t.Cleanup(func() { _ = d.Stop(context.Background()) })

	trig := New(Params{
		Log:        zap.NewNop(),
		GenID:      storetest.Node(t),
		Clock:      clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		Repo:       repository.Provide(),
		Templates:  config.NewStaticMessageTemplateHolder(config.DefaultMessageTemplates()),
		Dispatcher: d,
	})

	var publish func()
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		publish, err = trig.OrderStatusChanged(context.Background(), tx, shippedOrder(), orderdomain.StatusProcessing)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), storetest.Count(t, db, "notifications", "user_id = ? AND type = 'order' AND order_id = ?", 1, 555))
	assert.Empty(t, pusher.received())

	publish()
	require.Eventually(t, func() bool { return len(pusher.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := pusher.received()[0]
	assert.Equal(t, "Good news! Order #555 has shipped.", got.Message)
	assert.Equal(t, "Order Update", got.Title)
}

func TestOrderStatusChangedRollsBackWithTransaction(t *testing.T) {
	db := storetest.OpenDB(t)
	trig := New(Params{
		Log:       zap.NewNop(),
		GenID:     storetest.Node(t),
		Repo:      repository.Provide(),
		Templates: config.NewStaticMessageTemplateHolder(config.DefaultMessageTemplates()),
	})

	rollback := errors.New("order update failed")
	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := trig.OrderStatusChanged(context.Background(), tx, shippedOrder(), orderdomain.StatusProcessing); err != nil {
			return err
		}
		return rollback
	})
	assert.ErrorIs(t, err, rollback)
	assert.Equal(t, int64(0), storetest.Count(t, db, "notifications", ""))
}

func TestStoreFailureAbortsTransition(t *testing.T) {
	db := storetest.OpenDB(t)
	require.NoError(t, db.Exec(`DROP TABLE notifications`).Error)
	trig := New(Params{
		Log:       zap.NewNop(),
		GenID:     storetest.Node(t),
		Repo:      repository.Provide(),
		Templates: config.NewStaticMessageTemplateHolder(config.DefaultMessageTemplates()),
	})

	publish, err := trig.OrderStatusChanged(context.Background(), db, shippedOrder(), orderdomain.StatusProcessing)
	assert.Error(t, err)
	assert.Nil(t, publish)
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	pusher := &fakePusher{block: make(chan struct{}), results: 1}
	d := newDispatcher(pusher, 1, 1)
	d.Start()

	n := domain.Notification{ID: 1, UserID: 1, Type: domain.TypeSystem}.View()
	accepted := 0
	for i := 0; i < 5; i++ {
		if d.Enqueue(n) {
			accepted++
		}
	}
	// one in flight in the worker, at most one buffered
	assert.LessOrEqual(t, accepted, 2)
	assert.GreaterOrEqual(t, accepted, 1)

	close(pusher.block)
	require.NoError(t, d.Stop(context.Background()))
	assert.Len(t, pusher.received(), accepted)
	assert.False(t, d.Enqueue(n))
}

func TestDispatcherSurvivesPushErrors(t *testing.T) {
	pusher := &fakePusher{err: errors.New("hub down")}
	d := newDispatcher(pusher, 2, 4)
	d.Start()

	for i := 1; i <= 3; i++ {
		assert.True(t, d.Enqueue(domain.Notification{ID: snowflake.ID(i), UserID: 1}.View()))
	}
	require.NoError(t, d.Stop(context.Background()))
	assert.Len(t, pusher.received(), 3)
}

func TestDispatcherStopHonoursDeadline(t *testing.T) {
	pusher := &fakePusher{block: make(chan struct{})}
	d := newDispatcher(pusher, 1, 4)
	d.Start()
	d.Enqueue(domain.Notification{ID: 1, UserID: 1}.View())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Stop(ctx), context.DeadlineExceeded)
}
