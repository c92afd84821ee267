package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Notify(ctx context.Context, kind Kind, payload any) error {
	return m.Called(ctx, kind, payload).Error(0)
}

type fakeChannel struct {
	mu        sync.Mutex
	published []amqp.Publishing
	keys      []string
	err       error
	closed    bool
}

func (c *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestKind_RoutingKey(t *testing.T) {
	assert.Equal(t, "order.confirmation", KindOrderConfirmation.RoutingKey())
	assert.Equal(t, "order.admin_new", KindAdminNewOrder.RoutingKey())
	assert.Equal(t, "order.status_update", KindStatusUpdate.RoutingKey())
	assert.Equal(t, "product.low_stock", KindLowStock.RoutingKey())
	assert.Equal(t, "notification.unknown", Kind("other").RoutingKey())
}

func TestAMQPPublisher_Notify(t *testing.T) {
	channel := &fakeChannel{}
	publisher := &AMQPPublisher{channel: channel, exchange: "storefront.notifications"}

	event := OrderEvent{
		OrderID:     uuid.Must(uuid.NewV4()),
		OrderNumber: "ORD-1234ABCD",
		Status:      "pending",
		TotalAmount: decimal.RequireFromString("63.5"),
		ItemCount:   2,
	}
	require.NoError(t, publisher.Notify(context.Background(), KindOrderConfirmation, event))

	require.Len(t, channel.published, 1)
	assert.Equal(t, "order.confirmation", channel.keys[0])
	msg := channel.published[0]
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, "order-confirmation", msg.Type)

	var envelope struct {
		ID   string     `json:"id"`
		Kind Kind       `json:"kind"`
		Data OrderEvent `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Body, &envelope))
	assert.Equal(t, msg.MessageId, envelope.ID)
	assert.Equal(t, KindOrderConfirmation, envelope.Kind)
	assert.Equal(t, event.OrderID, envelope.Data.OrderID)
	assert.True(t, event.TotalAmount.Equal(envelope.Data.TotalAmount))

	publisher.Close()
	assert.True(t, channel.closed)
}

func TestAMQPPublisher_PublishError(t *testing.T) {
	channel := &fakeChannel{err: errors.New("channel closed")}
	publisher := &AMQPPublisher{channel: channel, exchange: "x"}

	err := publisher.Notify(context.Background(), KindStatusUpdate, OrderEvent{})
	assert.ErrorContains(t, err, "channel closed")
}

func TestAsync_DeliversQueuedNotificationsOnClose(t *testing.T) {
	next := new(MockDispatcher)
	next.On("Notify", mock.Anything, KindStatusUpdate, "a").Return(nil).Once()
	next.On("Notify", mock.Anything, KindStatusUpdate, "b").Return(errors.New("smtp down")).Once()

	async := NewAsync(next, 4)
	require.NoError(t, async.Notify(context.Background(), KindStatusUpdate, "a"))
	require.NoError(t, async.Notify(context.Background(), KindStatusUpdate, "b"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, async.Close(ctx))

	next.AssertExpectations(t)
	assert.ErrorIs(t, async.Notify(context.Background(), KindStatusUpdate, "c"), ErrClosed)
}

func TestAsync_DropsWhenQueueIsFull(t *testing.T) {
	release := make(chan struct{})
	next := new(MockDispatcher)
	next.On("Notify", mock.Anything, KindLowStock, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(nil)

	async := NewAsync(next, 1)

	// the first job may already be taken by the worker, so fill the queue
	// until a drop is reported
	var dropped error
	for i := 0; i < 3 && dropped == nil; i++ {
		dropped = async.Notify(context.Background(), KindLowStock, i)
	}
	assert.ErrorIs(t, dropped, ErrQueueFull)

	close(release)
	require.NoError(t, async.Close(context.Background()))
}

func TestSend_SwallowsErrors(t *testing.T) {
	next := new(MockDispatcher)
	next.On("Notify", mock.Anything, KindAdminNewOrder, mock.Anything).Return(errors.New("boom")).Once()

	assert.NotPanics(t, func() {
		Send(context.Background(), next, KindAdminNewOrder, OrderEvent{})
		Send(context.Background(), nil, KindAdminNewOrder, OrderEvent{})
	})
	next.AssertExpectations(t)
}
