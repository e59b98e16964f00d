package watcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/customeros/mailobserver/interfaces"
	"github.com/customeros/mailobserver/internal/models"
)

type mockObserver struct {
	mock.Mock
}

func (m *mockObserver) OnMessagesReceived(ctx context.Context, batch []*models.Message) error {
	args := m.Called(ctx, batch)
	return args.Error(0)
}

func testBatch(uids ...uint32) []*models.Message {
	batch := make([]*models.Message, 0, len(uids))
	for _, uid := range uids {
		batch = append(batch, &models.Message{UID: uid, UIDValidity: 7, Mailbox: "INBOX"})
	}
	return batch
}

func TestObserverRegistry_DispatchInOrder(t *testing.T) {
	// Arrange
	registry := NewObserverRegistry(getLogger())
	var order []string
	registry.Register(interfaces.MessageObserverFunc(func(ctx context.Context, batch []*models.Message) error {
		order = append(order, "first")
		return nil
	}))
	registry.Register(interfaces.MessageObserverFunc(func(ctx context.Context, batch []*models.Message) error {
		order = append(order, "second")
		return nil
	}))

	// Act
	failed := registry.Dispatch(context.Background(), testBatch(1))

	// Assert
	assert.Equal(t, 0, failed)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, 2, registry.Len())
}

func TestObserverRegistry_FailureIsolation(t *testing.T) {
	// Arrange
	registry := NewObserverRegistry(getLogger())
	batch := testBatch(100, 101)

	failing := &mockObserver{}
	failing.On("OnMessagesReceived", mock.Anything, batch).Return(errors.New("boom"))
	panicking := interfaces.MessageObserverFunc(func(ctx context.Context, batch []*models.Message) error {
		panic("observer exploded")
	})
	healthy := &mockObserver{}
	healthy.On("OnMessagesReceived", mock.Anything, batch).Return(nil)

	registry.Register(failing)
	registry.Register(panicking)
	registry.Register(healthy)

	// Act
	failed := registry.Dispatch(context.Background(), batch)

	// Assert
	assert.Equal(t, 2, failed)
	failing.AssertNumberOfCalls(t, "OnMessagesReceived", 1)
	healthy.AssertNumberOfCalls(t, "OnMessagesReceived", 1)
}

func TestObserverRegistry_EmptyBatchIsNotDelivered(t *testing.T) {
	registry := NewObserverRegistry(getLogger())
	observer := &mockObserver{}
	registry.Register(observer)

	registry.Dispatch(context.Background(), nil)

	observer.AssertNotCalled(t, "OnMessagesReceived", mock.Anything, mock.Anything)
}

func TestObserverRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewObserverRegistry(getLogger())
	observer := &recordingObserver{}
	registry.Register(observer)
	registry.Register(observer)
	registry.Register(nil)

	registry.Dispatch(context.Background(), testBatch(5))

	assert.Equal(t, 2, registry.Len())
	assert.Equal(t, 2, observer.calls())
}

func TestObserverRegistry_NoObservers(t *testing.T) {
	registry := NewObserverRegistry(getLogger())

	assert.NotPanics(t, func() {
		assert.Equal(t, 0, registry.Dispatch(context.Background(), testBatch(1)))
	})
}
