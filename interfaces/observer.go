package interfaces

import (
	"context"

	"github.com/customeros/mailobserver/internal/models"
)

// MessageObserver receives batches of newly arrived messages. The batch
// is never empty and calls for one registry never overlap.
type MessageObserver interface {
	OnMessagesReceived(ctx context.Context, batch []*models.Message) error
}

// MessageObserverFunc adapts a function to MessageObserver.
type MessageObserverFunc func(ctx context.Context, batch []*models.Message) error

func (f MessageObserverFunc) OnMessagesReceived(ctx context.Context, batch []*models.Message) error {
	return f(ctx, batch)
}
