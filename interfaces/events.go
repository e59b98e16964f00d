package interfaces

import (
	"context"

	"github.com/customeros/mailobserver/dto"
)

type EventPublisher interface {
	PublishReceiveEmailEvent(ctx context.Context, message dto.EmailReceived) error
	Close() error
}
