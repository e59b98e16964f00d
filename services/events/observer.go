package events

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailobserver/interfaces"
	"github.com/customeros/mailobserver/internal/logger"
	"github.com/customeros/mailobserver/internal/models"
	"github.com/customeros/mailobserver/internal/tracing"
	"github.com/customeros/mailobserver/services/observers"
)

// PublishingObserver turns every new message into a receive-email event
// on the given publisher.
type PublishingObserver struct {
	publisher interfaces.EventPublisher
	log       logger.Logger
}

func NewPublishingObserver(publisher interfaces.EventPublisher, log logger.Logger) *PublishingObserver {
	return &PublishingObserver{publisher: publisher, log: log}
}

// OnMessagesReceived publishes every message of the batch. A failed
// publish does not stop the rest of the batch; the first error is
// returned.
func (o *PublishingObserver) OnMessagesReceived(ctx context.Context, batch []*models.Message) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "PublishingObserver.OnMessagesReceived")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("publisher", publisherName(o.publisher))

	var firstErr error
	for _, msg := range batch {
		summary, err := observers.Summarize(msg)
		if err != nil {
			o.log.Warnf("Publishing message %d of %s without headers: %v", msg.UID, msg.Mailbox, err)
		}

		if err := o.publisher.PublishReceiveEmailEvent(ctx, summary); err != nil {
			err = errors.Wrapf(err, "publish message %d", msg.UID)
			tracing.TraceErr(span, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func publisherName(p interfaces.EventPublisher) string {
	switch p.(type) {
	case *RabbitMQPublisher:
		return "rabbitmq"
	case *NATSPublisher:
		return "nats"
	default:
		return "custom"
	}
}

var (
	_ interfaces.MessageObserver = (*PublishingObserver)(nil)
	_ interfaces.EventPublisher  = (*RabbitMQPublisher)(nil)
	_ interfaces.EventPublisher  = (*NATSPublisher)(nil)
)

func NewRabbitMQObserver(publisher *RabbitMQPublisher, log logger.Logger) *PublishingObserver {
	return NewPublishingObserver(publisher, log)
}

func NewNATSObserver(publisher *NATSPublisher, log logger.Logger) *PublishingObserver {
	return NewPublishingObserver(publisher, log)
}
