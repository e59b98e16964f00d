package events

import (
	"fmt"

	"github.com/customeros/mailobserver/internal/logger"
)

// EventsService owns the broker connections used by the event observers.
// Either publisher may be nil when its URL is not configured.
type EventsService struct {
	Publisher *RabbitMQPublisher
	NATS      *NATSPublisher
}

func NewEventsService(rabbitmqURL, natsURL string, log logger.Logger, publisherConfig *PublisherConfig) (*EventsService, error) {
	s := &EventsService{}

	if rabbitmqURL != "" {
		publisher, err := NewRabbitMQPublisher(rabbitmqURL, log, publisherConfig)
		if err != nil {
			return nil, err
		}
		s.Publisher = publisher
	}

	if natsURL != "" {
		natsPublisher, err := NewNATSPublisher(natsURL, log)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.NATS = natsPublisher
	}

	return s, nil
}

func (s *EventsService) Close() error {
	var errs []error

	if s.Publisher != nil {
		if err := s.Publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if s.NATS != nil {
		if err := s.NATS.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing events service: %v", errs)
	}

	return nil
}
