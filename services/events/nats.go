package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailobserver/dto"
	"github.com/customeros/mailobserver/internal/enum"
	"github.com/customeros/mailobserver/internal/logger"
	"github.com/customeros/mailobserver/internal/tracing"
)

const (
	StreamMailEvents     = "MAIL_EVENTS"
	SubjectPrefix        = "mail"
	DefaultDedupWindow   = 10 * time.Minute
	DefaultStreamMaxAge  = 30 * 24 * time.Hour
	natsReconnectBackoff = 2 * time.Second
)

// jetStreamPublisher is the part of nats.JetStreamContext the publisher
// needs.
type jetStreamPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATSPublisher publishes receive-email events to JetStream. Each event
// carries a message id so that redeliveries inside the stream's
// duplicate window are dropped by the server.
type NATSPublisher struct {
	nc  *nats.Conn
	js  jetStreamPublisher
	log logger.Logger
}

func NewNATSPublisher(url string, log logger.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name(AppSource),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(natsReconnectBackoff),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Infof("NATS reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to NATS")
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, errors.Wrap(err, "failed to get JetStream context")
	}

	if err := ensureStream(js); err != nil {
		nc.Close()
		return nil, err
	}

	return &NATSPublisher{nc: nc, js: js, log: log}, nil
}

func ensureStream(js nats.JetStreamContext) error {
	streamInfo, err := js.StreamInfo(StreamMailEvents)
	if err == nil && streamInfo != nil {
		return nil
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:       StreamMailEvents,
		Subjects:   []string{SubjectPrefix + ".*.received"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: DefaultDedupWindow,
		MaxAge:     DefaultStreamMaxAge,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return errors.Wrap(err, "failed to create stream")
	}
	return nil
}

// Subject returns the subject events of mailbox are published on.
func Subject(mailbox string) string {
	return SubjectPrefix + "." + subjectToken(mailbox) + ".received"
}

// subjectToken maps a mailbox name onto a single subject token.
func subjectToken(mailbox string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, strings.ToLower(mailbox))
	if token == "" {
		return "_"
	}
	return token
}

func (p *NATSPublisher) PublishReceiveEmailEvent(ctx context.Context, message dto.EmailReceived) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "NATSPublisher.PublishReceiveEmailEvent")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagMailbox(span, message.Mailbox)

	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(buildEvent(span, message.DedupID(), enum.EMAIL, message))
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to marshal event")
	}

	subject := Subject(message.Mailbox)
	span.SetTag("subject", subject)
	ack, err := p.js.Publish(subject, payload, nats.MsgId(message.DedupID()), nats.AckWait(DefaultPublishTimeout))
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to publish message")
	}
	if ack != nil && ack.Duplicate {
		p.log.Debugf("NATS dropped duplicate event %s", message.DedupID())
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	if p.nc != nil {
		return p.nc.Drain()
	}
	return nil
}
