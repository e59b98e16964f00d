package imap

import (
	"context"

	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	mailerrors "github.com/customeros/mailobserver/internal/errors"
	"github.com/customeros/mailobserver/internal/tracing"
)

// AwaitChange issues IDLE in the background. The long-poll ends when ctx
// is cancelled or the connection drops. go-imap restarts the IDLE
// command on its own before the server's inactivity logout.
func (s *session) AwaitChange(ctx context.Context, onChange func()) (<-chan error, error) {
	if !s.alive() {
		return nil, errors.Wrap(mailerrors.ErrSessionAborted, "connection already closed")
	}
	s.setCallback(onChange)

	result := make(chan error, 1)
	stop := make(chan struct{})
	idleDone := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
		case <-s.c.LoggedOut():
		case <-idleDone:
		}
		close(stop)
	}()

	go func() {
		defer close(result)

		span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPSession.Idle")
		defer span.Finish()
		tracing.TagComponentListener(span)

		s.c.Timeout = 0
		err := s.c.Idle(stop, &client.IdleOptions{
			LogoutTimeout: s.cfg.IdleLogoutTimeout,
			PollInterval:  s.cfg.IdlePollInterval,
		})
		close(idleDone)
		s.c.Timeout = s.cfg.CommandTimeout

		switch {
		case ctx.Err() != nil && s.alive():
			result <- nil
		case err != nil:
			tracing.TraceErr(span, err)
			result <- errors.Wrapf(mailerrors.ErrSessionAborted, "idle: %v", err)
		default:
			result <- errors.Wrap(mailerrors.ErrSessionAborted, "idle ended, connection closed")
		}
	}()

	return result, nil
}
