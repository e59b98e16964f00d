package watcher

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/customeros/mailobserver/interfaces"
	mailerrors "github.com/customeros/mailobserver/internal/errors"
	"github.com/customeros/mailobserver/internal/logger"
)

// PushListener keeps a long-poll open on one session and runs the sync
// callback whenever the server signals a change. Signals that arrive
// while a pass is in flight collapse into a single follow-up pass.
type PushListener struct {
	session interfaces.Session
	sync    func(ctx context.Context)
	log     logger.Logger

	pending  atomic.Bool
	stopping atomic.Bool
	started  atomic.Bool
	wake     chan struct{}

	stopCh    chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	aborted   chan struct{}
	abortOnce sync.Once

	errMu sync.Mutex
	err   error
}

func NewPushListener(session interfaces.Session, sync func(ctx context.Context), log logger.Logger) *PushListener {
	return &PushListener{
		session: session,
		sync:    sync,
		log:     log,
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		aborted: make(chan struct{}),
	}
}

// Start launches the listening loop. Calls after the first are ignored.
func (l *PushListener) Start(ctx context.Context) {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	go l.run(ctx)
}

// Stop asks the loop to finish. It does not wait; use Join for that.
func (l *PushListener) Stop() {
	l.stopOnce.Do(func() {
		l.stopping.Store(true)
		close(l.stopCh)
	})
}

// Join blocks until the loop has exited. It returns at once if the
// listener was never started.
func (l *PushListener) Join() {
	if !l.started.Load() {
		return
	}
	<-l.done
}

// Aborted is closed when the loop ended because the session failed.
func (l *PushListener) Aborted() <-chan struct{} {
	return l.aborted
}

func (l *PushListener) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

// onChange is handed to the session as the push callback. It never
// blocks.
func (l *PushListener) onChange() {
	if l.stopping.Load() {
		return
	}
	l.pending.Store(true)
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *PushListener) run(parent context.Context) {
	defer close(l.done)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-l.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			l.abort(errors.Wrapf(mailerrors.ErrSessionAborted, "listener panic: %v", r))
		}
	}()

	for !l.finished(ctx) {
		if err := l.awaitChange(ctx); err != nil {
			if l.finished(ctx) {
				return
			}
			l.abort(err)
			return
		}

		if l.finished(ctx) {
			return
		}
		if l.pending.CompareAndSwap(true, false) {
			l.sync(ctx)
		}
	}
}

// awaitChange holds one long-poll open until a change is signalled, the
// long-poll ends on its own or ctx is done. It always waits for the
// long-poll to terminate before returning.
func (l *PushListener) awaitChange(ctx context.Context) error {
	idleCtx, idleCancel := context.WithCancel(ctx)
	defer idleCancel()

	result, err := l.session.AwaitChange(idleCtx, l.onChange)
	if err != nil {
		return err
	}

	select {
	case <-l.wake:
	case <-ctx.Done():
	case err, ok := <-result:
		if ok && err != nil {
			return err
		}
		return nil
	}

	idleCancel()
	for err := range result {
		if err != nil && ctx.Err() == nil {
			return err
		}
	}
	return nil
}

func (l *PushListener) finished(ctx context.Context) bool {
	return l.stopping.Load() || ctx.Err() != nil
}

func (l *PushListener) abort(err error) {
	if err == nil {
		err = mailerrors.ErrSessionAborted
	}
	l.errMu.Lock()
	l.err = err
	l.errMu.Unlock()

	l.log.Warnf("IMAP listener aborted: %v", err)
	l.abortOnce.Do(func() { close(l.aborted) })
}
