package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailobserver/interfaces"
	"github.com/customeros/mailobserver/internal/logger"
	"github.com/customeros/mailobserver/internal/models"
	"github.com/customeros/mailobserver/internal/tracing"
	"github.com/customeros/mailobserver/internal/utils"
)

type SyncOutcome string

const (
	SyncPrimed    SyncOutcome = "primed"
	SyncReset     SyncOutcome = "reset"
	SyncDelivered SyncOutcome = "delivered"
	SyncUnchanged SyncOutcome = "unchanged"
	SyncFailed    SyncOutcome = "failed"
)

type SyncResult struct {
	Outcome   SyncOutcome
	Delivered int
	Watermark *models.Watermark
	Err       error
}

// SyncEngine compares the server's watermark with the last known one
// and hands the messages in between to the observer registry.
type SyncEngine struct {
	client   interfaces.SessionClient
	mailbox  MailboxConfig
	store    interfaces.WatermarkStore
	registry *ObserverRegistry
	log      logger.Logger

	// syncMu serialises passes, persistMu serialises store writes and
	// stateMu guards the fields below for readers outside a pass.
	syncMu    sync.Mutex
	persistMu sync.Mutex
	stateMu   sync.RWMutex
	watermark *models.Watermark
	lastSync  time.Time
}

// NewSyncEngine builds an engine. store may be nil, in which case the
// watermark only lives in memory.
func NewSyncEngine(client interfaces.SessionClient, mailbox MailboxConfig, store interfaces.WatermarkStore, registry *ObserverRegistry, log logger.Logger) *SyncEngine {
	return &SyncEngine{
		client:   client,
		mailbox:  mailbox,
		store:    store,
		registry: registry,
		log:      log,
	}
}

// Restore loads the persisted watermark, if any.
func (e *SyncEngine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncEngine.Restore")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagMailbox(span, e.mailbox.Mailbox)

	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	stored, err := e.store.Load(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "load watermark")
	}
	if stored == nil {
		e.log.Infof("No stored watermark for %s, the first pass will prime", e.mailbox.Mailbox)
		return nil
	}

	e.setWatermark(*stored)
	e.log.Infof("Restored watermark %s for %s", stored, e.mailbox.Mailbox)
	return nil
}

// Watermark returns a copy of the current watermark or nil before the
// first successful pass.
func (e *SyncEngine) Watermark() *models.Watermark {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	if e.watermark == nil {
		return nil
	}
	w := *e.watermark
	return &w
}

func (e *SyncEngine) LastSync() time.Time {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.lastSync
}

// Reset forgets the in-memory and persisted watermark so that the next
// pass primes again.
func (e *SyncEngine) Reset(ctx context.Context) error {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	e.stateMu.Lock()
	e.watermark = nil
	e.stateMu.Unlock()

	if e.store == nil {
		return nil
	}
	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	return e.store.Delete(ctx)
}

// Synchronize runs one pass on its own short-lived session. Failures are
// reported in the result and leave the watermark untouched.
func (e *SyncEngine) Synchronize(ctx context.Context) SyncResult {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncEngine.Synchronize")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagMailbox(span, e.mailbox.Mailbox)

	session, err := openMailbox(ctx, e.client, e.mailbox, e.log)
	if err != nil {
		return e.failed(span, "open sync session", err)
	}
	defer closeSession(session, e.log)

	return e.synchronize(ctx, span, session)
}

// SynchronizeWith runs one pass on an already selected session.
func (e *SyncEngine) SynchronizeWith(ctx context.Context, session interfaces.Session) SyncResult {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncEngine.SynchronizeWith")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagMailbox(span, e.mailbox.Mailbox)

	return e.synchronize(ctx, span, session)
}

// synchronize must be called with syncMu held.
func (e *SyncEngine) synchronize(ctx context.Context, span opentracing.Span, session interfaces.Session) SyncResult {
	current, err := session.QueryWatermark(ctx, e.mailbox.Mailbox)
	if err != nil {
		return e.failed(span, "query watermark", err)
	}
	span.SetTag("watermark.current", current.String())

	stored := e.Watermark()
	switch {
	case stored == nil:
		e.advance(ctx, current)
		e.log.Infof("Primed %s at %s", e.mailbox.Mailbox, current)
		return e.result(span, SyncPrimed, 0, current)

	case !stored.SameEpoch(current):
		e.advance(ctx, current)
		e.log.Warnf("UIDVALIDITY of %s changed from %d to %d, watermark reset to %s without delivery",
			e.mailbox.Mailbox, stored.UIDValidity, current.UIDValidity, current)
		return e.result(span, SyncReset, 0, current)

	case current.NextUID < stored.NextUID:
		e.log.Warnf("UIDNEXT of %s went backwards from %d to %d within the same UIDVALIDITY, ignoring",
			e.mailbox.Mailbox, stored.NextUID, current.NextUID)
		e.touch()
		return e.result(span, SyncUnchanged, 0, *stored)

	case current.NextUID == stored.NextUID:
		e.touch()
		return e.result(span, SyncUnchanged, 0, *stored)
	}

	messages, err := session.FetchRange(ctx, e.mailbox.Mailbox, stored.NextUID, current.NextUID)
	if err != nil {
		return e.failed(span, "fetch new messages", err)
	}

	e.setWatermark(current)
	if len(messages) > 0 {
		e.log.Infof("Found %d new message(s) in %s (UID %d..%d)", len(messages), e.mailbox.Mailbox, stored.NextUID, current.NextUID-1)
		e.dispatch(ctx, messages)
	} else {
		e.log.Debugf("UIDNEXT of %s advanced to %d with no fetchable messages", e.mailbox.Mailbox, current.NextUID)
	}
	e.persist(ctx, current)

	return e.result(span, SyncDelivered, len(messages), current)
}

// dispatch hands the batch to the observers on a context that survives
// cancellation of ctx. The watermark is persisted past these messages
// right after, so a shutdown must not make the sinks drop them.
func (e *SyncEngine) dispatch(ctx context.Context, messages []*models.Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
	defer cancel()
	e.registry.Dispatch(ctx, messages)
}

func (e *SyncEngine) advance(ctx context.Context, w models.Watermark) {
	e.setWatermark(w)
	e.persist(ctx, w)
}

func (e *SyncEngine) setWatermark(w models.Watermark) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.watermark = &w
	e.lastSync = utils.Now()
}

func (e *SyncEngine) touch() {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.lastSync = utils.Now()
}

// persist writes w to the store. The write outlives cancellation of ctx
// so that a delivered batch is not redelivered after a clean shutdown.
func (e *SyncEngine) persist(ctx context.Context, w models.Watermark) {
	if e.store == nil {
		return
	}

	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := e.store.Save(ctx, w); err != nil {
		e.log.Errorf("Failed to persist watermark %s for %s: %v", w, e.mailbox.Mailbox, err)
	}
}

func (e *SyncEngine) result(span opentracing.Span, outcome SyncOutcome, delivered int, w models.Watermark) SyncResult {
	span.SetTag("sync.outcome", string(outcome))
	span.SetTag("sync.delivered", delivered)
	return SyncResult{Outcome: outcome, Delivered: delivered, Watermark: &w}
}

func (e *SyncEngine) failed(span opentracing.Span, step string, err error) SyncResult {
	err = errors.Wrap(err, step)
	tracing.TraceErr(span, err)
	span.SetTag("sync.outcome", string(SyncFailed))
	e.log.Errorf("Sync of %s failed: %v", e.mailbox.Mailbox, err)
	return SyncResult{Outcome: SyncFailed, Err: err, Watermark: e.Watermark()}
}
