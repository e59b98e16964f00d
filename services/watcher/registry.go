package watcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailobserver/interfaces"
	"github.com/customeros/mailobserver/internal/logger"
	"github.com/customeros/mailobserver/internal/models"
	"github.com/customeros/mailobserver/internal/tracing"
)

// ObserverRegistry fans a batch of new messages out to every registered
// observer in registration order.
type ObserverRegistry struct {
	mu         sync.RWMutex
	dispatchMu sync.Mutex
	observers  []interfaces.MessageObserver
	log        logger.Logger
}

func NewObserverRegistry(log logger.Logger) *ObserverRegistry {
	return &ObserverRegistry{log: log}
}

// Register appends an observer. Registering the same observer twice
// delivers every batch to it twice.
func (r *ObserverRegistry) Register(observer interfaces.MessageObserver) {
	if observer == nil {
		r.log.Warn("Ignoring nil observer registration")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, observer)
}

func (r *ObserverRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observers)
}

// Dispatch delivers batch to each observer and returns how many of them
// failed. A failing observer never keeps the others from being called.
func (r *ObserverRegistry) Dispatch(ctx context.Context, batch []*models.Message) int {
	if len(batch) == 0 {
		return 0
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "ObserverRegistry.Dispatch")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("batch.size", len(batch))

	r.mu.RLock()
	observers := make([]interfaces.MessageObserver, len(r.observers))
	copy(observers, r.observers)
	r.mu.RUnlock()

	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	failed := 0
	for i, observer := range observers {
		if err := r.notify(ctx, observer, batch); err != nil {
			failed++
			tracing.TraceErr(span, err)
			r.log.Errorf("Observer #%d (%T) failed on batch of %d message(s): %v", i, observer, len(batch), err)
		}
	}

	span.SetTag("observers.total", len(observers))
	span.SetTag("observers.failed", failed)
	return failed
}

func (r *ObserverRegistry) notify(ctx context.Context, observer interfaces.MessageObserver, batch []*models.Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("observer panic: %v", rec)
			r.log.Debugf("Observer panic stack:\n%s", debug.Stack())
		}
	}()

	if err := observer.OnMessagesReceived(ctx, batch); err != nil {
		return errors.Wrap(err, fmt.Sprintf("%T", observer))
	}
	return nil
}
