package bus

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gopkg.in/tomb.v2"

	"rate-throttler/internal/model"
)

// Subscriber receives rate updates. OnPrice is called from the
// subscription's own goroutine and may block; a returned error or a panic
// is reported as a delivery fault and does not end the subscription.
//
// Subscribers are identified by equality, so implementations must be
// comparable (pointer receivers are the usual choice).
type Subscriber interface {
	OnPrice(ccyPair string, rate float64) error
}

// FaultHandler is told about every failed delivery.
type FaultHandler func(sub Subscriber, err *DeliveryError)

// worker drains one mailbox into one subscriber. The tomb is Running while
// the loop goroutine is alive and Terminated once it has returned.
type worker struct {
	tomb tomb.Tomb

	id      string
	sub     Subscriber
	mailbox *Mailbox

	logger  *zap.Logger
	metrics *Metrics
	onFault FaultHandler
	onExit  func()
}

func startWorker(id string, sub Subscriber, mailbox *Mailbox, logger *zap.Logger, metrics *Metrics, onFault FaultHandler, onExit func()) *worker {
	w := &worker{
		id:      id,
		sub:     sub,
		mailbox: mailbox,
		logger:  logger.With(zap.String("subscription", id)),
		metrics: metrics,
		onFault: onFault,
		onExit:  onExit,
	}
	w.tomb.Go(w.loop)
	return w
}

func (w *worker) loop() error {
	if w.onExit != nil {
		defer w.onExit()
	}
	ctx := w.tomb.Context(context.Background())
	for {
		u, err := w.mailbox.Take(ctx)
		if err != nil {
			if errors.Is(err, ErrMailboxClosed) || ctx.Err() != nil {
				w.logger.Debug("worker finished")
				return nil
			}
			return err
		}
		w.deliver(u)
	}
}

func (w *worker) deliver(u model.Update) {
	err := w.call(u)
	if err == nil {
		w.metrics.incDelivered()
		return
	}

	w.metrics.incFaults()
	derr := &DeliveryError{SubscriptionID: w.id, Update: u, Err: err}
	if w.onFault != nil {
		w.report(derr)
		return
	}
	w.logger.Warn("delivery failed", zap.String("pair", u.Key), zap.Float64("rate", u.Rate), zap.Error(err))
}

// report hands derr to the fault handler. A panicking handler is logged
// and the worker keeps running.
func (w *worker) report(derr *DeliveryError) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("fault handler panicked", zap.Any("panic", r), zap.NamedError("fault", derr))
		}
	}()
	w.onFault(w.sub, derr)
}

func (w *worker) call(u model.Update) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return w.sub.OnPrice(u.Key, u.Rate)
}

// Kill cancels the mailbox and asks the loop to stop. An in-flight
// OnPrice call is not interrupted.
func (w *worker) Kill() {
	w.mailbox.Cancel()
	w.tomb.Kill(nil)
}

// Wait blocks until the loop has returned.
func (w *worker) Wait() error {
	return w.tomb.Wait()
}

// Dead is closed once the worker is Terminated.
func (w *worker) Dead() <-chan struct{} {
	return w.tomb.Dead()
}
