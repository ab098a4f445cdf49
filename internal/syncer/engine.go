// Package syncer drains the offline operation queue into the remote store.
//
// A single worker goroutine owns the engine's scheduling state. Enqueue and
// drain requests reach it over channels; it runs at most one drain at a time
// and answers a drain request that arrives while another drain is running
// with an empty Result instead of queuing it.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"healthtrack/syncd/internal/connectivity"
	"healthtrack/syncd/internal/document"
	"healthtrack/syncd/internal/queue"
	"healthtrack/syncd/internal/remote"
)

const (
	DefaultMaxRetries = 5
	DefaultInterval   = 60 * time.Second
	DefaultKickDelay  = time.Second
)

var (
	ErrClosed    = errors.New("sync engine closed")
	errMissingID = errors.New("payload has no record id")
)

// Connectivity is the part of the connectivity monitor the engine needs.
type Connectivity interface {
	IsOnline() bool
	Subscribe(l connectivity.Listener) func()
}

type Config struct {
	// MaxRetries is the number of failed attempts after which an operation
	// is dropped.
	MaxRetries int
	// Interval between timer-driven drains.
	Interval time.Duration
	// KickDelay is how long after an online enqueue the engine drains.
	KickDelay time.Duration
	// DisableAutoSync turns off the timer, the enqueue kick and the
	// reconnect trigger. Drains then only happen through Drain.
	DisableAutoSync bool
}

// Result summarizes one drain. Failed counts every operation that failed
// during the drain; Dropped counts the failed operations that were removed
// from the queue for good.
type Result struct {
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Dropped   int       `json:"dropped"`
	Remaining int       `json:"remaining"`
	At        time.Time `json:"at"`
}

type enqueueRequest struct {
	ctx    context.Context
	intent queue.Intent
	reply  chan enqueueReply
}

type enqueueReply struct {
	op  queue.Operation
	err error
}

type drainRequest struct {
	reply chan Result
}

type Engine struct {
	queue    *queue.Queue
	remote   remote.Store
	conn     Connectivity
	registry *Registry
	cfg      Config
	metrics  *Metrics
	tracer   trace.Tracer
	now      func() time.Time

	enqueueCh chan enqueueRequest
	drainCh   chan drainRequest
	doneCh    chan struct{}
	stop      chan struct{}
	stopped   chan struct{}
	drains    sync.WaitGroup

	startOnce   sync.Once
	closeOnce   sync.Once
	cancel      context.CancelFunc
	unsubscribe func()

	mu   sync.RWMutex
	last Result
}

type Option func(*Engine)

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(q *queue.Queue, store remote.Store, conn Connectivity, registry *Registry, cfg Config, opts ...Option) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.KickDelay <= 0 {
		cfg.KickDelay = DefaultKickDelay
	}
	if registry == nil {
		registry = NewRegistry()
	}
	e := &Engine{
		queue:     q,
		remote:    store,
		conn:      conn,
		registry:  registry,
		cfg:       cfg,
		tracer:    otel.Tracer("healthtrack/syncd/syncer"),
		now:       time.Now,
		enqueueCh: make(chan enqueueRequest),
		drainCh:   make(chan drainRequest),
		doneCh:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the worker. Enqueue and Drain block until Start is called.
// Once ctx is done the worker exits and both return ErrClosed.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		e.cancel = cancel
		e.metrics.setOnline(e.conn.IsOnline())
		e.unsubscribe = e.conn.Subscribe(func(online bool) {
			e.metrics.setOnline(online)
			if online && !e.cfg.DisableAutoSync {
				glog.Infof("[sync]back online, triggering drain\n")
				e.Trigger()
			}
		})
		go e.run(ctx)
	})
}

// Close stops the worker and waits for an in-flight drain to return. The
// drain stops between operations; the operation being applied finishes.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		if e.unsubscribe != nil {
			e.unsubscribe()
		}
		close(e.stop)
		if e.cancel != nil {
			e.cancel()
			<-e.stopped
		}
		e.drains.Wait()
	})
}

// Enqueue queues intent and returns the stored operation. When online it
// also schedules a drain after the kick delay.
func (e *Engine) Enqueue(ctx context.Context, intent queue.Intent) (queue.Operation, error) {
	reply := make(chan enqueueReply, 1)
	select {
	case e.enqueueCh <- enqueueRequest{ctx: ctx, intent: intent, reply: reply}:
	case <-e.stop:
		return queue.Operation{}, ErrClosed
	case <-e.stopped:
		return queue.Operation{}, ErrClosed
	case <-ctx.Done():
		return queue.Operation{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.op, r.err
	case <-ctx.Done():
		return queue.Operation{}, ctx.Err()
	}
}

// Drain applies the queued operations and waits for the result. It returns
// an empty Result right away when offline or when a drain is already running.
func (e *Engine) Drain(ctx context.Context) (Result, error) {
	reply := make(chan Result, 1)
	select {
	case e.drainCh <- drainRequest{reply: reply}:
	case <-e.stop:
		return Result{}, ErrClosed
	case <-e.stopped:
		return Result{}, ErrClosed
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Trigger requests a drain without waiting for it.
func (e *Engine) Trigger() {
	go func() {
		select {
		case e.drainCh <- drainRequest{}:
		case <-e.stop:
		case <-e.stopped:
		}
	}()
}

// Pending lists the queued operations.
func (e *Engine) Pending(ctx context.Context) ([]queue.Operation, error) {
	return e.queue.List(ctx)
}

// LastResult returns the result of the most recent drain that did work.
func (e *Engine) LastResult() Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

func (e *Engine) IsOnline() bool {
	return e.conn.IsOnline()
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.stopped)

	var tick <-chan time.Time
	if !e.cfg.DisableAutoSync {
		ticker := time.NewTicker(e.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	var kick *time.Timer
	var kickC <-chan time.Time
	defer func() {
		if kick != nil {
			kick.Stop()
		}
	}()

	draining := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return

		case req := <-e.enqueueCh:
			op, err := e.queue.Enqueue(req.ctx, req.intent)
			req.reply <- enqueueReply{op: op, err: err}
			if err == nil && !e.cfg.DisableAutoSync && kickC == nil && e.conn.IsOnline() {
				kick = time.NewTimer(e.cfg.KickDelay)
				kickC = kick.C
			}

		case req := <-e.drainCh:
			if draining || !e.conn.IsOnline() {
				if req.reply != nil {
					req.reply <- Result{}
				}
				continue
			}
			draining = true
			e.startDrain(ctx, req.reply)

		case <-kickC:
			kickC = nil
			if !draining && e.conn.IsOnline() {
				draining = true
				e.startDrain(ctx, nil)
			}

		case <-tick:
			if draining || !e.conn.IsOnline() {
				continue
			}
			n, err := e.queue.Len(ctx)
			if err != nil {
				glog.Errorf("[sync]timer queue length: %v\n", err)
				continue
			}
			if n > 0 {
				draining = true
				e.startDrain(ctx, nil)
			}

		case <-e.doneCh:
			draining = false
		}
	}
}

func (e *Engine) startDrain(ctx context.Context, reply chan Result) {
	e.drains.Add(1)
	go func() {
		defer e.drains.Done()
		result := e.drain(ctx)
		e.mu.Lock()
		e.last = result
		e.mu.Unlock()
		if reply != nil {
			reply <- result
		}
		e.doneCh <- struct{}{}
	}()
}

// drain applies a snapshot of the queue in order. Operations enqueued while
// it runs wait for the next drain.
func (e *Engine) drain(ctx context.Context) (result Result) {
	ctx, span := e.tracer.Start(ctx, "syncer.drain")
	started := e.now()
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("[sync]drain panic: %v\n", r)
			span.SetStatus(codes.Error, fmt.Sprint(r))
		}
		result.At = e.now()
		span.SetAttributes(
			attribute.Int("sync.succeeded", result.Succeeded),
			attribute.Int("sync.failed", result.Failed),
			attribute.Int("sync.dropped", result.Dropped),
		)
		span.End()
		e.metrics.observeDrain(result, result.At.Sub(started))
	}()

	ops, err := e.queue.List(ctx)
	if err != nil {
		glog.Errorf("[sync]drain list: %v\n", err)
		span.SetStatus(codes.Error, err.Error())
		return result
	}
	for _, op := range ops {
		if ctx.Err() != nil {
			break
		}
		_, err := e.apply(ctx, op)
		if err == nil {
			if err := e.queue.Remove(ctx, op.ID); err != nil {
				glog.Errorf("[sync]remove applied id=%s: %v\n", op.ID, err)
			}
			result.Succeeded++
			e.metrics.observeOperation(op.Kind, "succeeded")
			glog.V(1).Infof("[sync]applied id=%s kind=%s resource=%s\n", op.ID, op.Kind, op.Resource)
			continue
		}

		result.Failed++
		op.RetryCount++
		if remote.IsPermanent(err) || op.RetryCount >= e.cfg.MaxRetries {
			glog.Warningf("[sync]dropping id=%s kind=%s resource=%s retries=%d: %v\n", op.ID, op.Kind, op.Resource, op.RetryCount, err)
			if err := e.queue.Remove(ctx, op.ID); err != nil {
				glog.Errorf("[sync]remove dropped id=%s: %v\n", op.ID, err)
			}
			result.Dropped++
			e.metrics.observeOperation(op.Kind, "dropped")
			continue
		}
		glog.Infof("[sync]retry later id=%s kind=%s resource=%s retries=%d: %v\n", op.ID, op.Kind, op.Resource, op.RetryCount, err)
		if err := e.queue.Replace(ctx, op); err != nil && !errors.Is(err, queue.ErrNotFound) {
			glog.Errorf("[sync]persist retry id=%s: %v\n", op.ID, err)
		}
		e.metrics.observeOperation(op.Kind, "retried")
	}

	if n, err := e.queue.Len(ctx); err == nil {
		result.Remaining = n
	}
	glog.Infof("[sync]drain succeeded=%d failed=%d dropped=%d remaining=%d\n", result.Succeeded, result.Failed, result.Dropped, result.Remaining)
	return result
}

// Apply writes intent to the remote store directly, with the same policy a
// queued operation gets, and returns the id of the affected record.
func (e *Engine) Apply(ctx context.Context, intent queue.Intent) (string, error) {
	if !intent.Kind.Valid() {
		return "", fmt.Errorf("invalid operation kind %q", intent.Kind)
	}
	return e.apply(ctx, queue.Operation{
		Kind:       intent.Kind,
		Resource:   intent.Resource,
		Payload:    intent.Payload,
		EnqueuedAt: e.now(),
	})
}

func (e *Engine) apply(ctx context.Context, op queue.Operation) (id string, err error) {
	ctx, span := e.tracer.Start(ctx, "syncer.apply", trace.WithAttributes(
		attribute.String("op.id", op.ID),
		attribute.String("op.kind", string(op.Kind)),
		attribute.String("op.resource", op.Resource),
		attribute.Int("op.retry_count", op.RetryCount),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	resource, _ := e.registry.Lookup(op.Resource)
	switch op.Kind {
	case queue.KindCreate:
		id, err = e.remote.Create(ctx, op.Resource, document.Clean(op.Payload))
		if err != nil {
			return "", err
		}
		if resource.Handler != nil {
			e.afterCreate(ctx, resource.Handler, op, id)
		}
		return id, nil

	case queue.KindUpdate:
		id, fields, ok := document.SplitID(op.Payload)
		if !ok {
			return "", remote.Permanent(fmt.Errorf("update %s: %w", op.Resource, errMissingID))
		}
		return id, e.remote.Update(ctx, op.Resource, id, document.Clean(fields))

	case queue.KindDelete:
		id, ok := op.Payload.ID()
		if !ok {
			return "", remote.Permanent(fmt.Errorf("delete %s: %w", op.Resource, errMissingID))
		}
		var err error
		if soft := resource.SoftDelete; soft != nil {
			err = e.remote.Update(ctx, op.Resource, id, document.Doc{soft.Field: soft.Value})
		} else {
			err = e.remote.Delete(ctx, op.Resource, id)
		}
		if errors.Is(err, remote.ErrNotFound) {
			// a replayed delete finds nothing left to remove
			return id, nil
		}
		return id, err

	default:
		return "", remote.Permanent(fmt.Errorf("unknown operation kind %q", op.Kind))
	}
}

func (e *Engine) afterCreate(ctx context.Context, h Handler, op queue.Operation, id string) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("[sync]after-create panic resource=%s id=%s: %v\n", op.Resource, id, r)
		}
	}()
	if err := h.AfterCreate(ctx, op, id); err != nil {
		glog.Warningf("[sync]after-create resource=%s id=%s: %v\n", op.Resource, id, err)
	}
}
