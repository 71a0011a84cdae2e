// Package remotestore implements RemoteStore (spec §4.9): the Storage API
// layer that turns get/search/set/removeAll/remove calls into HTTP requests
// against a remote API, durably queued via requestqueue so a request
// survives a process restart between enqueue and response, with a response
// cache shortcut, in-flight request coalescing, and the identifier
// sync-state validation gate that prevents sending a request addressed to
// an identifier the server has never seen.
package remotestore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/scribd/lucid/internal/entity"
	"github.com/scribd/lucid/internal/logging"
	"github.com/scribd/lucid/internal/metrics"
	"github.com/scribd/lucid/internal/query"
	"github.com/scribd/lucid/internal/requestqueue"
	"github.com/scribd/lucid/internal/store"
	"github.com/scribd/lucid/internal/storeerr"
	"github.com/scribd/lucid/internal/taskqueue"
)

// Store is a RemoteStore instance bound to one entity type tag.
type Store struct {
	typeTag string

	queue      *requestqueue.Queue
	transport  Transport
	codec      Codec
	configFunc ConfigFunc
	rateLimit  *RateLimiter
	logger     zerolog.Logger

	// decodeQueue runs response decoding in isolation from whatever queue the
	// caller's own goroutine may be blocked inside (spec §5: decoding must
	// never share a bounded queue with the operation that is waiting on it,
	// or the two can deadlock each other out).
	decodeQueue *taskqueue.Queue

	waiters *waiterRegistry
	inFlight singleflight.Group

	handlerToken uint64

	metrics *metrics.Store

	stop chan struct{}
	wg   sync.WaitGroup
}

// Config bundles Store's construction-time dependencies.
type Config struct {
	TypeTag     string
	Queue       *requestqueue.Queue
	Transport   Transport
	Codec       Codec
	ConfigFunc  ConfigFunc // optional; required only if a caller uses BindingDerivedFromEntityType
	RateLimit   *RateLimiter
	Logger      zerolog.Logger
	DecodeQueue *taskqueue.Queue // dedicated, non-barrier; see decodeQueue doc
}

// New constructs a Store and starts its background dispatch loop. Close
// stops the loop.
func New(cfg Config) *Store {
	if cfg.RateLimit == nil {
		cfg.RateLimit = NewRateLimiter(50, 50)
	}
	if cfg.DecodeQueue == nil {
		cfg.DecodeQueue = taskqueue.New(4)
	}
	s := &Store{
		typeTag:     cfg.TypeTag,
		queue:       cfg.Queue,
		transport:   cfg.Transport,
		codec:       cfg.Codec,
		configFunc:  cfg.ConfigFunc,
		rateLimit:   cfg.RateLimit,
		logger:      logging.WithComponent(cfg.Logger, "remotestore."+cfg.TypeTag),
		decodeQueue: cfg.DecodeQueue,
		waiters:     newWaiterRegistry(),
		stop:        make(chan struct{}),
	}
	s.handlerToken = s.queue.Register(s.onResult)
	s.wg.Add(1)
	go s.dispatchLoop()
	return s
}

// WithMetrics attaches a metrics.Store that the dispatch loop and decode
// helpers record request latency, decode latency, and queue depth against.
// Recording is a no-op until this is called.
func (s *Store) WithMetrics(m *metrics.Store) *Store {
	s.metrics = m
	return s
}

// Close stops the dispatch loop and unregisters the response handler. Queued
// requests and their durable state survive; a new Store opened over the same
// requestqueue.Queue resumes dispatching them.
func (s *Store) Close() {
	close(s.stop)
	s.wg.Wait()
	s.queue.Unregister(s.handlerToken)
}

// onResult is the single response handler registered for this Store's
// lifetime; it routes each completed request token to whichever batchWaiter
// is waiting on it (spec §4.10).
func (s *Store) onResult(result requestqueue.Result) {
	s.waiters.deliver(result)
}

// dispatchLoop drains the durable queue, rate-limits, sends via Transport,
// and reports the terminal result back through the queue (spec §4.9 step 4).
func (s *Store) dispatchLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		req, ok, err := s.queue.NextRequest()
		if err != nil {
			s.logger.Error().Err(err).Msg("dispatch: dequeue failed")
			s.waitForWorkOrStop()
			continue
		}
		if !ok {
			s.waitForWorkOrStop()
			continue
		}
		s.recordQueueDepth()

		if err := s.rateLimit.Wait(context.Background(), req.Path); err != nil {
			s.queue.Complete(requestqueue.Result{Token: req.Token, Err: err})
			continue
		}

		timer := metrics.NewTimer()
		status, payload, err := s.transport.Do(context.Background(), requestConfigFromRequest(req))
		s.recordRequestLatency(timer, req.Method)
		s.queue.Complete(requestqueue.Result{Token: req.Token, StatusCode: status, Payload: payload, Err: err})
	}
}

func (s *Store) waitForWorkOrStop() {
	select {
	case <-s.queue.Notify():
	case <-time.After(time.Second):
	case <-s.stop:
	}
}

func requestConfigFromRequest(r requestqueue.Request) store.RequestConfig {
	return store.RequestConfig{Method: r.Method, Path: r.Path, Body: r.Body}
}

// enqueueAndWait appends one request to the durable queue, registers a
// single-token waiter for it, and blocks for its terminal result or ctx
// cancellation. On cancellation the request is left queued (another process
// restart or a later call may still see it complete); the waiter is removed
// so the result, if it arrives late, is simply dropped rather than routed
// nowhere.
func (s *Store) enqueueAndWait(ctx context.Context, req requestqueue.Request) (requestqueue.Result, error) {
	w := newBatchWaiter([]string{req.Token})
	s.waiters.add(w, []string{req.Token})

	if err := s.queue.Append(req); err != nil {
		s.waiters.remove([]string{req.Token})
		return requestqueue.Result{}, storeerr.Wrap("RemoteStore.enqueueAndWait", storeerr.KindAPI, err)
	}

	select {
	case <-w.done:
		results := w.snapshot()
		return results[req.Token], nil
	case <-ctx.Done():
		s.waiters.remove([]string{req.Token})
		return requestqueue.Result{}, storeerr.Wrap("RemoteStore.enqueueAndWait", storeerr.KindNetworkCancelled, ctx.Err())
	}
}

// enqueueAndWaitMany dispatches multiple requests (one per entity or
// identifier, as SetAwait and Remove do) as a single batch and blocks until every one of them
// has resolved.
func (s *Store) enqueueAndWaitMany(ctx context.Context, reqs []requestqueue.Request) (map[string]requestqueue.Result, error) {
	tokens := make([]string, len(reqs))
	for i, r := range reqs {
		tokens[i] = r.Token
	}
	w := newBatchWaiter(tokens)
	s.waiters.add(w, tokens)

	for _, r := range reqs {
		if err := s.queue.Append(r); err != nil {
			s.waiters.remove(tokens)
			return nil, storeerr.Wrap("RemoteStore.enqueueAndWaitMany", storeerr.KindAPI, err)
		}
	}

	select {
	case <-w.done:
		return w.snapshot(), nil
	case <-ctx.Done():
		s.waiters.remove(tokens)
		return nil, storeerr.Wrap("RemoteStore.enqueueAndWaitMany", storeerr.KindNetworkCancelled, ctx.Err())
	}
}

func (s *Store) recordQueueDepth() {
	if s.metrics == nil {
		return
	}
	if n, err := s.queue.Len(); err == nil {
		s.metrics.QueueDepth.WithLabelValues("remotestore." + s.typeTag).Set(float64(n))
	}
}

func (s *Store) recordRequestLatency(timer metrics.Timer, method string) {
	if s.metrics != nil {
		timer.ObserveDuration(s.metrics.RequestLatency, s.typeTag, method)
	}
}

func (s *Store) recordDecodeLatency(timer metrics.Timer) {
	if s.metrics != nil {
		timer.ObserveDuration(s.metrics.DecodeLatency, s.typeTag)
	}
}

func newRequestID() string { return logging.NewRequestID() }
