package remotestore

import (
	"sync"

	"github.com/scribd/lucid/internal/requestqueue"
)

// batchWaiter collects the terminal results for a set of in-flight request
// tokens (a single SetAwait or Remove call dispatches one HTTP request per
// entity or identifier) and closes done
// once every token has resolved. One Store-wide requestqueue.Handler looks up
// the owning waiter per completed token rather than registering/unregistering
// a handler per call (spec §4.10: "a response handler tracks a set of request
// tokens").
type batchWaiter struct {
	mu        sync.Mutex
	remaining map[string]bool
	results   map[string]requestqueue.Result
	done      chan struct{}
}

func newBatchWaiter(tokens []string) *batchWaiter {
	remaining := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		remaining[t] = true
	}
	return &batchWaiter{
		remaining: remaining,
		results:   make(map[string]requestqueue.Result, len(tokens)),
		done:      make(chan struct{}),
	}
}

// resolve records a result for token, closing done once no tokens remain.
// Reports whether this waiter still had token outstanding (false means some
// other waiter, or none, owns it).
func (w *batchWaiter) resolve(result requestqueue.Result) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.remaining[result.Token] {
		return false
	}
	delete(w.remaining, result.Token)
	w.results[result.Token] = result
	if len(w.remaining) == 0 {
		close(w.done)
	}
	return true
}

func (w *batchWaiter) snapshot() map[string]requestqueue.Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]requestqueue.Result, len(w.results))
	for k, v := range w.results {
		out[k] = v
	}
	return out
}

// waiterRegistry maps outstanding request tokens to the batchWaiter that
// owns them, so the single Store-wide response handler can route a
// completed token to the right caller.
type waiterRegistry struct {
	mu    sync.Mutex
	byTok map[string]*batchWaiter
}

func newWaiterRegistry() *waiterRegistry {
	return &waiterRegistry{byTok: make(map[string]*batchWaiter)}
}

func (r *waiterRegistry) add(w *batchWaiter, tokens []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tokens {
		r.byTok[t] = w
	}
}

func (r *waiterRegistry) remove(tokens []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tokens {
		delete(r.byTok, t)
	}
}

func (r *waiterRegistry) deliver(result requestqueue.Result) {
	r.mu.Lock()
	w, ok := r.byTok[result.Token]
	if ok {
		delete(r.byTok, result.Token)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	w.resolve(result)
}
