package requestqueue

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketRequests = []byte("requests")
	bucketMeta     = []byte("meta")

	keyHead = []byte("head")
	keyTail = []byte("tail")
)

const seedCounter = uint64(math.MaxUint64 / 2)

// Result is the terminal outcome of a dequeued request, delivered to every
// registered handler once the caller (RemoteStore) finishes processing it.
type Result struct {
	Token      string
	StatusCode int
	Payload    []byte
	Err        error
}

// Handler receives the terminal result for requests it cares about.
type Handler func(Result)

// Queue is a durable FIFO of Requests backed by a single bbolt database,
// plus an in-memory response-handler registry (handlers do not survive a
// restart; only the queue contents do).
type Queue struct {
	db *bolt.DB

	mu          sync.Mutex
	handlers    map[uint64]Handler
	nextHandler uint64

	notify chan struct{}
}

// Open opens (creating if absent) the bbolt database at path and ensures its
// buckets and head/tail counters exist, seeded at MaxUint64/2 per spec §4.10.
func Open(path string) (*Queue, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("requestqueue: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRequests); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if meta.Get(keyHead) == nil {
			if err := meta.Put(keyHead, encodeCounter(seedCounter)); err != nil {
				return err
			}
		}
		if meta.Get(keyTail) == nil {
			if err := meta.Put(keyTail, encodeCounter(seedCounter)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Queue{db: db, handlers: make(map[uint64]Handler), notify: make(chan struct{}, 1)}, nil
}

// Notify returns a channel that receives a value shortly after Append or
// Prepend adds a request, so a dispatcher can block instead of polling.
// Sends are non-blocking and coalesce, matching the "at least one wakeup per
// burst of work" contract, not "one wakeup per request."
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Close releases the underlying database handle.
func (q *Queue) Close() error {
	return q.db.Close()
}

func encodeCounter(c uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, c)
	return b
}

func decodeCounter(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// Append inserts r at the back of the queue (durable FIFO insert).
func (q *Queue) Append(r Request) error {
	err := q.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		tail := decodeCounter(meta.Get(keyTail)) + 1
		if err := meta.Put(keyTail, encodeCounter(tail)); err != nil {
			return err
		}
		data, err := marshalRequest(r)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRequests).Put(encodeCounter(tail), data)
	})
	if err == nil {
		q.signal()
	}
	return err
}

// Prepend moves r to the front of the queue, for retried requests.
func (q *Queue) Prepend(r Request) error {
	err := q.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		head := decodeCounter(meta.Get(keyHead)) - 1
		if err := meta.Put(keyHead, encodeCounter(head)); err != nil {
			return err
		}
		data, err := marshalRequest(r)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRequests).Put(encodeCounter(head), data)
	})
	if err == nil {
		q.signal()
	}
	return err
}

// NextRequest dequeues the oldest request (smallest surviving counter key),
// or ok=false if the queue is empty.
func (q *Queue) NextRequest() (r Request, ok bool, err error) {
	err = q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRequests)
		k, v := b.Cursor().First()
		if k == nil {
			return nil
		}
		decoded, decodeErr := unmarshalRequest(v)
		if decodeErr != nil {
			return decodeErr
		}
		if delErr := b.Delete(k); delErr != nil {
			return delErr
		}
		r, ok = decoded, true
		return nil
	})
	return r, ok, err
}

// RemoveRequests deletes every queued request for which matching returns
// true, returning the removed requests (spec §4.10's cancellation hook).
// RemoteStore does not call it: a cancelled call's request stays queued.
// After deletion it compacts the head/tail counters inward so the queue
// doesn't drift unbounded toward the uint64 edges under heavy churn.
func (q *Queue) RemoveRequests(matching func(Request) bool) ([]Request, error) {
	var removed []Request
	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRequests)
		c := b.Cursor()
		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			req, err := unmarshalRequest(v)
			if err != nil {
				return err
			}
			if matching(req) {
				removed = append(removed, req)
				keyCopy := make([]byte, len(k))
				copy(keyCopy, k)
				toDelete = append(toDelete, keyCopy)
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return compactCounters(tx)
	})
	return removed, err
}

// compactCounters resets head/tail to hug whatever keys remain, so a queue
// that drains to empty doesn't leave its counters wandered far from the
// seed value.
func compactCounters(tx *bolt.Tx) error {
	b := tx.Bucket(bucketRequests)
	meta := tx.Bucket(bucketMeta)
	firstKey, _ := b.Cursor().First()
	if firstKey == nil {
		if err := meta.Put(keyHead, encodeCounter(seedCounter)); err != nil {
			return err
		}
		return meta.Put(keyTail, encodeCounter(seedCounter))
	}
	lastKey, _ := b.Cursor().Last()
	if err := meta.Put(keyHead, encodeCounter(decodeCounter(firstKey)-1)); err != nil {
		return err
	}
	return meta.Put(keyTail, encodeCounter(decodeCounter(lastKey)))
}

// Register adds handler to the notification set and returns an opaque token
// for later Unregister.
func (q *Queue) Register(handler Handler) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextHandler++
	token := q.nextHandler
	q.handlers[token] = handler
	return token
}

// Unregister removes a handler previously added with Register.
func (q *Queue) Unregister(token uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.handlers, token)
}

// Complete notifies every registered handler of a dequeued request's
// terminal result (spec §4.10: "for every dequeued request, invoke every
// registered handler with the final result").
func (q *Queue) Complete(result Result) {
	q.mu.Lock()
	handlers := make([]Handler, 0, len(q.handlers))
	for _, h := range q.handlers {
		handlers = append(handlers, h)
	}
	q.mu.Unlock()

	for _, h := range handlers {
		h(result)
	}
}

// Len reports the number of requests currently queued (for metrics / tests).
func (q *Queue) Len() (int, error) {
	var n int
	err := q.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketRequests).Stats().KeyN
		return nil
	})
	return n, err
}
