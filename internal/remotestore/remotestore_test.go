package remotestore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scribd/lucid/internal/entity"
	"github.com/scribd/lucid/internal/logging"
	"github.com/scribd/lucid/internal/metrics"
	"github.com/scribd/lucid/internal/query"
	"github.com/scribd/lucid/internal/requestqueue"
	"github.com/scribd/lucid/internal/store"
)

type widget struct {
	ID   entity.Identifier `json:"-"`
	Name string            `json:"name"`
}

func (w widget) Identifier() entity.Identifier       { return w.ID }
func (w widget) Merging(other entity.Entity) entity.Entity { return other }
func (w widget) ShouldOverwrite(with entity.Entity) bool   { return true }

// fakeTransport serves canned responses keyed by "METHOD PATH", recording
// every request it sees.
type fakeTransport struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	seen      []store.RequestConfig
}

type fakeResponse struct {
	status  int
	payload []byte
	delay   time.Duration
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{responses: make(map[string]fakeResponse)}
}

func (f *fakeTransport) stub(method, path string, status int, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[method+" "+path] = fakeResponse{status: status, payload: payload}
}

func (f *fakeTransport) Do(ctx context.Context, cfg store.RequestConfig) (int, []byte, error) {
	f.mu.Lock()
	f.seen = append(f.seen, cfg)
	resp, ok := f.responses[cfg.Method+" "+cfg.Path]
	f.mu.Unlock()
	if !ok {
		return 404, nil, nil
	}
	if resp.delay > 0 {
		time.Sleep(resp.delay)
	}
	return resp.status, resp.payload, nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

// widgetCodec is a hand-written Codec for the test fixture, the plain
// encoding/json style the teacher's own model codecs use.
type widgetCodec struct{}

type widgetWire struct {
	TypeTag string `json:"type_tag"`
	Remote  int64  `json:"remote"`
	Local   string `json:"local"`
	Name    string `json:"name"`
}

func (widgetCodec) DecodeOne(payload []byte) (entity.Entity, error) {
	var w widgetWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}
	return widget{ID: entity.NewRemoteIdentifier(w.TypeTag, w.Remote), Name: w.Name}, nil
}

func (c widgetCodec) DecodeList(payload []byte) ([]entity.Entity, []entity.Identifier, error) {
	var wire []widgetWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, nil, err
	}
	entities := make([]entity.Entity, len(wire))
	roots := make([]entity.Identifier, len(wire))
	for i, w := range wire {
		id := entity.NewRemoteIdentifier(w.TypeTag, w.Remote)
		entities[i] = widget{ID: id, Name: w.Name}
		roots[i] = id
	}
	return entities, roots, nil
}

func (widgetCodec) EncodeEntity(e entity.Entity) ([]byte, error) {
	w := e.(widget)
	return json.Marshal(widgetWire{TypeTag: w.ID.TypeTag, Remote: w.ID.Remote, Local: w.ID.Local, Name: w.Name})
}

func newTestStore(t *testing.T, transport Transport) (*Store, *requestqueue.Queue) {
	t.Helper()
	q, err := requestqueue.Open(filepath.Join(t.TempDir(), "q.db"))
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	s := New(Config{
		TypeTag:   "widget",
		Queue:     q,
		Transport: transport,
		Codec:     widgetCodec{},
		RateLimit: NewRateLimiter(1000, 1000),
		Logger:    logging.Nop(),
	})
	t.Cleanup(s.Close)
	return s, q
}

func TestGetDecodesSuccessfulResponse(t *testing.T) {
	transport := newFakeTransport()
	transport.stub("GET", "/widgets/7", 200, mustJSON(widgetWire{TypeTag: "widget", Remote: 7, Name: "sprocket"}))
	s, _ := newTestStore(t, transport)

	id := entity.NewRemoteIdentifier("widget", 7)
	res, err := s.Get(context.Background(), query.Query{Identifier: &id}, store.Remote(store.DerivedFromPath("/widgets/7"), true, store.CachePolicyNetworkOnly, nil))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(res.Flat) != 1 || res.Flat[0].(widget).Name != "sprocket" {
		t.Fatalf("get result = %+v, want one sprocket widget", res.Flat)
	}
}

func TestGetMapsNotFoundToEmptyResult(t *testing.T) {
	transport := newFakeTransport() // no stub registered: every request 404s
	s, _ := newTestStore(t, transport)

	id := entity.NewRemoteIdentifier("widget", 9)
	res, err := s.Get(context.Background(), query.Query{Identifier: &id}, store.Remote(store.DerivedFromPath("/widgets/9"), true, store.CachePolicyNetworkOnly, nil))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(res.Flat) != 0 {
		t.Fatalf("get result = %+v, want empty on 404", res.Flat)
	}
}

func TestGetFailsWhenIdentifierNotSynced(t *testing.T) {
	transport := newFakeTransport()
	s, _ := newTestStore(t, transport)

	id := entity.NewLocalIdentifier("widget", "local-only")
	binding := store.ExplicitRequest(store.RequestConfig{
		Method: "GET",
		Path:   "/widgets",
		Query: []store.QueryParam{{
			Name:  "id",
			Value: store.QueryValue{Kind: store.QueryValueIdentifier, Identifier: id},
		}},
	})

	_, err := s.Get(context.Background(), query.Query{Identifier: &id}, store.Remote(binding, true, store.CachePolicyNetworkOnly, nil))
	if err == nil {
		t.Fatal("expected an identifierNotSynced error, got nil")
	}
}

func TestGetConsultsResponseCacheBeforeTransport(t *testing.T) {
	transport := newFakeTransport()
	transport.stub("GET", "/widgets/3", 200, mustJSON(widgetWire{TypeTag: "widget", Remote: 3, Name: "live"}))
	s, _ := newTestStore(t, transport)

	cache := newFakeResponseCache()
	id := entity.NewRemoteIdentifier("widget", 3)
	rc := store.Remote(store.DerivedFromPath("/widgets/3"), true, store.CachePolicyCacheFirst, cache)

	if _, err := s.Get(context.Background(), query.Query{Identifier: &id}, rc); err != nil {
		t.Fatalf("first get: %v", err)
	}
	firstCalls := transport.callCount()
	if firstCalls != 1 {
		t.Fatalf("transport called %d times on first get, want 1", firstCalls)
	}

	res, err := s.Get(context.Background(), query.Query{Identifier: &id}, rc)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if transport.callCount() != firstCalls {
		t.Fatalf("transport called again on cache hit: %d calls, want still %d", transport.callCount(), firstCalls)
	}
	if len(res.Flat) != 1 {
		t.Fatalf("cached get result = %+v, want one entity", res.Flat)
	}
}

func TestGetRecordsRequestAndDecodeLatency(t *testing.T) {
	transport := newFakeTransport()
	transport.stub("GET", "/widgets/11", 200, mustJSON(widgetWire{TypeTag: "widget", Remote: 11, Name: "gizmo"}))
	s, _ := newTestStore(t, transport)

	reg := prometheus.NewRegistry()
	s.WithMetrics(metrics.New(reg))

	id := entity.NewRemoteIdentifier("widget", 11)
	if _, err := s.Get(context.Background(), query.Query{Identifier: &id}, store.Remote(store.DerivedFromPath("/widgets/11"), true, store.CachePolicyNetworkOnly, nil)); err != nil {
		t.Fatalf("get: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	counts := make(map[string]uint64, len(families))
	for _, f := range families {
		for _, m := range f.GetMetric() {
			counts[f.GetName()] += m.GetHistogram().GetSampleCount()
		}
	}
	if counts["entitystore_remote_request_duration_seconds"] != 1 {
		t.Fatalf("request latency samples = %d, want 1", counts["entitystore_remote_request_duration_seconds"])
	}
	if counts["entitystore_decode_duration_seconds"] != 1 {
		t.Fatalf("decode latency samples = %d, want 1", counts["entitystore_decode_duration_seconds"])
	}
}

func TestSetIsFireAndForget(t *testing.T) {
	transport := newFakeTransport()
	transport.stub("POST", "/widgets", 201, mustJSON(widgetWire{TypeTag: "widget", Remote: 1, Name: "new"}))
	s, _ := newTestStore(t, transport)

	id := entity.NewLocalIdentifier("widget", "local-1")
	_, err := s.Set(context.Background(), []entity.Entity{widget{ID: id, Name: "new"}}, store.WriteToRemote(store.DerivedFromPath("/widgets")))
	if err != store.ErrNone {
		t.Fatalf("set error = %v, want store.ErrNone", err)
	}
}

func TestSetAwaitBlocksForConfirmation(t *testing.T) {
	transport := newFakeTransport()
	transport.stub("POST", "/widgets", 201, mustJSON(widgetWire{TypeTag: "widget", Remote: 42, Name: "confirmed"}))
	s, _ := newTestStore(t, transport)

	id := entity.NewLocalIdentifier("widget", "local-1")
	written, err := s.SetAwait(context.Background(), []entity.Entity{widget{ID: id, Name: "confirmed"}}, store.WriteToRemote(store.DerivedFromPath("/widgets")))
	if err != nil {
		t.Fatalf("set await: %v", err)
	}
	if len(written) != 1 || written[0].(widget).Name != "confirmed" {
		t.Fatalf("set await result = %+v, want one confirmed widget", written)
	}
}

func TestRemoveSynchronouslyReportsAPIError(t *testing.T) {
	transport := newFakeTransport()
	transport.stub("DELETE", "/widgets/5", 500, []byte("boom"))
	s, _ := newTestStore(t, transport)

	id := entity.NewRemoteIdentifier("widget", 5)
	binding := store.ExplicitRequest(store.RequestConfig{Method: "DELETE", Path: "/widgets/5"})
	err := s.Remove(context.Background(), []entity.Identifier{id}, store.WriteToRemote(binding))
	if err == nil {
		t.Fatal("expected an error from a 500 response, got nil")
	}
}

// Remove never accepts a derivedFromPath binding (spec §4.9's Mutations): a
// delete must be addressed via an explicit request or the entity-type
// mapping function.
func TestRemoveRejectsDerivedFromPathBinding(t *testing.T) {
	transport := newFakeTransport()
	s, _ := newTestStore(t, transport)

	id := entity.NewRemoteIdentifier("widget", 5)
	err := s.Remove(context.Background(), []entity.Identifier{id}, store.WriteToRemote(store.DerivedFromPath("/widgets/5")))
	if err == nil {
		t.Fatal("expected a notSupported error for a derivedFromPath binding, got nil")
	}
	if transport.callCount() != 0 {
		t.Fatalf("transport called %d times, want 0: request must be rejected before dispatch", transport.callCount())
	}
}

func TestRemoveAllSynchronouslyDeletesMatchingEntities(t *testing.T) {
	transport := newFakeTransport()
	transport.stub("DELETE", "/widgets", 204, nil)
	s, _ := newTestStore(t, transport)

	binding := store.ExplicitRequest(store.RequestConfig{Method: "DELETE", Path: "/widgets"})
	ids, err := s.RemoveAll(context.Background(), query.Query{}, store.WriteToRemote(binding))
	if err != nil {
		t.Fatalf("remove all: %v", err)
	}
	if ids != nil {
		t.Fatalf("remove all ids = %+v, want nil for an unfiltered query", ids)
	}
	if transport.callCount() != 1 {
		t.Fatalf("transport called %d times, want 1", transport.callCount())
	}
}

func TestRemoveAllSynchronouslyReportsAPIError(t *testing.T) {
	transport := newFakeTransport()
	transport.stub("DELETE", "/widgets", 500, []byte("boom"))
	s, _ := newTestStore(t, transport)

	binding := store.ExplicitRequest(store.RequestConfig{Method: "DELETE", Path: "/widgets"})
	_, err := s.RemoveAll(context.Background(), query.Query{}, store.WriteToRemote(binding))
	if err == nil {
		t.Fatal("expected an error from a 500 response, got nil")
	}
}

// RemoveAll never accepts a derivedFromPath binding either (spec §4.9's
// Mutations).
func TestRemoveAllRejectsDerivedFromPathBinding(t *testing.T) {
	transport := newFakeTransport()
	s, _ := newTestStore(t, transport)

	_, err := s.RemoveAll(context.Background(), query.Query{}, store.WriteToRemote(store.DerivedFromPath("/widgets")))
	if err == nil {
		t.Fatal("expected a notSupported error for a derivedFromPath binding, got nil")
	}
	if transport.callCount() != 0 {
		t.Fatalf("transport called %d times, want 0: request must be rejected before dispatch", transport.callCount())
	}
}

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

type fakeResponseCache struct {
	mu    sync.Mutex
	store map[string][]byte
}

func newFakeResponseCache() *fakeResponseCache {
	return &fakeResponseCache{store: make(map[string][]byte)}
}

func (c *fakeResponseCache) Get(cfg store.RequestConfig) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.store[requestKey(cfg)]
	return v, ok
}

func (c *fakeResponseCache) Set(cfg store.RequestConfig, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[requestKey(cfg)] = payload
}
