package remotestore

import (
	"context"
	"time"

	"github.com/scribd/lucid/internal/entity"
	"github.com/scribd/lucid/internal/metrics"
	"github.com/scribd/lucid/internal/query"
	"github.com/scribd/lucid/internal/requestqueue"
	"github.com/scribd/lucid/internal/store"
	"github.com/scribd/lucid/internal/storeerr"
)

// Get fetches the single entity matching q.Identifier from the remote API
// (spec §4.9). A 404 response is mapped to an empty, non-error Result.
func (s *Store) Get(ctx context.Context, q query.Query, rc store.ReadContext) (query.Result, error) {
	if q.Identifier == nil || q.Identifier.Zero() {
		return query.Result{}, storeerr.New("RemoteStore.Get", storeerr.KindIdentifierNotFound)
	}

	cfg, err := s.resolveConfig(OpGet, rc.Endpoint, q, nil, []entity.Identifier{*q.Identifier})
	if err != nil {
		return query.Result{}, storeerr.Wrap("RemoteStore.Get", storeerr.KindInvalidContext, err)
	}
	cfg, err = substituteIdentifiers(cfg)
	if err != nil {
		return query.Result{}, err
	}

	if rc.CachePolicy == store.CachePolicyCacheFirst && rc.ResponseCache != nil {
		if payload, ok := rc.ResponseCache.Get(cfg); ok {
			return s.decodeOneResult(ctx, payload, true)
		}
	}

	v, err, _ := s.inFlight.Do(requestKey(cfg), func() (interface{}, error) {
		return s.doOne(ctx, cfg, []entity.Identifier{*q.Identifier})
	})
	if err != nil {
		return query.Result{}, err
	}
	res := v.(fetchResult)
	if res.notFound {
		return query.Result{}, nil
	}
	if rc.ResponseCache != nil {
		rc.ResponseCache.Set(cfg, res.payload)
	}
	return s.decodeOneResult(ctx, res.payload, false)
}

// Search fetches every entity matching q from the remote API (spec §4.9).
func (s *Store) Search(ctx context.Context, q query.Query, rc store.ReadContext) (query.Result, error) {
	cfg, err := s.resolveConfig(OpSearch, rc.Endpoint, q, nil, nil)
	if err != nil {
		return query.Result{}, storeerr.Wrap("RemoteStore.Search", storeerr.KindInvalidContext, err)
	}
	cfg, err = substituteIdentifiers(cfg)
	if err != nil {
		return query.Result{}, err
	}

	if rc.CachePolicy == store.CachePolicyCacheFirst && rc.ResponseCache != nil {
		if payload, ok := rc.ResponseCache.Get(cfg); ok {
			return s.decodeListResult(ctx, payload, true)
		}
	}

	ids, _ := q.EnumerableIdentifiers()
	v, err, _ := s.inFlight.Do(requestKey(cfg), func() (interface{}, error) {
		return s.doOne(ctx, cfg, ids)
	})
	if err != nil {
		return query.Result{}, err
	}
	res := v.(fetchResult)
	if res.notFound {
		return query.Result{}, nil
	}
	if rc.ResponseCache != nil {
		rc.ResponseCache.Set(cfg, res.payload)
	}
	result, err := s.decodeListResult(ctx, res.payload, false)
	if err != nil {
		return query.Result{}, err
	}
	if !rc.TrustRemoteFiltering {
		result = result.FilterToRoots()
	}
	return result, nil
}

type fetchResult struct {
	payload  []byte
	notFound bool
}

// doOne enqueues a single request and interprets its terminal result,
// mapping 404 to notFound and any other non-2xx status to a KindAPI error.
func (s *Store) doOne(ctx context.Context, cfg store.RequestConfig, ids []entity.Identifier) (fetchResult, error) {
	req := requestqueue.Request{
		Token:       newRequestID(),
		Method:      cfg.Method,
		Path:        cfg.Path + queryStringSuffix(cfg.Query),
		Body:        cfg.Body,
		Identifiers: ids,
		EnqueuedAt:  time.Now(),
	}
	result, err := s.enqueueAndWait(ctx, req)
	if err != nil {
		return fetchResult{}, err
	}
	if result.Err != nil {
		return fetchResult{}, storeerr.Wrap("RemoteStore.doOne", storeerr.KindAPI, result.Err)
	}
	if result.StatusCode == 404 {
		return fetchResult{notFound: true}, nil
	}
	if result.StatusCode < 200 || result.StatusCode >= 300 {
		return fetchResult{}, storeerr.Wrap("RemoteStore.doOne", storeerr.KindAPI,
			&storeerr.APIError{Status: result.StatusCode, Payload: result.Payload})
	}
	if len(result.Payload) == 0 {
		return fetchResult{}, storeerr.New("RemoteStore.doOne", storeerr.KindEmptyResponse)
	}
	return fetchResult{payload: result.Payload}, nil
}

func queryStringSuffix(params []store.QueryParam) string {
	qs := encodeQueryString(params)
	if qs == "" {
		return ""
	}
	return "?" + qs
}

// decodeOneResult runs codec.DecodeOne on the dedicated decode queue, kept
// isolated from any queue the caller's own goroutine might be blocked in
// (spec §5).
func (s *Store) decodeOneResult(ctx context.Context, payload []byte, fromCache bool) (query.Result, error) {
	timer := metrics.NewTimer()
	v, err := s.decodeQueue.Enqueue(ctx, 0, func(ctx context.Context) (interface{}, error) {
		e, err := s.codec.DecodeOne(payload)
		if err != nil {
			return nil, storeerr.Wrap("RemoteStore.decodeOneResult", storeerr.KindDeserialization, err)
		}
		return e, nil
	})
	s.recordDecodeLatency(timer)
	if err != nil {
		return query.Result{}, err
	}
	e := v.(entity.Entity)
	return query.Result{Flat: []entity.Entity{e}, Meta: query.Meta{FromCache: fromCache}}, nil
}

func (s *Store) decodeListResult(ctx context.Context, payload []byte, fromCache bool) (query.Result, error) {
	type decoded struct {
		entities []entity.Entity
		roots    []entity.Identifier
	}
	timer := metrics.NewTimer()
	v, err := s.decodeQueue.Enqueue(ctx, 0, func(ctx context.Context) (interface{}, error) {
		entities, roots, err := s.codec.DecodeList(payload)
		if err != nil {
			return nil, storeerr.Wrap("RemoteStore.decodeListResult", storeerr.KindDeserialization, err)
		}
		return decoded{entities: entities, roots: roots}, nil
	})
	s.recordDecodeLatency(timer)
	if err != nil {
		return query.Result{}, err
	}
	d := v.(decoded)
	return query.Result{Flat: d.entities, Meta: query.Meta{RootIdentifiers: d.roots, FromCache: fromCache}}, nil
}

// Set creates or updates entities remotely. The default mode is
// fire-and-forget: requests are durably queued and Set returns immediately
// with store.ErrNone (spec §4.9's "none" mutation result). Use SetAwait for
// a call that blocks for server confirmation.
func (s *Store) Set(ctx context.Context, entities []entity.Entity, wc store.WriteContext) ([]entity.Entity, error) {
	if err := s.enqueueSet(ctx, entities, wc); err != nil {
		return nil, err
	}
	return nil, store.ErrNone
}

// SetAwait behaves like Set but blocks until every entity's request has
// reached a terminal state, returning the server-confirmed entities.
func (s *Store) SetAwait(ctx context.Context, entities []entity.Entity, wc store.WriteContext) ([]entity.Entity, error) {
	reqs, err := s.buildSetRequests(entities, wc)
	if err != nil {
		return nil, err
	}
	results, err := s.enqueueAndWaitMany(ctx, reqs)
	if err != nil {
		return nil, err
	}

	written := make([]entity.Entity, 0, len(entities))
	for _, req := range reqs {
		result := results[req.Token]
		if result.Err != nil {
			return nil, storeerr.Wrap("RemoteStore.SetAwait", storeerr.KindAPI, result.Err)
		}
		if result.StatusCode < 200 || result.StatusCode >= 300 {
			return nil, storeerr.Wrap("RemoteStore.SetAwait", storeerr.KindAPI,
				&storeerr.APIError{Status: result.StatusCode, Payload: result.Payload})
		}
		if len(result.Payload) == 0 {
			continue
		}
		decoded, err := s.decodeOneResult(ctx, result.Payload, false)
		if err != nil {
			return nil, err
		}
		written = append(written, decoded.Flat[0])
	}
	return written, nil
}

func (s *Store) enqueueSet(ctx context.Context, entities []entity.Entity, wc store.WriteContext) error {
	reqs, err := s.buildSetRequests(entities, wc)
	if err != nil {
		return err
	}
	for _, req := range reqs {
		if err := s.queue.Append(req); err != nil {
			return storeerr.Wrap("RemoteStore.enqueueSet", storeerr.KindAPI, err)
		}
	}
	return nil
}

func (s *Store) buildSetRequests(entities []entity.Entity, wc store.WriteContext) ([]requestqueue.Request, error) {
	reqs := make([]requestqueue.Request, 0, len(entities))
	for _, e := range entities {
		id := e.Identifier()
		op := OpCreate
		if id.HasRemote() {
			op = OpUpdate
		}
		cfg, err := s.resolveConfig(op, wc.Endpoint, query.Query{}, []entity.Entity{e}, []entity.Identifier{id})
		if err != nil {
			return nil, storeerr.Wrap("RemoteStore.buildSetRequests", storeerr.KindInvalidContext, err)
		}
		body, err := s.codec.EncodeEntity(e)
		if err != nil {
			return nil, storeerr.Wrap("RemoteStore.buildSetRequests", storeerr.KindDeserialization, err)
		}
		cfg.Body = body
		reqs = append(reqs, requestqueue.Request{
			Token:       newRequestID(),
			Method:      cfg.Method,
			Path:        cfg.Path + queryStringSuffix(cfg.Query),
			Body:        cfg.Body,
			Identifiers: []entity.Identifier{id},
			EnqueuedAt:  time.Now(),
		})
	}
	return reqs, nil
}

// Remove deletes the given identifiers remotely, synchronously (spec §4.9:
// remove/removeAll do not carry the "none" fire-and-forget exception set()
// has, since the caller's identifier set is the result).
func (s *Store) Remove(ctx context.Context, ids []entity.Identifier, wc store.WriteContext) error {
	reqs := make([]requestqueue.Request, 0, len(ids))
	for _, id := range ids {
		cfg, err := s.resolveConfig(OpRemove, wc.Endpoint, query.Query{Identifier: &id}, nil, []entity.Identifier{id})
		if err != nil {
			return storeerr.Wrap("RemoteStore.Remove", storeerr.KindInvalidContext, err)
		}
		cfg, err = substituteIdentifiers(cfg)
		if err != nil {
			return err
		}
		reqs = append(reqs, requestqueue.Request{
			Token:       newRequestID(),
			Method:      cfg.Method,
			Path:        cfg.Path + queryStringSuffix(cfg.Query),
			Body:        cfg.Body,
			Identifiers: []entity.Identifier{id},
			EnqueuedAt:  time.Now(),
		})
	}

	results, err := s.enqueueAndWaitMany(ctx, reqs)
	if err != nil {
		return err
	}
	for _, req := range reqs {
		result := results[req.Token]
		if result.Err != nil {
			return storeerr.Wrap("RemoteStore.Remove", storeerr.KindAPI, result.Err)
		}
		if result.StatusCode != 404 && (result.StatusCode < 200 || result.StatusCode >= 300) {
			return storeerr.Wrap("RemoteStore.Remove", storeerr.KindAPI,
				&storeerr.APIError{Status: result.StatusCode, Payload: result.Payload})
		}
	}
	return nil
}

// RemoveAll deletes every entity matching q remotely, synchronously.
func (s *Store) RemoveAll(ctx context.Context, q query.Query, wc store.WriteContext) ([]entity.Identifier, error) {
	cfg, err := s.resolveConfig(OpRemoveAll, wc.Endpoint, q, nil, nil)
	if err != nil {
		return nil, storeerr.Wrap("RemoteStore.RemoveAll", storeerr.KindInvalidContext, err)
	}
	cfg, err = substituteIdentifiers(cfg)
	if err != nil {
		return nil, err
	}

	ids, _ := q.EnumerableIdentifiers()
	req := requestqueue.Request{
		Token:       newRequestID(),
		Method:      cfg.Method,
		Path:        cfg.Path + queryStringSuffix(cfg.Query),
		Body:        cfg.Body,
		Identifiers: ids,
		EnqueuedAt:  time.Now(),
	}
	result, err := s.enqueueAndWait(ctx, req)
	if err != nil {
		return nil, err
	}
	if result.Err != nil {
		return nil, storeerr.Wrap("RemoteStore.RemoveAll", storeerr.KindAPI, result.Err)
	}
	if result.StatusCode < 200 || result.StatusCode >= 300 {
		return nil, storeerr.Wrap("RemoteStore.RemoveAll", storeerr.KindAPI,
			&storeerr.APIError{Status: result.StatusCode, Payload: result.Payload})
	}
	return ids, nil
}
