package remotestore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/scribd/lucid/internal/entity"
	"github.com/scribd/lucid/internal/query"
	"github.com/scribd/lucid/internal/store"
	"github.com/scribd/lucid/internal/storeerr"
)

// Operation identifies which Storage API call a ConfigFunc is deriving a
// request for, since create vs. update vs. delete all need different HTTP
// methods from the same entity type.
type Operation int

const (
	OpGet Operation = iota
	OpSearch
	OpCreate
	OpUpdate
	OpRemove
	OpRemoveAll
)

// ConfigFunc builds a RequestConfig for a BindingDerivedFromEntityType
// operation, the registered "per-entity mapping function" of spec §4.9.
type ConfigFunc func(op Operation, q query.Query, entities []entity.Entity, ids []entity.Identifier) (store.RequestConfig, error)

// resolveConfig derives the RequestConfig for one call, honoring the three
// EndpointBinding kinds (spec §4.9).
func (s *Store) resolveConfig(op Operation, binding store.EndpointBinding, q query.Query, entities []entity.Entity, ids []entity.Identifier) (store.RequestConfig, error) {
	switch binding.Kind {
	case store.BindingExplicitRequest:
		if binding.Config == nil {
			return store.RequestConfig{}, storeerr.New("RemoteStore.resolveConfig", storeerr.KindInvalidContext)
		}
		return *binding.Config, nil
	case store.BindingDerivedFromPath:
		// remove/removeAll never accept derivedFromPath (spec §4.9's
		// Mutations): a delete must be addressed via an explicit request or
		// the entity-type mapping function, never a bare path template.
		if op == OpRemove || op == OpRemoveAll {
			return store.RequestConfig{}, storeerr.New("RemoteStore.resolveConfig", storeerr.KindNotSupported)
		}
		cfg := store.RequestConfig{Method: methodFor(op), Path: binding.Path}
		// A single get-by-identifier's path template already names the
		// resource (e.g. "/widgets/7"); only a search carries the query's
		// Identifier as a query parameter (see queryParamsFrom).
		if op == OpSearch {
			cfg.Query = queryParamsFrom(q)
		}
		return cfg, nil
	case store.BindingDerivedFromEntityType:
		if s.configFunc == nil {
			return store.RequestConfig{}, storeerr.New("RemoteStore.resolveConfig", storeerr.KindNotSupported)
		}
		return s.configFunc(op, q, entities, ids)
	default:
		return store.RequestConfig{}, storeerr.New("RemoteStore.resolveConfig", storeerr.KindNotSupported)
	}
}

func methodFor(op Operation) string {
	switch op {
	case OpGet, OpSearch:
		return "GET"
	case OpCreate:
		return "POST"
	case OpUpdate:
		return "PATCH"
	case OpRemove, OpRemoveAll:
		return "DELETE"
	default:
		return "GET"
	}
}

// queryParamsFrom carries q.Identifier, when set, as a single "identifier"
// query-string parameter for a derivedFromPath request. q.Filter is not
// translated into parameters, identifier predicates included; the server
// sees only the path and this one parameter.
func queryParamsFrom(q query.Query) []store.QueryParam {
	if q.Identifier == nil {
		return nil
	}
	return []store.QueryParam{{
		Name: "identifier",
		Value: store.QueryValue{Kind: store.QueryValueIdentifier, Identifier: *q.Identifier},
	}}
}

// substituteIdentifiers walks cfg's query parameters, replacing every
// Identifier-kind value with its remote component. Fails with
// identifierNotSynced if any such identifier has never been pushed (spec
// §4.9 step 1, §6's sync-state gate).
func substituteIdentifiers(cfg store.RequestConfig) (store.RequestConfig, error) {
	out := cfg
	out.Query = make([]store.QueryParam, len(cfg.Query))
	for i, p := range cfg.Query {
		v, err := substituteValue(p.Value)
		if err != nil {
			return store.RequestConfig{}, err
		}
		out.Query[i] = store.QueryParam{Name: p.Name, Value: v}
	}
	return out, nil
}

func substituteValue(v store.QueryValue) (store.QueryValue, error) {
	switch v.Kind {
	case store.QueryValueIdentifier:
		id, ok := v.Identifier.(entity.Identifier)
		if !ok {
			return store.QueryValue{}, storeerr.New("RemoteStore.substituteValue", storeerr.KindInvalidContext)
		}
		if id.SyncState() == entity.OutOfSync {
			return store.QueryValue{}, storeerr.New("RemoteStore.substituteValue", storeerr.KindIdentifierNotSynced)
		}
		if id.HasRemote() {
			return store.QueryValue{Kind: store.QueryValueString, String: strconv.FormatInt(id.Remote, 10)}, nil
		}
		return store.QueryValue{Kind: store.QueryValueString, String: id.Local}, nil
	case store.QueryValueArray:
		out := make([]store.QueryValue, len(v.Array))
		for i, inner := range v.Array {
			substituted, err := substituteValue(inner)
			if err != nil {
				return store.QueryValue{}, err
			}
			out[i] = substituted
		}
		return store.QueryValue{Kind: store.QueryValueArray, Array: out}, nil
	default:
		return v, nil
	}
}

// encodeQueryString renders cfg's ordered query parameters as a URL query
// string, preserving parameter order end to end (spec §6: "ordering
// preserved for idempotent caching").
func encodeQueryString(params []store.QueryParam) string {
	if len(params) == 0 {
		return ""
	}
	var b strings.Builder
	first := true
	for _, p := range params {
		for _, part := range flattenValue(p.Value) {
			if !first {
				b.WriteByte('&')
			}
			first = false
			b.WriteString(p.Name)
			b.WriteByte('=')
			b.WriteString(part)
		}
	}
	return b.String()
}

func flattenValue(v store.QueryValue) []string {
	switch v.Kind {
	case store.QueryValueArray:
		var out []string
		for _, inner := range v.Array {
			out = append(out, flattenValue(inner)...)
		}
		return out
	default:
		return []string{v.String}
	}
}

func requestKey(cfg store.RequestConfig) string {
	return fmt.Sprintf("%s %s?%s\x00%s", cfg.Method, cfg.Path, encodeQueryString(cfg.Query), cfg.Body)
}
