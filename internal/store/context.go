package store

// EndpointBindingKind selects how a RemoteStore derives the HTTP request
// config for an operation (spec §4.9).
type EndpointBindingKind int

const (
	// BindingNone means no remote endpoint is configured; remote operations
	// using this binding fail with notSupported.
	BindingNone EndpointBindingKind = iota
	// BindingDerivedFromPath builds the request from a fixed path template.
	BindingDerivedFromPath
	// BindingDerivedFromEntityType builds the request from the entity's type
	// tag via the store's registered per-type request-config function.
	BindingDerivedFromEntityType
	// BindingExplicitRequest carries a fully-formed RequestConfig.
	BindingExplicitRequest
)

// EndpointBinding tells RemoteStore how to derive (or supplies directly) the
// HTTP request configuration for an operation.
type EndpointBinding struct {
	Kind   EndpointBindingKind
	Path   string
	Config *RequestConfig
}

// DerivedFromPath builds an EndpointBinding from a fixed path template.
func DerivedFromPath(path string) EndpointBinding {
	return EndpointBinding{Kind: BindingDerivedFromPath, Path: path}
}

// DerivedFromEntityType builds an EndpointBinding resolved via the store's
// per-entity-type request-config mapping.
func DerivedFromEntityType() EndpointBinding {
	return EndpointBinding{Kind: BindingDerivedFromEntityType}
}

// ExplicitRequest wraps a fully-formed request config.
func ExplicitRequest(cfg RequestConfig) EndpointBinding {
	return EndpointBinding{Kind: BindingExplicitRequest, Config: &cfg}
}

// QueryValueKind distinguishes the three shapes an HTTP query parameter value
// may take (spec §6).
type QueryValueKind int

const (
	QueryValueString QueryValueKind = iota
	QueryValueIdentifier
	QueryValueArray
)

// QueryValue is one query-parameter value. An Identifier-kind value must be
// substituted with the identifier's remote component before sending; the
// sync-state gate in RemoteStore enforces that the substitution is possible.
type QueryValue struct {
	Kind       QueryValueKind
	String     string
	Identifier interface{} // entity.Identifier; kept as interface{} to avoid an import cycle with entity in request-shape-only code paths
	Array      []QueryValue
}

// QueryParam is one ordered query-string entry. Ordering is preserved end to
// end since it participates in response-cache key derivation (spec §6).
type QueryParam struct {
	Name  string
	Value QueryValue
}

// RequestConfig is the method/path/query/body shape RemoteStore emits,
// independent of any particular HTTP client (spec §6, "external interfaces").
type RequestConfig struct {
	Method string // one of GET, POST, PUT, PATCH, DELETE
	Path   string
	Query  []QueryParam
	Body   []byte
}

// CachePolicy controls whether RemoteStore consults/populates the supplied
// ResponseCache for a Remote ReadContext.
type CachePolicy int

const (
	// CachePolicyNetworkOnly never consults the response cache.
	CachePolicyNetworkOnly CachePolicy = iota
	// CachePolicyCacheFirst takes the response-cache shortcut when present.
	CachePolicyCacheFirst
)

// ResponseCache is consulted by RemoteStore's response-cache shortcut (spec
// §4.9): if it already holds a payload for a computed RequestConfig, the
// network round trip is skipped entirely.
type ResponseCache interface {
	Get(cfg RequestConfig) (payload []byte, ok bool)
	Set(cfg RequestConfig, payload []byte)
}

// ReadMode selects a ReadContext's data-source policy (spec §4.1).
type ReadMode int

const (
	ReadLocal ReadMode = iota
	ReadLocalOrRemote
	ReadLocalThenRemote
	ReadRemote
)

// ReadContext describes where a get/search call should source its data.
type ReadContext struct {
	Mode                 ReadMode
	Endpoint             EndpointBinding
	TrustRemoteFiltering bool
	CachePolicy          CachePolicy
	ResponseCache        ResponseCache
}

// Local reads only from the local (non-remote) store chain.
func Local() ReadContext { return ReadContext{Mode: ReadLocal} }

// LocalOr falls back to endpoint if the local chain misses.
func LocalOr(endpoint EndpointBinding) ReadContext {
	return ReadContext{Mode: ReadLocalOrRemote, Endpoint: endpoint}
}

// LocalThen reads local first but always also consults endpoint, merging the
// results (spec's localThen(remote) policy).
func LocalThen(endpoint EndpointBinding) ReadContext {
	return ReadContext{Mode: ReadLocalThenRemote, Endpoint: endpoint}
}

// Remote reads exclusively from endpoint.
func Remote(endpoint EndpointBinding, trustRemoteFiltering bool, cachePolicy CachePolicy, cache ResponseCache) ReadContext {
	return ReadContext{
		Mode:                 ReadRemote,
		Endpoint:             endpoint,
		TrustRemoteFiltering: trustRemoteFiltering,
		CachePolicy:          cachePolicy,
		ResponseCache:        cache,
	}
}

// WriteMode selects a WriteContext's data-target policy (spec §4.1).
type WriteMode int

const (
	WriteModeLocal WriteMode = iota
	WriteModeRemote
	WriteModeLocalAndRemote
)

// SyncStateHint controls the merge policy a set() applies (spec §4.1).
type SyncStateHint int

const (
	// HintNone applies the default shouldOverwrite/merging policy.
	HintNone SyncStateHint = iota
	// HintMergeIdentifier unconditionally replaces the existing entity
	// (identifier-level merge only), skipping shouldOverwrite/merging.
	HintMergeIdentifier
)

// WriteContext describes where a set/remove/removeAll call should apply.
type WriteContext struct {
	Mode     WriteMode
	Endpoint EndpointBinding
	SyncHint SyncStateHint
}

// WriteLocal writes only to the local store chain.
func WriteLocal() WriteContext { return WriteContext{Mode: WriteModeLocal} }

// WriteToRemote writes only to the remote store via endpoint.
func WriteToRemote(endpoint EndpointBinding) WriteContext {
	return WriteContext{Mode: WriteModeRemote, Endpoint: endpoint}
}

// WriteLocalAndRemote writes to both the local chain and endpoint.
func WriteLocalAndRemote(endpoint EndpointBinding) WriteContext {
	return WriteContext{Mode: WriteModeLocalAndRemote, Endpoint: endpoint}
}

// WithSyncHint returns a copy of wc with the given merge-policy hint.
func (wc WriteContext) WithSyncHint(hint SyncStateHint) WriteContext {
	wc.SyncHint = hint
	return wc
}
