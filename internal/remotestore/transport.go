package remotestore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/scribd/lucid/internal/store"
)

// Transport sends one HTTP-shaped request and returns its status code and
// raw response body. Swappable so tests can supply a fake without standing
// up a real listener, and so a production caller can layer retries/tracing
// around net/http however it likes.
type Transport interface {
	Do(ctx context.Context, cfg store.RequestConfig) (status int, payload []byte, err error)
}

// HTTPTransport is the default Transport, built on net/http.Client.
type HTTPTransport struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPTransport builds an HTTPTransport against baseURL, defaulting to
// http.DefaultClient's timeout behavior unless client is supplied.
func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{BaseURL: baseURL, Client: client}
}

func (t *HTTPTransport) Do(ctx context.Context, cfg store.RequestConfig) (int, []byte, error) {
	u, err := url.Parse(t.BaseURL + cfg.Path)
	if err != nil {
		return 0, nil, err
	}
	// cfg.Path may already carry an encoded query string (RemoteStore folds
	// Query into Path before a request is durably queued, since
	// requestqueue.Request has no separate query field, so configs from its
	// dispatch loop have no Query); only override it when a caller hands the
	// transport a config that still carries Query.
	if len(cfg.Query) > 0 {
		u.RawQuery = encodeQueryString(cfg.Query)
	}

	var body io.Reader
	if len(cfg.Body) > 0 {
		body = bytes.NewReader(cfg.Body)
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, u.String(), body)
	if err != nil {
		return 0, nil, err
	}
	if len(cfg.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, payload, nil
}
