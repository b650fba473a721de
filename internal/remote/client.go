// Package remote is the device side of the remote store: an HTTP client for the API of
// cmd/server that implements store.DocumentStore and store.ChangeFeed for the
// collections a device writes directly (live sessions and archived rounds), plus
// typed calls for the merge transactions, which only ever run server-side.
//
// A Client also reports connectivity (store.NetworkStatus): after a transport failure
// it claims to be offline until the probe interval has passed, so synchronizers stop
// hammering a server they cannot reach.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/trentd187/scorecard-sync/internal/repository"
	"github.com/trentd187/scorecard-sync/internal/store"
)

var (
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrForbidden    = errors.New("remote: forbidden")
	// ErrRejected is a 400: the server refused the request as invalid.
	ErrRejected = errors.New("remote: request rejected")
)

// DeviceHeader must match the header the server reads the write origin from.
const DeviceHeader = "X-Device-ID"

// Options configure a Client. Zero fields get defaults.
type Options struct {
	HTTPClient     *http.Client  // Must not set a Timeout, or event streams are cut; default http.DefaultClient
	RequestTimeout time.Duration // Per-request deadline of non-streaming calls; default 10s
	ProbeInterval  time.Duration // How long a failed transport reports offline; default 3s
}

// Client talks to the scorecard sync API.
type Client struct {
	http     *http.Client
	baseURL  string
	token    string
	deviceID string
	opts     Options

	failedAt atomic.Int64 // unix nanos of the last transport failure, 0 when healthy
}

// New returns a client for the API at baseURL ("http://host:8080"), authenticating
// with token and stamping writes with deviceID unless the context carries another
// origin (store.WithOrigin).
func New(baseURL, token, deviceID string, opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 3 * time.Second
	}
	return &Client{
		http:     opts.HTTPClient,
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:    strings.TrimSpace(token),
		deviceID: deviceID,
		opts:     opts,
	}
}

// IsConnected implements store.NetworkStatus.
func (c *Client) IsConnected() bool {
	failed := c.failedAt.Load()
	return failed == 0 || time.Since(time.Unix(0, failed)) >= c.opts.ProbeInterval
}

func (c *Client) noteTransport(err error) {
	if err == nil {
		c.failedAt.Store(0)
		return
	}
	c.failedAt.Store(time.Now().UnixNano())
}

// docPath maps a collection and key to its API path.
func docPath(collection, key string) (string, error) {
	switch collection {
	case repository.SessionsCollection:
		return "/api/v1/sessions/" + url.PathEscape(key), nil
	case repository.RoundsCollection:
		return "/api/v1/rounds/" + url.PathEscape(key), nil
	}
	return "", fmt.Errorf("%w: collection %q", store.ErrUnsupported, collection)
}

// Get implements store.DocumentStore.
func (c *Client) Get(ctx context.Context, collection, key string) (store.Document, error) {
	path, err := docPath(collection, key)
	if err != nil {
		return nil, err
	}
	var doc store.Document
	if err := c.do(ctx, http.MethodGet, path, nil, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Set implements store.DocumentStore.
func (c *Client) Set(ctx context.Context, collection, key string, doc store.Document, merge bool) error {
	path, err := docPath(collection, key)
	if err != nil {
		return err
	}
	if merge {
		path += "?merge=true"
	}
	if doc == nil {
		doc = store.Document{}
	}
	return c.do(ctx, http.MethodPut, path, doc, nil)
}

// Delete implements store.DocumentStore.
func (c *Client) Delete(ctx context.Context, collection, key string) error {
	path, err := docPath(collection, key)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// List is not offered by the API.
func (c *Client) List(ctx context.Context, collection string) (map[string]store.Document, error) {
	return nil, store.ErrUnsupported
}

// RunTransaction is not offered to devices; merge transactions run server-side.
func (c *Client) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	return store.ErrUnsupported
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	origin := store.Origin(ctx)
	if origin == "" {
		origin = c.deviceID
	}
	if origin != "" {
		req.Header.Set(DeviceHeader, origin)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, path, r)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.noteTransport(err)
		glog.V(1).Infof("[remote] %s %s: %v", method, path, err)
		return fmt.Errorf("%w: %v", store.ErrOffline, err)
	}
	c.noteTransport(nil)
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return statusError(resp)
}

// statusError maps an error response to the store's error vocabulary.
func statusError(resp *http.Response) error {
	var eb struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&eb)
	var base error
	switch resp.StatusCode {
	case http.StatusBadRequest:
		base = ErrRejected
	case http.StatusUnauthorized:
		base = ErrUnauthorized
	case http.StatusForbidden:
		base = ErrForbidden
	case http.StatusNotFound:
		return store.ErrNotFound
	case http.StatusConflict:
		base = store.ErrContention
	case http.StatusNotImplemented:
		base = store.ErrUnsupported
	case http.StatusServiceUnavailable:
		base = store.ErrOffline
	default:
		return fmt.Errorf("remote: status %d: %s", resp.StatusCode, eb.Error)
	}
	if eb.Error == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, eb.Error)
}
