// Package transport talks to the remote sync service over Connect.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"

	lsync "github.com/mmynk/ledgersync/internal/sync"
)

// Procedures served by the remote sync service.
const (
	PushProcedure = "/ledgersync.v1.SyncService/Push"
	PullProcedure = "/ledgersync.v1.SyncService/Pull"
)

// DeviceIDHeader carries the local device id on every call.
const DeviceIDHeader = "X-Device-Id"

const defaultTimeout = 30 * time.Second

var errNoToken = errors.New("no access token available")

// TokenSource supplies the bearer token for each call. Token storage and
// refresh live outside this package.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken returns a TokenSource that always yields token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

// Option configures a Client.
type Option func(*options)

type options struct {
	httpClient connect.HTTPClient
	tokens     TokenSource
	timeout    time.Duration
	deviceID   string
}

// WithHTTPClient sets the HTTP client used for calls. Defaults to http.DefaultClient.
func WithHTTPClient(c connect.HTTPClient) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTokenSource sets where bearer tokens come from.
func WithTokenSource(ts TokenSource) Option {
	return func(o *options) { o.tokens = ts }
}

// WithTimeout bounds each call. The caller's context deadline still applies.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithDeviceID sends the device id header on every call.
func WithDeviceID(id string) Option {
	return func(o *options) { o.deviceID = id }
}

// Client implements the sync engine's Transport against a Connect endpoint.
type Client struct {
	push    *connect.Client[lsync.PushRequest, lsync.PushResponse]
	pull    *connect.Client[lsync.PullRequest, lsync.PullResponse]
	timeout time.Duration
}

var _ lsync.Transport = (*Client)(nil)

// NewClient creates a client for the sync service at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	o := &options{
		httpClient: http.DefaultClient,
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	baseURL = strings.TrimRight(baseURL, "/")
	clientOpts := []connect.ClientOption{
		connect.WithCodec(JSONCodec{}),
		connect.WithInterceptors(headerInterceptor(o.tokens, o.deviceID)),
	}
	return &Client{
		push:    connect.NewClient[lsync.PushRequest, lsync.PushResponse](o.httpClient, baseURL+PushProcedure, clientOpts...),
		pull:    connect.NewClient[lsync.PullRequest, lsync.PullResponse](o.httpClient, baseURL+PullProcedure, clientOpts...),
		timeout: o.timeout,
	}
}

// Push implements sync.Transport.
func (c *Client) Push(ctx context.Context, req *lsync.PushRequest) (*lsync.PushResponse, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	resp, err := c.push.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, classify("push", err)
	}
	return resp.Msg, nil
}

// Pull implements sync.Transport.
func (c *Client) Pull(ctx context.Context, req *lsync.PullRequest) (*lsync.PullResponse, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	resp, err := c.pull.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, classify("pull", err)
	}
	return resp.Msg, nil
}

func (c *Client) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// classify marks answers that will not change on retry as rejections.
func classify(op string, err error) error {
	switch connect.CodeOf(err) {
	case connect.CodeInvalidArgument,
		connect.CodeUnauthenticated,
		connect.CodePermissionDenied,
		connect.CodeFailedPrecondition:
		return fmt.Errorf("%s: %w: %w", op, lsync.ErrRejected, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// headerInterceptor attaches the bearer token and device id to outgoing calls.
func headerInterceptor(tokens TokenSource, deviceID string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if tokens != nil {
				token, err := tokens(ctx)
				if err != nil {
					return nil, connect.NewError(connect.CodeUnauthenticated, fmt.Errorf("%w: %v", errNoToken, err))
				}
				if token == "" {
					return nil, connect.NewError(connect.CodeUnauthenticated, errNoToken)
				}
				req.Header().Set("Authorization", "Bearer "+token)
			}
			if deviceID != "" {
				req.Header().Set(DeviceIDHeader, deviceID)
			}
			return next(ctx, req)
		}
	}
}
