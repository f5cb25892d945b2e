// Package upstream dispatches JSON-RPC requests to a provider URL over
// HTTP, or over a WebSocket connection for ws:// and wss:// endpoints.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PayRpc/rpc-relay/internal/jsonrpc"
)

// FailureClass classifies why a dispatch attempt failed, matching the
// last-error taxonomy.
type FailureClass int

const (
	FailureNone FailureClass = iota
	FailureTimeout
	FailureHTTPError
	FailureBadJSON
	FailureRPCError
)

// Error wraps a dispatch failure with its classification.
type Error struct {
	Class FailureClass
	Err   error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Dispatcher sends a JSON-RPC request to an upstream URL and returns the
// parsed response. Implementations must honor ctx's deadline.
type Dispatcher interface {
	Dispatch(ctx context.Context, url string, req *jsonrpc.Request) (*jsonrpc.Response, error)
}

// HTTPDispatcher sends requests over HTTP POST with a shared client, the
// default transport for every endpoint scheme other than ws/wss.
type HTTPDispatcher struct {
	Client *http.Client
}

// NewHTTPDispatcher builds a dispatcher with sane pooled-connection
// defaults; callers needing TLS customization can replace Client.
func NewHTTPDispatcher() *HTTPDispatcher {
	return &HTTPDispatcher{
		Client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, url string, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Class: FailureBadJSON, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Class: FailureHTTPError, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Class: FailureTimeout, Err: err}
		}
		return nil, &Error{Class: FailureHTTPError, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Class: FailureHTTPError, Err: fmt.Errorf("upstream status %d", resp.StatusCode)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Class: FailureTimeout, Err: err}
		}
		return nil, &Error{Class: FailureHTTPError, Err: err}
	}

	var rpcResp jsonrpc.Response
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, &Error{Class: FailureBadJSON, Err: err}
	}
	if rpcResp.IsError() {
		return &rpcResp, &Error{Class: FailureRPCError, Err: errors.New(rpcResp.Error.Message)}
	}
	return &rpcResp, nil
}

// IsWebSocket reports whether url uses the ws:// or wss:// scheme.
func IsWebSocket(url string) bool {
	return strings.HasPrefix(url, "ws://") || strings.HasPrefix(url, "wss://")
}
