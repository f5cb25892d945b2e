package upstream

import (
	"context"

	"github.com/PayRpc/rpc-relay/internal/jsonrpc"
)

// Router dispatches over HTTP or WebSocket depending on the target URL's
// scheme, presenting a single Dispatcher to callers.
type Router struct {
	HTTP *HTTPDispatcher
	WS   *WSDispatcher
}

// NewRouter builds a Router with fresh HTTP and WebSocket dispatchers.
func NewRouter() *Router {
	return &Router{HTTP: NewHTTPDispatcher(), WS: NewWSDispatcher()}
}

func (r *Router) Dispatch(ctx context.Context, url string, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if IsWebSocket(url) {
		return r.WS.Dispatch(ctx, url, req)
	}
	return r.HTTP.Dispatch(ctx, url, req)
}
