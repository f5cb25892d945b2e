package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PayRpc/rpc-relay/internal/jsonrpc"
)

// WSDispatcher sends JSON-RPC requests over a pooled WebSocket connection
// per upstream URL, correlating concurrent in-flight calls by request id.
// This is request/response dispatch only, not a subscription client: each
// call sends one request and resolves exactly one matching response.
type WSDispatcher struct {
	mu    sync.Mutex
	conns map[string]*wsConn
}

// NewWSDispatcher returns an empty dispatcher; connections are dialed
// lazily on first use per URL.
func NewWSDispatcher() *WSDispatcher {
	return &WSDispatcher{conns: make(map[string]*wsConn)}
}

type wsConn struct {
	mu       sync.Mutex
	conn     *websocket.Conn
	pending  map[string]chan *jsonrpc.Response
	nextID   uint64
	closeErr error
}

func (d *WSDispatcher) connFor(ctx context.Context, url string) (*wsConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.conns[url]; ok && c.closeErr == nil {
		return c, nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &Error{Class: FailureHTTPError, Err: err}
	}

	c := &wsConn{conn: conn, pending: make(map[string]chan *jsonrpc.Response)}
	d.conns[url] = c
	go c.readLoop()
	return c, nil
}

func (c *wsConn) readLoop() {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.closeErr = err
			for _, ch := range c.pending {
				close(ch)
			}
			c.pending = nil
			c.mu.Unlock()
			return
		}

		var resp jsonrpc.Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			continue
		}
		key := string(resp.ID)

		c.mu.Lock()
		ch, ok := c.pending[key]
		if ok {
			delete(c.pending, key)
		}
		c.mu.Unlock()

		if ok {
			ch <- &resp
		}
	}
}

func (c *wsConn) call(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	idBytes, _ := json.Marshal(id)
	reqCopy := *req
	reqCopy.ID = idBytes

	ch := make(chan *jsonrpc.Response, 1)
	c.pending[string(idBytes)] = ch
	body, err := json.Marshal(&reqCopy)
	if err != nil {
		delete(c.pending, string(idBytes))
		c.mu.Unlock()
		return nil, &Error{Class: FailureBadJSON, Err: err}
	}
	writeErr := c.conn.WriteMessage(websocket.TextMessage, body)
	c.mu.Unlock()

	if writeErr != nil {
		return nil, &Error{Class: FailureHTTPError, Err: writeErr}
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, &Error{Class: FailureHTTPError, Err: fmt.Errorf("websocket connection closed")}
		}
		if resp.IsError() {
			return resp, &Error{Class: FailureRPCError, Err: fmt.Errorf("%s", resp.Error.Message)}
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, string(idBytes))
		c.mu.Unlock()
		return nil, &Error{Class: FailureTimeout, Err: ctx.Err()}
	}
}

// Dispatch sends req over the pooled connection for url, dialing lazily.
func (d *WSDispatcher) Dispatch(ctx context.Context, url string, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	c, err := d.connFor(ctx, url)
	if err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, req)
	if resp != nil {
		resp.ID = req.ID
	}
	return resp, err
}
