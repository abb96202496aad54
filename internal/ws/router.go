package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// internal (untyped) handler signature.
type rawHandler func(ctx context.Context, c *ConnContext, body json.RawMessage) error

// Router keeps a map[event]handler, à-la gin.Engine. Handlers push through
// the hub rather than returning responses, so there is no ack frame; only
// failures produce an "error" reply.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]rawHandler
}

func NewRouter() *Router { return &Router{handlers: make(map[string]rawHandler)} }

// Register binds an event to a strongly-typed handler.
func Register[Req any](
	r *Router,
	event string,
	h func(ctx context.Context, c *ConnContext, req Req) error,
) {
	if event == "" {
		panic("ws router: empty event")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[event] = func(ctx context.Context, c *ConnContext, body json.RawMessage) error {
		var req Req
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				return err
			}
		}
		return h(ctx, c, req)
	}
}

// dispatch is called by the server's reader loop.
func (r *Router) dispatch(ctx context.Context, c *ConnContext, env Envelope) error {
	r.mu.RLock()
	h, ok := r.handlers[env.Event]
	r.mu.RUnlock()
	if !ok {
		return errors.New("unknown_event")
	}
	return h(ctx, c, env.Body)
}
