package client

import (
	"context"

	"github.com/ValentinKolb/respKV/engine/dispatch"
)

// --------------------------------------------------------------------------
// Pub/Sub
// --------------------------------------------------------------------------

// Subscribe subscribes to the given channels and returns a listener that
// receives their messages. The listener must be closed by the caller; the
// server-side subscription persists (shared with other listeners) until
// Unsubscribe is called. Subscriptions survive reconnection: the engine
// replays them onto the fresh connection.
func (c *Client) Subscribe(channels ...string) (*dispatch.MessageSub, error) {
	sub := c.mux.Dispatcher().SubscribeMessages(channels, nil)
	if err := c.mux.Subscribe(channels...); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}

// PSubscribe subscribes to the given patterns.
func (c *Client) PSubscribe(patterns ...string) (*dispatch.MessageSub, error) {
	sub := c.mux.Dispatcher().SubscribeMessages(nil, patterns)
	if err := c.mux.PSubscribe(patterns...); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}

// Unsubscribe removes the server-side channel subscriptions.
func (c *Client) Unsubscribe(channels ...string) error {
	return c.mux.Unsubscribe(channels...)
}

// PUnsubscribe removes the server-side pattern subscriptions.
func (c *Client) PUnsubscribe(patterns ...string) error {
	return c.mux.PUnsubscribe(patterns...)
}

// --------------------------------------------------------------------------
// Client-Side Caching (Tracking)
// --------------------------------------------------------------------------

// Tracking toggles server-assisted invalidation tracking on every
// connection. While enabled, the server notifies the client whenever a key
// it has read may have changed; notices arrive on Invalidations listeners.
func (c *Client) Tracking(ctx context.Context, t Toggle) error {
	return c.mux.SetTracking(ctx, t == ToggleOn)
}

// Invalidations returns a listener for invalidation notices. Each notice
// carries the affected keys and the originating server; every registered
// listener receives each notice exactly once.
func (c *Client) Invalidations() *dispatch.InvalidationSub {
	return c.mux.Dispatcher().SubscribeInvalidations()
}
