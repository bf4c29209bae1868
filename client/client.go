package client

import (
	"context"
	"sync"

	"github.com/ValentinKolb/respKV/common"
	"github.com/ValentinKolb/respKV/engine/mux"
	"github.com/ValentinKolb/respKV/resp"
	"github.com/benbjohnson/clock"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("client")

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

// Client is the lifecycle handle of one logical store client. It owns the
// multiplexing engine and all its background tasks; Done unblocks once the
// client has shut down and every task has been joined.
type Client struct {
	cfg common.ClientConfig
	mux *mux.Multiplexer

	doneCh   chan struct{}
	quitOnce sync.Once
	quitErr  error
}

// Connect validates and defaults the configuration, builds the engine and
// opens the initial connections. The configuration is an immutable snapshot:
// reconfiguring requires building a new client.
func Connect(cfg common.ClientConfig) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	common.InitLoggers(cfg.LogLevel)

	m, err := mux.New(cfg, clock.New())
	if err != nil {
		return nil, err
	}
	if err := m.Start(); err != nil {
		return nil, err
	}

	Logger.Infof("client connected%s", cfg.String())
	return &Client{
		cfg:    cfg,
		mux:    m,
		doneCh: make(chan struct{}),
	}, nil
}

// Done returns a channel that is closed once the client has fully shut
// down. Waiting on it is the "await the background task" idiom.
func (c *Client) Done() <-chan struct{} {
	return c.doneCh
}

// Quit gracefully shuts the client down: new commands are rejected,
// in-flight ones get a bounded drain window, all connections are closed and
// every background goroutine is joined before Quit returns.
func (c *Client) Quit() error {
	c.quitOnce.Do(func() {
		c.quitErr = c.mux.Quit()
		close(c.doneCh)
	})
	return c.quitErr
}

// --------------------------------------------------------------------------
// Raw access
// --------------------------------------------------------------------------

// Do issues an arbitrary command against any healthy connection and returns
// the raw reply value.
func (c *Client) Do(ctx context.Context, name string, args ...[]byte) (resp.Value, error) {
	return c.mux.Do(ctx, common.NewCommand(name, args...))
}

// DoRequest issues a fully specified command request (routing policy, retry
// policy). This is the escape hatch for commands the typed facade does not
// cover.
func (c *Client) DoRequest(ctx context.Context, req *common.CommandRequest) (resp.Value, error) {
	return c.mux.Do(ctx, req)
}
