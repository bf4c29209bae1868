package client

import (
	"context"
	"strconv"

	"github.com/ValentinKolb/respKV/common"
)

// --------------------------------------------------------------------------
// Key-Value Commands
// --------------------------------------------------------------------------

// Get reads the value for a key. loaded is false when the key does not
// exist (the wire reply is null, not an error).
func (c *Client) Get(ctx context.Context, key string) (value []byte, loaded bool, err error) {
	req := common.NewKeyCommand("GET", []byte(key), []byte(key))
	req.Retryable = true
	v, err := c.mux.Do(ctx, req)
	if err != nil {
		return nil, false, err
	}
	if v.IsNull() {
		return nil, false, nil
	}
	b, err := v.AsBytes()
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set stores a key-value pair.
func (c *Client) Set(ctx context.Context, key string, value []byte) error {
	req := common.NewKeyCommand("SET", []byte(key), []byte(key), value)
	_, err := c.mux.Do(ctx, req)
	return err
}

// SetE stores a key-value pair that expires after ttlSeconds.
func (c *Client) SetE(ctx context.Context, key string, value []byte, ttlSeconds int64) error {
	req := common.NewKeyCommand("SET", []byte(key),
		[]byte(key), value, []byte("EX"), []byte(strconv.FormatInt(ttlSeconds, 10)))
	_, err := c.mux.Do(ctx, req)
	return err
}

// SetIfUnset stores a key-value pair with expiration only when the key does
// not exist yet. It returns false (and no error) when the key was already
// set: the condition-unmet reply is null on the wire.
func (c *Client) SetIfUnset(ctx context.Context, key string, value []byte, ttlSeconds int64) (bool, error) {
	args := [][]byte{[]byte(key), value}
	if ttlSeconds > 0 {
		args = append(args, []byte("EX"), []byte(strconv.FormatInt(ttlSeconds, 10)))
	}
	args = append(args, []byte("NX"))
	req := common.NewKeyCommand("SET", []byte(key), args...)
	v, err := c.mux.Do(ctx, req)
	if err != nil {
		return false, err
	}
	return !v.IsNull(), nil
}

// Delete removes a key. It returns whether the key existed.
func (c *Client) Delete(ctx context.Context, key string) (bool, error) {
	req := common.NewKeyCommand("DEL", []byte(key), []byte(key))
	v, err := c.mux.Do(ctx, req)
	if err != nil {
		return false, err
	}
	n, err := v.AsInt64()
	return n > 0, err
}

// Has checks whether a key exists.
func (c *Client) Has(ctx context.Context, key string) (bool, error) {
	req := common.NewKeyCommand("EXISTS", []byte(key), []byte(key))
	req.Retryable = true
	v, err := c.mux.Do(ctx, req)
	if err != nil {
		return false, err
	}
	return v.AsBool()
}

// Expire sets a key's time to live. It returns whether the key existed.
func (c *Client) Expire(ctx context.Context, key string, ttlSeconds int64) (bool, error) {
	req := common.NewKeyCommand("EXPIRE", []byte(key),
		[]byte(key), []byte(strconv.FormatInt(ttlSeconds, 10)))
	v, err := c.mux.Do(ctx, req)
	if err != nil {
		return false, err
	}
	return v.AsBool()
}

// Incr atomically increments the integer value of a key and returns the new
// value.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	req := common.NewKeyCommand("INCR", []byte(key), []byte(key))
	v, err := c.mux.Do(ctx, req)
	if err != nil {
		return 0, err
	}
	return v.AsInt64()
}

// Ping checks liveness of an arbitrary connection.
func (c *Client) Ping(ctx context.Context) error {
	req := common.NewCommand("PING")
	req.Retryable = true
	_, err := c.mux.Do(ctx, req)
	return err
}

// Publish sends a message to a channel and returns the number of receiving
// subscribers on the contacted node.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	req := common.NewCommand("PUBLISH", []byte(channel), payload)
	v, err := c.mux.Do(ctx, req)
	if err != nil {
		return 0, err
	}
	return v.AsInt64()
}

// --------------------------------------------------------------------------
// CLIENT Subcommands
// --------------------------------------------------------------------------

// ClientKill closes server-side client connections matching the given
// filters and returns the number of killed connections (the legacy
// addr-only form replies OK, reported as 1).
func (c *Client) ClientKill(ctx context.Context, filters ...KillFilter) (int64, error) {
	args := [][]byte{[]byte("KILL")}
	for _, f := range filters {
		prefix, value := f.args()
		args = append(args, []byte(prefix), []byte(value))
	}
	v, err := c.mux.Do(ctx, common.NewCommand("CLIENT", args...))
	if err != nil {
		return 0, err
	}
	if n, err := v.AsInt64(); err == nil {
		return n, nil
	}
	return 1, nil
}

// ClientPause suspends command processing on the server for the given
// duration; kind selects whether only writes or all commands are paused.
func (c *Client) ClientPause(ctx context.Context, timeoutMs int64, kind PauseKind) error {
	_, err := c.mux.Do(ctx, common.NewCommand("CLIENT",
		[]byte("PAUSE"), []byte(strconv.FormatInt(timeoutMs, 10)), []byte(kind.token())))
	return err
}

// ClientReply controls whether the server replies to commands. OFF and SKIP
// are written without awaiting a reply, since by definition none arrives.
func (c *Client) ClientReply(ctx context.Context, flag ReplyFlag) error {
	req := common.NewCommand("CLIENT", []byte("REPLY"), []byte(flag.token()))
	if flag != ReplyOn {
		req.NoReply = true
		return c.mux.Send(req)
	}
	_, err := c.mux.Do(ctx, req)
	return err
}

// ClientUnblock unblocks a blocked client by its ID. It returns whether the
// client was actually blocked.
func (c *Client) ClientUnblock(ctx context.Context, id int64, flag UnblockFlag) (bool, error) {
	args := [][]byte{[]byte("UNBLOCK"), []byte(strconv.FormatInt(id, 10))}
	if flag == UnblockError {
		args = append(args, []byte(flag.token()))
	}
	v, err := c.mux.Do(ctx, common.NewCommand("CLIENT", args...))
	if err != nil {
		return false, err
	}
	return v.AsBool()
}
