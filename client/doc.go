// Package client is the application-facing facade of respKV. It turns typed
// operations into wire command requests, hands them to the multiplexing
// engine and converts completions back into typed results.
//
// Key Components:
//
//   - Connect: builds the engine from a ClientConfig snapshot, opens the
//     initial connections and returns the lifecycle handle
//   - Typed commands: Get, Set, SetE, SetIfUnset, Delete, Has, Expire,
//     Incr, Ping, Publish and a raw Do escape hatch
//   - Pub/sub and invalidation listeners: Subscribe, PSubscribe,
//     Invalidations (client-side caching)
//   - CLIENT subcommand argument types: KillFilter, PauseKind, ReplyFlag,
//     UnblockFlag, Toggle
//
// Usage Example:
//
//	cfg := common.ClientConfig{
//	  Endpoints: []string{"localhost:6379"},
//	}
//
//	c, _ := client.Connect(cfg)
//	defer c.Quit()
//
//	c.Set(ctx, "mykey", []byte("myvalue"))
//	value, loaded, _ := c.Get(ctx, "mykey")
//
//	sub, _ := c.Subscribe("events")
//	for msg := range sub.C() {
//	  fmt.Println(msg.Channel, string(msg.Payload))
//	}
//
// Retry Semantics:
//
//	Reads are re-issued transparently after a lost connection; writes are
//	not, since a write that applied before the drop would be applied twice.
//	Callers that know a write is idempotent can opt in via DoRequest with
//	Retryable set.
//
// Thread Safety:
//
//	The client is safe for concurrent use from multiple goroutines without
//	additional synchronization.
package client
