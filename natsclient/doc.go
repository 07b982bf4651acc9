// Package natsclient wraps the NATS Go client for vatdata's JetStream
// key-value backend.
//
// Client adds three things to a bare nats.Conn: a circuit breaker that
// fails fast after repeated connection failures, structured slog logging of
// connection events, and classified errors (everything network-related is
// transient). KVStore wraps a jetstream.KeyValue with per-operation timeouts
// and a value size limit.
//
// # Basic Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "vat_a"})
//	if err != nil {
//	    return err
//	}
//	kv := client.NewKVStore(bucket)
//
// # Circuit Breaker
//
// After the configured number of consecutive failures (default 5) the
// circuit opens and Connect returns ErrCircuitOpen. The circuit half-opens
// after its backoff, which doubles on every trip up to WithMaxBackoff.
//
// # Testing
//
// NewTestClient starts a JetStream-enabled NATS container through
// testcontainers-go. Tests that use it carry the "integration" build tag.
package natsclient
