// Package retry provides exponential backoff for operations that can fail
// transiently, such as NATS KV writes or connecting at startup.
//
// Do runs an operation until it succeeds, the attempt budget runs out, or the
// context ends. Errors wrapped with NonRetryable stop the loop at once, and
// Config.RetryIf narrows retries further:
//
//	cfg := retry.Backend(errors.IsTransient)
//	err := retry.Do(ctx, cfg, func() error {
//	    _, err := kv.Put(ctx, key, value)
//	    return err
//	})
//
// DoWithResult does the same for operations returning a value:
//
//	bucket, err := retry.DoWithResult(ctx, retry.Quick(), func() (jetstream.KeyValue, error) {
//	    return client.CreateKeyValueBucket(ctx, cfg)
//	})
//
// Presets:
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay
//   - Quick(): 10 attempts, 50ms-1s delay
//   - Backend(pred): 5 attempts, 20ms-1s delay, retrying only when pred(err) is true
//
// All functions are safe for concurrent use.
package retry
