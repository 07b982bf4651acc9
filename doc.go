// Package vatdata is a durable object store for single-threaded units of
// computation.
//
// A unit's objects are virtual: their state lives in a key-value store and
// only a bounded number of them are held in memory at once. Callers hold
// representatives, which stay valid while the object behind them is evicted
// and reloaded on demand. All durable changes of a unit happen inside cranks,
// which commit atomically or not at all.
//
// # Layout
//
//	slot/              slot strings that name objects in marshaled data
//	marshal/           CBOR serialization with object references as tagged slots
//	pkg/cache/         bounded write-back cache with pinning
//	storage/           crank-scoped write buffering over pluggable backends
//	storage/memstore/  in-memory backend
//	storage/sqlstore/  SQLite backend
//	storage/natskv/    NATS JetStream KV backend
//	vom/               the virtual object manager: kinds, instances, weak stores, baggage
//	config/            layered JSON/YAML configuration with environment overrides
//	metric/            Prometheus registry and HTTP endpoint
//	natsclient/        NATS connection management with a circuit breaker
//	errors/            transient, invalid and fatal error classes
//	cmd/vatctl/        command-line driver and store inspector
//
// # Quick start
//
//	adapter, _ := storage.NewAdapter(memstore.New())
//	m, _ := vom.NewManager(adapter, vom.WithCacheSize(100))
//
//	err := m.Crank(ctx, func(ctx context.Context) error {
//		makeCounter, err := m.VivifyKind(ctx, "counter", initCounter, counterBehavior)
//		if err != nil {
//			return err
//		}
//		c, err := makeCounter(ctx, 0)
//		if err != nil {
//			return err
//		}
//		_, err = c.Invoke(ctx, "incr")
//		return err
//	})
//
// # Error handling
//
// Fatal errors halt the unit: the current crank's writes are discarded and
// every later operation fails. Invalid errors go back to the caller and the
// unit keeps running. See package errors.
package vatdata
