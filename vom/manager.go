package vom

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"weak"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/vatdata/errors"
	"github.com/c360/vatdata/marshal"
	"github.com/c360/vatdata/metric"
	"github.com/c360/vatdata/pkg/cache"
	"github.com/c360/vatdata/storage"
)

// DefaultCacheSize is the number of unpinned instances kept in memory when
// WithCacheSize is not given.
const DefaultCacheSize = 100

// Manager is the durable virtual object manager of one unit. It owns the
// kind registry, the write-back cache of instance state, the identity
// resolver between representatives and slots, the weak stores and baggage.
//
// A Manager is not safe for concurrent use. A unit runs one crank at a time.
type Manager struct {
	store     storage.Txn
	cache     *cache.WriteBack[*instance]
	marshaler *marshal.Marshaler
	logger    *slog.Logger

	unit        string
	incarnation string
	cacheSize   int
	registry    *metric.MetricsRegistry
	core        *metric.Metrics
	metrics     *managerMetrics

	kinds      map[uint64]*kindInfo
	handles    map[uint64]*KindHandle
	reps       map[string]weak.Pointer[Representative]
	weakStores map[uint64]*WeakStore
	baggage    *Baggage

	halted   error
	crankCtx context.Context // non-nil while a crank runs
}

// Option configures a Manager.
type Option func(*Manager) error

// WithCacheSize bounds the number of unpinned instances held in memory.
func WithCacheSize(n int) Option {
	return func(m *Manager) error {
		if n < 1 {
			return fmt.Errorf("cache size must be positive, got %d", n)
		}
		m.cacheSize = n
		return nil
	}
}

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		if logger != nil {
			m.logger = logger
		}
		return nil
	}
}

// WithMetrics exports crank, cache and kind metrics through registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(m *Manager) error {
		m.registry = registry
		return nil
	}
}

// WithUnitName labels logs and metrics. Defaults to "unit".
func WithUnitName(name string) Option {
	return func(m *Manager) error {
		if name == "" {
			return fmt.Errorf("unit name cannot be empty")
		}
		m.unit = name
		return nil
	}
}

// NewManager creates the manager for one incarnation of a unit over store.
// Nothing is read from the store until kinds are defined or slots resolved.
func NewManager(store storage.Txn, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.WrapInvalid(nil, "Manager", "NewManager", "store cannot be nil")
	}

	m := &Manager{
		store:       store,
		logger:      slog.Default(),
		unit:        "unit",
		incarnation: uuid.NewString(),
		cacheSize:   DefaultCacheSize,
		kinds:       make(map[uint64]*kindInfo),
		handles:     make(map[uint64]*KindHandle),
		reps:        make(map[string]weak.Pointer[Representative]),
		weakStores:  make(map[uint64]*WeakStore),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, errors.WrapInvalid(err, "Manager", "NewManager", "apply option")
		}
	}
	m.logger = m.logger.With("component", "vom", "unit", m.unit, "incarnation", m.incarnation)

	cacheOpts := []cache.Option[*instance]{
		cache.WithEvictionCallback(func(base string, _ *instance) {
			m.logger.Debug("Instance evicted", "slot", base)
		}),
	}
	if m.registry != nil {
		cacheOpts = append(cacheOpts, cache.WithMetrics[*instance](m.registry, m.unit))
		mm, err := newManagerMetrics(m.registry, m.unit)
		if err != nil {
			return nil, errors.Wrap(err, "Manager", "NewManager", "register metrics")
		}
		m.metrics = mm
		m.core = m.registry.CoreMetrics()
		m.core.RecordHalted(m.unit, false)
	}

	wb, err := cache.NewWriteBack[*instance](m.cacheSize, m.flush, cacheOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Manager", "NewManager", "create cache")
	}
	m.cache = wb
	m.marshaler = marshal.New(m.ValToSlot, m.SlotToVal)
	m.baggage = &Baggage{m: m}

	m.logger.Debug("Manager created", "cache_size", m.cacheSize)
	return m, nil
}

// Unit returns the unit name.
func (m *Manager) Unit() string { return m.unit }

// Incarnation returns the id of this incarnation, fresh on every NewManager.
func (m *Manager) Incarnation() string { return m.incarnation }

// Baggage returns the unit's durable root map.
func (m *Manager) Baggage() *Baggage { return m.baggage }

// Marshaler returns the codec that serializes values through this manager's
// identity resolver.
func (m *Manager) Marshaler() *marshal.Marshaler { return m.marshaler }

// Halted returns the error that halted the unit, or nil.
func (m *Manager) Halted() error { return m.halted }

// CacheStats returns a snapshot of the instance cache statistics.
func (m *Manager) CacheStats() cache.StatsSummary { return m.cache.Stats().Summary() }

// Cached reports whether the instance named by s currently has its state in memory.
func (m *Manager) Cached(s string) bool {
	base, err := baseOf(s)
	if err != nil {
		return false
	}
	return m.cache.Contains(base)
}

// CachedCount returns the number of instances held in memory, pinned included.
func (m *Manager) CachedCount() int { return m.cache.Len() }

// live returns ErrUnitHalted once the unit has halted.
func (m *Manager) live(method string) error {
	if m.halted == nil {
		return nil
	}
	return errors.WrapFatal(ErrUnitHalted, "Manager", method, "check unit")
}

// fail halts the unit when err is declared fatal and returns err unchanged.
func (m *Manager) fail(err error) error {
	if err == nil {
		return nil
	}
	if m.core != nil {
		m.core.RecordError(m.unit, errors.Classify(err).String())
	}
	if errors.IsDeclaredFatal(err) && m.halted == nil {
		m.halt(err)
	}
	return err
}

func (m *Manager) halt(err error) {
	m.halted = err
	m.logger.Error("Unit halted", "error", err)
	if m.core != nil {
		m.core.RecordHalted(m.unit, true)
	}
}

// flush writes one instance's state record. Writes are staged in the store
// until the crank commits.
func (m *Manager) flush(base string, inst *instance) error {
	record, err := marshal.EncodeFields(inst.fields)
	if err != nil {
		return err
	}
	return m.store.Set(m.writeContext(), stateKey(base), record)
}

// writeContext is the context of the running crank, which flushes triggered
// by eviction have no other way to reach.
func (m *Manager) writeContext() context.Context {
	if m.crankCtx != nil {
		return m.crankCtx
	}
	return context.Background()
}

// allocate reads, increments and writes back a durable counter. Counters
// start at 1.
func (m *Manager) allocate(ctx context.Context, key string) (uint64, error) {
	next, err := m.readCounter(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := m.store.Set(ctx, key, strconv.FormatUint(next+1, 10)); err != nil {
		return 0, m.fail(errors.Wrap(err, "Manager", "allocate", "write counter "+key))
	}
	return next, nil
}

func (m *Manager) readCounter(ctx context.Context, key string) (uint64, error) {
	raw, ok, err := m.store.Get(ctx, key)
	if err != nil {
		return 0, m.fail(errors.Wrap(err, "Manager", "readCounter", "read counter "+key))
	}
	if !ok {
		return 1, nil
	}
	next, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || next == 0 {
		return 0, m.fail(errors.WrapFatal(errors.ErrDataCorrupted, "Manager", "readCounter",
			fmt.Sprintf("parse counter %s=%q", key, raw)))
	}
	return next, nil
}

type managerMetrics struct {
	kindsDefined     prometheus.Counter
	instancesCreated prometheus.Counter
	instancesDeleted prometheus.Counter
}

func newManagerMetrics(registry *metric.MetricsRegistry, unit string) (*managerMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "vatdata",
			Subsystem:   "vom",
			Name:        name,
			ConstLabels: prometheus.Labels{"unit": unit},
			Help:        help,
		})
	}

	mm := &managerMetrics{
		kindsDefined:     counter("kinds_defined_total", "Total number of kinds defined in this incarnation"),
		instancesCreated: counter("instances_created_total", "Total number of virtual object instances constructed"),
		instancesDeleted: counter("instances_deleted_total", "Total number of virtual object instances deleted"),
	}
	if err := registry.RegisterCounter(unit, "vom_kinds_defined", mm.kindsDefined); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(unit, "vom_instances_created", mm.instancesCreated); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(unit, "vom_instances_deleted", mm.instancesDeleted); err != nil {
		return nil, err
	}
	return mm, nil
}
