package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/vatdata/errors"
	"github.com/c360/vatdata/metric"
)

// Adapter buffers a crank's writes in memory and applies them to the Backend
// on Commit. Reads observe staged writes first.
//
// Adapter is not safe for concurrent use: a unit runs one crank at a time.
type Adapter struct {
	backend      Backend
	pending      map[string]Write
	maxValueSize int
	logger       *slog.Logger
	metrics      *adapterMetrics
}

// Option configures an Adapter.
type Option func(*Adapter) error

// WithMaxValueSize rejects values larger than n bytes at Set time. Zero disables the check.
func WithMaxValueSize(n int) Option {
	return func(a *Adapter) error {
		if n < 0 {
			return fmt.Errorf("max value size must not be negative, got %d", n)
		}
		a.maxValueSize = n
		return nil
	}
}

// WithLogger sets the logger used for commit diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) error {
		if logger != nil {
			a.logger = logger
		}
		return nil
	}
}

// WithMetrics exports commit counters under the given component label.
func WithMetrics(registry *metric.MetricsRegistry, component string) Option {
	return func(a *Adapter) error {
		if registry == nil || component == "" {
			return nil
		}
		m, err := newAdapterMetrics(registry, component)
		if err != nil {
			return err
		}
		a.metrics = m
		return nil
	}
}

// NewAdapter wraps a Backend with crank-scoped buffering.
func NewAdapter(backend Backend, opts ...Option) (*Adapter, error) {
	if backend == nil {
		return nil, errors.WrapInvalid(nil, "Adapter", "NewAdapter", "backend cannot be nil")
	}

	a := &Adapter{
		backend: backend,
		pending: make(map[string]Write),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, errors.WrapInvalid(err, "Adapter", "NewAdapter", "apply option")
		}
	}
	a.logger = a.logger.With("component", "storage")
	return a, nil
}

// Backend returns the wrapped backend.
func (a *Adapter) Backend() Backend {
	return a.backend
}

// Get returns the staged value for key if any, otherwise the committed one.
func (a *Adapter) Get(ctx context.Context, key string) (string, bool, error) {
	if err := validateKey(key, "Get"); err != nil {
		return "", false, err
	}
	if w, ok := a.pending[key]; ok {
		if w.Delete {
			return "", false, nil
		}
		return w.Value, true, nil
	}
	value, found, err := a.backend.Get(ctx, key)
	if err != nil {
		return "", false, errors.Wrap(err, "Adapter", "Get", fmt.Sprintf("read %q", key))
	}
	return value, found, nil
}

// Set stages a write of value at key.
func (a *Adapter) Set(_ context.Context, key, value string) error {
	if err := validateKey(key, "Set"); err != nil {
		return err
	}
	if a.maxValueSize > 0 && len(value) > a.maxValueSize {
		return errors.WrapFatal(errors.ErrStorageFull, "Adapter", "Set",
			fmt.Sprintf("value for %q is %d bytes, limit %d", key, len(value), a.maxValueSize))
	}
	a.pending[key] = Write{Key: key, Value: value}
	return nil
}

// Delete stages removal of key.
func (a *Adapter) Delete(_ context.Context, key string) error {
	if err := validateKey(key, "Delete"); err != nil {
		return err
	}
	a.pending[key] = Write{Key: key, Delete: true}
	return nil
}

// Pending returns the number of staged writes.
func (a *Adapter) Pending() int {
	return len(a.pending)
}

// Commit applies all staged writes to the backend in key order.
func (a *Adapter) Commit(ctx context.Context) error {
	if len(a.pending) == 0 {
		return nil
	}

	batch := make([]Write, 0, len(a.pending))
	for _, w := range a.pending {
		batch = append(batch, w)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Key < batch[j].Key })

	if err := a.backend.Apply(ctx, batch); err != nil {
		if a.metrics != nil {
			a.metrics.commitFailures.Inc()
		}
		return errors.WrapFatal(err, "Adapter", "Commit", fmt.Sprintf("apply batch of %d writes", len(batch)))
	}

	a.logger.Debug("Committed batch", "writes", len(batch))
	if a.metrics != nil {
		a.metrics.commits.Inc()
		a.metrics.writes.Add(float64(len(batch)))
	}
	a.pending = make(map[string]Write)
	return nil
}

// Abort drops every staged write.
func (a *Adapter) Abort() {
	if len(a.pending) > 0 {
		a.logger.Debug("Aborted batch", "writes", len(a.pending))
	}
	a.pending = make(map[string]Write)
}

// Keys lists committed keys merged with staged writes.
func (a *Adapter) Keys(ctx context.Context, prefix string) ([]string, error) {
	committed, err := a.backend.List(ctx, prefix)
	if err != nil {
		return nil, errors.Wrap(err, "Adapter", "Keys", fmt.Sprintf("list %q", prefix))
	}

	keys := make(map[string]struct{}, len(committed))
	for _, k := range committed {
		keys[k] = struct{}{}
	}
	for k, w := range a.pending {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if w.Delete {
			delete(keys, k)
		} else {
			keys[k] = struct{}{}
		}
	}

	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Close closes the backend. Uncommitted writes are dropped.
func (a *Adapter) Close() error {
	a.Abort()
	return a.backend.Close()
}

func validateKey(key, method string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "Adapter", method, "key cannot be empty")
	}
	return nil
}

type adapterMetrics struct {
	commits        prometheus.Counter
	commitFailures prometheus.Counter
	writes         prometheus.Counter
}

func newAdapterMetrics(registry *metric.MetricsRegistry, component string) (*adapterMetrics, error) {
	m := &adapterMetrics{
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "vatdata",
			Subsystem:   "store",
			Name:        "commits_total",
			ConstLabels: prometheus.Labels{"component": component},
			Help:        "Total number of committed write batches",
		}),
		commitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "vatdata",
			Subsystem:   "store",
			Name:        "commit_failures_total",
			ConstLabels: prometheus.Labels{"component": component},
			Help:        "Total number of write batches the backend rejected",
		}),
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "vatdata",
			Subsystem:   "store",
			Name:        "writes_total",
			ConstLabels: prometheus.Labels{"component": component},
			Help:        "Total number of committed key writes and deletes",
		}),
	}

	if err := registry.RegisterCounter(component, "store_commits", m.commits); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(component, "store_commit_failures", m.commitFailures); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(component, "store_writes", m.writes); err != nil {
		return nil, err
	}
	return m, nil
}
