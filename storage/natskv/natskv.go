// Package natskv is a storage.Backend on a NATS JetStream key-value bucket.
//
// JetStream KV has no multi-key transaction, so Apply first writes the whole
// batch to a journal key, then applies each write, then deletes the journal.
// Open replays a journal left behind by a crash, which makes every batch
// all-or-nothing from a reader's point of view after restart.
//
// NATS keys may not contain '+', ':' or '/', all of which appear in slot
// strings, so data keys are stored as "k." followed by the unpadded
// base64url encoding of the storage key.
package natskv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/vatdata/errors"
	"github.com/c360/vatdata/natsclient"
	"github.com/c360/vatdata/pkg/retry"
	"github.com/c360/vatdata/storage"
)

const (
	dataPrefix = "k."
	journalKey = "journal.commit"
)

// KV is the bucket surface the store needs. natsclient.KVStore implements it.
type KV interface {
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Store is a JetStream-backed storage.Backend.
type Store struct {
	kv     KV
	retry  retry.Config
	logger *slog.Logger
}

var _ storage.Backend = (*Store)(nil)

type journal struct {
	Writes []storage.Write `json:"writes"`
}

// Open creates (or reuses) bucket on client and returns a Store over it.
func Open(ctx context.Context, client *natsclient.Client, bucket string, logger *slog.Logger) (*Store, error) {
	kvBucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "vatdata durable store",
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, errors.Wrap(err, "natskv", "Open", fmt.Sprintf("open bucket %s", bucket))
	}
	return New(ctx, client.NewKVStore(kvBucket), logger)
}

// New wraps kv and replays any journal left by an interrupted Apply.
func New(ctx context.Context, kv KV, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		kv:     kv,
		retry:  retry.Backend(errors.IsTransient),
		logger: logger.With("component", "natskv"),
	}
	if err := s.recover(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func encodeKey(key string) string {
	return dataPrefix + base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeKey(stored string) (string, bool) {
	if !strings.HasPrefix(stored, dataPrefix) {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(stored[len(dataPrefix):])
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// Get implements storage.Backend.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	entry, err := s.kv.Get(ctx, encodeKey(key))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return "", false, nil
		}
		return "", false, errors.Wrap(err, "natskv", "Get", fmt.Sprintf("read %q", key))
	}
	return string(entry.Value), true, nil
}

// Apply implements storage.Backend.
func (s *Store) Apply(ctx context.Context, batch []storage.Write) error {
	if len(batch) == 0 {
		return nil
	}

	record, err := json.Marshal(journal{Writes: batch})
	if err != nil {
		return errors.WrapFatal(err, "natskv", "Apply", "encode journal")
	}
	if err := retry.Do(ctx, s.retry, func() error {
		_, err := s.kv.Put(ctx, journalKey, record)
		return err
	}); err != nil {
		return errors.WrapFatal(err, "natskv", "Apply", "write journal")
	}

	if err := s.replay(ctx, batch); err != nil {
		return err
	}
	return nil
}

func (s *Store) replay(ctx context.Context, batch []storage.Write) error {
	for _, w := range batch {
		key := encodeKey(w.Key)
		err := retry.Do(ctx, s.retry, func() error {
			if w.Delete {
				return s.kv.Delete(ctx, key)
			}
			_, err := s.kv.Put(ctx, key, []byte(w.Value))
			return err
		})
		if err != nil {
			return errors.WrapFatal(err, "natskv", "Apply", fmt.Sprintf("write %q", w.Key))
		}
	}

	if err := retry.Do(ctx, s.retry, func() error {
		return s.kv.Delete(ctx, journalKey)
	}); err != nil {
		return errors.WrapFatal(err, "natskv", "Apply", "clear journal")
	}
	return nil
}

func (s *Store) recover(ctx context.Context) error {
	entry, err := s.kv.Get(ctx, journalKey)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil
		}
		return errors.Wrap(err, "natskv", "recover", "read journal")
	}

	var j journal
	if err := json.Unmarshal(entry.Value, &j); err != nil {
		return errors.WrapFatal(errors.ErrDataCorrupted, "natskv", "recover",
			fmt.Sprintf("decode journal: %v", err))
	}

	s.logger.Warn("Replaying interrupted commit", "writes", len(j.Writes))
	return s.replay(ctx, j.Writes)
}

// List implements storage.Backend.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	stored, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "natskv", "List", "list bucket keys")
	}

	keys := make([]string, 0, len(stored))
	for _, k := range stored {
		key, ok := decodeKey(k)
		if ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements storage.Backend. The NATS client is owned by the caller.
func (s *Store) Close() error {
	return nil
}
