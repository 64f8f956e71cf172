package refreshcache

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const natsEnvelopeMarker = "refresh-v1"

var errNATSKeyValueUnavailable = errors.New("nats cache key-value unavailable")

// NATSKeyValue captures the subset of nats.KeyValue used by the store.
type NATSKeyValue interface {
	Get(key string) (nats.KeyValueEntry, error)
	Put(key string, value []byte) (uint64, error)
	Create(key string, value []byte) (uint64, error)
	Update(key string, value []byte, last uint64) (uint64, error)
	Delete(key string, opts ...nats.DeleteOpt) error
	Purge(key string, opts ...nats.DeleteOpt) error
}

// natsStore keeps per-key expiry inside a JSON envelope because JetStream
// buckets only support a single bucket-wide TTL.
type natsStore struct {
	kv         NATSKeyValue
	defaultTTL time.Duration
	prefix     string
}

type natsEnvelope struct {
	Marker    string `json:"m"`
	Value     []byte `json:"v"`
	ExpiresAt int64  `json:"ea"`
}

func newNATSStore(kv NATSKeyValue, defaultTTL time.Duration, prefix string) Store {
	if defaultTTL <= 0 {
		defaultTTL = defaultStoreTTL
	}
	if prefix == "" {
		prefix = defaultCachePrefix
	}
	return &natsStore{
		kv:         kv,
		defaultTTL: defaultTTL,
		prefix:     prefix,
	}
}

func (s *natsStore) Driver() Driver { return DriverNATS }

func (s *natsStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if s.kv == nil {
		return nil, false, errNATSKeyValueUnavailable
	}
	value, ok, err := s.load(s.cacheKey(key))
	if err != nil || !ok {
		return nil, false, err
	}
	return value, true, nil
}

func (s *natsStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if s.kv == nil {
		return errNATSKeyValueUnavailable
	}
	body, err := s.encodeEnvelope(value, ttl)
	if err != nil {
		return err
	}
	_, err = s.kv.Put(s.cacheKey(key), body)
	return err
}

func (s *natsStore) Add(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if s.kv == nil {
		return false, errNATSKeyValueUnavailable
	}
	cacheKey := s.cacheKey(key)
	rec, err := s.read(cacheKey)
	if err != nil || rec.live {
		return false, err
	}
	body, err := s.encodeEnvelope(value, ttl)
	if err != nil {
		return false, err
	}
	// An expired envelope is replaced at its revision so concurrent takeovers
	// of the same stale key cannot both succeed.
	if rec.expired {
		_, err = s.kv.Update(cacheKey, body, rec.revision)
	} else {
		_, err = s.kv.Create(cacheKey, body)
	}
	if err == nil {
		return true, nil
	}
	if isNATSRevisionConflict(err) || isNATSMiss(err) {
		return false, nil
	}
	return false, err
}

func (s *natsStore) Delete(_ context.Context, key string) error {
	if s.kv == nil {
		return errNATSKeyValueUnavailable
	}
	err := s.kv.Delete(s.cacheKey(key))
	if isNATSMiss(err) {
		return nil
	}
	return err
}

func (s *natsStore) CompareAndDelete(_ context.Context, key string, expected []byte) (bool, error) {
	if s.kv == nil {
		return false, errNATSKeyValueUnavailable
	}
	cacheKey := s.cacheKey(key)
	rec, err := s.read(cacheKey)
	if err != nil || !rec.live || !bytes.Equal(rec.value, expected) {
		return false, err
	}
	err = s.kv.Delete(cacheKey, nats.LastRevision(rec.revision))
	if err == nil {
		return true, nil
	}
	if isNATSRevisionConflict(err) || isNATSMiss(err) {
		return false, nil
	}
	return false, err
}

func (s *natsStore) CompareAndExpire(_ context.Context, key string, expected []byte, ttl time.Duration) (bool, error) {
	if s.kv == nil {
		return false, errNATSKeyValueUnavailable
	}
	cacheKey := s.cacheKey(key)
	rec, err := s.read(cacheKey)
	if err != nil || !rec.live || !bytes.Equal(rec.value, expected) {
		return false, err
	}
	body, err := s.encodeEnvelope(rec.value, ttl)
	if err != nil {
		return false, err
	}
	_, err = s.kv.Update(cacheKey, body, rec.revision)
	if err == nil {
		return true, nil
	}
	if isNATSRevisionConflict(err) || isNATSMiss(err) {
		return false, nil
	}
	return false, err
}

// natsRecord is the decoded state of one key.
type natsRecord struct {
	value    []byte
	revision uint64
	live     bool
	// expired is set for an envelope past its expiry that is still stored.
	expired bool
}

// read decodes the current entry for cacheKey without modifying the bucket.
func (s *natsStore) read(cacheKey string) (natsRecord, error) {
	entry, err := s.kv.Get(cacheKey)
	if isNATSMiss(err) {
		return natsRecord{}, nil
	}
	if err != nil {
		return natsRecord{}, err
	}
	if entry.Operation() == nats.KeyValueDelete || entry.Operation() == nats.KeyValuePurge {
		return natsRecord{}, nil
	}
	envelope, wrapped, err := decodeNATSEnvelope(entry.Value())
	if err != nil {
		return natsRecord{}, err
	}
	if !wrapped {
		return natsRecord{value: cloneBytes(entry.Value()), revision: entry.Revision(), live: true}, nil
	}
	if envelope.ExpiresAt > 0 && time.Now().UnixMilli() > envelope.ExpiresAt {
		return natsRecord{revision: entry.Revision(), expired: true}, nil
	}
	return natsRecord{value: cloneBytes(envelope.Value), revision: entry.Revision(), live: true}, nil
}

// load returns the live value for cacheKey and purges an expired envelope,
// guarded by its revision so a newer write is never removed.
func (s *natsStore) load(cacheKey string) ([]byte, bool, error) {
	rec, err := s.read(cacheKey)
	if err != nil {
		return nil, false, err
	}
	if rec.expired {
		if perr := s.kv.Purge(cacheKey, nats.LastRevision(rec.revision)); perr != nil && !isNATSRevisionConflict(perr) && !isNATSMiss(perr) {
			log.Debugw("Failed to purge expired nats entry", "key", cacheKey, "err", perr)
		}
	}
	return rec.value, rec.live, nil
}

func (s *natsStore) cacheKey(key string) string {
	return "p." + encodeNATSKeyPart(s.prefix) + ".k." + encodeNATSKeyPart(key)
}

func (s *natsStore) encodeEnvelope(value []byte, ttl time.Duration) ([]byte, error) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	body, err := json.Marshal(natsEnvelope{
		Marker:    natsEnvelopeMarker,
		Value:     cloneBytes(value),
		ExpiresAt: time.Now().Add(ttl).UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal nats cache envelope: %w", err)
	}
	return body, nil
}

func decodeNATSEnvelope(body []byte) (natsEnvelope, bool, error) {
	var envelope natsEnvelope
	if len(body) == 0 || body[0] != '{' {
		return envelope, false, nil
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return natsEnvelope{}, false, fmt.Errorf("decode nats cache envelope: %w", err)
	}
	if envelope.Marker != natsEnvelopeMarker {
		return natsEnvelope{}, false, nil
	}
	return envelope, true, nil
}

func isNATSMiss(err error) bool {
	return errors.Is(err, nats.ErrKeyNotFound) || errors.Is(err, nats.ErrKeyDeleted)
}

func isNATSRevisionConflict(err error) bool {
	if errors.Is(err, nats.ErrKeyExists) {
		return true
	}
	var apiErr *nats.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == nats.JSErrCodeStreamWrongLastSequence
}

func encodeNATSKeyPart(part string) string {
	if part == "" {
		return "_"
	}
	return base64.RawURLEncoding.EncodeToString([]byte(part))
}
