// Package bolt implements remote.Store on a bbolt file, for single-host
// deployments where several short-lived processes take turns on one file.
//
// Each key holds one wire-framed record (version, expiry, data). Writes run
// inside a bbolt read-write transaction, which makes the
// increment-overwrite-expire step atomic.
package bolt

import (
	"context"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/unkn0wn-root/tiercache/internal/wire"
	"github.com/unkn0wn-root/tiercache/remote"
)

const defaultBucket = "tiercache"

type Store struct {
	db     *bolt.DB
	bucket []byte
	now    func() time.Time
}

var _ remote.Store = (*Store)(nil)

type Options struct {
	// Bucket is the name of the bbolt bucket to use.
	Bucket string
	// OpenTimeout bounds the wait for the file lock; 0 => 1s.
	OpenTimeout time.Duration
}

// Open initializes or opens a Store at path.
func Open(path string, opts Options) (*Store, error) {
	timeout := opts.OpenTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, err
	}
	bucket := []byte(defaultBucket)
	if opts.Bucket != "" {
		bucket = []byte(opts.Bucket)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, bucket: bucket, now: time.Now}, nil
}

func (s *Store) live(r wire.Record) bool {
	return r.ExpiresAt == 0 || s.now().UnixNano() < r.ExpiresAt
}

func (s *Store) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.now().Add(ttl).UnixNano()
}

func (s *Store) Write(ctx context.Context, key string, payload []byte, ttl time.Duration) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var ver uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		var cur uint64
		if raw := b.Get([]byte(key)); raw != nil {
			// corrupt or expired records restart the counter
			if r, err := wire.DecodeRecord(raw); err == nil && s.live(r) {
				cur = r.Version
			}
		}
		ver = cur + 1
		return b.Put([]byte(key), wire.EncodeRecord(wire.Record{
			Version:   ver,
			ExpiresAt: s.expiry(ttl),
			Data:      payload,
		}))
	})
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (s *Store) Read(ctx context.Context, key string) (remote.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return remote.Record{}, false, err
	}
	var (
		out remote.Record
		ok  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(s.bucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		r, err := wire.DecodeRecord(raw)
		if err != nil {
			return remote.Corrupt("bolt", key, err)
		}
		if !s.live(r) {
			return nil
		}
		// raw is only valid for the life of the transaction
		out = remote.Record{Version: r.Version, Data: append([]byte(nil), r.Data...)}
		ok = true
		return nil
	})
	if err != nil {
		return remote.Record{}, false, err
	}
	return out, ok, nil
}

func (s *Store) ReadVersion(ctx context.Context, key string) (uint64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	var (
		ver uint64
		ok  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(s.bucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		v, exp, err := wire.PeekVersion(raw)
		if err != nil {
			return remote.Corrupt("bolt", key, err)
		}
		if exp != 0 && s.now().UnixNano() >= exp {
			return nil
		}
		ver, ok = v, true
		return nil
	})
	return ver, ok, err
}

func (s *Store) Touch(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		r, err := wire.DecodeRecord(raw)
		if err != nil {
			return remote.Corrupt("bolt", key, err)
		}
		if !s.live(r) {
			return nil
		}
		r.ExpiresAt = s.expiry(ttl)
		return b.Put([]byte(key), wire.EncodeRecord(r))
	})
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	})
}

// Purge removes expired and corrupt records and reports how many were dropped.
func (s *Store) Purge(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		for k, v := c.First(); k != nil; {
			r, err := wire.DecodeRecord(v)
			if err == nil && s.live(r) {
				k, v = c.Next()
				continue
			}
			key := append([]byte(nil), k...)
			if err := c.Delete(); err != nil {
				return err
			}
			removed++
			k, v = c.Seek(key)
		}
		return nil
	})
	return removed, err
}

// Close closes the underlying database. Safe on a nil store.
func (s *Store) Close(context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
