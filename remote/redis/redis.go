// Package redis implements remote.Store on a Redis hash per key.
//
// Layout:
//
//	HASH {prefix}:{id}
//	  version  int64  (HINCRBY)
//	  data     bytes
//	PEXPIRE on the hash key
//
// The write path runs as one Lua script so version, payload and TTL change
// in a single atomic step.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/tiercache/remote"
)

var ErrNilClient = errors.New("redis store: nil client")

// KEYS[1] = record key; ARGV[1] = payload; ARGV[2] = ttl in ms (<= 0 => persist)
var writeScript = goredis.NewScript(`
local v = redis.call('HINCRBY', KEYS[1], 'version', 1)
redis.call('HSET', KEYS[1], 'data', ARGV[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
else
  redis.call('PERSIST', KEYS[1])
end
return v
`)

type Store struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var _ remote.Store = (*Store)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this store exclusively owns the client
}

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Store{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

func (s *Store) Write(ctx context.Context, key string, payload []byte, ttl time.Duration) (uint64, error) {
	v, err := writeScript.Run(ctx, s.rdb, []string{key}, payload, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, err
	}
	return uint64(v), nil
}

func (s *Store) Read(ctx context.Context, key string) (remote.Record, bool, error) {
	vals, err := s.rdb.HMGet(ctx, key, remote.FieldVersion, remote.FieldData).Result()
	if err != nil {
		return remote.Record{}, false, err
	}
	if len(vals) != 2 || vals[0] == nil {
		return remote.Record{}, false, nil // miss
	}
	ver, err := parseVersion(vals[0])
	if err != nil {
		return remote.Record{}, false, remote.Corrupt("redis", key, err)
	}
	rec := remote.Record{Version: ver}
	switch d := vals[1].(type) {
	case nil:
	case string:
		rec.Data = []byte(d)
	case []byte:
		rec.Data = d
	default:
		return remote.Record{}, false, remote.Corrupt("redis", key, fmt.Errorf("unexpected data type %T", d))
	}
	return rec, true, nil
}

func (s *Store) ReadVersion(ctx context.Context, key string) (uint64, bool, error) {
	v, err := s.rdb.HGet(ctx, key, remote.FieldVersion).Uint64()
	if err == goredis.Nil {
		return 0, false, nil
	}
	var ne *strconv.NumError
	if errors.As(err, &ne) {
		return 0, false, remote.Corrupt("redis", key, err)
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (s *Store) Touch(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return s.rdb.Persist(ctx, key).Err()
	}
	return s.rdb.PExpire(ctx, key, ttl).Err()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// Close releases the underlying redis client only when this store owns it.
// Safe to call multiple times.
func (s *Store) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

func parseVersion(v any) (uint64, error) {
	switch vv := v.(type) {
	case string:
		return strconv.ParseUint(vv, 10, 64)
	case []byte:
		return strconv.ParseUint(string(vv), 10, 64)
	case int64:
		return uint64(vv), nil
	default:
		return strconv.ParseUint(fmt.Sprint(vv), 10, 64)
	}
}
