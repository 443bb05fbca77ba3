package tiercache

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Settings are the deployment knobs of a coordinator. They are usually
// loaded by the config package and must pass Validate before use.
type Settings struct {
	// KeyPrefix namespaces remote keys: "{KeyPrefix}:{id}". Required.
	KeyPrefix string `mapstructure:"key_prefix" env:"KEY_PREFIX"`
	// LocalTTL bounds L1 staleness; must not exceed RemoteTTL.
	LocalTTL time.Duration `mapstructure:"local_ttl" env:"LOCAL_TTL"`
	// RemoteTTL applies to the whole remote record and resets on every write.
	RemoteTTL time.Duration `mapstructure:"remote_ttl" env:"REMOTE_TTL"`
	// SlidingExpiration restarts the L1 TTL on every hit.
	SlidingExpiration bool `mapstructure:"sliding_expiration" env:"SLIDING_EXPIRATION"`
	// RefreshRemoteTTLOnRead resets the remote TTL on L1 hits (best-effort).
	RefreshRemoteTTLOnRead bool `mapstructure:"refresh_remote_ttl_on_read" env:"REFRESH_REMOTE_TTL_ON_READ"`
	// VerifyOnRead compares the L1 version with the remote one on every hit.
	VerifyOnRead bool `mapstructure:"verify_on_read" env:"VERIFY_ON_READ"`
	// InvalidationChannel is the exact pub/sub channel name.
	InvalidationChannel string `mapstructure:"invalidation_channel" env:"INVALIDATION_CHANNEL"`
	// BinarySerializer selects msgpack over JSON when no codec is given.
	BinarySerializer bool `mapstructure:"binary_serializer" env:"BINARY_SERIALIZER"`
	// RemoteTimeout bounds each remote call; 0 => no extra deadline.
	RemoteTimeout time.Duration `mapstructure:"remote_timeout" env:"REMOTE_TIMEOUT"`
}

// DefaultSettings returns Settings with every optional knob at its default.
// KeyPrefix is left empty on purpose.
func DefaultSettings() Settings {
	return Settings{
		LocalTTL:            DefaultLocalTTL,
		RemoteTTL:           DefaultRemoteTTL,
		InvalidationChannel: DefaultInvalidationChannel,
		RemoteTimeout:       DefaultRemoteTimeout,
	}
}

// Validate reports every invalid field at once.
func (s Settings) Validate() error {
	if err := s.check(); err != nil {
		return &ConfigError{Errs: multierr.Errors(err)}
	}
	return nil
}

// check returns the combined (multierr) problems of s, or nil.
func (s Settings) check() error {
	var err error
	if s.KeyPrefix == "" {
		err = multierr.Append(err, errors.New("key-prefix is required"))
	}
	if s.RemoteTTL <= 0 {
		err = multierr.Append(err, fmt.Errorf("remote-ttl must be positive, got %s", s.RemoteTTL))
	}
	if s.LocalTTL <= 0 {
		err = multierr.Append(err, fmt.Errorf("local-ttl must be positive, got %s", s.LocalTTL))
	} else if s.RemoteTTL > 0 && s.LocalTTL > s.RemoteTTL {
		err = multierr.Append(err, fmt.Errorf("local-ttl (%s) must not exceed remote-ttl (%s)", s.LocalTTL, s.RemoteTTL))
	}
	if s.InvalidationChannel == "" {
		err = multierr.Append(err, errors.New("invalidation-channel is required"))
	}
	if s.RemoteTimeout < 0 {
		err = multierr.Append(err, fmt.Errorf("remote-timeout must not be negative, got %s", s.RemoteTimeout))
	}
	return err
}
