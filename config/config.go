// Package config loads tiercache.Settings from a file and the environment.
//
// File keys and environment variables share one naming scheme:
//
//	key_prefix: sessions        TIERCACHE_KEY_PREFIX=sessions
//	local_ttl: 5m               TIERCACHE_LOCAL_TTL=5m
//	verify_on_read: true        TIERCACHE_VERIFY_ON_READ=true
//
// Both loaders validate before returning, so a bad deployment fails at
// startup with every problem listed.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"

	"github.com/unkn0wn-root/tiercache"
)

const EnvPrefix = "TIERCACHE"

// Load reads path (any format viper understands, chosen by extension) and
// applies TIERCACHE_* overrides. An empty path loads defaults plus env.
func Load(path string) (tiercache.Settings, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return tiercache.Settings{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes Settings from v, which may already carry a config file
// or bound flags. Defaults and env bindings are added to v.
func FromViper(v *viper.Viper) (tiercache.Settings, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	var s tiercache.Settings
	if err := v.Unmarshal(&s); err != nil {
		return tiercache.Settings{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := s.Validate(); err != nil {
		return tiercache.Settings{}, err
	}
	return s, nil
}

// SetDefaults registers every Settings key on v. Registration is also what
// lets AutomaticEnv reach keys absent from the file.
func SetDefaults(v *viper.Viper) {
	d := tiercache.DefaultSettings()
	v.SetDefault("key_prefix", d.KeyPrefix)
	v.SetDefault("local_ttl", d.LocalTTL)
	v.SetDefault("remote_ttl", d.RemoteTTL)
	v.SetDefault("sliding_expiration", d.SlidingExpiration)
	v.SetDefault("refresh_remote_ttl_on_read", d.RefreshRemoteTTLOnRead)
	v.SetDefault("verify_on_read", d.VerifyOnRead)
	v.SetDefault("invalidation_channel", d.InvalidationChannel)
	v.SetDefault("binary_serializer", d.BinarySerializer)
	v.SetDefault("remote_timeout", d.RemoteTimeout)
}

// FromEnv reads Settings from TIERCACHE_* variables only.
func FromEnv() (tiercache.Settings, error) {
	s := tiercache.DefaultSettings()
	if err := env.ParseWithOptions(&s, env.Options{Prefix: EnvPrefix + "_"}); err != nil {
		return tiercache.Settings{}, fmt.Errorf("config: env: %w", err)
	}
	if err := s.Validate(); err != nil {
		return tiercache.Settings{}, err
	}
	return s, nil
}
