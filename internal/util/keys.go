package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// RemoteKey is the shared-tier address of a logical id: "{prefix}:{id}".
func RemoteKey(prefix, id string) string {
	return prefix + ":" + id
}

// LocalKey is the in-process address of a logical id: "{namespace}:{id}".
func LocalKey(ns, id string) string {
	return ns + ":" + id
}

// Redact returns a short stable fingerprint of a key for logs and labels.
func Redact(k string) string {
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}
