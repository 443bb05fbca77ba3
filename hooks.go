package tiercache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths. Keys are local keys ("{namespace}:{id}").
type Hooks interface {
	// Get served from L1 / missed L1.
	LocalHit(localKey string)
	LocalMiss(localKey string)

	// Miss path outcome against L2.
	RemoteHit(localKey string)
	RemoteMiss(localKey string)

	// L2 could not be reached; the operation degraded locally.
	// op ∈ {"read", "read_version", "write", "touch", "delete"}
	RemoteUnavailable(op, localKey string, err error)

	// A remote payload failed to decode and was treated as a miss.
	DecodeFailed(localKey string, err error)

	// Verify-on-read dropped an L1 entry.
	// reason ∈ {"gone", "version_mismatch", "unconfirmed", "corrupt"}
	StaleLocal(localKey, reason string)

	// Set populated L1 without a confirmed remote version.
	DegradedWrite(localKey string)

	// Broadcasting an invalidation notice failed.
	PublishFailed(localKey string, err error)

	// An invalidation notice from another instance evicted an L1 entry.
	Invalidated(localKey string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) LocalHit(string)                         {}
func (NopHooks) LocalMiss(string)                        {}
func (NopHooks) RemoteHit(string)                        {}
func (NopHooks) RemoteMiss(string)                       {}
func (NopHooks) RemoteUnavailable(string, string, error) {}
func (NopHooks) DecodeFailed(string, error)              {}
func (NopHooks) StaleLocal(string, string)               {}
func (NopHooks) DegradedWrite(string)                    {}
func (NopHooks) PublishFailed(string, error)             {}
func (NopHooks) Invalidated(string)                      {}
