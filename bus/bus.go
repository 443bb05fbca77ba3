// Package bus carries best-effort invalidation notices between instances.
//
// A notice is the local key of an entry that changed. Delivery is
// at-most-once: a notice lost while an instance is disconnected is never
// replayed, and staleness then heals through the local TTL or
// verify-on-read.
package bus

import (
	"context"
	"errors"
)

var (
	ErrClosed         = errors.New("bus: closed")
	ErrEmptyChannel   = errors.New("bus: channel name is required")
	ErrNilSubscriber  = errors.New("bus: nil subscriber")
	ErrAlreadyStarted = errors.New("bus: listener already started")
)

// Publisher broadcasts a message on an exact channel name.
type Publisher interface {
	Publish(ctx context.Context, channel, message string) error
}

// Subscriber opens an exact-match (never pattern) subscription. Subscribe
// returns only after the subscription is confirmed.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription delivers messages until closed. Messages is closed once the
// subscription ends.
type Subscription interface {
	Messages() <-chan string
	Close() error
}

// Evicter drops a local key from an in-process tier.
type Evicter interface {
	Evict(localKey string)
}
