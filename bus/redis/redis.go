// Package redis implements the invalidation bus on Redis pub/sub.
// Subscriptions use SUBSCRIBE (exact channel), never PSUBSCRIBE.
// go-redis reconnects and resubscribes on its own; notices published while
// disconnected are lost.
package redis

import (
	"context"
	"errors"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/tiercache/bus"
)

var ErrNilClient = errors.New("redis bus: nil client")

const defaultBuffer = 256

type Bus struct {
	rdb    goredis.UniversalClient
	buffer int
}

var (
	_ bus.Publisher  = (*Bus)(nil)
	_ bus.Subscriber = (*Bus)(nil)
)

type Config struct {
	Client goredis.UniversalClient
	// Buffer is the per-subscription delivery buffer; 0 => 256.
	Buffer int
}

func New(cfg Config) (*Bus, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	return &Bus{rdb: cfg.Client, buffer: cfg.Buffer}, nil
}

func (b *Bus) Publish(ctx context.Context, channel, message string) error {
	return b.rdb.Publish(ctx, channel, message).Err()
}

func (b *Bus) Subscribe(ctx context.Context, channel string) (bus.Subscription, error) {
	if channel == "" {
		return nil, bus.ErrEmptyChannel
	}
	ps := b.rdb.Subscribe(ctx, channel)
	// wait for the subscribe confirmation so no notice is missed after Start
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	s := &subscription{
		ps:   ps,
		out:  make(chan string, b.buffer),
		done: make(chan struct{}),
	}
	go s.pump(ps.Channel())
	return s, nil
}

type subscription struct {
	ps   *goredis.PubSub
	out  chan string
	done chan struct{}
	once sync.Once
}

func (s *subscription) pump(in <-chan *goredis.Message) {
	defer close(s.out)
	for {
		select {
		case m, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- m.Payload:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *subscription) Messages() <-chan string { return s.out }

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
