package bus

import (
	"context"
	"sync"
)

const memBuffer = 1024

// Memory is an in-process hub for tests and single-process deployments with
// several coordinators. Publish never blocks: a subscriber whose buffer is
// full misses the message, matching the best-effort contract.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[*memSub]struct{}
	closed bool
}

var (
	_ Publisher  = (*Memory)(nil)
	_ Subscriber = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[*memSub]struct{})}
}

type memSub struct {
	hub     *Memory
	channel string
	ch      chan string
	once    sync.Once
}

func (s *memSub) Messages() <-chan string { return s.ch }

func (s *memSub) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if set, ok := s.hub.subs[s.channel]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.hub.subs, s.channel)
			}
		}
		close(s.ch)
		s.hub.mu.Unlock()
	})
	return nil
}

func (m *Memory) Publish(ctx context.Context, channel, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for s := range m.subs[channel] {
		select {
		case s.ch <- message:
		default: // drop
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if channel == "" {
		return nil, ErrEmptyChannel
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	s := &memSub{hub: m, channel: channel, ch: make(chan string, memBuffer)}
	set, ok := m.subs[channel]
	if !ok {
		set = make(map[*memSub]struct{})
		m.subs[channel] = set
	}
	set[s] = struct{}{}
	return s, nil
}

// Close ends every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var all []*memSub
	for _, set := range m.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	m.mu.Unlock()

	for _, s := range all {
		_ = s.Close()
	}
	return nil
}
