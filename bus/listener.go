package bus

import (
	"context"
	"sync"
)

// Listener is the process-wide consumer of invalidation notices. Start it
// before serving traffic and Close it on shutdown; every received key is
// handed to every registered Evicter.
type Listener struct {
	sub     Subscriber
	channel string

	mu      sync.RWMutex
	targets map[Evicter]struct{}

	lifeMu  sync.Mutex
	s       Subscription
	started bool
	closed  bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// OnMessage, if set, observes every received key after dispatch.
	OnMessage func(localKey string)
}

func NewListener(sub Subscriber, channel string) (*Listener, error) {
	if sub == nil {
		return nil, ErrNilSubscriber
	}
	if channel == "" {
		return nil, ErrEmptyChannel
	}
	return &Listener{
		sub:     sub,
		channel: channel,
		targets: make(map[Evicter]struct{}),
	}, nil
}

// Channel returns the subscribed channel name.
func (l *Listener) Channel() string { return l.channel }

// Register adds an Evicter. Safe to call before or after Start.
func (l *Listener) Register(e Evicter) {
	l.mu.Lock()
	l.targets[e] = struct{}{}
	l.mu.Unlock()
}

// Deregister removes an Evicter.
func (l *Listener) Deregister(e Evicter) {
	l.mu.Lock()
	delete(l.targets, e)
	l.mu.Unlock()
}

// Start subscribes and launches the dispatch loop. It returns once the
// subscription is confirmed.
func (l *Listener) Start(ctx context.Context) error {
	l.lifeMu.Lock()
	defer l.lifeMu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.started {
		return ErrAlreadyStarted
	}
	s, err := l.sub.Subscribe(ctx, l.channel)
	if err != nil {
		return err
	}
	l.s = s
	l.started = true
	l.stopCh = make(chan struct{})
	l.wg.Add(1)
	go l.loop(s.Messages(), l.stopCh)
	return nil
}

func (l *Listener) loop(msgs <-chan string, stop <-chan struct{}) {
	defer l.wg.Done()
	for {
		select {
		case key, ok := <-msgs:
			if !ok {
				return
			}
			l.dispatch(key)
		case <-stop:
			return
		}
	}
}

func (l *Listener) dispatch(key string) {
	l.mu.RLock()
	targets := make([]Evicter, 0, len(l.targets))
	for e := range l.targets {
		targets = append(targets, e)
	}
	l.mu.RUnlock()

	for _, e := range targets {
		e.Evict(key)
	}
	if l.OnMessage != nil {
		l.OnMessage(key)
	}
}

// Close unsubscribes and waits for the dispatch loop, or for ctx.
func (l *Listener) Close(ctx context.Context) error {
	l.lifeMu.Lock()
	if l.closed {
		l.lifeMu.Unlock()
		return nil
	}
	l.closed = true
	var err error
	if l.started {
		close(l.stopCh)
		err = l.s.Close()
	}
	l.lifeMu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
