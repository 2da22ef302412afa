package runs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PipelineNode is the pseudo-node used for run-level events.
const PipelineNode = "pipeline"

// EventStatus is the status carried by a progress event.
type EventStatus string

// Progress event statuses
const (
	EventPending   EventStatus = "pending"
	EventStarted   EventStatus = "started"
	EventCompleted EventStatus = "completed"
	EventFailed    EventStatus = "failed"
)

// ProgressEvent reports one node transition of a run.
type ProgressEvent struct {
	RunID     string      `json:"run_id"`
	Node      string      `json:"node"`
	Status    EventStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Detail    string      `json:"detail,omitempty"`
}

// Final reports whether e ends the run.
func (e ProgressEvent) Final() bool {
	return e.Node == PipelineNode && (e.Status == EventCompleted || e.Status == EventFailed)
}

// MessageKind distinguishes what Subscription.Next returned.
type MessageKind int

// Message kinds
const (
	MessageEvent MessageKind = iota
	MessageKeepalive
	MessageClosed
)

// Message is one item read from a subscription.
type Message struct {
	Kind  MessageKind
	Event ProgressEvent
}

const subscriberBuffer = 64

// Subscription is one consumer's delivery queue for a run.
type Subscription struct {
	runID  string
	ch     chan ProgressEvent
	broker *Broker
	once   sync.Once
}

// RunID returns the run this subscription follows.
func (s *Subscription) RunID() string {
	return s.runID
}

// Next blocks until an event arrives, the stream closes, keepalive elapses
// (when positive), or ctx ends.
func (s *Subscription) Next(ctx context.Context, keepalive time.Duration) (Message, error) {
	var tick <-chan time.Time
	if keepalive > 0 {
		timer := time.NewTimer(keepalive)
		defer timer.Stop()
		tick = timer.C
	}

	select {
	case <-ctx.Done():
		return Message{Kind: MessageClosed}, ctx.Err()
	case ev, ok := <-s.ch:
		if !ok {
			return Message{Kind: MessageClosed}, nil
		}
		return Message{Kind: MessageEvent, Event: ev}, nil
	case <-tick:
		return Message{Kind: MessageKeepalive}, nil
	}
}

// Unsubscribe removes this queue from the broker. Other subscribers of the
// same run are unaffected. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s.broker == nil {
		return
	}
	s.broker.remove(s)
}

// finished returns a detached subscription that yields events then closes.
func finished(runID string, events ...ProgressEvent) *Subscription {
	ch := make(chan ProgressEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return &Subscription{runID: runID, ch: ch}
}

type topic struct {
	history []ProgressEvent
	subs    map[*Subscription]struct{}
}

// Broker fans progress events out to the subscribers of each active run.
// Events published while a run is open are replayed to late subscribers.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
	logger *zap.Logger
}

// NewBroker creates an empty broker.
func NewBroker(logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{topics: make(map[string]*topic), logger: logger}
}

// Open starts accepting events and subscribers for runID.
func (b *Broker) Open(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[runID]; !ok {
		b.topics[runID] = &topic{subs: make(map[*Subscription]struct{})}
	}
}

// Active reports whether runID is open.
func (b *Broker) Active(runID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.topics[runID]
	return ok
}

// Publish delivers ev to every subscriber of its run. Events for runs that
// are not open are dropped.
func (b *Broker) Publish(ev ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[ev.RunID]
	if !ok {
		return
	}
	t.history = append(t.history, ev)
	for sub := range t.subs {
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("dropping progress event for slow subscriber",
				zap.String("run_id", ev.RunID), zap.String("node", ev.Node))
		}
	}
}

// Subscribe returns a queue primed with the run's events so far. ok is false
// when the run is not open.
func (b *Broker) Subscribe(runID string) (sub *Subscription, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[runID]
	if !ok {
		return nil, false
	}
	sub = &Subscription{
		runID:  runID,
		ch:     make(chan ProgressEvent, len(t.history)+subscriberBuffer),
		broker: b,
	}
	for _, ev := range t.history {
		sub.ch <- ev
	}
	t.subs[sub] = struct{}{}
	return sub, true
}

// Subscribers returns the number of live subscribers of runID.
func (b *Broker) Subscribers(runID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[runID]; ok {
		return len(t.subs)
	}
	return 0
}

// Close ends the run's stream: every subscriber sees Closed after draining
// its queue, and the run's history is discarded.
func (b *Broker) Close(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[runID]
	if !ok {
		return
	}
	delete(b.topics, runID)
	for sub := range t.subs {
		sub.once.Do(func() { close(sub.ch) })
	}
}

func (b *Broker) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[s.runID]; ok {
		delete(t.subs, s)
	}
	s.once.Do(func() { close(s.ch) })
}
