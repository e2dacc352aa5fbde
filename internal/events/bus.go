package events

import "sync"

// Notification is a post-commit change signal pushed to live watchers.
type Notification struct {
	Type     string
	ReportID string
	ActorID  string
}

// Topic names for Bus subscriptions. The report list and each open report
// are independent topics so their watches tear down independently.
const (
	TopicReports = "reports"
)

// ReportTopic returns the per-document topic for a report id.
func ReportTopic(id string) string {
	return "report/" + id
}

// Subscriber receives notifications for a topic.
type Subscriber func(Notification)

// Subscription is a cancellable watch registration. After Cancel returns
// the callback is never invoked again, even for publishes already in flight.
type Subscription struct {
	mu     sync.Mutex
	closed bool
	fn     Subscriber
	topic  string
	bus    *Bus
}

// Cancel tears the watch down. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.bus.remove(s.topic, s)
}

func (s *Subscription) deliver(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.fn(n)
}

// Bus delivers mutation notifications to registered watchers. Delivery is
// synchronous in publish order; mutation happens in response to discrete
// actions, so there is no queueing or coalescing.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*Subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]*Subscription)}
}

// Subscribe registers fn for a topic and returns its cancellation handle.
func (b *Bus) Subscribe(topic string, fn Subscriber) *Subscription {
	s := &Subscription{fn: fn, topic: topic, bus: b}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()
	return s
}

// Publish notifies every live subscriber of the topic.
func (b *Bus) Publish(topic string, n Notification) {
	b.mu.RLock()
	subs := make([]*Subscription, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.RUnlock()
	for _, s := range subs {
		s.deliver(n)
	}
}

func (b *Bus) remove(topic string, target *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, s := range subs {
		if s == target {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}
