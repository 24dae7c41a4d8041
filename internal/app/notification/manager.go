// Package notification provides the notification manager for broadcasting events.
package notification

import (
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/musicalchairs/internal/app/round"
	"github.com/osa030/musicalchairs/internal/domain/settings"
)

// Kind identifies what changed.
type Kind string

const (
	KindRound    Kind = "round"    // Round snapshot changed
	KindSettings Kind = "settings" // Settings applied
	KindSession  Kind = "session"  // Session started or ended
)

// Notification is one broadcast event. SequenceNo is assigned by Broadcast.
type Notification struct {
	SequenceNo uint64
	Kind       Kind
	SessionID  string
	Round      round.Snapshot
	Settings   settings.RoundConfig
	Active     bool // A session exists
	At         time.Time
}

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(*Notification) error
}

// queueSize bounds the notifications waiting for a slow subscriber.
const queueSize = 32

// subscription represents a subscriber's subscription.
type subscription struct {
	id     string
	stream Stream
	queue  chan *Notification
	done   chan struct{}
}

// Manager manages notification subscriptions and broadcasting.
// Each subscriber has its own sender goroutine, so a slow stream never
// delays the others and its notifications stay in order.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	closed        bool
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe adds a new subscription and returns the subscription ID and a
// channel closed when the subscription ends (unsubscribed, closed, or the
// stream failed).
func (m *Manager) Subscribe(stream Stream) (string, <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := &subscription{
		id:     uuid.New().String(),
		stream: stream,
		queue:  make(chan *Notification, queueSize),
		done:   make(chan struct{}),
	}
	if m.closed {
		close(sub.done)
		return sub.id, sub.done
	}
	m.subscriptions[sub.id] = sub
	go m.pump(sub)
	return sub.id, sub.done
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(subscriptionID)
}

// Broadcast stamps the notification with the next sequence number and
// queues it for every subscriber. A subscriber whose queue is full misses it.
func (m *Manager) Broadcast(n Notification) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sequenceNo++
	n.SequenceNo = m.sequenceNo
	for _, sub := range m.subscriptions {
		copied := n
		select {
		case sub.queue <- &copied:
		default:
			zlog.Warn().Msgf("notification: subscriber behind, dropped: id=%s seq=%d", sub.id, n.SequenceNo)
		}
	}
	return n.SequenceNo
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close closes the manager and removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id := range m.subscriptions {
		m.removeLocked(id)
	}
}

func (m *Manager) removeLocked(id string) {
	sub, ok := m.subscriptions[id]
	if !ok {
		return
	}
	delete(m.subscriptions, id)
	close(sub.queue)
}

func (m *Manager) pump(sub *subscription) {
	defer close(sub.done)
	for n := range sub.queue {
		if err := sub.stream.Send(n); err != nil {
			zlog.Debug().Err(err).Msgf("notification: send failed, unsubscribing: id=%s", sub.id)
			m.Unsubscribe(sub.id)
			// Drain so the queue can be garbage collected once closed.
			for range sub.queue {
			}
			return
		}
	}
}
