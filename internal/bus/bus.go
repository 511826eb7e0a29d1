// Package bus implements the in-process event bus that fans newly accepted
// job offers and run-status changes out to live subscriber connections.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds emitted on a subscription stream.
const (
	EventReady  = "ready"
	EventStatus = "status"
	EventJob    = "job"
)

// Frame is one serialized event. An empty Event marks a comment-only
// keep-alive frame.
type Frame struct {
	Event string
	Data  []byte
}

// Status is the payload of a status frame.
type Status struct {
	Running bool `json:"running"`
}

// Subscription is one live connection's registration, scoped to a user.
// The transport layer drains Frames until Done closes or its client goes
// away, then calls Unsubscribe.
type Subscription struct {
	ID          string
	UserID      string
	Frames      chan Frame
	Done        chan struct{}
	ConnectedAt time.Time
}

// Bus is a multi-subscriber broadcaster keyed by user identity. Frame
// delivery is non-blocking: a subscription whose buffer is full is presumed
// dead and torn down, so one stuck consumer never stalls the rest.
type Bus struct {
	logger            *slog.Logger
	heartbeatInterval time.Duration

	mu       sync.RWMutex
	subs     map[string]*Subscription
	userSubs map[string]map[string]struct{}
	running  bool
}

// New creates a Bus. Call Run in a goroutine to enable keep-alives.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		logger:            logger,
		heartbeatInterval: 30 * time.Second,
		subs:              make(map[string]*Subscription),
		userSubs:          make(map[string]map[string]struct{}),
	}
}

// Run drives the periodic keep-alive until ctx is cancelled, then closes all
// remaining subscriptions.
func (b *Bus) Run(ctx context.Context) {
	ticker := time.NewTicker(b.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.ping()
		case <-ctx.Done():
			b.closeAll()
			return
		}
	}
}

// Subscribe registers a new subscription for userID. The first two frames on
// the channel are a ready marker and the current run status.
func (b *Bus) Subscribe(userID string) *Subscription {
	sub := &Subscription{
		ID:          uuid.NewString(),
		UserID:      userID,
		Frames:      make(chan Frame, 100),
		Done:        make(chan struct{}),
		ConnectedAt: time.Now(),
	}

	b.mu.Lock()
	b.subs[sub.ID] = sub
	if b.userSubs[userID] == nil {
		b.userSubs[userID] = make(map[string]struct{})
	}
	b.userSubs[userID][sub.ID] = struct{}{}
	statusData, _ := json.Marshal(Status{Running: b.running})
	sub.Frames <- Frame{Event: EventReady, Data: []byte("connected")}
	sub.Frames <- Frame{Event: EventStatus, Data: statusData}
	total := len(b.subs)
	b.mu.Unlock()

	b.logger.Info("subscriber connected",
		slog.String("sub_id", sub.ID),
		slog.String("user_id", userID),
		slog.Int("total_subs", total))
	return sub
}

// Unsubscribe tears a subscription down. Safe to call more than once and for
// unknown ids. When a user's last subscription goes, the user entry goes too.
func (b *Bus) Unsubscribe(subID string) {
	b.mu.Lock()
	sub, ok := b.subs[subID]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subs, subID)
	if set := b.userSubs[sub.UserID]; set != nil {
		delete(set, subID)
		if len(set) == 0 {
			delete(b.userSubs, sub.UserID)
		}
	}
	total := len(b.subs)
	b.mu.Unlock()

	close(sub.Done)
	close(sub.Frames)

	b.logger.Info("subscriber disconnected",
		slog.String("sub_id", subID),
		slog.String("user_id", sub.UserID),
		slog.Duration("duration", time.Since(sub.ConnectedAt)),
		slog.Int("total_subs", total))
}

// PublishToUser delivers one event to every live subscription of userID.
func (b *Bus) PublishToUser(userID, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("marshal event payload",
			slog.String("event", event), slog.String("error", err.Error()))
		return
	}
	b.deliver(Frame{Event: event, Data: data}, userID)
}

// PublishToAll delivers one event to every subscribed user.
func (b *Bus) PublishToAll(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("marshal event payload",
			slog.String("event", event), slog.String("error", err.Error()))
		return
	}
	b.deliver(Frame{Event: event, Data: data}, "")
}

// BroadcastStatus updates the shared run flag and tells every subscriber.
func (b *Bus) BroadcastStatus(running bool) {
	b.mu.Lock()
	b.running = running
	b.mu.Unlock()
	b.PublishToAll(EventStatus, Status{Running: running})
}

// Running reports the shared run flag.
func (b *Bus) Running() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// deliver sends frame to every subscription of userID, or to everyone when
// userID is empty. Sends are non-blocking under a read lock; subscriptions
// with a full buffer are collected and torn down afterwards, outside the
// lock.
func (b *Bus) deliver(frame Frame, userID string) {
	var dead []string

	b.mu.RLock()
	if userID == "" {
		for id, sub := range b.subs {
			if !trySend(sub, frame) {
				dead = append(dead, id)
			}
		}
	} else {
		for id := range b.userSubs[userID] {
			if sub := b.subs[id]; sub != nil && !trySend(sub, frame) {
				dead = append(dead, id)
			}
		}
	}
	b.mu.RUnlock()

	for _, id := range dead {
		b.logger.Warn("dropping stalled subscriber",
			slog.String("sub_id", id), slog.String("event", frame.Event))
		b.Unsubscribe(id)
	}
}

// ping enqueues a keep-alive frame on every live subscription so idle
// connections survive intermediary timeouts.
func (b *Bus) ping() {
	var dead []string

	b.mu.RLock()
	for id, sub := range b.subs {
		if !trySend(sub, Frame{}) {
			dead = append(dead, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range dead {
		b.Unsubscribe(id)
	}
}

func trySend(sub *Subscription, frame Frame) bool {
	select {
	case sub.Frames <- frame:
		return true
	default:
		return false
	}
}

func (b *Bus) closeAll() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.userSubs = make(map[string]map[string]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.Done)
		close(sub.Frames)
	}
	b.logger.Info("all subscribers disconnected")
}
