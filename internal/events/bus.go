// Package events delivers report lifecycle notifications to in-process
// subscribers.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scoutreport/pkg/models"
)

type Kind string

const (
	KindJobCreated       Kind = "job.created"
	KindJobStatusChanged Kind = "job.status_changed"
	KindJobDeleted       Kind = "job.deleted"
)

// AllKinds lists every event kind in a stable order.
var AllKinds = []Kind{KindJobCreated, KindJobStatusChanged, KindJobDeleted}

func (k Kind) Valid() bool {
	switch k {
	case KindJobCreated, KindJobStatusChanged, KindJobDeleted:
		return true
	}
	return false
}

// Event describes one change to a report job. Status is the job status
// after the change; it is empty for job.deleted.
type Event struct {
	Kind       Kind                `json:"kind"`
	JobID      uuid.UUID           `json:"job_id"`
	OwnerID    string              `json:"owner_id"`
	Status     models.ReportStatus `json:"status,omitempty"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// Handler reacts to an event. A returned error is logged by the bus and
// goes no further.
type Handler func(ctx context.Context, e Event) error

type SubscriptionID uint64

// Publisher is what producers of events depend on.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// Bus is a synchronous in-process fan-out. Handlers for a kind run in
// subscription order on the publisher's goroutine.
type Bus struct {
	mu     sync.RWMutex
	nextID SubscriptionID
	subs   map[Kind][]subscription
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: make(map[Kind][]subscription), logger: logger}
}

func (b *Bus) Subscribe(kind Kind, h Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[kind] = append(b.subs[kind], subscription{id: b.nextID, handler: h})
	return b.nextID
}

// SubscribeKinds registers h for each of kinds, or for every kind when
// none are given.
func (b *Bus) SubscribeKinds(h Handler, kinds ...Kind) []SubscriptionID {
	if len(kinds) == 0 {
		kinds = AllKinds
	}
	ids := make([]SubscriptionID, 0, len(kinds))
	for _, k := range kinds {
		ids = append(ids, b.Subscribe(k, h))
	}
	return ids
}

// Unsubscribe removes a subscription. It reports whether id was
// registered for kind.
func (b *Bus) Unsubscribe(kind Kind, id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[kind]
	for i, s := range subs {
		if s.id == id {
			b.subs[kind] = append(subs[:i:i], subs[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	subs := b.subs[e.Kind]
	b.mu.RUnlock()

	for _, s := range subs {
		if err := b.deliver(ctx, s.handler, e); err != nil {
			b.logger.Error("event handler failed",
				"kind", e.Kind,
				"job_id", e.JobID,
				"subscription_id", s.id,
				"error", err,
			)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, h Handler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, e)
}

var _ Publisher = (*Bus)(nil)
