package ledger

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/runnerr0/onset/internal/record"
)

// Kind classifies a ledger notification.
type Kind string

const (
	KindCreated            Kind = "created"
	KindDeleted            Kind = "deleted"
	KindModified           Kind = "modified"
	KindReordered          Kind = "reordered"
	KindDetectionPerformed Kind = "detection_performed"
)

// Notification describes one committed change. Marker is set for created,
// deleted and modified notifications; Count is set for reordered and
// detection_performed.
type Notification struct {
	Kind   Kind
	Marker *record.Marker
	Fields []record.Field // modified only
	Count  int
}

// Handler receives notifications synchronously, on the goroutine that made
// the change, after the change is committed. Notifications of concurrent
// writers are delivered one writer at a time, in commit order. A handler
// may read the ledger and history but must not write through the history.
type Handler func(Notification)

type subscription struct {
	id      string
	handler Handler
	kinds   []Kind
}

// observers is an ordered callback registry. Handlers run in subscription
// order.
type observers struct {
	mu     sync.RWMutex
	subs   []*subscription
	logger *slog.Logger
}

func (o *observers) subscribe(h Handler, kinds ...Kind) string {
	o.mu.Lock()
	defer o.mu.Unlock()

	sub := &subscription{id: uuid.NewString(), handler: h, kinds: kinds}
	o.subs = append(o.subs, sub)
	return sub.id
}

func (o *observers) unsubscribe(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, s := range o.subs {
		if s.id == id {
			o.subs = slices.Delete(o.subs, i, i+1)
			return true
		}
	}
	return false
}

func (o *observers) emit(notes []Notification) {
	if len(notes) == 0 {
		return
	}
	o.mu.RLock()
	subs := slices.Clone(o.subs)
	o.mu.RUnlock()

	for _, n := range notes {
		for _, s := range subs {
			if len(s.kinds) > 0 && !slices.Contains(s.kinds, n.Kind) {
				continue
			}
			o.safeInvoke(s.handler, n)
		}
	}
}

// safeInvoke keeps one panicking handler from starving the others.
func (o *observers) safeInvoke(h Handler, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("ledger observer panicked",
				slog.String("kind", string(n.Kind)),
				slog.Any("panic", r),
			)
		}
	}()
	h(n)
}

func created(ms ...*record.Marker) []Notification {
	out := make([]Notification, len(ms))
	for i, m := range ms {
		out[i] = Notification{Kind: KindCreated, Marker: m}
	}
	return out
}

func deleted(ms ...*record.Marker) []Notification {
	out := make([]Notification, len(ms))
	for i, m := range ms {
		out[i] = Notification{Kind: KindDeleted, Marker: m}
	}
	return out
}
