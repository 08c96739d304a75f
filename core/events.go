package core

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"accountd/errutil"
)

type EventKind int

const (
	// EventChanged: the record's persisted state or in-use flag changed.
	EventChanged EventKind = iota
	EventActivityStarted
	EventActivityEnded
)

func (k EventKind) String() string {
	switch k {
	case EventChanged:
		return "changed"
	case EventActivityStarted:
		return "activity_started"
	case EventActivityEnded:
		return "activity_ended"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

type Event struct {
	Kind      EventKind
	AccountID string
	TaskID    ulid.ULID // zero when no task is involved
}

type subscriber struct {
	id int
	fn func(Event)
}

// observers delivers events synchronously, in subscription order. A
// panicking subscriber is logged and does not stop delivery to the rest.
type observers struct {
	logger *slog.Logger

	mu   sync.Mutex
	next int
	subs []subscriber
}

func (o *observers) subscribe(fn func(Event)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.next
	o.next++
	o.subs = append(o.subs, subscriber{id: id, fn: fn})

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, s := range o.subs {
			if s.id == id {
				o.subs = append(o.subs[:i:i], o.subs[i+1:]...)
				return
			}
		}
	}
}

func (o *observers) publish(e Event) {
	o.mu.Lock()
	subs := make([]subscriber, len(o.subs))
	copy(subs, o.subs)
	o.mu.Unlock()

	for _, s := range subs {
		o.deliver(s, e)
	}
}

func (o *observers) deliver(s subscriber, e Event) {
	defer func() {
		if p := recover(); p != nil {
			logger := o.logger
			if logger == nil {
				logger = slog.Default()
			}
			err := oops.Code("EVENT_SUBSCRIBER_PANIC").
				With("event", e.Kind.String()).
				With("task_id", e.TaskID.String()).
				Errorf("event subscriber panicked: %v", p)
			errutil.LogError(logger, "event subscriber failed", err)
		}
	}()
	s.fn(e)
}
