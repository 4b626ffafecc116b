package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Change describes a create, update or delete of a rate entity.
type Change struct {
	ID         string    `json:"id"`
	Topic      string    `json:"topic"`
	EntityID   string    `json:"entityId,omitempty"`
	Action     string    `json:"action,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
	// Origin identifies the process that first published the change.
	Origin string `json:"origin,omitempty"`
}

// Validate checks the topic and action.
func (c Change) Validate() error {
	if strings.TrimSpace(c.Topic) == "" {
		return errors.New("events: topic is required")
	}
	if !IsKnownTopic(c.Topic) {
		return fmt.Errorf("events: unknown topic %q", c.Topic)
	}
	switch c.Action {
	case "", ActionCreated, ActionUpdated, ActionDeleted:
		return nil
	default:
		return fmt.Errorf("events: unknown action %q", c.Action)
	}
}

// Publisher forwards changes to other processes.
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

// Notifier reacts to changes locally (snapshot invalidation, cache purge, logging).
type Notifier interface {
	Notify(ctx context.Context, change Change) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, change Change) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, change Change) error {
	return f(ctx, change)
}

// Bus fans changes out to local notifiers and an optional cross-process publisher.
type Bus struct {
	Publisher Publisher
	Notifiers []Notifier
	// Origin is stamped on changes emitted by this process.
	Origin string
	now    func() time.Time
}

// Emit builds a change for topic and publishes it.
func (b *Bus) Emit(ctx context.Context, topic, entityID, action string) (Change, error) {
	change := Change{Topic: strings.TrimSpace(topic), EntityID: strings.TrimSpace(entityID), Action: strings.TrimSpace(action)}
	if err := b.Publish(ctx, &change); err != nil {
		return change, err
	}
	return change, nil
}

// Publish fills missing identifiers, notifies local handlers and forwards the change to the
// publisher. Handler errors are joined; every handler runs regardless of earlier failures.
func (b *Bus) Publish(ctx context.Context, change *Change) error {
	if b == nil {
		return errors.New("events: bus not configured")
	}
	if err := change.Validate(); err != nil {
		return err
	}
	if change.ID == "" {
		change.ID = uuid.NewString()
	}
	if change.OccurredAt.IsZero() {
		change.OccurredAt = b.clock().UTC()
	}
	if change.Origin == "" {
		change.Origin = b.Origin
	}
	joined := b.Dispatch(ctx, *change)
	if b.Publisher != nil {
		if err := b.Publisher.Publish(ctx, *change); err != nil {
			joined = errors.Join(joined, fmt.Errorf("events: publish: %w", err))
		}
	}
	return joined
}

// Dispatch delivers a change received from another process to local notifiers only.
func (b *Bus) Dispatch(ctx context.Context, change Change) error {
	if b == nil {
		return nil
	}
	var joined error
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, change); err != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", err))
		}
	}
	return joined
}

func (b *Bus) clock() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}
