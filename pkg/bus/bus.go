// Package bus provides the in-process broker that fans run events out to
// every connected stream observer. There is no replay: a subscriber that
// attaches mid-run receives events only from that point forward, and no
// event is delivered twice to the same subscription.
package bus

import (
	"context"
	"errors"

	"github.com/pardeema/bot-attack-simulator/pkg/event"
)

// ErrClosed is returned when operating on a closed bus or subscription.
var ErrClosed = errors.New("bus or subscription closed")

// Bus relays run events to all currently attached subscribers in emission
// order. Implementations must be safe for concurrent use: subscriptions
// are added and removed while deliveries are in progress.
type Bus interface {
	// Publish delivers an event to every active subscription. It never
	// blocks on a slow subscriber.
	Publish(ctx context.Context, env event.Envelope) error

	// Subscribe attaches a new observer. The subscription receives every
	// event published after this call until it is unsubscribed.
	Subscribe(ctx context.Context) (Subscription, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription is one observer's attachment to the bus.
type Subscription interface {
	// Events is the ordered stream for this subscriber. The channel is
	// closed on Unsubscribe or bus Close.
	Events() <-chan event.Envelope

	// Unsubscribe detaches the observer and releases its resources.
	// Safe to call more than once.
	Unsubscribe() error

	// ID identifies the subscription for logging.
	ID() string
}
