// Package invalidation evicts cached responses when the backend announces
// that a resource changed. Change events arrive on a Pub/Sub subscription.
package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// ResourceAttribute is the message attribute that may carry the resource name
// instead of a JSON payload.
const ResourceAttribute = "resource"

// ErrNoResource is returned for change events that name no resource.
var ErrNoResource = errors.New("change event has no resource")

// ChangeEvent is the payload the backend publishes when a resource changes.
type ChangeEvent struct {
	Resource string `json:"resource"`
	Action   string `json:"action,omitempty"`
	ID       string `json:"id,omitempty"`
}

// DecodeEvent reads a change event from a message. The resource attribute
// takes precedence over the payload.
func DecodeEvent(data []byte, attrs map[string]string) (ChangeEvent, error) {
	if r := strings.TrimSpace(attrs[ResourceAttribute]); r != "" {
		return ChangeEvent{Resource: r, Action: attrs["action"], ID: attrs["id"]}, nil
	}
	var ev ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("failed to decode change event: %w", err)
	}
	ev.Resource = strings.TrimSpace(ev.Resource)
	if ev.Resource == "" {
		return ChangeEvent{}, ErrNoResource
	}
	return ev, nil
}

// Invalidator drops cached responses whose keys contain pattern.
// *query.Client satisfies it.
type Invalidator interface {
	InvalidateMatching(ctx context.Context, pattern string) (int, error)
}

// ListenerConfig holds the settings for a Listener.
type ListenerConfig struct {
	SubscriptionID         string
	MaxOutstandingMessages int
	NumGoroutines          int
	// Pattern maps a resource name to the cache key pattern to evict.
	// Nil means the resource name itself.
	Pattern func(resource string) string
}

// NewListenerDefaults returns a config with sensible receive settings.
func NewListenerDefaults(subID string) *ListenerConfig {
	return &ListenerConfig{
		SubscriptionID:         subID,
		MaxOutstandingMessages: 100,
		NumGoroutines:          2,
	}
}

// Listener consumes change events and invalidates the matching cache entries.
type Listener struct {
	subscription *pubsub.Subscription
	target       Invalidator
	pattern      func(string) string
	logger       zerolog.Logger

	mu                 sync.Mutex
	started            bool
	stopOnce           sync.Once
	cancelSubscription context.CancelFunc
	doneChan           chan struct{}
}

// NewListener creates a Listener on an existing subscription.
func NewListener(cfg *ListenerConfig, client *pubsub.Client, target Invalidator, logger zerolog.Logger) (*Listener, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	if target == nil {
		return nil, fmt.Errorf("invalidation target cannot be nil")
	}
	sub := client.Subscription(cfg.SubscriptionID)

	subContext, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	exists, err := sub.Exists(subContext)
	if err != nil {
		return nil, fmt.Errorf("failed to check subscription %s: %w", cfg.SubscriptionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("subscription %s does not exist", cfg.SubscriptionID)
	}

	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines

	pattern := cfg.Pattern
	if pattern == nil {
		pattern = func(resource string) string { return resource }
	}

	return &Listener{
		subscription: sub,
		target:       target,
		pattern:      pattern,
		logger:       logger.With().Str("component", "InvalidationListener").Str("subscription_id", cfg.SubscriptionID).Logger(),
		doneChan:     make(chan struct{}),
	}, nil
}

// Start begins receiving change events in the background. A Listener can be
// started once.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.doneChan:
		return fmt.Errorf("listener already stopped")
	default:
	}
	if l.started {
		return fmt.Errorf("listener already started")
	}
	l.started = true
	l.logger.Info().Msg("Starting invalidation listener...")
	receiveCtx, cancel := context.WithCancel(ctx)
	l.cancelSubscription = cancel
	go func() {
		defer close(l.doneChan)
		defer l.logger.Info().Msg("Invalidation listener stopped.")

		err := l.subscription.Receive(receiveCtx, func(ctx context.Context, msg *pubsub.Message) {
			if err := l.handle(ctx, msg.Data, msg.Attributes); err != nil {
				l.logger.Warn().Err(err).Str("msg_id", msg.ID).Msg("Nacking change event.")
				msg.Nack()
				return
			}
			msg.Ack()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error")
		}
	}()
	return nil
}

// Stop ends consumption and waits for the receive loop to exit or ctx to end.
func (l *Listener) Stop(ctx context.Context) error {
	var err error
	l.stopOnce.Do(func() {
		l.logger.Info().Msg("Stopping invalidation listener...")
		l.mu.Lock()
		cancel := l.cancelSubscription
		if cancel == nil {
			close(l.doneChan)
			l.mu.Unlock()
			return
		}
		l.mu.Unlock()
		cancel()
		select {
		case <-l.doneChan:
		case <-ctx.Done():
			err = fmt.Errorf("timed out waiting for listener to stop: %w", ctx.Err())
		}
	})
	return err
}

// Done is closed once the receive loop has exited.
func (l *Listener) Done() <-chan struct{} {
	return l.doneChan
}

func (l *Listener) handle(ctx context.Context, data []byte, attrs map[string]string) error {
	ev, err := DecodeEvent(data, attrs)
	if err != nil {
		return err
	}
	pattern := l.pattern(ev.Resource)
	removed, err := l.target.InvalidateMatching(ctx, pattern)
	if err != nil {
		return fmt.Errorf("failed to invalidate %q: %w", pattern, err)
	}
	l.logger.Info().
		Str("resource", ev.Resource).
		Str("action", ev.Action).
		Str("pattern", pattern).
		Int("removed", removed).
		Msg("Invalidated cached responses.")
	return nil
}
