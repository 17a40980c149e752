package ports

import (
	"context"

	"github.com/aretw0/journey/pkg/domain"
)

// UpdatePublisher emits outbound updates for UIs and event-stream consumers.
type UpdatePublisher interface {
	Publish(ctx context.Context, update domain.Update) error
}

// UpdateSubscriber delivers the updates of one session in publication order.
// The channel is closed when ctx is done.
type UpdateSubscriber interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan domain.Update, error)
}
