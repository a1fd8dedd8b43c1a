package dispatcher

import (
	"context"

	"github.com/garyjia/xpensure/internal/domain/event"
)

// Handler processes a committed request event
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo describes a subscription
type HandlerInfo struct {
	Name      string
	EventType event.Type
	Handler   Handler
}
