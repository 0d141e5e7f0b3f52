package subscribers

import (
	"context"

	"hrstack.local/projects/tracker-gateway/internal/tracker"
)

type Subscriber interface {
	Name() string
	Handle(context.Context, tracker.Event) error
}
