package notify

import "context"

// Channel delivers rendered notification content to an external sink.
type Channel interface {
	Send(ctx context.Context, content string) error
}
