package email

import (
	"context"
	"time"
)

// DefaultSendTimeout bounds a single alert fan-out.
const DefaultSendTimeout = 10 * time.Second

func newEmailContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	// Alerts outlive the request that raised them.
	parent = context.WithoutCancel(parent)
	return context.WithTimeout(parent, timeout)
}
