package ports

import (
	"context"

	"stashworker/internal/domain/offline"
)

// ClientRegistry is the set of open pages controlled by the worker.
type ClientRegistry interface {
	// Claim takes control of already-open pages and returns how many.
	Claim(ctx context.Context) int
	OpenWindow(ctx context.Context, url string) error
	Count() int
}

// Notifier shows a user notification.
type Notifier interface {
	ShowNotification(ctx context.Context, n offline.Notification) error
}
