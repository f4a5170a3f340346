package platform

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates that a message, channel or attachment does not
	// exist upstream. It is surfaced to callers and never retried.
	ErrNotFound = errors.New("platform: not found")
	// ErrUpstream indicates a remote platform failure (network, rate limit,
	// permission). It is surfaced and logged but not retried here.
	ErrUpstream = errors.New("platform: upstream failure")
)

// Client is the messaging-platform collaborator. Implementations must be
// safe for concurrent use; every call may block on network I/O and observes
// ctx cancellation.
type Client interface {
	// GetMessage fetches one message of a public channel by id.
	GetMessage(ctx context.Context, channel string, id int64) (Post, error)
	// GetHistory fetches the most recent messages of a public channel,
	// newest first.
	GetHistory(ctx context.Context, channel string, limit int) ([]Post, error)
	// GetChatInfo fetches channel-level metadata.
	GetChatInfo(ctx context.Context, channel string) (ChatInfo, error)
	// Download streams the attachment identified by media.Ref to dest.
	Download(ctx context.Context, media Media, dest string) error
}
