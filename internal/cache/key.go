// Package cache turns the remote pay-per-fetch content store into a locally
// durable, self-evicting disk cache with concurrent-safe bookkeeping.
package cache

import (
	"fmt"
	"strconv"
	"strings"
)

// Key identifies one physical content item: the hosting channel, the post
// that referenced it and the stable media id. The same key always maps to
// the same cache file and URL path segment.
type Key struct {
	Channel string
	PostID  int64
	MediaID string
}

// ParseKey parses the canonical channel/post/media form.
func ParseKey(raw string) (Key, error) {
	parts := strings.Split(raw, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Key{}, fmt.Errorf("parse content key %q: want channel/post/media", raw)
	}

	postID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("parse content key %q: %w", raw, err)
	}

	return Key{Channel: parts[0], PostID: postID, MediaID: parts[2]}, nil
}

// Validate checks that all key components are present.
func (k Key) Validate() error {
	if k.Channel == "" {
		return fmt.Errorf("validate content key: missing channel")
	}
	if k.PostID <= 0 {
		return fmt.Errorf("validate content key: missing post id")
	}
	if k.MediaID == "" {
		return fmt.Errorf("validate content key: missing media id")
	}

	return nil
}

// String returns the canonical channel/post/media form used both as the
// index key and as the URL path segment.
func (k Key) String() string {
	return k.Channel + "/" + strconv.FormatInt(k.PostID, 10) + "/" + k.MediaID
}

// Filename returns the deterministic on-disk name for the cached bytes.
func (k Key) Filename() string {
	return k.Channel + "_" + strconv.FormatInt(k.PostID, 10) + "_" + k.MediaID
}
