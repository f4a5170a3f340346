package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"telefeed/internal/platform"
)

const (
	defaultRetention         = 20 * 24 * time.Hour
	defaultReconcileInterval = 60 * time.Second
	defaultDownloadInterval  = time.Second

	sniffLength        = 512
	fallbackContentTyp = "application/octet-stream"
)

// ErrNotFound indicates that neither the cache nor the remote platform can
// produce the requested content.
var ErrNotFound = errors.New("cache: content not found")

// Manager orchestrates on-demand downloads, serves cached bytes and runs the
// periodic reconciliation loop. All index mutations go through the Index,
// which serializes them; content resolution for distinct keys proceeds in
// parallel.
type Manager struct {
	client platform.Client
	index  *Index
	logger *slog.Logger

	dataDir           string
	retention         time.Duration
	reconcileInterval time.Duration
	downloadLimiter   *rate.Limiter

	group singleflight.Group
	now   func() time.Time
}

// ManagerOption mutates Manager construction.
type ManagerOption func(*Manager)

// WithRetention overrides the eviction window.
func WithRetention(window time.Duration) ManagerOption {
	return func(m *Manager) {
		if window > 0 {
			m.retention = window
		}
	}
}

// WithReconcileInterval overrides the reconciliation cycle interval.
func WithReconcileInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) {
		if interval > 0 {
			m.reconcileInterval = interval
		}
	}
}

// WithDownloadInterval overrides the pacing between background downloads.
func WithDownloadInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) {
		if interval > 0 {
			m.downloadLimiter = rate.NewLimiter(rate.Every(interval), 1)
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a cache manager storing content files under dataDir.
func NewManager(
	client platform.Client,
	index *Index,
	dataDir string,
	logger *slog.Logger,
	options ...ManagerOption,
) (*Manager, error) {
	if client == nil {
		return nil, fmt.Errorf("new cache manager: nil client")
	}
	if index == nil {
		return nil, fmt.Errorf("new cache manager: nil index")
	}
	if dataDir == "" {
		return nil, fmt.Errorf("new cache manager: missing data directory")
	}
	if logger == nil {
		logger = slog.Default()
	}

	manager := &Manager{
		client:            client,
		index:             index,
		logger:            logger,
		dataDir:           dataDir,
		retention:         defaultRetention,
		reconcileInterval: defaultReconcileInterval,
		downloadLimiter:   rate.NewLimiter(rate.Every(defaultDownloadInterval), 1),
		now:               time.Now,
	}
	for _, option := range options {
		option(manager)
	}

	return manager, nil
}

// Path returns the canonical content file path for key.
func (m *Manager) Path(key Key) string {
	return filepath.Join(m.dataDir, key.Filename())
}

// Resolve returns the local path holding the content for key, downloading it
// from the platform when the cache misses. Concurrent resolves of the same
// key collapse into a single download.
func (m *Manager) Resolve(ctx context.Context, key Key) (string, error) {
	if err := key.Validate(); err != nil {
		return "", fmt.Errorf("resolve content: %w", err)
	}

	path, err, _ := m.group.Do(key.String(), func() (any, error) {
		return m.resolveOne(ctx, key)
	})
	if err != nil {
		return "", err
	}

	return path.(string), nil
}

func (m *Manager) resolveOne(ctx context.Context, key Key) (string, error) {
	path := m.Path(key)

	if _, err := os.Stat(path); err == nil {
		if err := m.index.Touch(key, m.now()); err != nil {
			m.logger.Warn("touch cache entry failed",
				"channel", key.Channel, "post", key.PostID, "media", key.MediaID, "error", err)
		}
		return path, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat cached content %s: %w", key, err)
	}

	if err := m.download(ctx, key, path); err != nil {
		return "", err
	}

	if err := m.index.Touch(key, m.now()); err != nil {
		m.logger.Warn("touch cache entry failed",
			"channel", key.Channel, "post", key.PostID, "media", key.MediaID, "error", err)
	}

	return path, nil
}

// download locates the live media reference for key and installs the bytes
// at path through a temp file and rename.
func (m *Manager) download(ctx context.Context, key Key, path string) error {
	post, err := m.client.GetMessage(ctx, key.Channel, key.PostID)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return fmt.Errorf("locate content %s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("locate content %s: %w", key, err)
	}

	media, found := findMedia(post, key.MediaID)
	if !found {
		return fmt.Errorf("locate content %s: message no longer carries it: %w", key, ErrNotFound)
	}

	if err := os.MkdirAll(m.dataDir, 0o755); err != nil {
		return fmt.Errorf("create cache directory %s: %w", m.dataDir, err)
	}

	tmp := path + ".part"
	if err := m.client.Download(ctx, media, tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("download content %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("install content %s: %w", key, err)
	}

	return nil
}

func findMedia(post platform.Post, mediaID string) (platform.Media, bool) {
	for _, media := range post.Media {
		if media.ID == mediaID {
			return media, true
		}
	}
	if post.Preview != nil && post.Preview.Photo != nil && post.Preview.Photo.ID == mediaID {
		return *post.Preview.Photo, true
	}

	return platform.Media{}, false
}

// Serve opens the cached file and determines its content type: sniffed from
// the leading bytes first, then guessed from the extension, then a generic
// binary type.
func (m *Manager) Serve(path string) (io.ReadCloser, string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", 0, fmt.Errorf("serve content %s: %w", path, ErrNotFound)
		}
		return nil, "", 0, fmt.Errorf("serve content %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, "", 0, fmt.Errorf("serve content %s: %w", path, err)
	}

	head := make([]byte, sniffLength)
	n, err := file.Read(head)
	if err != nil && !errors.Is(err, io.EOF) {
		file.Close()
		return nil, "", 0, fmt.Errorf("serve content %s: %w", path, err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, "", 0, fmt.Errorf("serve content %s: %w", path, err)
	}

	contentType := http.DetectContentType(head[:n])
	if contentType == fallbackContentTyp {
		if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
			contentType = byExt
		}
	}

	return file, contentType, info.Size(), nil
}

// Run executes the reconciliation loop until ctx is cancelled. It is meant
// to run as the process's single long-lived background task.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.reconcile(ctx)
		}
	}
}

// reconcile evicts stale entries and re-downloads fresh entries whose file
// went missing. A single entry failure never aborts the cycle.
func (m *Manager) reconcile(ctx context.Context) {
	entries, err := m.index.Snapshot()
	if err != nil {
		m.logger.Error("reconcile: snapshot index failed", "error", err)
		return
	}

	now := m.now()
	var stale, fresh []Entry
	for _, entry := range entries {
		if now.Sub(entry.LastAccess) > m.retention {
			stale = append(stale, entry)
		} else {
			fresh = append(fresh, entry)
		}
	}

	reclaimed := make([]Key, 0, len(stale))
	for _, entry := range stale {
		path := m.Path(entry.Key)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			// Keep the entry so the next cycle retries the delete.
			m.logger.Warn("reconcile: evict failed",
				"channel", entry.Key.Channel, "post", entry.Key.PostID,
				"media", entry.Key.MediaID, "error", err)
			continue
		}
		reclaimed = append(reclaimed, entry.Key)
	}
	if len(reclaimed) > 0 {
		if err := m.index.RemoveAll(reclaimed); err != nil {
			m.logger.Error("reconcile: prune index failed", "error", err)
		} else {
			m.logger.Info("reconcile: evicted stale content", "count", len(reclaimed))
		}
	}

	for _, entry := range fresh {
		if ctx.Err() != nil {
			return
		}

		path := m.Path(entry.Key)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("reconcile: stat content failed",
				"channel", entry.Key.Channel, "post", entry.Key.PostID,
				"media", entry.Key.MediaID, "error", err)
			continue
		}

		// Serial downloads, paced to respect upstream rate limits.
		if err := m.downloadLimiter.Wait(ctx); err != nil {
			return
		}
		if _, err := m.Resolve(ctx, entry.Key); err != nil {
			m.logger.Warn("reconcile: refetch failed",
				"channel", entry.Key.Channel, "post", entry.Key.PostID,
				"media", entry.Key.MediaID, "error", err)
		}
	}
}
