// Package remote fetches geometry and documents over HTTP into a disk cache.
//
// Cache files are named after the SHA-1 of the locator plus the caller's
// suffix, so a locator is downloaded at most once per cache directory.
package remote

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Faultbox/aobake/internal/logger"
)

// ErrStatus is returned when the origin answers with a non-200 status.
var ErrStatus = errors.New("remote: unexpected status")

const defaultUserAgent = "aobake/1.0"

// Options configures a Cache.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	Client    *http.Client // overrides Timeout when set
}

// Cache is a content-addressed download cache.
type Cache struct {
	dir       string
	client    *http.Client
	userAgent string
	group     singleflight.Group

	mu     sync.Mutex
	hits   int
	misses int
}

// NewCache creates a cache rooted at dir. The directory is created lazily.
func NewCache(dir string, opts Options) *Cache {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Cache{dir: dir, client: client, userAgent: ua}
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Path returns the cache file used for locator and suffix.
func (c *Cache) Path(locator, suffix string) string {
	sum := sha1.Sum([]byte(locator))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+suffix)
}

// Fetch returns the cached file for locator, downloading it first when it
// is not cached yet. Concurrent fetches of one locator share a download.
func (c *Cache) Fetch(ctx context.Context, locator, suffix string) (string, error) {
	path := c.Path(locator, suffix)
	log := logger.Named("remote")

	if _, err := os.Stat(path); err == nil {
		c.count(true)
		log.Debug("cache hit", zap.String("url", locator), zap.String("file", filepath.Base(path)))
		return path, nil
	}
	c.count(false)

	_, err, _ := c.group.Do(path, func() (any, error) {
		// A flight that finished between Stat and Do already wrote the file.
		if _, err := os.Stat(path); err == nil {
			return nil, nil
		}
		log.Info("fetching", zap.String("url", locator))
		return nil, c.download(ctx, locator, path)
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

func (c *Cache) download(ctx context.Context, locator, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", locator, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", locator, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", ErrStatus, locator, resp.StatusCode)
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("fetch %s: %w", locator, err)
	}
	tmp, err := os.CreateTemp(c.dir, ".fetch-*")
	if err != nil {
		return fmt.Errorf("fetch %s: %w", locator, err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("fetch %s: %w", locator, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("fetch %s: %w", locator, err)
	}
	// Readers only ever see complete files.
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("fetch %s: %w", locator, err)
	}
	return nil
}

func (c *Cache) count(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
}

// Stats returns cache statistics.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Clear removes every cached file and resets the statistics.
// It returns the number of files removed.
func (c *Cache) Clear() (int, error) {
	c.mu.Lock()
	c.hits, c.misses = 0, 0
	c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	var errs error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		removed++
	}
	return removed, errs
}
