package avatar

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/meme-tgbot-go/internal/config"
	"github.com/sirupsen/logrus"
)

const metadataFile = "metadata.json"

// Extensions are probed in this order when looking up a key
var extensions = []string{".jpg", ".png", ".gif", ".bmp", ".webp"}

const defaultExtension = ".jpg"

var (
	pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	jpegPrefix   = []byte{0xff, 0xd8}
)

// DetectExtension returns the file suffix for an image payload from its magic bytes.
// Payloads shorter than 12 bytes or with an unknown signature get ".jpg".
func DetectExtension(data []byte) string {
	if len(data) < 12 {
		return defaultExtension
	}

	switch {
	case bytes.HasPrefix(data, jpegPrefix):
		return ".jpg"
	case bytes.HasPrefix(data, pngSignature):
		return ".png"
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return ".gif"
	case bytes.HasPrefix(data, []byte("BM")):
		return ".bmp"
	case bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return ".webp"
	default:
		return defaultExtension
	}
}

// Key derives the on-disk key for a user identifier
func Key(userID string) string {
	hash := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(hash[:])
}

// Stats describes the current cache contents
type Stats struct {
	Count       int    `json:"count"`
	TotalBytes  int64  `json:"total_bytes"`
	Enabled     bool   `json:"enabled"`
	ExpireHours int    `json:"expire_hours"`
	Dir         string `json:"dir"`
}

// SweepResult reports what one expiry pass removed
type SweepResult struct {
	Removed int
	Bytes   int64
}

// Cache is a disk-backed avatar store keyed by hashed user id.
// All file and metadata mutations happen under mu.
type Cache struct {
	mu          sync.Mutex
	dir         string
	expireHours int
	enabled     bool
	metadata    map[string]float64
	logger      *logrus.Logger
	now         func() time.Time
}

// NewCache creates the avatar cache and reloads persisted metadata.
// A missing or corrupt metadata file yields an empty cache.
func NewCache(cfg *config.AvatarCacheConfig, logger *logrus.Logger) (*Cache, error) {
	c := &Cache{
		dir:         cfg.Dir,
		expireHours: cfg.ExpireHours,
		enabled:     cfg.Enabled,
		logger:      logger,
		now:         time.Now,
	}

	if c.enabled {
		if err := os.MkdirAll(c.dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create avatar cache dir: %w", err)
		}
	}

	c.metadata = c.loadMetadata()
	return c, nil
}

func (c *Cache) loadMetadata() map[string]float64 {
	metadata := make(map[string]float64)
	if !c.enabled {
		return metadata
	}

	data, err := os.ReadFile(filepath.Join(c.dir, metadataFile))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.WithError(err).Warn("Failed to read avatar cache metadata")
		}
		return metadata
	}

	if err := json.Unmarshal(data, &metadata); err != nil {
		c.logger.WithError(err).Warn("Avatar cache metadata is corrupt, starting empty")
		return make(map[string]float64)
	}

	return metadata
}

// saveMetadata must be called with mu held
func (c *Cache) saveMetadata() error {
	if !c.enabled {
		return nil
	}

	data, err := json.MarshalIndent(c.metadata, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.dir, metadataFile+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(c.dir, metadataFile))
}

func (c *Cache) persist() {
	if err := c.saveMetadata(); err != nil {
		c.logger.WithError(err).Error("Failed to save avatar cache metadata")
	}
}

func (c *Cache) expired(stored float64) bool {
	age := float64(c.now().UnixNano())/1e9 - stored
	return age > float64(c.expireHours)*3600
}

// findFile must be called with mu held
func (c *Cache) findFile(key string) (string, bool) {
	for _, ext := range extensions {
		path := filepath.Join(c.dir, key+ext)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// removeFiles deletes every extension variant of key and returns the bytes freed.
// Must be called with mu held.
func (c *Cache) removeFiles(key string) (int64, error) {
	var freed int64
	var errs []error
	for _, ext := range extensions {
		path := filepath.Join(c.dir, key+ext)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		freed += info.Size()
	}
	return freed, errors.Join(errs...)
}

// removeEntry must be called with mu held
func (c *Cache) removeEntry(key string) (int64, error) {
	freed, err := c.removeFiles(key)
	delete(c.metadata, key)
	c.persist()
	return freed, err
}

// Get returns the cached avatar for userID. Expired or unreadable entries are
// deleted and reported as absent.
func (c *Cache) Get(userID string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return nil, false
	}

	key := Key(userID)
	path, found := c.findFile(key)
	stored, known := c.metadata[key]
	if !found || !known {
		return nil, false
	}

	if c.expired(stored) {
		if _, err := c.removeEntry(key); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("Failed to remove expired avatar")
		}
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Error("Failed to read cached avatar")
		c.removeEntry(key)
		return nil, false
	}

	return data, true
}

// Put stores data for userID, replacing any previous entry regardless of format
func (c *Cache) Put(userID string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return nil
	}

	key := Key(userID)
	path := filepath.Join(c.dir, key+DetectExtension(data))

	if _, err := c.removeFiles(key); err != nil {
		return fmt.Errorf("failed to remove previous avatar: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		os.Remove(path)
		delete(c.metadata, key)
		c.persist()
		return fmt.Errorf("failed to write avatar: %w", err)
	}

	c.metadata[key] = float64(c.now().UnixNano()) / 1e9
	c.persist()

	return nil
}

// Remove deletes the entry for userID
func (c *Cache) Remove(userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.removeEntry(Key(userID))
	return err
}

// RemoveExpired deletes every entry older than the expiry window
func (c *Cache) RemoveExpired() (SweepResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result SweepResult
	if !c.enabled {
		return result, nil
	}

	var errs []error
	for key, stored := range c.metadata {
		if !c.expired(stored) {
			continue
		}
		freed, err := c.removeFiles(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		delete(c.metadata, key)
		result.Removed++
		result.Bytes += freed
	}

	if result.Removed > 0 {
		if err := c.saveMetadata(); err != nil {
			errs = append(errs, fmt.Errorf("save metadata: %w", err))
		}
	}

	return result, errors.Join(errs...)
}

// ClearAll deletes every cached avatar
func (c *Cache) ClearAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.clearLocked()
}

func (c *Cache) clearLocked() error {
	if !c.enabled {
		return nil
	}

	var errs []error
	for key := range c.metadata {
		if _, err := c.removeFiles(key); err != nil {
			errs = append(errs, err)
		}
	}
	c.metadata = make(map[string]float64)
	if err := c.saveMetadata(); err != nil {
		errs = append(errs, err)
	}

	c.logger.Info("Avatar cache cleared")
	return errors.Join(errs...)
}

// Stats reports entry count and on-disk size of cached images
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Count:       len(c.metadata),
		Enabled:     c.enabled,
		ExpireHours: c.expireHours,
		Dir:         c.dir,
	}

	for _, ext := range extensions {
		matches, err := filepath.Glob(filepath.Join(c.dir, "*"+ext))
		if err != nil {
			continue
		}
		for _, path := range matches {
			if info, err := os.Stat(path); err == nil {
				stats.TotalBytes += info.Size()
			}
		}
	}

	return stats
}

// UpdateSettings changes the expiry window and the enabled switch.
// Disabling the cache clears it.
func (c *Cache) UpdateSettings(expireHours int, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireHours = expireHours
	if !enabled {
		err := c.clearLocked()
		c.enabled = false
		return err
	}

	c.enabled = true
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create avatar cache dir: %w", err)
	}
	return nil
}

// Enabled reports whether caching is on
func (c *Cache) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}
