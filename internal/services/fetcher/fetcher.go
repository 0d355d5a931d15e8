package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/meme-tgbot-go/internal/config"
	"github.com/meme-tgbot-go/internal/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// AvatarStore is the cache consulted before fetching avatars
type AvatarStore interface {
	Get(userID string) ([]byte, bool)
	Put(userID string, data []byte) error
}

// AvatarLocator resolves where a user's avatar can be downloaded on the chat platform
type AvatarLocator interface {
	AvatarURL(ctx context.Context, userID string) (string, error)
}

// FileLocator resolves a chat platform file id into a download URL.
// The URL may embed credentials and is never logged or downgraded.
type FileLocator interface {
	FileURL(ctx context.Context, fileID string) (string, error)
}

// botTokenPath matches the credential segment of Bot API file links
var botTokenPath = regexp.MustCompile(`/bot[^/]+/`)

// Fetcher downloads images and avatars over HTTP
type Fetcher struct {
	client          *http.Client
	avatarURL       string
	locator         AvatarLocator
	files           FileLocator
	avatarTimeout   time.Duration
	downloadTimeout time.Duration
	limiter         *rate.Limiter
	cache           AvatarStore
	logger          *logrus.Logger
	metrics         *middleware.Metrics
}

// NewFetcher creates a fetcher. cache may be nil.
func NewFetcher(cfg *config.NetworkConfig, cache AvatarStore, logger *logrus.Logger, metrics *middleware.Metrics) *Fetcher {
	limit := rate.Inf
	if cfg.AvatarRPS > 0 {
		limit = rate.Limit(cfg.AvatarRPS)
	}
	burst := cfg.AvatarBurst
	if burst <= 0 {
		burst = 1
	}

	return &Fetcher{
		client:          &http.Client{},
		avatarURL:       cfg.AvatarURL,
		avatarTimeout:   cfg.AvatarTimeout,
		downloadTimeout: cfg.DownloadTimeout,
		limiter:         rate.NewLimiter(limit, burst),
		cache:           cache,
		logger:          logger,
		metrics:         metrics,
	}
}

// SetLocator makes avatar lookups go through l instead of the avatar URL template
func (f *Fetcher) SetLocator(l AvatarLocator) {
	f.locator = l
}

// SetFileLocator enables DownloadFile
func (f *Fetcher) SetFileLocator(l FileLocator) {
	f.files = l
}

// DownloadImage fetches rawURL and returns its body. The scheme is downgraded to
// plain http before the request. Any failure yields false.
func (f *Fetcher) DownloadImage(ctx context.Context, rawURL string) ([]byte, bool) {
	rawURL = strings.ReplaceAll(rawURL, "https://", "http://")

	data, err := f.get(ctx, rawURL, f.downloadTimeout)
	if err != nil {
		f.metrics.RecordDownload("image", "error")
		f.logger.WithError(err).WithField("url", RedactURL(rawURL)).Warn("Image download failed")
		return nil, false
	}

	f.metrics.RecordDownload("image", "ok")
	return data, true
}

// DownloadFile fetches a platform file by id. The resolved URL is used as is,
// keeping its scheme. Without a file locator, or on any failure, it yields false.
func (f *Fetcher) DownloadFile(ctx context.Context, fileID string) ([]byte, bool) {
	if f.files == nil {
		return nil, false
	}
	log := f.logger.WithField("file_id", fileID)

	ctx, cancel := f.withTimeout(ctx, f.downloadTimeout)
	defer cancel()

	fileURL, err := f.files.FileURL(ctx, fileID)
	if err != nil {
		f.metrics.RecordDownload("file", "error")
		log.WithError(err).Warn("Failed to resolve file")
		return nil, false
	}

	data, err := f.get(ctx, fileURL, 0)
	if err != nil {
		f.metrics.RecordDownload("file", "error")
		log.WithError(err).Warn("File download failed")
		return nil, false
	}

	f.metrics.RecordDownload("file", "ok")
	return data, true
}

// GetAvatar returns the avatar of userID, consulting the cache first.
// Without a locator, non-numeric ids are replaced by a random 9-digit id for
// the remote lookup.
func (f *Fetcher) GetAvatar(ctx context.Context, userID string) ([]byte, bool) {
	if f.cache != nil {
		if data, ok := f.cache.Get(userID); ok {
			f.metrics.RecordCacheHit()
			return data, true
		}
		f.metrics.RecordCacheMiss()
	}

	if err := f.limiter.Wait(ctx); err != nil {
		f.logger.WithError(err).WithField("user_id", userID).Warn("Avatar request throttled")
		return nil, false
	}

	location, err := f.avatarLocation(ctx, userID)
	if err != nil {
		f.metrics.RecordDownload("avatar", "error")
		f.logger.WithError(err).WithField("user_id", userID).Warn("Avatar lookup failed")
		return nil, false
	}

	data, err := f.get(ctx, location, f.avatarTimeout)
	if err != nil {
		f.metrics.RecordDownload("avatar", "error")
		f.logger.WithError(err).WithField("user_id", userID).Warn("Avatar download failed")
		return nil, false
	}
	f.metrics.RecordDownload("avatar", "ok")

	if f.cache != nil {
		if err := f.cache.Put(userID, data); err != nil {
			f.logger.WithError(err).WithField("user_id", userID).Warn("Failed to cache avatar")
		}
	}

	return data, true
}

func (f *Fetcher) avatarLocation(ctx context.Context, userID string) (string, error) {
	if f.locator != nil {
		if f.avatarTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, f.avatarTimeout)
			defer cancel()
		}
		return f.locator.AvatarURL(ctx, userID)
	}

	remoteID := userID
	if !isNumeric(remoteID) {
		remoteID = randomDigits(9)
	}
	return fmt.Sprintf(f.avatarURL, remoteID), nil
}

func (f *Fetcher) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// get returns the body of a 2xx response. Errors never include the request URL.
func (f *Fetcher) get(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := f.withTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.New("failed to create request: invalid url")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	return data, nil
}

// RedactURL strips credentials, the query and Bot API token segments from rawURL
// so it can be logged.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "invalid url"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = botTokenPath.ReplaceAllString(u.Path, "/botREDACTED/")
	u.RawPath = ""
	return u.String()
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func randomDigits(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(byte('0' + rand.Intn(10)))
	}
	return b.String()
}
