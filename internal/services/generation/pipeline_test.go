package generation

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meme-tgbot-go/internal/config"
	"github.com/meme-tgbot-go/internal/middleware"
	"github.com/meme-tgbot-go/internal/models"
	"github.com/meme-tgbot-go/internal/services/avatar"
	"github.com/meme-tgbot-go/internal/services/collector"
	"github.com/meme-tgbot-go/internal/services/fetcher"
	"github.com/meme-tgbot-go/internal/services/render"
	"github.com/meme-tgbot-go/internal/services/templates"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var punch = models.Template{
	Key:          "punch",
	Keywords:     []string{"punch"},
	MinImages:    1,
	MaxImages:    1,
	MinTexts:     1,
	MaxTexts:     1,
	DefaultTexts: []string{"pow"},
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

type fakeRenderer struct {
	mu     sync.Mutex
	calls  int
	key    string
	images []models.NamedImage
	texts  []string
	output []byte
	err    error
	block  bool
}

func (r *fakeRenderer) Render(ctx context.Context, key string, images []models.NamedImage, texts []string, options models.Options) ([]byte, error) {
	r.mu.Lock()
	r.calls++
	r.key, r.images, r.texts = key, images, texts
	block, out, err := r.block, r.output, r.err
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return out, err
}

func (r *fakeRenderer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type disabledSet map[string]bool

func (d disabledSet) IsTemplateDisabled(key string) bool { return d[key] }

type countingCollector struct {
	inner ParamCollector
	calls atomic.Int32
}

func (c *countingCollector) Collect(ctx context.Context, ev *models.Event, keyword string, tmpl *models.Template) collector.Result {
	c.calls.Add(1)
	return c.inner.Collect(ctx, ev, keyword, tmpl)
}

type harness struct {
	pipeline       *Pipeline
	renderer       *fakeRenderer
	cache          *avatar.Cache
	cooldown       *middleware.Cooldown
	collector      *countingCollector
	disabled       disabledSet
	avatarRequests *atomic.Int32
	fileLookups    *atomic.Int32
}

type fileLocatorFunc func(ctx context.Context, fileID string) (string, error)

func (f fileLocatorFunc) FileURL(ctx context.Context, fileID string) (string, error) {
	return f(ctx, fileID)
}

type countingLimiter struct {
	allow bool
	calls atomic.Int32
}

func (l *countingLimiter) Allow(chatID int64) bool {
	l.calls.Add(1)
	return l.allow
}

func (l *countingLimiter) Reset(chatID int64) {}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	avatarPNG := pngBytes(t, 64, 64)
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write(avatarPNG)
	}))
	t.Cleanup(server.Close)

	cache, err := avatar.NewCache(&config.AvatarCacheConfig{
		Enabled:     true,
		ExpireHours: 24,
		Dir:         t.TempDir(),
	}, logger)
	require.NoError(t, err)

	f := fetcher.NewFetcher(&config.NetworkConfig{
		AvatarURL:       server.URL + "/headimg_dl?dst_uin=%s&spec=640",
		AvatarTimeout:   time.Second,
		DownloadTimeout: time.Second,
	}, cache, logger, nil)
	var lookups atomic.Int32
	f.SetFileLocator(fileLocatorFunc(func(ctx context.Context, fileID string) (string, error) {
		lookups.Add(1)
		return server.URL + "/file/" + fileID, nil
	}))

	index := templates.NewIndex(templates.SourceFunc(func(ctx context.Context) ([]models.Template, error) {
		return []models.Template{punch}, nil
	}), time.Second, logger, nil)

	coll := &countingCollector{
		inner: collector.NewCollector(&config.CollectorConfig{QuotedName: "quoted-user", BotName: "bot"}, f, nil, logger),
	}

	renderer := &fakeRenderer{output: pngBytes(t, 1024, 512)}
	cooldown := middleware.NewCooldown(3*time.Second, logger)
	disabled := disabledSet{}

	pipeline := NewPipeline(&config.PluginConfig{
		GenerationTimeout: 5,
		CompressMaxSize:   512,
	}, cooldown, index, disabled, coll, renderer, logger, nil)

	return &harness{
		pipeline:       pipeline,
		renderer:       renderer,
		cache:          cache,
		cooldown:       cooldown,
		collector:      coll,
		disabled:       disabled,
		avatarRequests: &requests,
		fileLookups:    &lookups,
	}
}

func event(senderID, text string) *models.Event {
	return &models.Event{
		SenderID:   senderID,
		SelfID:     "999",
		SenderName: "Alice",
		Platform:   "telegram",
		Segments:   []models.Segment{{Kind: models.SegmentText, Text: text}},
	}
}

func TestPipeline_Scenarios(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("first trigger generates", func(t *testing.T) {
		_, cached := h.cache.Get("100")
		require.False(t, cached)

		out, err := h.pipeline.Generate(ctx, event("100", "punch"))
		require.NoError(t, err)

		assert.Equal(t, int32(1), h.avatarRequests.Load(), "sender avatar fetched from network")
		_, cached = h.cache.Get("100")
		assert.True(t, cached, "sender avatar stored in cache")

		assert.Equal(t, 1, h.renderer.Calls())
		assert.Equal(t, "punch", h.renderer.key)
		require.Len(t, h.renderer.images, 1)
		assert.Equal(t, "Alice", h.renderer.images[0].Name)
		assert.Equal(t, []string{"Alice"}, h.renderer.texts)

		cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, 512, cfg.Width, "result is compressed")
		assert.Equal(t, 256, cfg.Height)

		assert.True(t, h.cooldown.InCooldown("100"))
	})

	t.Run("repeat within cooldown is suppressed", func(t *testing.T) {
		before := h.cooldown.Remaining("100")

		out, err := h.pipeline.Generate(ctx, event("100", "punch"))
		assert.Nil(t, out)
		assert.ErrorIs(t, err, ErrInCooldown)
		assert.ErrorIs(t, err, ErrSuppressed)

		assert.Equal(t, 1, h.renderer.Calls(), "render not called")
		assert.LessOrEqual(t, h.cooldown.Remaining("100"), before, "cooldown not refreshed")
	})

	t.Run("disabled template short-circuits", func(t *testing.T) {
		h.disabled["punch"] = true
		collects := h.collector.calls.Load()
		requests := h.avatarRequests.Load()

		out, err := h.pipeline.Generate(ctx, event("300", "punch"))
		assert.Nil(t, out)
		assert.ErrorIs(t, err, ErrTemplateDisabled)

		assert.Equal(t, collects, h.collector.calls.Load(), "no parameter collection")
		assert.Equal(t, requests, h.avatarRequests.Load(), "no network call")
		assert.Equal(t, 1, h.renderer.Calls())
		assert.False(t, h.cooldown.InCooldown("300"))
	})
}

func photoEvent(senderID string) *models.Event {
	ev := event(senderID, "punch")
	ev.ChatID = -500
	ev.Segments = append(ev.Segments, models.Segment{Kind: models.SegmentImage, FileID: "photo-1"})
	return ev
}

func TestPipeline_GatesRunBeforeFileLookups(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	limiter := &countingLimiter{allow: true}
	h.pipeline.SetRateLimiter(limiter)

	h.cooldown.RecordUse("100")
	_, err := h.pipeline.Generate(ctx, photoEvent("100"))
	assert.ErrorIs(t, err, ErrInCooldown)

	h.disabled["punch"] = true
	_, err = h.pipeline.Generate(ctx, photoEvent("200"))
	assert.ErrorIs(t, err, ErrTemplateDisabled)

	assert.Equal(t, int32(0), h.fileLookups.Load(), "suppressed requests resolve no files")
	assert.Equal(t, int32(0), limiter.calls.Load(), "suppressed requests spend no rate limit tokens")

	delete(h.disabled, "punch")
	_, err = h.pipeline.Generate(ctx, photoEvent("200"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.fileLookups.Load())
	assert.Equal(t, int32(1), limiter.calls.Load())
	require.Len(t, h.renderer.images, 1)
	assert.Equal(t, "Alice", h.renderer.images[0].Name, "the attached photo fills the only slot")
}

func TestPipeline_RateLimited(t *testing.T) {
	h := newHarness(t)
	h.pipeline.SetRateLimiter(&countingLimiter{allow: false})

	_, err := h.pipeline.Generate(context.Background(), photoEvent("100"))
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.ErrorIs(t, err, ErrSuppressed)
	assert.Equal(t, int32(0), h.collector.calls.Load())
	assert.Equal(t, int32(0), h.fileLookups.Load())
	assert.Equal(t, 0, h.renderer.Calls())
	assert.False(t, h.cooldown.InCooldown("100"))
}

func TestPipeline_NoKeyword(t *testing.T) {
	h := newHarness(t)

	for _, text := range []string{"", "hello punch", "punchy"} {
		_, err := h.pipeline.Generate(context.Background(), event("100", text))
		assert.ErrorIs(t, err, ErrNoKeyword, text)
	}
	assert.Equal(t, 0, h.renderer.Calls())
}

func TestPipeline_DisabledByTemplateKey(t *testing.T) {
	h := newHarness(t)
	h.pipeline.index = templates.NewIndex(templates.SourceFunc(func(ctx context.Context) ([]models.Template, error) {
		return []models.Template{{Key: "punch_v2", Keywords: []string{"punch"}, MaxImages: 1}}, nil
	}), time.Second, h.pipeline.logger, nil)
	h.disabled["punch_v2"] = true

	_, err := h.pipeline.Generate(context.Background(), event("100", "punch"))
	assert.ErrorIs(t, err, ErrTemplateDisabled)
	assert.Equal(t, int32(0), h.collector.calls.Load())
}

func TestPipeline_RenderTimeout(t *testing.T) {
	h := newHarness(t)
	h.renderer.block = true
	h.pipeline.timeout = 20 * time.Millisecond

	start := time.Now()
	out, err := h.pipeline.Generate(context.Background(), event("100", "punch"))

	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrGenerationTimeout)
	assert.NotErrorIs(t, err, ErrSuppressed)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, h.cooldown.InCooldown("100"), "failed attempt does not consume cooldown")
}

func TestPipeline_RenderFailure(t *testing.T) {
	h := newHarness(t)
	h.renderer.err = &render.Error{Kind: render.KindTextOverLength, Text: "way too long text"}

	out, err := h.pipeline.Generate(context.Background(), event("100", "punch"))
	assert.Nil(t, out)

	var renderErr *render.Error
	require.True(t, errors.As(err, &renderErr))
	assert.Equal(t, render.KindTextOverLength, renderErr.Kind)
	assert.False(t, h.cooldown.InCooldown("100"))
}

func TestPipeline_CompressionFailureKeepsOriginal(t *testing.T) {
	h := newHarness(t)
	h.renderer.output = []byte("not an image at all")

	out, err := h.pipeline.Generate(context.Background(), event("100", "punch"))
	require.NoError(t, err)
	assert.Equal(t, []byte("not an image at all"), out)
	assert.True(t, h.cooldown.InCooldown("100"))
}

func TestCompress(t *testing.T) {
	small := pngBytes(t, 100, 50)
	out, err := Compress(small, 512)
	require.NoError(t, err)
	assert.Nil(t, out, "image within bounds is kept")

	tall := pngBytes(t, 300, 1200)
	out, err = Compress(tall, 512)
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 128, cfg.Width)
	assert.Equal(t, 512, cfg.Height)

	_, err = Compress([]byte("garbage"), 512)
	assert.Error(t, err)
}
