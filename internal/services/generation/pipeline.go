package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/meme-tgbot-go/internal/config"
	"github.com/meme-tgbot-go/internal/middleware"
	"github.com/meme-tgbot-go/internal/models"
	"github.com/meme-tgbot-go/internal/services/collector"
	"github.com/meme-tgbot-go/internal/services/render"
	"github.com/meme-tgbot-go/pkg/logger"
	"github.com/sirupsen/logrus"
)

// ErrSuppressed marks a request that ended at a gate without producing output
var ErrSuppressed = errors.New("generation suppressed")

var (
	ErrInCooldown        = fmt.Errorf("%w: user in cooldown", ErrSuppressed)
	ErrNoKeyword         = fmt.Errorf("%w: no trigger keyword", ErrSuppressed)
	ErrTemplateNotFound  = fmt.Errorf("%w: template not found", ErrSuppressed)
	ErrTemplateDisabled  = fmt.Errorf("%w: template disabled", ErrSuppressed)
	ErrRateLimited       = fmt.Errorf("%w: chat rate limited", ErrSuppressed)
	ErrGenerationTimeout = errors.New("generation timed out")
)

// TemplateFinder resolves trigger keywords to templates
type TemplateFinder interface {
	FindTriggerKeyword(ctx context.Context, text string) (string, bool)
	FindByKeyword(ctx context.Context, word string) (*models.Template, bool)
}

// TemplateGate reports administratively disabled templates
type TemplateGate interface {
	IsTemplateDisabled(key string) bool
}

// ParamCollector builds renderer inputs for a matched template
type ParamCollector interface {
	Collect(ctx context.Context, ev *models.Event, keyword string, tmpl *models.Template) collector.Result
}

// Pipeline turns a chat event into a rendered image
type Pipeline struct {
	cooldown  middleware.CooldownGate
	index     TemplateFinder
	gate      TemplateGate
	collector ParamCollector
	renderer  render.Renderer
	limiter   middleware.RateLimiter
	timeout   time.Duration
	maxSize   int
	compress  func([]byte, int) ([]byte, error)
	logger    *logrus.Logger
	metrics   *middleware.Metrics
}

// NewPipeline wires the generation stages together
func NewPipeline(
	cfg *config.PluginConfig,
	cooldown middleware.CooldownGate,
	index TemplateFinder,
	gate TemplateGate,
	collector ParamCollector,
	renderer render.Renderer,
	logger *logrus.Logger,
	metrics *middleware.Metrics,
) *Pipeline {
	return &Pipeline{
		cooldown:  cooldown,
		index:     index,
		gate:      gate,
		collector: collector,
		renderer:  renderer,
		timeout:   cfg.Timeout(),
		maxSize:   cfg.CompressMaxSize,
		compress:  Compress,
		logger:    logger,
		metrics:   metrics,
	}
}

// SetRateLimiter limits generations per chat. A request spends a token only
// after passing the cooldown and template gates.
func (p *Pipeline) SetRateLimiter(l middleware.RateLimiter) {
	p.limiter = l
}

// Generate runs the full request. Gate exits return errors wrapping ErrSuppressed;
// render failures return *render.Error; a render exceeding the timeout returns
// ErrGenerationTimeout. The user's cooldown is recorded only on success.
func (p *Pipeline) Generate(ctx context.Context, ev *models.Event) ([]byte, error) {
	log := logger.WithRequest(p.logger, uuid.NewString(), ev.SenderID)

	if p.cooldown.InCooldown(ev.SenderID) {
		return nil, p.suppress(log, ErrInCooldown)
	}

	text := ev.PlainText()
	if text == "" {
		return nil, p.suppress(log, ErrNoKeyword)
	}

	keyword, ok := p.index.FindTriggerKeyword(ctx, text)
	if !ok {
		return nil, p.suppress(log, ErrNoKeyword)
	}
	log = log.WithField("keyword", keyword)

	if p.disabled(keyword) {
		return nil, p.suppress(log, ErrTemplateDisabled)
	}

	tmpl, ok := p.index.FindByKeyword(ctx, keyword)
	if !ok {
		return nil, p.suppress(log, ErrTemplateNotFound)
	}
	log = log.WithField("template", tmpl.Key)

	if p.disabled(tmpl.Key) {
		return nil, p.suppress(log, ErrTemplateDisabled)
	}

	if p.limiter != nil && !p.limiter.Allow(ev.ChatID) {
		return nil, p.suppress(log, ErrRateLimited)
	}

	params := p.collector.Collect(ctx, ev, keyword, tmpl)

	start := time.Now()
	image, err := p.render(ctx, tmpl.Key, params)
	duration := time.Since(start)
	if err != nil {
		p.logRenderFailure(log, err)
		if errors.Is(err, ErrGenerationTimeout) {
			p.metrics.RecordGeneration("timeout", duration)
		} else {
			p.metrics.RecordGeneration("render_error", duration)
		}
		return nil, err
	}

	image = p.postProcess(log, image)

	p.cooldown.RecordUse(ev.SenderID)
	p.metrics.RecordGeneration("ok", duration)

	log.WithFields(logrus.Fields{
		"images":   len(params.Images),
		"texts":    len(params.Texts),
		"bytes":    len(image),
		"duration": duration,
	}).Info("Meme generated")

	return image, nil
}

func (p *Pipeline) disabled(key string) bool {
	return p.gate != nil && p.gate.IsTemplateDisabled(key)
}

func (p *Pipeline) suppress(log *logrus.Entry, err error) error {
	p.metrics.RecordGeneration("suppressed", 0)
	log.WithField("reason", err.Error()).Debug("Generation suppressed")
	return err
}

type renderResult struct {
	data []byte
	err  error
}

// render waits for the renderer at most p.timeout. On timeout the call is
// abandoned and its result discarded.
func (p *Pipeline) render(ctx context.Context, key string, params collector.Result) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan renderResult, 1)
	go func() {
		data, err := p.renderer.Render(rctx, key, params.Images, params.Texts, params.Options)
		done <- renderResult{data: data, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, fmt.Errorf("%w after %s", ErrGenerationTimeout, p.timeout)
			}
			return nil, res.err
		}
		if len(res.data) == 0 {
			return nil, &render.Error{Kind: render.KindUnknown, Detail: "empty result"}
		}
		return res.data, nil
	case <-rctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", ErrGenerationTimeout, p.timeout)
	}
}

func (p *Pipeline) logRenderFailure(log *logrus.Entry, err error) {
	var renderErr *render.Error
	switch {
	case errors.Is(err, ErrGenerationTimeout):
		log.WithField("timeout", p.timeout).Error("Meme generation timed out")
	case errors.As(err, &renderErr):
		log.WithField("kind", renderErr.Kind).Error(renderErr.Error())
	default:
		log.WithError(err).Error("Meme generation failed")
	}
}

// postProcess compresses image when possible; any failure keeps the original
func (p *Pipeline) postProcess(log *logrus.Entry, image []byte) []byte {
	if p.compress == nil {
		return image
	}

	compressed, err := p.compress(image, p.maxSize)
	if err != nil {
		log.WithError(err).Warn("Image compression failed, using original")
		return image
	}
	if compressed == nil {
		return image
	}
	return compressed
}
