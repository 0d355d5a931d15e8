package collector

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/meme-tgbot-go/internal/config"
	"github.com/meme-tgbot-go/internal/models"
	"github.com/sirupsen/logrus"
)

const base64Prefix = "base64://"

// ImageFetcher retrieves remote images, platform files and user avatars.
// All calls must be bounded in time by the implementation.
type ImageFetcher interface {
	DownloadImage(ctx context.Context, url string) ([]byte, bool)
	DownloadFile(ctx context.Context, fileID string) ([]byte, bool)
	GetAvatar(ctx context.Context, userID string) ([]byte, bool)
}

// ProfileResolver looks up extended profile info for a user on the event's platform
type ProfileResolver interface {
	Resolve(ctx context.Context, ev *models.Event, userID string) (*models.Profile, bool)
}

// Result is the argument set handed to the renderer
type Result struct {
	Images  []models.NamedImage
	Texts   []string
	Options models.Options
}

// Collector assembles renderer inputs from a chat message
type Collector struct {
	fetcher    ImageFetcher
	profiles   ProfileResolver
	quotedName string
	botName    string
	logger     *logrus.Logger
}

// NewCollector creates a collector. fetcher and profiles may be nil.
func NewCollector(cfg *config.CollectorConfig, fetcher ImageFetcher, profiles ProfileResolver, logger *logrus.Logger) *Collector {
	return &Collector{
		fetcher:    fetcher,
		profiles:   profiles,
		quotedName: cfg.QuotedName,
		botName:    cfg.BotName,
		logger:     logger,
	}
}

type collection struct {
	images    []models.NamedImage
	texts     []string
	options   models.Options
	targetIDs []string
	names     []string
}

// Collect gathers images, texts and options for tmpl from ev.
// Quoted content is processed before the message's own segments. Only the upper
// bounds of the template are enforced.
func (c *Collector) Collect(ctx context.Context, ev *models.Event, keyword string, tmpl *models.Template) Result {
	col := &collection{options: models.Options{}}

	if quote, ok := ev.Quote(); ok {
		for i := range quote.Quoted {
			c.processSegment(ctx, ev, &quote.Quoted[i], c.quotedName, keyword, col)
		}
	}

	for i := range ev.Segments {
		c.processSegment(ctx, ev, &ev.Segments[i], ev.SenderName, keyword, col)
	}

	if len(col.names) == 0 {
		if profile, ok := c.resolveProfile(ctx, ev, ev.SenderID); ok {
			col.options["name"] = profile.Nickname
			col.options["gender"] = profile.Gender
			col.names = append(col.names, profile.Nickname)
		}
	}
	if len(col.names) == 0 {
		col.names = append(col.names, ev.SenderName)
	}

	c.fillImages(ctx, ev, col, tmpl.MaxImages)
	fillTexts(col, tmpl)

	c.logger.WithFields(logrus.Fields{
		"template": tmpl.Key,
		"images":   len(col.images),
		"texts":    len(col.texts),
		"mentions": len(col.targetIDs),
	}).Debug("Collected render parameters")

	return Result{
		Images:  col.images,
		Texts:   col.texts,
		Options: col.options,
	}
}

func (c *Collector) processSegment(ctx context.Context, ev *models.Event, seg *models.Segment, name, keyword string, col *collection) {
	switch seg.Kind {
	case models.SegmentImage:
		if data, ok := c.imageData(ctx, seg); ok {
			col.images = append(col.images, models.NamedImage{Name: name, Data: data})
		}
	case models.SegmentMention:
		c.processMention(ctx, ev, seg.UserID, col)
	case models.SegmentText:
		for _, word := range strings.Fields(seg.Text) {
			if word != keyword {
				col.texts = append(col.texts, word)
			}
		}
	}
}

func (c *Collector) imageData(ctx context.Context, seg *models.Segment) ([]byte, bool) {
	if seg.FileID != "" {
		if c.fetcher == nil {
			return nil, false
		}
		return c.fetcher.DownloadFile(ctx, seg.FileID)
	}

	if seg.URL != "" {
		if c.fetcher == nil {
			return nil, false
		}
		return c.fetcher.DownloadImage(ctx, seg.URL)
	}

	if seg.File != "" {
		data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(seg.File, base64Prefix))
		if err != nil {
			c.logger.WithError(err).Warn("Failed to decode inline image")
			return nil, false
		}
		return data, true
	}

	if len(seg.Data) > 0 {
		return seg.Data, true
	}
	return nil, false
}

func (c *Collector) processMention(ctx context.Context, ev *models.Event, userID string, col *collection) {
	if userID == "" || userID == ev.SelfID {
		return
	}
	col.targetIDs = append(col.targetIDs, userID)

	if c.fetcher == nil {
		return
	}
	avatar, ok := c.fetcher.GetAvatar(ctx, userID)
	if !ok {
		return
	}

	profile, ok := c.resolveProfile(ctx, ev, userID)
	if !ok {
		return
	}

	col.options["name"] = profile.Nickname
	col.options["gender"] = profile.Gender
	col.names = append(col.names, profile.Nickname)
	col.images = append(col.images, models.NamedImage{Name: profile.Nickname, Data: avatar})
}

func (c *Collector) resolveProfile(ctx context.Context, ev *models.Event, userID string) (*models.Profile, bool) {
	if c.profiles == nil {
		return nil, false
	}
	return c.profiles.Resolve(ctx, ev, userID)
}

// fillImages prepends the requester's avatar and then the bot's while under max,
// then truncates to max. A zero max never triggers a fetch.
func (c *Collector) fillImages(ctx context.Context, ev *models.Event, col *collection, max int) {
	if c.fetcher != nil && len(col.images) < max {
		if avatar, ok := c.fetcher.GetAvatar(ctx, ev.SenderID); ok {
			col.images = prepend(col.images, models.NamedImage{Name: ev.SenderName, Data: avatar})
		}
	}
	if c.fetcher != nil && len(col.images) < max {
		if avatar, ok := c.fetcher.GetAvatar(ctx, ev.SelfID); ok {
			col.images = prepend(col.images, models.NamedImage{Name: c.botName, Data: avatar})
		}
	}

	if max < 0 {
		max = 0
	}
	if len(col.images) > max {
		col.images = col.images[:max]
	}
}

// fillTexts appends name candidates and then default texts while under the
// template minimum, then truncates to the maximum.
func fillTexts(col *collection, tmpl *models.Template) {
	if len(col.texts) < tmpl.MinTexts && len(col.names) > 0 {
		col.texts = append(col.texts, col.names...)
	}
	if len(col.texts) < tmpl.MinTexts && len(tmpl.DefaultTexts) > 0 {
		col.texts = append(col.texts, tmpl.DefaultTexts...)
	}

	max := tmpl.MaxTexts
	if max < 0 {
		max = 0
	}
	if len(col.texts) > max {
		col.texts = col.texts[:max]
	}
}

func prepend(images []models.NamedImage, img models.NamedImage) []models.NamedImage {
	return append([]models.NamedImage{img}, images...)
}
