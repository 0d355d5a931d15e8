package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/meme-tgbot-go/internal/config"
	"github.com/meme-tgbot-go/internal/i18n"
	"github.com/meme-tgbot-go/internal/models"
	"github.com/meme-tgbot-go/internal/services/avatar"
	"github.com/meme-tgbot-go/internal/services/generation"
	"github.com/sirupsen/logrus"
)

const logTextLimit = 50

// Generator produces a meme for an event
type Generator interface {
	Generate(ctx context.Context, ev *models.Event) ([]byte, error)
}

// PluginSwitch reports the global generation switch
type PluginSwitch interface {
	PluginEnabled() bool
}

// TriggerMatcher finds the trigger keyword that starts a message
type TriggerMatcher interface {
	FindTriggerKeyword(ctx context.Context, text string) (string, bool)
}

// MessageHandler handles regular messages
type MessageHandler struct {
	bot       BotAPI
	config    *config.Config
	converter *EventConverter
	generator Generator
	plugin    PluginSwitch
	triggers  TriggerMatcher
	localizer *i18n.Localizer
	logger    *logrus.Logger
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(
	bot BotAPI,
	cfg *config.Config,
	converter *EventConverter,
	generator Generator,
	plugin PluginSwitch,
	triggers TriggerMatcher,
	localizer *i18n.Localizer,
	logger *logrus.Logger,
) *MessageHandler {
	return &MessageHandler{
		bot:       bot,
		config:    cfg,
		converter: converter,
		generator: generator,
		plugin:    plugin,
		triggers:  triggers,
		localizer: localizer,
		logger:    logger,
	}
}

// HandleMessage runs generation for a non-command message. Failures are logged
// and never reported to the chat. Image files are resolved by the pipeline only
// once the request has passed its gates.
func (h *MessageHandler) HandleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg == nil || msg.IsCommand() || msg.From == nil || msg.From.IsBot {
		return nil
	}

	if h.isAdminAlias(strings.TrimSpace(MessageText(msg))) {
		return nil
	}

	text := h.converter.PlainText(msg)
	if text == "" {
		return nil
	}

	// messages that cannot trigger a template are dropped before any file lookups
	if _, ok := h.triggers.FindTriggerKeyword(ctx, text); !ok {
		return nil
	}

	isAdmin := h.config.Bot.IsAdmin(msg.From.ID)
	if !h.plugin.PluginEnabled() {
		if isAdmin {
			lang := h.localizer.Match(msg.From.LanguageCode)
			reply := tgbotapi.NewMessage(msg.Chat.ID, h.localizer.Get(lang, i18n.MsgPluginDisabledNotice, nil))
			reply.ReplyToMessageID = msg.MessageID
			if _, err := h.bot.Send(reply); err != nil {
				return err
			}
		}
		return nil
	}

	ev := h.converter.Convert(msg, isAdmin)
	fields := logrus.Fields{
		"user_id": msg.From.ID,
		"chat_id": msg.Chat.ID,
		"message": truncate(text, logTextLimit),
	}

	image, err := h.generator.Generate(ctx, ev)
	if err != nil {
		if !errors.Is(err, generation.ErrSuppressed) {
			h.logger.WithFields(fields).WithError(err).Error("Meme generation failed")
		}
		return nil
	}

	if err := h.sendImage(msg, image); err != nil {
		h.logger.WithFields(fields).WithError(err).Error("Failed to send meme")
		return err
	}

	h.logger.WithFields(fields).Info("Meme sent")
	return nil
}

func (h *MessageHandler) isAdminAlias(text string) bool {
	for _, prefix := range h.config.Plugin.AdminPrefixes {
		if prefix != "" && strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}

// sendImage replies with image, as an animation when it is a GIF
func (h *MessageHandler) sendImage(msg *tgbotapi.Message, image []byte) error {
	ext := avatar.DetectExtension(image)
	file := tgbotapi.FileBytes{Name: "meme_" + strconv.Itoa(msg.MessageID) + ext, Bytes: image}

	var out tgbotapi.Chattable
	if ext == ".gif" {
		anim := tgbotapi.NewAnimation(msg.Chat.ID, file)
		anim.ReplyToMessageID = msg.MessageID
		out = anim
	} else {
		photo := tgbotapi.NewPhoto(msg.Chat.ID, file)
		photo.ReplyToMessageID = msg.MessageID
		out = photo
	}

	_, err := h.bot.Send(out)
	return err
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
