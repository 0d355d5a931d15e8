package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/meme-tgbot-go/internal/models"
	"github.com/sirupsen/logrus"
)

const platformTelegram = "telegram"

// BotAPI is the part of *tgbotapi.BotAPI the handlers use
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
	GetUserProfilePhotos(config tgbotapi.UserProfilePhotosConfig) (tgbotapi.UserProfilePhotos, error)
}

var errNoProfilePhoto = errors.New("user has no profile photo")

// TelegramProfiles resolves display names through getChat. Telegram exposes no gender.
type TelegramProfiles struct {
	bot    BotAPI
	logger *logrus.Logger
}

func NewTelegramProfiles(bot BotAPI, logger *logrus.Logger) *TelegramProfiles {
	return &TelegramProfiles{bot: bot, logger: logger}
}

func (p *TelegramProfiles) Resolve(ctx context.Context, ev *models.Event, userID string) (*models.Profile, bool) {
	if ev.Platform != platformTelegram {
		return nil, false
	}
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return nil, false
	}

	chat, err := p.bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: id}})
	if err != nil {
		p.logger.WithError(err).WithField("user_id", userID).Debug("Profile lookup failed")
		return nil, false
	}

	name := strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	if name == "" {
		name = chat.UserName
	}
	if name == "" {
		return nil, false
	}
	return &models.Profile{Nickname: name}, true
}

// TelegramAvatars locates the newest profile photo of a user
type TelegramAvatars struct {
	bot BotAPI
}

func NewTelegramAvatars(bot BotAPI) *TelegramAvatars {
	return &TelegramAvatars{bot: bot}
}

func (a *TelegramAvatars) AvatarURL(ctx context.Context, userID string) (string, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid telegram user id %q: %w", userID, err)
	}

	photos, err := a.bot.GetUserProfilePhotos(tgbotapi.UserProfilePhotosConfig{UserID: id, Limit: 1})
	if err != nil {
		return "", fmt.Errorf("failed to get profile photos: %w", err)
	}
	if len(photos.Photos) == 0 || len(photos.Photos[0]) == 0 {
		return "", errNoProfilePhoto
	}

	sizes := photos.Photos[0]
	return a.bot.GetFileDirectURL(sizes[len(sizes)-1].FileID)
}

// TelegramFiles resolves file ids into Bot API download links. The links embed
// the bot token.
type TelegramFiles struct {
	bot BotAPI
}

func NewTelegramFiles(bot BotAPI) *TelegramFiles {
	return &TelegramFiles{bot: bot}
}

func (f *TelegramFiles) FileURL(ctx context.Context, fileID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.bot.GetFileDirectURL(fileID)
}
