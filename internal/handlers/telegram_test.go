package handlers

import (
	"context"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/meme-tgbot-go/internal/models"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramProfiles_Resolve(t *testing.T) {
	logger, _ := test.NewNullLogger()
	bot := newFakeBot()
	bot.chats[42] = tgbotapi.Chat{ID: 42, FirstName: "Bob", LastName: "Stone"}
	bot.chats[43] = tgbotapi.Chat{ID: 43, UserName: "carol"}
	bot.chats[44] = tgbotapi.Chat{ID: 44}
	profiles := NewTelegramProfiles(bot, logger)

	ev := &models.Event{Platform: platformTelegram}
	ctx := context.Background()

	p, ok := profiles.Resolve(ctx, ev, "42")
	require.True(t, ok)
	assert.Equal(t, "Bob Stone", p.Nickname)

	p, ok = profiles.Resolve(ctx, ev, "43")
	require.True(t, ok)
	assert.Equal(t, "carol", p.Nickname, "username when no name is set")

	tests := []struct {
		name   string
		ev     *models.Event
		userID string
	}{
		{"empty chat", ev, "44"},
		{"lookup error", ev, "45"},
		{"non numeric id", ev, "alice"},
		{"other platform", &models.Event{Platform: "qq"}, "42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := profiles.Resolve(ctx, tt.ev, tt.userID)
			assert.False(t, ok)
		})
	}
}

func TestTelegramAvatars_AvatarURL(t *testing.T) {
	bot := newFakeBot()
	bot.photos[42] = tgbotapi.UserProfilePhotos{
		TotalCount: 1,
		Photos: [][]tgbotapi.PhotoSize{{
			{FileID: "small", Width: 160, Height: 160},
			{FileID: "big", Width: 640, Height: 640},
		}},
	}
	bot.files["big"] = "https://files.example/big.jpg"
	avatars := NewTelegramAvatars(bot)
	ctx := context.Background()

	url, err := avatars.AvatarURL(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "https://files.example/big.jpg", url, "largest size wins")

	_, err = avatars.AvatarURL(ctx, "7")
	assert.ErrorIs(t, err, errNoProfilePhoto)

	_, err = avatars.AvatarURL(ctx, "alice")
	assert.Error(t, err)
}

func TestTelegramFiles_FileURL(t *testing.T) {
	bot := newFakeBot()
	bot.files["photo"] = "https://api.telegram.org/file/bot1:T/photos/a.jpg"
	files := NewTelegramFiles(bot)

	url, err := files.FileURL(context.Background(), "photo")
	require.NoError(t, err)
	assert.Equal(t, "https://api.telegram.org/file/bot1:T/photos/a.jpg", url)

	_, err = files.FileURL(context.Background(), "missing")
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = files.FileURL(ctx, "photo")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, bot.FileLookups())
}
