package handlers

import (
	"errors"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/meme-tgbot-go/internal/config"
	"github.com/meme-tgbot-go/internal/i18n"
	"github.com/stretchr/testify/require"
)

const (
	adminID = int64(1)
	userID  = int64(100)
	groupID = int64(-500)
)

type fakeBot struct {
	mu      sync.Mutex
	sent    []tgbotapi.Chattable
	files   map[string]string
	chats   map[int64]tgbotapi.Chat
	photos  map[int64]tgbotapi.UserProfilePhotos
	sendErr error

	fileLookups int
}

func newFakeBot() *fakeBot {
	return &fakeBot{
		files:  make(map[string]string),
		chats:  make(map[int64]tgbotapi.Chat),
		photos: make(map[int64]tgbotapi.UserProfilePhotos),
	}
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return tgbotapi.Message{}, b.sendErr
	}
	b.sent = append(b.sent, c)
	return tgbotapi.Message{MessageID: len(b.sent)}, nil
}

func (b *fakeBot) GetFileDirectURL(fileID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fileLookups++
	if url, ok := b.files[fileID]; ok {
		return url, nil
	}
	return "", errors.New("file not found")
}

func (b *fakeBot) GetChat(cfg tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error) {
	if chat, ok := b.chats[cfg.ChatID]; ok {
		return chat, nil
	}
	return tgbotapi.Chat{}, errors.New("chat not found")
}

func (b *fakeBot) GetUserProfilePhotos(cfg tgbotapi.UserProfilePhotosConfig) (tgbotapi.UserProfilePhotos, error) {
	if photos, ok := b.photos[cfg.UserID]; ok {
		return photos, nil
	}
	return tgbotapi.UserProfilePhotos{}, nil
}

func (b *fakeBot) FileLookups() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fileLookups
}

func (b *fakeBot) Sent() []tgbotapi.Chattable {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]tgbotapi.Chattable(nil), b.sent...)
}

// lastText returns the text of the last sent plain message
func (b *fakeBot) lastText(t *testing.T) string {
	t.Helper()
	sent := b.Sent()
	require.NotEmpty(t, sent)
	msg, ok := sent[len(sent)-1].(tgbotapi.MessageConfig)
	require.True(t, ok, "last sent item is a text message")
	return msg.Text
}

func testConfig() *config.Config {
	return &config.Config{
		Bot: config.BotConfig{AdminIDs: []int64{adminID}},
		Plugin: config.PluginConfig{
			Enabled:           true,
			GenerationTimeout: 30,
			AdminPrefixes:     []string{"禁用列表", "meme状态"},
		},
	}
}

func testLocalizer(t *testing.T) *i18n.Localizer {
	t.Helper()
	l, err := i18n.NewLocalizer(&config.I18nConfig{
		DefaultLanguage: "zh",
		Languages:       []string{"zh", "en"},
		Directory:       "../../configs/i18n",
	})
	require.NoError(t, err)
	return l
}

func from(id int64) *tgbotapi.User {
	return &tgbotapi.User{ID: id, FirstName: "Alice", LanguageCode: "en"}
}

func textMessage(sender int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 10,
		From:      from(sender),
		Chat:      &tgbotapi.Chat{ID: groupID, Type: "group"},
		Text:      text,
	}
}

// commandMessage builds a message whose text starts with a bot_command entity
func commandMessage(sender int64, text string) *tgbotapi.Message {
	msg := textMessage(sender, text)
	length := len(text)
	for i, r := range text {
		if r == ' ' {
			length = i
			break
		}
	}
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}}
	return msg
}
