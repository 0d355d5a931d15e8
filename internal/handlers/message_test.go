package handlers

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/meme-tgbot-go/internal/models"
	"github.com/meme-tgbot-go/internal/services/generation"
	"github.com/meme-tgbot-go/internal/services/render"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	mu     sync.Mutex
	events []*models.Event
	output []byte
	err    error
}

func (g *fakeGenerator) Generate(ctx context.Context, ev *models.Event) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, ev)
	return g.output, g.err
}

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.events)
}

type pluginFlag bool

func (p pluginFlag) PluginEnabled() bool { return bool(p) }

type keywordSet map[string]bool

func (k keywordSet) FindTriggerKeyword(ctx context.Context, text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !k[fields[0]] {
		return "", false
	}
	return fields[0], true
}

func encodeImage(t *testing.T, gifFormat bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewPaletted(image.Rect(0, 0, 4, 4), []color.Color{color.Black})
	if gifFormat {
		require.NoError(t, gif.Encode(&buf, img, nil))
	} else {
		require.NoError(t, png.Encode(&buf, img))
	}
	return buf.Bytes()
}

type messageHarness struct {
	handler   *MessageHandler
	bot       *fakeBot
	generator *fakeGenerator
}

func newMessageHarness(t *testing.T, enabled bool) *messageHarness {
	t.Helper()
	logger, _ := test.NewNullLogger()
	bot := newFakeBot()
	gen := &fakeGenerator{output: encodeImage(t, false)}

	handler := NewMessageHandler(
		bot,
		testConfig(),
		newTestConverter(),
		gen,
		pluginFlag(enabled),
		keywordSet{"punch": true},
		testLocalizer(t),
		logger,
	)
	return &messageHarness{handler: handler, bot: bot, generator: gen}
}

func TestHandleMessage_SendsPhoto(t *testing.T) {
	h := newMessageHarness(t, true)

	require.NoError(t, h.handler.HandleMessage(context.Background(), textMessage(userID, "punch hi")))

	require.Equal(t, 1, h.generator.Calls())
	assert.Equal(t, "100", h.generator.events[0].SenderID)

	sent := h.bot.Sent()
	require.Len(t, sent, 1)
	photo, ok := sent[0].(tgbotapi.PhotoConfig)
	require.True(t, ok)
	assert.Equal(t, groupID, photo.ChatID)
	assert.Equal(t, 10, photo.ReplyToMessageID)
	file := photo.File.(tgbotapi.FileBytes)
	assert.Equal(t, "meme_10.png", file.Name)
}

func TestHandleMessage_GIFSentAsAnimation(t *testing.T) {
	h := newMessageHarness(t, true)
	h.generator.output = encodeImage(t, true)

	require.NoError(t, h.handler.HandleMessage(context.Background(), textMessage(userID, "punch")))

	sent := h.bot.Sent()
	require.Len(t, sent, 1)
	_, ok := sent[0].(tgbotapi.AnimationConfig)
	assert.True(t, ok)
}

func TestHandleMessage_Ignored(t *testing.T) {
	tests := []struct {
		name string
		msg  *tgbotapi.Message
	}{
		{"no trigger", textMessage(userID, "hello punch")},
		{"empty", textMessage(userID, "")},
		{"command", commandMessage(userID, "/punch")},
		{"admin alias", textMessage(adminID, "禁用列表 punch")},
		{"bot sender", func() *tgbotapi.Message {
			m := textMessage(userID, "punch")
			m.From.IsBot = true
			return m
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newMessageHarness(t, true)
			require.NoError(t, h.handler.HandleMessage(context.Background(), tt.msg))
			assert.Equal(t, 0, h.generator.Calls())
			assert.Empty(t, h.bot.Sent())
		})
	}
}

func TestHandleMessage_FailuresAreSilent(t *testing.T) {
	for _, err := range []error{
		generation.ErrInCooldown,
		generation.ErrGenerationTimeout,
		&render.Error{Kind: render.KindTextOverLength, Text: "long"},
	} {
		h := newMessageHarness(t, true)
		h.generator.err = err

		require.NoError(t, h.handler.HandleMessage(context.Background(), textMessage(userID, "punch")))
		assert.Equal(t, 1, h.generator.Calls())
		assert.Empty(t, h.bot.Sent(), err.Error())
	}
}

func TestHandleMessage_PluginDisabled(t *testing.T) {
	h := newMessageHarness(t, false)

	require.NoError(t, h.handler.HandleMessage(context.Background(), textMessage(userID, "punch")))
	assert.Empty(t, h.bot.Sent(), "regular users get no reply")

	require.NoError(t, h.handler.HandleMessage(context.Background(), textMessage(adminID, "punch")))
	assert.Equal(t, "🔒 Meme generation has been disabled by an administrator", h.bot.lastText(t))
	assert.Equal(t, 0, h.generator.Calls())
}

func TestHandleMessage_SuppressedRequestResolvesNoFiles(t *testing.T) {
	h := newMessageHarness(t, true)
	h.generator.err = generation.ErrInCooldown

	msg := &tgbotapi.Message{
		MessageID: 10,
		From:      from(userID),
		Chat:      &tgbotapi.Chat{ID: groupID, Type: "group"},
		Caption:   "punch",
		Photo:     []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "large"}},
		ReplyToMessage: &tgbotapi.Message{
			From:  from(7),
			Photo: []tgbotapi.PhotoSize{{FileID: "quoted"}},
		},
	}

	require.NoError(t, h.handler.HandleMessage(context.Background(), msg))
	require.Equal(t, 1, h.generator.Calls())
	assert.Equal(t, 0, h.bot.FileLookups(), "files are resolved only during collection")
	assert.Empty(t, h.bot.Sent())

	ev := h.generator.events[0]
	assert.Equal(t, groupID, ev.ChatID)
	assert.Equal(t, models.Segment{Kind: models.SegmentImage, FileID: "large"}, ev.Segments[len(ev.Segments)-1])
}
