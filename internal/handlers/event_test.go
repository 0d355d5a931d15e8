package handlers

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/meme-tgbot-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConverter() *EventConverter {
	return NewEventConverter(tgbotapi.User{ID: 999, UserName: "meme_bot"})
}

func TestConvert_Basics(t *testing.T) {
	c := newTestConverter()
	msg := textMessage(userID, "punch hello")
	msg.From.LastName = "Smith"

	ev := c.Convert(msg, true)
	require.NotNil(t, ev)

	assert.Equal(t, "100", ev.SenderID)
	assert.Equal(t, "999", ev.SelfID)
	assert.Equal(t, "Alice Smith", ev.SenderName)
	assert.Equal(t, "telegram", ev.Platform)
	assert.Equal(t, groupID, ev.ChatID)
	assert.True(t, ev.IsAdmin)
	assert.Equal(t, []models.Segment{{Kind: models.SegmentText, Text: "punch hello"}}, ev.Segments)
}

func TestConvert_NoSender(t *testing.T) {
	c := newTestConverter()
	assert.Nil(t, c.Convert(&tgbotapi.Message{Text: "punch"}, false))
	assert.Nil(t, c.Convert(nil, false))
}

func TestConvert_TextMentionUsesUTF16Offsets(t *testing.T) {
	c := newTestConverter()
	// "punch " is 6 units, the emoji is a surrogate pair, then a space
	msg := textMessage(userID, "punch 😀 Bob hi")
	msg.Entities = []tgbotapi.MessageEntity{{
		Type:   "text_mention",
		Offset: 9,
		Length: 3,
		User:   &tgbotapi.User{ID: 7, FirstName: "Bob"},
	}}

	ev := c.Convert(msg, false)
	assert.Equal(t, []models.Segment{
		{Kind: models.SegmentText, Text: "punch 😀 "},
		{Kind: models.SegmentMention, UserID: "7"},
		{Kind: models.SegmentText, Text: " hi"},
	}, ev.Segments)
}

func TestConvert_UsernameMentions(t *testing.T) {
	c := newTestConverter()
	msg := textMessage(userID, "@meme_bot punch @someone")
	msg.Entities = []tgbotapi.MessageEntity{
		{Type: "mention", Offset: 0, Length: 9},
		{Type: "mention", Offset: 16, Length: 8},
	}

	ev := c.Convert(msg, false)
	assert.Equal(t, []models.Segment{
		{Kind: models.SegmentMention, UserID: "999"},
		{Kind: models.SegmentText, Text: " punch "},
	}, ev.Segments, "the bot resolves to its own id, other usernames are dropped")
	assert.Equal(t, "punch", ev.PlainText())
	assert.Equal(t, "punch", c.PlainText(msg))
}

func TestConvert_PhotoWithCaption(t *testing.T) {
	c := newTestConverter()

	msg := &tgbotapi.Message{
		From:    from(userID),
		Chat:    &tgbotapi.Chat{ID: groupID},
		Caption: "punch",
		Photo: []tgbotapi.PhotoSize{
			{FileID: "small", Width: 90},
			{FileID: "large", Width: 1280},
		},
	}

	ev := c.Convert(msg, false)
	assert.Equal(t, []models.Segment{
		{Kind: models.SegmentText, Text: "punch"},
		{Kind: models.SegmentImage, FileID: "large"},
	}, ev.Segments)
}

func TestConvert_ImageKinds(t *testing.T) {
	c := newTestConverter()

	msg := &tgbotapi.Message{
		From:     from(userID),
		Chat:     &tgbotapi.Chat{ID: groupID},
		Document: &tgbotapi.Document{FileID: "doc", MimeType: "image/png"},
		Sticker:  &tgbotapi.Sticker{FileID: "sticker"},
	}
	ev := c.Convert(msg, false)
	require.Len(t, ev.Segments, 2)
	assert.Equal(t, "doc", ev.Segments[0].FileID)
	assert.Equal(t, "sticker", ev.Segments[1].FileID)

	msg.Document = &tgbotapi.Document{FileID: "doc", MimeType: "application/pdf"}
	msg.Sticker = &tgbotapi.Sticker{FileID: "animated", IsAnimated: true}
	assert.Empty(t, c.Convert(msg, false).Segments)
}

func TestConvert_ReplyBecomesQuote(t *testing.T) {
	c := newTestConverter()

	msg := textMessage(userID, "punch")
	msg.ReplyToMessage = &tgbotapi.Message{
		From:  from(7),
		Chat:  msg.Chat,
		Photo: []tgbotapi.PhotoSize{{FileID: "quoted"}},
	}

	ev := c.Convert(msg, false)
	require.Len(t, ev.Segments, 2)

	quote, ok := ev.Quote()
	require.True(t, ok)
	assert.Equal(t, []models.Segment{{Kind: models.SegmentImage, FileID: "quoted"}}, quote.Quoted)
	assert.Equal(t, "punch", ev.PlainText(), "quoted content is not part of the trigger text")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 50))
	assert.Equal(t, "表情包...", truncate("表情包生成", 3))
}
