package handlers

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/meme-tgbot-go/internal/models"
)

// EventConverter maps Telegram messages onto generation events. It makes no
// API calls; image segments carry file ids resolved at download time.
type EventConverter struct {
	selfID      int64
	botUsername string
}

func NewEventConverter(self tgbotapi.User) *EventConverter {
	return &EventConverter{
		selfID:      self.ID,
		botUsername: self.UserName,
	}
}

// Convert builds an Event from msg. A replied-to message becomes a leading quote segment.
// It returns nil for messages without a sender.
func (c *EventConverter) Convert(msg *tgbotapi.Message, isAdmin bool) *models.Event {
	if msg == nil || msg.From == nil {
		return nil
	}

	ev := &models.Event{
		SenderID:   strconv.FormatInt(msg.From.ID, 10),
		SelfID:     strconv.FormatInt(c.selfID, 10),
		SenderName: displayName(msg.From),
		Platform:   platformTelegram,
		IsAdmin:    isAdmin,
	}
	if msg.Chat != nil {
		ev.ChatID = msg.Chat.ID
	}

	if reply := msg.ReplyToMessage; reply != nil {
		if quoted := c.segments(reply); len(quoted) > 0 {
			ev.Segments = append(ev.Segments, models.Segment{Kind: models.SegmentQuote, Quoted: quoted})
		}
	}
	ev.Segments = append(ev.Segments, c.segments(msg)...)

	return ev
}

// PlainText returns what Event.PlainText would for msg
func (c *EventConverter) PlainText(msg *tgbotapi.Message) string {
	ev := models.Event{Segments: c.textSegments(content(msg))}
	return ev.PlainText()
}

// MessageText returns the text or caption of msg
func MessageText(msg *tgbotapi.Message) string {
	text, _ := content(msg)
	return text
}

func content(msg *tgbotapi.Message) (string, []tgbotapi.MessageEntity) {
	if msg.Text != "" {
		return msg.Text, msg.Entities
	}
	return msg.Caption, msg.CaptionEntities
}

func (c *EventConverter) segments(msg *tgbotapi.Message) []models.Segment {
	segments := c.textSegments(content(msg))
	for _, fileID := range imageFileIDs(msg) {
		segments = append(segments, models.Segment{Kind: models.SegmentImage, FileID: fileID})
	}
	return segments
}

// textSegments splits text at mention entities. Entity offsets count UTF-16 code units.
// @username mentions of anyone but the bot cannot be mapped to an id and are dropped.
func (c *EventConverter) textSegments(text string, entities []tgbotapi.MessageEntity) []models.Segment {
	if text == "" {
		return nil
	}

	units := utf16.Encode([]rune(text))
	mentions := make([]tgbotapi.MessageEntity, 0, len(entities))
	for _, e := range entities {
		if e.Type == "mention" || (e.Type == "text_mention" && e.User != nil) {
			mentions = append(mentions, e)
		}
	}
	sort.SliceStable(mentions, func(i, j int) bool { return mentions[i].Offset < mentions[j].Offset })

	var segments []models.Segment
	appendText := func(s string) {
		if strings.TrimSpace(s) != "" {
			segments = append(segments, models.Segment{Kind: models.SegmentText, Text: s})
		}
	}

	pos := 0
	for _, e := range mentions {
		start, end := clamp(e.Offset, pos, len(units)), clamp(e.Offset+e.Length, pos, len(units))
		if start >= end {
			continue
		}
		appendText(decodeUTF16(units[pos:start]))

		switch e.Type {
		case "text_mention":
			segments = append(segments, models.Segment{
				Kind:   models.SegmentMention,
				UserID: strconv.FormatInt(e.User.ID, 10),
			})
		case "mention":
			username := strings.TrimPrefix(decodeUTF16(units[start:end]), "@")
			if c.botUsername != "" && strings.EqualFold(username, c.botUsername) {
				segments = append(segments, models.Segment{
					Kind:   models.SegmentMention,
					UserID: strconv.FormatInt(c.selfID, 10),
				})
			}
		}
		pos = end
	}
	appendText(decodeUTF16(units[pos:]))

	return segments
}

func imageFileIDs(msg *tgbotapi.Message) []string {
	var ids []string
	if n := len(msg.Photo); n > 0 {
		// sizes are ordered smallest first
		ids = append(ids, msg.Photo[n-1].FileID)
	}
	if doc := msg.Document; doc != nil && strings.HasPrefix(doc.MimeType, "image/") {
		ids = append(ids, doc.FileID)
	}
	if st := msg.Sticker; st != nil && !st.IsAnimated {
		ids = append(ids, st.FileID)
	}
	return ids
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

func decodeUTF16(units []uint16) string {
	return string(utf16.Decode(units))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
