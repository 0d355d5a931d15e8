package models

import (
	"strings"
)

// Template represents a renderable meme template and its input constraints
type Template struct {
	Key          string   `json:"key" yaml:"key"`
	Keywords     []string `json:"keywords" yaml:"keywords"`
	MinImages    int      `json:"min_images" yaml:"min_images"`
	MaxImages    int      `json:"max_images" yaml:"max_images"`
	MinTexts     int      `json:"min_texts" yaml:"min_texts"`
	MaxTexts     int      `json:"max_texts" yaml:"max_texts"`
	DefaultTexts []string `json:"default_texts" yaml:"default_texts"`
	Tags         []string `json:"tags" yaml:"tags"`
}

// HasKeyword reports whether word is the template key or one of its keywords
func (t *Template) HasKeyword(word string) bool {
	if t.Key == word {
		return true
	}
	for _, k := range t.Keywords {
		if k == word {
			return true
		}
	}
	return false
}

// NamedImage is an image input tagged with the name of the user it depicts
type NamedImage struct {
	Name string
	Data []byte
}

// Options carries renderer options. Values are bool, string, int or float64.
type Options map[string]any

// SegmentKind identifies the content type of a message segment
type SegmentKind int

const (
	SegmentText SegmentKind = iota
	SegmentImage
	SegmentMention
	SegmentQuote
)

func (k SegmentKind) String() string {
	switch k {
	case SegmentText:
		return "text"
	case SegmentImage:
		return "image"
	case SegmentMention:
		return "mention"
	case SegmentQuote:
		return "quote"
	default:
		return "unknown"
	}
}

// Segment is one typed piece of an inbound chat message
type Segment struct {
	Kind SegmentKind

	// Text holds plain text for SegmentText
	Text string

	// URL, File and Data describe an image. File may carry a base64:// payload.
	URL  string
	File string
	Data []byte

	// FileID references an image stored on the chat platform. It is resolved
	// only when the image is actually downloaded.
	FileID string

	// UserID is the mentioned user for SegmentMention
	UserID string

	// Quoted holds the replied-to message content for SegmentQuote
	Quoted []Segment
}

// Event is an inbound chat message as seen by the generation core
type Event struct {
	SenderID   string
	SelfID     string
	SenderName string
	Platform   string
	Segments   []Segment
	IsAdmin    bool

	// ChatID identifies the conversation for per-chat rate limiting and replies
	ChatID int64
}

// PlainText joins the text segments of the message itself, excluding quoted content
func (e *Event) PlainText() string {
	var parts []string
	for _, seg := range e.Segments {
		if seg.Kind == SegmentText {
			parts = append(parts, seg.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// Quote returns the first quoted sub-message, if any
func (e *Event) Quote() (*Segment, bool) {
	for i := range e.Segments {
		if e.Segments[i].Kind == SegmentQuote {
			return &e.Segments[i], true
		}
	}
	return nil, false
}

// Profile is the extended user info a chat platform may expose
type Profile struct {
	Nickname string `json:"nickname"`
	Gender   string `json:"gender"`
}
