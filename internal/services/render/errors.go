package render

import (
	"fmt"
)

// ErrorKind classifies a renderer failure
type ErrorKind string

const (
	KindDeserialize         ErrorKind = "deserialize"
	KindAssetMissing        ErrorKind = "asset_missing"
	KindImageDecode         ErrorKind = "image_decode"
	KindImageEncode         ErrorKind = "image_encode"
	KindImageNumberMismatch ErrorKind = "image_number_mismatch"
	KindTextNumberMismatch  ErrorKind = "text_number_mismatch"
	KindTextOverLength      ErrorKind = "text_over_length"
	KindFeedback            ErrorKind = "feedback"
	KindUnknown             ErrorKind = "unknown"
)

const overLengthPreview = 10

// Error is a structured failure reported by the renderer
type Error struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail,omitempty"`
	Path   string    `json:"path,omitempty"`
	Min    int       `json:"min,omitempty"`
	Max    int       `json:"max,omitempty"`
	Actual int       `json:"actual,omitempty"`
	Text   string    `json:"text,omitempty"`
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindDeserialize:
		return "failed to parse parameters: " + e.Detail
	case KindAssetMissing:
		return "missing image asset: " + e.Path
	case KindImageDecode:
		return "failed to decode image: " + e.Detail
	case KindImageEncode:
		return "failed to encode image: " + e.Detail
	case KindImageNumberMismatch:
		return fmt.Sprintf("image count mismatch, expected %s, got %d", countRange(e.Min, e.Max), e.Actual)
	case KindTextNumberMismatch:
		return fmt.Sprintf("text count mismatch, expected %s, got %d", countRange(e.Min, e.Max), e.Actual)
	case KindTextOverLength:
		return "text too long: " + preview(e.Text)
	case KindFeedback:
		return e.Detail
	default:
		if e.Detail == "" {
			return "render failed"
		}
		return "render failed: " + e.Detail
	}
}

func countRange(min, max int) string {
	if min == max {
		return fmt.Sprintf("%d", min)
	}
	return fmt.Sprintf("%d ~ %d", min, max)
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= overLengthPreview {
		return text
	}
	return string(runes[:overLengthPreview]) + "..."
}
