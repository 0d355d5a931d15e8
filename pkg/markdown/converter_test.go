package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToTelegramHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"emphasis", "📋 *Templates* (3 total)", "📋 <i>Templates</i> (3 total)"},
		{"strong", "**punch**", "<b>punch</b>"},
		{"code", "/meme_info `keyword`", "/meme_info <code>keyword</code>"},
		{"line breaks", "a\nb", "a\nb"},
		{"escaped underscore", `/meme\_list`, "/meme_list"},
		{"html is escaped", "1 < 2", "1 &lt; 2"},
		{"quotes stay plain", `Template "punch"`, "Template &quot;punch&quot;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToTelegramHTML(tt.in))
		})
	}
}

func TestToTelegramHTML_Lists(t *testing.T) {
	out := ToTelegramHTML("- punch\n- slap\n")
	assert.Contains(t, out, "• punch")
	assert.Contains(t, out, "• slap")
	assert.NotContains(t, out, "<ul>")
}

func TestEscape(t *testing.T) {
	assert.Equal(t, `my\_meme\*`, Escape("my_meme*"))
	assert.Equal(t, "my_meme*", ToTelegramHTML(Escape("my_meme*")))
}
