package markdown

import (
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

var (
	paragraphPattern = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	preCodePattern   = regexp.MustCompile(`(?s)<pre><code(?: class="[^"]*")?>(.*?)</code></pre>`)
	tagPattern       = regexp.MustCompile(`</?([a-zA-Z]+)(?:\s[^>]*)?>`)
	blankLines       = regexp.MustCompile(`\n{3,}`)

	supportedTags = map[string]bool{
		"b": true, "i": true, "u": true, "s": true,
		"code": true, "pre": true, "a": true,
	}

	escaper = strings.NewReplacer(
		`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`",
		"[", `\[`, "]", `\]`, "#", `\#`,
	)
)

// ToTelegramHTML converts markdown to the HTML subset Telegram accepts
func ToTelegramHTML(markdown string) string {
	if markdown == "" {
		return ""
	}

	extensions := blackfriday.CommonExtensions | blackfriday.HardLineBreak
	renderer := blackfriday.NewHTMLRenderer(blackfriday.HTMLRendererParameters{
		Flags: blackfriday.UseXHTML,
	})
	html := string(blackfriday.Run([]byte(markdown),
		blackfriday.WithExtensions(extensions),
		blackfriday.WithRenderer(renderer),
	))

	return cleanHTMLForTelegram(html)
}

// Escape makes user-provided text such as template keywords literal in markdown
func Escape(text string) string {
	return escaper.Replace(text)
}

func cleanHTMLForTelegram(html string) string {
	html = paragraphPattern.ReplaceAllString(html, "$1\n\n")

	html = strings.NewReplacer(
		"<strong>", "<b>", "</strong>", "</b>",
		"<em>", "<i>", "</em>", "</i>",
		"<del>", "<s>", "</del>", "</s>",
		"<br />\n", "\n", "<br />", "\n",
		"<li>", "• ", "</li>", "\n",
	).Replace(html)

	html = preCodePattern.ReplaceAllString(html, "<pre>$1</pre>")

	html = tagPattern.ReplaceAllStringFunc(html, func(match string) string {
		name := tagPattern.FindStringSubmatch(match)[1]
		if supportedTags[strings.ToLower(name)] {
			return match
		}
		return ""
	})

	html = blankLines.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}
