package broadcast

import (
	"fmt"
	"html"
	"strings"

	"wsnotifier/internal/envelope"
)

// zeroWidthLink carries the thumbnail so Telegram shows it as the link
// preview without visible text.
const zeroWidthLink = `<a href="%s">&#8203;</a>`

// Render formats e as Telegram HTML. preview reports whether the link
// preview should stay enabled to show the thumbnail.
func Render(e envelope.Envelope) (text string, preview bool) {
	var b strings.Builder
	if e.Thumbnail != "" {
		fmt.Fprintf(&b, zeroWidthLink, html.EscapeString(e.Thumbnail))
		preview = true
	}

	title := "<b>" + html.EscapeString(e.Title) + "</b>"
	if e.URL != "" {
		title = `<a href="` + html.EscapeString(e.URL) + `">` + title + "</a>"
	}
	if e.Title != "" {
		b.WriteString(title)
		b.WriteString("\n")
	}
	if d := strings.TrimSpace(e.Description); d != "" {
		b.WriteString(html.EscapeString(d))
		b.WriteString("\n")
	}
	for _, f := range e.Fields {
		b.WriteString("\n<b>")
		b.WriteString(html.EscapeString(f.Name))
		b.WriteString("</b>\n")
		b.WriteString(html.EscapeString(f.Value))
		b.WriteString("\n")
	}

	footer := e.Footer
	if e.Parts > 1 {
		footer = strings.TrimSpace(fmt.Sprintf("%s (%d/%d)", footer, e.Part, e.Parts))
	}
	if footer != "" {
		b.WriteString("\n<i>")
		b.WriteString(html.EscapeString(footer))
		b.WriteString("</i>")
	}
	return strings.TrimRight(b.String(), "\n"), preview
}
