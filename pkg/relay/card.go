// Copyright 2024-2026 Aiku AI

package relay

import (
	"fmt"
	"strconv"
	"time"
)

// Card is one unit of destination content: a text block, an inline image
// attachment, or a link preview. Mirroring one source message dispatches one
// primary card followed by zero or more secondary cards.
type Card struct {
	AuthorName    string
	AuthorIconURL string
	Title         string
	TitleURL      string
	Body          string
	Color         int
	// Timestamp is the source message time; zero means omit.
	Timestamp time.Time
	Footer    string

	// AttachPath/AttachName upload a local file with the card.
	AttachPath string
	AttachName string
	// ImageAsAttachment renders the uploaded file as the card's image.
	ImageAsAttachment bool
}

// cardFromMessage builds the primary content card for a send: author
// identity, translated text, accent color, and source timestamp. It is also
// used for link-preview embeds, which additionally carry title and footer.
func cardFromMessage(ev *MessageEvent) *Card {
	body := ev.Body
	if body == "" {
		body = DefaultBody
	}
	if ev.Italic {
		body = "*" + body + "*"
	}

	author := ev.Author
	if author.DisplayName == "" {
		author.DisplayName = DefaultAuthorName
	}
	if author.AvatarURL == "" {
		author.AvatarURL = DefaultAvatarURL
	}
	if author.AccentColor == 0 {
		author.AccentColor = DefaultAccentColor
	}

	return &Card{
		AuthorName:    author.DisplayName,
		AuthorIconURL: author.AvatarURL,
		Title:         ev.Title,
		TitleURL:      ev.TitleURL,
		Body:          body,
		Color:         author.AccentColor,
		Timestamp:     sourceTime(ev.Timestamp),
		Footer:        ev.Footer,
	}
}

// cardFromFile builds the secondary card for one attachment. Small files in a
// displayable format become inline image cards with the file attached; small
// files in other formats are attached without an image card; everything else
// becomes a link card pointing at the re-hosted copy, with the original
// remote reference kept as a fallback link.
func (e *Engine) cardFromFile(f File, template *Card) *Card {
	card := &Card{
		Color:     template.Color,
		Timestamp: template.Timestamp,
	}

	if f.SizeBytes < e.opts.EmbedMaxBytes {
		card.AttachPath = f.Path
		card.AttachName = f.StoredAs
		if card.AttachName == "" {
			card.AttachName = f.Name
		}
		card.ImageAsAttachment = e.attachable(f.Extension)
		return card
	}

	card.Title = f.Name
	body := fmt.Sprintf("[File Too Large to Send](%s)", f.RemoteRef)
	body += fmt.Sprintf("\n[Copy Saved on Server as: /%s]", f.StoredAs)
	if e.opts.Host != nil {
		if url, ok := e.opts.Host.PublicURL(f.StoredAs); ok {
			body += "\n(" + url + ")"
		}
	}
	card.Body = body
	return card
}

// attachable reports whether a file extension is in the inline-displayable
// set.
func (e *Engine) attachable(ext string) bool {
	for _, format := range e.opts.AttachableFormats {
		if format == normalizeExt(ext) {
			return true
		}
	}
	return false
}

func normalizeExt(ext string) string {
	out := make([]byte, 0, len(ext))
	for i := 0; i < len(ext); i++ {
		c := ext[i]
		if c == ' ' || c == '.' {
			continue
		}
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// annotateAttachmentCount appends the "more below" marker to the primary
// card's footer without overwriting any footer text already present.
func annotateAttachmentCount(card *Card, extra int) {
	if extra <= 0 {
		return
	}
	plural := "s"
	if extra == 1 {
		plural = ""
	}
	marker := fmt.Sprintf("↓ Message Includes %d Additional Attachment%s Below ↓", extra, plural)
	if card.Footer != "" {
		card.Footer += "\n" + marker
	} else {
		card.Footer = marker
	}
}

// sourceTime converts a source ordering key (seconds with fractional part,
// e.g. "1701234567.000200") to wall-clock time. Unparseable keys yield the
// zero time, which dispatchers render without a timestamp.
func sourceTime(ts string) time.Time {
	seconds, err := strconv.ParseFloat(ts, 64)
	if err != nil || seconds <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(seconds * 1000)).UTC()
}
