// Copyright 2024-2026 Aiku AI

// Package slackfmt converts Slack mrkdwn to Discord markdown.
package slackfmt

import (
	"regexp"
	"strconv"
	"strings"
)

// Mentions resolves the IDs embedded in Slack text to display names. Either
// resolver may be nil; unresolved tokens keep their raw ID so the reader can
// still tell who or what was meant.
type Mentions struct {
	User    func(id string) (string, bool)
	Channel func(id string) (string, bool)
}

var (
	// tokenRe matches Slack's <...> tokens: links, user and channel
	// mentions, and special commands like <!here>.
	tokenRe     = regexp.MustCompile(`<([^<>|]+)(?:\|([^<>]*))?>`)
	boldRe      = regexp.MustCompile(`\*([^*\n]+)\*`)
	italicRe    = regexp.MustCompile(`_([^_\n]+)_`)
	strikeRe    = regexp.MustCompile(`~([^~\n]+)~`)
	codeBlockRe = regexp.MustCompile("(?s)```(.*?)```")
	codeRe      = regexp.MustCompile("`([^`\n]+)`")
)

// Parse converts one Slack mrkdwn message to Discord markdown. Code spans and
// code blocks pass through untouched.
func Parse(text string, m Mentions) string {
	if text == "" {
		return ""
	}

	// Step 1: Shelter code from every other transformation.
	var code []string
	shelter := func(match string) string {
		idx := len(code)
		code = append(code, match)
		return "\x00CODE" + strconv.Itoa(idx) + "\x00"
	}
	out := codeBlockRe.ReplaceAllStringFunc(text, shelter)
	out = codeRe.ReplaceAllStringFunc(out, shelter)

	// Step 2: Expand <...> tokens before entity unescaping, since the token
	// delimiters themselves arrive unescaped.
	out = tokenRe.ReplaceAllStringFunc(out, func(match string) string {
		parts := tokenRe.FindStringSubmatch(match)
		return expandToken(parts[1], parts[2], m)
	})

	// Step 3: Slack escapes exactly these three entities in message text.
	out = strings.ReplaceAll(out, "&lt;", "<")
	out = strings.ReplaceAll(out, "&gt;", ">")
	out = strings.ReplaceAll(out, "&amp;", "&")

	// Step 4: Inline styles. Bold first so the italic pass does not see the
	// asterisks it produces.
	out = boldRe.ReplaceAllString(out, "**$1**")
	out = italicRe.ReplaceAllString(out, "*$1*")
	out = strikeRe.ReplaceAllString(out, "~~$1~~")

	// Step 5: Restore code.
	for i, c := range code {
		out = strings.Replace(out, "\x00CODE"+strconv.Itoa(i)+"\x00", c, 1)
	}
	return out
}

// expandToken renders one <target|label> token.
func expandToken(target, label string, m Mentions) string {
	switch {
	case strings.HasPrefix(target, "@"):
		id := target[1:]
		if m.User != nil {
			if name, ok := m.User(id); ok {
				return "@" + name
			}
		}
		if label != "" {
			return "@" + label
		}
		return "@" + id

	case strings.HasPrefix(target, "#"):
		if label != "" {
			return "#" + label
		}
		id := target[1:]
		if m.Channel != nil {
			if name, ok := m.Channel(id); ok {
				return "#" + name
			}
		}
		return "#" + id

	case strings.HasPrefix(target, "!"):
		// Special commands: <!here>, <!channel>, <!everyone>.
		if label != "" {
			return "@" + label
		}
		return "@" + target[1:]

	default:
		// Plain link.
		if label != "" && label != target {
			return "[" + label + "](" + target + ")"
		}
		return target
	}
}
