// Copyright 2024-2026 Aiku AI

package slack

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aiku/slackcord/pkg/relay"
)

// translator turns raw Slack events into canonical relay events. The lookup
// functions are injected so classification stays testable without the Web
// API; the adapter wires them to cached API calls.
type translator struct {
	channel func(ctx context.Context, id string) relay.ChannelInfo
	author  func(ctx context.Context, id string) relay.Author
	format  func(ctx context.Context, text string) string
	// fetch materializes one attachment to local disk. nil skips downloads.
	fetch func(ctx context.Context, f relay.File) relay.File
	// invalidate drops a cached channel before metadata subtypes re-resolve
	// it. nil when the channel lookup is uncached.
	invalidate func(id string)
	log        zerolog.Logger
}

// translateMessage classifies one "message" event. It is total over the
// subtype enumeration: recognized subtypes yield zero or more canonical
// events, unrecognized ones yield none and a warning, never an error.
func (t *translator) translateMessage(ctx context.Context, ev *messageEvent) []relay.Event {
	if isChannelMetadataSubtype(ev.Subtype) && t.invalidate != nil {
		t.invalidate(ev.Channel)
	}

	ch := t.channel(ctx, ev.Channel)
	meta := relay.EventMeta{Source: "slack", Timestamp: ev.TS, Channel: ch}

	switch ev.Subtype {
	case "", "me_message", "thread_broadcast", "file_share", "bot_message":
		return []relay.Event{t.buildSend(ctx, ev, meta)}

	case "message_changed":
		edit := t.buildEdit(ctx, ev, meta)
		if edit == nil {
			return nil
		}
		return []relay.Event{edit}

	case "message_deleted":
		deleted := ev.DeletedTS
		if deleted == "" && ev.PreviousMessage != nil {
			deleted = ev.PreviousMessage.TS
		}
		if deleted == "" {
			t.log.Warn().Str("channel", ev.Channel).Msg("message_deleted without a deleted timestamp")
			return nil
		}
		return []relay.Event{&relay.DeleteEvent{EventMeta: meta, DeletedTimestamp: deleted}}

	case "channel_topic", "channel_purpose", "channel_name":
		// Metadata changes produce two events: a pinned notice in the
		// mirrored channel and a metadata write on the channel itself.
		return []relay.Event{
			t.buildNotice(ctx, ev, meta),
			&relay.ChannelUpdateEvent{EventMeta: meta},
		}

	case "channel_join", "channel_leave", "channel_archive", "channel_unarchive":
		return []relay.Event{t.buildNotice(ctx, ev, meta)}

	case "message_replied":
		// Thread replies are classified via thread_ts on the reply itself;
		// this companion subtype carries nothing new.
		t.log.Debug().Str("channel", ev.Channel).Msg("Ignoring message_replied companion event")
		return nil

	default:
		t.log.Warn().
			Str("subtype", ev.Subtype).
			Str("channel", ev.Channel).
			Msg("Unknown message subtype, ignoring")
		return nil
	}
}

// translatePin classifies one pin_added / pin_removed event.
func (t *translator) translatePin(ctx context.Context, ev *pinEvent, set bool) relay.Event {
	ch := t.channel(ctx, ev.Item.Channel)
	actor := t.author(ctx, ev.User).DisplayName
	return &relay.PinEvent{
		EventMeta:       relay.EventMeta{Source: "slack", Timestamp: ev.Item.Message.TS, Channel: ch},
		Set:             set,
		Actor:           actor,
		TargetTimestamp: ev.Item.Message.TS,
	}
}

func (t *translator) buildSend(ctx context.Context, ev *messageEvent, meta relay.EventMeta) *relay.MessageEvent {
	send := &relay.MessageEvent{
		EventMeta: meta,
		Body:      t.format(ctx, ev.Text),
		Italic:    ev.Subtype == "me_message",
	}
	if ev.User != "" {
		send.Author = t.author(ctx, ev.User)
	}
	// thread_ts equal to ts marks the thread root, which lives in the main
	// channel; only true replies are routed into the thread.
	if ev.ThreadTS != "" && ev.ThreadTS != ev.TS {
		send.Thread = &relay.ThreadInfo{ID: ev.ThreadTS}
	}
	for _, f := range ev.Files {
		file := relay.File{
			RemoteRef: firstNonEmpty(f.URLPrivateDownload, f.URLPrivate),
			Name:      f.Name,
			Extension: f.Filetype,
			SizeBytes: f.Size,
			SourceID:  f.ID,
		}
		if t.fetch != nil {
			file = t.fetch(ctx, file)
		}
		send.Files = append(send.Files, file)
	}
	for i := range ev.Attachments {
		send.Embeds = append(send.Embeds, t.embedFromAttachment(ctx, &ev.Attachments[i], meta))
	}
	return send
}

func (t *translator) buildEdit(ctx context.Context, ev *messageEvent, meta relay.EventMeta) *relay.EditEvent {
	if ev.Message == nil || ev.PreviousMessage == nil {
		t.log.Warn().Str("channel", ev.Channel).Msg("message_changed without message payloads")
		return nil
	}
	edit := &relay.EditEvent{
		EventMeta:       meta,
		TargetTimestamp: ev.PreviousMessage.TS,
		NewBody:         t.format(ctx, ev.Message.Text),
		PriorHadEmbeds:  len(ev.PreviousMessage.Attachments) > 0,
	}
	if ev.Message.User != "" {
		edit.Author = t.author(ctx, ev.Message.User)
	}
	for i := range ev.Message.Attachments {
		edit.Embeds = append(edit.Embeds, t.embedFromAttachment(ctx, &ev.Message.Attachments[i], meta))
	}
	return edit
}

// buildNotice renders a channel metadata change as a pinned message, using
// the human-readable text Slack composes for these subtypes.
func (t *translator) buildNotice(ctx context.Context, ev *messageEvent, meta relay.EventMeta) *relay.MessageEvent {
	notice := t.buildSend(ctx, ev, meta)
	notice.Italic = true
	notice.PinAfterSend = true
	notice.PinReason = "Channel Metadata Change"
	return notice
}

// embedFromAttachment converts one link unfurl or bot-composed attachment
// into a nested message event.
func (t *translator) embedFromAttachment(ctx context.Context, a *wireAttachment, meta relay.EventMeta) *relay.MessageEvent {
	title := a.Title
	if title == "" {
		title = "Attachment"
	}
	return &relay.MessageEvent{
		EventMeta: meta,
		Author: relay.Author{
			DisplayName: firstNonEmpty(a.ServiceName, a.AuthorName),
			AvatarURL:   firstNonEmpty(a.ServiceIcon, a.AuthorIcon),
			AccentColor: parseAccentColor(a.Color),
		},
		Body:     t.format(ctx, firstNonEmpty(a.Text, a.Fallback)),
		Title:    title,
		TitleURL: a.TitleLink,
		Footer:   a.Footer,
	}
}

func isChannelMetadataSubtype(subtype string) bool {
	switch subtype {
	case "channel_topic", "channel_purpose", "channel_name",
		"channel_join", "channel_leave", "channel_archive", "channel_unarchive":
		return true
	}
	return false
}

// parseAccentColor converts Slack's "#RRGGBB" (or bare hex) color strings.
// Unparseable values yield zero, which downstream replaces with the default.
func parseAccentColor(s string) int {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return 0
	}
	v, err := strconv.ParseInt(s, 16, 32)
	if err != nil {
		return 0
	}
	return int(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
