// Copyright 2024-2026 Aiku AI

package relay

// Action identifies what a canonical event asks the relay to do.
type Action string

const (
	ActionSend          Action = "send"
	ActionEdit          Action = "edit"
	ActionDelete        Action = "delete"
	ActionPinSet        Action = "pin-set"
	ActionPinClear      Action = "pin-clear"
	ActionChannelUpdate Action = "channel-update"
)

// Default values used when source metadata cannot be resolved. Author lookups
// that fail fall back to these instead of blocking or retrying.
const (
	DefaultAuthorName  = "Unknown Pupper"
	DefaultAvatarURL   = "https://media.giphy.com/media/S8aEKUGKXHl8WEsDD9/giphy.gif"
	DefaultAccentColor = 0x407ABA
	DefaultBody        = "[No Message Content]"
)

// ChannelInfo is the resolved source-channel metadata attached to every event.
type ChannelInfo struct {
	ID      string
	Name    string
	Topic   string
	Purpose string
}

// ThreadInfo marks an event as belonging to a threaded conversation. ID is the
// source thread root timestamp, scoped to the channel via Identify.
type ThreadInfo struct {
	ID    string
	Title string
}

// Author is the resolved display identity of the event's sender.
type Author struct {
	DisplayName string
	AvatarURL   string
	AccentColor int
}

// File is an attachment that has already been materialized to local storage
// by the download manager before the event reaches the engine.
type File struct {
	// RemoteRef is the original source-platform URL, kept as a fallback
	// link when the local copy cannot be served.
	RemoteRef string
	// Name is the display name from the source platform.
	Name string
	// Path is the absolute local path of the downloaded copy.
	Path string
	// StoredAs is the (possibly disambiguated) filename under the
	// downloads directory, used for re-hosting URLs.
	StoredAs  string
	Extension string
	SizeBytes int64
	SourceID  string
	// DownloadFailed marks a file whose transfer failed; the message is
	// still mirrored, with a placeholder in place of the file.
	DownloadFailed bool
}

// EventMeta carries the fields shared by every canonical event.
type EventMeta struct {
	// Source names the origin platform. Always "slack" in this project.
	Source string
	// Timestamp is the source-native ordering key (string-comparable).
	Timestamp string
	Channel   ChannelInfo
}

// Event is the canonical, platform-agnostic representation of one inbound
// activity. It is a closed set: exactly one variant per action, discriminated
// by Action() rather than inheritance, so no variant carries silently
// defaulted fields that belong to another.
type Event interface {
	Action() Action
	Meta() *EventMeta
}

// MessageEvent mirrors new content into the destination.
type MessageEvent struct {
	EventMeta
	Author Author
	// Body is the raw source text, pre markdown translation.
	Body   string
	Thread *ThreadInfo
	Files  []File
	// Embeds are link-preview style sub-contents, each expressed as a
	// nested MessageEvent (recursive per the canonical model).
	Embeds []*MessageEvent
	// Title/TitleURL/Footer are set on link-preview embeds only.
	Title    string
	TitleURL string
	Footer   string
	// Italic renders the whole body italicized (me_message variant).
	Italic bool
	// PinAfterSend pins the mirrored message once sent, used for channel
	// metadata notices.
	PinAfterSend bool
	// PinReason is the audit reason used with PinAfterSend.
	PinReason string
}

func (*MessageEvent) Action() Action { return ActionSend }
func (e *MessageEvent) Meta() *EventMeta { return &e.EventMeta }

// EditEvent supersedes the content of a previously mirrored message.
type EditEvent struct {
	EventMeta
	Author Author
	// TargetTimestamp is the timestamp of the message being edited, which
	// differs from the edit event's own timestamp.
	TargetTimestamp string
	NewBody         string
	Thread          *ThreadInfo
	// Embeds are link previews present after the edit. They are only
	// mirrored when PriorHadEmbeds is false.
	Embeds         []*MessageEvent
	PriorHadEmbeds bool
	Italic         bool
}

func (*EditEvent) Action() Action { return ActionEdit }
func (e *EditEvent) Meta() *EventMeta { return &e.EventMeta }

// DeleteEvent removes the mirror of a deleted source message.
type DeleteEvent struct {
	EventMeta
	// DeletedTimestamp identifies the removed message; the event's own
	// Timestamp is when the deletion happened.
	DeletedTimestamp string
}

func (*DeleteEvent) Action() Action { return ActionDelete }
func (e *DeleteEvent) Meta() *EventMeta { return &e.EventMeta }

// PinEvent toggles the pinned state of a mirrored message.
type PinEvent struct {
	EventMeta
	Set bool
	// Actor is the source user who pinned or unpinned, cited in the
	// destination audit reason.
	Actor string
	// TargetTimestamp identifies the pinned message within the channel.
	TargetTimestamp string
}

func (e *PinEvent) Action() Action {
	if e.Set {
		return ActionPinSet
	}
	return ActionPinClear
}
func (e *PinEvent) Meta() *EventMeta { return &e.EventMeta }

// ChannelUpdateEvent reflects source channel metadata changes. The new
// metadata is carried in EventMeta.Channel.
type ChannelUpdateEvent struct {
	EventMeta
}

func (*ChannelUpdateEvent) Action() Action { return ActionChannelUpdate }
func (e *ChannelUpdateEvent) Meta() *EventMeta { return &e.EventMeta }
