// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MessageMapping correlates one source message with one destination message.
// A single source message may map to several destination messages (one
// primary text carrier plus attachment carriers); a destination message is
// always mirrored from exactly one source message.
type MessageMapping struct {
	SourceMessageID      string
	DestinationMessageID string
	SourceThreadID       string
	DestinationThreadID  string
	SourceChannelID      string
	DestinationChannelID string
	IsPrimaryTextCarrier bool
}

// Store is the durable mapping store consumed by the engine. Record methods
// are idempotent: re-recording an existing row reports inserted=false without
// error. Find methods treat "absent" as a normal outcome, never an error.
type Store interface {
	RecordMessageMapping(ctx context.Context, m MessageMapping) (inserted bool, err error)
	RecordChannelMapping(ctx context.Context, sourceChannelID, destChannelID string) (inserted bool, err error)
	RecordThreadMapping(ctx context.Context, sourceThreadID, destThreadID string) (inserted bool, err error)
	RecordFileMapping(ctx context.Context, sourceFileID, destMessageID string) (inserted bool, err error)
	FindMessageMappings(ctx context.Context, sourceMessageID string) ([]MessageMapping, error)
	FindChannelMapping(ctx context.Context, sourceChannelID string) (destChannelID string, ok bool, err error)
	FindThreadMapping(ctx context.Context, sourceThreadID string) (destThreadID string, ok bool, err error)
}

// DestChannel describes one destination text channel.
type DestChannel struct {
	ID    string
	Name  string
	Topic string
}

// Target addresses a destination location: a channel, optionally narrowed to
// a conversation thread within it. ThreadID is MainThread when the target is
// the channel itself.
type Target struct {
	ChannelID string
	ThreadID  string
}

// InThread reports whether the target addresses a conversation thread.
func (t Target) InThread() bool {
	return t.ThreadID != "" && t.ThreadID != MainThread
}

// Dispatcher performs the actual destination-platform calls. Implementations
// live outside the engine; the engine only decides what to call and records
// the results.
type Dispatcher interface {
	ListTextChannels(ctx context.Context) ([]DestChannel, error)
	CreateChannel(ctx context.Context, name, reason string) (DestChannel, error)
	ChannelInfo(ctx context.Context, channelID string) (DestChannel, error)
	SendCard(ctx context.Context, target Target, card *Card) (messageID string, err error)
	EditCard(ctx context.Context, target Target, messageID string, card *Card) error
	DeleteMessage(ctx context.Context, target Target, messageID string) error
	PinMessage(ctx context.Context, target Target, messageID, reason string) error
	UnpinMessage(ctx context.Context, target Target, messageID string) error
	// EnsureThread opens a conversation thread rooted at the given message,
	// reusing the existing one if the message already has a thread.
	EnsureThread(ctx context.Context, channelID, rootMessageID, title string) (threadID string, err error)
	// MessageText returns the rendered text content of a previously sent
	// destination message, used for titling threads after their root.
	MessageText(ctx context.Context, target Target, messageID string) (string, error)
	RenameChannel(ctx context.Context, channelID, name, reason string) error
	SetChannelTopic(ctx context.Context, channelID, topic, reason string) error
}

// FileHost resolves a stored filename to a public-facing URL. ok is false
// when re-hosting is disabled, in which case cards only mention that a copy
// is held on the relay server.
type FileHost interface {
	PublicURL(storedAs string) (url string, ok bool)
}

// Cleaner removes locally materialized attachment files once they are no
// longer needed.
type Cleaner interface {
	Remove(path string) error
}

// Options tunes engine behavior. Zero values fall back to the defaults that
// match the original relay's behavior.
type Options struct {
	// AttachableFormats lists the file extensions (lowercase, no dot) that
	// render as inline image cards. Defaults to png/jpg/jpeg; other formats
	// either embed themselves badly or not at all on the destination side.
	AttachableFormats []string
	// EmbedMaxBytes is the size threshold below which a displayable file is
	// attached directly. Larger files become link cards. Default 8 MiB.
	EmbedMaxBytes int64
	// ThreadTitleLimit bounds thread titles derived from root message text,
	// in runes. Default 50.
	ThreadTitleLimit int
	// Host re-hosts oversized files; nil disables public URLs.
	Host FileHost
	// Cleaner deletes small files after they were embedded; nil disables
	// post-send cleanup.
	Cleaner Cleaner
}

const (
	defaultEmbedMaxBytes    = 8 << 20
	defaultThreadTitleLimit = 50
)

var defaultAttachableFormats = []string{"png", "jpg", "jpeg"}

// Engine is the reconciliation engine: for each canonical event it decides
// the destination actions to take, using the mapping store as the sole
// memory of what was already mirrored, and records every new mapping next to
// the destination write that produced it.
type Engine struct {
	store    Store
	dispatch Dispatcher
	opts     Options
	log      zerolog.Logger
}

// New wires an engine. The store and dispatcher are required; everything in
// opts is optional.
func New(store Store, dispatch Dispatcher, opts Options, log zerolog.Logger) *Engine {
	if len(opts.AttachableFormats) == 0 {
		opts.AttachableFormats = defaultAttachableFormats
	}
	if opts.EmbedMaxBytes <= 0 {
		opts.EmbedMaxBytes = defaultEmbedMaxBytes
	}
	if opts.ThreadTitleLimit <= 0 {
		opts.ThreadTitleLimit = defaultThreadTitleLimit
	}
	return &Engine{
		store:    store,
		dispatch: dispatch,
		opts:     opts,
		log:      log.With().Str("component", "relay_engine").Logger(),
	}
}

// HandleEvent processes one canonical event, absorbing every failure: errors
// and panics are logged, never propagated. One bad event must not take down
// the relay. This is the entry point used by source adapter callbacks.
func (e *Engine) HandleEvent(ctx context.Context, ev Event) {
	log := e.log.With().
		Str("event_id", uuid.NewString()).
		Str("action", string(ev.Action())).
		Str("channel_id", ev.Meta().Channel.ID).
		Str("ts", ev.Meta().Timestamp).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Panic while processing event")
		}
	}()

	if err := e.Process(ctx, ev); err != nil {
		log.Error().Err(err).Msg("Failed to process event")
		return
	}
	log.Debug().Msg("Event processed")
}

// Process runs the procedure for one canonical event and returns its outcome.
// Events are independent: all cross-event consistency comes from the store.
func (e *Engine) Process(ctx context.Context, ev Event) error {
	switch v := ev.(type) {
	case *MessageEvent:
		return e.handleSend(ctx, v)
	case *EditEvent:
		return e.handleEdit(ctx, v)
	case *DeleteEvent:
		return e.handleDelete(ctx, v)
	case *PinEvent:
		return e.handlePin(ctx, v)
	case *ChannelUpdateEvent:
		return e.handleChannelUpdate(ctx, v)
	default:
		return fmt.Errorf("unsupported event type %T", ev)
	}
}
