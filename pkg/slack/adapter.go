// Copyright 2024-2026 Aiku AI

package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	slackapi "github.com/slack-go/slack"

	"github.com/aiku/slackcord/pkg/relay"
	"github.com/aiku/slackcord/pkg/relay/slackfmt"
)

// maxEventBody bounds inbound webhook bodies. Slack events are small; anything
// past this is not a legitimate callback.
const maxEventBody = 1 << 20

// EventSink consumes canonical events. Satisfied by *relay.Engine.
type EventSink interface {
	HandleEvent(ctx context.Context, ev relay.Event)
}

// Fetcher materializes attachments to local disk. Satisfied by
// *files.Manager.
type Fetcher interface {
	Fetch(ctx context.Context, f relay.File) relay.File
}

// Config tunes the adapter.
type Config struct {
	BotToken      string
	SigningSecret string
	// DisableChannelJoin skips the startup sweep that joins every public
	// channel.
	DisableChannelJoin bool
	// DisableBotLookup turns off echo prevention. Only useful in test
	// workspaces; with it off and a misconfigured destination the relay can
	// feed on its own output.
	DisableBotLookup bool
}

// Adapter receives Events API callbacks and feeds the relay engine.
type Adapter struct {
	api    *slackapi.Client
	engine EventSink
	cfg    Config
	trans  *translator
	log    zerolog.Logger

	// Identity of this bot, from auth.test, used to drop our own echoes.
	botID     string
	botUserID string

	mu       sync.Mutex
	channels map[string]relay.ChannelInfo
	authors  map[string]relay.Author
}

// New wires the adapter. fetcher may be nil to skip attachment downloads.
func New(cfg Config, engine EventSink, fetcher Fetcher, log zerolog.Logger) *Adapter {
	a := &Adapter{
		api:      slackapi.New(cfg.BotToken),
		engine:   engine,
		cfg:      cfg,
		log:      log.With().Str("component", "slack").Logger(),
		channels: make(map[string]relay.ChannelInfo),
		authors:  make(map[string]relay.Author),
	}
	a.trans = &translator{
		channel:    a.resolveChannel,
		author:     a.resolveAuthor,
		format:     a.formatText,
		invalidate: a.invalidateChannel,
		log:        a.log,
	}
	if fetcher != nil {
		a.trans.fetch = fetcher.Fetch
	}
	return a
}

// Start resolves the bot's own identity and joins every public channel so
// message events start flowing. Call before serving the webhook.
func (a *Adapter) Start(ctx context.Context) error {
	auth, err := a.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("auth.test: %w", err)
	}
	a.botID = auth.BotID
	a.botUserID = auth.UserID
	a.log.Info().Str("team", auth.Team).Str("bot_user", auth.UserID).Msg("Authenticated with Slack")

	if a.cfg.DisableChannelJoin {
		return nil
	}
	return a.joinAllChannels(ctx)
}

func (a *Adapter) joinAllChannels(ctx context.Context) error {
	params := &slackapi.GetConversationsParameters{Limit: 200}
	joined := 0
	for {
		channels, cursor, err := a.api.GetConversationsContext(ctx, params)
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		for _, ch := range channels {
			if !ch.IsChannel || ch.IsMember {
				continue
			}
			if _, _, _, err := a.api.JoinConversationContext(ctx, ch.ID); err != nil {
				a.log.Warn().Err(err).Str("channel", ch.Name).Msg("Failed to join channel")
				continue
			}
			joined++
		}
		if cursor == "" {
			break
		}
		params.Cursor = cursor
	}
	a.log.Info().Int("joined", joined).Msg("Channel join sweep complete")
	return nil
}

// Handler returns the Events API endpoint: signature verification, URL
// verification handshake, and callback dispatch. Callbacks are acknowledged
// immediately and processed in the background to stay inside Slack's response
// deadline.
func (a *Adapter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := a.verifySignature(r.Header, body); err != nil {
			a.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Rejected unsigned event callback")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		var envelope eventEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		switch envelope.Type {
		case "url_verification":
			w.Header().Set("Content-Type", "text/plain")
			io.WriteString(w, envelope.Challenge)
		case "event_callback":
			w.WriteHeader(http.StatusOK)
			go a.dispatch(envelope.Event)
		default:
			w.WriteHeader(http.StatusOK)
		}
	})
}

func (a *Adapter) verifySignature(header http.Header, body []byte) error {
	sv, err := slackapi.NewSecretsVerifier(header, a.cfg.SigningSecret)
	if err != nil {
		return err
	}
	if _, err := sv.Write(body); err != nil {
		return err
	}
	return sv.Ensure()
}

// dispatch routes one inner event. Runs detached from the HTTP request; the
// engine absorbs processing failures.
func (a *Adapter) dispatch(raw json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch eventType(raw) {
	case "message":
		var ev messageEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			a.log.Warn().Err(err).Msg("Undecodable message event")
			return
		}
		if a.isOwnEcho(&ev) {
			return
		}
		for _, canonical := range a.trans.translateMessage(ctx, &ev) {
			a.engine.HandleEvent(ctx, canonical)
		}

	case "pin_added", "pin_removed":
		var ev pinEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			a.log.Warn().Err(err).Msg("Undecodable pin event")
			return
		}
		a.engine.HandleEvent(ctx, a.trans.translatePin(ctx, &ev, ev.Type == "pin_added"))

	default:
		a.log.Debug().Str("type", eventType(raw)).Msg("Ignoring unhandled event type")
	}
}

// isOwnEcho reports whether a message originated from this bot. Without this
// check the relay's own pinned notices would loop back in as new events.
func (a *Adapter) isOwnEcho(ev *messageEvent) bool {
	if a.cfg.DisableBotLookup {
		return false
	}
	if ev.BotID != "" && ev.BotID == a.botID {
		return true
	}
	return ev.User != "" && ev.User == a.botUserID
}

func (a *Adapter) resolveChannel(ctx context.Context, id string) relay.ChannelInfo {
	a.mu.Lock()
	cached, ok := a.channels[id]
	a.mu.Unlock()
	if ok {
		return cached
	}

	ch, err := a.api.GetConversationInfoContext(ctx, &slackapi.GetConversationInfoInput{ChannelID: id})
	if err != nil {
		a.log.Warn().Err(err).Str("channel", id).Msg("Channel lookup failed, using ID as name")
		return relay.ChannelInfo{ID: id, Name: id}
	}
	info := relay.ChannelInfo{
		ID:      id,
		Name:    ch.Name,
		Topic:   ch.Topic.Value,
		Purpose: ch.Purpose.Value,
	}
	a.mu.Lock()
	a.channels[id] = info
	a.mu.Unlock()
	return info
}

func (a *Adapter) invalidateChannel(id string) {
	a.mu.Lock()
	delete(a.channels, id)
	a.mu.Unlock()
}

// resolveAuthor fetches a user's display identity. Failures return the zero
// Author; the engine substitutes its defaults.
func (a *Adapter) resolveAuthor(ctx context.Context, id string) relay.Author {
	a.mu.Lock()
	cached, ok := a.authors[id]
	a.mu.Unlock()
	if ok {
		return cached
	}

	user, err := a.api.GetUserInfoContext(ctx, id)
	if err != nil {
		a.log.Warn().Err(err).Str("user", id).Msg("User lookup failed, using defaults")
		return relay.Author{}
	}
	author := relay.Author{
		DisplayName: userIdentify(user),
		AvatarURL:   user.Profile.Image512,
		AccentColor: parseAccentColor(user.Color),
	}
	a.mu.Lock()
	a.authors[id] = author
	a.mu.Unlock()
	return author
}

// userIdentify renders a user as "Real Name@UserID", keeping names unique in
// workspaces where display names collide.
func userIdentify(user *slackapi.User) string {
	if user == nil || user.RealName == "" || user.ID == "" {
		return ""
	}
	return user.RealName + "@" + user.ID
}

func (a *Adapter) formatText(ctx context.Context, text string) string {
	return slackfmt.Parse(text, slackfmt.Mentions{
		User: func(id string) (string, bool) {
			author := a.resolveAuthor(ctx, id)
			if author.DisplayName == "" {
				return "", false
			}
			// Mentions read better without the ID suffix.
			name, _, _ := strings.Cut(author.DisplayName, "@")
			return name, true
		},
		Channel: func(id string) (string, bool) {
			info := a.resolveChannel(ctx, id)
			if info.Name == "" || info.Name == id {
				return "", false
			}
			return info.Name, true
		},
	})
}
