// Copyright 2024-2026 Aiku AI

// Package discord implements the destination side of the relay on top of the
// Discord bot API.
package discord

import (
	"context"
	"fmt"
	"os"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/aiku/slackcord/pkg/relay"
)

// threadAutoArchiveMinutes is Discord's one-day auto-archive setting. Threads
// are reopened on demand when a late reply targets an archived one.
const threadAutoArchiveMinutes = 1440

// Dispatcher implements relay.Dispatcher against one Discord guild.
type Dispatcher struct {
	session *discordgo.Session
	guildID string
	log     zerolog.Logger
}

var _ relay.Dispatcher = (*Dispatcher)(nil)

// New connects the bot session and verifies the guild is reachable. The
// returned dispatcher owns the session; Close it on shutdown.
func New(token, guildID string, log zerolog.Logger) (*Dispatcher, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("open gateway: %w", err)
	}
	if _, err := session.Guild(guildID); err != nil {
		session.Close()
		return nil, fmt.Errorf("guild %s is not reachable, is the bot invited: %w", guildID, err)
	}
	if err := session.UpdateListeningStatus("Slack Messages"); err != nil {
		log.Warn().Err(err).Msg("Failed to set presence")
	}

	return &Dispatcher{
		session: session,
		guildID: guildID,
		log:     log.With().Str("component", "discord").Logger(),
	}, nil
}

// Close tears down the gateway connection.
func (d *Dispatcher) Close() error {
	return d.session.Close()
}

// ListTextChannels enumerates the guild's plain text channels.
func (d *Dispatcher) ListTextChannels(ctx context.Context) ([]relay.DestChannel, error) {
	channels, err := d.session.GuildChannels(d.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list guild channels: %w", err)
	}
	out := make([]relay.DestChannel, 0, len(channels))
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		out = append(out, relay.DestChannel{ID: ch.ID, Name: ch.Name, Topic: ch.Topic})
	}
	return out, nil
}

// CreateChannel makes a new text channel in the guild.
func (d *Dispatcher) CreateChannel(ctx context.Context, name, reason string) (relay.DestChannel, error) {
	ch, err := d.session.GuildChannelCreate(d.guildID, name, discordgo.ChannelTypeGuildText,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	if err != nil {
		return relay.DestChannel{}, fmt.Errorf("create channel %q: %w", name, err)
	}
	return relay.DestChannel{ID: ch.ID, Name: ch.Name, Topic: ch.Topic}, nil
}

// ChannelInfo fetches current channel metadata.
func (d *Dispatcher) ChannelInfo(ctx context.Context, channelID string) (relay.DestChannel, error) {
	ch, err := d.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return relay.DestChannel{}, fmt.Errorf("fetch channel %s: %w", channelID, err)
	}
	return relay.DestChannel{ID: ch.ID, Name: ch.Name, Topic: ch.Topic}, nil
}

// SendCard posts one card as an embed, uploading the card's attachment if it
// has one.
func (d *Dispatcher) SendCard(ctx context.Context, target relay.Target, card *relay.Card) (string, error) {
	channelID, err := d.resolveTarget(ctx, target)
	if err != nil {
		return "", err
	}

	send := &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{buildEmbed(card)},
	}
	if card.AttachPath != "" {
		f, err := os.Open(card.AttachPath)
		if err != nil {
			return "", fmt.Errorf("open attachment %s: %w", card.AttachPath, err)
		}
		defer f.Close()
		send.Files = []*discordgo.File{{Name: card.AttachName, Reader: f}}
	}

	msg, err := d.session.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return msg.ID, nil
}

// EditCard replaces the embed of an existing message.
func (d *Dispatcher) EditCard(ctx context.Context, target relay.Target, messageID string, card *relay.Card) error {
	channelID, err := d.resolveTarget(ctx, target)
	if err != nil {
		return err
	}
	if _, err := d.session.ChannelMessageEditEmbed(channelID, messageID, buildEmbed(card), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit message %s: %w", messageID, err)
	}
	return nil
}

// DeleteMessage removes one message.
func (d *Dispatcher) DeleteMessage(ctx context.Context, target relay.Target, messageID string) error {
	channelID, err := d.resolveTarget(ctx, target)
	if err != nil {
		return err
	}
	if err := d.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	return nil
}

// PinMessage pins with an audit log reason naming the source-side actor.
func (d *Dispatcher) PinMessage(ctx context.Context, target relay.Target, messageID, reason string) error {
	channelID, err := d.resolveTarget(ctx, target)
	if err != nil {
		return err
	}
	if err := d.session.ChannelMessagePin(channelID, messageID,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)); err != nil {
		return fmt.Errorf("pin message %s: %w", messageID, err)
	}
	return nil
}

// UnpinMessage clears a pin.
func (d *Dispatcher) UnpinMessage(ctx context.Context, target relay.Target, messageID string) error {
	channelID, err := d.resolveTarget(ctx, target)
	if err != nil {
		return err
	}
	if err := d.session.ChannelMessageUnpin(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("unpin message %s: %w", messageID, err)
	}
	return nil
}

// EnsureThread opens a thread rooted at a message, reusing the existing one
// if the message already carries a thread.
func (d *Dispatcher) EnsureThread(ctx context.Context, channelID, rootMessageID, title string) (string, error) {
	msg, err := d.session.ChannelMessage(channelID, rootMessageID, discordgo.WithContext(ctx))
	if err == nil && msg.Thread != nil {
		return msg.Thread.ID, nil
	}

	thread, err := d.session.MessageThreadStart(channelID, rootMessageID, title, threadAutoArchiveMinutes,
		discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("start thread on message %s: %w", rootMessageID, err)
	}
	return thread.ID, nil
}

// MessageText returns the readable text of a previously sent message: the
// first embed's description, falling back to plain content.
func (d *Dispatcher) MessageText(ctx context.Context, target relay.Target, messageID string) (string, error) {
	channelID, err := d.resolveTarget(ctx, target)
	if err != nil {
		return "", err
	}
	msg, err := d.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("fetch message %s: %w", messageID, err)
	}
	if len(msg.Embeds) > 0 && msg.Embeds[0].Description != "" {
		return msg.Embeds[0].Description, nil
	}
	return msg.Content, nil
}

// RenameChannel sets a channel's name.
func (d *Dispatcher) RenameChannel(ctx context.Context, channelID, name, reason string) error {
	_, err := d.session.ChannelEditComplex(channelID, &discordgo.ChannelEdit{Name: name},
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	if err != nil {
		return fmt.Errorf("rename channel %s: %w", channelID, err)
	}
	return nil
}

// SetChannelTopic sets a channel's topic.
func (d *Dispatcher) SetChannelTopic(ctx context.Context, channelID, topic, reason string) error {
	_, err := d.session.ChannelEditComplex(channelID, &discordgo.ChannelEdit{Topic: topic},
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	if err != nil {
		return fmt.Errorf("set topic on channel %s: %w", channelID, err)
	}
	return nil
}

// resolveTarget picks the channel to talk to: the thread itself when the
// target is threaded, reopening it if Discord auto-archived it in the
// meantime.
func (d *Dispatcher) resolveTarget(ctx context.Context, target relay.Target) (string, error) {
	if !target.InThread() {
		return target.ChannelID, nil
	}

	thread, err := d.session.Channel(target.ThreadID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("fetch thread %s: %w", target.ThreadID, err)
	}
	if thread.ThreadMetadata != nil && thread.ThreadMetadata.Archived {
		archived := false
		if _, err := d.session.ChannelEditComplex(target.ThreadID, &discordgo.ChannelEdit{Archived: &archived},
			discordgo.WithContext(ctx), discordgo.WithAuditLogReason("Late reply from Slack")); err != nil {
			return "", fmt.Errorf("unarchive thread %s: %w", target.ThreadID, err)
		}
		d.log.Debug().Str("thread_id", target.ThreadID).Msg("Reopened archived thread")
	}
	return target.ThreadID, nil
}
