// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"fmt"
	"strings"
)

// resolveChannel maps a source channel to its destination channel ID,
// creating the mapping (and if necessary the destination channel) on first
// sight. Channel creation failure is fatal for the event being processed.
func (e *Engine) resolveChannel(ctx context.Context, ch ChannelInfo) (string, error) {
	destID, ok, err := e.store.FindChannelMapping(ctx, ch.ID)
	if err != nil {
		return "", fmt.Errorf("failed to look up channel mapping: %w", err)
	}
	if ok {
		return destID, nil
	}

	// Quirk kept from the original relay: when several destination channels
	// share the source channel's name, the first one enumerated wins and the
	// rest stay invisible to the relay.
	channels, err := e.dispatch.ListTextChannels(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list destination channels: %w", err)
	}
	var dest DestChannel
	for _, candidate := range channels {
		if candidate.Name == ch.Name {
			dest = candidate
			break
		}
	}

	if dest.ID == "" {
		dest, err = e.dispatch.CreateChannel(ctx, ch.Name, fmt.Sprintf("#%s created for new Slack messages", ch.Name))
		if err != nil {
			return "", fmt.Errorf("channel #%s could not be found or created: %w", ch.Name, err)
		}
		e.log.Info().Str("channel_name", ch.Name).Str("dest_channel_id", dest.ID).Msg("Created destination channel")
	}

	inserted, err := e.store.RecordChannelMapping(ctx, ch.ID, dest.ID)
	if err != nil {
		return "", fmt.Errorf("failed to record channel mapping: %w", err)
	}
	if !inserted {
		// Lost a race against a concurrent event in the same channel. The
		// store is the source of truth, so converge on whatever won; a
		// duplicate destination-side channel may have been created and is
		// logged rather than prevented.
		stored, ok, err := e.store.FindChannelMapping(ctx, ch.ID)
		if err != nil {
			return "", fmt.Errorf("failed to re-read channel mapping: %w", err)
		}
		if ok && stored != dest.ID {
			e.log.Warn().
				Str("channel_id", ch.ID).
				Str("kept", stored).
				Str("discarded", dest.ID).
				Msg("Concurrent channel mapping detected, converging on stored value")
			return stored, nil
		}
	}
	return dest.ID, nil
}

// resolveThread maps a source thread to a destination thread ID, creating the
// destination thread on first sight. The thread is rooted at the mirror of
// the thread's first message; if that message was never mirrored (the thread
// root raced ahead of us or predates the relay), a placeholder root is
// synthesized first.
func (e *Engine) resolveThread(ctx context.Context, ch ChannelInfo, destChannelID string, thread *ThreadInfo) (string, error) {
	sourceThreadKey := Identify(ch.ID, thread.ID)

	destThreadID, ok, err := e.store.FindThreadMapping(ctx, sourceThreadKey)
	if err != nil {
		return "", fmt.Errorf("failed to look up thread mapping: %w", err)
	}
	if ok {
		return destThreadID, nil
	}

	rootID, err := e.locateThreadRoot(ctx, ch, thread, sourceThreadKey)
	if err != nil {
		return "", err
	}

	title := thread.Title
	if title == "" {
		rootText, err := e.dispatch.MessageText(ctx, Target{ChannelID: destChannelID, ThreadID: MainThread}, rootID)
		if err != nil || strings.TrimSpace(rootText) == "" {
			rootText = "No Text Content"
		}
		title = truncateTitle(rootText, e.opts.ThreadTitleLimit)
	}

	destThreadID, err = e.dispatch.EnsureThread(ctx, destChannelID, rootID, title)
	if err != nil {
		return "", fmt.Errorf("failed to open destination thread: %w", err)
	}

	inserted, err := e.store.RecordThreadMapping(ctx, sourceThreadKey, destThreadID)
	if err != nil {
		return "", fmt.Errorf("failed to record thread mapping: %w", err)
	}
	if !inserted {
		stored, ok, err := e.store.FindThreadMapping(ctx, sourceThreadKey)
		if err != nil {
			return "", fmt.Errorf("failed to re-read thread mapping: %w", err)
		}
		if ok && stored != destThreadID {
			e.log.Warn().
				Str("source_thread", sourceThreadKey).
				Str("kept", stored).
				Str("discarded", destThreadID).
				Msg("Concurrent thread mapping detected, converging on stored value")
			return stored, nil
		}
	}
	return destThreadID, nil
}

// locateThreadRoot finds the destination message the thread should be rooted
// at: the primary text carrier of the thread's first message if it was
// mirrored, otherwise a freshly synthesized placeholder.
func (e *Engine) locateThreadRoot(ctx context.Context, ch ChannelInfo, thread *ThreadInfo, sourceThreadKey string) (string, error) {
	maps, err := e.store.FindMessageMappings(ctx, sourceThreadKey)
	if err != nil {
		return "", fmt.Errorf("failed to look up thread root mappings: %w", err)
	}
	for _, m := range maps {
		if m.IsPrimaryTextCarrier {
			return m.DestinationMessageID, nil
		}
	}

	e.log.Info().Str("source_thread", sourceThreadKey).Msg("Thread root not mirrored, creating placeholder root message")

	// The skeleton carries the thread's timestamp so its mapping lands under
	// the thread root's identity, and no thread context so recursion stops
	// after one level.
	skeleton := &MessageEvent{
		EventMeta: EventMeta{
			Source:    "slack",
			Timestamp: thread.ID,
			Channel:   ch,
		},
		Author: Author{
			DisplayName: "Unknown Thread Handler",
			AvatarURL:   DefaultAvatarURL,
			AccentColor: 0xDD2020,
		},
		Body: "[Thread Not Found: Some Messages May Be Missing]",
	}
	if err := e.handleSend(ctx, skeleton); err != nil {
		return "", fmt.Errorf("failed to create placeholder thread root: %w", err)
	}

	maps, err = e.store.FindMessageMappings(ctx, sourceThreadKey)
	if err != nil {
		return "", fmt.Errorf("failed to re-read thread root mappings: %w", err)
	}
	for _, m := range maps {
		if m.IsPrimaryTextCarrier {
			return m.DestinationMessageID, nil
		}
	}
	return "", fmt.Errorf("placeholder thread root for %s left no primary mapping", sourceThreadKey)
}

// truncateTitle bounds a thread title to limit runes, marking the cut with an
// ellipsis.
func truncateTitle(text string, limit int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit-1]) + "…"
}
