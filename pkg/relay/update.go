// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"fmt"
)

// handleEdit rewrites the primary text carrier of a previously mirrored
// message. A missing mapping means the original was never mirrored; that is
// reported and skipped, not retried.
func (e *Engine) handleEdit(ctx context.Context, ev *EditEvent) error {
	if _, err := e.resolveChannel(ctx, ev.Channel); err != nil {
		return err
	}

	sourceMessageID := Identify(ev.Channel.ID, ev.TargetTimestamp)
	maps, err := e.store.FindMessageMappings(ctx, sourceMessageID)
	if err != nil {
		return fmt.Errorf("failed to look up message mappings: %w", err)
	}

	var primary *MessageMapping
	for i := range maps {
		if maps[i].IsPrimaryTextCarrier {
			primary = &maps[i]
			break
		}
	}
	if primary == nil {
		e.log.Warn().
			Str("source_message_id", sourceMessageID).
			Msg("Unable to edit message: original message not found")
		return nil
	}

	target := Target{ChannelID: primary.DestinationChannelID, ThreadID: primary.DestinationThreadID}
	card := cardFromMessage(&MessageEvent{
		EventMeta: EventMeta{Source: ev.Source, Timestamp: ev.TargetTimestamp, Channel: ev.Channel},
		Author:    ev.Author,
		Body:      ev.NewBody,
		Italic:    ev.Italic,
	})
	if err := e.dispatch.EditCard(ctx, target, primary.DestinationMessageID, card); err != nil {
		return fmt.Errorf("failed to edit destination message: %w", err)
	}

	// Link previews that appeared with the edit are mirrored only when the
	// pre-edit version had none. Attachments added to a message that already
	// had attachments are not detected; known limitation.
	if len(ev.Embeds) > 0 && !ev.PriorHadEmbeds {
		for i, embed := range ev.Embeds {
			msgID, err := e.dispatch.SendCard(ctx, target, cardFromMessage(embed))
			if err != nil {
				return fmt.Errorf("failed to send edit embed card %d/%d: %w", i+1, len(ev.Embeds), err)
			}
			if err := e.recordMessage(ctx, &MessageEvent{EventMeta: ev.EventMeta}, sourceMessageID, primary.SourceThreadID, target, msgID, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// handleDelete removes every destination message mapped to the deleted source
// message: the primary carrier and all attachment carriers. Deleting a single
// source attachment therefore removes the whole mirrored set; changing that
// is a product decision, not a bug fix. Each deletion is attempted
// independently so one already-gone message never blocks the rest. Mapping
// rows are kept: that the message existed must remain knowable.
func (e *Engine) handleDelete(ctx context.Context, ev *DeleteEvent) error {
	if _, err := e.resolveChannel(ctx, ev.Channel); err != nil {
		return err
	}

	sourceMessageID := Identify(ev.Channel.ID, ev.DeletedTimestamp)
	maps, err := e.store.FindMessageMappings(ctx, sourceMessageID)
	if err != nil {
		return fmt.Errorf("failed to look up message mappings: %w", err)
	}
	if len(maps) == 0 {
		e.log.Warn().Str("source_message_id", sourceMessageID).Msg("Nothing to delete: message was never mirrored")
		return nil
	}

	e.log.Info().Int("count", len(maps)).Str("source_message_id", sourceMessageID).Msg("Deleting mirrored messages")
	for _, m := range maps {
		target := Target{ChannelID: m.DestinationChannelID, ThreadID: m.DestinationThreadID}
		if err := e.dispatch.DeleteMessage(ctx, target, m.DestinationMessageID); err != nil {
			e.log.Warn().Err(err).
				Str("dest_message_id", m.DestinationMessageID).
				Str("source_message_id", sourceMessageID).
				Msg("Unable to delete mirrored message")
		}
	}
	return nil
}

// handlePin toggles pins on every destination message mapped to the pinned
// source message. A missing mapping is tolerated silently: there is nothing
// to pin if it was never mirrored.
func (e *Engine) handlePin(ctx context.Context, ev *PinEvent) error {
	if _, err := e.resolveChannel(ctx, ev.Channel); err != nil {
		return err
	}

	sourceMessageID := Identify(ev.Channel.ID, ev.TargetTimestamp)
	maps, err := e.store.FindMessageMappings(ctx, sourceMessageID)
	if err != nil {
		return fmt.Errorf("failed to look up message mappings: %w", err)
	}
	if len(maps) == 0 {
		e.log.Debug().Str("source_message_id", sourceMessageID).Msg("Pin target was never mirrored, ignoring")
		return nil
	}

	reason := fmt.Sprintf("Pinned by %s on Slack", ev.Actor)
	for _, m := range maps {
		target := Target{ChannelID: m.DestinationChannelID, ThreadID: m.DestinationThreadID}
		if ev.Set {
			err = e.dispatch.PinMessage(ctx, target, m.DestinationMessageID, reason)
		} else {
			err = e.dispatch.UnpinMessage(ctx, target, m.DestinationMessageID)
		}
		if err != nil {
			e.log.Warn().Err(err).
				Bool("pin", ev.Set).
				Str("dest_message_id", m.DestinationMessageID).
				Msg("Failed to update pin state")
		}
	}
	return nil
}

// handleChannelUpdate pushes source channel metadata to the destination,
// writing only the fields that actually differ.
func (e *Engine) handleChannelUpdate(ctx context.Context, ev *ChannelUpdateEvent) error {
	destChannelID, err := e.resolveChannel(ctx, ev.Channel)
	if err != nil {
		return err
	}

	current, err := e.dispatch.ChannelInfo(ctx, destChannelID)
	if err != nil {
		return fmt.Errorf("failed to fetch destination channel info: %w", err)
	}

	purpose := ev.Channel.Purpose
	if purpose == "" {
		purpose = "Archive Channel"
	}
	wantTopic := ev.Channel.Topic + " | " + purpose

	if current.Name != ev.Channel.Name {
		if err := e.dispatch.RenameChannel(ctx, destChannelID, ev.Channel.Name, "Channel name changed from Slack"); err != nil {
			return fmt.Errorf("failed to rename destination channel: %w", err)
		}
	}
	if current.Topic != wantTopic {
		if err := e.dispatch.SetChannelTopic(ctx, destChannelID, wantTopic, "Channel topic changed from Slack"); err != nil {
			return fmt.Errorf("failed to update destination channel topic: %w", err)
		}
	}
	return nil
}
