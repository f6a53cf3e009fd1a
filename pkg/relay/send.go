// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"fmt"
)

// secondaryCard pairs an attachment or embed card with the source file it
// carries, if any, so the file mapping can be recorded after dispatch.
type secondaryCard struct {
	card         *Card
	sourceFileID string
	file         *File
}

// handleSend mirrors new content: one primary text card followed by one card
// per attachment and per link preview, in source order. Delivery order is a
// guarantee, not best-effort: the primary is dispatched and mapped before any
// secondary card, and secondaries go out strictly in source order.
func (e *Engine) handleSend(ctx context.Context, ev *MessageEvent) error {
	destChannelID, err := e.resolveChannel(ctx, ev.Channel)
	if err != nil {
		return err
	}

	target := Target{ChannelID: destChannelID, ThreadID: MainThread}
	sourceThreadID := MainThread
	if ev.Thread != nil {
		destThreadID, err := e.resolveThread(ctx, ev.Channel, destChannelID, ev.Thread)
		if err != nil {
			return err
		}
		target.ThreadID = destThreadID
		sourceThreadID = Identify(ev.Channel.ID, ev.Thread.ID)
	}

	primary := cardFromMessage(ev)
	secondaries := make([]secondaryCard, 0, len(ev.Files)+len(ev.Embeds))
	for i := range ev.Files {
		f := ev.Files[i]
		secondaries = append(secondaries, secondaryCard{
			card:         e.cardFromFile(f, primary),
			sourceFileID: f.SourceID,
			file:         &ev.Files[i],
		})
	}
	for _, embed := range ev.Embeds {
		secondaries = append(secondaries, secondaryCard{card: cardFromMessage(embed)})
	}
	annotateAttachmentCount(primary, len(secondaries))

	sourceMessageID := Identify(ev.Channel.ID, ev.Timestamp)

	primaryID, err := e.dispatch.SendCard(ctx, target, primary)
	if err != nil {
		return fmt.Errorf("failed to send primary card: %w", err)
	}
	if err := e.recordMessage(ctx, ev, sourceMessageID, sourceThreadID, target, primaryID, true); err != nil {
		return err
	}

	for i, sec := range secondaries {
		msgID, err := e.dispatch.SendCard(ctx, target, sec.card)
		if err != nil {
			// Cards already sent keep their mapping rows; the failed card
			// and everything after it are surfaced, never silently dropped.
			return fmt.Errorf("failed to send attachment card %d/%d: %w", i+1, len(secondaries), err)
		}
		if err := e.recordMessage(ctx, ev, sourceMessageID, sourceThreadID, target, msgID, false); err != nil {
			return err
		}
		if sec.sourceFileID != "" {
			if _, err := e.store.RecordFileMapping(ctx, sec.sourceFileID, msgID); err != nil {
				e.log.Warn().Err(err).Str("file_id", sec.sourceFileID).Msg("Failed to record file mapping")
			}
		}
	}

	e.cleanupEmbeddedFiles(ev.Files)

	if ev.PinAfterSend {
		if err := e.dispatch.PinMessage(ctx, target, primaryID, ev.PinReason); err != nil {
			e.log.Warn().Err(err).Str("dest_message_id", primaryID).Msg("Failed to pin mirrored notice")
		}
	}
	return nil
}

func (e *Engine) recordMessage(ctx context.Context, ev *MessageEvent, sourceMessageID, sourceThreadID string, target Target, destMessageID string, primary bool) error {
	inserted, err := e.store.RecordMessageMapping(ctx, MessageMapping{
		SourceMessageID:      sourceMessageID,
		DestinationMessageID: destMessageID,
		SourceThreadID:       sourceThreadID,
		DestinationThreadID:  target.ThreadID,
		SourceChannelID:      ev.Channel.ID,
		DestinationChannelID: target.ChannelID,
		IsPrimaryTextCarrier: primary,
	})
	if err != nil {
		return fmt.Errorf("failed to record message mapping: %w", err)
	}
	if !inserted {
		e.log.Debug().
			Str("source_message_id", sourceMessageID).
			Str("dest_message_id", destMessageID).
			Msg("Message mapping already recorded")
	}
	return nil
}

// cleanupEmbeddedFiles deletes local copies of files that were small enough
// to be attached directly. Oversized files stay on disk so the file server
// can keep serving them.
func (e *Engine) cleanupEmbeddedFiles(files []File) {
	if e.opts.Cleaner == nil {
		return
	}
	for _, f := range files {
		if f.DownloadFailed || f.SizeBytes >= e.opts.EmbedMaxBytes {
			continue
		}
		if err := e.opts.Cleaner.Remove(f.Path); err != nil {
			e.log.Warn().Err(err).Str("path", f.Path).Msg("Failed to delete embedded attachment copy")
		}
	}
}
