// Copyright 2024-2026 Aiku AI

package discord

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/aiku/slackcord/pkg/relay"
)

// buildEmbed converts a relay card to a Discord embed. Cards flagged as image
// attachments reference their uploaded file by the attachment:// scheme so
// Discord renders the upload inside the embed instead of below it.
func buildEmbed(card *relay.Card) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       card.Title,
		URL:         card.TitleURL,
		Description: card.Body,
		Color:       card.Color,
	}
	if card.AuthorName != "" {
		embed.Author = &discordgo.MessageEmbedAuthor{
			Name:    card.AuthorName,
			IconURL: card.AuthorIconURL,
		}
	}
	if !card.Timestamp.IsZero() {
		embed.Timestamp = card.Timestamp.Format(time.RFC3339)
	}
	if card.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: card.Footer}
	}
	if card.ImageAsAttachment && card.AttachName != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: "attachment://" + card.AttachName}
	}
	return embed
}
