// Copyright 2024-2026 Aiku AI

// Package slack is the source-side adapter: it receives Events API callbacks,
// resolves the IDs they reference, and hands canonical events to the relay
// engine.
package slack

import "encoding/json"

// eventEnvelope is the outer Events API callback body.
type eventEnvelope struct {
	Type      string          `json:"type"`
	Challenge string          `json:"challenge"`
	Event     json.RawMessage `json:"event"`
}

// messageEvent is the raw "message" event and its subtypes. Fields are a
// union across subtypes: which ones are populated depends on Subtype.
type messageEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Channel string `json:"channel"`
	User    string `json:"user"`
	BotID   string `json:"bot_id"`
	Text    string `json:"text"`
	TS      string `json:"ts"`
	// ThreadTS is set on thread replies and names the root message.
	ThreadTS string `json:"thread_ts"`

	// message_changed / message_deleted.
	Message         *innerMessage `json:"message"`
	PreviousMessage *innerMessage `json:"previous_message"`
	DeletedTS       string        `json:"deleted_ts"`

	// channel_* metadata subtypes.
	Topic   string `json:"topic"`
	Purpose string `json:"purpose"`
	Name    string `json:"name"`
	OldName string `json:"old_name"`

	Files       []fileInfo       `json:"files"`
	Attachments []wireAttachment `json:"attachments"`
}

// innerMessage is the nested message object on message_changed events.
type innerMessage struct {
	User        string           `json:"user"`
	Text        string           `json:"text"`
	TS          string           `json:"ts"`
	ThreadTS    string           `json:"thread_ts"`
	Attachments []wireAttachment `json:"attachments"`
}

// fileInfo is the subset of Slack's file object the relay needs.
type fileInfo struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Filetype           string `json:"filetype"`
	Size               int64  `json:"size"`
	URLPrivate         string `json:"url_private"`
	URLPrivateDownload string `json:"url_private_download"`
}

// wireAttachment is a Slack attachment: link unfurls and bot-composed blocks.
type wireAttachment struct {
	ServiceName string `json:"service_name"`
	ServiceIcon string `json:"service_icon"`
	AuthorName  string `json:"author_name"`
	AuthorIcon  string `json:"author_icon"`
	AuthorLink  string `json:"author_link"`
	OriginalURL string `json:"original_url"`
	Title       string `json:"title"`
	TitleLink   string `json:"title_link"`
	Text        string `json:"text"`
	Fallback    string `json:"fallback"`
	Footer      string `json:"footer"`
	Color       string `json:"color"`
}

// pinEvent is the raw pin_added / pin_removed event.
type pinEvent struct {
	Type string `json:"type"`
	User string `json:"user"`
	Item struct {
		Channel string `json:"channel"`
		Message struct {
			TS string `json:"ts"`
		} `json:"message"`
	} `json:"item"`
}

// eventType peeks at the inner event's type without committing to a shape.
func eventType(raw json.RawMessage) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ""
	}
	return head.Type
}
