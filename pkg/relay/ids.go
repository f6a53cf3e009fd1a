// Copyright 2024-2026 Aiku AI

package relay

import "strings"

// MainThread is the sentinel thread ID for messages that live directly in a
// channel rather than in a conversation thread. Mapping rows default to it.
const MainThread = "Main"

// Identify builds the composite source message ID from a channel ID and a
// message timestamp. Timestamps are only unique per channel on the source
// platform, so every mapping key is scoped this way.
func Identify(channelID, ts string) string {
	return channelID + "/" + ts
}

// SplitIdentity is the inverse of Identify. ok is false if the value is not a
// composite ID.
func SplitIdentity(id string) (channelID, ts string, ok bool) {
	idx := strings.IndexByte(id, '/')
	if idx <= 0 || idx == len(id)-1 {
		return "", "", false
	}
	return id[:idx], id[idx+1:], true
}
