// Copyright 2024-2026 Aiku AI

// Package relay implements the reconciliation engine at the heart of the
// Slack-to-Discord relay: it consumes canonical events produced by a source
// adapter, decides which destination calls to make, and records the
// source-to-destination identity mappings that make later edits, deletions,
// and pins land on the right mirrored messages.
//
// The engine is platform-agnostic. Platform specifics live behind the Store
// and Dispatcher interfaces; see pkg/store and pkg/discord for the production
// implementations.
package relay
