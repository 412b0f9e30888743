// Package storage persists subscriber settings and delivery bookkeeping in a
// single SQLite file (pure Go driver, no cgo).
//
// Tables:
//   - channels: one row per chat/thread with its platform and language
//   - type_subscriptions / item_subscriptions: what a channel tracks
//   - live_messages: delivered messages still on screen, per category key
//   - watermarks: last completed cycle start per platform
package storage
