// Package broadcast delivers envelopes to the chats subscribed to a
// notification key.
//
// Broadcast resolves subscribers, renders the envelope once and enqueues one
// job per chat. A worker pool drains the queue under a shared rate limit and
// retries failed sends with backoff. Each delivered message is recorded as
// live under its key: a newer delivery under the same key replaces it, and a
// cron sweeper deletes live messages once their TTL passes.
package broadcast
