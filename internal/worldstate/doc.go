// Package worldstate holds the decoded per-platform snapshot and the small
// composite values built from it for composition.
//
// Field names follow the public worldstate JSON feed. Snapshots are read-only
// once decoded; derived values (CetusView, NightwaveView) are fresh copies.
package worldstate
