// Package pipeline turns per-platform snapshots into broadcast calls.
//
// A cycle is: Tracker.Begin, Extract against the returned Window, build
// notices per Family, expand each notice into every locale, Broadcast, then
// Tracker.End. Cycles for one platform run strictly in order (see Runner);
// platforms are independent.
package pipeline
