// Package l4tracks owns Layer 4 (Tracks) of the mosquito data model.
//
// Responsibilities: the track registry and its interactive edits (join,
// split, delete, point removal, extrapolation, lookup), the per-sequence
// tracking pass that links cleaned detections frame to frame with greedy
// sort-then-claim assignment, gap bridging through lost candidates, and
// pass metrics.
// Key types: TrackPoint, Track, Registry, Tracker, TrackerConfig.
//
// Dependency rule: L4 may depend on L1-L3, but never on L5+.
// No SQL/database code is allowed in this package.
package l4tracks
