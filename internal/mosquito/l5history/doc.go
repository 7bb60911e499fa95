// Package l5history owns Layer 5 (History) of the mosquito data model.
//
// Responsibilities: bounded snapshot stacks for undo, and the edit
// commands that mutate detection and track stores interactively.
// Key types: History, Edit, Target.
//
// The history has no policy of its own: callers decide whether to
// snapshot before applying an edit.
//
// Dependency rule: L5 may depend on L1-L4.
package l5history
