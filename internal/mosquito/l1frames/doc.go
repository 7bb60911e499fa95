// Package l1frames owns Layer 1 (Frames) of the mosquito data model.
//
// Responsibilities: the frame access contract consumed by segmentation
// (8-bit grayscale images by frame index, timestamps, trigger numbers,
// rectangular and polygonal regions of interest) plus in-memory and
// directory-backed implementations of it.
// Key types: Source, Timestamp, Polygon, MemorySource, DirSource.
//
// Dependency rule: L1 depends on nothing else in internal/mosquito.
package l1frames
