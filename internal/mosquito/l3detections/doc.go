// Package l3detections owns Layer 3 (Detections) of the mosquito data model.
//
// Responsibilities: per-frame detection sets produced by segmentation or
// added by hand, frame and trigger indexing, the distance/area cleaning
// applied before tracking, and cluster removal of static noise.
// Key types: Detection, FrameDetections, SegmentInfo, Store.
//
// Dependency rule: L3 may depend on L1, never on L4+.
package l3detections
