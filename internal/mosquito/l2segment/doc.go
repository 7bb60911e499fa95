// Package l2segment owns Layer 2 (Segmentation) of the mosquito data model.
//
// Responsibilities: frame differencing between a current frame and an
// earlier one, optional median and Gaussian smoothing, histogram-relative
// thresholding, morphology, region and mask restriction, and blob
// extraction into l3detections.Detection values.
// Key types: Params, Segmenter, Result.
//
// The difference plane is int16 unless a Gaussian stage is requested, in
// which case the float32 plane is used. Everything from the difference
// onward is one generic pipeline over both sample types.
//
// Dependency rule: L2 may depend on L1 and L3 types, never on L4+.
// Building with the withcv tag routes 8-bit median smoothing through gocv.
package l2segment
