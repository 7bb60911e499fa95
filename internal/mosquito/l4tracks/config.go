package l4tracks

import (
	"fmt"

	"github.com/banshee-data/mosquito.tracker/internal/config"
)

// TrackerConfig holds the parameters of one tracking pass.
type TrackerConfig struct {
	MinDistance   float64 // Detections closer than this are thinned before linking
	MinArea       float64 // Detections below this area are removed
	MaxArea       float64 // Detections above this area are removed; <= 0 unbounded
	MaxDistance   float64 // Base cost at or above which a link is never considered
	MaxGap        int     // Frames a lost candidate may stay unmatched
	MaxCandidates int     // Cheapest targets kept per active row
	MotionHistory int     // Step velocities averaged by the motion cost
	MinHistory    int     // Track points needed before motion costing starts

	Append     bool // Extend existing tracks instead of resetting the registry
	StartFrame int  // First frame of the pass; < 0 means the first stored frame
	EndFrame   int  // Last frame of the pass; < 0 means the last stored frame

	RecordAssignmentGap bool // Compare greedy links against the optimum each step
}

// DefaultTrackerConfig returns defaults matching the tuning defaults file.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfigFromTuning(config.EmptyTuningConfig())
}

// TrackerConfigFromTuning builds a pass config from tuning values. The
// frame range covers the whole sequence.
func TrackerConfigFromTuning(c *config.TuningConfig) TrackerConfig {
	return TrackerConfig{
		MinDistance:         c.GetTrackMinDistance(),
		MinArea:             c.GetTrackMinArea(),
		MaxArea:             c.GetTrackMaxArea(),
		MaxDistance:         c.GetTrackMaxDistance(),
		MaxGap:              c.GetTrackMaxGap(),
		MaxCandidates:       c.GetTrackMaxCandidates(),
		MotionHistory:       c.GetTrackMotionHistory(),
		MinHistory:          c.GetTrackMinHistory(),
		Append:              c.GetTrackAppend(),
		StartFrame:          -1,
		EndFrame:            -1,
		RecordAssignmentGap: c.GetRecordAssignmentGap(),
	}
}

// Validate checks the config for values the pass cannot work with.
func (c TrackerConfig) Validate() error {
	if c.MaxDistance <= 0 {
		return fmt.Errorf("max distance must be positive, got %v", c.MaxDistance)
	}
	if c.MaxCandidates < 1 {
		return fmt.Errorf("max candidates must be at least 1, got %d", c.MaxCandidates)
	}
	if c.MaxGap < 0 {
		return fmt.Errorf("max gap must be non-negative, got %d", c.MaxGap)
	}
	if c.MinDistance < 0 || c.MinArea < 0 {
		return fmt.Errorf("cleaning thresholds must be non-negative")
	}
	if c.MaxArea > 0 && c.MaxArea < c.MinArea {
		return fmt.Errorf("max area %v below min area %v", c.MaxArea, c.MinArea)
	}
	if c.MotionHistory < 0 || c.MinHistory < 0 {
		return fmt.Errorf("history lengths must be non-negative")
	}
	if c.StartFrame >= 0 && c.EndFrame >= 0 && c.EndFrame < c.StartFrame {
		return fmt.Errorf("end frame %d before start frame %d", c.EndFrame, c.StartFrame)
	}
	return nil
}
