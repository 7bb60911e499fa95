package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/mosquito.tracker/internal/monitoring"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for segmentation,
// tracking and history parameters. Fields left nil fall back to the
// defaults returned by the Get* accessors, so partial files are safe.
type TuningConfig struct {
	// Segmentation params
	MinArea        *float64 `json:"min_area,omitempty"`
	MaxArea        *float64 `json:"max_area,omitempty"`
	FracN          *float64 `json:"frac_n,omitempty"`
	MinThreshold   *float64 `json:"min_threshold,omitempty"`
	Erode          *int     `json:"erode,omitempty"`
	Dilate         *int     `json:"dilate,omitempty"`
	BlackOnWhite   *bool    `json:"black_on_white,omitempty"`
	MedianBlur1    *int     `json:"median_blur_1,omitempty"`
	MedianBlur2    *int     `json:"median_blur_2,omitempty"`
	GaussianBlur1  *int     `json:"gaussian_blur_1,omitempty"`
	GaussianSigma1 *float64 `json:"gaussian_sigma_1,omitempty"`
	GaussianBlur2  *int     `json:"gaussian_blur_2,omitempty"`
	GaussianSigma2 *float64 `json:"gaussian_sigma_2,omitempty"`
	MaskThreshold  *int     `json:"mask_threshold,omitempty"` // signed: >0 keep >=, <0 keep below
	WhichPrev      *int     `json:"which_prev,omitempty"`
	WithContours   *bool    `json:"with_contours,omitempty"`

	// Tracker params
	TrackMinDistance    *float64 `json:"track_min_distance,omitempty"`
	TrackMinArea        *float64 `json:"track_min_area,omitempty"`
	TrackMaxArea        *float64 `json:"track_max_area,omitempty"`
	TrackMaxDistance    *float64 `json:"track_max_distance,omitempty"`
	TrackMaxGap         *int     `json:"track_max_gap,omitempty"`
	TrackMaxCandidates  *int     `json:"track_max_candidates,omitempty"`
	TrackMotionHistory  *int     `json:"track_motion_history,omitempty"`
	TrackMinHistory     *int     `json:"track_min_history,omitempty"`
	TrackAppend         *bool    `json:"track_append,omitempty"`
	RecordAssignmentGap *bool    `json:"record_assignment_gap,omitempty"`

	// History params
	HistoryMaxDepth *int  `json:"history_max_depth,omitempty"`
	BackupEnabled   *bool `json:"backup_enabled,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Kernel sizes are normalised before validation.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	cfg.Normalise()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/mosquito/l4tracks/
		"../../../../" + DefaultConfigPath,    // from internal/mosquito/storage/sqlite/
		"../../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Normalise fixes kernel sizes that cannot be used as given. Even blur
// kernels are decremented to the nearest odd size so that the value seen
// by the segmentation engine is always valid from the first frame.
func (c *TuningConfig) Normalise() {
	fix := func(name string, k *int) {
		if k == nil || *k <= 1 || *k%2 == 1 {
			return
		}
		monitoring.Logf("config: %s=%d is even, using %d", name, *k, *k-1)
		*k--
	}
	fix("median_blur_1", c.MedianBlur1)
	fix("median_blur_2", c.MedianBlur2)
	fix("gaussian_blur_1", c.GaussianBlur1)
	fix("gaussian_blur_2", c.GaussianBlur2)
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.FracN != nil && (*c.FracN < 0 || *c.FracN > 1) {
		return fmt.Errorf("frac_n must be between 0 and 1, got %f", *c.FracN)
	}
	if c.GetMinArea() < 0 {
		return fmt.Errorf("min_area must be non-negative, got %f", c.GetMinArea())
	}
	if c.GetMinArea() > c.GetMaxArea() {
		return fmt.Errorf("min_area (%f) exceeds max_area (%f)", c.GetMinArea(), c.GetMaxArea())
	}
	if c.GetMinThreshold() < 0 {
		return fmt.Errorf("min_threshold must be non-negative, got %f", c.GetMinThreshold())
	}

	nonNegative := map[string]*int{
		"erode":                c.Erode,
		"dilate":               c.Dilate,
		"median_blur_1":        c.MedianBlur1,
		"median_blur_2":        c.MedianBlur2,
		"gaussian_blur_1":      c.GaussianBlur1,
		"gaussian_blur_2":      c.GaussianBlur2,
		"which_prev":           c.WhichPrev,
		"track_max_gap":        c.TrackMaxGap,
		"track_motion_history": c.TrackMotionHistory,
		"track_min_history":    c.TrackMinHistory,
	}
	for name, v := range nonNegative {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", name, *v)
		}
	}

	if c.WhichPrev != nil && *c.WhichPrev == 0 {
		return fmt.Errorf("which_prev must be at least 1")
	}
	if c.TrackMaxCandidates != nil && *c.TrackMaxCandidates < 1 {
		return fmt.Errorf("track_max_candidates must be at least 1, got %d", *c.TrackMaxCandidates)
	}
	if c.TrackMaxDistance != nil && *c.TrackMaxDistance <= 0 {
		return fmt.Errorf("track_max_distance must be positive, got %f", *c.TrackMaxDistance)
	}
	if c.HistoryMaxDepth != nil && *c.HistoryMaxDepth < 1 {
		return fmt.Errorf("history_max_depth must be at least 1, got %d", *c.HistoryMaxDepth)
	}

	return nil
}

// GetMinArea returns the min_area value or the default.
func (c *TuningConfig) GetMinArea() float64 {
	if c.MinArea == nil {
		return 2
	}
	return *c.MinArea
}

// GetMaxArea returns the max_area value or the default.
func (c *TuningConfig) GetMaxArea() float64 {
	if c.MaxArea == nil {
		return 400
	}
	return *c.MaxArea
}

// GetFracN returns the frac_n value or the default.
func (c *TuningConfig) GetFracN() float64 {
	if c.FracN == nil {
		return 0.3
	}
	return *c.FracN
}

// GetMinThreshold returns the min_threshold value or the default.
func (c *TuningConfig) GetMinThreshold() float64 {
	if c.MinThreshold == nil {
		return 10
	}
	return *c.MinThreshold
}

// GetErode returns the erode pass count or the default.
func (c *TuningConfig) GetErode() int {
	if c.Erode == nil {
		return 0
	}
	return *c.Erode
}

// GetDilate returns the dilate pass count or the default.
func (c *TuningConfig) GetDilate() int {
	if c.Dilate == nil {
		return 0
	}
	return *c.Dilate
}

// GetBlackOnWhite returns the black_on_white value or the default.
// Mosquitoes are filmed against a bright backdrop, so this defaults to true.
func (c *TuningConfig) GetBlackOnWhite() bool {
	if c.BlackOnWhite == nil {
		return true
	}
	return *c.BlackOnWhite
}

// GetMedianBlur1 returns the pre-difference median kernel (0 = off).
func (c *TuningConfig) GetMedianBlur1() int {
	if c.MedianBlur1 == nil {
		return 0
	}
	return *c.MedianBlur1
}

// GetMedianBlur2 returns the post-difference median kernel (0 = off).
func (c *TuningConfig) GetMedianBlur2() int {
	if c.MedianBlur2 == nil {
		return 0
	}
	return *c.MedianBlur2
}

// GetGaussianBlur1 returns the pre-difference Gaussian kernel (0 = off).
func (c *TuningConfig) GetGaussianBlur1() int {
	if c.GaussianBlur1 == nil {
		return 0
	}
	return *c.GaussianBlur1
}

// GetGaussianSigma1 returns the pre-difference Gaussian sigma (0 = derived from kernel).
func (c *TuningConfig) GetGaussianSigma1() float64 {
	if c.GaussianSigma1 == nil {
		return 0
	}
	return *c.GaussianSigma1
}

// GetGaussianBlur2 returns the post-difference Gaussian kernel (0 = off).
func (c *TuningConfig) GetGaussianBlur2() int {
	if c.GaussianBlur2 == nil {
		return 0
	}
	return *c.GaussianBlur2
}

// GetGaussianSigma2 returns the post-difference Gaussian sigma (0 = derived from kernel).
func (c *TuningConfig) GetGaussianSigma2() float64 {
	if c.GaussianSigma2 == nil {
		return 0
	}
	return *c.GaussianSigma2
}

// GetMaskThreshold returns the signed secondary mask threshold (0 = off).
func (c *TuningConfig) GetMaskThreshold() int {
	if c.MaskThreshold == nil {
		return 0
	}
	return *c.MaskThreshold
}

// GetWhichPrev returns how many frames back the differencing frame is.
func (c *TuningConfig) GetWhichPrev() int {
	if c.WhichPrev == nil {
		return 1
	}
	return *c.WhichPrev
}

// GetWithContours returns whether blob contours are retained.
func (c *TuningConfig) GetWithContours() bool {
	if c.WithContours == nil {
		return false
	}
	return *c.WithContours
}

// GetTrackMinDistance returns the track_min_distance value or the default.
func (c *TuningConfig) GetTrackMinDistance() float64 {
	if c.TrackMinDistance == nil {
		return 2
	}
	return *c.TrackMinDistance
}

// GetTrackMinArea returns the track_min_area value or the default.
func (c *TuningConfig) GetTrackMinArea() float64 {
	if c.TrackMinArea == nil {
		return 1
	}
	return *c.TrackMinArea
}

// GetTrackMaxArea returns the track_max_area value or the default (0 = unbounded).
func (c *TuningConfig) GetTrackMaxArea() float64 {
	if c.TrackMaxArea == nil {
		return 400
	}
	return *c.TrackMaxArea
}

// GetTrackMaxDistance returns the track_max_distance value or the default.
func (c *TuningConfig) GetTrackMaxDistance() float64 {
	if c.TrackMaxDistance == nil {
		return 30
	}
	return *c.TrackMaxDistance
}

// GetTrackMaxGap returns the track_max_gap value or the default.
func (c *TuningConfig) GetTrackMaxGap() int {
	if c.TrackMaxGap == nil {
		return 3
	}
	return *c.TrackMaxGap
}

// GetTrackMaxCandidates returns the track_max_candidates value or the default.
func (c *TuningConfig) GetTrackMaxCandidates() int {
	if c.TrackMaxCandidates == nil {
		return 3
	}
	return *c.TrackMaxCandidates
}

// GetTrackMotionHistory returns the track_motion_history value or the default.
func (c *TuningConfig) GetTrackMotionHistory() int {
	if c.TrackMotionHistory == nil {
		return 5
	}
	return *c.TrackMotionHistory
}

// GetTrackMinHistory returns the track_min_history value or the default.
func (c *TuningConfig) GetTrackMinHistory() int {
	if c.TrackMinHistory == nil {
		return 3
	}
	return *c.TrackMinHistory
}

// GetTrackAppend returns the track_append value or the default.
func (c *TuningConfig) GetTrackAppend() bool {
	if c.TrackAppend == nil {
		return false
	}
	return *c.TrackAppend
}

// GetRecordAssignmentGap returns whether the optimal-assignment gap is recorded.
func (c *TuningConfig) GetRecordAssignmentGap() bool {
	if c.RecordAssignmentGap == nil {
		return false
	}
	return *c.RecordAssignmentGap
}

// GetHistoryMaxDepth returns the history_max_depth value or the default.
func (c *TuningConfig) GetHistoryMaxDepth() int {
	if c.HistoryMaxDepth == nil {
		return 10
	}
	return *c.HistoryMaxDepth
}

// GetBackupEnabled returns the backup_enabled value or the default.
func (c *TuningConfig) GetBackupEnabled() bool {
	if c.BackupEnabled == nil {
		return true
	}
	return *c.BackupEnabled
}
