package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical estimation defaults file.
const DefaultConfigPath = "config/estimation.defaults.json"

// Penalty policies accepted by penalty_policy.
const (
	PenaltyPolicyThreshold = "threshold"
	PenaltyPolicyGaussian  = "gaussian"
)

// Estimation modes accepted by mode.
const (
	ModeChain = "chain"
	ModeMST   = "mst"
)

// EstimationConfig holds the tunable parameters of wind estimation. Every
// field is optional; the Get* methods fall back to the built-in defaults.
type EstimationConfig struct {
	// Transition penalty
	PenaltyFreeShiftDegrees  *float64 `json:"penalty_free_shift_degrees,omitempty"`
	SmallPenaltyShiftDegrees *float64 `json:"small_penalty_shift_degrees,omitempty"`
	PenaltyPolicy            *string  `json:"penalty_policy,omitempty"` // "threshold" or "gaussian"
	GaussianSigmaDegrees     *float64 `json:"gaussian_sigma_degrees,omitempty"`
	DriftDegreesPerHour      *float64 `json:"drift_degrees_per_hour,omitempty"`

	// Best paths
	PreciseConfidence      *bool    `json:"precise_confidence,omitempty"`
	MinEmissionProbability *float64 `json:"min_emission_probability,omitempty"`

	// Graph construction
	Mode               *string  `json:"mode,omitempty"`            // "chain" or "mst"
	MSTTimeWindow      *string  `json:"mst_time_window,omitempty"` // duration string like "5m"
	MSTMetresPerSecond *float64 `json:"mst_metres_per_second,omitempty"`

	// Classification
	ClassifierCacheTTL            *string  `json:"classifier_cache_ttl,omitempty"` // "0s" keeps entries forever
	FallbackHypothesisProbability *float64 `json:"fallback_hypothesis_probability,omitempty"`

	// Batch processing
	MaxWorkers *int `json:"max_workers,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyEstimationConfig returns an EstimationConfig with all fields set to nil.
func EmptyEstimationConfig() *EstimationConfig {
	return &EstimationConfig{}
}

// DefaultEstimationConfig returns a config with every field set to its
// built-in default.
func DefaultEstimationConfig() *EstimationConfig {
	empty := EmptyEstimationConfig()
	return &EstimationConfig{
		PenaltyFreeShiftDegrees:       ptrFloat64(empty.GetPenaltyFreeShiftDegrees()),
		SmallPenaltyShiftDegrees:      ptrFloat64(empty.GetSmallPenaltyShiftDegrees()),
		PenaltyPolicy:                 ptrString(empty.GetPenaltyPolicy()),
		GaussianSigmaDegrees:          ptrFloat64(empty.GetGaussianSigmaDegrees()),
		DriftDegreesPerHour:           ptrFloat64(empty.GetDriftDegreesPerHour()),
		PreciseConfidence:             ptrBool(empty.GetPreciseConfidence()),
		MinEmissionProbability:        ptrFloat64(empty.GetMinEmissionProbability()),
		Mode:                          ptrString(empty.GetMode()),
		MSTTimeWindow:                 ptrString(empty.GetMSTTimeWindow().String()),
		MSTMetresPerSecond:            ptrFloat64(empty.GetMSTMetresPerSecond()),
		ClassifierCacheTTL:            ptrString(empty.GetClassifierCacheTTL().String()),
		FallbackHypothesisProbability: ptrFloat64(empty.GetFallbackHypothesisProbability()),
		MaxWorkers:                    ptrInt(empty.GetMaxWorkers()),
	}
}

// LoadEstimationConfig loads an EstimationConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file fall back to their defaults, so
// partial configs are safe.
func LoadEstimationConfig(path string) (*EstimationConfig, error) {
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

	cfg := EmptyEstimationConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *EstimationConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,       // from cmd/windest/
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadEstimationConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *EstimationConfig) Validate() error {
	for name, v := range map[string]*float64{
		"penalty_free_shift_degrees":  c.PenaltyFreeShiftDegrees,
		"small_penalty_shift_degrees": c.SmallPenaltyShiftDegrees,
		"drift_degrees_per_hour":      c.DriftDegreesPerHour,
		"mst_metres_per_second":       c.MSTMetresPerSecond,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", name, *v)
		}
	}

	if c.GetPenaltyFreeShiftDegrees() > c.GetSmallPenaltyShiftDegrees() {
		return fmt.Errorf("penalty_free_shift_degrees (%f) must not exceed small_penalty_shift_degrees (%f)",
			c.GetPenaltyFreeShiftDegrees(), c.GetSmallPenaltyShiftDegrees())
	}

	if c.PenaltyPolicy != nil {
		switch *c.PenaltyPolicy {
		case PenaltyPolicyThreshold, PenaltyPolicyGaussian:
		default:
			return fmt.Errorf("penalty_policy must be %q or %q, got %q", PenaltyPolicyThreshold, PenaltyPolicyGaussian, *c.PenaltyPolicy)
		}
	}

	if c.GaussianSigmaDegrees != nil && *c.GaussianSigmaDegrees <= 0 {
		return fmt.Errorf("gaussian_sigma_degrees must be positive, got %f", *c.GaussianSigmaDegrees)
	}

	if c.Mode != nil && *c.Mode != ModeChain && *c.Mode != ModeMST {
		return fmt.Errorf("mode must be %q or %q, got %q", ModeChain, ModeMST, *c.Mode)
	}

	if c.MSTTimeWindow != nil && *c.MSTTimeWindow != "" {
		if _, err := time.ParseDuration(*c.MSTTimeWindow); err != nil {
			return fmt.Errorf("invalid mst_time_window '%s': %w", *c.MSTTimeWindow, err)
		}
	}

	if c.ClassifierCacheTTL != nil && *c.ClassifierCacheTTL != "" {
		if _, err := time.ParseDuration(*c.ClassifierCacheTTL); err != nil {
			return fmt.Errorf("invalid classifier_cache_ttl '%s': %w", *c.ClassifierCacheTTL, err)
		}
	}

	for name, v := range map[string]*float64{
		"fallback_hypothesis_probability": c.FallbackHypothesisProbability,
		"min_emission_probability":        c.MinEmissionProbability,
	} {
		if v != nil && (*v <= 0 || *v > 1) {
			return fmt.Errorf("%s must be in (0, 1], got %f", name, *v)
		}
	}

	if c.MaxWorkers != nil && *c.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be at least 1, got %d", *c.MaxWorkers)
	}

	return nil
}

// GetPenaltyFreeShiftDegrees returns the penalty_free_shift_degrees value or the default.
func (c *EstimationConfig) GetPenaltyFreeShiftDegrees() float64 {
	if c.PenaltyFreeShiftDegrees == nil {
		return 10
	}
	return *c.PenaltyFreeShiftDegrees
}

// GetSmallPenaltyShiftDegrees returns the small_penalty_shift_degrees value or the default.
func (c *EstimationConfig) GetSmallPenaltyShiftDegrees() float64 {
	if c.SmallPenaltyShiftDegrees == nil {
		return 45
	}
	return *c.SmallPenaltyShiftDegrees
}

// GetPenaltyPolicy returns the penalty_policy value or the default.
func (c *EstimationConfig) GetPenaltyPolicy() string {
	if c.PenaltyPolicy == nil || *c.PenaltyPolicy == "" {
		return PenaltyPolicyThreshold
	}
	return *c.PenaltyPolicy
}

// GetGaussianSigmaDegrees returns the gaussian_sigma_degrees value or the default.
func (c *EstimationConfig) GetGaussianSigmaDegrees() float64 {
	if c.GaussianSigmaDegrees == nil {
		return 20
	}
	return *c.GaussianSigmaDegrees
}

// GetDriftDegreesPerHour returns the drift_degrees_per_hour value or the default.
func (c *EstimationConfig) GetDriftDegreesPerHour() float64 {
	if c.DriftDegreesPerHour == nil {
		return 0
	}
	return *c.DriftDegreesPerHour
}

// GetPreciseConfidence returns the precise_confidence value or the default.
func (c *EstimationConfig) GetPreciseConfidence() bool {
	if c.PreciseConfidence == nil {
		return true
	}
	return *c.PreciseConfidence
}

// GetMinEmissionProbability returns the min_emission_probability value or the default.
func (c *EstimationConfig) GetMinEmissionProbability() float64 {
	if c.MinEmissionProbability == nil {
		return 1e-6
	}
	return *c.MinEmissionProbability
}

// GetMode returns the mode value or the default.
func (c *EstimationConfig) GetMode() string {
	if c.Mode == nil || *c.Mode == "" {
		return ModeMST
	}
	return *c.Mode
}

// GetMSTTimeWindow parses and returns the MSTTimeWindow as a time.Duration.
func (c *EstimationConfig) GetMSTTimeWindow() time.Duration {
	if c.MSTTimeWindow == nil || *c.MSTTimeWindow == "" {
		return 5 * time.Minute // default
	}
	d, err := time.ParseDuration(*c.MSTTimeWindow)
	if err != nil {
		return 5 * time.Minute // default on parse error
	}
	return d
}

// GetMSTMetresPerSecond returns the mst_metres_per_second value or the default.
func (c *EstimationConfig) GetMSTMetresPerSecond() float64 {
	if c.MSTMetresPerSecond == nil {
		return 5
	}
	return *c.MSTMetresPerSecond
}

// GetClassifierCacheTTL parses and returns the ClassifierCacheTTL as a time.Duration.
func (c *EstimationConfig) GetClassifierCacheTTL() time.Duration {
	if c.ClassifierCacheTTL == nil || *c.ClassifierCacheTTL == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.ClassifierCacheTTL)
	if err != nil {
		return 0
	}
	return d
}

// GetFallbackHypothesisProbability returns the fallback_hypothesis_probability value or the default.
func (c *EstimationConfig) GetFallbackHypothesisProbability() float64 {
	if c.FallbackHypothesisProbability == nil {
		return 0.01
	}
	return *c.FallbackHypothesisProbability
}

// GetMaxWorkers returns the max_workers value or the default.
func (c *EstimationConfig) GetMaxWorkers() int {
	if c.MaxWorkers == nil {
		return 4
	}
	return *c.MaxWorkers
}
