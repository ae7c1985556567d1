package novelty

// StageConfig defines the parameters for a single verdict stage.
type StageConfig struct {
	Enabled   bool    `json:"enabled"`
	Threshold float64 `json:"threshold"`
}

// VerdictStages holds the configuration for the 5 discrete verdict stages.
type VerdictStages struct {
	Stage0 StageConfig `json:"stage_1"`
	Stage1 StageConfig `json:"stage_2"`
	Stage2 StageConfig `json:"stage_3"`
	Stage3 StageConfig `json:"stage_4"`
	Stage4 StageConfig `json:"stage_5"`
}

// Config holds all parameters for calculating novelty scores. This allows an
// operator to fine-tune how aggressively recurring phrases are promoted to
// emergent-proverb status.
type Config struct {
	// Smoothing is the additive constant applied to reference counts so that
	// phrases absent from the reference corpus produce a finite score.
	Smoothing float64 `json:"smoothing"`

	// MinGenFrequency is the floor a phrase must reach in the generated
	// corpus before it is considered at all. Singletons are noise.
	MinGenFrequency int `json:"min_gen_frequency"`

	// LengthWeight is the exponent applied to the window length. Values above
	// zero favor longer phrases, which are far less likely to recur by chance.
	LengthWeight float64 `json:"length_weight"`

	// MaxCandidates is the ceiling on the number of candidates a single
	// scoring pass returns.
	MaxCandidates int `json:"max_candidates"`

	// OverlapTolerance is the frequency ratio under which a shorter phrase is
	// considered to carry no signal beyond a longer phrase that contains it.
	OverlapTolerance float64 `json:"overlap_tolerance"`

	// FallbackLevel is the default verdict level (0-4) to use if a score does
	// not meet any enabled stage thresholds.
	FallbackLevel int `json:"fallback_level"`

	// Stages defines the score thresholds for each of the 5 verdict levels.
	Stages VerdictStages `json:"stages"`
}

// DefaultConfig returns a Config with conservative defaults. Every stage is
// enabled; the thresholds rise geometrically so that only phrases orders of
// magnitude more frequent in generated text reach the top verdict.
func DefaultConfig() *Config {
	return &Config{
		Smoothing:        1.0,
		MinGenFrequency:  2,
		LengthWeight:     0.5,
		MaxCandidates:    200,
		OverlapTolerance: 1.25,
		FallbackLevel:    0,
		Stages: VerdictStages{
			// Stage 0 is always enabled with a threshold of 0.
			Stage0: StageConfig{Enabled: true, Threshold: 0},
			Stage1: StageConfig{Enabled: true, Threshold: 2},
			Stage2: StageConfig{Enabled: true, Threshold: 8},
			Stage3: StageConfig{Enabled: true, Threshold: 32},
			Stage4: StageConfig{Enabled: true, Threshold: 128},
		},
	}
}
