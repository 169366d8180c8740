package core

// ReviewConfig holds the thresholds of the review decider
type ReviewConfig struct {
	// Results at or above this confidence are never reviewed
	HighConfidenceThreshold float64 `yaml:"high_confidence_threshold" json:"high_confidence_threshold"`

	// Lower bound of the mid band [MidBandLow, HighConfidenceThreshold) that triggers review
	MidBandLow float64 `yaml:"mid_band_low" json:"mid_band_low"`

	// Generic tokens that make a name ambiguous ("data", "value", "info")
	AmbiguousTokens []string `yaml:"ambiguous_tokens" json:"ambiguous_tokens"`

	// Tokens that mix business and personal meaning ("contact", "reference")
	MixedContextTokens []string `yaml:"mixed_context_tokens" json:"mixed_context_tokens"`
}

// DefaultReviewConfig returns the stock thresholds and token sets
func DefaultReviewConfig() ReviewConfig {
	return ReviewConfig{
		HighConfidenceThreshold: 0.90,
		MidBandLow:              0.60,
		AmbiguousTokens: []string{
			"data", "value", "info", "details", "misc", "other", "field",
			"attribute", "content", "text", "notes", "extra", "custom", "meta",
		},
		MixedContextTokens: []string{
			"contact", "reference", "code", "number", "identifier", "key", "record", "profile",
		},
	}
}

// Validate checks the thresholds
func (c ReviewConfig) Validate() error {
	if c.HighConfidenceThreshold <= 0 || c.HighConfidenceThreshold > 1 {
		return configError("review high_confidence_threshold %.2f outside (0,1]", c.HighConfidenceThreshold)
	}
	if c.MidBandLow < 0 || c.MidBandLow >= c.HighConfidenceThreshold {
		return configError("review mid_band_low %.2f must be in [0, %.2f)", c.MidBandLow, c.HighConfidenceThreshold)
	}
	return nil
}

// ReviewDecider decides whether a local result deserves a secondary opinion
type ReviewDecider struct {
	cfg       ReviewConfig
	ambiguous map[string]struct{}
	mixed     map[string]struct{}
}

// NewReviewDecider validates the config and builds a decider
func NewReviewDecider(cfg ReviewConfig) (*ReviewDecider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ReviewDecider{
		cfg:       cfg,
		ambiguous: tokenSet(cfg.AmbiguousTokens),
		mixed:     tokenSet(cfg.MixedContextTokens),
	}, nil
}

// NeedsReview is pure: high confidence never reviews, an ambiguous or
// mixed-context token or a mid-band confidence does.
func (d *ReviewDecider) NeedsReview(column ColumnMetadata, result FieldAnalysis) bool {
	if result.Confidence >= d.cfg.HighConfidenceThreshold {
		return false
	}

	for _, token := range FieldTokens(NormalizeFieldName(column.ColumnName)) {
		if _, ok := d.ambiguous[token]; ok {
			return true
		}
		if _, ok := d.mixed[token]; ok {
			return true
		}
	}

	return result.Confidence >= d.cfg.MidBandLow
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if n := NormalizeFieldName(t); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}
