package core

import (
	"fmt"
	"strings"
)

const (
	// unmatchedConfidence is reported for technical and unmatched fields
	unmatchedConfidence = 0.05

	fuzzyThreshold   = 0.95
	contextThreshold = 0.5
	contextBoost     = 1.1
	contextCap       = 0.95
)

// MatchInput is the normalized view of one field handed to every matcher
type MatchInput struct {
	Normalized string
	Column     ColumnMetadata
	Siblings   []string
	Regulation Regulation
}

// Match is a definitive answer from one tier
type Match struct {
	Pattern    *SensitivityPattern
	Confidence float64
	Method     DetectionMethod
	Similarity float64
	Note       string

	// NonSensitive marks a definitive "not PII" answer with no pattern
	NonSensitive bool
}

// Matcher is one tier of the classification pipeline
type Matcher interface {
	Name() string
	Method() DetectionMethod
	Match(in MatchInput) (Match, bool)
}

// DefaultMatchers returns the tiers in precedence order
func DefaultMatchers(lib *PatternLibrary) []Matcher {
	return []Matcher{
		&technicalMatcher{lib: lib},
		&exactMatcher{lib: lib},
		&regexMatcher{lib: lib},
		&fuzzyMatcher{lib: lib},
		&contextMatcher{lib: lib},
	}
}

// technicalMatcher short-circuits purely technical field names
type technicalMatcher struct {
	lib *PatternLibrary
}

func (m *technicalMatcher) Name() string            { return "technical" }
func (m *technicalMatcher) Method() DetectionMethod { return MethodNone }

func (m *technicalMatcher) Match(in MatchInput) (Match, bool) {
	if !m.lib.IsTechnical(in.Normalized) {
		return Match{}, false
	}
	return Match{
		Confidence:   unmatchedConfidence,
		Method:       MethodNone,
		Note:         fmt.Sprintf("%q is a technical field name", in.Normalized),
		NonSensitive: true,
	}, true
}

// exactMatcher looks the name up in the literal table, filtered by regulation
type exactMatcher struct {
	lib *PatternLibrary
}

func (m *exactMatcher) Name() string            { return "exact" }
func (m *exactMatcher) Method() DetectionMethod { return MethodExactPattern }

func (m *exactMatcher) Match(in MatchInput) (Match, bool) {
	for _, p := range m.lib.LookupExact(in.Normalized) {
		if !p.AppliesTo(in.Regulation) {
			continue
		}
		return Match{
			Pattern:    p,
			Confidence: p.BaseConfidence,
			Method:     MethodExactPattern,
			Similarity: 1,
			Note:       fmt.Sprintf("exact match on %q", in.Normalized),
		}, true
	}
	return Match{}, false
}

// regexMatcher tries the ordered anchored expressions; the first hit wins
type regexMatcher struct {
	lib *PatternLibrary
}

func (m *regexMatcher) Name() string            { return "regex" }
func (m *regexMatcher) Method() DetectionMethod { return MethodRegexPattern }

func (m *regexMatcher) Match(in MatchInput) (Match, bool) {
	for _, p := range m.lib.RegexPatterns() {
		if !p.AppliesTo(in.Regulation) || !p.re.MatchString(in.Normalized) {
			continue
		}
		return Match{
			Pattern:    p,
			Confidence: p.BaseConfidence,
			Method:     MethodRegexPattern,
			Similarity: 1,
			Note:       fmt.Sprintf("matched expression %s", p.Value),
		}, true
	}
	return Match{}, false
}

// fuzzyMatcher accepts near-exact spellings of the canonical anchor names.
// Anchors are compared regardless of regulation; a mismatch is noted instead.
type fuzzyMatcher struct {
	lib *PatternLibrary
}

func (m *fuzzyMatcher) Name() string            { return "fuzzy" }
func (m *fuzzyMatcher) Method() DetectionMethod { return MethodFuzzyPattern }

func (m *fuzzyMatcher) Match(in MatchInput) (Match, bool) {
	var best Match
	found := false

	for _, p := range m.lib.Anchors() {
		sim := bestSimilarity(in.Normalized, p.names)
		if sim < fuzzyThreshold {
			continue
		}
		conf := sim * p.BaseConfidence
		if found && conf <= best.Confidence {
			continue
		}
		best = Match{
			Pattern:    p,
			Confidence: conf,
			Method:     MethodFuzzyPattern,
			Similarity: sim,
			Note:       fmt.Sprintf("similar to %q (%.2f)", p.Value, sim),
		}
		found = true
	}

	if found && !best.Pattern.AppliesTo(in.Regulation) {
		best.Note += fmt.Sprintf("; pattern does not list %s, recorded under %s anyway", in.Regulation, in.Regulation)
	}
	return best, found
}

// contextMatcher infers a classification from sibling columns that carry a context keyword
type contextMatcher struct {
	lib *PatternLibrary
}

func (m *contextMatcher) Name() string            { return "context" }
func (m *contextMatcher) Method() DetectionMethod { return MethodContextPattern }

func (m *contextMatcher) Match(in MatchInput) (Match, bool) {
	var best Match
	found := false

	for _, keyword := range m.lib.ContextKeywords() {
		sibling, ok := firstContaining(in.Siblings, keyword)
		if !ok {
			continue
		}
		for _, p := range m.lib.ContextPatterns(keyword) {
			if !p.AppliesTo(in.Regulation) {
				continue
			}
			sim := bestSimilarity(in.Normalized, p.names)
			if sim < contextThreshold {
				continue
			}
			conf := p.BaseConfidence * sim * contextBoost
			if conf > contextCap {
				conf = contextCap
			}
			if found && conf <= best.Confidence {
				continue
			}
			best = Match{
				Pattern:    p,
				Confidence: conf,
				Method:     MethodContextPattern,
				Similarity: sim,
				Note:       fmt.Sprintf("sibling %q suggests %q context, similar to %q (%.2f)", sibling, keyword, p.Value, sim),
			}
			found = true
		}
	}
	return best, found
}

func bestSimilarity(name string, candidates []string) float64 {
	best := 0.0
	for _, c := range candidates {
		if s := Similarity(name, c); s > best {
			best = s
		}
	}
	return best
}

func firstContaining(names []string, keyword string) (string, bool) {
	for _, n := range names {
		if strings.Contains(n, keyword) {
			return n, true
		}
	}
	return "", false
}
