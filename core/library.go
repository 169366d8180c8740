package core

import (
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
)

// SensitivityPattern is one compiled rule of the pattern library. It is never mutated after the library is built.
type SensitivityPattern struct {
	ID             string
	Kind           MatchKind
	Value          string
	PIIType        PIIType
	Risk           RiskLevel
	BaseConfidence float64
	Regulations    []Regulation
	Aliases        []string
	Precedence     int
	Description    string

	// declaration order in the ruleset, the final tie-break
	order int
	re    *regexp.Regexp
	// normalized value and aliases compared by fuzzy and context tiers
	names []string
}

// AppliesTo reports whether the pattern lists the regulation
func (p *SensitivityPattern) AppliesTo(r Regulation) bool {
	return containsRegulation(p.Regulations, r)
}

// PatternLibrary holds every pattern indexed for each matcher tier.
// It is read-only after NewPatternLibrary returns and safe for concurrent use.
type PatternLibrary struct {
	version string
	hash    string

	all   map[string]*SensitivityPattern
	exact map[string][]*SensitivityPattern
	regex []*SensitivityPattern
	fuzzy []*SensitivityPattern

	context     map[string][]*SensitivityPattern
	contextKeys []string

	nonPII     map[string]struct{}
	healthcare HealthcareIndicators

	// usage counters live beside the patterns so the patterns themselves stay immutable
	usage map[string]*atomic.Int64
}

// NewPatternLibrary compiles a validated ruleset into lookup tables
func NewPatternLibrary(rs *Ruleset) (*PatternLibrary, error) {
	if rs == nil {
		return nil, configError("nil ruleset")
	}
	if err := validateRuleset(rs); err != nil {
		return nil, err
	}

	lib := &PatternLibrary{
		version: rs.Metadata.Version,
		hash:    rs.Metadata.Hash,
		all:     make(map[string]*SensitivityPattern, len(rs.Patterns)),
		exact:   make(map[string][]*SensitivityPattern),
		context: make(map[string][]*SensitivityPattern),
		nonPII:  make(map[string]struct{}, len(rs.NonPIITokens)),
		usage:   make(map[string]*atomic.Int64, len(rs.Patterns)),
		healthcare: HealthcareIndicators{
			TableTokens:     normalizeTokens(rs.Healthcare.TableTokens),
			ColumnTokens:    normalizeTokens(rs.Healthcare.ColumnTokens),
			SiblingFraction: rs.Healthcare.SiblingFraction,
		},
	}

	for i, rule := range rs.Patterns {
		p := &SensitivityPattern{
			ID:             rule.ID,
			Kind:           rule.Kind,
			Value:          rule.Value,
			PIIType:        rule.PIIType,
			Risk:           rule.Risk,
			BaseConfidence: rule.Confidence,
			Regulations:    UnionRegulations(rule.Regulations),
			Aliases:        append([]string(nil), rule.Aliases...),
			Precedence:     rule.Precedence,
			Description:    rule.Description,
			order:          i,
		}

		switch rule.Kind {
		case MatchExact:
			for _, key := range exactKeys(rule) {
				lib.exact[key] = append(lib.exact[key], p)
			}
		case MatchRegex:
			re, err := regexp.Compile(rule.Value)
			if err != nil {
				return nil, configError("regex pattern %q does not compile: %w", rule.ID, err)
			}
			p.re = re
			lib.regex = append(lib.regex, p)
		case MatchFuzzy:
			p.names = exactKeys(rule)
			lib.fuzzy = append(lib.fuzzy, p)
		case MatchContext:
			p.names = exactKeys(rule)
		}

		lib.all[p.ID] = p
		lib.usage[p.ID] = new(atomic.Int64)
	}

	for key, candidates := range lib.exact {
		sortByPrecedence(candidates)
		lib.exact[key] = candidates
	}

	for keyword, ids := range rs.ContextKeywords {
		key := NormalizeFieldName(keyword)
		for _, id := range ids {
			lib.context[key] = append(lib.context[key], lib.all[id])
		}
		sortByPrecedence(lib.context[key])
	}
	for key := range lib.context {
		lib.contextKeys = append(lib.contextKeys, key)
	}
	sort.Strings(lib.contextKeys)

	for _, token := range rs.NonPIITokens {
		if key := NormalizeFieldName(token); key != "" {
			lib.nonPII[key] = struct{}{}
		}
	}

	return lib, nil
}

// sortByPrecedence orders candidates by precedence, then confidence, then declaration order
func sortByPrecedence(candidates []*SensitivityPattern) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Precedence != b.Precedence {
			return a.Precedence > b.Precedence
		}
		if a.BaseConfidence != b.BaseConfidence {
			return a.BaseConfidence > b.BaseConfidence
		}
		return a.order < b.order
	})
}

func normalizeTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if n := NormalizeFieldName(t); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Version returns the ruleset version the library was built from
func (l *PatternLibrary) Version() string { return l.version }

// Hash returns the ruleset content hash, empty for builder-made rulesets
func (l *PatternLibrary) Hash() string { return l.hash }

// Pattern returns a pattern by ID
func (l *PatternLibrary) Pattern(id string) (*SensitivityPattern, bool) {
	p, ok := l.all[id]
	return p, ok
}

// PatternCount returns the number of compiled patterns
func (l *PatternLibrary) PatternCount() int { return len(l.all) }

// IsTechnical reports whether a normalized name is a purely technical token
func (l *PatternLibrary) IsTechnical(normalized string) bool {
	_, ok := l.nonPII[normalized]
	return ok
}

// LookupExact returns the exact-table candidates for a normalized name, best first
func (l *PatternLibrary) LookupExact(normalized string) []*SensitivityPattern {
	return l.exact[normalized]
}

// RegexPatterns returns regex patterns in declaration order
func (l *PatternLibrary) RegexPatterns() []*SensitivityPattern { return l.regex }

// Anchors returns the canonical names used by the fuzzy tier
func (l *PatternLibrary) Anchors() []*SensitivityPattern { return l.fuzzy }

// ContextKeywords returns the sibling-column keywords in lexical order
func (l *PatternLibrary) ContextKeywords() []string { return l.contextKeys }

// ContextPatterns returns the patterns a keyword points to
func (l *PatternLibrary) ContextPatterns(keyword string) []*SensitivityPattern {
	return l.context[keyword]
}

// Healthcare returns the normalized healthcare indicators
func (l *PatternLibrary) Healthcare() HealthcareIndicators { return l.healthcare }

// recordUsage bumps a pattern's counter; unknown IDs are ignored
func (l *PatternLibrary) recordUsage(id string) {
	if c, ok := l.usage[id]; ok {
		c.Add(1)
	}
}

// Usage returns a snapshot of per-pattern match counts, omitting unused patterns
func (l *PatternLibrary) Usage() map[string]int64 {
	out := make(map[string]int64)
	for id, c := range l.usage {
		if n := c.Load(); n > 0 {
			out[id] = n
		}
	}
	return out
}

// containsAnyToken reports whether name contains any token as a substring
func containsAnyToken(name string, tokens []string) (string, bool) {
	for _, t := range tokens {
		if t != "" && strings.Contains(name, t) {
			return t, true
		}
	}
	return "", false
}
