package core

import (
	"time"
)

// RulesetBuilder provides a fluent interface for creating rulesets
type RulesetBuilder struct {
	ruleset *Ruleset
}

// NewRulesetBuilder creates a new ruleset builder
func NewRulesetBuilder() *RulesetBuilder {
	return &RulesetBuilder{
		ruleset: &Ruleset{
			Metadata: RulesetMetadata{
				UpdatedAt: time.Now(),
			},
			Patterns:        []PatternRule{},
			ContextKeywords: map[string][]string{},
			Healthcare: HealthcareIndicators{
				SiblingFraction: 0.20,
			},
		},
	}
}

// WithMetadata sets the ruleset metadata
func (b *RulesetBuilder) WithMetadata(version, description, author string) *RulesetBuilder {
	b.ruleset.Metadata.Version = version
	b.ruleset.Metadata.Description = description
	b.ruleset.Metadata.Author = author
	return b
}

// WithNonPIITokens marks technical field names that are never sensitive
func (b *RulesetBuilder) WithNonPIITokens(tokens ...string) *RulesetBuilder {
	b.ruleset.NonPIITokens = append(b.ruleset.NonPIITokens, tokens...)
	return b
}

// WithHealthcare sets the tokens used by the regulation resolver
func (b *RulesetBuilder) WithHealthcare(tableTokens, columnTokens []string, siblingFraction float64) *RulesetBuilder {
	b.ruleset.Healthcare = HealthcareIndicators{
		TableTokens:     tableTokens,
		ColumnTokens:    columnTokens,
		SiblingFraction: siblingFraction,
	}
	return b
}

// AddPattern adds a pattern of any kind to the ruleset
func (b *RulesetBuilder) AddPattern(id string, kind MatchKind, value string, piiType PIIType, risk RiskLevel, confidence float64) *RulesetBuilder {
	rule := PatternRule{
		ID:          id,
		Kind:        kind,
		Value:       value,
		PIIType:     piiType,
		Risk:        risk,
		Confidence:  confidence,
		Regulations: []Regulation{RegulationGDPR, RegulationHIPAA, RegulationCCPA},
	}
	b.ruleset.Patterns = append(b.ruleset.Patterns, rule)
	return b
}

// AddExact adds an exact field name pattern
func (b *RulesetBuilder) AddExact(id, name string, piiType PIIType, risk RiskLevel, confidence float64) *RulesetBuilder {
	return b.AddPattern(id, MatchExact, name, piiType, risk, confidence)
}

// AddRegex adds an anchored regular expression pattern
func (b *RulesetBuilder) AddRegex(id, expr string, piiType PIIType, risk RiskLevel, confidence float64) *RulesetBuilder {
	return b.AddPattern(id, MatchRegex, expr, piiType, risk, confidence)
}

// AddContextKeyword links a sibling-column keyword to context patterns
func (b *RulesetBuilder) AddContextKeyword(keyword string, patternIDs ...string) *RulesetBuilder {
	b.ruleset.ContextKeywords[keyword] = append(b.ruleset.ContextKeywords[keyword], patternIDs...)
	return b
}

// ConfigureLastPattern configures additional properties for the last added pattern
func (b *RulesetBuilder) ConfigureLastPattern() *PatternConfigurator {
	if len(b.ruleset.Patterns) == 0 {
		b.ruleset.Patterns = append(b.ruleset.Patterns, PatternRule{})
	}

	return &PatternConfigurator{
		builder: b,
		rule:    &b.ruleset.Patterns[len(b.ruleset.Patterns)-1],
	}
}

// Build validates and returns the final ruleset
func (b *RulesetBuilder) Build() (*Ruleset, error) {
	b.ruleset.Metadata.UpdatedAt = time.Now()
	if err := validateRuleset(b.ruleset); err != nil {
		return nil, err
	}
	return b.ruleset, nil
}

// PatternConfigurator provides methods to configure a pattern
type PatternConfigurator struct {
	builder *RulesetBuilder
	rule    *PatternRule
}

// WithDescription sets the description for the pattern
func (c *PatternConfigurator) WithDescription(description string) *PatternConfigurator {
	c.rule.Description = description
	return c
}

// WithAliases adds literal names that resolve to the same pattern
func (c *PatternConfigurator) WithAliases(aliases ...string) *PatternConfigurator {
	c.rule.Aliases = append(c.rule.Aliases, aliases...)
	return c
}

// WithPrecedence tags the pattern for exact-key collisions; higher wins
func (c *PatternConfigurator) WithPrecedence(precedence int) *PatternConfigurator {
	c.rule.Precedence = precedence
	return c
}

// WithRegulations restricts the regulations the pattern applies to
func (c *PatternConfigurator) WithRegulations(regulations ...Regulation) *PatternConfigurator {
	c.rule.Regulations = regulations
	return c
}

// Done returns to the ruleset builder
func (c *PatternConfigurator) Done() *RulesetBuilder {
	return c.builder
}
