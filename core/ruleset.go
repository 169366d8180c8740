package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RulesetMetadata contains information about the ruleset
type RulesetMetadata struct {
	// Version of the ruleset, required
	Version string `yaml:"version"`

	// Last modification time
	UpdatedAt time.Time `yaml:"updated_at,omitempty"`

	// Description of the ruleset
	Description string `yaml:"description,omitempty"`

	// Author of the ruleset
	Author string `yaml:"author,omitempty"`

	// Hash of the ruleset content for integrity verification
	Hash string `yaml:"hash,omitempty"`
}

// PatternRule is the declarative form of a SensitivityPattern
type PatternRule struct {
	// Unique identifier for the pattern
	ID string `yaml:"id"`

	// Matcher tier: exact, regex, fuzzy or context
	Kind MatchKind `yaml:"kind"`

	// Literal field name, anchored regex, fuzzy anchor name or context stem
	Value string `yaml:"value"`

	PIIType     PIIType      `yaml:"pii_type"`
	Risk        RiskLevel    `yaml:"risk"`
	Confidence  float64      `yaml:"confidence"`
	Regulations []Regulation `yaml:"regulations"`

	// Extra literal names expanded into the exact table
	Aliases []string `yaml:"aliases,omitempty"`

	// Explicit precedence for exact-key collisions; zero means untagged
	Precedence int `yaml:"precedence,omitempty"`

	Description string `yaml:"description,omitempty"`
}

// HealthcareIndicators drive the regulation context resolver
type HealthcareIndicators struct {
	// Tokens that mark a table as holding health data
	TableTokens []string `yaml:"table_tokens"`

	// Tokens that mark a column as health specific
	ColumnTokens []string `yaml:"column_tokens"`

	// Fraction of sibling columns with a healthcare token that flips the table to HIPAA
	SiblingFraction float64 `yaml:"sibling_fraction"`
}

// Ruleset is the versioned declarative source of every pattern
type Ruleset struct {
	Metadata RulesetMetadata `yaml:"metadata"`

	// Purely technical field names that are never sensitive
	NonPIITokens []string `yaml:"non_pii_tokens"`

	Healthcare HealthcareIndicators `yaml:"healthcare"`

	Patterns []PatternRule `yaml:"patterns"`

	// Sibling-column keyword to context pattern IDs
	ContextKeywords map[string][]string `yaml:"context_keywords,omitempty"`
}

// ParseRuleset unmarshals and validates a YAML ruleset
func ParseRuleset(data []byte) (*Ruleset, error) {
	var rs Ruleset
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, configError("failed to parse ruleset: %w", err)
	}

	if err := validateRuleset(&rs); err != nil {
		return nil, err
	}

	rs.Metadata.Hash = calculateRulesetHash(data)
	return &rs, nil
}

// LoadRuleset reads a YAML ruleset file
func LoadRuleset(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, configError("failed to read ruleset file: %w", err)
	}
	return ParseRuleset(data)
}

// SaveRuleset writes a ruleset to disk with its content hash
func SaveRuleset(rs *Ruleset, path string) error {
	rs.Metadata.Hash = ""
	data, err := yaml.Marshal(rs)
	if err != nil {
		return fmt.Errorf("failed to marshal ruleset: %w", err)
	}

	rs.Metadata.Hash = calculateRulesetHash(data)

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write ruleset file: %w", err)
	}
	return nil
}

// validateRuleset checks every rule; the first problem aborts the load
func validateRuleset(rs *Ruleset) error {
	if strings.TrimSpace(rs.Metadata.Version) == "" {
		return configError("ruleset has no metadata.version")
	}

	h := rs.Healthcare
	if h.SiblingFraction < 0 || h.SiblingFraction > 1 {
		return configError("healthcare.sibling_fraction %.2f outside [0,1]", h.SiblingFraction)
	}

	kinds := make(map[string]MatchKind, len(rs.Patterns))
	for i, rule := range rs.Patterns {
		if rule.ID == "" {
			return configError("pattern %d has no id", i)
		}
		if _, dup := kinds[rule.ID]; dup {
			return configError("duplicate pattern id %q", rule.ID)
		}
		kinds[rule.ID] = rule.Kind

		if strings.TrimSpace(rule.Value) == "" {
			return configError("pattern %q has no value", rule.ID)
		}
		if rule.Confidence < 0 || rule.Confidence > 1 {
			return configError("pattern %q confidence %.2f outside [0,1]", rule.ID, rule.Confidence)
		}
		if rule.PIIType == "" || rule.PIIType == PIINone {
			return configError("pattern %q must declare a sensitive pii_type", rule.ID)
		}
		if rule.Risk == RiskNone {
			return configError("pattern %q must declare a risk above none", rule.ID)
		}
		if len(rule.Regulations) == 0 {
			return configError("pattern %q has no regulations", rule.ID)
		}

		switch rule.Kind {
		case MatchExact, MatchFuzzy, MatchContext:
		case MatchRegex:
			if !strings.HasPrefix(rule.Value, "^") || !strings.HasSuffix(rule.Value, "$") {
				return configError("regex pattern %q must be anchored with ^...$", rule.ID)
			}
			if _, err := regexp.Compile(rule.Value); err != nil {
				return configError("regex pattern %q does not compile: %w", rule.ID, err)
			}
		default:
			return configError("pattern %q has unknown kind %q", rule.ID, rule.Kind)
		}
	}

	for keyword, ids := range rs.ContextKeywords {
		if strings.TrimSpace(keyword) == "" {
			return configError("empty context keyword")
		}
		for _, id := range ids {
			kind, ok := kinds[id]
			if !ok {
				return configError("context keyword %q references unknown pattern %q", keyword, id)
			}
			if kind != MatchContext {
				return configError("context keyword %q references %s pattern %q", keyword, kind, id)
			}
		}
	}

	return validateExactKeys(rs.Patterns)
}

// validateExactKeys rejects exact-key collisions with differing confidence unless precedence disambiguates
func validateExactKeys(rules []PatternRule) error {
	claimed := make(map[string]PatternRule)
	for _, rule := range rules {
		if rule.Kind != MatchExact {
			continue
		}
		for _, key := range exactKeys(rule) {
			prev, ok := claimed[key]
			if !ok {
				claimed[key] = rule
				continue
			}
			if prev.Confidence == rule.Confidence {
				continue
			}
			if prev.Precedence == 0 || rule.Precedence == 0 || prev.Precedence == rule.Precedence {
				return configError("exact key %q claimed by %q (%.2f) and %q (%.2f) without distinct precedence",
					key, prev.ID, prev.Confidence, rule.ID, rule.Confidence)
			}
		}
	}
	return nil
}

// exactKeys lists the normalized literal names a rule claims
func exactKeys(rule PatternRule) []string {
	keys := make([]string, 0, len(rule.Aliases)+1)
	seen := make(map[string]struct{})
	for _, raw := range append([]string{rule.Value}, rule.Aliases...) {
		key := NormalizeFieldName(raw)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

// calculateRulesetHash generates a hash of the ruleset content for integrity checking
func calculateRulesetHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
