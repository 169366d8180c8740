package core

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Regulation identifies the compliance regime governing a field
type Regulation string

const (
	// RegulationGDPR represents the EU General Data Protection Regulation
	RegulationGDPR Regulation = "GDPR"

	// RegulationHIPAA represents the US Health Insurance Portability and Accountability Act
	RegulationHIPAA Regulation = "HIPAA"

	// RegulationCCPA represents the California Consumer Privacy Act
	RegulationCCPA Regulation = "CCPA"
)

// regulationOrder is the canonical ordering used whenever regulation sets are rendered
var regulationOrder = map[Regulation]int{
	RegulationGDPR:  0,
	RegulationHIPAA: 1,
	RegulationCCPA:  2,
}

// ParseRegulation converts a case-insensitive name into a Regulation
func ParseRegulation(s string) (Regulation, error) {
	r := Regulation(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := regulationOrder[r]; !ok {
		return "", fmt.Errorf("unknown regulation %q", s)
	}
	return r, nil
}

// Valid reports whether r is a known regulation
func (r Regulation) Valid() bool {
	_, ok := regulationOrder[r]
	return ok
}

// UnmarshalYAML accepts regulation names in any case
func (r *Regulation) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseRegulation(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// UnionRegulations merges regulation sets, dropping duplicates and returning canonical order
func UnionRegulations(sets ...[]Regulation) []Regulation {
	seen := make(map[Regulation]struct{})
	for _, set := range sets {
		for _, r := range set {
			seen[r] = struct{}{}
		}
	}
	out := make([]Regulation, 0, len(seen))
	for _, r := range []Regulation{RegulationGDPR, RegulationHIPAA, RegulationCCPA} {
		if _, ok := seen[r]; ok {
			out = append(out, r)
		}
	}
	return out
}

func containsRegulation(set []Regulation, r Regulation) bool {
	for _, candidate := range set {
		if candidate == r {
			return true
		}
	}
	return false
}

// PIIType is the category of personal or health information a field carries
type PIIType string

const (
	PIIEmail     PIIType = "email"
	PIIPhone     PIIType = "phone"
	PIIName      PIIType = "name"
	PIIAddress   PIIType = "address"
	PIISSN       PIIType = "ssn"
	PIIMedical   PIIType = "medical"
	PIIFinancial PIIType = "financial"
	PIIID        PIIType = "id"
	PIIBiometric PIIType = "biometric"
	PIIDate      PIIType = "date"
	PIIOther     PIIType = "other"
	PIINone      PIIType = "none"
)

var knownPIITypes = map[PIIType]struct{}{
	PIIEmail: {}, PIIPhone: {}, PIIName: {}, PIIAddress: {}, PIISSN: {}, PIIMedical: {},
	PIIFinancial: {}, PIIID: {}, PIIBiometric: {}, PIIDate: {}, PIIOther: {}, PIINone: {},
}

// UnmarshalYAML rejects unknown PII types
func (p *PIIType) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incoming := PIIType(strings.ToLower(s))
	if _, ok := knownPIITypes[incoming]; !ok {
		return fmt.Errorf("invalid value for pii_type: %q", s)
	}
	*p = incoming
	return nil
}

// RiskLevel defines the severity bucket of a sensitive field
type RiskLevel int

const (
	// RiskNone is only valid for non-sensitive fields
	RiskNone RiskLevel = 0

	// RiskLow represents low risk findings
	RiskLow RiskLevel = 1

	// RiskMedium represents medium risk findings
	RiskMedium RiskLevel = 2

	// RiskHigh represents high risk findings
	RiskHigh RiskLevel = 3

	// RiskCritical represents critical risk findings
	RiskCritical RiskLevel = 4
)

var riskNames = map[RiskLevel]string{
	RiskNone:     "none",
	RiskLow:      "low",
	RiskMedium:   "medium",
	RiskHigh:     "high",
	RiskCritical: "critical",
}

// String returns the lowercase name of the risk level
func (r RiskLevel) String() string {
	if name, ok := riskNames[r]; ok {
		return name
	}
	return "unknown"
}

// ParseRiskLevel converts a risk name into a RiskLevel
func ParseRiskLevel(s string) (RiskLevel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for level, name := range riskNames {
		if name == s {
			return level, nil
		}
	}
	return RiskNone, fmt.Errorf("invalid value for risk: %q", s)
}

// MarshalText renders the risk level by name
func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses a risk level name
func (r *RiskLevel) UnmarshalText(text []byte) error {
	level, err := ParseRiskLevel(string(text))
	if err != nil {
		return err
	}
	*r = level
	return nil
}

// MatchKind selects which matcher tier a pattern belongs to
type MatchKind string

const (
	MatchExact   MatchKind = "exact"
	MatchRegex   MatchKind = "regex"
	MatchFuzzy   MatchKind = "fuzzy"
	MatchContext MatchKind = "context"
)

// DetectionMethod records how a classification was reached
type DetectionMethod string

const (
	MethodExactPattern    DetectionMethod = "exact_pattern"
	MethodRegexPattern    DetectionMethod = "regex_pattern"
	MethodFuzzyPattern    DetectionMethod = "fuzzy_pattern"
	MethodContextPattern  DetectionMethod = "context_pattern"
	MethodSecondaryReview DetectionMethod = "secondary_review"
	MethodNone            DetectionMethod = "none"
)

// methodRank orders detection methods from most to least direct
var methodRank = map[DetectionMethod]int{
	MethodExactPattern:    0,
	MethodRegexPattern:    1,
	MethodSecondaryReview: 2,
	MethodFuzzyPattern:    3,
	MethodContextPattern:  4,
	MethodNone:            5,
}

// Priority orders classification tasks for dispatch; lower runs first
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityMedium Priority = 2
	PriorityLow    Priority = 3
)

// ColumnMetadata identifies one field of a schema. It is an immutable value.
type ColumnMetadata struct {
	SchemaName string `json:"schema_name,omitempty"`
	TableName  string `json:"table_name"`
	ColumnName string `json:"column_name"`
	DataType   string `json:"data_type,omitempty"`
}

// Key returns the schema- and table-qualified field name
func (c ColumnMetadata) Key() string {
	return qualify(c.SchemaName, c.TableName, c.ColumnName)
}

// ClassificationTask is one (column, regulation) unit of work
type ClassificationTask struct {
	ID             string
	Column         ColumnMetadata
	SiblingColumns []string
	Regulation     Regulation
	Priority       Priority
}

// FieldAnalysis is the classification outcome for a single field
type FieldAnalysis struct {
	FieldName             string          `json:"field_name"`
	TableName             string          `json:"table_name"`
	SchemaName            string          `json:"schema_name,omitempty"`
	DataType              string          `json:"data_type,omitempty"`
	IsSensitive           bool            `json:"is_sensitive"`
	PIIType               PIIType         `json:"pii_type"`
	RiskLevel             RiskLevel       `json:"risk_level"`
	Confidence            float64         `json:"confidence"`
	ApplicableRegulations []Regulation    `json:"applicable_regulations"`
	DetectionMethod       DetectionMethod `json:"detection_method"`
	MatchedPatternIDs     []string        `json:"matched_pattern_ids,omitempty"`
	Rationale             string          `json:"rationale"`
	ProcessingTimeMs      float64         `json:"processing_time_ms"`
	NeedsReview           bool            `json:"needs_review"`
	WasAutoClassified     bool            `json:"was_auto_classified"`
	Reviewed              bool            `json:"reviewed,omitempty"`
}

// FieldKey identifies one field of a schema. Consolidation groups on it.
type FieldKey struct {
	Schema string
	Table  string
	Field  string
}

// Less orders keys by schema, then table, then field
func (k FieldKey) Less(other FieldKey) bool {
	if k.Schema != other.Schema {
		return k.Schema < other.Schema
	}
	if k.Table != other.Table {
		return k.Table < other.Table
	}
	return k.Field < other.Field
}

// FieldKey returns the identity of the analysed field
func (f FieldAnalysis) FieldKey() FieldKey {
	return FieldKey{Schema: f.SchemaName, Table: f.TableName, Field: f.FieldName}
}

// Key returns the display name "table.field", prefixed by the schema when there is one
func (f FieldAnalysis) Key() string {
	return qualify(f.SchemaName, f.TableName, f.FieldName)
}

func qualify(schema, table, field string) string {
	if schema == "" {
		return table + "." + field
	}
	return schema + "." + table + "." + field
}

// enforceInvariants clamps confidence and keeps sensitivity, risk and type consistent
func (f *FieldAnalysis) enforceInvariants(regulation Regulation) {
	f.Confidence = clamp01(f.Confidence)
	if !f.IsSensitive || f.PIIType == PIINone || f.RiskLevel == RiskNone {
		f.IsSensitive = false
		f.PIIType = PIINone
		f.RiskLevel = RiskNone
	}
	if len(f.ApplicableRegulations) == 0 && regulation != "" {
		f.ApplicableRegulations = []Regulation{regulation}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
