package core

import (
	"fmt"
	"sort"
	"strings"
)

// Consolidate merges per-regulation results into one record per
// (schema, table, field). The kept record is the most confident one; its
// regulations become the union over the group. Output is sorted by key, so
// Consolidate is idempotent.
func Consolidate(results []FieldAnalysis) []FieldAnalysis {
	groups := make(map[FieldKey][]FieldAnalysis, len(results))
	for _, r := range results {
		key := r.FieldKey()
		groups[key] = append(groups[key], r)
	}

	keys := make([]FieldKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	out := make([]FieldAnalysis, 0, len(keys))
	for _, key := range keys {
		out = append(out, mergeGroup(groups[key]))
	}
	return out
}

func mergeGroup(group []FieldAnalysis) FieldAnalysis {
	best := group[0]
	regs := make([][]Regulation, 0, len(group))
	needsReview := false
	reviewed := false

	for _, r := range group {
		regs = append(regs, r.ApplicableRegulations)
		needsReview = needsReview || r.NeedsReview
		reviewed = reviewed || r.Reviewed
		if outranks(r, best) {
			best = r
		}
	}

	// A failure under another regulation stays visible on the kept record
	if !isFailed(best) {
		for _, r := range group {
			if isFailed(r) {
				best.Rationale += fmt.Sprintf("; %s under %s", r.Rationale, joinRegulations(r.ApplicableRegulations))
			}
		}
	}

	best.ApplicableRegulations = UnionRegulations(regs...)
	best.NeedsReview = needsReview
	best.Reviewed = reviewed
	best.MatchedPatternIDs = append([]string(nil), best.MatchedPatternIDs...)
	return best
}

func isFailed(f FieldAnalysis) bool {
	return strings.HasPrefix(f.Rationale, failedRationalePrefix)
}

func joinRegulations(regs []Regulation) string {
	names := make([]string, 0, len(regs))
	for _, r := range regs {
		names = append(names, string(r))
	}
	return strings.Join(names, ",")
}

// outranks orders candidates by confidence, sensitivity, method and first regulation
func outranks(a, b FieldAnalysis) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.IsSensitive != b.IsSensitive {
		return a.IsSensitive
	}
	if ra, rb := methodRank[a.DetectionMethod], methodRank[b.DetectionMethod]; ra != rb {
		return ra < rb
	}
	return firstRegulationRank(a) < firstRegulationRank(b)
}

func firstRegulationRank(f FieldAnalysis) int {
	best := len(regulationOrder)
	for _, r := range f.ApplicableRegulations {
		if rank, ok := regulationOrder[r]; ok && rank < best {
			best = rank
		}
	}
	return best
}

// Summary aggregates a consolidated result list
type Summary struct {
	TotalFields     int                `json:"total_fields"`
	SensitiveFields int                `json:"sensitive_fields"`
	NeedsReview     int                `json:"needs_review"`
	Reviewed        int                `json:"reviewed"`
	AutoClassified  int                `json:"auto_classified"`
	ByPIIType       map[PIIType]int    `json:"by_pii_type"`
	ByRisk          map[string]int     `json:"by_risk"`
	ByRegulation    map[Regulation]int `json:"by_regulation"`
	ByMethod        map[string]int     `json:"by_method"`
}

// Summarize counts fields per PII type, risk, regulation and method. Only sensitive fields count toward the per-type maps.
func Summarize(fields []FieldAnalysis) Summary {
	s := Summary{
		TotalFields:  len(fields),
		ByPIIType:    make(map[PIIType]int),
		ByRisk:       make(map[string]int),
		ByRegulation: make(map[Regulation]int),
		ByMethod:     make(map[string]int),
	}

	for _, f := range fields {
		s.ByMethod[string(f.DetectionMethod)]++
		if f.NeedsReview {
			s.NeedsReview++
		}
		if f.Reviewed {
			s.Reviewed++
		}
		if !f.IsSensitive {
			continue
		}
		s.SensitiveFields++
		if f.WasAutoClassified {
			s.AutoClassified++
		}
		s.ByPIIType[f.PIIType]++
		s.ByRisk[f.RiskLevel.String()]++
		for _, r := range f.ApplicableRegulations {
			s.ByRegulation[r]++
		}
	}
	return s
}
