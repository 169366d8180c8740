package core

import "fmt"

// RegulationContextResolver decides from table context whether a field falls under HIPAA
type RegulationContextResolver struct {
	tableTokens     []string
	columnTokens    []string
	siblingTokens   []string
	siblingFraction float64
}

// Resolution explains which rule of the resolver fired
type Resolution struct {
	Regulation Regulation
	Reason     string
}

// NewRegulationContextResolver builds a resolver from the library's healthcare indicators
func NewRegulationContextResolver(lib *PatternLibrary) *RegulationContextResolver {
	h := lib.Healthcare()
	siblings := make([]string, 0, len(h.ColumnTokens)+len(h.TableTokens))
	siblings = append(siblings, h.ColumnTokens...)
	siblings = append(siblings, h.TableTokens...)

	return &RegulationContextResolver{
		tableTokens:     h.TableTokens,
		columnTokens:    h.ColumnTokens,
		siblingTokens:   siblings,
		siblingFraction: h.SiblingFraction,
	}
}

// Resolve returns HIPAA or GDPR for a column. It is pure and never infers CCPA.
func (r *RegulationContextResolver) Resolve(column ColumnMetadata, siblingColumns []string) Regulation {
	return r.Explain(column, siblingColumns).Regulation
}

// IsHealthcareTable reports whether the table name alone implies HIPAA
func (r *RegulationContextResolver) IsHealthcareTable(table string) bool {
	_, ok := containsAnyToken(NormalizeFieldName(table), r.tableTokens)
	return ok
}

// Explain is Resolve with the reason attached
func (r *RegulationContextResolver) Explain(column ColumnMetadata, siblingColumns []string) Resolution {
	table := NormalizeFieldName(column.TableName)
	if token, ok := containsAnyToken(table, r.tableTokens); ok {
		return Resolution{RegulationHIPAA, fmt.Sprintf("table name contains healthcare token %q", token)}
	}

	name := NormalizeFieldName(column.ColumnName)
	if token, ok := containsAnyToken(name, r.columnTokens); ok {
		return Resolution{RegulationHIPAA, fmt.Sprintf("column name contains healthcare token %q", token)}
	}

	if len(siblingColumns) > 0 {
		hits := 0
		for _, sibling := range siblingColumns {
			if _, ok := containsAnyToken(NormalizeFieldName(sibling), r.siblingTokens); ok {
				hits++
			}
		}
		fraction := float64(hits) / float64(len(siblingColumns))
		if r.siblingFraction > 0 && fraction >= r.siblingFraction {
			return Resolution{RegulationHIPAA, fmt.Sprintf("%.0f%% of sibling columns carry healthcare tokens", fraction*100)}
		}
	}

	return Resolution{RegulationGDPR, "no healthcare context"}
}
