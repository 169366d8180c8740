package utils

import "sort"

// ColumnDescriptor describes a single column as produced by a schema source
type ColumnDescriptor struct {
	// Column name as it appears in the source schema
	Name string `json:"name" yaml:"name"`

	// Declared data type (e.g. "varchar(255)", "timestamp")
	DataType string `json:"data_type" yaml:"data_type"`
}

// Schema maps a table name to its ordered columns. Schema names, when a
// source has them, are folded into the table key as "schema.table".
type Schema map[string][]ColumnDescriptor

// TableNames returns the table names in lexical order
func (s Schema) TableNames() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ColumnCount returns the total number of columns across all tables
func (s Schema) ColumnCount() int {
	total := 0
	for _, cols := range s {
		total += len(cols)
	}
	return total
}
