package schema

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/SamuelRCrider/piiscan/utils"
	"gopkg.in/yaml.v3"
)

// schemaFile is the on-disk shape. JSON files parse too, since JSON is valid YAML.
//
//	tables:
//	  customers:
//	    - name: email_address
//	      data_type: varchar(255)
type schemaFile struct {
	Tables map[string][]utils.ColumnDescriptor `yaml:"tables"`
}

// FileSource reads a YAML or JSON schema file
type FileSource struct {
	Path string
}

// NewFileSource creates a source for path
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Load reads and parses the file
func (s *FileSource) Load(_ context.Context) (utils.Schema, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return Parse(data)
}

// Parse decodes schema file content. Column names are trimmed; a column
// without a name is rejected with its table and position.
func Parse(data []byte) (utils.Schema, error) {
	var file schemaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse schema file: %w", err)
	}
	if len(file.Tables) == 0 {
		return nil, fmt.Errorf("schema file declares no tables")
	}

	out := make(utils.Schema, len(file.Tables))
	for table, columns := range file.Tables {
		cols := make([]utils.ColumnDescriptor, 0, len(columns))
		for i, col := range columns {
			col.Name = strings.TrimSpace(col.Name)
			if col.Name == "" {
				return nil, fmt.Errorf("table %s: column %d has no name", table, i+1)
			}
			cols = append(cols, col)
		}
		out[table] = cols
	}
	return out, nil
}
