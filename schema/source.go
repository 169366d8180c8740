// Package schema produces the table and column shape that piiscan classifies.
package schema

import (
	"context"

	"github.com/SamuelRCrider/piiscan/utils"
)

// Source produces a schema from a file, a database or any other origin
type Source interface {
	Load(ctx context.Context) (utils.Schema, error)
}
