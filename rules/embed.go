// Package rules ships the default classification ruleset.
package rules

import (
	_ "embed"
)

// DefaultRuleset is the versioned ruleset used when no ruleset_path is configured
//
//go:embed default_ruleset.yaml
var DefaultRuleset []byte
