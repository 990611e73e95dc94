// Package schemasassets provides embedded JSON schemas and default rule sets
// for standalone binary behavior.
//
// Assets are embedded at compile time so the CLI and server work regardless
// of the working directory or installation location.
package schemasassets

import _ "embed"

// CleaningRulesSchema is the embedded cleaning-rules JSON schema.
//
//go:embed cleaning-rules.schema.json
var CleaningRulesSchema []byte

// DefaultRules is the built-in cleaning rule set in YAML form.
//
// It mirrors the column names and measure labels of the public air-quality
// datasets the service was built for.
//
//go:embed default-rules.yaml
var DefaultRules []byte
