package load

import (
	"strings"

	"github.com/3leaps/airq/pkg/table"
)

const (
	cleanSuffix = "_clean.csv"
	csvExt      = ".csv"
)

var artifactSuffixes = map[table.Dataset]string{
	table.History:    "_history" + cleanSuffix,
	table.Measures:   "_measures" + cleanSuffix,
	table.Indicators: "_json" + cleanSuffix,
}

// BaseName strips a trailing "_clean.csv", or failing that ".csv", from an
// output location.
func BaseName(output string) string {
	if b, ok := strings.CutSuffix(output, cleanSuffix); ok {
		return b
	}
	if b, ok := strings.CutSuffix(output, csvExt); ok {
		return b
	}
	return output
}

// ArtifactPath returns where dataset d is written for the output location.
// The result is deterministic: the same output always yields the same path.
func ArtifactPath(output string, d table.Dataset) string {
	return BaseName(output) + artifactSuffixes[d]
}

// Artifacts holds the persisted location of each cleaned dataset.
type Artifacts struct {
	History    string `json:"history"`
	Measures   string `json:"measures"`
	Indicators string `json:"json"`
}

// ArtifactsFor derives all three artifact locations for output.
func ArtifactsFor(output string) Artifacts {
	return Artifacts{
		History:    ArtifactPath(output, table.History),
		Measures:   ArtifactPath(output, table.Measures),
		Indicators: ArtifactPath(output, table.Indicators),
	}
}

// Get returns the location of dataset d.
func (a Artifacts) Get(d table.Dataset) string {
	switch d {
	case table.History:
		return a.History
	case table.Measures:
		return a.Measures
	case table.Indicators:
		return a.Indicators
	}
	return ""
}

// List returns the locations in dataset order.
func (a Artifacts) List() []string {
	return []string{a.History, a.Measures, a.Indicators}
}
