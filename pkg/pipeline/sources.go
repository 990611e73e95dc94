package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/airq/pkg/extract"
	"github.com/3leaps/airq/pkg/manifest"
	"github.com/3leaps/airq/pkg/provider"
	"github.com/3leaps/airq/pkg/storage"
	"github.com/3leaps/airq/pkg/table"
)

// Locations names the three inputs of a run as paths or URIs.
type Locations struct {
	History    string `json:"history"`
	Measures   string `json:"measures"`
	Indicators string `json:"json"`
}

func (l Locations) get(d table.Dataset) string {
	switch d {
	case table.History:
		return l.History
	case table.Measures:
		return l.Measures
	default:
		return l.Indicators
	}
}

func (l *Locations) set(d table.Dataset, v string) {
	switch d {
	case table.History:
		l.History = v
	case table.Measures:
		l.Measures = v
	default:
		l.Indicators = v
	}
}

// Sources resolves locations to extraction sources. Unparseable or
// unreachable locations fail as not-found extraction errors.
func (p *Pipeline) Sources(ctx context.Context, locs Locations) (extract.Sources, error) {
	var out extract.Sources
	built := make([]extract.Source, 0, len(table.Datasets))
	for _, d := range table.Datasets {
		raw := locs.get(d)
		if strings.TrimSpace(raw) == "" {
			return out, &extract.ExtractionError{Dataset: d, Kind: extract.KindNotFound, Err: fmt.Errorf("no location given")}
		}
		loc, err := storage.ParseLocation(raw)
		if err != nil {
			return out, &extract.ExtractionError{Dataset: d, Source: raw, Kind: extract.KindNotFound, Err: err}
		}
		if !loc.IsRemote() {
			built = append(built, extract.FileSource(d, loc.Path))
			continue
		}
		st, key, err := p.resolver.Object(ctx, loc)
		if err != nil {
			return out, &extract.ExtractionError{Dataset: d, Source: raw, Kind: extract.KindNotFound, Err: err}
		}
		built = append(built, extract.ObjectSource(d, st, key, raw))
	}
	out.History, out.Measures, out.Indicators = built[0], built[1], built[2]
	return out, nil
}

// Discover finds one source per dataset under dir using the discovery globs.
// Previously written artifacts (names ending in _clean.csv) are ignored.
func (p *Pipeline) Discover(ctx context.Context, dir string) (Locations, error) {
	root, err := storage.ParseLocation(dir)
	if err != nil {
		return Locations{}, err
	}
	st, prefix, err := p.resolver.Root(ctx, root)
	if err != nil {
		return Locations{}, err
	}

	keys, err := provider.Keys(ctx, st, prefix)
	if err != nil {
		return Locations{}, err
	}

	var locs Locations
	for _, d := range table.Datasets {
		pattern := discoveryPattern(p.rules.Discovery, d)
		var matches []string
		for _, k := range keys {
			rel := strings.TrimPrefix(k, prefix)
			if strings.HasSuffix(rel, "_clean.csv") {
				continue
			}
			ok, err := doublestar.Match(pattern, rel)
			if err != nil {
				return Locations{}, fmt.Errorf("discovery pattern %q: %w", pattern, err)
			}
			if ok {
				matches = append(matches, rel)
			}
		}
		switch len(matches) {
		case 0:
			return Locations{}, &extract.ExtractionError{Dataset: d, Source: dir, Kind: extract.KindNotFound,
				Err: fmt.Errorf("no file matches %q", pattern)}
		case 1:
			locs.set(d, root.Join(matches[0]).String())
		default:
			return Locations{}, fmt.Errorf("%s: %d files match %q: %s", d, len(matches), pattern, strings.Join(matches, ", "))
		}
	}
	return locs, nil
}

func discoveryPattern(r manifest.DiscoveryRules, d table.Dataset) string {
	switch d {
	case table.History:
		return r.History
	case table.Measures:
		return r.Measures
	default:
		return r.Indicators
	}
}

// MatchesDiscovery reports whether name fits the discovery glob for d.
func (p *Pipeline) MatchesDiscovery(d table.Dataset, name string) bool {
	ok, err := doublestar.Match(discoveryPattern(p.rules.Discovery, d), name)
	return err == nil && ok
}
