package upstream

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/renzoku/gateway/internal/content"
)

var ErrUnsupportedOperation = errors.New("upstream: unsupported operation")

const (
	placeholderSlug     = "{slug}"
	placeholderSlugBase = "{slug_base}"
	placeholderQuery    = "{query}"
)

// Table maps a content type and operation to its ordered URL templates.
type Table map[content.Type]map[content.Operation][]string

var defaultPaths = map[content.Type]map[content.Operation][]string{
	content.TypeAnime: {
		content.OpDetail: {
			"/anime/anime/{slug}",
			"/anime/detail/{slug}",
			"/anime/info/{slug}",
			"/anime/anime/{slug_base}-sub-indo",
			"/anime/anime/{slug_base}",
		},
		content.OpEpisode:   {"/anime/episode/{slug}"},
		content.OpSearch:    {"/anime/search/{query}"},
		content.OpHome:      {"/anime/home"},
		content.OpSchedule:  {"/anime/schedule"},
		content.OpUnlimited: {"/anime/unlimited"},
	},
	content.TypeDonghua: {
		content.OpDetail: {
			"/anime/donghua/detail/{slug}",
			"/donghua/detail/{slug}",
		},
		content.OpEpisode: {
			"/anime/donghua/episode/{slug}",
			"/anime/anichin/episode/{slug}",
		},
		content.OpSearch:    {"/anime/donghua/search/{query}"},
		content.OpHome:      {"/anime/donghua/home/1"},
		content.OpSchedule:  {"/anime/donghua/schedule"},
		content.OpUnlimited: {"/anime/donghua/az-list"},
	},
}

// DefaultTable emits every known path once per base URL, primary first.
func DefaultTable(primary string, mirrors ...string) Table {
	bases := make([]string, 0, len(mirrors)+1)
	for _, base := range append([]string{primary}, mirrors...) {
		base = strings.TrimRight(strings.TrimSpace(base), "/")
		if base != "" {
			bases = append(bases, base)
		}
	}

	table := make(Table, len(defaultPaths))
	for t, ops := range defaultPaths {
		table[t] = make(map[content.Operation][]string, len(ops))
		for op, paths := range ops {
			templates := make([]string, 0, len(paths)*len(bases))
			for _, base := range bases {
				for _, path := range paths {
					templates = append(templates, base+path)
				}
			}
			table[t][op] = templates
		}
	}
	return table
}

// Merge returns a copy of t where every pair present in override replaces the default.
func (t Table) Merge(override Table) Table {
	merged := make(Table, len(t))
	for typ, ops := range t {
		merged[typ] = make(map[content.Operation][]string, len(ops))
		for op, templates := range ops {
			merged[typ][op] = append([]string(nil), templates...)
		}
	}
	for typ, ops := range override {
		if merged[typ] == nil {
			merged[typ] = make(map[content.Operation][]string, len(ops))
		}
		for op, templates := range ops {
			merged[typ][op] = append([]string(nil), templates...)
		}
	}
	return merged
}

type Resolver struct {
	table Table
}

// NewResolver fails when a listed pair has no templates at all.
func NewResolver(table Table) (*Resolver, error) {
	if len(table) == 0 {
		return nil, fmt.Errorf("endpoint table is empty")
	}
	for typ, ops := range table {
		for op, templates := range ops {
			if len(templates) == 0 {
				return nil, fmt.Errorf("no endpoints configured for %s %s", typ, op)
			}
			for _, tmpl := range templates {
				if _, err := url.Parse(strings.NewReplacer(placeholderSlug, "x", placeholderSlugBase, "x", placeholderQuery, "x").Replace(tmpl)); err != nil {
					return nil, fmt.Errorf("invalid endpoint %q for %s %s: %w", tmpl, typ, op, err)
				}
			}
		}
	}
	return &Resolver{table: table}, nil
}

// Resolve returns the ordered candidate templates for the pair.
func (r *Resolver) Resolve(t content.Type, op content.Operation) ([]string, error) {
	templates := r.table[t][op]
	if len(templates) == 0 {
		return nil, fmt.Errorf("%s %s: %w", t, op, ErrUnsupportedOperation)
	}
	return append([]string(nil), templates...), nil
}

// Expand substitutes the placeholders and drops repeated URLs, keeping the first.
func Expand(templates []string, value string) []string {
	replacer := strings.NewReplacer(
		placeholderSlugBase, url.PathEscape(content.BaseSlug(value)),
		placeholderSlug, url.PathEscape(value),
		placeholderQuery, url.PathEscape(value),
	)

	seen := make(map[string]struct{}, len(templates))
	out := make([]string, 0, len(templates))
	for _, tmpl := range templates {
		expanded := replacer.Replace(tmpl)
		if _, ok := seen[expanded]; ok {
			continue
		}
		seen[expanded] = struct{}{}
		out = append(out, expanded)
	}
	return out
}
