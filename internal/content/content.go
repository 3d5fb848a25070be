package content

import (
	"fmt"
	"net/url"
	"strings"
)

type Type string

const (
	TypeAnime   Type = "anime"
	TypeDonghua Type = "donghua"
)

// Types lists every supported content type in display order.
var Types = []Type{TypeAnime, TypeDonghua}

// ParseType maps the page's type parameter. Anything that is not donghua is anime.
func ParseType(raw string) Type {
	if strings.EqualFold(strings.TrimSpace(raw), string(TypeDonghua)) {
		return TypeDonghua
	}
	return TypeAnime
}

type Operation string

const (
	OpDetail    Operation = "detail"
	OpEpisode   Operation = "episode"
	OpSearch    Operation = "search"
	OpHome      Operation = "home"
	OpSchedule  Operation = "schedule"
	OpUnlimited Operation = "unlimited"
)

// Operations lists every operation the resolver must support for each content type.
var Operations = []Operation{OpDetail, OpEpisode, OpSearch, OpHome, OpSchedule, OpUnlimited}

func ParseOperation(raw string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Operations {
		if op == known {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operation %q", raw)
}

// Ref identifies one piece of content. Slug is always canonical: no scheme, host, path
// prefix or trailing slash.
type Ref struct {
	Type Type   `json:"type"`
	Slug string `json:"slug"`
}

func (r Ref) IsZero() bool {
	return r.Slug == ""
}

// Key is the cache and coalescing key for the ref.
func (r Ref) Key() string {
	return string(r.Type) + ":" + r.Slug
}

// RefFromQuery reads slug and type from page query parameters.
func RefFromQuery(values url.Values, opts SlugOptions) (Ref, error) {
	t := ParseType(values.Get("type"))
	slug, err := NormalizeSlug(values.Get("slug"), t, opts)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Type: t, Slug: slug}, nil
}
