package content

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

var (
	ErrMissingSlug  = errors.New("missing slug")
	ErrMissingQuery = errors.New("missing search query")
)

// SlugOptions holds the page-specific suffix rules. The pages disagree on whether a
// trailing -sub-indo belongs to the slug, so the rule is chosen by the caller.
type SlugOptions struct {
	StripSubIndo       bool
	StripEpisodeSuffix bool
}

var (
	// DetailPage resolves an episode slug to its series slug.
	DetailPage = SlugOptions{StripEpisodeSuffix: true}
	// EpisodePage keeps the slug exactly as the upstream issued it.
	EpisodePage = SlugOptions{}
	// ExplorerPage matches the curated explorer ids, which never carry -sub-indo.
	ExplorerPage = SlugOptions{StripSubIndo: true}
)

const maxCleanPasses = 8

var (
	schemeHostPattern    = regexp.MustCompile(`^(?:[a-zA-Z][a-zA-Z0-9+.-]*:)?//[^/]*/?`)
	episodeSuffixPattern = regexp.MustCompile(`(?i)-episode-\d+.*$`)
)

var pathMarkers = map[Type][]string{
	TypeAnime: {
		"anime/anime/",
		"anime/detail/",
		"anime/info/",
		"anime/episode/",
		"anime/",
		"detail/",
		"episode/",
	},
	TypeDonghua: {
		"anime/donghua/detail/",
		"anime/donghua/episode/",
		"donghua/detail/",
		"donghua/episode/",
		"anichin/episode/",
		"anichin/detail/",
		"anichin/",
		"donghua/",
		"detail/",
		"episode/",
	},
}

// NormalizeSlug turns a bare slug, a full upstream URL or a partially cleaned value into
// the canonical slug. Applying it to its own output returns the same value.
func NormalizeSlug(raw string, t Type, opts SlugOptions) (string, error) {
	current := strings.TrimSpace(raw)
	if current == "" {
		return "", ErrMissingSlug
	}

	for i := 0; i < maxCleanPasses; i++ {
		next := cleanSlug(current, t, opts)
		if next == current {
			break
		}
		current = next
	}

	if current == "" {
		return "", ErrMissingSlug
	}
	return current, nil
}

func cleanSlug(value string, t Type, opts SlugOptions) string {
	value = strings.TrimSpace(value)
	if strings.Contains(value, "%") {
		if decoded, err := url.PathUnescape(value); err == nil {
			value = decoded
		}
	}

	value = schemeHostPattern.ReplaceAllString(value, "")
	if idx := strings.IndexAny(value, "?#"); idx >= 0 {
		value = value[:idx]
	}
	value = strings.TrimLeft(value, "/")
	value = stripBareHost(value)

	for stripped := true; stripped; {
		stripped = false
		lower := strings.ToLower(value)
		for _, marker := range pathMarkers[t] {
			if strings.HasPrefix(lower, marker) {
				value = value[len(marker):]
				stripped = true
				break
			}
		}
	}

	value = strings.TrimRight(value, "/")
	if idx := strings.LastIndex(value, "/"); idx >= 0 {
		value = value[idx+1:]
	}

	if opts.StripEpisodeSuffix {
		value = episodeSuffixPattern.ReplaceAllString(value, "")
	}
	if opts.StripSubIndo {
		value = strings.TrimSuffix(value, "-sub-indo")
	}

	return strings.TrimSpace(value)
}

// stripBareHost removes a leading "host.tld/" left over from a URL without scheme.
func stripBareHost(value string) string {
	idx := strings.Index(value, "/")
	if idx <= 0 {
		return value
	}
	if strings.Contains(value[:idx], ".") {
		return value[idx+1:]
	}
	return value
}

// BaseSlug drops the language suffixes the upstream sometimes appends to series slugs.
func BaseSlug(slug string) string {
	for _, suffix := range []string{"-sub-indo", "-sub", "-dub"} {
		if strings.HasSuffix(slug, suffix) {
			return strings.TrimSuffix(slug, suffix)
		}
	}
	return slug
}
