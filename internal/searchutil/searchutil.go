package searchutil

import (
	"strings"
)

var normalizeReplacer = strings.NewReplacer(
	"-", " ",
	".", " ",
	"_", " ",
	",", " ",
	":", " ",
	";", " ",
	"!", " ",
	"?", " ",
	"(", " ",
	")", " ",
	"[", " ",
	"]", " ",
	"'", " ",
	"\"", " ",
	"/", " ",
	"|", " ",
	"+", " ",
	"&", " ",
)

// languageSuffixes are the slug tails the upstream adds or drops between endpoints.
var languageSuffixes = []string{"-sub-indo", "-sub", "-dub"}

const minPartialTokenLen = 3

func Normalize(value string) string {
	clean := strings.ToLower(strings.TrimSpace(value))
	if clean == "" {
		return ""
	}
	clean = normalizeReplacer.Replace(clean)
	return strings.Join(strings.Fields(clean), " ")
}

func TokenizeNormalized(normalized string) []string {
	trimmed := strings.TrimSpace(normalized)
	if trimmed == "" {
		return nil
	}

	parts := strings.Fields(trimmed)
	tokens := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		if _, exists := seen[part]; exists {
			continue
		}
		seen[part] = struct{}{}
		tokens = append(tokens, part)
	}

	return tokens
}

// MatchesQuery reports whether candidate contains the whole query or every query token.
func MatchesQuery(candidate string, normalizedQuery string, queryTokens []string) bool {
	normalizedCandidate := Normalize(candidate)
	if normalizedCandidate == "" {
		return false
	}

	if normalizedQuery != "" && strings.Contains(normalizedCandidate, normalizedQuery) {
		return true
	}
	if len(queryTokens) == 0 {
		return false
	}

	for _, token := range queryTokens {
		if !strings.Contains(normalizedCandidate, token) {
			return false
		}
	}

	return true
}

func AnyCandidateMatches(candidates []string, normalizedQuery string, queryTokens []string) bool {
	for _, candidate := range candidates {
		if MatchesQuery(candidate, normalizedQuery, queryTokens) {
			return true
		}
	}
	return false
}

// slugStrategies run from strictest to loosest; the first one with any hit wins.
var slugStrategies = []func(candidate, slug string) bool{
	func(candidate, slug string) bool { return candidate == slug },
	func(candidate, slug string) bool { return strings.Contains(candidate, slug) },
	func(candidate, slug string) bool { return strings.Contains(slug, candidate) },
	func(candidate, slug string) bool {
		for _, suffix := range languageSuffixes {
			if strings.HasSuffix(slug, suffix) && candidate == strings.TrimSuffix(slug, suffix) {
				return true
			}
		}
		return false
	},
	func(candidate, slug string) bool {
		for _, part := range strings.Split(candidate, "-") {
			if len(part) >= minPartialTokenLen && strings.Contains(slug, part) {
				return true
			}
		}
		return false
	},
}

// BestSlugMatch returns the index of the candidate slug that best matches slug, or -1.
func BestSlugMatch(candidates []string, slug string) int {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return -1
	}
	for _, strategy := range slugStrategies {
		for i, candidate := range candidates {
			candidate = strings.ToLower(strings.TrimSpace(candidate))
			if candidate == "" {
				continue
			}
			if strategy(candidate, slug) {
				return i
			}
		}
	}
	return -1
}
