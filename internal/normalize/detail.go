package normalize

import (
	"encoding/json"

	"github.com/renzoku/gateway/internal/content"
	"github.com/renzoku/gateway/internal/searchutil"
)

type Genre struct {
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
	URL  string `json:"url,omitempty"`
}

type EpisodeLink struct {
	Number      string      `json:"number"`
	Title       string      `json:"title,omitempty"`
	ReleaseDate string      `json:"releaseDate,omitempty"`
	Ref         content.Ref `json:"ref"`
	Link        string      `json:"link"`
}

type Detail struct {
	Ref             content.Ref   `json:"ref"`
	Title           string        `json:"title"`
	JapaneseTitle   string        `json:"japaneseTitle,omitempty"`
	Poster          string        `json:"poster,omitempty"`
	Synopsis        string        `json:"synopsis,omitempty"`
	Status          string        `json:"status,omitempty"`
	Rating          string        `json:"rating,omitempty"`
	Type            string        `json:"type,omitempty"`
	Studio          string        `json:"studio,omitempty"`
	Duration        string        `json:"duration,omitempty"`
	ReleaseDate     string        `json:"releaseDate,omitempty"`
	EpisodeCount    string        `json:"episodeCount,omitempty"`
	Genres          []Genre       `json:"genres"`
	Episodes        []EpisodeLink `json:"episodes"`
	Recommendations []Card        `json:"recommendations"`
	BatchURL        string        `json:"batchUrl,omitempty"`
	// Fallback marks a detail synthesized from a home listing card.
	Fallback bool `json:"fallback,omitempty"`
}

// DetailFrom maps anime, donghua (info sub-object) and camelCase detail payloads.
func DetailFrom(data json.RawMessage, r content.Ref) Detail {
	root := asMap(decode(data))
	if root == nil {
		root = map[string]any{}
	}
	info := asMap(first(root, "info", "details", "anime"))

	pick := func(keys ...string) string {
		if v := str(root, keys...); v != "" {
			return v
		}
		return str(info, keys...)
	}
	pickAny := func(keys ...string) any {
		if v := first(root, keys...); v != nil {
			return v
		}
		return first(info, keys...)
	}

	d := Detail{
		Ref:           r,
		Title:         pick("title", "name", "english"),
		JapaneseTitle: pick("japanese_title", "japanese", "japaneseTitle", "alter_title", "alternative"),
		Poster:        pick("poster", "thumbnail", "image", "cover"),
		Synopsis:      text(pickAny("synopsis", "sinopsis", "description")),
		Status:        pick("status"),
		Rating:        pick("rating", "score", "score.value"),
		Type:          pick("type"),
		Studio:        pick("studio", "studios", "network"),
		Duration:      pick("duration"),
		ReleaseDate:   pick("release_date", "aired", "released", "releaseDate"),
		EpisodeCount:  pick("episode_count", "episodes", "total_episodes", "episodeCount"),
		Genres:        genres(pickAny("genres", "genreList", "genre")),
		Episodes:      episodeLinks(pickAny("episode_lists", "episodeList", "episodes_list", "episode_list"), r.Type),
		BatchURL:      pick("batch.otakudesu_url", "batch.url", "batch.href", "batch"),
	}
	d.Recommendations = cards(asSlice(pickAny("recommendations", "recommendedAnimeList", "related")), r.Type)
	return d
}

func genres(raw any) []Genre {
	out := make([]Genre, 0)
	switch value := raw.(type) {
	case string:
		for _, name := range genreNames(value) {
			out = append(out, Genre{Name: name})
		}
	case []any:
		for _, item := range value {
			if name, ok := toString(item); ok && name != "" {
				out = append(out, Genre{Name: name})
				continue
			}
			m := asMap(item)
			name := str(m, "name", "title")
			if name == "" {
				continue
			}
			out = append(out, Genre{
				Name: name,
				Slug: str(m, "slug", "genreId"),
				URL:  str(m, "otakudesu_url", "url", "href"),
			})
		}
	}
	return out
}

func episodeLinks(raw any, t content.Type) []EpisodeLink {
	items := asSlice(raw)
	out := make([]EpisodeLink, 0, len(items))
	for _, item := range items {
		m := asMap(item)
		r := ref(t, content.EpisodePage, str(m, "slug", "episodeId", "episode_slug", "otakudesu_url", "url", "href"))
		if r.IsZero() {
			continue
		}
		link := EpisodeLink{
			Number:      str(m, "episode_number", "episode", "eps", "number"),
			Title:       str(m, "title", "episode_title"),
			ReleaseDate: str(m, "date", "release_date", "releaseDate"),
			Ref:         r,
			Link:        content.EpisodeURL(r),
		}
		if match := episodeNumberPattern.FindStringSubmatch(link.Number + " " + link.Title); len(match) == 2 && !isNumber(link.Number) {
			link.Number = match[1]
		}
		out = append(out, link)
	}
	return out
}

// FindInHome locates the listing card for slug, trying strict matches before loose ones.
func FindInHome(home Home, slug string) (Card, bool) {
	all := home.All()
	slugs := make([]string, len(all))
	for i, card := range all {
		slugs[i] = card.Ref.Slug
	}
	if idx := searchutil.BestSlugMatch(slugs, slug); idx >= 0 {
		return all[idx], true
	}

	query := searchutil.Normalize(content.BaseSlug(slug))
	tokens := searchutil.TokenizeNormalized(query)
	for _, card := range all {
		if searchutil.MatchesQuery(card.Title, query, tokens) {
			return card, true
		}
	}
	return Card{}, false
}

// DetailFromCard builds the reduced detail shown when every detail endpoint failed.
func DetailFromCard(card Card) Detail {
	d := Detail{
		Ref:             card.Ref,
		Title:           card.Title,
		Poster:          card.Poster,
		Status:          card.Status,
		Rating:          card.Rating,
		Type:            card.Type,
		EpisodeCount:    card.Episode,
		ReleaseDate:     card.ReleaseDate,
		Genres:          make([]Genre, 0, len(card.Genres)),
		Episodes:        []EpisodeLink{},
		Recommendations: []Card{},
		Fallback:        true,
	}
	for _, name := range card.Genres {
		d.Genres = append(d.Genres, Genre{Name: name})
	}
	return d
}
