package normalize

import (
	"encoding/json"
	"strings"

	"github.com/renzoku/gateway/internal/content"
)

// Card is one title in a listing: home, search, schedule, explorer or recommendations.
type Card struct {
	Title       string        `json:"title"`
	Poster      string        `json:"poster,omitempty"`
	Ref         content.Ref   `json:"ref"`
	Status      string        `json:"status,omitempty"`
	Rating      string        `json:"rating,omitempty"`
	Type        string        `json:"type,omitempty"`
	Episode     string        `json:"episode,omitempty"`
	ReleaseDay  string        `json:"releaseDay,omitempty"`
	ReleaseDate string        `json:"releaseDate,omitempty"`
	Genres      []string      `json:"genres,omitempty"`
	Group       string        `json:"group,omitempty"`
	Links       content.Links `json:"links"`
}

type Home struct {
	Ongoing   []Card `json:"ongoing"`
	Completed []Card `json:"completed"`
}

// All returns ongoing titles followed by completed ones.
func (h Home) All() []Card {
	out := make([]Card, 0, len(h.Ongoing)+len(h.Completed))
	out = append(out, h.Ongoing...)
	return append(out, h.Completed...)
}

type ScheduleDay struct {
	Day   string `json:"day"`
	Anime []Card `json:"anime"`
}

func cardFrom(item map[string]any, t content.Type) (Card, bool) {
	if item == nil {
		return Card{}, false
	}
	card := Card{
		Title:       str(item, "title", "anime_name", "name", "english_title"),
		Poster:      str(item, "poster", "thumbnail", "image", "poster_url", "cover"),
		Status:      str(item, "status"),
		Rating:      str(item, "rating", "score", "score.value"),
		Type:        str(item, "type"),
		Episode:     str(item, "current_episode", "episode", "episodes", "episode_count", "latest_episode", "eps"),
		ReleaseDay:  str(item, "release_day", "releaseDay", "day"),
		ReleaseDate: str(item, "newest_release_date", "last_release_date", "latestReleaseDate", "release_date", "releasedOn"),
		Genres:      genreNames(first(item, "genres", "genreList", "genre")),
	}
	card.Ref = ref(t, content.EpisodePage, str(item, "slug", "animeId", "anime_slug", "otakudesu_url", "url", "href", "link"))
	if card.Ref.IsZero() {
		return Card{}, false
	}
	if card.Title == "" {
		card.Title = card.Ref.Slug
	}
	card.Links = content.Links{Detail: content.DetailURL(card.Ref)}
	return card, true
}

func cards(items []any, t content.Type) []Card {
	out := make([]Card, 0, len(items))
	for _, item := range items {
		if card, ok := cardFrom(asMap(item), t); ok {
			out = append(out, card)
		}
	}
	return out
}

func genreNames(raw any) []string {
	switch value := raw.(type) {
	case string:
		names := make([]string, 0)
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				names = append(names, part)
			}
		}
		return names
	case []any:
		names := make([]string, 0, len(value))
		for _, item := range value {
			if s, ok := toString(item); ok && s != "" {
				names = append(names, s)
				continue
			}
			if name := str(asMap(item), "name", "title"); name != "" {
				names = append(names, name)
			}
		}
		return names
	default:
		return nil
	}
}

// listFrom finds the card list inside data, which may be the list itself or wrap it.
func listFrom(data any, paths ...string) []any {
	if list := asSlice(data); list != nil {
		return list
	}
	m := asMap(data)
	for _, path := range paths {
		if list := asSlice(getByPath(m, path)); list != nil {
			return list
		}
	}
	return nil
}

func SearchFrom(data json.RawMessage, t content.Type) []Card {
	return cards(listFrom(decode(data), "anime", "animeList", "search_results", "results", "list", "data"), t)
}

func HomeFrom(data json.RawMessage, t content.Type) Home {
	m := asMap(decode(data))
	return Home{
		Ongoing: cards(listFrom(m,
			"ongoing_anime", "ongoing.animeList", "ongoing", "ongoing_series", "latest_release"), t),
		Completed: cards(listFrom(m,
			"complete_anime", "completed_anime", "completed.animeList", "completed", "completed_series"), t),
	}
}

func ScheduleFrom(data json.RawMessage, t content.Type) []ScheduleDay {
	days := listFrom(decode(data), "schedule", "days", "list")
	out := make([]ScheduleDay, 0, len(days))
	for _, raw := range days {
		day := asMap(raw)
		name := str(day, "day", "title", "name")
		if name == "" {
			continue
		}
		out = append(out, ScheduleDay{
			Day:   name,
			Anime: cards(listFrom(day, "anime_list", "animeList", "list", "anime"), t),
		})
	}
	return out
}

// UnlimitedFrom flattens the A-Z explorer list; each card keeps its letter as Group.
func UnlimitedFrom(data json.RawMessage, t content.Type) []Card {
	decoded := decode(data)
	groups := listFrom(decoded, "list", "anime_list")
	out := make([]Card, 0)
	for _, raw := range groups {
		group := asMap(raw)
		letter := str(group, "startWith", "start_with", "letter")
		items := listFrom(group, "animeList", "anime_list", "list")
		if items == nil {
			// flat list without letter groups
			if card, ok := cardFrom(group, t); ok {
				out = append(out, card)
			}
			continue
		}
		for _, card := range cards(items, t) {
			card.Group = letter
			out = append(out, card)
		}
	}
	return out
}
