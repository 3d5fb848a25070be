package normalize

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/renzoku/gateway/internal/content"
)

type StreamServer struct {
	Quality  string `json:"quality,omitempty"`
	Name     string `json:"name,omitempty"`
	ServerID string `json:"serverId,omitempty"`
	URL      string `json:"url,omitempty"`
}

type Episode struct {
	Title            string         `json:"title"`
	EpisodeNumber    string         `json:"episodeNumber,omitempty"`
	AnimeTitle       string         `json:"animeTitle,omitempty"`
	StreamURL        string         `json:"streamUrl,omitempty"`
	StreamingServers []StreamServer `json:"streamingServers"`
	Downloads        Downloads      `json:"downloads"`
	Anime            content.Ref    `json:"anime"`
	Prev             *content.Ref   `json:"prev,omitempty"`
	Next             *content.Ref   `json:"next,omitempty"`
	Links            EpisodeLinks   `json:"links"`
}

type EpisodeLinks struct {
	Anime string `json:"anime,omitempty"`
	Prev  string `json:"prev,omitempty"`
	Next  string `json:"next,omitempty"`
}

var streamURLKeys = []string{
	"stream_url",
	"video_url",
	"video_stream",
	"player_url",
	"iframe_url",
	"embed_url",
	"video",
	"stream",
	"player",
	"defaultStreamingUrl",
	"streamingUrl",
}

var episodeNumberPattern = regexp.MustCompile(`(?i)episode\s*(\d+(?:\.\d+)?)`)

// EpisodeFrom maps any known episode payload shape to Episode.
func EpisodeFrom(data json.RawMessage, t content.Type) Episode {
	m := asMap(decode(data))
	if m == nil {
		m = map[string]any{}
	}

	ep := Episode{
		Title:      str(m, "title", "episode", "episodeTitle", "name"),
		AnimeTitle: str(m, "anime_title", "anime.title", "animeTitle", "series.title"),
		StreamURL:  str(m, streamURLKeys...),
		Downloads:  parseDownloads(m),
	}

	ep.EpisodeNumber = str(m, "episode_number", "episodeNumber", "number")
	if ep.EpisodeNumber == "" {
		if match := episodeNumberPattern.FindStringSubmatch(ep.Title); len(match) == 2 {
			ep.EpisodeNumber = match[1]
		}
	}

	ep.StreamingServers = streamServers(m)
	if ep.StreamURL == "" && len(ep.StreamingServers) > 0 {
		ep.StreamURL = ep.StreamingServers[0].URL
	}

	ep.Anime = ref(t, content.EpisodePage, str(m, "anime.slug", "anime_slug", "animeId", "series.slug", "anime.animeId", "anime.otakudesu_url"))
	ep.Prev = optionalRef(t, m,
		[]string{"has_previous_episode", "hasPrevEpisode"},
		"previous_episode.slug", "prev_episode_slug", "prevEpisode.episodeId", "prev_episode.slug", "navigation.prev.slug")
	ep.Next = optionalRef(t, m,
		[]string{"has_next_episode", "hasNextEpisode"},
		"next_episode.slug", "next_episode_slug", "nextEpisode.episodeId", "navigation.next.slug")

	if !ep.Anime.IsZero() {
		ep.Links.Anime = content.DetailURL(ep.Anime)
	}
	if ep.Prev != nil {
		ep.Links.Prev = content.EpisodeURL(*ep.Prev)
	}
	if ep.Next != nil {
		ep.Links.Next = content.EpisodeURL(*ep.Next)
	}

	return ep
}

func ref(t content.Type, opts content.SlugOptions, raw string) content.Ref {
	slug, err := content.NormalizeSlug(raw, t, opts)
	if err != nil {
		return content.Ref{}
	}
	return content.Ref{Type: t, Slug: slug}
}

// optionalRef honours an explicit has_* flag set to false even if a slug is present.
func optionalRef(t content.Type, m map[string]any, flags []string, paths ...string) *content.Ref {
	for _, flag := range flags {
		if value, ok := m[flag]; ok && !truthy(value) {
			return nil
		}
	}
	r := ref(t, content.EpisodePage, str(m, paths...))
	if r.IsZero() {
		return nil
	}
	return &r
}

func streamServers(m map[string]any) []StreamServer {
	out := make([]StreamServer, 0)

	for _, key := range []string{"streaming_servers", "stream_servers", "servers", "mirrors"} {
		for _, item := range asSlice(m[key]) {
			if server, ok := streamServer(asMap(item), ""); ok {
				out = append(out, server)
			}
		}
		if len(out) > 0 {
			return out
		}
	}

	// v2: server.qualities[].serverList[]
	for _, quality := range asSlice(getByPath(m, "server.qualities")) {
		qm := asMap(quality)
		label := str(qm, "title", "quality", "name")
		for _, item := range asSlice(first(qm, "serverList", "server_list", "servers")) {
			if server, ok := streamServer(asMap(item), label); ok {
				out = append(out, server)
			}
		}
	}
	return out
}

func streamServer(item map[string]any, quality string) (StreamServer, bool) {
	if item == nil {
		return StreamServer{}, false
	}
	server := StreamServer{
		Quality:  str(item, "quality", "resolution"),
		Name:     str(item, "name", "server", "title", "provider"),
		ServerID: str(item, "serverId", "server_id", "id"),
		URL:      str(item, "url", "href", "link", "stream_url", "embed_url"),
	}
	if server.Quality == "" {
		server.Quality = quality
	}
	if server.URL == "" && server.ServerID == "" {
		return StreamServer{}, false
	}
	server.Name = strings.TrimSpace(server.Name)
	return server, true
}
