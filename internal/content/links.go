package content

import "net/url"

// Links are the page navigation targets rendered next to a piece of content.
type Links struct {
	Detail  string `json:"detail,omitempty"`
	Episode string `json:"episode,omitempty"`
}

func DetailURL(ref Ref) string {
	return pageURL("detail.html", ref)
}

func EpisodeURL(ref Ref) string {
	return pageURL("episode.html", ref)
}

func SearchURL(query string) string {
	values := url.Values{}
	values.Set("q", query)
	return "search.html?" + values.Encode()
}

func pageURL(page string, ref Ref) string {
	if ref.IsZero() {
		return ""
	}
	out := page + "?slug=" + url.QueryEscape(ref.Slug)
	if ref.Type == TypeDonghua {
		out += "&type=" + string(TypeDonghua)
	}
	return out
}
