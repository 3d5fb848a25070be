package normalize

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

type Provider struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type Resolution struct {
	Label     string     `json:"label"`
	Providers []Provider `json:"providers"`
}

// Downloads never holds nil slices once normalized.
type Downloads struct {
	MP4 []Resolution `json:"mp4"`
	MKV []Resolution `json:"mkv"`
}

func emptyDownloads() Downloads {
	return Downloads{MP4: []Resolution{}, MKV: []Resolution{}}
}

func (d Downloads) Empty() bool {
	return len(d.MP4) == 0 && len(d.MKV) == 0
}

var downloadContainers = []string{"download_urls", "downloads", "download", "download_url"}

const donghuaResolutionPrefix = "download_url_"

var resolutionDigits = regexp.MustCompile(`\d+`)

// parseDownloads finds the first download container that yields anything.
func parseDownloads(episode map[string]any) Downloads {
	for _, key := range downloadContainers {
		raw, ok := episode[key]
		if !ok || raw == nil {
			continue
		}
		if d := downloadsFrom(raw, 0); !d.Empty() {
			return d
		}
	}
	return emptyDownloads()
}

func downloadsFrom(raw any, depth int) Downloads {
	out := emptyDownloads()
	if depth > 3 {
		return out
	}

	switch value := raw.(type) {
	case []any:
		out.MP4 = resolutions(value)
		return out
	case map[string]any:
		if nested, ok := value["download"]; ok {
			if d := downloadsFrom(nested, depth+1); !d.Empty() {
				return d
			}
		}

		out.MP4 = resolutions(asSlice(firstKey(value, "mp4", "MP4", "mp4_urls", "MP4_URLS")))
		out.MKV = resolutions(asSlice(firstKey(value, "mkv", "MKV", "mkv_urls", "MKV_URLS")))
		if !out.Empty() {
			return out
		}

		out.MP4 = donghuaResolutions(value)
		if !out.Empty() {
			return out
		}

		return scanFormatKeys(value)
	default:
		return out
	}
}

func firstKey(m map[string]any, keys ...string) any {
	for _, key := range keys {
		if value, ok := m[key]; ok && value != nil {
			return value
		}
	}
	return nil
}

// scanFormatKeys handles containers with unconventional keys such as "mp4_720p_links".
func scanFormatKeys(m map[string]any) Downloads {
	out := emptyDownloads()
	keys := sortedKeys(m)
	for _, key := range keys {
		items := asSlice(m[key])
		if items == nil {
			continue
		}
		lower := strings.ToLower(key)
		switch {
		case strings.Contains(lower, "mp4"):
			out.MP4 = append(out.MP4, resolutions(items)...)
		case strings.Contains(lower, "mkv"):
			out.MKV = append(out.MKV, resolutions(items)...)
		}
	}
	return out
}

// donghuaResolutions reads download_url_<res>: {Mirrored: url, Terabox: url, ...}.
func donghuaResolutions(m map[string]any) []Resolution {
	type labelled struct {
		label string
		rank  int
		res   Resolution
	}

	found := make([]labelled, 0)
	for key, raw := range m {
		if !strings.HasPrefix(strings.ToLower(key), donghuaResolutionPrefix) {
			continue
		}
		label := key[len(donghuaResolutionPrefix):]
		providers := make([]Provider, 0)
		switch value := raw.(type) {
		case map[string]any:
			for _, name := range sortedKeys(value) {
				link, ok := toString(value[name])
				if !ok || link == "" {
					continue
				}
				providers = append(providers, Provider{Name: name, URL: link})
			}
		case []any:
			providers = providerList(value)
		case string:
			if link := strings.TrimSpace(value); link != "" {
				providers = append(providers, Provider{Name: ProviderName(link), URL: link})
			}
		}
		if len(providers) == 0 {
			continue
		}
		rank, _ := strconv.Atoi(resolutionDigits.FindString(label))
		found = append(found, labelled{label: label, rank: rank, res: Resolution{Label: label, Providers: providers}})
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].rank != found[j].rank {
			return found[i].rank < found[j].rank
		}
		return found[i].label < found[j].label
	})

	out := make([]Resolution, 0, len(found))
	for _, item := range found {
		out = append(out, item.res)
	}
	return out
}

func resolutions(items []any) []Resolution {
	out := make([]Resolution, 0, len(items))
	for _, item := range items {
		entry := asMap(item)
		if entry == nil {
			continue
		}
		label := str(entry, "resolution", "quality", "size", "title")
		if label == "" {
			label = "Unknown"
		}

		var providers []Provider
		switch links := firstKey(entry, "urls", "url", "links", "download_urls").(type) {
		case []any:
			providers = providerList(links)
		case string:
			if link := strings.TrimSpace(links); link != "" {
				providers = []Provider{{Name: ProviderName(link), URL: link}}
			}
		case map[string]any:
			providers = providerList([]any{links})
		}
		if providers == nil {
			providers = []Provider{}
		}
		out = append(out, Resolution{Label: label, Providers: providers})
	}
	return out
}

// providerList accepts bare URL strings and {url, provider} objects.
func providerList(items []any) []Provider {
	out := make([]Provider, 0, len(items))
	for _, item := range items {
		switch value := item.(type) {
		case string:
			if link := strings.TrimSpace(value); link != "" {
				out = append(out, Provider{Name: ProviderName(link), URL: link})
			}
		case map[string]any:
			link := str(value, "url", "link", "href")
			if link == "" {
				continue
			}
			name := str(value, "provider", "name", "title", "server")
			if name == "" {
				name = ProviderName(link)
			}
			out = append(out, Provider{Name: name, URL: link})
		}
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
