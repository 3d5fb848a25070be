package normalize

import (
	"net/url"
	"strings"
)

const fallbackProviderName = "Download"

var providerTable = []struct {
	match string
	name  string
}{
	{"odfiles", "ODFiles"},
	{"pdrain", "Pdrain"},
	{"acefile", "Acefile"},
	{"gofile", "GoFile"},
	{"mega", "Mega"},
	{"kfiles", "KFiles"},
	{"mediafire", "MediaFire"},
	{"zippyshare", "ZippyShare"},
	{"drive.google", "Google Drive"},
	{"dropbox", "Dropbox"},
	{"terabox", "Terabox"},
	{"pixeldrain", "Pixeldrain"},
}

// ProviderName derives a display name for a download link from its host.
func ProviderName(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return fallbackProviderName
	}
	if !strings.Contains(trimmed, "://") && !strings.HasPrefix(trimmed, "//") {
		trimmed = "https://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return fallbackProviderName
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" || !strings.Contains(host, ".") {
		return fallbackProviderName
	}

	for _, entry := range providerTable {
		if strings.Contains(host, entry.match) {
			return entry.name
		}
	}

	label, _, _ := strings.Cut(strings.TrimPrefix(host, "www."), ".")
	if label == "" {
		return fallbackProviderName
	}
	return label
}
