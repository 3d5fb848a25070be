package upstream

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	StatusSuccess         = "success"
	StatusSuccessFallback = "success (fallback)"
	StatusProtection      = "Plana AI Detector"
)

// Envelope is the outer JSON shape every upstream endpoint answers with.
type Envelope struct {
	Status        string          `json:"status"`
	Message       string          `json:"message,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	SearchResults json.RawMessage `json:"search_results,omitempty"`
}

// Payload is a successful upstream answer.
type Payload struct {
	Status   string          `json:"status"`
	Data     json.RawMessage `json:"data"`
	Endpoint string          `json:"endpoint"`
	ViaProxy bool            `json:"viaProxy"`
	Attempts []Attempt       `json:"attempts,omitempty"`
}

type verdict int

const (
	verdictInvalid verdict = iota
	verdictSuccess
	verdictProtection
)

// classifyBody decides what a 200 body means. The returned data is the
// data/search_results member for successes.
func classifyBody(body []byte) (verdict, Envelope) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return verdictInvalid, Envelope{}
	}

	if trimmed[0] != '{' {
		if looksLikeProtectionPage(trimmed) {
			return verdictProtection, Envelope{Status: StatusProtection}
		}
		return verdictInvalid, Envelope{}
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return verdictInvalid, Envelope{}
	}

	if isProtectionStatus(env.Status) {
		return verdictProtection, env
	}

	switch strings.TrimSpace(env.Status) {
	case StatusSuccess, StatusSuccessFallback:
		if present(env.Data) || present(env.SearchResults) {
			return verdictSuccess, env
		}
	case "":
		// older API version: bare {data: ...}
		if present(env.Data) {
			return verdictSuccess, env
		}
	}
	return verdictInvalid, env
}

func (e Envelope) payloadData() json.RawMessage {
	if present(e.Data) {
		return e.Data
	}
	return e.SearchResults
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func isProtectionStatus(status string) bool {
	status = strings.ToLower(strings.TrimSpace(status))
	return status != "" && strings.Contains(status, "ai detector")
}

// looksLikeProtectionPage catches the HTML variant of the detector, served by mirrors
// that sit behind the same protection layer.
func looksLikeProtectionPage(body []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	candidates := []string{
		doc.Find("title").First().Text(),
		doc.Find("h1").First().Text(),
		doc.Find("meta[name='robots-detector']").AttrOr("content", ""),
	}
	for _, text := range candidates {
		if isProtectionStatus(text) {
			return true
		}
	}
	return false
}
