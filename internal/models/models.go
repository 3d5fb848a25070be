package models

import "time"

// FetchLogEntry is one terminal outcome of a pipeline operation.
type FetchLogEntry struct {
	ID          int64     `json:"id"`
	Operation   string    `json:"operation"`
	ContentType string    `json:"contentType"`
	Slug        string    `json:"slug,omitempty"`
	Outcome     string    `json:"outcome"`
	Endpoint    string    `json:"endpoint,omitempty"`
	Attempts    int       `json:"attempts"`
	ViaProxy    bool      `json:"viaProxy"`
	DurationMS  int64     `json:"durationMs"`
	CreatedAt   time.Time `json:"createdAt"`
}

type OutcomeCount struct {
	Outcome string `json:"outcome"`
	Count   int    `json:"count"`
}
