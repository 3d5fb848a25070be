package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/renzoku/gateway/internal/models"
)

type outcomeRecorder interface {
	Record(ctx context.Context, entry models.FetchLogEntry) error
}

// OutcomeAlerts records fetch outcomes through next and sends a notification when one of
// the watched outcomes occurs. Each outcome alerts at most once per cooldown.
type OutcomeAlerts struct {
	next     outcomeRecorder
	notifier Notifier
	watched  map[string]bool
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func NewOutcomeAlerts(next outcomeRecorder, notifier Notifier, cooldown time.Duration, outcomes ...string) *OutcomeAlerts {
	watched := make(map[string]bool, len(outcomes))
	for _, outcome := range outcomes {
		watched[outcome] = true
	}
	return &OutcomeAlerts{
		next:     next,
		notifier: notifier,
		watched:  watched,
		cooldown: cooldown,
		now:      time.Now,
		last:     map[string]time.Time{},
	}
}

func (a *OutcomeAlerts) Record(ctx context.Context, entry models.FetchLogEntry) error {
	var recordErr error
	if a.next != nil {
		recordErr = a.next.Record(ctx, entry)
	}
	if a.notifier == nil || !a.watched[entry.Outcome] || !a.due(entry.Outcome) {
		return recordErr
	}

	notifyErr := a.notifier.Notify(ctx, Message{
		Title: fmt.Sprintf("Upstream %s", entry.Outcome),
		Body:  fmt.Sprintf("%s %s %q ended with %s after %d attempt(s)", entry.ContentType, entry.Operation, entry.Slug, entry.Outcome, entry.Attempts),
		Context: map[string]any{
			"operation":   entry.Operation,
			"contentType": entry.ContentType,
			"slug":        entry.Slug,
			"endpoint":    entry.Endpoint,
		},
	})
	if notifyErr != nil {
		notifyErr = fmt.Errorf("alert %s: %w", entry.Outcome, notifyErr)
	}
	return errors.Join(recordErr, notifyErr)
}

func (a *OutcomeAlerts) due(outcome string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	if last, ok := a.last[outcome]; ok && now.Sub(last) < a.cooldown {
		return false
	}
	a.last[outcome] = now
	return true
}
