package upstream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxBodyBytes = 8 << 20

// Doer sends one HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Gate runs one outbound request to completion. The request queue and the rate window
// both satisfy it; a nil gate runs the request directly.
type Gate interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

type Fetcher struct {
	doer      Doer
	gate      Gate
	proxyBase string
	logger    *slog.Logger
}

// NewFetcher builds a fetcher. An empty proxyBase disables the relay fallback.
func NewFetcher(doer Doer, proxyBase string, logger *slog.Logger) *Fetcher {
	if doer == nil {
		doer = NewHTTPClient("", 0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		doer:      doer,
		proxyBase: strings.TrimSpace(proxyBase),
		logger:    logger,
	}
}

// WithGate returns a copy of f that sends every request through gate.
func (f *Fetcher) WithGate(gate Gate) *Fetcher {
	clone := *f
	clone.gate = gate
	return &clone
}

// FetchWithFallback walks endpoints in order and returns the first success envelope.
// Templates are expanded with value; already expanded URLs pass through unchanged.
func (f *Fetcher) FetchWithFallback(ctx context.Context, value string, endpoints []string, timeout time.Duration) (*Payload, error) {
	candidates := Expand(endpoints, value)
	attempts := make([]Attempt, 0, len(candidates))

	for _, target := range candidates {
		attempt, env, v := f.try(ctx, target, false, timeout)
		attempts = append(attempts, attempt)

		if v == verdictTransport && f.proxyBase != "" && ctx.Err() == nil {
			attempt, env, v = f.try(ctx, f.proxyURL(target), true, timeout)
			attempts = append(attempts, attempt)
		}

		if err := ctx.Err(); err != nil {
			return nil, &FailureError{Err: err, Attempts: attempts}
		}

		switch v {
		case verdictSuccess:
			return &Payload{
				Status:   env.Status,
				Data:     env.payloadData(),
				Endpoint: target,
				ViaProxy: attempt.ViaProxy,
				Attempts: attempts,
			}, nil
		case verdictProtection:
			f.logger.Warn("upstream protection triggered", "slug", value, "endpoint", attempt.URL)
			return nil, &FailureError{Err: ErrProtectionTriggered, Attempts: attempts}
		default:
			f.logger.Debug("upstream candidate failed",
				"slug", value,
				"endpoint", attempt.URL,
				"viaProxy", attempt.ViaProxy,
				"status", attempt.Status,
				"error", attempt.Err,
			)
		}
	}

	return nil, &FailureError{Err: exhausted(attempts), Attempts: attempts}
}

// verdictTransport extends the body verdicts with the case where no response arrived.
const (
	verdictTransport verdict = iota + 100
	verdictStatus
)

func (f *Fetcher) try(ctx context.Context, target string, viaProxy bool, timeout time.Duration) (Attempt, Envelope, verdict) {
	attempt := Attempt{URL: target, ViaProxy: viaProxy}
	var (
		env Envelope
		v   verdict
	)

	send := func(jobCtx context.Context) error {
		attempt, env, v = f.send(jobCtx, attempt, timeout)
		return nil
	}

	if f.gate == nil {
		_ = send(ctx)
		return attempt, env, v
	}
	if err := f.gate.Run(ctx, send); err != nil {
		attempt.Err = fmt.Errorf("waiting for request slot: %w", err)
		return attempt, Envelope{}, verdictTransport
	}
	return attempt, env, v
}

// send performs the request. The timeout starts here, after any queueing.
func (f *Fetcher) send(ctx context.Context, attempt Attempt, timeout time.Duration) (Attempt, Envelope, verdict) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, attempt.URL, nil)
	if err != nil {
		attempt.Err = fmt.Errorf("create request: %w", err)
		return attempt, Envelope{}, verdictInvalid
	}

	res, err := f.doer.Do(req)
	if err != nil {
		attempt.Err = fmt.Errorf("request %s: %w", attempt.URL, err)
		return attempt, Envelope{}, verdictTransport
	}
	defer res.Body.Close()
	attempt.Status = res.StatusCode

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
		attempt.Err = &HTTPStatusError{URL: attempt.URL, StatusCode: res.StatusCode}
		return attempt, Envelope{}, verdictStatus
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		attempt.Err = fmt.Errorf("read body from %s: %w", attempt.URL, err)
		return attempt, Envelope{}, verdictTransport
	}

	v, env := classifyBody(body)
	switch v {
	case verdictProtection:
		attempt.Err = ErrProtectionTriggered
	case verdictInvalid:
		attempt.Err = fmt.Errorf("%s: %w", attempt.URL, ErrInvalidResponse)
	}
	return attempt, env, v
}

func (f *Fetcher) proxyURL(target string) string {
	sep := "?"
	if strings.Contains(f.proxyBase, "?") {
		sep = "&"
	}
	return f.proxyBase + sep + "url=" + url.QueryEscape(target)
}

// exhausted picks the terminal error once every candidate failed.
func exhausted(attempts []Attempt) error {
	if len(attempts) == 0 {
		return ErrAllEndpointsFailed
	}
	allLimited, allMissing := true, true
	for _, a := range attempts {
		if a.Status != http.StatusTooManyRequests {
			allLimited = false
		}
		if a.Status != http.StatusNotFound {
			allMissing = false
		}
	}
	switch {
	case allLimited:
		return ErrRateLimited
	case allMissing:
		return fmt.Errorf("%w: %w", ErrAllEndpointsFailed, ErrNotFound)
	default:
		return ErrAllEndpointsFailed
	}
}

// Trail renders an attempt list for logs.
func Trail(attempts []Attempt) string {
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		label := a.URL
		if a.ViaProxy {
			label = "proxy:" + label
		}
		switch {
		case a.Err == nil:
			parts = append(parts, label+" ok")
		case a.Status != 0:
			parts = append(parts, fmt.Sprintf("%s %d", label, a.Status))
		default:
			parts = append(parts, label+" error")
		}
	}
	return strings.Join(parts, " -> ")
}
