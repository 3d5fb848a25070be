package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type hitLog struct {
	mu   sync.Mutex
	hits []string
}

func (h *hitLog) add(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hits = append(h.hits, path)
}

func (h *hitLog) list() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.hits...)
}

func newUpstream(t *testing.T, routes map[string]func(w http.ResponseWriter)) (*httptest.Server, *hitLog) {
	t.Helper()
	log := &hitLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r.URL.Path)
		handler, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		handler(w)
	}))
	t.Cleanup(srv.Close)
	return srv, log
}

func jsonBody(status int, body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestFetchSkipsNotFoundAndStopsAtFirstSuccess(t *testing.T) {
	srv, log := newUpstream(t, map[string]func(http.ResponseWriter){
		"/one":   jsonBody(http.StatusNotFound, `{}`),
		"/two":   jsonBody(http.StatusOK, `{"status":"success","data":{"title":"Two"}}`),
		"/three": jsonBody(http.StatusOK, `{"status":"success","data":{"title":"Three"}}`),
	})

	f := NewFetcher(srv.Client(), "", nil)
	payload, err := f.FetchWithFallback(context.Background(), "kmy", []string{srv.URL + "/one", srv.URL + "/two", srv.URL + "/three"}, time.Second)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(string(payload.Data), "Two") {
		t.Fatalf("expected candidate two payload, got %s", payload.Data)
	}
	if payload.Endpoint != srv.URL+"/two" {
		t.Fatalf("unexpected endpoint %s", payload.Endpoint)
	}

	hits := log.list()
	if len(hits) != 2 || hits[1] != "/two" {
		t.Fatalf("candidate three must never be tried, hits=%v", hits)
	}
}

func TestFetchAbortsOnProtection(t *testing.T) {
	srv, log := newUpstream(t, map[string]func(http.ResponseWriter){
		"/one": jsonBody(http.StatusOK, `{"status":"Plana AI Detector","message":"slow down"}`),
		"/two": jsonBody(http.StatusOK, `{"status":"success","data":{}}`),
	})

	f := NewFetcher(srv.Client(), "", nil)
	_, err := f.FetchWithFallback(context.Background(), "kmy", []string{srv.URL + "/one", srv.URL + "/two"}, time.Second)
	if !errors.Is(err, ErrProtectionTriggered) {
		t.Fatalf("expected ErrProtectionTriggered, got %v", err)
	}
	if Retryable(err) {
		t.Fatalf("protection must not be retried")
	}
	if hits := log.list(); len(hits) != 1 {
		t.Fatalf("candidate two must not be tried, hits=%v", hits)
	}
}

func TestFetchDetectsHTMLProtectionPage(t *testing.T) {
	srv, _ := newUpstream(t, map[string]func(http.ResponseWriter){
		"/one": func(w http.ResponseWriter) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<html><head><title>Plana AI Detector</title></head><body><h1>Checking</h1></body></html>`))
		},
	})

	f := NewFetcher(srv.Client(), "", nil)
	_, err := f.FetchWithFallback(context.Background(), "kmy", []string{srv.URL + "/one"}, time.Second)
	if !errors.Is(err, ErrProtectionTriggered) {
		t.Fatalf("expected ErrProtectionTriggered, got %v", err)
	}
}

func TestFetchAllRateLimited(t *testing.T) {
	srv, _ := newUpstream(t, map[string]func(http.ResponseWriter){
		"/one": jsonBody(http.StatusTooManyRequests, `{}`),
		"/two": jsonBody(http.StatusTooManyRequests, `{}`),
	})

	f := NewFetcher(srv.Client(), "", nil)
	_, err := f.FetchWithFallback(context.Background(), "kmy", []string{srv.URL + "/one", srv.URL + "/two"}, time.Second)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	var failure *FailureError
	if !errors.As(err, &failure) || len(failure.Attempts) != 2 {
		t.Fatalf("expected two recorded attempts, got %#v", err)
	}
}

func TestFetchMixedFailuresAreAllEndpointsFailed(t *testing.T) {
	srv, _ := newUpstream(t, map[string]func(http.ResponseWriter){
		"/one":   jsonBody(http.StatusTooManyRequests, `{}`),
		"/two":   jsonBody(http.StatusBadGateway, `oops`),
		"/three": jsonBody(http.StatusOK, `{"status":"error"}`),
		"/four":  jsonBody(http.StatusOK, `not json`),
	})

	f := NewFetcher(srv.Client(), "", nil)
	_, err := f.FetchWithFallback(context.Background(), "kmy", []string{srv.URL + "/one", srv.URL + "/two", srv.URL + "/three", srv.URL + "/four"}, time.Second)
	if !errors.Is(err, ErrAllEndpointsFailed) {
		t.Fatalf("expected ErrAllEndpointsFailed, got %v", err)
	}
	if errors.Is(err, ErrRateLimited) {
		t.Fatalf("mixed failures must not classify as rate limited")
	}
	if Kind(err) != "all_failed" {
		t.Fatalf("unexpected kind %s", Kind(err))
	}
}

func TestFetchAllNotFound(t *testing.T) {
	srv, _ := newUpstream(t, nil)

	f := NewFetcher(srv.Client(), "", nil)
	_, err := f.FetchWithFallback(context.Background(), "kmy", []string{srv.URL + "/a/{slug}", srv.URL + "/b/{slug}"}, time.Second)
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, ErrAllEndpointsFailed) {
		t.Fatalf("expected not found exhaustion, got %v", err)
	}
	if Retryable(err) {
		t.Fatalf("not found exhaustion must not be retried")
	}
}

func TestFetchAcceptsLegacyAndSearchEnvelopes(t *testing.T) {
	srv, _ := newUpstream(t, map[string]func(http.ResponseWriter){
		"/legacy": jsonBody(http.StatusOK, `{"data":{"title":"Legacy"}}`),
		"/search": jsonBody(http.StatusOK, `{"status":"success (fallback)","search_results":[{"title":"S"}]}`),
		"/null":   jsonBody(http.StatusOK, `{"status":"success","data":null}`),
	})

	f := NewFetcher(srv.Client(), "", nil)

	payload, err := f.FetchWithFallback(context.Background(), "", []string{srv.URL + "/null", srv.URL + "/legacy"}, time.Second)
	if err != nil || !strings.Contains(string(payload.Data), "Legacy") {
		t.Fatalf("expected legacy envelope after null data, got %v %v", payload, err)
	}

	payload, err = f.FetchWithFallback(context.Background(), "", []string{srv.URL + "/search"}, time.Second)
	if err != nil {
		t.Fatalf("search envelope: %v", err)
	}
	if payload.Status != StatusSuccessFallback || !strings.HasPrefix(string(payload.Data), "[") {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestFetchFallsBackToProxyOnTransportFailure(t *testing.T) {
	var proxied string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied = r.URL.Query().Get("url")
		_, _ = w.Write([]byte(`{"status":"success","data":{"via":"proxy"}}`))
	}))
	defer proxy.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL + "/anime/episode/kmy-episode-1"
	dead.Close()

	f := NewFetcher(proxy.Client(), proxy.URL+"/raw", nil)
	payload, err := f.FetchWithFallback(context.Background(), "kmy-episode-1", []string{deadURL}, time.Second)
	if err != nil {
		t.Fatalf("fetch via proxy: %v", err)
	}
	if !payload.ViaProxy {
		t.Fatalf("expected proxied payload")
	}
	if proxied != deadURL {
		t.Fatalf("proxy received %q, want %q", proxied, deadURL)
	}
	if len(payload.Attempts) != 2 || payload.Attempts[0].Succeeded() || !payload.Attempts[1].Succeeded() {
		t.Fatalf("unexpected attempt trail: %s", Trail(payload.Attempts))
	}
}

func TestFetchPerAttemptTimeoutMovesOn(t *testing.T) {
	srv, _ := newUpstream(t, map[string]func(http.ResponseWriter){
		"/slow": func(w http.ResponseWriter) {
			time.Sleep(300 * time.Millisecond)
			_, _ = w.Write([]byte(`{"status":"success","data":{"slow":true}}`))
		},
		"/fast": jsonBody(http.StatusOK, `{"status":"success","data":{"fast":true}}`),
	})

	f := NewFetcher(srv.Client(), "", nil)
	payload, err := f.FetchWithFallback(context.Background(), "", []string{srv.URL + "/slow", srv.URL + "/fast"}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(string(payload.Data), "fast") {
		t.Fatalf("expected fast payload, got %s", payload.Data)
	}
}

func TestFetchCallerCancellation(t *testing.T) {
	srv, log := newUpstream(t, map[string]func(http.ResponseWriter){
		"/one": jsonBody(http.StatusOK, `{}`),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewFetcher(srv.Client(), "", nil)
	_, err := f.FetchWithFallback(ctx, "", []string{srv.URL + "/one", srv.URL + "/two"}, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if Retryable(err) {
		t.Fatalf("cancellation must not be retried")
	}
	if hits := log.list(); len(hits) != 0 {
		t.Fatalf("cancelled fetch must not reach upstream, hits=%v", hits)
	}
}

type countingGate struct {
	mu    sync.Mutex
	calls int
}

func (g *countingGate) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return fn(ctx)
}

func TestFetchSendsEveryRequestThroughGate(t *testing.T) {
	srv, _ := newUpstream(t, map[string]func(http.ResponseWriter){
		"/two": jsonBody(http.StatusOK, `{"status":"success","data":{}}`),
	})

	gate := &countingGate{}
	f := NewFetcher(srv.Client(), "", nil).WithGate(gate)
	if _, err := f.FetchWithFallback(context.Background(), "", []string{srv.URL + "/one", srv.URL + "/two"}, time.Second); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gate.calls != 2 {
		t.Fatalf("expected 2 gated requests, got %d", gate.calls)
	}
}

func TestTransportSetsDefaultHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	client := &http.Client{Transport: &Transport{Referer: "https://renzoku.example/"}}
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Accept", "text/html")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	res.Body.Close()

	if got.Get("User-Agent") != defaultUserAgent {
		t.Fatalf("unexpected user agent %q", got.Get("User-Agent"))
	}
	if got.Get("Accept") != "text/html" {
		t.Fatalf("explicit Accept must be kept, got %q", got.Get("Accept"))
	}
	if got.Get("Referer") != "https://renzoku.example/" || got.Get("Cache-Control") != "no-cache" {
		t.Fatalf("missing defaults: %v", got)
	}
}
