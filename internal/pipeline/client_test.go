package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/renzoku/gateway/internal/content"
	"github.com/renzoku/gateway/internal/models"
	"github.com/renzoku/gateway/internal/upstream"
)

type fakeUpstream struct {
	mu     sync.Mutex
	hits   map[string]int
	routes map[string]func(w http.ResponseWriter, hit int)
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits[r.URL.Path]++
	hit := f.hits[r.URL.Path]
	handler, ok := f.routes[r.URL.Path]
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	handler(w, hit)
}

func (f *fakeUpstream) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func reply(status int, body string) func(w http.ResponseWriter, hit int) {
	return func(w http.ResponseWriter, _ int) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

type memoryRecorder struct {
	mu      sync.Mutex
	entries []models.FetchLogEntry
	err     error
}

func (m *memoryRecorder) Record(_ context.Context, entry models.FetchLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *memoryRecorder) all() []models.FetchLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.FetchLogEntry(nil), m.entries...)
}

func newTestClient(t *testing.T, routes map[string]func(w http.ResponseWriter, hit int), mutate func(*Options)) (*Client, *fakeUpstream, *memoryRecorder) {
	t.Helper()
	fake := &fakeUpstream{hits: map[string]int{}, routes: routes}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver, err := upstream.NewResolver(upstream.DefaultTable(srv.URL))
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}
	recorder := &memoryRecorder{}
	opts := Options{
		Resolver: resolver,
		Fetcher:  upstream.NewFetcher(srv.Client(), "", logger),
		Retry: upstream.RetryPolicy{
			ExtraPasses: 2,
			BaseDelay:   time.Millisecond,
			Sleep:       func(context.Context, time.Duration) error { return nil },
		},
		RequestTimeout: 2 * time.Second,
		DetailSlug:     content.DetailPage,
		HomeFallback:   true,
		Recorder:       recorder,
		Logger:         logger,
	}
	if mutate != nil {
		mutate(&opts)
	}

	client, err := New(opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(client.Close)
	return client, fake, recorder
}

const episodeBody = `{"status":"success","data":{
	"episode":"Frieren Episode 3",
	"stream_url":"https://video.example/frieren-3",
	"anime":{"slug":"sousou-frieren-sub-indo"},
	"has_next_episode":true,
	"next_episode":{"slug":"frieren-episode-4-sub-indo"}
}}`

func TestEpisodeIsCachedAfterFirstFetch(t *testing.T) {
	client, fake, recorder := newTestClient(t, map[string]func(http.ResponseWriter, int){
		"/anime/episode/frieren-episode-3-sub-indo": reply(http.StatusOK, episodeBody),
	}, nil)

	for i := 0; i < 3; i++ {
		episode, err := client.Episode(context.Background(), "/frieren-episode-3-sub-indo/", content.TypeAnime)
		if err != nil {
			t.Fatalf("Episode returned error: %v", err)
		}
		if episode.StreamURL != "https://video.example/frieren-3" {
			t.Fatalf("unexpected stream url %q", episode.StreamURL)
		}
	}

	if got := fake.count("/anime/episode/frieren-episode-3-sub-indo"); got != 1 {
		t.Fatalf("expected one upstream hit, got %d", got)
	}
	entries := recorder.all()
	if len(entries) != 1 || entries[0].Outcome != "ok" || entries[0].Operation != "episode" {
		t.Fatalf("unexpected fetch log %+v", entries)
	}
	stats := client.Stats()
	if stats.Cache.Hits != 2 {
		t.Fatalf("unexpected cache stats %+v", stats.Cache)
	}
}

func TestConcurrentMissesShareOneFetch(t *testing.T) {
	release := make(chan struct{})
	client, fake, _ := newTestClient(t, map[string]func(http.ResponseWriter, int){
		"/anime/episode/slow-episode-1": func(w http.ResponseWriter, hit int) {
			<-release
			reply(http.StatusOK, `{"status":"success","data":{"episode":"Slow 1"}}`)(w, hit)
		},
	}, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Episode(context.Background(), "slow-episode-1", content.TypeAnime)
			errs <- err
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Episode returned error: %v", err)
		}
	}
	if got := fake.count("/anime/episode/slow-episode-1"); got != 1 {
		t.Fatalf("expected one upstream hit, got %d", got)
	}
}

func TestRetryPassesRecoverFromServerErrors(t *testing.T) {
	client, fake, recorder := newTestClient(t, map[string]func(http.ResponseWriter, int){
		"/anime/episode/flaky-episode-2": func(w http.ResponseWriter, hit int) {
			if hit < 3 {
				reply(http.StatusBadGateway, `{}`)(w, hit)
				return
			}
			reply(http.StatusOK, `{"status":"success","data":{"episode":"Flaky 2"}}`)(w, hit)
		},
	}, nil)

	episode, err := client.Episode(context.Background(), "flaky-episode-2", content.TypeAnime)
	if err != nil {
		t.Fatalf("Episode returned error: %v", err)
	}
	if episode.Title != "Flaky 2" {
		t.Fatalf("unexpected title %q", episode.Title)
	}
	if got := fake.count("/anime/episode/flaky-episode-2"); got != 3 {
		t.Fatalf("expected three passes, got %d", got)
	}
	entries := recorder.all()
	if len(entries) != 1 || entries[0].Attempts != 3 || entries[0].Outcome != "ok" {
		t.Fatalf("unexpected fetch log %+v", entries)
	}
}

func TestProtectionIsNotRetried(t *testing.T) {
	client, fake, recorder := newTestClient(t, map[string]func(http.ResponseWriter, int){
		"/anime/episode/guarded-episode-1": reply(http.StatusOK, `{"status":"Plana AI Detector","message":"blocked"}`),
	}, nil)

	_, err := client.Episode(context.Background(), "guarded-episode-1", content.TypeAnime)
	if !errors.Is(err, upstream.ErrProtectionTriggered) {
		t.Fatalf("expected protection error, got %v", err)
	}
	if got := fake.count("/anime/episode/guarded-episode-1"); got != 1 {
		t.Fatalf("expected a single request, got %d", got)
	}
	entries := recorder.all()
	if len(entries) != 1 || entries[0].Outcome != "protection" {
		t.Fatalf("unexpected fetch log %+v", entries)
	}
}

func TestFailuresAreNotCached(t *testing.T) {
	client, fake, _ := newTestClient(t, map[string]func(http.ResponseWriter, int){
		"/anime/episode/later-episode-1": func(w http.ResponseWriter, hit int) {
			if hit == 1 {
				reply(http.StatusOK, `{"status":"Plana AI Detector"}`)(w, hit)
				return
			}
			reply(http.StatusOK, `{"status":"success","data":{"episode":"Later 1"}}`)(w, hit)
		},
	}, nil)

	if _, err := client.Episode(context.Background(), "later-episode-1", content.TypeAnime); err == nil {
		t.Fatalf("expected first call to fail")
	}
	episode, err := client.Episode(context.Background(), "later-episode-1", content.TypeAnime)
	if err != nil {
		t.Fatalf("second call returned error: %v", err)
	}
	if episode.Title != "Later 1" || fake.count("/anime/episode/later-episode-1") != 2 {
		t.Fatalf("expected a fresh fetch after failure, got %+v", episode)
	}
}

func TestDetailFallsBackToHomeListing(t *testing.T) {
	client, fake, _ := newTestClient(t, map[string]func(http.ResponseWriter, int){
		"/anime/home": reply(http.StatusOK, `{"status":"success","data":{
			"ongoing_anime":[{"title":"Dandadan","slug":"dandadan-sub-indo","poster":"https://img.example/d.jpg","current_episode":"Episode 9"}],
			"complete_anime":[]
		}}`),
	}, nil)

	detail, err := client.Detail(context.Background(), "dandadan-episode-9-sub-indo", content.TypeAnime)
	if err != nil {
		t.Fatalf("Detail returned error: %v", err)
	}
	if !detail.Fallback || detail.Title != "Dandadan" || detail.Ref.Slug != "dandadan-sub-indo" {
		t.Fatalf("unexpected fallback detail %+v", detail)
	}
	if got := fake.count("/anime/anime/dandadan-sub-indo"); got != 1 {
		t.Fatalf("all-404 exhaustion must not start another pass, got %d hits", got)
	}
}

func TestDetailWithoutFallbackReturnsNotFound(t *testing.T) {
	client, _, recorder := newTestClient(t, nil, func(o *Options) { o.HomeFallback = false })

	_, err := client.Detail(context.Background(), "missing-title", content.TypeAnime)
	if !errors.Is(err, upstream.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if upstream.Retryable(err) {
		t.Fatalf("all-404 exhaustion must not be retryable")
	}
	entries := recorder.all()
	if len(entries) != 1 || entries[0].Outcome != "not_found" {
		t.Fatalf("unexpected fetch log %+v", entries)
	}
}

func TestPreloadFillsPreloadTier(t *testing.T) {
	client, fake, recorder := newTestClient(t, map[string]func(http.ResponseWriter, int){
		"/anime/anime/oshi-no-ko-sub-indo": reply(http.StatusOK, `{"status":"success","data":{"title":"Oshi no Ko"}}`),
	}, nil)

	if err := client.Preload(context.Background(), content.OpDetail, "oshi-no-ko-sub-indo", content.TypeAnime); err != nil {
		t.Fatalf("Preload returned error: %v", err)
	}
	if err := client.Preload(context.Background(), content.OpDetail, "oshi-no-ko-sub-indo", content.TypeAnime); err != nil {
		t.Fatalf("second Preload returned error: %v", err)
	}
	if got := client.Stats().Cache.PreloadSize; got != 1 {
		t.Fatalf("expected one preloaded entry, got %d", got)
	}

	detail, err := client.Detail(context.Background(), "oshi-no-ko-sub-indo", content.TypeAnime)
	if err != nil {
		t.Fatalf("Detail returned error: %v", err)
	}
	if detail.Title != "Oshi no Ko" {
		t.Fatalf("unexpected title %q", detail.Title)
	}
	if got := fake.count("/anime/anime/oshi-no-ko-sub-indo"); got != 1 {
		t.Fatalf("expected one upstream hit, got %d", got)
	}

	stats := client.Stats().Cache
	if stats.PreloadHits != 1 || stats.PreloadSize != 0 || stats.MainSize != 1 {
		t.Fatalf("expected promotion into main, got %+v", stats)
	}
	entries := recorder.all()
	if len(entries) != 1 || entries[0].Operation != "preload_detail" {
		t.Fatalf("unexpected fetch log %+v", entries)
	}
}

func TestPreloadRejectsListingOperations(t *testing.T) {
	client, _, _ := newTestClient(t, nil, nil)

	err := client.Preload(context.Background(), content.OpHome, "x", content.TypeAnime)
	if !errors.Is(err, upstream.ErrUnsupportedOperation) {
		t.Fatalf("expected unsupported operation, got %v", err)
	}
}

func TestInputValidation(t *testing.T) {
	client, _, recorder := newTestClient(t, nil, nil)

	if _, err := client.Detail(context.Background(), "  /  ", content.TypeAnime); !errors.Is(err, content.ErrMissingSlug) {
		t.Fatalf("expected missing slug, got %v", err)
	}
	if _, err := client.Search(context.Background(), "   ", content.TypeAnime); !errors.Is(err, content.ErrMissingQuery) {
		t.Fatalf("expected missing query, got %v", err)
	}
	if len(recorder.all()) != 0 {
		t.Fatalf("validation failures must not reach the fetch log")
	}
}

func TestSearchAndListings(t *testing.T) {
	client, fake, _ := newTestClient(t, map[string]func(http.ResponseWriter, int){
		"/anime/donghua/search/Battle Through": reply(http.StatusOK, `{"status":"success","data":[{"title":"Battle Through the Heavens","slug":"btth-season-5"}]}`),
		"/anime/donghua/schedule":              reply(http.StatusOK, `{"status":"success","data":[{"day":"Senin","anime_list":[{"title":"Soul Land","slug":"soul-land-2"}]}]}`),
	}, nil)

	results, err := client.Search(context.Background(), "  Battle   Through ", content.TypeDonghua)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(results) != 1 || results[0].Ref != (content.Ref{Type: content.TypeDonghua, Slug: "btth-season-5"}) {
		t.Fatalf("unexpected results %+v", results)
	}
	if _, err := client.Search(context.Background(), "battle through", content.TypeDonghua); err != nil {
		t.Fatalf("second Search returned error: %v", err)
	}
	if got := fake.count("/anime/donghua/search/Battle Through"); got != 1 {
		t.Fatalf("expected search to be cached by normalized query, got %d hits", got)
	}

	days, err := client.Schedule(context.Background(), content.TypeDonghua)
	if err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	if len(days) != 1 || days[0].Day != "Senin" || len(days[0].Anime) != 1 {
		t.Fatalf("unexpected schedule %+v", days)
	}
}

func TestRecorderErrorsAreNotSurfaced(t *testing.T) {
	client, _, recorder := newTestClient(t, map[string]func(http.ResponseWriter, int){
		"/anime/unlimited": reply(http.StatusOK, `{"status":"success","data":{"list":[{"startWith":"A","animeList":[{"title":"Akira","slug":"akira"}]}]}}`),
	}, nil)
	recorder.err = errors.New("disk full")

	cards, err := client.Unlimited(context.Background(), content.TypeAnime)
	if err != nil {
		t.Fatalf("Unlimited returned error: %v", err)
	}
	if len(cards) != 1 || cards[0].Group != "A" {
		t.Fatalf("unexpected cards %+v", cards)
	}
}

func TestCallerCancellationLeavesFlightRunning(t *testing.T) {
	release := make(chan struct{})
	client, fake, _ := newTestClient(t, map[string]func(http.ResponseWriter, int){
		"/anime/episode/long-episode-1": func(w http.ResponseWriter, hit int) {
			<-release
			reply(http.StatusOK, `{"status":"success","data":{"episode":"Long 1"}}`)(w, hit)
		},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.Episode(ctx, "long-episode-1", content.TypeAnime)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}

	close(release)
	episode, err := client.Episode(context.Background(), "long-episode-1", content.TypeAnime)
	if err != nil {
		t.Fatalf("Episode returned error: %v", err)
	}
	if episode.Title != "Long 1" || fake.count("/anime/episode/long-episode-1") != 1 {
		t.Fatalf("expected the shared flight to be reused, got %+v", episode)
	}
}
