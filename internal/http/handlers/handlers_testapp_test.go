package handlers_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/renzoku/gateway/internal/config"
	"github.com/renzoku/gateway/internal/content"
	"github.com/renzoku/gateway/internal/database"
	apihttp "github.com/renzoku/gateway/internal/http"
	"github.com/renzoku/gateway/internal/normalize"
	"github.com/renzoku/gateway/internal/pipeline"
	"github.com/renzoku/gateway/internal/upstream"
	"github.com/renzoku/gateway/migrations"
)

type preloadCall struct {
	op   content.Operation
	slug string
	t    content.Type
}

// fakePipeline answers from canned values; errs overrides per operation.
type fakePipeline struct {
	mu       sync.Mutex
	detail   normalize.Detail
	episode  normalize.Episode
	cards    []normalize.Card
	home     normalize.Home
	days     []normalize.ScheduleDay
	errs     map[content.Operation]error
	lastType content.Type
	lastRaw  string
	preloads chan preloadCall
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{errs: map[content.Operation]error{}, preloads: make(chan preloadCall, 4)}
}

func (f *fakePipeline) remember(raw string, t content.Type) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRaw = raw
	f.lastType = t
}

func (f *fakePipeline) Episode(_ context.Context, raw string, t content.Type) (normalize.Episode, error) {
	f.remember(raw, t)
	return f.episode, f.errs[content.OpEpisode]
}

func (f *fakePipeline) Detail(_ context.Context, raw string, t content.Type) (normalize.Detail, error) {
	f.remember(raw, t)
	if _, err := content.NormalizeSlug(raw, t, content.DetailPage); err != nil {
		return normalize.Detail{}, err
	}
	return f.detail, f.errs[content.OpDetail]
}

func (f *fakePipeline) Search(_ context.Context, query string, t content.Type) ([]normalize.Card, error) {
	f.remember(query, t)
	if query == "" {
		return nil, content.ErrMissingQuery
	}
	return f.cards, f.errs[content.OpSearch]
}

func (f *fakePipeline) Home(_ context.Context, t content.Type) (normalize.Home, error) {
	f.remember("", t)
	return f.home, f.errs[content.OpHome]
}

func (f *fakePipeline) Schedule(_ context.Context, t content.Type) ([]normalize.ScheduleDay, error) {
	f.remember("", t)
	return f.days, f.errs[content.OpSchedule]
}

func (f *fakePipeline) Unlimited(_ context.Context, t content.Type) ([]normalize.Card, error) {
	f.remember("", t)
	return f.cards, f.errs[content.OpUnlimited]
}

func (f *fakePipeline) Preload(_ context.Context, op content.Operation, raw string, t content.Type) error {
	f.preloads <- preloadCall{op: op, slug: raw, t: t}
	return nil
}

func (f *fakePipeline) Endpoints(t content.Type, op content.Operation) ([]string, error) {
	resolver, err := upstream.NewResolver(upstream.DefaultTable("https://api.example"))
	if err != nil {
		return nil, err
	}
	return resolver.Resolve(t, op)
}

func (f *fakePipeline) Stats() pipeline.Stats {
	return pipeline.Stats{Listings: 2}
}

func setupTestApp(t *testing.T) (*sql.DB, *fiber.App, *fakePipeline) {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.ApplyMigrations(context.Background(), db, migrations.FS); err != nil {
		_ = db.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	fake := newFakePipeline()
	app := apihttp.NewServer(config.Config{AppName: "test-app"}, db, fake, nil)

	t.Cleanup(func() {
		_ = app.Shutdown()
		_ = db.Close()
	})
	return db, app, fake
}
