package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/renzoku/gateway/internal/content"
	"github.com/renzoku/gateway/internal/normalize"
	"github.com/renzoku/gateway/internal/upstream"
)

// Episode loads one episode page. raw may be a bare slug or a full upstream URL.
func (c *Client) Episode(ctx context.Context, raw string, t content.Type) (normalize.Episode, error) {
	ref, err := refFor(raw, t, content.EpisodePage)
	if err != nil {
		return normalize.Episode{}, err
	}
	return load(ctx, c, c.episodeRequest(ref))
}

// Detail loads a series page. When every endpoint fails for a reason other than the
// protection check, the title is looked up in the home listing instead and a reduced
// detail marked Fallback is returned. Fallback details are not cached.
func (c *Client) Detail(ctx context.Context, raw string, t content.Type) (normalize.Detail, error) {
	ref, err := refFor(raw, t, c.detailSlug)
	if err != nil {
		return normalize.Detail{}, err
	}

	detail, err := load(ctx, c, c.detailRequest(ref))
	if err == nil || !c.homeFallback || !fallbackAllowed(err) {
		return detail, err
	}

	home, homeErr := c.Home(ctx, t)
	if homeErr != nil {
		c.logger.Debug("detail home fallback unavailable", "slug", ref.Slug, "error", homeErr)
		return normalize.Detail{}, err
	}
	card, ok := normalize.FindInHome(home, ref.Slug)
	if !ok {
		return normalize.Detail{}, err
	}
	c.logger.Info("serving detail from home listing", "slug", ref.Slug, "match", card.Ref.Slug)
	return normalize.DetailFromCard(card), nil
}

func fallbackAllowed(err error) bool {
	return !errors.Is(err, upstream.ErrProtectionTriggered) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, content.ErrMissingSlug)
}

func (c *Client) Search(ctx context.Context, query string, t content.Type) ([]normalize.Card, error) {
	query = strings.Join(strings.Fields(query), " ")
	if query == "" {
		return nil, content.ErrMissingQuery
	}
	return load(ctx, c, request[[]normalize.Card]{
		op:    content.OpSearch,
		ref:   content.Ref{Type: t, Slug: strings.ToLower(query)},
		value: query,
		store: c.searches,
		decode: func(data json.RawMessage) []normalize.Card {
			return normalize.SearchFrom(data, t)
		},
	})
}

func (c *Client) Home(ctx context.Context, t content.Type) (normalize.Home, error) {
	return load(ctx, c, request[normalize.Home]{
		op:    content.OpHome,
		ref:   content.Ref{Type: t},
		store: c.homes,
		decode: func(data json.RawMessage) normalize.Home {
			return normalize.HomeFrom(data, t)
		},
	})
}

func (c *Client) Schedule(ctx context.Context, t content.Type) ([]normalize.ScheduleDay, error) {
	return load(ctx, c, request[[]normalize.ScheduleDay]{
		op:    content.OpSchedule,
		ref:   content.Ref{Type: t},
		store: c.schedules,
		decode: func(data json.RawMessage) []normalize.ScheduleDay {
			return normalize.ScheduleFrom(data, t)
		},
	})
}

// Unlimited loads the A-Z explorer list.
func (c *Client) Unlimited(ctx context.Context, t content.Type) ([]normalize.Card, error) {
	return load(ctx, c, request[[]normalize.Card]{
		op:    content.OpUnlimited,
		ref:   content.Ref{Type: t},
		store: c.unlimited,
		decode: func(data json.RawMessage) []normalize.Card {
			return normalize.UnlimitedFrom(data, t)
		},
	})
}

// Preload fetches a detail or episode page ahead of a likely navigation and keeps it in
// the preload tier. It skips the request queue, waits only for the rate window, and makes
// a single pass. Refs already cached in either tier are not fetched again.
func (c *Client) Preload(ctx context.Context, op content.Operation, raw string, t content.Type) error {
	switch op {
	case content.OpDetail:
		ref, err := refFor(raw, t, c.detailSlug)
		if err != nil {
			return err
		}
		return preload[normalize.Detail](ctx, c, c.detailRequest(ref), c.details)
	case content.OpEpisode:
		ref, err := refFor(raw, t, content.EpisodePage)
		if err != nil {
			return err
		}
		return preload[normalize.Episode](ctx, c, c.episodeRequest(ref), c.episodes)
	default:
		return fmt.Errorf("preload %s: %w", op, upstream.ErrUnsupportedOperation)
	}
}

type preloadStore[T any] interface {
	Has(key string) bool
	Preload(key string, value T)
}

func preload[T any](ctx context.Context, c *Client, r request[T], tier preloadStore[T]) error {
	key := r.key()
	if tier.Has(key) {
		return nil
	}
	_, err, _ := c.group.Do("preload:"+key, func() (any, error) {
		if tier.Has(key) {
			return nil, nil
		}
		value, err := fetch(ctx, c, r, c.windowed, false)
		if err != nil {
			return nil, err
		}
		tier.Preload(key, value)
		return nil, nil
	})
	return err
}

func (c *Client) episodeRequest(ref content.Ref) request[normalize.Episode] {
	return request[normalize.Episode]{
		op:    content.OpEpisode,
		ref:   ref,
		value: ref.Slug,
		store: c.episodes,
		decode: func(data json.RawMessage) normalize.Episode {
			return normalize.EpisodeFrom(data, ref.Type)
		},
	}
}

func (c *Client) detailRequest(ref content.Ref) request[normalize.Detail] {
	return request[normalize.Detail]{
		op:    content.OpDetail,
		ref:   ref,
		value: ref.Slug,
		store: c.details,
		decode: func(data json.RawMessage) normalize.Detail {
			return normalize.DetailFrom(data, ref)
		},
	}
}

func refFor(raw string, t content.Type, opts content.SlugOptions) (content.Ref, error) {
	slug, err := content.NormalizeSlug(raw, t, opts)
	if err != nil {
		return content.Ref{}, err
	}
	return content.Ref{Type: t, Slug: slug}, nil
}
