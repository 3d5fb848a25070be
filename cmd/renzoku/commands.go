package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/renzoku/gateway/internal/config"
	"github.com/renzoku/gateway/internal/content"
	"github.com/renzoku/gateway/internal/database"
	"github.com/renzoku/gateway/internal/normalize"
	"github.com/renzoku/gateway/internal/pipeline"
	"github.com/renzoku/gateway/internal/repository"
)

var slugPages = map[string]content.SlugOptions{
	"detail":   content.DetailPage,
	"episode":  content.EpisodePage,
	"explorer": content.ExplorerPage,
}

func (c *cli) slugCmd() *cobra.Command {
	var page string
	cmd := &cobra.Command{
		Use:   "slug [raw]",
		Short: "Print the canonical slug for a raw slug or upstream URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, ok := slugPages[page]
			if !ok {
				return fmt.Errorf("unknown page %q, expected detail|episode|explorer", page)
			}
			slug, err := content.NormalizeSlug(args[0], c.contentType(), opts)
			if err != nil {
				return userError{err}
			}
			if c.asJSON {
				return c.printJSON(content.Ref{Type: c.contentType(), Slug: slug})
			}
			c.printf("%s\n", slug)
			return nil
		},
	}
	cmd.Flags().StringVar(&page, "page", "episode", "slug rules to apply: detail|episode|explorer")
	return cmd
}

// withClient runs fn against a freshly built pipeline and closes it afterwards.
func (c *cli) withClient(fn func(client *pipeline.Client) error) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func (c *cli) detailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detail [slug]",
		Short: "Show a series page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(func(client *pipeline.Client) error {
				detail, err := client.Detail(cmd.Context(), args[0], c.contentType())
				if err != nil {
					return userError{err}
				}
				if c.asJSON {
					return c.printJSON(detail)
				}
				c.printDetail(detail)
				return nil
			})
		},
	}
}

func (c *cli) episodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "episode [slug]",
		Short: "Show an episode with its streams and downloads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(func(client *pipeline.Client) error {
				episode, err := client.Episode(cmd.Context(), args[0], c.contentType())
				if err != nil {
					return userError{err}
				}
				if c.asJSON {
					return c.printJSON(episode)
				}
				c.printEpisode(episode)
				return nil
			})
		},
	}
}

func (c *cli) searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search [query]",
		Short: "Search titles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return c.withClient(func(client *pipeline.Client) error {
				results, err := client.Search(cmd.Context(), query, c.contentType())
				if err != nil {
					return userError{err}
				}
				if c.asJSON {
					return c.printJSON(results)
				}
				if len(results) == 0 {
					c.printf("No titles found for: %s\n", query)
					return nil
				}
				c.printf("Found %d title(s):\n\n", len(results))
				c.printCards(results)
				return nil
			})
		},
	}
}

func (c *cli) homeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "home",
		Short: "List ongoing and completed titles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(func(client *pipeline.Client) error {
				home, err := client.Home(cmd.Context(), c.contentType())
				if err != nil {
					return userError{err}
				}
				if c.asJSON {
					return c.printJSON(home)
				}
				c.printf("Ongoing (%d):\n", len(home.Ongoing))
				c.printCards(home.Ongoing)
				c.printf("\nCompleted (%d):\n", len(home.Completed))
				c.printCards(home.Completed)
				return nil
			})
		},
	}
}

func (c *cli) scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Show the weekly release schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(func(client *pipeline.Client) error {
				days, err := client.Schedule(cmd.Context(), c.contentType())
				if err != nil {
					return userError{err}
				}
				if c.asJSON {
					return c.printJSON(days)
				}
				for _, day := range days {
					c.printf("%s\n", day.Day)
					for _, card := range day.Anime {
						c.printf("  - %s (%s)\n", card.Title, card.Ref.Slug)
					}
				}
				return nil
			})
		},
	}
}

func (c *cli) endpointsCmd() *cobra.Command {
	var rawOp string
	cmd := &cobra.Command{
		Use:   "endpoints",
		Short: "List the candidate endpoint templates for an operation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := content.ParseOperation(rawOp)
			if err != nil {
				return err
			}
			return c.withClient(func(client *pipeline.Client) error {
				templates, err := client.Endpoints(c.contentType(), op)
				if err != nil {
					return userError{err}
				}
				if c.asJSON {
					return c.printJSON(templates)
				}
				for i, tmpl := range templates {
					c.printf("%d. %s\n", i+1, tmpl)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rawOp, "op", string(content.OpDetail), "operation: detail|episode|search|home|schedule|unlimited")
	return cmd
}

func (c *cli) pruneCmd() *cobra.Command {
	var (
		days  int
		apply bool
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old fetch log rows",
		Long:  `Delete fetch log rows older than --days. Without --apply the command only reports what would be removed.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			keep := cfg.FetchLogRetention
			if days > 0 {
				keep = time.Duration(days) * 24 * time.Hour
			}
			if keep <= 0 {
				return fmt.Errorf("retention must be positive, got %s", keep)
			}

			db, err := database.Open(cfg.SQLitePath)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := database.Migrate(cmd.Context(), db, cfg.MigrationsPath); err != nil {
				return err
			}
			return c.prune(cmd.Context(), repository.NewFetchLogRepository(db), time.Now().UTC().Add(-keep), apply)
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "keep this many days of history (default FETCH_LOG_RETENTION_DAYS)")
	cmd.Flags().BoolVar(&apply, "apply", false, "delete the rows; without it the command is a dry-run preview")
	return cmd
}

func (c *cli) prune(ctx context.Context, repo *repository.FetchLogRepository, cutoff time.Time, apply bool) error {
	if !apply {
		stale, err := repo.CountBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		c.printf("Dry run: %d fetch log row(s) older than %s would be deleted.\n", stale, cutoff.Format(time.RFC3339))
		c.printf("Re-run with --apply to delete them.\n")
		return nil
	}
	removed, err := repo.PruneBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	c.printf("Deleted %d fetch log row(s) older than %s.\n", removed, cutoff.Format(time.RFC3339))
	return nil
}

func (c *cli) printCards(cards []normalize.Card) {
	for i, card := range cards {
		c.printf("%d. %s\n", i+1, card.Title)
		c.printf("   Slug: %s\n", card.Ref.Slug)
		if card.Episode != "" {
			c.printf("   Episode: %s\n", card.Episode)
		}
		if len(card.Genres) > 0 {
			c.printf("   Genres: %s\n", strings.Join(card.Genres, ", "))
		}
	}
}

func (c *cli) printDetail(d normalize.Detail) {
	c.printf("%s\n", d.Title)
	if d.Fallback {
		c.printf("(reduced page built from the home listing)\n")
	}
	for _, field := range [][2]string{
		{"Japanese", d.JapaneseTitle},
		{"Status", d.Status},
		{"Rating", d.Rating},
		{"Studio", d.Studio},
		{"Released", d.ReleaseDate},
	} {
		if field[1] != "" {
			c.printf("%-10s %s\n", field[0]+":", field[1])
		}
	}
	if d.Synopsis != "" {
		c.printf("\n%s\n", d.Synopsis)
	}
	c.printf("\nEpisodes (%d):\n", len(d.Episodes))
	for _, ep := range d.Episodes {
		c.printf("  %s  %s\n", ep.Number, ep.Ref.Slug)
	}
}

func (c *cli) printEpisode(e normalize.Episode) {
	c.printf("%s\n", e.Title)
	if e.StreamURL != "" {
		c.printf("Stream: %s\n", e.StreamURL)
	}
	for _, server := range e.StreamingServers {
		c.printf("  [%s] %s %s\n", server.Quality, server.Name, server.URL)
	}
	for _, format := range []struct {
		name string
		list []normalize.Resolution
	}{{"MP4", e.Downloads.MP4}, {"MKV", e.Downloads.MKV}} {
		for _, res := range format.list {
			names := make([]string, 0, len(res.Providers))
			for _, p := range res.Providers {
				names = append(names, p.Name)
			}
			c.printf("%s %s: %s\n", format.name, res.Label, strings.Join(names, ", "))
		}
	}
	if e.Prev != nil {
		c.printf("Previous: %s\n", e.Prev.Slug)
	}
	if e.Next != nil {
		c.printf("Next: %s\n", e.Next.Slug)
	}
}
