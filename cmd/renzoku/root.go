package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/renzoku/gateway/internal/config"
	"github.com/renzoku/gateway/internal/content"
	"github.com/renzoku/gateway/internal/pipeline"
	"github.com/renzoku/gateway/internal/upstream"
)

type cli struct {
	out     io.Writer
	asJSON  bool
	rawType string
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:          "renzoku",
		Short:        "Query the anime API through the resilient fetch pipeline",
		Long:         `Fetch, normalize and inspect anime and donghua pages from a terminal using the same endpoint fallbacks, retries and rate limits as the gateway.`,
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print the normalized payload as JSON")
	root.PersistentFlags().StringVar(&c.rawType, "type", "anime", "content type: anime or donghua")

	root.AddCommand(
		c.slugCmd(),
		c.detailCmd(),
		c.episodeCmd(),
		c.searchCmd(),
		c.homeCmd(),
		c.scheduleCmd(),
		c.endpointsCmd(),
		c.pruneCmd(),
	)
	return root
}

func (c *cli) contentType() content.Type {
	return content.ParseType(c.rawType)
}

// client builds a pipeline from the environment. The CLI does not write the fetch log.
func (c *cli) client() (*pipeline.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	return pipeline.NewFromConfig(cfg, nil, logger)
}

func (c *cli) printJSON(value any) error {
	encoder := json.NewEncoder(c.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func (c *cli) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

// userError shows the pipeline's user message in place of the wrapped error chain.
type userError struct {
	err error
}

func (e userError) Error() string { return upstream.UserMessage(e.err) }
func (e userError) Unwrap() error { return e.err }
