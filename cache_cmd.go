package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dacbuione/chinese-learning-sub000/internal/cache"
	"github.com/dacbuione/chinese-learning-sub000/internal/speech"
)

var (
	warmFlags   requestFlags
	warmFile    string
	warmWorkers int

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the audio cache",
		Long:  paragraph(fmt.Sprintf("\n%s the synthesized audio cache. Entries are keyed by a fingerprint of the normalized text, locale, voice, rate and tone markup.", keyword("Manage"))),
		Args:  cobra.NoArgs,
	}

	cacheStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show cache size and location",
		Args:  cobra.NoArgs,
		RunE: withStore(func(_ context.Context, s *cache.Store) error {
			st := s.Stats()
			fmt.Println(field("backend", cfg.Cache.Backend))
			if cfg.Cache.Dir != "" {
				fmt.Println(field("location", cfg.Cache.Dir))
			}
			fmt.Println(field("entries", fmt.Sprintf("%d of %d", st.Entries, cfg.Cache.MaxEntries)))
			fmt.Println(field("size", humanize.Bytes(uint64(st.Bytes)))) //nolint:gosec
			now := time.Now()
			fmt.Println(field("ttl", strings.TrimSpace(humanize.RelTime(now, now.Add(s.TTL()), "", ""))))
			return nil
		}),
	}

	cacheListCmd = &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List cached entries",
		Args:    cobra.NoArgs,
		RunE: withStore(func(_ context.Context, s *cache.Store) error {
			infos := s.List()
			if len(infos) == 0 {
				fmt.Println(faint.Render("The cache is empty."))
				return nil
			}
			rows := make([][]string, 0, len(infos))
			for _, in := range infos {
				rows = append(rows, []string{
					in.Fingerprint[:12],
					string(in.Locale),
					in.Source,
					humanize.Bytes(uint64(in.Size)), //nolint:gosec
					humanize.Time(in.CreatedAt),
				})
			}
			fmt.Println(table.New().
				Border(lipgloss.RoundedBorder()).
				BorderStyle(faint).
				Headers("FINGERPRINT", "LOCALE", "SOURCE", "SIZE", "CREATED").
				Rows(rows...).
				StyleFunc(func(row, _ int) lipgloss.Style {
					if row == table.HeaderRow {
						return headStyle
					}
					return cellStyle
				}).
				String())
			return nil
		}),
	}

	cacheClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached entry",
		Args:  cobra.NoArgs,
		RunE: withStore(func(ctx context.Context, s *cache.Store) error {
			n := s.Len()
			if err := s.Clear(ctx); err != nil {
				return err
			}
			fmt.Printf("Removed %d %s.\n", n, plural(n, "entry", "entries"))
			return nil
		}),
	}

	cachePruneCmd = &cobra.Command{
		Use:   "prune",
		Short: "Drop expired entries and trim to the size limit",
		Args:  cobra.NoArgs,
		RunE: withStore(func(ctx context.Context, s *cache.Store) error {
			n := s.Prune(ctx)
			fmt.Printf("Pruned %d %s, %d left.\n", n, plural(n, "entry", "entries"), s.Len())
			return nil
		}),
	}

	cacheWarmCmd = &cobra.Command{
		Use:     "warm [TEXT|-]",
		Short:   "Synthesize every sentence of a text into the cache",
		Long:    paragraph(fmt.Sprintf("\n%s the cache ahead of a lesson so it plays without waiting on the network.", keyword("Fill"))),
		Example: paragraph("tingshuo cache warm --file lesson.md\ntingshuo cache warm --workers 4 - < words.txt"),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(args, warmFile, os.Stdin, stdinIsPipe())
			if err != nil {
				return err
			}

			ctx, core, cleanup, err := openCore(cmd, speech.Needs{})
			if err != nil {
				return err
			}
			defer cleanup()

			if core.Cache() == nil {
				return fmt.Errorf("cache %q could not be opened, see the log", cfg.Cache.Backend)
			}

			res, err := core.Warm(ctx, text, warmFlags.request(""), warmWorkers)
			fmt.Printf("Cached %d of %d %s", res.Cached, res.Requested, plural(res.Requested, "sentence", "sentences"))
			if res.Failed > 0 {
				fmt.Print(failStyle.Render(fmt.Sprintf(", %d failed", res.Failed)))
			}
			fmt.Println(".")
			return err
		},
	}
)

func init() {
	warmFlags.register(cacheWarmCmd)
	cacheWarmCmd.Flags().StringVarP(&warmFile, "file", "f", "", "read text from a file")
	cacheWarmCmd.Flags().IntVarP(&warmWorkers, "workers", "w", 2, "concurrent synthesis requests")

	cacheCmd.AddCommand(cacheStatsCmd, cacheListCmd, cacheClearCmd, cachePruneCmd, cacheWarmCmd)
}

// withStore opens only the cache for commands that do not synthesize.
func withStore(fn func(context.Context, *cache.Store) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		s, err := cache.Open(ctx, cfg.Cache, log.WithPrefix("cache"))
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()
		return fn(ctx, s)
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
