package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"news-search-service/model"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "news-search",
		Short:        "Keyword news search with a per-user article cache",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newSearchCmd(&configPath),
		newHistoryCmd(&configPath),
		newRefreshCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "news-search %s (commit: %s)\n", version, commit)
		},
	}
}

func newSearchCmd(configPath *string) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Search a keyword, refreshing the cache when stale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			keyword := strings.TrimSpace(args[0])
			refreshed, ensureErr := a.policy.EnsureFresh(ctx, keyword, user, time.Now().UTC())
			articles, err := a.policy.Articles(ctx, keyword, user)
			if err != nil {
				return errors.Join(ensureErr, err)
			}

			out := cmd.OutOrStdout()
			if refreshed && ensureErr == nil {
				fmt.Fprintf(out, "refreshed %q\n", keyword)
			}
			printArticles(out, articles)
			return ensureErr
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user the cache belongs to")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newHistoryCmd(configPath *string) *cobra.Command {
	var (
		user     string
		doUpdate bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the five newest cached articles per searched keyword",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			var refreshErr error
			if doUpdate {
				var results []model.FetchResult
				results, refreshErr = a.policy.RefreshAll(ctx, user)
				printResults(out, results)
			}

			history, err := a.policy.TopFive(ctx, user)
			if err != nil {
				return errors.Join(refreshErr, err)
			}

			keywords := make([]string, 0, len(history))
			for kw := range history {
				keywords = append(keywords, kw)
			}
			sort.Strings(keywords)
			for _, kw := range keywords {
				fmt.Fprintf(out, "== %s ==\n", kw)
				printArticles(out, history[kw])
			}
			return refreshErr
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user the cache belongs to")
	cmd.Flags().BoolVar(&doUpdate, "refresh", false, "refresh every cached keyword first")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newRefreshCmd(configPath *string) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refetch every keyword the user has cached",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.policy.RefreshAll(ctx, user)
			printResults(cmd.OutOrStdout(), results)
			return err
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user the cache belongs to")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printArticles(w io.Writer, articles []model.Article) {
	if len(articles) == 0 {
		fmt.Fprintln(w, "  (no articles)")
		return
	}
	for _, a := range articles {
		published := "unknown date"
		if a.PublishedAt != nil {
			published = a.PublishedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "  [%s] %s (%s)\n      %s\n", published, a.Title, a.Source.Name, a.URL)
	}
}

func printResults(w io.Writer, results []model.FetchResult) {
	for _, r := range results {
		switch {
		case !r.Success:
			fmt.Fprintf(w, "%-20s failed: %s\n", r.Keyword, r.Error)
		case !r.Replaced:
			fmt.Fprintf(w, "%-20s no articles, kept cache\n", r.Keyword)
		default:
			fmt.Fprintf(w, "%-20s %d articles\n", r.Keyword, r.ArticleCount)
		}
	}
}
