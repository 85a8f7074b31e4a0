package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/san-kum/bookshelf/internal/model"
	"github.com/san-kum/bookshelf/internal/service"
	"github.com/san-kum/bookshelf/internal/service/ingest"
	"github.com/san-kum/bookshelf/internal/service/search"
)

// NewRootCommand builds the bookmark command tree. The App is created once
// flags are parsed so --data-dir can override the environment.
func NewRootCommand(cfg *Config) *cobra.Command {
	var a *App

	root := &cobra.Command{
		Use:           "bookmark",
		Short:         "Save web pages as searchable bookmarks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = NewApp(cfg)
			if err != nil {
				return err
			}
			log.Debug().Str("data_dir", a.store.Dir()).Msg("Store opened")
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a != nil {
				a.cleanup()
			}
		},
	}
	root.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory holding bookmarks and index")

	app := func() *App { return a }
	root.AddCommand(
		addCmd(app),
		listCmd(app),
		showCmd(app),
		editCmd(app),
		rmCmd(app),
		refreshCmd(app),
		searchCmd(app),
		tagsCmd(app),
		exportCmd(app),
		importCmd(app),
		serveCmd(app),
	)
	return root
}

func addCmd(app func() *App) *cobra.Command {
	var (
		tags        string
		concurrency int
		saveContent bool
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "add <url>...",
		Short: "Fetch and store one or more URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := service.IngestOptions{
				Tags:        model.ParseTagList(tags),
				Concurrency: concurrency,
				OnProgress:  progressLine(cmd.ErrOrStderr()),
			}
			if cmd.Flags().Changed("save-content") {
				opts.SaveContent = &saveContent
			}

			results, err := app().bookmarkSvc.Ingest(cmd.Context(), args, opts)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), results)
			}
			return printResults(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().StringVarP(&tags, "tags", "t", "", "comma separated tags applied to every URL")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "parallel fetches per chunk (default from settings)")
	cmd.Flags().BoolVar(&saveContent, "save-content", false, "archive the raw page body")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

// progressLine redraws a single status line on w.
func progressLine(w io.Writer) ingest.ProgressFunc {
	return func(p ingest.Progress) {
		if p.Done {
			fmt.Fprintf(w, "\r%d/%d done: %d saved, %d failed, %d duplicate\033[K\n",
				p.Processed, p.Total, p.Successful, p.Failed, p.Duplicates)
			return
		}
		fmt.Fprintf(w, "\r%d/%d %s\033[K", p.Processed, p.Total, p.CurrentURL)
	}
}

func printResults(w io.Writer, results []ingest.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tID\tTITLE / ERROR\tINPUT")
	for _, r := range results {
		detail := ""
		switch {
		case r.Bookmark != nil && r.Status == ingest.StatusSuccess:
			detail = r.Bookmark.Title
		case len(r.Errors) > 0:
			detail = r.Errors[0]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Status, r.ID, detail, r.Input)
	}
	return tw.Flush()
}

func printBookmarks(w io.Writer, bookmarks []*model.Bookmark) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tADDED\tTITLE\tTAGS\tURL")
	for _, b := range bookmarks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			b.ID, b.DateAdded.Format("2006-01-02"), b.Title, strings.Join(b.Tags, ","), b.URL)
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func listCmd(app func() *App) *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bookmarks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bookmarks, err := app().searchService.Search(search.Query{Tags: tags})
			if err != nil {
				return err
			}
			return printBookmarks(cmd.OutOrStdout(), bookmarks)
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "only bookmarks carrying every given tag")
	return cmd
}

func showCmd(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a bookmark as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookmark, err := app().bookmarkSvc.Get(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), bookmark)
		},
	}
}

func editCmd(app func() *App) *cobra.Command {
	var (
		title, description string
		tags               []string
		addTags, rmTags    []string
	)
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change the title, description or tags of a bookmark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			update := service.BookmarkUpdate{AddTags: addTags, RemoveTags: rmTags}
			if cmd.Flags().Changed("title") {
				update.Title = &title
			}
			if cmd.Flags().Changed("description") {
				update.Description = &description
			}
			if cmd.Flags().Changed("tags") {
				update.Tags = append([]string{}, tags...)
			}

			bookmark, err := app().bookmarkSvc.Update(args[0], update)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), bookmark)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "replace all tags")
	cmd.Flags().StringSliceVar(&addTags, "add-tag", nil, "tag to add")
	cmd.Flags().StringSliceVar(&rmTags, "remove-tag", nil, "tag to remove")
	return cmd
}

func rmCmd(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a bookmark and its archived content",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app().bookmarkSvc.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func refreshCmd(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <id>",
		Short: "Re-fetch a bookmark and update its metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookmark, err := app().bookmarkSvc.Refresh(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), bookmark)
		},
	}
}

func searchCmd(app func() *App) *cobra.Command {
	var (
		tags            []string
		from, to        string
		fuzzy, fullText bool
		limit           int
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search bookmarks by text, tags and date added",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := search.Query{Tags: tags, Limit: limit, Mode: search.ModePlain}
			if len(args) == 1 {
				q.Text = args[0]
			}
			switch {
			case fuzzy && fullText:
				return fmt.Errorf("--fuzzy and --full-text are mutually exclusive")
			case fuzzy:
				q.Mode = search.ModeFuzzy
			case fullText:
				q.Mode = search.ModeFullText
			}

			var err error
			if q.From, err = search.ParseBound(from, false); err != nil {
				return err
			}
			if q.To, err = search.ParseBound(to, true); err != nil {
				return err
			}

			bookmarks, err := app().searchService.Search(q)
			if err != nil {
				return err
			}
			return printBookmarks(cmd.OutOrStdout(), bookmarks)
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "require tag (repeatable)")
	cmd.Flags().StringVar(&from, "from", "", "added on or after (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringVar(&to, "to", "", "added on or before (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().BoolVar(&fuzzy, "fuzzy", false, "fuzzy match titles and URLs")
	cmd.Flags().BoolVar(&fullText, "full-text", false, "full-text query over titles, descriptions and previews")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum results (0 = all)")
	return cmd
}

func tagsCmd(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List every tag in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tags, err := app().bookmarkSvc.Tags()
			if err != nil {
				return err
			}
			for _, t := range tags {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
}

func exportCmd(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file|->",
		Short: "Write all bookmarks to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "-" {
				_, err := app().bookmarkSvc.Export(cmd.OutOrStdout())
				return err
			}

			n, err := app().bookmarkSvc.ExportAll(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d bookmarks to %s\n", n, args[0])
			return nil
		},
	}
}

func importCmd(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Load bookmarks from an export file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := app().bookmarkSvc.ImportFrom(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d, skipped %d\n", summary.Imported, summary.Skipped)
			return nil
		},
	}
}

func serveCmd(app func() *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Expose the bookmark API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app().Serve(cmd.Context())
		},
	}
}
