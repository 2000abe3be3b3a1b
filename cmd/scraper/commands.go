package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"page_scraper/internal/domain"
	"page_scraper/internal/scheduler"
	"page_scraper/internal/service"
)

type command struct {
	usage     string
	summary   string
	publishes bool
	run       func(ctx context.Context, a *app, args []string) int
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"scrape":          {usage: "scrape [--ids a,b] [--days N] [--limit N]", summary: "scrape pages once", publishes: true, run: runScrape},
		"watch":           {usage: "watch", summary: "scrape every scrape.interval until interrupted", publishes: true, run: runWatch},
		"add-page":        {usage: "add-page <id> [--name NAME] [--description TEXT]", summary: "add or update a page", run: runAddPage},
		"remove-page":     {usage: "remove-page <id>", summary: "remove a page", run: runRemovePage},
		"list-pages":      {usage: "list-pages", summary: "list stored pages", run: runListPages},
		"import-pages":    {usage: "import-pages <file>", summary: "import pages from a JSON array", run: runImportPages},
		"add-keyword":     {usage: "add-keyword <keyword> [--category C] [--description TEXT]", summary: "add or update a keyword", run: runAddKeyword},
		"remove-keyword":  {usage: "remove-keyword <keyword>", summary: "remove a keyword", run: runRemoveKeyword},
		"enable-keyword":  {usage: "enable-keyword <keyword>", summary: "enable a keyword", run: toggleKeyword(true)},
		"disable-keyword": {usage: "disable-keyword <keyword>", summary: "disable a keyword without removing it", run: toggleKeyword(false)},
		"list-keywords":   {usage: "list-keywords", summary: "list stored keywords", run: runListKeywords},
		"import-keywords": {usage: "import-keywords <file>", summary: "import keywords from a JSON array", run: runImportKeywords},
	}
}

var commandOrder = []string{
	"scrape", "watch",
	"add-page", "remove-page", "list-pages", "import-pages",
	"add-keyword", "remove-keyword", "enable-keyword", "disable-keyword", "list-keywords", "import-keywords",
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: scraper [-config path] <command> [arguments]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, name := range commandOrder {
		cmd := commands[name]
		fmt.Fprintf(tw, "  %s\t%s\n", cmd.usage, cmd.summary)
	}
	tw.Flush()
}

// parseArgs parses flags that may appear before or after positional arguments.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func newFlagSet(a *app, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stdout)
	fs.Usage = func() { fmt.Fprintf(a.stdout, "usage: scraper %s\n", commands[name].usage) }
	return fs
}

// single parses args that must hold exactly one positional argument.
func single(a *app, fs *flag.FlagSet, args []string) (string, bool) {
	positional, err := parseArgs(fs, args)
	if err != nil {
		return "", false
	}
	if len(positional) != 1 {
		fs.Usage()
		return "", false
	}
	return positional[0], true
}

func runScrape(ctx context.Context, a *app, args []string) int {
	fs := newFlagSet(a, "scrape")
	ids := fs.String("ids", "", "comma-separated page IDs (default: all stored pages)")
	days := fs.Int("days", 0, "lookback window in days")
	limit := fs.Int("limit", 0, "maximum posts per page")
	if _, err := parseArgs(fs, args); err != nil {
		return 2
	}

	opts := service.ScrapeOptions{DaysBack: *days, PostLimit: *limit}
	for _, id := range strings.Split(*ids, ",") {
		if id = strings.TrimSpace(id); id != "" {
			opts.PageIDs = append(opts.PageIDs, id)
		}
	}

	report, err := a.scrape.Scrape(ctx, opts)
	if report != nil {
		printReport(a.stdout, report)
	}
	if err != nil {
		a.logger.Error("scrape failed", "error", err)
		return 1
	}
	return 0
}

func printReport(w io.Writer, report *domain.ScrapeReport) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PAGE\tPOSTS\tNEW POSTS\tCOMMENTS\tNEW COMMENTS\tSAVED\tERRORS\tSTATUS")
	for _, p := range report.Pages {
		status := "ok"
		if p.Err != nil {
			status = p.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			p.PageID, p.PostsFetched, p.PostsNew, p.CommentsFetched, p.CommentsNew, p.CommentsSaved, p.Errors, status)
	}
	tw.Flush()

	t := report.Totals()
	fmt.Fprintf(w, "\n%d pages (%d failed), %d posts seen, %d comments seen, %d comments saved in %s\n",
		t.Pages, t.FailedPages, t.PostsFetched, t.CommentsFetched, t.CommentsSaved, report.Duration.Round(time.Millisecond))
}

func runWatch(ctx context.Context, a *app, args []string) int {
	fs := newFlagSet(a, "watch")
	if _, err := parseArgs(fs, args); err != nil {
		return 2
	}

	sched := scheduler.NewScheduler(a.scrape, a.cfg.Scrape.Interval, a.cfg.Scrape.RunTimeout, a.logger)
	if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("scheduler error", "error", err)
		return 1
	}
	return 0
}

func runAddPage(ctx context.Context, a *app, args []string) int {
	fs := newFlagSet(a, "add-page")
	name := fs.String("name", "", "display name (looked up when empty)")
	description := fs.String("description", "", "description (looked up when empty)")
	id, ok := single(a, fs, args)
	if !ok {
		return 2
	}

	result, err := a.pages.Add(ctx, domain.PageInput{ID: id, Name: *name, Description: *description})
	if err != nil {
		return reportError(a, err)
	}
	fmt.Fprintf(a.stdout, "page %s %s\n", id, result)
	return 0
}

func runRemovePage(ctx context.Context, a *app, args []string) int {
	id, ok := single(a, newFlagSet(a, "remove-page"), args)
	if !ok {
		return 2
	}

	if err := a.pages.Remove(ctx, id); err != nil {
		return reportError(a, err)
	}
	fmt.Fprintf(a.stdout, "page %s removed\n", id)
	return 0
}

func runListPages(ctx context.Context, a *app, _ []string) int {
	pages, err := a.pages.List(ctx)
	if err != nil {
		return reportError(a, err)
	}
	if len(pages) == 0 {
		fmt.Fprintln(a.stdout, "no pages")
		return 0
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PAGE ID\tNAME\tADDED\tLAST SCRAPED")
	for _, p := range pages {
		lastScraped := "never"
		if p.LastScraped != nil {
			lastScraped = p.LastScraped.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.AddedAt.Local().Format(time.DateTime), lastScraped)
	}
	tw.Flush()
	return 0
}

func runImportPages(ctx context.Context, a *app, args []string) int {
	path, ok := single(a, newFlagSet(a, "import-pages"), args)
	if !ok {
		return 2
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(a.stdout, "cannot read %s: %v\n", path, err)
		return 1
	}
	items, invalid, err := service.DecodePageList(data)
	if err != nil {
		fmt.Fprintf(a.stdout, "cannot import %s: %v\n", path, err)
		return 1
	}

	res, err := a.pages.Import(ctx, items)
	if err != nil {
		return reportError(a, err)
	}
	fmt.Fprintf(a.stdout, "imported %d pages (%d new, %d updated, %d failed, %d invalid)\n",
		res.Added(), res.Created, res.Updated, res.Failed, invalid)
	return 0
}

func runAddKeyword(ctx context.Context, a *app, args []string) int {
	fs := newFlagSet(a, "add-keyword")
	category := fs.String("category", "", "keyword category")
	description := fs.String("description", "", "keyword description")
	text, ok := single(a, fs, args)
	if !ok {
		return 2
	}

	in := domain.KeywordInput{Text: text}
	if *category != "" {
		in.Category = category
	}
	if *description != "" {
		in.Description = description
	}

	result, err := a.keywords.Add(ctx, in, false)
	if err != nil {
		return reportError(a, err)
	}
	fmt.Fprintf(a.stdout, "keyword %q %s\n", domain.NormalizeKeyword(text), result)
	return 0
}

func runRemoveKeyword(ctx context.Context, a *app, args []string) int {
	text, ok := single(a, newFlagSet(a, "remove-keyword"), args)
	if !ok {
		return 2
	}

	if err := a.keywords.Remove(ctx, text); err != nil {
		return reportError(a, err)
	}
	fmt.Fprintf(a.stdout, "keyword %q removed\n", domain.NormalizeKeyword(text))
	return 0
}

func toggleKeyword(enabled bool) func(context.Context, *app, []string) int {
	name, verb := "disable-keyword", "disabled"
	if enabled {
		name, verb = "enable-keyword", "enabled"
	}

	return func(ctx context.Context, a *app, args []string) int {
		text, ok := single(a, newFlagSet(a, name), args)
		if !ok {
			return 2
		}

		if err := a.keywords.SetEnabled(ctx, text, enabled); err != nil {
			return reportError(a, err)
		}
		fmt.Fprintf(a.stdout, "keyword %q %s\n", domain.NormalizeKeyword(text), verb)
		return 0
	}
}

func runListKeywords(ctx context.Context, a *app, _ []string) int {
	keywords, err := a.keywords.List(ctx)
	if err != nil {
		return reportError(a, err)
	}
	if len(keywords) == 0 {
		fmt.Fprintln(a.stdout, "no keywords")
		return 0
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEYWORD\tCATEGORY\tENABLED\tDEFAULT")
	for _, kw := range keywords {
		category := ""
		if kw.Category != nil {
			category = *kw.Category
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%t\n", kw.Text, category, kw.Enabled, kw.IsDefault)
	}
	tw.Flush()
	return 0
}

func runImportKeywords(ctx context.Context, a *app, args []string) int {
	path, ok := single(a, newFlagSet(a, "import-keywords"), args)
	if !ok {
		return 2
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(a.stdout, "cannot read %s: %v\n", path, err)
		return 1
	}
	items, invalid, err := service.DecodeKeywordList(data)
	if err != nil {
		fmt.Fprintf(a.stdout, "cannot import %s: %v\n", path, err)
		return 1
	}

	res, err := a.keywords.Import(ctx, items)
	if err != nil {
		return reportError(a, err)
	}
	fmt.Fprintf(a.stdout, "imported %d keywords (%d new, %d updated, %d failed, %d invalid)\n",
		res.Added(), res.Created, res.Updated, res.Failed, invalid)
	return 0
}

// reportError prints err. Missing records are not a failure.
func reportError(a *app, err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		fmt.Fprintln(a.stdout, err)
		return 0
	case errors.Is(err, domain.ErrValidation):
		fmt.Fprintln(a.stdout, err)
		return 1
	default:
		a.logger.Error("command failed", "error", err)
		return 1
	}
}
