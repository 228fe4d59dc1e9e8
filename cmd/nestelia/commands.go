package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/hyperjump/nestelia/internal/cli"
	"github.com/hyperjump/nestelia/internal/config"
	"github.com/hyperjump/nestelia/internal/keyword"
	"github.com/hyperjump/nestelia/internal/models"
	"github.com/hyperjump/nestelia/internal/offline"
	"github.com/hyperjump/nestelia/internal/precache"
	"github.com/hyperjump/nestelia/internal/rest"
	"github.com/hyperjump/nestelia/internal/server"
	"github.com/hyperjump/nestelia/internal/storage"
	"github.com/hyperjump/nestelia/internal/stream"
)

// commandEnv is the state shared by the client-side commands.
type commandEnv struct {
	cfg       *config.Config
	logger    *zap.Logger
	serverURL string
	format    cli.OutputFormat
	debug     bool
}

// commonFlags are the flags every client-side command accepts.
type commonFlags struct {
	config *string
	debug  *bool
	server *string
	output *string
}

func newCommonFlags(fs *flag.FlagSet, withOutput bool) *commonFlags {
	f := &commonFlags{
		config: fs.String("config", defaultConfigPath, "config file path"),
		debug:  fs.Bool("debug", false, "enable debug logging"),
		server: fs.String("server", defaultServerURL, "proxy URL (empty = work on cache storage directly)"),
	}
	if withOutput {
		f.output = fs.String("output", "text", "output format: text or json")
	}
	return f
}

func (f *commonFlags) env() *commandEnv {
	cfg, _, err := loadConfig(*f.config)
	if err != nil {
		fail("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || *f.debug
	logger, err := newLogger(cfg, debugMode)
	if err != nil {
		fail("Failed to create logger: %v", err)
	}
	env := &commandEnv{cfg: cfg, logger: logger, serverURL: *f.server, format: cli.OutputText, debug: debugMode}
	if f.output != nil {
		if env.format, err = cli.ParseFormat(*f.output); err != nil {
			fail("%v", err)
		}
	}
	return env
}

// local opens the cache storage directly and registers the configured generation.
func (e *commandEnv) local(ctx context.Context) *Components {
	components, err := initializeComponents(ctx, e.cfg, e.logger, e.debug, offline.Hooks{})
	if err != nil {
		fail("Failed to initialize: %v", err)
	}
	if _, err := components.Manager.Register(ctx, e.cfg.Cache.Version); err != nil {
		components.Close()
		fail("Cache registration failed: %v", err)
	}
	return components
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	common := newCommonFlags(fs, true)
	maxResults := fs.Int("max-results", 0, "number of source chunks to retrieve (0 = config default)")
	modelVps := fs.Bool("model-vps", false, "route the question to the VPS-hosted model")
	_ = fs.Parse(argsReorder(args))

	question := joinArgs(fs.Args())
	if question == "" {
		fail("Usage: nestelia query [flags] <question>")
	}
	env := common.env()
	defer env.logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	client := stream.NewClient(env.cfg.Stream, stream.WithLogger(env.logger))
	streamed := env.format == cli.OutputText
	var onToken func(string)
	if streamed {
		onToken = func(token string) { fmt.Print(token) }
	}
	resp, err := client.QueryStream(ctx, models.Query{
		Question:    question,
		MaxResults:  *maxResults,
		UseModelVps: *modelVps,
	}, onToken)
	if err != nil {
		if streamed {
			fmt.Println()
		}
		fail("Query failed: %v", err)
	}
	if err := cli.WriteAnswer(os.Stdout, resp, env.format, streamed); err != nil {
		fail("Output failed: %v", err)
	}
}

// sendOrRun posts msg to the running proxy, or applies it to local storage when no
// proxy is configured.
func sendOrRun(ctx context.Context, env *commandEnv, msg offline.Message) {
	if env.serverURL != "" {
		ctl := newControlClient(env.serverURL)
		defer ctl.Close()
		if err := ctl.post(ctx, msg); err != nil {
			fail("Message failed: %v", err)
		}
		fmt.Printf("%s accepted by %s\n", msg.Type, env.serverURL)
		return
	}

	components := env.local(ctx)
	defer components.Close()
	if err := components.Manager.PostMessage(ctx, msg); err != nil {
		fail("Message failed: %v", err)
	}
	components.Manager.Wait()
	cli.WriteRegistration(os.Stdout, components.Manager.Registration())
	st := components.Manager.Stats()
	if msg.Type == offline.MessageCacheURLs {
		fmt.Printf("precached %d, failed %d\n", st.Precached, st.PrecacheFailures)
	}
}

func runPrecache(args []string) {
	fs := flag.NewFlagSet("precache", flag.ExitOnError)
	common := newCommonFlags(fs, false)
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() == 0 {
		fail("Usage: nestelia precache [flags] <url>...")
	}
	env := common.env()
	defer env.logger.Sync()

	ctx, stop := signalContext()
	defer stop()
	sendOrRun(ctx, env, offline.Message{Type: offline.MessageCacheURLs, URLs: fs.Args()})
}

func runActivate(args []string) {
	fs := flag.NewFlagSet("activate", flag.ExitOnError)
	common := newCommonFlags(fs, false)
	_ = fs.Parse(args)
	env := common.env()
	defer env.logger.Sync()

	ctx, stop := signalContext()
	defer stop()
	// Locally the configured version is registered directly, which activates it.
	sendOrRun(ctx, env, offline.Message{Type: offline.MessageSkipWaiting})
}

func runWarm(args []string) {
	fs := flag.NewFlagSet("warm", flag.ExitOnError)
	common := newCommonFlags(fs, false)
	pageSize := fs.Int("page-size", 50, "entries per listing page")
	maxPages := fs.Int("max-pages", 100, "maximum listing pages to walk")
	_ = fs.Parse(args)
	env := common.env()
	defer env.logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	api, err := rest.NewClient(env.cfg.API, rest.WithLogger(env.logger))
	if err != nil {
		fail("Failed to create API client: %v", err)
	}
	defer api.Close()

	ids, err := rest.NewWikiService(api).AllEntryIDs(ctx, *pageSize, *maxPages)
	if err != nil && len(ids) == 0 {
		fail("Listing entries failed: %v", err)
	}
	if err != nil {
		env.logger.Warn("listing stopped early", zap.Int("entries", len(ids)), zap.Error(err))
	}
	if len(ids) == 0 {
		fmt.Println("No entries to warm")
		return
	}
	fmt.Printf("Warming %d entries\n", len(ids))
	sendOrRun(ctx, env, offline.Message{Type: offline.MessageCacheURLs, URLs: precache.ListingURLs(ids)})
}

func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	common := newCommonFlags(fs, true)
	limit := fs.Int("limit", 0, "number of results (0 = config default)")
	fuzzy := fs.Bool("fuzzy", false, "enable fuzzy matching for typo tolerance")
	_ = fs.Parse(argsReorder(args))

	q := joinArgs(fs.Args())
	if q == "" {
		fail("Usage: nestelia search [flags] <query>")
	}
	env := common.env()
	defer env.logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	var resp *server.SearchResponse
	var err error
	if env.serverURL != "" {
		ctl := newControlClient(env.serverURL)
		defer ctl.Close()
		resp, err = ctl.search(ctx, q, *limit, *fuzzy)
	} else {
		resp, err = searchLocal(ctx, env.cfg, q, *limit, *fuzzy)
	}
	if err != nil {
		fail("Search failed: %v", err)
	}
	if err := cli.WriteSearchResults(os.Stdout, resp, env.format); err != nil {
		fail("Output failed: %v", err)
	}
}

// searchLocal searches the on-disk index, keeping pages of the configured generation.
func searchLocal(ctx context.Context, cfg *config.Config, q string, limit int, fuzzy bool) (*server.SearchResponse, error) {
	idx, err := keyword.NewBleveIndex(cfg.Search.IndexPath)
	if err != nil {
		return nil, err
	}
	defer idx.Close()

	if limit <= 0 {
		limit = cfg.Search.DefaultLimit
	}
	gen := offline.Generation{Prefix: cfg.Cache.Prefix, Version: cfg.Cache.Version}
	hits, err := idx.Search(ctx, q, limit*3, &keyword.SearchOptions{TitleBoost: 2, FuzzyEnabled: fuzzy})
	if err != nil {
		return nil, err
	}
	resp := &server.SearchResponse{Query: q, Results: []*keyword.Result{}}
	for _, h := range hits {
		if gen.Owns(h.Partition) && len(resp.Results) < limit {
			resp.Results = append(resp.Results, h)
		}
	}
	resp.Total = len(resp.Results)
	if resp.Total == 0 {
		if s, err := keyword.NewSuggester(idx, 2, 1).Suggest(q); err == nil {
			resp.Suggestion = s
		}
	}
	return resp, nil
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	common := newCommonFlags(fs, true)
	_ = fs.Parse(args)
	env := common.env()
	defer env.logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	var status *server.StatusResponse
	var err error
	if env.serverURL != "" {
		ctl := newControlClient(env.serverURL)
		defer ctl.Close()
		status, err = ctl.status(ctx)
	} else {
		status, err = localStatus(ctx, env.cfg)
	}
	if err != nil {
		fail("Status failed: %v", err)
	}
	if err := cli.WriteStatus(os.Stdout, status, env.format); err != nil {
		fail("Output failed: %v", err)
	}
}

// localStatus reports partitions straight from storage. Registration reflects the
// configured version when its app-shell partition exists.
func localStatus(ctx context.Context, cfg *config.Config) (*server.StatusResponse, error) {
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	names, err := store.Partitions(ctx)
	if err != nil {
		return nil, err
	}
	gen := offline.Generation{Prefix: cfg.Cache.Prefix, Version: cfg.Cache.Version}
	status := &server.StatusResponse{
		Registration: offline.Registration{State: offline.StateUncontrolled},
		Partitions:   make([]server.PartitionStatus, 0, len(names)),
		Backend:      cfg.Cache.Backend,
	}
	for _, name := range names {
		n, err := store.CountEntries(ctx, name)
		if err != nil {
			return nil, err
		}
		current := gen.Owns(name)
		if current && name == gen.Names()[0] {
			status.Registration = offline.Registration{Active: gen.Version, State: offline.StateActive}
		}
		status.Partitions = append(status.Partitions, server.PartitionStatus{Name: name, Entries: n, Current: current})
	}
	var paths []string
	if cfg.Cache.Backend == "sqlite" {
		paths = append(paths, storage.SQLiteFiles(cfg.Cache.DatabasePath)...)
	}
	if cfg.Search.IndexPath != "" {
		paths = append(paths, cfg.Search.IndexPath)
	}
	if n, err := storage.DiskUsageBytes(paths...); err == nil {
		status.DiskUsageBytes = n
	}
	return status, nil
}
