// Package app builds the long-lived services of the scraper and runs them, acting as a
// dependency injection container for the commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/api"
	"github.com/JakeFAU/site-scraper/internal/cache"
	"github.com/JakeFAU/site-scraper/internal/clock/system"
	"github.com/JakeFAU/site-scraper/internal/config"
	"github.com/JakeFAU/site-scraper/internal/crawler"
	"github.com/JakeFAU/site-scraper/internal/dispatcher"
	"github.com/JakeFAU/site-scraper/internal/extract"
	collyfetcher "github.com/JakeFAU/site-scraper/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/site-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/site-scraper/internal/hash/sha256"
	"github.com/JakeFAU/site-scraper/internal/id/uuid"
	"github.com/JakeFAU/site-scraper/internal/jobs"
	"github.com/JakeFAU/site-scraper/internal/metrics"
	"github.com/JakeFAU/site-scraper/internal/policy/blocklist"
	"github.com/JakeFAU/site-scraper/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/site-scraper/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/site-scraper/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/site-scraper/internal/queue/memory"
	"github.com/JakeFAU/site-scraper/internal/storage/gcs"
	"github.com/JakeFAU/site-scraper/internal/storage/local"
	memoryStorage "github.com/JakeFAU/site-scraper/internal/storage/memory"
	"github.com/JakeFAU/site-scraper/internal/storage/postgres"
	redisstore "github.com/JakeFAU/site-scraper/internal/storage/redis"
	"github.com/JakeFAU/site-scraper/internal/worker"
)

// App holds the shared services of a running scraper.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	clock      crawler.Clock
	queue      *queueMemory.Queue
	results    *cache.TTL[crawler.Result]
	scraper    *crawler.Orchestrator
	dispatcher *dispatcher.Dispatcher
	jobs       *jobs.Service
	server     *api.Server

	closeOnce sync.Once
	closers   []func()
}

// Scraper is a standalone site scraper plus the function that releases its resources.
type Scraper struct {
	*crawler.Orchestrator
	close func()
}

// Close releases the browser and any other resources held by the scraper.
func (s *Scraper) Close() {
	if s.close != nil {
		s.close()
	}
}

// NewScraper builds the fetch and extraction pipeline without any queue or storage.
func NewScraper(cfg config.Config, logger *zap.Logger) (*Scraper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, clock: system.New()}
	orchestrator, err := a.buildScraper()
	if err != nil {
		a.Close()
		return nil, err
	}
	return &Scraper{Orchestrator: orchestrator, close: a.Close}, nil
}

// New creates and initializes every service cfg asks for. It fails fast and releases
// whatever was already opened when a backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	metrics.Init()
	a := &App{cfg: cfg, logger: logger, clock: system.New()}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	a.logger.Info("initializing application services")

	store, err := a.buildJobStore(ctx)
	if err != nil {
		return err
	}
	a.queue = queueMemory.NewQueue(a.cfg.Queue.Depth)
	metrics.SetQueueDepthFunc(a.queue.Len)
	a.onClose(a.queue.Close)

	if a.scraper, err = a.buildScraper(); err != nil {
		return err
	}
	a.results = cache.New[crawler.Result](a.cfg.Cache.TTL, a.clock)

	sinks, err := a.buildSinks(ctx)
	if err != nil {
		return err
	}

	workerCfg := worker.Config{
		JobTimeout:     a.cfg.Queue.JobTimeout,
		BackoffInitial: a.cfg.Queue.BackoffInitial,
		ArchivePrefix:  a.cfg.Archive.Prefix,
		Topic:          a.cfg.PubSub.TopicName,
	}
	workers := make([]dispatcher.Runner, 0, a.cfg.Queue.Workers)
	for i := range max(a.cfg.Queue.Workers, 1) {
		workers = append(workers, worker.New(
			a.queue,
			store,
			a.scraper,
			a.clock,
			sinks,
			a.results,
			workerCfg,
			a.logger.With(zap.Int("worker", i)),
		))
	}
	a.dispatcher = dispatcher.New(a.queue, workers)
	jobsCfg := jobs.Config{MaxAttempts: a.cfg.Queue.Attempts}
	if blocked := blocklist.New(a.cfg.Scraper.BlockedDomains); blocked != nil {
		jobsCfg.Policy = blocked
		a.logger.Info("domain blocklist active", zap.Int("patterns", blocked.Len()))
	}
	a.jobs = jobs.NewService(store, a.dispatcher, uuid.New(), a.clock, jobsCfg, a.logger)
	a.server = api.NewServer(a.jobs, a.cfg, a.logger)

	a.logger.Info("application services initialized",
		zap.String("store", a.cfg.Store.Backend),
		zap.String("archive", a.cfg.Archive.Backend),
		zap.Int("workers", a.dispatcher.Size()),
		zap.Bool("headless", a.cfg.Headless.Enabled),
		zap.Bool("result_cache", a.results.Enabled()),
	)
	return nil
}

func (a *App) buildJobStore(ctx context.Context) (crawler.JobStore, error) {
	switch a.cfg.Store.Backend {
	case config.StoreRedis:
		client, err := redisstore.NewClient(ctx, a.cfg.Store.RedisAddr, a.cfg.Store.RedisPassword, a.cfg.Store.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize job store: %w", err)
		}
		a.onClose(func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("redis close failed", zap.Error(err))
			}
		})
		a.logger.Info("using redis job store", zap.String("addr", a.cfg.Store.RedisAddr))
		return redisstore.NewJobStore(client, a.cfg.Store.RedisPrefix, a.cfg.Retention()), nil
	default:
		return memoryStorage.NewJobStore(a.cfg.Retention()), nil
	}
}

// buildScraper wires fetchers, politeness and extraction into an orchestrator.
// Sitemaps are always read with the plain HTTP fetcher; pages go through Chrome
// when headless rendering is enabled.
func (a *App) buildScraper() (*crawler.Orchestrator, error) {
	extractor, err := extract.New(extract.Format(a.cfg.Scraper.Format))
	if err != nil {
		return nil, fmt.Errorf("build extractor: %w", err)
	}
	httpFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Scraper.UserAgent,
		Timeout:       a.cfg.Scraper.RequestTimeout,
		MaxRedirects:  a.cfg.Scraper.MaxRedirects,
		RespectRobots: a.cfg.Scraper.RespectRobots,
	})

	var pageFetcher crawler.Fetcher = httpFetcher
	if a.cfg.Headless.Enabled {
		browser, err := headlessfetcher.New(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Scraper.UserAgent,
			NavigationTimeout: a.cfg.Headless.NavTimeout,
			ExecPath:          a.cfg.Headless.ExecPath,
		})
		if err != nil {
			a.logger.Warn("headless fetcher init failed, falling back to http", zap.Error(err))
		} else {
			a.onClose(browser.Close)
			pageFetcher = browser
		}
	}

	opts := []crawler.PageFetcherOption{
		crawler.WithRequestTimeout(a.cfg.Scraper.RequestTimeout),
		crawler.WithPageObserver(func(url, status string, bytes int) {
			metrics.ObservePage(url, status, bytes)
		}),
	}
	if a.cfg.Politeness.RPS > 0 {
		opts = append(opts, crawler.WithWaiter(ratelimit.New(ratelimit.Config{
			RPS:   a.cfg.Politeness.RPS,
			Burst: a.cfg.Politeness.Burst,
		})))
	}
	pages := crawler.NewPageFetcher(pageFetcher, extractor, opts...)
	return crawler.NewOrchestrator(a.cfg.Crawler(), httpFetcher, pages, a.clock, a.logger), nil
}

func (a *App) buildSinks(ctx context.Context) (worker.Sinks, error) {
	sinks := worker.Sinks{Hasher: sha256.New()}

	switch a.cfg.Archive.Backend {
	case config.ArchiveMemory:
		sinks.Blobs = memoryStorage.NewBlobStore()
	case config.ArchiveLocal:
		blobs, err := local.New(local.Config{BaseDir: a.cfg.Archive.LocalDir})
		if err != nil {
			return sinks, fmt.Errorf("failed to initialize archive: %w", err)
		}
		sinks.Blobs = blobs
	case config.ArchiveGCS:
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return sinks, fmt.Errorf("failed to initialize archive: %w", err)
		}
		a.onClose(func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("storage client close failed", zap.Error(err))
			}
		})
		blobs, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return sinks, fmt.Errorf("failed to initialize archive: %w", err)
		}
		sinks.Blobs = blobs
	}

	if a.cfg.DB.DSN != "" {
		a.logger.Info("connecting to postgres")
		runs, err := postgres.NewRunStore(ctx, postgres.RunStoreConfig{
			DSN:      a.cfg.DB.DSN,
			Table:    a.cfg.DB.Table,
			MaxConns: a.cfg.DB.MaxConns,
		})
		if err != nil {
			return sinks, fmt.Errorf("failed to initialize run store: %w", err)
		}
		a.onClose(runs.Close)
		if a.cfg.DB.AutoMigrate {
			if err := runs.EnsureSchema(ctx); err != nil {
				return sinks, fmt.Errorf("failed to initialize run store: %w", err)
			}
		}
		sinks.Runs = runs
	}

	if a.cfg.PubSub.TopicName != "" {
		client, err := pubsubpublisher.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return sinks, fmt.Errorf("failed to initialize publisher: %w", err)
		}
		publisher := pubsubpublisher.New(client)
		a.onClose(func() {
			if err := publisher.Close(); err != nil {
				a.logger.Warn("publisher close failed", zap.Error(err))
			}
		})
		a.logger.Info("publishing completions to pub/sub", zap.String("topic", a.cfg.PubSub.TopicName))
		sinks.Publisher = publisher
	} else {
		sinks.Publisher = memorypublisher.New(0)
	}
	return sinks, nil
}

// Jobs exposes the job service.
func (a *App) Jobs() *jobs.Service {
	return a.jobs
}

// Handler returns the HTTP handler of the API.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Run listens on the configured port and serves until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve starts the workers, requeues unfinished jobs and serves the API on ln. When ctx
// ends the server drains in-flight requests and Serve waits for the workers to stop.
// Jobs still queued at that point stay waiting in the store for the next Recover.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatcher.Size()))
		a.dispatcher.Run(ctx)
	}()

	if a.results.Enabled() && a.cfg.Cache.PurgeInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.purgeResults(ctx, a.cfg.Cache.PurgeInterval)
		}()
	}

	if n, err := a.jobs.Recover(ctx); err != nil {
		a.logger.Error("recover pending jobs failed", zap.Int("requeued", n), zap.Error(err))
	}

	srv := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()
	a.logger.Info("shutdown complete", zap.Int("left_waiting", a.dispatcher.Pending()))

	if err := <-serveErr; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (a *App) purgeResults(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.results.Purge(); n > 0 {
				a.logger.Debug("purged cached results", zap.Int("count", n))
			}
		}
	}
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases every service in reverse order of creation. It is safe to call twice.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
	})
}
