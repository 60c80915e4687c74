package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"auditfetch/internal/core/domain"
	"auditfetch/internal/core/ports"
	"auditfetch/internal/metrics"
)

// API limits; windows outside them are attempted but usually return nothing.
const (
	maxWindow    = 24 * time.Hour
	maxRetention = 7 * 24 * time.Hour
)

// OutcomeFunc receives each RunLog entry as soon as it is recorded.
type OutcomeFunc func(domain.Outcome)

// Orchestrator coordinates the fetch workflow.
type Orchestrator struct {
	tokens    ports.TokenProvider
	lister    ports.ContentLister
	fetcher   ports.BlobFetcher
	openStore ports.StoreOpener
	metrics   *metrics.Metrics
	log       *slog.Logger
	now       func() time.Time
}

// NewOrchestrator creates a new Orchestrator. m may be nil.
func NewOrchestrator(
	tokens ports.TokenProvider,
	lister ports.ContentLister,
	fetcher ports.BlobFetcher,
	openStore ports.StoreOpener,
	m *metrics.Metrics,
	log *slog.Logger,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		tokens:    tokens,
		lister:    lister,
		fetcher:   fetcher,
		openStore: openStore,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

// Start runs cfg in a new goroutine. onOutcome, if non-nil, is called for
// every RunLog entry in order. The returned channel yields exactly one
// result and is then closed.
func (o *Orchestrator) Start(ctx context.Context, cfg domain.RunConfig, onOutcome OutcomeFunc) <-chan *domain.RunResult {
	ch := make(chan *domain.RunResult, 1)
	go func() {
		defer close(ch)
		res, _ := o.run(ctx, cfg, onOutcome)
		ch <- res
	}()
	return ch
}

// Run executes one run synchronously. A fatal error (validation or
// authentication) is returned with a result whose Log is nil; per-category
// and per-blob failures are only recorded in the Log.
func (o *Orchestrator) Run(ctx context.Context, cfg domain.RunConfig) (*domain.RunResult, error) {
	return o.run(ctx, cfg, nil)
}

func (o *Orchestrator) run(ctx context.Context, cfg domain.RunConfig, onOutcome OutcomeFunc) (*domain.RunResult, error) {
	runID := uuid.New().String()
	log := o.log.With("run_id", runID)
	result := &domain.RunResult{RunID: runID, StartedAt: o.now().UTC()}

	fail := func(err error) (*domain.RunResult, error) {
		result.Err = err
		result.Log = nil
		result.CompletedAt = o.now().UTC()
		o.countRun("failed")
		log.Error("run failed", "error", err)
		return result, err
	}

	if err := cfg.Validate(); err != nil {
		return fail(err)
	}
	result.Config = cfg
	o.checkWindow(log, cfg)

	log.Info("starting run",
		"tenant_id", cfg.TenantID,
		"categories", cfg.Categories,
		"start", cfg.WindowStart,
		"end", cfg.WindowEnd,
		"destination", cfg.DestinationDir)

	store, err := o.openStore(ctx, cfg.DestinationDir)
	if err != nil {
		return fail(&domain.ValidationError{Field: "destination", Reason: err.Error()})
	}
	if err := store.Init(ctx); err != nil {
		return fail(&domain.ValidationError{Field: "destination", Reason: err.Error()})
	}
	result.Destination = store.Location()

	if o.metrics != nil {
		o.metrics.TokenRequestsTotal.Inc()
	}
	token, err := o.tokens.GetAccessToken(ctx, cfg.AppID, cfg.TenantID, cfg.AppSecret)
	if err != nil {
		if o.metrics != nil {
			o.metrics.TokenFailuresTotal.Inc()
		}
		return fail(err)
	}

	runLog := &domain.RunLog{}
	record := func(outcomes ...domain.Outcome) {
		for _, oc := range outcomes {
			runLog.Append(oc)
			o.metrics.ObserveOutcome(oc)
			logOutcome(log, oc)
			if onOutcome != nil {
				onOutcome(oc)
			}
		}
	}

	for _, category := range cfg.Categories {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		clog := log.With("category", category)
		if token.Expired(o.now()) {
			clog.Warn("access token has expired; listing may be refused", "expires_at", token.ExpiresAt)
		}
		if role := token.MissingRole(category); role != "" {
			record(domain.Outcome{Kind: domain.OutcomeMissingRole, Category: category, Role: role})
		}
		clog.Info("listing content")

		listing, err := o.lister.ListContent(ctx, token, cfg.TenantID, category, cfg.WindowStart, cfg.WindowEnd)
		if err != nil {
			record(domain.Outcome{Kind: domain.OutcomeCategoryError, Category: category, Err: err})
			continue
		}
		if len(listing.Pointers) == 0 {
			record(domain.Outcome{
				Kind:     domain.OutcomeNoContent,
				Category: category,
				Err:      domain.ErrNoContentFound,
				Start:    cfg.WindowStart,
				End:      cfg.WindowEnd,
			})
		} else {
			clog.Info("content listed", "pointers", len(listing.Pointers))
			if o.metrics != nil {
				o.metrics.CategoryListingsTotal.WithLabelValues(string(category), "ok").Inc()
				o.metrics.PointersTotal.WithLabelValues(string(category)).Add(float64(len(listing.Pointers)))
			}
			if err := o.processPointers(ctx, token, store, category, listing.Pointers, cfg.Concurrency, record); err != nil {
				return fail(err)
			}
		}

		if listing.NextPageURI != "" {
			record(domain.Outcome{Kind: domain.OutcomeMorePages, Category: category, ContentURI: listing.NextPageURI})
		}
	}

	result.Log = runLog
	result.CompletedAt = o.now().UTC()
	o.countRun("success")
	log.Info("run completed",
		"entries", len(runLog.Entries()),
		"saved", runLog.Count(domain.OutcomeSaved),
		"duplicates", runLog.Count(domain.OutcomeDuplicate),
		"duration", result.CompletedAt.Sub(result.StartedAt))
	return result, nil
}

// processPointers fetches and stores every pointer of one category. With a
// concurrency above one the downloads overlap, but outcomes are still
// recorded in pointer order.
func (o *Orchestrator) processPointers(
	ctx context.Context,
	token domain.AccessToken,
	store ports.BlobStore,
	category domain.Category,
	pointers []domain.ContentPointer,
	concurrency int,
	record func(...domain.Outcome),
) error {
	if concurrency <= 1 {
		for _, p := range pointers {
			if err := ctx.Err(); err != nil {
				return err
			}
			record(o.FetchAndStore(ctx, token, store, category, p.ContentURI)...)
		}
		return nil
	}

	results := make([][]domain.Outcome, len(pointers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, p := range pointers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = o.FetchAndStore(gctx, token, store, category, p.ContentURI)
			return nil
		})
	}
	err := g.Wait()
	for _, outcomes := range results {
		record(outcomes...)
	}
	return err
}

// FetchAndStore downloads one blob and stores it under its logical id.
// Every failure is returned as an outcome, never as an error.
func (o *Orchestrator) FetchAndStore(ctx context.Context, token domain.AccessToken, store ports.BlobStore, category domain.Category, contentURI string) []domain.Outcome {
	base := domain.Outcome{Category: category, ContentURI: contentURI}

	started := o.now()
	data, err := o.fetcher.Fetch(ctx, token, contentURI)
	if o.metrics != nil {
		o.metrics.BlobFetchDuration.Observe(o.now().Sub(started).Seconds())
	}
	if err != nil {
		base.Kind = domain.OutcomeBlobError
		base.Err = err
		return []domain.Outcome{base}
	}

	if len(data) == 0 {
		base.Kind = domain.OutcomeBlobEmpty
		base.Err = domain.ErrEmptyBlob
		return []domain.Outcome{base}
	}

	res, err := store.Save(ctx, domain.LogicalID(contentURI), data)
	if err != nil {
		base.Kind = domain.OutcomeStoreError
		base.Err = fmt.Errorf("store blob: %w", err)
		return []domain.Outcome{base}
	}

	base.Path = res.Path
	if res.Duplicate {
		base.Kind = domain.OutcomeDuplicate
	} else {
		base.Kind = domain.OutcomeSaved
	}
	return []domain.Outcome{base}
}

func (o *Orchestrator) checkWindow(log *slog.Logger, cfg domain.RunConfig) {
	if cfg.WindowEnd.Sub(cfg.WindowStart) > maxWindow {
		log.Warn("window is longer than 24h; the API may reject it",
			"start", cfg.WindowStart, "end", cfg.WindowEnd)
	}
	if o.now().Sub(cfg.WindowStart) > maxRetention {
		log.Warn("window starts more than 7 days ago; content may have expired",
			"start", cfg.WindowStart)
	}
}

func (o *Orchestrator) countRun(result string) {
	if o.metrics != nil {
		o.metrics.RunsTotal.WithLabelValues(result).Inc()
	}
}

func logOutcome(log *slog.Logger, oc domain.Outcome) {
	attrs := []any{"category", oc.Category, "outcome", oc.Kind}
	if oc.ContentURI != "" {
		attrs = append(attrs, "content_uri", oc.ContentURI)
	}
	if oc.Path != "" {
		attrs = append(attrs, "path", oc.Path)
	}
	if oc.IsError() || oc.Kind == domain.OutcomeMissingRole {
		log.Warn(oc.String(), attrs...)
		return
	}
	log.Info(oc.String(), attrs...)
}
