// Package urlblock contains the blocking engine that decides whether a request
// must be blocked according to the loaded filter lists.
package urlblock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/urlblock/filterlist"
	"github.com/AdguardTeam/urlblock/internal/bloom"
	"github.com/AdguardTeam/urlblock/rules"
)

const (
	// ErrNoSources is returned when the engine has no filter list sources.
	ErrNoSources errors.Error = "no filter list sources"

	// ErrAllSourcesFailed is returned when none of the sources could be
	// fetched.
	ErrAllSourcesFailed errors.Error = "all filter list sources failed"
)

// Config is the configuration structure for the [Engine].
type Config struct {
	// Logger is used to log the loading of the filter lists.  If nil, the
	// logs are discarded.
	Logger *slog.Logger

	// Provider fetches the filter lists.  It must not be nil.
	Provider filterlist.Provider

	// Sources are the filter lists to load.
	Sources []*filterlist.Source

	// BloomFalsePositiveRate is the target false positive rate of the Bloom
	// filter.  If zero, [bloom.DefaultFalsePositiveRate] is used.
	BloomFalsePositiveRate float64

	// DecisionCacheSize is the number of decisions to cache per loaded rule
	// set.  Zero disables caching.
	DecisionCacheSize int
}

// Engine is the blocking engine.  All methods are safe for concurrent use.
// ShouldBlock never waits for Initialize or Reload.
type Engine struct {
	logger   *slog.Logger
	provider filterlist.Provider

	// snap is the currently published rule set.  It is nil until the first
	// successful load.
	snap atomic.Pointer[snapshot]

	// loadMu serializes the loads.
	loadMu *sync.Mutex

	sources []*filterlist.Source

	fpRate    float64
	cacheSize int

	totalChecks atomic.Uint64
	totalBlocks atomic.Uint64

	// checkTime is the total time spent in ShouldBlock, in nanoseconds.
	checkTime atomic.Int64
}

// New returns a new engine.  The engine doesn't block anything until
// [Engine.Initialize] succeeds.
func New(c *Config) (e *Engine, err error) {
	if c.Provider == nil {
		return nil, fmt.Errorf("config: provider: %w", errors.ErrNoValue)
	}

	if c.DecisionCacheSize < 0 {
		return nil, fmt.Errorf("config: decision cache size: %w: %d", errors.ErrNegative, c.DecisionCacheSize)
	}

	if c.BloomFalsePositiveRate < 0 || c.BloomFalsePositiveRate >= 1 {
		return nil, fmt.Errorf("config: bloom false positive rate: bad value %v", c.BloomFalsePositiveRate)
	}

	e = &Engine{
		logger:    c.Logger,
		provider:  c.Provider,
		loadMu:    &sync.Mutex{},
		sources:   c.Sources,
		fpRate:    c.BloomFalsePositiveRate,
		cacheSize: c.DecisionCacheSize,
	}

	if e.logger == nil {
		e.logger = slogutil.NewDiscardLogger()
	}

	if e.fpRate == 0 {
		e.fpRate = bloom.DefaultFalsePositiveRate
	}

	return e, nil
}

// Initialize loads the filter lists and publishes the rules.  It returns
// [ErrNoSources] if there are no sources and [ErrAllSourcesFailed] if none of
// them could be fetched.  Calling Initialize on an initialized engine does
// nothing.
func (e *Engine) Initialize(ctx context.Context) (err error) {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	if e.snap.Load() != nil {
		return nil
	}

	return errors.Annotate(e.load(ctx), "initializing: %w")
}

// Reload loads the filter lists again and replaces the rules.  If loading
// fails, the previously loaded rules keep being used.
func (e *Engine) Reload(ctx context.Context) (err error) {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	return errors.Annotate(e.load(ctx), "reloading: %w")
}

// Initialized returns true if the rules have been loaded.
func (e *Engine) Initialized() (ok bool) {
	return e.snap.Load() != nil
}

// load fetches and parses the lists and publishes the new snapshot.  e.loadMu
// must be locked.
func (e *Engine) load(ctx context.Context) (err error) {
	if len(e.sources) == 0 {
		return ErrNoSources
	}

	start := time.Now()

	lists := e.provider.Fetch(ctx, e.sources)
	s, fetched := e.build(ctx, lists)
	if fetched == 0 {
		e.logger.ErrorContext(ctx, "loading filter lists", slogutil.KeyError, ErrAllSourcesFailed)

		return ErrAllSourcesFailed
	}

	s.loadTime = time.Since(start)

	e.snap.Store(s)

	e.logger.InfoContext(
		ctx,
		"loaded filter lists",
		"lists", fetched,
		"sources", len(e.sources),
		"block_rules", s.block.count(),
		"exception_rules", s.exception.count(),
		"errored", s.parse.Errored,
		"elapsed", s.loadTime,
	)

	return nil
}

// build parses the lists and builds a snapshot from them.  The lists are
// matched to the sources by URL, so the provider may return copies of the
// sources.  fetched is the number of sources that got a list.
func (e *Engine) build(
	ctx context.Context,
	lists []*filterlist.List,
) (s *snapshot, fetched int) {
	byURL := make(map[string]*filterlist.List, len(lists))
	for _, l := range lists {
		if l == nil || l.Source == nil {
			continue
		}

		byURL[l.Source.URL] = l
	}

	var all []*rules.Rule
	reports := make([]*SourceReport, 0, len(e.sources))
	parse := rules.ParseStats{}
	for _, src := range e.sources {
		report := &SourceReport{
			Name: src.Name,
			URL:  src.URL,
		}
		reports = append(reports, report)

		l, ok := byURL[src.URL]
		if !ok {
			continue
		}

		fetched++

		rs, stats := rules.ParseList(l.Text)
		report.Fetched = true
		report.Parse = stats
		parse.Add(&stats)
		all = append(all, rs...)

		for _, parseErr := range stats.Errors {
			e.logger.DebugContext(ctx, "bad rule", "list", src.Name, slogutil.KeyError, parseErr)
		}
	}

	s = newSnapshot(ctx, e.logger, all, e.fpRate, e.cacheSize)
	s.parse = parse
	s.sources = reports
	s.loadedAt = time.Now()

	return s, fetched
}

// ShouldBlock returns true if the request to url must be blocked.
// resourceType and pageURL may be empty if unknown.  ShouldBlock returns false
// if the engine has not been initialized yet.
func (e *Engine) ShouldBlock(url, resourceType, pageURL string) (ok bool) {
	s := e.snap.Load()
	if s == nil {
		return false
	}

	start := time.Now()
	ok = s.shouldBlock(url, resourceType, pageURL)
	e.checkTime.Add(int64(time.Since(start)))

	e.totalChecks.Add(1)
	if ok {
		e.totalBlocks.Add(1)
	}

	return ok
}

// MatchingRule returns the rule that blocks the request or nil if the request
// isn't blocked.  It doesn't affect the statistics.
func (e *Engine) MatchingRule(url, resourceType, pageURL string) (r *rules.Rule) {
	s := e.snap.Load()
	if s == nil {
		return nil
	}

	return s.decide(rules.NewRequest(url, resourceType, pageURL))
}
