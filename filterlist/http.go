package filterlist

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/c2h5oh/datasize"
	"golang.org/x/sync/errgroup"
)

// ErrTooLarge is returned when the list exceeds the maximum size.
const ErrTooLarge errors.Error = "filter list is too large"

// Default values for [HTTPConfig].
const (
	DefaultAttempts       = 3
	DefaultConcurrency    = 4
	DefaultInitialBackoff = 1 * time.Second
	DefaultMaxSize        = 64 * datasize.MB
	DefaultTimeout        = 30 * time.Second
	DefaultUserAgent      = "urlblock/1.0"
)

// HTTPConfig is the configuration structure for the [HTTPProvider].  All
// fields are optional, zero values mean the defaults.
type HTTPConfig struct {
	// Logger is used to log the fetch failures.
	Logger *slog.Logger

	// Client is used for the HTTP requests.  If nil, a client with Timeout is
	// used.
	Client *http.Client

	// UserAgent is the value of the User-Agent header.
	UserAgent string

	// Timeout is the timeout of a single attempt.
	Timeout time.Duration

	// InitialBackoff is the delay before the second attempt.  Each next delay
	// is twice as long.
	InitialBackoff time.Duration

	// MaxSize is the maximum size of a list.
	MaxSize datasize.ByteSize

	// Attempts is the maximum number of attempts per source.
	Attempts int

	// Concurrency is the maximum number of sources fetched at once.
	Concurrency int
}

// HTTPProvider is a [Provider] that downloads the lists over HTTP(S) and reads
// them from the local files.
type HTTPProvider struct {
	logger         *slog.Logger
	client         *http.Client
	userAgent      string
	timeout        time.Duration
	initialBackoff time.Duration
	maxSize        datasize.ByteSize
	attempts       int
	concurrency    int
}

// type check
var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider returns a new properly initialized *HTTPProvider.  c may be
// nil.
func NewHTTPProvider(c *HTTPConfig) (p *HTTPProvider) {
	if c == nil {
		c = &HTTPConfig{}
	}

	p = &HTTPProvider{
		logger:         c.Logger,
		client:         c.Client,
		userAgent:      c.UserAgent,
		timeout:        c.Timeout,
		initialBackoff: c.InitialBackoff,
		maxSize:        c.MaxSize,
		attempts:       c.Attempts,
		concurrency:    c.Concurrency,
	}

	if p.logger == nil {
		p.logger = slogutil.NewDiscardLogger()
	}

	p.setDefaults()

	return p
}

// setDefaults replaces the zero values with the defaults.
func (p *HTTPProvider) setDefaults() {
	if p.userAgent == "" {
		p.userAgent = DefaultUserAgent
	}

	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}

	if p.initialBackoff <= 0 {
		p.initialBackoff = DefaultInitialBackoff
	}

	if p.maxSize == 0 {
		p.maxSize = DefaultMaxSize
	}

	if p.attempts <= 0 {
		p.attempts = DefaultAttempts
	}

	if p.concurrency <= 0 {
		p.concurrency = DefaultConcurrency
	}

	if p.client == nil {
		p.client = &http.Client{
			Timeout: p.timeout,
		}
	}
}

// Fetch implements the [Provider] interface for *HTTPProvider.
func (p *HTTPProvider) Fetch(ctx context.Context, srcs []*Source) (lists []*List) {
	results := make([]*List, len(srcs))

	g := &errgroup.Group{}
	g.SetLimit(p.concurrency)
	for i, src := range srcs {
		g.Go(func() (err error) {
			text, err := p.fetchWithRetry(ctx, src)
			if err != nil {
				p.logger.WarnContext(
					ctx,
					"fetching filter list",
					"name", src.Name,
					"url", src.URL,
					slogutil.KeyError, err,
				)

				return nil
			}

			results[i] = &List{
				Source: src,
				Text:   text,
			}

			return nil
		})
	}

	// The goroutines never return errors.
	_ = g.Wait()

	for _, l := range results {
		if l != nil {
			lists = append(lists, l)
		}
	}

	return lists
}

// fetchWithRetry fetches src making up to p.attempts attempts.  Local files
// are only read once.
func (p *HTTPProvider) fetchWithRetry(ctx context.Context, src *Source) (text string, err error) {
	if !isRemote(src.URL) {
		return p.readFile(src.URL)
	}

	backoff := p.initialBackoff
	var errs []error
	for attempt := 1; ; attempt++ {
		text, err = p.download(ctx, src.URL)
		if err == nil {
			return text, nil
		}

		errs = append(errs, fmt.Errorf("attempt %d: %w", attempt, err))
		if attempt >= p.attempts || errors.Is(err, ErrTooLarge) {
			break
		}

		p.logger.DebugContext(ctx, "retrying", "url", src.URL, "backoff", backoff, slogutil.KeyError, err)

		if !sleep(ctx, backoff) {
			errs = append(errs, ctx.Err())

			break
		}

		backoff *= 2
	}

	return "", errors.Join(errs...)
}

// sleep waits for d and returns true, or returns false if ctx is done first.
func sleep(ctx context.Context, d time.Duration) (ok bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// isRemote returns true if u is an HTTP(S) URL.
func isRemote(u string) (ok bool) {
	lower := strings.ToLower(u)

	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// download performs a single attempt to download the list from u.
func (p *HTTPProvider) download(ctx context.Context, u string) (text string, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set(httphdr.UserAgent, p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, resp.Body.Close()) }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bad status code %d", resp.StatusCode)
	}

	return p.readLimited(resp.Body)
}

// readFile reads the list from a local file.  path may have the file://
// prefix.
func (p *HTTPProvider) readFile(path string) (text string, err error) {
	path = strings.TrimPrefix(path, "file://")

	// #nosec G304 -- Trust the paths from the configuration.
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening list file: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	return p.readLimited(f)
}

// readLimited reads all of r returning [ErrTooLarge] if it's larger than
// p.maxSize.
func (p *HTTPProvider) readLimited(r io.Reader) (text string, err error) {
	limit := int64(p.maxSize.Bytes())

	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", fmt.Errorf("reading: %w", err)
	}

	if int64(len(b)) > limit {
		return "", fmt.Errorf("more than %s: %w", p.maxSize.HumanReadable(), ErrTooLarge)
	}

	return string(b), nil
}
