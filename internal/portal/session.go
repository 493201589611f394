package portal

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/courtdata/judgment-harvester/internal/harvest"
	"github.com/courtdata/judgment-harvester/internal/metrics"
)

// Client drives the portal through a single headless Chrome session. The
// portal binds each CAPTCHA challenge to server-side session state, so one
// Client holds at most one in-flight challenge and must not be shared
// across concurrent window queries.
type Client struct {
	cfg        Config
	logger     *zap.Logger
	limiter    *rate.Limiter
	classifier *ResponseClassifier
	downloader *downloader

	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc

	// Form state for the window currently loaded in the browser.
	formWindowID   string
	captchaFetched bool
	noRecords      bool
}

// NewClient launches the browser and warms it up.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.QueriesPerMinute/60), 1)
	return &Client{
		cfg:             cfg,
		logger:          logger,
		limiter:         limiter,
		classifier:      NewResponseClassifier("cnrresults", "disttablecontent"),
		downloader:      newDownloader(cfg, limiter, logger),
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
	}, nil
}

// Close tears down the browser session.
func (c *Client) Close() error {
	c.browserCancel()
	c.allocatorCancel()
	return nil
}

// FetchCaptchaImage returns the bytes of a fresh challenge for the window's
// query form. The first fetch after loading the form uses the challenge the
// page rendered; every later fetch refreshes the challenge first, since a
// rendered CAPTCHA is single-use.
func (c *Client) FetchCaptchaImage(ctx context.Context, window harvest.QueryWindow) ([]byte, error) {
	if err := c.ensureForm(ctx, window); err != nil {
		return nil, err
	}
	if c.captchaFetched {
		if err := c.refreshCaptcha(ctx); err != nil {
			return nil, err
		}
	}

	runCtx, cancel := c.sessionContext(ctx, c.cfg.NavTimeout)
	defer cancel()

	var image []byte
	err := chromedp.Run(runCtx,
		chromedp.WaitVisible(c.cfg.CaptchaImageSelector, chromedp.ByQuery),
		chromedp.Screenshot(c.cfg.CaptchaImageSelector, &image, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("capture captcha image: %w", err)
	}
	c.captchaFetched = true
	return image, nil
}

// SubmitQuery fills the window's date range and the solved CAPTCHA text and
// submits the form. accepted=false with a nil error means the portal
// rejected the CAPTCHA answer; structural problems return an error.
func (c *Client) SubmitQuery(ctx context.Context, window harvest.QueryWindow, solvedText string) (bool, error) {
	if err := c.ensureForm(ctx, window); err != nil {
		return false, err
	}
	if err := c.waitRateLimit(ctx); err != nil {
		return false, err
	}

	runCtx, cancel := c.sessionContext(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	from := window.StartDate.Format(harvest.PortalDateLayout)
	to := window.EndDate.Format(harvest.PortalDateLayout)

	var pageHTML string
	err := chromedp.Run(runCtx,
		chromedp.SetValue(c.cfg.FromDateSelector, from, chromedp.ByQuery),
		chromedp.SetValue(c.cfg.ToDateSelector, to, chromedp.ByQuery),
		chromedp.SetValue(c.cfg.CaptchaInputSelector, solvedText, chromedp.ByQuery),
		chromedp.Click(c.cfg.SubmitSelector, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
		chromedp.OuterHTML("html", &pageHTML, chromedp.ByQuery),
	)
	if err != nil {
		metrics.ObservePortalQuery("error")
		return false, fmt.Errorf("submit query for %s: %w", window.ID(), err)
	}

	// Submission consumed the challenge; reload the form before retrying.
	c.formWindowID = ""
	c.captchaFetched = false

	outcome := c.classifier.Classify(pageHTML)
	c.logger.Debug("query submitted",
		zap.String("window", window.ID()),
		zap.String("outcome", string(outcome)),
	)
	switch outcome {
	case OutcomeAccepted:
		metrics.ObservePortalQuery("accepted")
		c.noRecords = false
		return true, nil
	case OutcomeNoRecords:
		metrics.ObservePortalQuery("accepted")
		c.noRecords = true
		return true, nil
	case OutcomeCaptchaInvalid:
		metrics.ObservePortalQuery("rejected")
		return false, nil
	case OutcomeBlocked:
		metrics.ObservePortalQuery("error")
		return false, fmt.Errorf("portal blocked the query for %s", window.ID())
	default:
		metrics.ObservePortalQuery("error")
		return false, fmt.Errorf("unrecognized response page for %s", window.ID())
	}
}

// ListResultRows walks every result page of the last accepted query.
func (c *Client) ListResultRows(ctx context.Context, window harvest.QueryWindow) ([]harvest.ResultRow, error) {
	if c.noRecords {
		return nil, nil
	}

	seen := make(map[string]struct{})
	var rows []harvest.ResultRow
	for page := 1; page <= c.cfg.MaxResultPages; page++ {
		runCtx, cancel := c.sessionContext(ctx, c.cfg.NavTimeout)
		var pageHTML string
		err := chromedp.Run(runCtx,
			chromedp.OuterHTML("html", &pageHTML, chromedp.ByQuery),
		)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("read result page %d for %s: %w", page, window.ID(), err)
		}

		parsed, err := ParseResultRows(pageHTML)
		if err != nil {
			return nil, fmt.Errorf("parse result page %d for %s: %w", page, window.ID(), err)
		}
		for _, row := range parsed {
			key := row.RecordKey()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			rows = append(rows, row)
		}

		more, err := c.clickNextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("paginate results for %s: %w", window.ID(), err)
		}
		if !more {
			break
		}
	}
	c.logger.Info("result rows listed",
		zap.String("window", window.ID()),
		zap.Int("rows", len(rows)),
	)
	return rows, nil
}

// FetchDocument downloads the row's judgment document over HTTP, reusing the
// browser session's cookies.
func (c *Client) FetchDocument(ctx context.Context, row harvest.ResultRow) ([]byte, error) {
	docURL := row.DocumentURL()
	if docURL == "" {
		return nil, fmt.Errorf("row %s has no document link", row.RecordKey())
	}
	cookies, err := c.sessionCookies(ctx)
	if err != nil {
		c.logger.Warn("reading session cookies failed, downloading without them", zap.Error(err))
	}
	return c.downloader.fetch(ctx, docURL, cookies)
}

// ensureForm loads the search form when the browser is not already on it
// for this window.
func (c *Client) ensureForm(ctx context.Context, window harvest.QueryWindow) error {
	if c.formWindowID == window.ID() {
		return nil
	}
	runCtx, cancel := c.sessionContext(ctx, c.cfg.NavTimeout)
	defer cancel()

	err := chromedp.Run(runCtx,
		chromedp.Navigate(c.cfg.BaseURL),
		chromedp.WaitVisible(c.cfg.FromDateSelector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("open search form: %w", err)
	}
	c.formWindowID = window.ID()
	c.captchaFetched = false
	c.noRecords = false
	return nil
}

// refreshCaptcha asks the page for a new challenge. The portal exposes a
// refresh control next to the image; falling back to a form reload when the
// control is missing.
func (c *Client) refreshCaptcha(ctx context.Context) error {
	runCtx, cancel := c.sessionContext(ctx, c.cfg.NavTimeout)
	defer cancel()

	const refreshJS = `(() => {
		const el = document.querySelector("a[href*='refresh'], button[onclick*='refresh'], .refresh-captcha, img[onclick*='refresh']");
		if (el) { el.click(); return true; }
		return false;
	})()`
	var clicked bool
	err := chromedp.Run(runCtx,
		chromedp.Evaluate(refreshJS, &clicked),
		chromedp.Sleep(time.Second),
	)
	if err != nil {
		return fmt.Errorf("refresh captcha: %w", err)
	}
	if !clicked {
		c.formWindowID = ""
		return fmt.Errorf("captcha refresh control not found")
	}
	return nil
}

// clickNextPage advances result pagination; false means the last page.
func (c *Client) clickNextPage(ctx context.Context) (bool, error) {
	runCtx, cancel := c.sessionContext(ctx, c.cfg.NavTimeout)
	defer cancel()

	const nextJS = `(() => {
		const anchors = Array.from(document.querySelectorAll("a"));
		const next = anchors.find(a => /^(next|»|>)$/i.test(a.textContent.trim()));
		if (next && !next.classList.contains("disabled")) { next.click(); return true; }
		return false;
	})()`
	var clicked bool
	err := chromedp.Run(runCtx,
		chromedp.Evaluate(nextJS, &clicked),
	)
	if err != nil {
		return false, fmt.Errorf("click next page: %w", err)
	}
	if clicked {
		if err := chromedp.Run(runCtx, chromedp.Sleep(time.Second)); err != nil {
			return false, fmt.Errorf("wait for next page: %w", err)
		}
	}
	return clicked, nil
}

// sessionCookies reads the browser's cookies so document downloads share the
// portal session.
func (c *Client) sessionCookies(ctx context.Context) ([]*http.Cookie, error) {
	runCtx, cancel := c.sessionContext(ctx, c.cfg.NavTimeout)
	defer cancel()

	var out []*http.Cookie
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(actionCtx context.Context) error {
		cookies, err := network.GetCookies().Do(actionCtx)
		if err != nil {
			return fmt.Errorf("get cookies: %w", err)
		}
		for _, ck := range cookies {
			out = append(out, &http.Cookie{
				Name:   ck.Name,
				Value:  ck.Value,
				Domain: ck.Domain,
				Path:   ck.Path,
			})
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// sessionContext derives a deadline-bound context from the browser session
// that is also canceled when the caller's ctx ends.
func (c *Client) sessionContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancelTimeout := context.WithTimeout(c.browserCtx, timeout)
	stop := forwardCancel(ctx, cancelTimeout)
	return runCtx, func() {
		stop()
		cancelTimeout()
	}
}

// forwardCancel propagates the caller's cancellation into the session-bound
// context.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// waitRateLimit blocks until the shared limiter grants a slot.
func (c *Client) waitRateLimit(ctx context.Context) error {
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("portal rate limit wait: %w", err)
	}
	metrics.ObserveRateLimitDelay(time.Since(start))
	return nil
}
