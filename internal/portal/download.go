package portal

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/courtdata/judgment-harvester/internal/metrics"
)

// downloader fetches judgment documents over plain HTTP. Documents do not
// need a rendered page, so they bypass the browser and go through colly,
// carrying the browser session's cookies.
type downloader struct {
	base    *colly.Collector
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

func newDownloader(cfg Config, limiter *rate.Limiter, logger *zap.Logger) *downloader {
	base := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.MaxBodySize(int(cfg.MaxDocumentBytes)),
		colly.AllowURLRevisit(),
	)
	base.SetRequestTimeout(cfg.DownloadTimeout)
	return &downloader{
		base:    base,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
	}
}

// fetch downloads one document. Each call clones the base collector so the
// response callbacks never see another fetch's state.
func (d *downloader) fetch(ctx context.Context, docURL string, cookies []*http.Cookie) ([]byte, error) {
	if err := d.waitRateLimit(ctx); err != nil {
		return nil, err
	}

	collector := d.base.Clone()
	if len(cookies) > 0 {
		if err := collector.SetCookies(docURL, cookies); err != nil {
			d.logger.Warn("setting session cookies failed", zap.Error(err))
		}
	}

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(resp *colly.Response) {
		if resp.StatusCode != http.StatusOK {
			fetchErr = fmt.Errorf("document fetch returned status %d", resp.StatusCode)
			return
		}
		body = resp.Body
	})
	collector.OnError(func(resp *colly.Response, err error) {
		fetchErr = fmt.Errorf("document fetch failed: %w", err)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := collector.Visit(docURL); err != nil && fetchErr == nil {
			fetchErr = fmt.Errorf("visit document url: %w", err)
		}
		collector.Wait()
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
	}

	if fetchErr != nil {
		return nil, fetchErr
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("document fetch returned an empty body")
	}
	if d.cfg.MaxDocumentBytes > 0 && int64(len(body)) > d.cfg.MaxDocumentBytes {
		return nil, fmt.Errorf("document of %d bytes exceeds the %d byte cap", len(body), d.cfg.MaxDocumentBytes)
	}

	metrics.ObserveDownload(len(body))
	d.logger.Debug("document downloaded",
		zap.String("url", docURL),
		zap.Int("bytes", len(body)),
	)
	return body, nil
}

func (d *downloader) waitRateLimit(ctx context.Context) error {
	start := time.Now()
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("download rate limit wait: %w", err)
	}
	metrics.ObserveRateLimitDelay(time.Since(start))
	return nil
}
