// Package portal drives the court's public judgment-search portal: one
// headless browser session for the CAPTCHA-gated query form, plus an HTTP
// fetcher for the judgment documents the result rows link to.
package portal

import (
	"fmt"
	"time"
)

// Config controls the browser session, selectors, and pacing. Selector
// defaults match the portal's judgment-by-date search form.
type Config struct {
	// BaseURL is the judgment search page.
	BaseURL string

	UserAgent string

	// Headless disables the visible browser window. Manual CAPTCHA entry
	// works either way since the challenge image is spooled to disk.
	Headless bool

	NavTimeout      time.Duration
	SubmitTimeout   time.Duration
	DownloadTimeout time.Duration

	// QueriesPerMinute paces query submissions and document downloads
	// against the portal's rate limits.
	QueriesPerMinute float64

	// MaxResultPages bounds pagination per window.
	MaxResultPages int

	// MaxDocumentBytes rejects suspiciously large downloads.
	MaxDocumentBytes int64

	// Selectors for the search form. Empty fields take the defaults.
	FromDateSelector     string
	ToDateSelector       string
	CaptchaImageSelector string
	CaptchaInputSelector string
	SubmitSelector       string
	ResultsSelector      string
}

const (
	defaultFromDateSelector     = `input[name*='from'], input[id*='from']`
	defaultToDateSelector       = `input[name*='to'], input[id*='to']`
	defaultCaptchaImageSelector = `img[src*='captcha'], img[alt*='captcha'], img[id*='captcha']`
	defaultCaptchaInputSelector = `input[name*='captcha'], input[id*='captcha']`
	defaultSubmitSelector       = `input[type="submit"][name="submit"]`
	defaultResultsSelector      = `#cnrresults`
)

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = "judgment-harvester/1.0"
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 30 * time.Second
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 60 * time.Second
	}
	if c.QueriesPerMinute <= 0 {
		c.QueriesPerMinute = 6
	}
	if c.MaxResultPages <= 0 {
		c.MaxResultPages = 50
	}
	if c.MaxDocumentBytes <= 0 {
		c.MaxDocumentBytes = 50 * 1024 * 1024
	}
	if c.FromDateSelector == "" {
		c.FromDateSelector = defaultFromDateSelector
	}
	if c.ToDateSelector == "" {
		c.ToDateSelector = defaultToDateSelector
	}
	if c.CaptchaImageSelector == "" {
		c.CaptchaImageSelector = defaultCaptchaImageSelector
	}
	if c.CaptchaInputSelector == "" {
		c.CaptchaInputSelector = defaultCaptchaInputSelector
	}
	if c.SubmitSelector == "" {
		c.SubmitSelector = defaultSubmitSelector
	}
	if c.ResultsSelector == "" {
		c.ResultsSelector = defaultResultsSelector
	}
	return c
}

// Validate checks the fields without defaults.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("portal base URL is required")
	}
	return nil
}
