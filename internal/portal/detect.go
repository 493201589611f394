package portal

import "strings"

// Outcome classifies the portal's response page after a query submission.
type Outcome string

// Response page classes.
const (
	OutcomeAccepted       Outcome = "accepted"
	OutcomeCaptchaInvalid Outcome = "captcha_invalid"
	OutcomeNoRecords      Outcome = "no_records"
	OutcomeBlocked        Outcome = "blocked"
	OutcomeUnknown        Outcome = "unknown"
)

// captchaErrorPatterns are the portal's CAPTCHA rejection messages, matched
// case-insensitively against the response page.
var captchaErrorPatterns = []string{
	"captcha code is invalid",
	"captcha code is incorrect",
	"invalid captcha",
	"incorrect captcha",
	"captcha verification failed",
	"please enter the captcha correctly",
	"captcha does not match",
}

var noRecordPatterns = []string{
	"no records found",
	"no record found",
	"no data found",
	"record not found",
}

var blockedPatterns = []string{
	"access denied",
	"too many requests",
	"temporarily unavailable",
	"service unavailable",
}

// ResponseClassifier decides what the portal's post-submit page means using
// keyword signals, optionally requiring a results marker for acceptance.
type ResponseClassifier struct {
	resultsMarkers []string
}

// NewResponseClassifier builds a classifier. resultsMarkers are substrings
// whose presence confirms a result listing (for example the results
// container ID); with none configured, absence of error signals counts as
// accepted.
func NewResponseClassifier(resultsMarkers ...string) *ResponseClassifier {
	cleaned := make([]string, 0, len(resultsMarkers))
	for _, m := range resultsMarkers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			cleaned = append(cleaned, m)
		}
	}
	return &ResponseClassifier{resultsMarkers: cleaned}
}

// Classify inspects the page content.
func (c *ResponseClassifier) Classify(pageHTML string) Outcome {
	content := strings.ToLower(pageHTML)
	for _, p := range captchaErrorPatterns {
		if strings.Contains(content, p) {
			return OutcomeCaptchaInvalid
		}
	}
	for _, p := range blockedPatterns {
		if strings.Contains(content, p) {
			return OutcomeBlocked
		}
	}
	for _, p := range noRecordPatterns {
		if strings.Contains(content, p) {
			return OutcomeNoRecords
		}
	}
	for _, m := range c.resultsMarkers {
		if strings.Contains(content, m) {
			return OutcomeAccepted
		}
	}
	if len(c.resultsMarkers) > 0 {
		return OutcomeUnknown
	}
	return OutcomeAccepted
}
