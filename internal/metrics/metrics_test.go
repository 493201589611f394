package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveHelpers(t *testing.T) {
	before := testutil.ToFloat64(captchaAttemptsTotal.WithLabelValues("ocr", "accepted"))
	ObserveCaptchaAttempt("ocr", "accepted")
	if got := testutil.ToFloat64(captchaAttemptsTotal.WithLabelValues("ocr", "accepted")); got != before+1 {
		t.Errorf("expected captcha attempt counter to increment, got %f", got)
	}

	before = testutil.ToFloat64(windowsTotal.WithLabelValues("done"))
	ObserveWindow("done")
	if got := testutil.ToFloat64(windowsTotal.WithLabelValues("done")); got != before+1 {
		t.Errorf("expected window counter to increment, got %f", got)
	}

	before = testutil.ToFloat64(documentBytesTotal)
	ObserveDownload(2048)
	ObserveDownload(0)
	if got := testutil.ToFloat64(documentBytesTotal); got != before+2048 {
		t.Errorf("expected 2048 document bytes, got %f", got-before)
	}

	uploadsBefore := testutil.ToFloat64(objectsUploadedTotal)
	skipsBefore := testutil.ToFloat64(uploadsSkippedTotal)
	ObserveUpload(false)
	ObserveUpload(true)
	if got := testutil.ToFloat64(objectsUploadedTotal); got != uploadsBefore+1 {
		t.Errorf("expected upload counter to increment, got %f", got)
	}
	if got := testutil.ToFloat64(uploadsSkippedTotal); got != skipsBefore+1 {
		t.Errorf("expected skip counter to increment, got %f", got)
	}

	ObserveRateLimitDelay(150 * time.Millisecond)
	if val := testutil.CollectAndCount(rateLimitWaitSeconds); val <= 0 {
		t.Errorf("expected rate limit histogram to be observed, got %d", val)
	}
}
