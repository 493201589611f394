package portal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	c := NewResponseClassifier("cnrresults")

	cases := []struct {
		name string
		page string
		want Outcome
	}{
		{"captcha rejected", `<div class="error">Captcha code is invalid, try again</div>`, OutcomeCaptchaInvalid},
		{"captcha rejected variant", `<span>Please enter the CAPTCHA correctly</span>`, OutcomeCaptchaInvalid},
		{"no records", `<div>No records found for the selected period</div>`, OutcomeNoRecords},
		{"blocked", `<h1>429 Too Many Requests</h1>`, OutcomeBlocked},
		{"accepted", `<div id="cnrresults"><table><tr><td>1</td></tr></table></div>`, OutcomeAccepted},
		{"unknown", `<html><body>maintenance page</body></html>`, OutcomeUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.Classify(tc.page))
		})
	}
}

func TestClassifyWithoutMarkersDefaultsToAccepted(t *testing.T) {
	c := NewResponseClassifier()
	assert.Equal(t, OutcomeAccepted, c.Classify(`<html><body>anything</body></html>`))
	assert.Equal(t, OutcomeCaptchaInvalid, c.Classify(`invalid captcha`))
}

func TestClassifyErrorBeatsResults(t *testing.T) {
	// A page can echo the results container while still reporting a
	// rejected challenge; the error wins.
	c := NewResponseClassifier("cnrresults")
	page := `<div id="cnrresults"></div><div>Incorrect captcha</div>`
	assert.Equal(t, OutcomeCaptchaInvalid, c.Classify(page))
}
