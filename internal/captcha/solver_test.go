package captcha

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedStrategy replays canned results and records every image it sees.
type scriptedStrategy struct {
	name     string
	terminal bool
	results  []Result
	errs     []error
	calls    int
	seen     []string
}

func (s *scriptedStrategy) Name() string   { return s.name }
func (s *scriptedStrategy) Terminal() bool { return s.terminal }

func (s *scriptedStrategy) Decode(_ context.Context, image []byte) (Result, error) {
	i := s.calls
	s.calls++
	s.seen = append(s.seen, string(image))
	if i < len(s.errs) && s.errs[i] != nil {
		return Result{}, s.errs[i]
	}
	if i >= len(s.results) {
		return Result{}, errors.New("no scripted result")
	}
	return s.results[i], nil
}

// countingFetch yields a distinct image per call, like a refreshed challenge.
type countingFetch struct {
	n    int
	errs []error
}

func (f *countingFetch) fetch(_ context.Context) ([]byte, error) {
	i := f.n
	f.n++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return []byte(fmt.Sprintf("challenge-%d", f.n)), nil
}

func testConfig() Config {
	return Config{
		ConfidenceThreshold:    0.7,
		MaxAttemptsPerStrategy: 3,
		MaxTotalAttempts:       10,
		MinTextLength:          3,
	}
}

func TestSolverAcceptsAboveThreshold(t *testing.T) {
	t.Parallel()

	ocr := &scriptedStrategy{name: "ocr", results: []Result{{Text: "XK4P9", Confidence: 0.91}}}
	fetch := &countingFetch{}

	solver, err := NewSolver(testConfig(), []Strategy{ocr}, zap.NewNop())
	require.NoError(t, err)

	sol, err := solver.Solve(context.Background(), fetch.fetch)
	require.NoError(t, err)
	require.Equal(t, "XK4P9", sol.Text)
	require.Equal(t, "ocr", sol.Strategy)
	require.Equal(t, 1, sol.Attempts)
	require.Equal(t, 1, fetch.n)
}

// TestSolverFallsThroughToManual exercises the chain [ocr, manual] where OCR
// keeps reading low-confidence text: after three rejected OCR attempts the
// operator's answer is accepted unconditionally.
func TestSolverFallsThroughToManual(t *testing.T) {
	t.Parallel()

	ocr := &scriptedStrategy{
		name: "ocr",
		results: []Result{
			{Text: "xxxxx", Confidence: 0.4},
			{Text: "yyyyy", Confidence: 0.4},
			{Text: "zzzzz", Confidence: 0.4},
		},
	}
	manual := &scriptedStrategy{
		name:     "manual",
		terminal: true,
		results:  []Result{{Text: "TYPED", Confidence: 0.1}},
	}
	fetch := &countingFetch{}

	solver, err := NewSolver(testConfig(), []Strategy{ocr, manual}, zap.NewNop())
	require.NoError(t, err)

	sol, err := solver.Solve(context.Background(), fetch.fetch)
	require.NoError(t, err)
	require.Equal(t, "TYPED", sol.Text)
	require.Equal(t, "manual", sol.Strategy)
	require.Equal(t, 4, sol.Attempts)
	require.Equal(t, 3, ocr.calls)
	require.Equal(t, 1, manual.calls)
}

// TestSolverNeverReusesImage checks every decode attempt consumed its own
// freshly fetched challenge.
func TestSolverNeverReusesImage(t *testing.T) {
	t.Parallel()

	ocr := &scriptedStrategy{
		name: "ocr",
		results: []Result{
			{Text: "aaaaa", Confidence: 0.1},
			{Text: "bbbbb", Confidence: 0.2},
			{Text: "ccccc", Confidence: 0.95},
		},
	}
	fetch := &countingFetch{}

	solver, err := NewSolver(testConfig(), []Strategy{ocr}, zap.NewNop())
	require.NoError(t, err)

	_, err = solver.Solve(context.Background(), fetch.fetch)
	require.NoError(t, err)

	require.Equal(t, fetch.n, len(ocr.seen))
	unique := make(map[string]struct{})
	for _, img := range ocr.seen {
		unique[img] = struct{}{}
	}
	require.Len(t, unique, len(ocr.seen), "an image was fed to two decode attempts")
}

func TestSolverTotalAttemptCap(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxTotalAttempts = 2
	ocr := &scriptedStrategy{
		name: "ocr",
		results: []Result{
			{Text: "aaaaa", Confidence: 0.1},
			{Text: "bbbbb", Confidence: 0.1},
			{Text: "ccccc", Confidence: 0.99},
		},
	}
	manual := &scriptedStrategy{name: "manual", terminal: true, results: []Result{{Text: "TYPED"}}}

	solver, err := NewSolver(cfg, []Strategy{ocr, manual}, zap.NewNop())
	require.NoError(t, err)

	_, err = solver.Solve(context.Background(), (&countingFetch{}).fetch)
	require.ErrorIs(t, err, ErrExhausted)
	require.Equal(t, 2, ocr.calls)
	require.Equal(t, 0, manual.calls, "cap must stop the chain before the terminal strategy")
}

func TestSolverChainExhausted(t *testing.T) {
	t.Parallel()

	ocr := &scriptedStrategy{
		name: "ocr",
		results: []Result{
			{Text: "aaaaa", Confidence: 0.1},
			{Text: "bbbbb", Confidence: 0.1},
			{Text: "ccccc", Confidence: 0.1},
		},
	}

	solver, err := NewSolver(testConfig(), []Strategy{ocr}, zap.NewNop())
	require.NoError(t, err)

	_, err = solver.Solve(context.Background(), (&countingFetch{}).fetch)
	require.ErrorIs(t, err, ErrExhausted)
}

func TestSolverRejectsShortText(t *testing.T) {
	t.Parallel()

	ocr := &scriptedStrategy{
		name: "ocr",
		results: []Result{
			{Text: "ab", Confidence: 0.99},
			{Text: "ab", Confidence: 0.99},
			{Text: "ab", Confidence: 0.99},
		},
	}

	solver, err := NewSolver(testConfig(), []Strategy{ocr}, zap.NewNop())
	require.NoError(t, err)

	_, err = solver.Solve(context.Background(), (&countingFetch{}).fetch)
	require.ErrorIs(t, err, ErrExhausted)
}

// TestSolverEmptyManualAnswerRetries verifies an operator hitting enter on an
// empty line is asked again instead of submitting nothing.
func TestSolverEmptyManualAnswerRetries(t *testing.T) {
	t.Parallel()

	manual := &scriptedStrategy{
		name:     "manual",
		terminal: true,
		results:  []Result{{Text: ""}, {Text: "TYPED"}},
	}

	solver, err := NewSolver(testConfig(), []Strategy{manual}, zap.NewNop())
	require.NoError(t, err)

	sol, err := solver.Solve(context.Background(), (&countingFetch{}).fetch)
	require.NoError(t, err)
	require.Equal(t, "TYPED", sol.Text)
	require.Equal(t, 2, sol.Attempts)
}

func TestSolverFetchErrorBurnsAttempt(t *testing.T) {
	t.Parallel()

	ocr := &scriptedStrategy{name: "ocr", results: []Result{{Text: "GOODR", Confidence: 0.9}}}
	fetch := &countingFetch{errs: []error{errors.New("portal hiccup")}}

	solver, err := NewSolver(testConfig(), []Strategy{ocr}, zap.NewNop())
	require.NoError(t, err)

	sol, err := solver.Solve(context.Background(), fetch.fetch)
	require.NoError(t, err)
	require.Equal(t, 2, sol.Attempts)
	require.Equal(t, 1, ocr.calls)
}

func TestSolverHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ocr := &scriptedStrategy{name: "ocr", results: []Result{{Text: "GOODR", Confidence: 0.9}}}
	solver, err := NewSolver(testConfig(), []Strategy{ocr}, zap.NewNop())
	require.NoError(t, err)

	_, err = solver.Solve(ctx, (&countingFetch{}).fetch)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrExhausted)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero threshold", func(c *Config) { c.ConfidenceThreshold = 0 }},
		{"threshold above one", func(c *Config) { c.ConfidenceThreshold = 1.5 }},
		{"zero per-strategy cap", func(c *Config) { c.MaxAttemptsPerStrategy = 0 }},
		{"zero total cap", func(c *Config) { c.MaxTotalAttempts = 0 }},
		{"zero min length", func(c *Config) { c.MinTextLength = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}

	require.NoError(t, testConfig().Validate())

	_, err := NewSolver(testConfig(), nil, zap.NewNop())
	require.Error(t, err, "a solver without strategies is unusable")
}
