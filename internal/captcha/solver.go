package captcha

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/courtdata/judgment-harvester/internal/metrics"
)

// ErrExhausted reports that every strategy and attempt budget was spent
// without an accepted answer. Callers treat it as a transient failure of the
// current window attempt, not of the campaign.
var ErrExhausted = errors.New("captcha solving attempts exhausted")

// Config carries the operator-supplied solving limits. There are no built-in
// defaults: Validate rejects unset values.
type Config struct {
	ConfidenceThreshold    float64
	MaxAttemptsPerStrategy int
	MaxTotalAttempts       int
	MinTextLength          int
	DecodeTimeout          time.Duration
}

// Validate checks the limits are explicit and usable.
func (c Config) Validate() error {
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("captcha confidence threshold must be in (0, 1], got %v", c.ConfidenceThreshold)
	}
	if c.MaxAttemptsPerStrategy < 1 {
		return fmt.Errorf("captcha max attempts per strategy must be >= 1, got %d", c.MaxAttemptsPerStrategy)
	}
	if c.MaxTotalAttempts < 1 {
		return fmt.Errorf("captcha max total attempts must be >= 1, got %d", c.MaxTotalAttempts)
	}
	if c.MinTextLength < 1 {
		return fmt.Errorf("captcha min text length must be >= 1, got %d", c.MinTextLength)
	}
	return nil
}

// Solver walks an ordered strategy chain until an answer is accepted or the
// attempt budgets run out.
type Solver struct {
	cfg        Config
	strategies []Strategy
	logger     *zap.Logger
}

// NewSolver builds a solver over the ordered strategies.
func NewSolver(cfg Config, strategies []Strategy, logger *zap.Logger) (*Solver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("at least one captcha strategy is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Solver{cfg: cfg, strategies: strategies, logger: logger}, nil
}

// Solve fetches a fresh challenge for every decode attempt and returns the
// first accepted answer. Non-terminal strategies are accepted only at or
// above the confidence threshold; a terminal strategy's non-empty answer is
// accepted unconditionally. Exceeding max_total_attempts, or walking off the
// end of the chain, fails with ErrExhausted.
func (s *Solver) Solve(ctx context.Context, fetch FetchImageFunc) (Solution, error) {
	total := 0
	for _, strat := range s.strategies {
		for attempt := 1; attempt <= s.cfg.MaxAttemptsPerStrategy; attempt++ {
			if err := ctx.Err(); err != nil {
				return Solution{}, fmt.Errorf("captcha solving interrupted: %w", err)
			}
			if total >= s.cfg.MaxTotalAttempts {
				return Solution{}, fmt.Errorf("total attempt cap %d reached: %w", s.cfg.MaxTotalAttempts, ErrExhausted)
			}
			total++

			image, err := fetch(ctx)
			if err != nil {
				metrics.ObserveCaptchaAttempt(strat.Name(), "error")
				s.logger.Warn("captcha image fetch failed",
					zap.String("strategy", strat.Name()),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				continue
			}

			result, err := s.decode(ctx, strat, image)
			if err != nil {
				metrics.ObserveCaptchaAttempt(strat.Name(), "error")
				s.logger.Warn("captcha decode failed",
					zap.String("strategy", strat.Name()),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				continue
			}

			text := strings.TrimSpace(result.Text)
			if strat.Terminal() {
				if text == "" {
					metrics.ObserveCaptchaAttempt(strat.Name(), "rejected")
					continue
				}
				metrics.ObserveCaptchaAttempt(strat.Name(), "accepted")
				s.logger.Info("captcha accepted from terminal strategy",
					zap.String("strategy", strat.Name()),
					zap.Int("total_attempts", total),
				)
				return Solution{Text: text, Confidence: result.Confidence, Strategy: strat.Name(), Attempts: total}, nil
			}

			if len(text) < s.cfg.MinTextLength || result.Confidence < s.cfg.ConfidenceThreshold {
				metrics.ObserveCaptchaAttempt(strat.Name(), "rejected")
				s.logger.Debug("captcha answer rejected",
					zap.String("strategy", strat.Name()),
					zap.Int("attempt", attempt),
					zap.Int("text_len", len(text)),
					zap.Float64("confidence", result.Confidence),
					zap.Float64("threshold", s.cfg.ConfidenceThreshold),
				)
				continue
			}

			metrics.ObserveCaptchaAttempt(strat.Name(), "accepted")
			s.logger.Info("captcha accepted",
				zap.String("strategy", strat.Name()),
				zap.Float64("confidence", result.Confidence),
				zap.Int("total_attempts", total),
			)
			return Solution{Text: text, Confidence: result.Confidence, Strategy: strat.Name(), Attempts: total}, nil
		}
	}
	return Solution{}, fmt.Errorf("%d strategies exhausted after %d attempts: %w", len(s.strategies), total, ErrExhausted)
}

// decode applies the configured timeout to automated strategies. Terminal
// strategies wait on an operator and are never cut short.
func (s *Solver) decode(ctx context.Context, strat Strategy, image []byte) (Result, error) {
	if s.cfg.DecodeTimeout <= 0 || strat.Terminal() {
		return strat.Decode(ctx, image)
	}
	decodeCtx, cancel := context.WithTimeout(ctx, s.cfg.DecodeTimeout)
	defer cancel()
	return strat.Decode(decodeCtx, image)
}
