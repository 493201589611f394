// Package captcha implements the multi-strategy CAPTCHA solving pipeline.
package captcha

import "context"

// FetchImageFunc returns the bytes of a fresh CAPTCHA challenge. Challenges
// are single-use: the solver calls this before every decode attempt and
// never feeds the same image to two attempts.
type FetchImageFunc func(ctx context.Context) ([]byte, error)

// Result is one strategy's reading of a challenge image.
type Result struct {
	Text       string
	Confidence float64
}

// Strategy decodes a CAPTCHA image to text with a confidence estimate.
type Strategy interface {
	// Name identifies the strategy in config, logs, and metrics.
	Name() string

	// Decode reads the image. A failed read returns an error; an empty
	// or dubious read returns a Result the solver judges by confidence.
	Decode(ctx context.Context, image []byte) (Result, error)

	// Terminal strategies have their answers accepted unconditionally.
	// The manual operator prompt is terminal; automated decoders are not.
	Terminal() bool
}

// Solution is the accepted answer for one gate.
type Solution struct {
	Text       string
	Confidence float64
	Strategy   string
	Attempts   int
}
