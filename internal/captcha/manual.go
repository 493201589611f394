package captcha

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
)

// ManualStrategy surfaces the challenge image to an operator and accepts
// whatever they type. It is the terminal strategy: its answer bypasses the
// confidence threshold entirely.
type ManualStrategy struct {
	in       *bufio.Reader
	out      io.Writer
	spoolDir string
	logger   *zap.Logger
}

// NewManualStrategy builds the operator prompt. Images are spooled to
// spoolDir so the operator can open them; prompts and answers go through
// out and in (stderr and stdin in production).
func NewManualStrategy(in io.Reader, out io.Writer, spoolDir string, logger *zap.Logger) *ManualStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ManualStrategy{
		in:       bufio.NewReader(in),
		out:      out,
		spoolDir: spoolDir,
		logger:   logger,
	}
}

// Name identifies the strategy in config and metrics.
func (s *ManualStrategy) Name() string { return "manual" }

// Terminal reports that operator answers are accepted unconditionally.
func (s *ManualStrategy) Terminal() bool { return true }

// Decode writes the image to the spool directory, prompts the operator, and
// reads one line. The read runs in a goroutine so an operator walking away
// does not outlive a canceled context.
func (s *ManualStrategy) Decode(ctx context.Context, image []byte) (Result, error) {
	path, err := s.spool(image)
	if err != nil {
		return Result{}, err
	}

	fmt.Fprintf(s.out, "\nCAPTCHA image written to %s\nEnter CAPTCHA text: ", path)

	type lineResult struct {
		text string
		err  error
	}
	ch := make(chan lineResult, 1)
	go func() {
		line, readErr := s.in.ReadString('\n')
		ch <- lineResult{text: line, err: readErr}
	}()

	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("manual input interrupted: %w", ctx.Err())
	case res := <-ch:
		if res.err != nil && res.text == "" {
			return Result{}, fmt.Errorf("read operator input: %w", res.err)
		}
		text := strings.TrimSpace(res.text)
		s.logger.Info("manual captcha input received", zap.Int("text_len", len(text)))
		return Result{Text: text, Confidence: 1.0}, nil
	}
}

func (s *ManualStrategy) spool(image []byte) (string, error) {
	dir := s.spoolDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create spool dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "captcha-*.png")
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}
	if _, err := f.Write(image); err != nil {
		f.Close() //nolint:errcheck // write error wins
		return "", fmt.Errorf("write spool file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close spool file: %w", err)
	}
	return f.Name(), nil
}
