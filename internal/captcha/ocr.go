package captcha

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// TesseractStrategy decodes challenges with a local tesseract binary. It
// reads the TSV output so per-word confidences are available; the result
// confidence is the mean word confidence scaled to [0, 1].
type TesseractStrategy struct {
	binary    string
	whitelist string
	logger    *zap.Logger
}

// NewTesseractStrategy builds the OCR strategy. binary is the tesseract
// executable (path or name resolved via PATH); whitelist restricts the
// recognized character set and may be empty.
func NewTesseractStrategy(binary, whitelist string, logger *zap.Logger) *TesseractStrategy {
	if binary == "" {
		binary = "tesseract"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TesseractStrategy{binary: binary, whitelist: whitelist, logger: logger}
}

// Name identifies the strategy in config and metrics.
func (s *TesseractStrategy) Name() string { return "ocr" }

// Terminal reports that OCR answers are subject to the confidence threshold.
func (s *TesseractStrategy) Terminal() bool { return false }

// Decode runs tesseract over the image bytes on stdin.
func (s *TesseractStrategy) Decode(ctx context.Context, image []byte) (Result, error) {
	args := []string{"stdin", "stdout", "--psm", "8", "--oem", "3"}
	if s.whitelist != "" {
		args = append(args, "-c", "tessedit_char_whitelist="+s.whitelist)
	}
	args = append(args, "tsv")

	cmd := exec.CommandContext(ctx, s.binary, args...)
	cmd.Stdin = bytes.NewReader(image)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{}, fmt.Errorf("tesseract failed: %s", firstLine(exitErr.Stderr))
		}
		return Result{}, fmt.Errorf("run tesseract: %w", err)
	}

	text, confidence := parseTSV(string(out))
	s.logger.Debug("ocr decode",
		zap.Int("text_len", len(text)),
		zap.Float64("confidence", confidence),
	)
	return Result{Text: text, Confidence: confidence}, nil
}

// parseTSV extracts recognized words and their mean confidence from
// tesseract's TSV output. CAPTCHA text is concatenated without separators
// since the challenges are single tokens.
func parseTSV(out string) (string, float64) {
	var (
		words   []string
		sumConf float64
		n       int
	)
	for i, line := range strings.Split(out, "\n") {
		if i == 0 {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 12 {
			continue
		}
		conf, err := strconv.ParseFloat(fields[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		word := strings.TrimSpace(fields[11])
		if word == "" {
			continue
		}
		words = append(words, word)
		sumConf += conf
		n++
	}
	if n == 0 {
		return "", 0
	}
	return strings.Join(words, ""), sumConf / float64(n) / 100
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
