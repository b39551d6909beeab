package ocrpipeline

import (
	"context"
	"fmt"

	"github.com/jackzampolin/registryctl/internal/visionclient"
)

// ErrUnreasonableLineCount is returned when the consensus line count
// exceeds Config.MaxLinesPerPage.
var ErrUnreasonableLineCount = fmt.Errorf("ocrpipeline: unreasonable-line-count")

// ConsensusLineCount queries two independent vision models for a page's
// line count. Counts differing by at most 1 accept the larger at full
// confidence; otherwise the larger is accepted at reduced confidence.
func ConsensusLineCount(ctx context.Context, vc *visionclient.Client, cfg Config, imagePNG []byte) (count int, confidence float64, err error) {
	a, err := vc.CountLines(ctx, cfg.LineCountModelA, cfg.CountLinesPrompt, imagePNG)
	if err != nil {
		return 0, 0, fmt.Errorf("ocrpipeline: line count (model A): %w", err)
	}
	b, err := vc.CountLines(ctx, cfg.LineCountModelB, cfg.CountLinesPrompt, imagePNG)
	if err != nil {
		return 0, 0, fmt.Errorf("ocrpipeline: line count (model B): %w", err)
	}

	larger := a
	if b > a {
		larger = b
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}

	confidence = 1.0
	if diff > 1 {
		confidence = 0.5
	}

	if larger > cfg.MaxLinesPerPage {
		return larger, confidence, ErrUnreasonableLineCount
	}
	return larger, confidence, nil
}

// ExtractAllWindows requests every non-overlapping window of cfg.WindowSize
// lines covering [1, lineCount] and concatenates the results in order.
func ExtractAllWindows(ctx context.Context, vc *visionclient.Client, cfg Config, imagePNG []byte, lineCount int) ([]visionclient.ExtractedLine, error) {
	var lines []visionclient.ExtractedLine
	for start := 1; start <= lineCount; start += cfg.WindowSize {
		end := start + cfg.WindowSize - 1
		if end > lineCount {
			end = lineCount
		}
		window, err := vc.ExtractWindow(ctx, cfg.ExtractionModel, cfg.ExtractWindowPrompt(start, end), imagePNG, cfg.ExtractionSchema)
		if err != nil {
			return nil, fmt.Errorf("ocrpipeline: extract window [%d,%d]: %w", start, end, err)
		}
		lines = append(lines, window...)
	}
	return lines, nil
}
