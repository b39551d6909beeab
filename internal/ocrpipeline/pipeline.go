package ocrpipeline

import (
	"context"
	"strings"

	"github.com/jackzampolin/registryctl/internal/sanitize"
	"github.com/jackzampolin/registryctl/internal/visionclient"
)

// Run executes the full pipeline against one fetched PDF: rasterize, then
// per-page line-count consensus, windowed extraction, an optional coherence
// retry loop, and an optional boost pass. A page-level failure never fails
// the document: that page's Lines is left empty and Complete is set false.
func Run(ctx context.Context, vc *visionclient.Client, cfg Config, pdfData []byte) (Document, error) {
	cfg = cfg.WithDefaults()

	pages, err := Rasterize(ctx, pdfData, cfg.UpscaleFactorCap)
	if err != nil {
		return Document{}, err
	}

	results := make([]PageResult, 0, len(pages))
	complete := true
	var blob strings.Builder

	for _, page := range pages {
		result, text := runPage(ctx, vc, cfg, page)
		if result.Failed {
			complete = false
		}
		results = append(results, result)
		blob.WriteString(text)
	}

	return Document{
		Pages:      results,
		Complete:   complete,
		Structured: sanitize.Sanitize(blob.String()),
	}, nil
}

func runPage(ctx context.Context, vc *visionclient.Client, cfg Config, page RasterPage) (PageResult, string) {
	imagePNG, err := EncodePNG(page.Image)
	if err != nil {
		return PageResult{Number: page.Number, Failed: true, Error: err.Error()}, ""
	}

	lineCount, confidence, err := ConsensusLineCount(ctx, vc, cfg, imagePNG)
	if err != nil {
		return PageResult{Number: page.Number, LineCount: lineCount, Confidence: confidence, Failed: true, Error: err.Error()}, ""
	}

	lines, err := ExtractAllWindows(ctx, vc, cfg, imagePNG, lineCount)
	if err != nil {
		return PageResult{Number: page.Number, LineCount: lineCount, Confidence: confidence, Failed: true, Error: err.Error()}, ""
	}

	verdict := visionclient.CoherenceComplete
	if cfg.EnableCoherence {
		for attempt := 0; ; attempt++ {
			v, cErr := CheckCoherence(ctx, vc, cfg, imagePNG, lines)
			if cErr != nil {
				break
			}
			verdict = v
			if v == visionclient.CoherenceComplete || v == visionclient.CoherenceUncertain {
				break
			}
			if attempt >= cfg.MaxRetries {
				break
			}
			reextracted, rErr := ExtractAllWindows(ctx, vc, cfg, imagePNG, lineCount)
			if rErr != nil {
				break
			}
			lines = reextracted
		}
	}

	boosted := false
	if cfg.BoostModel != "" {
		if b, bErr := Boost(ctx, vc, cfg, lines); bErr == nil {
			lines = b
			boosted = true
		}
	}

	result := PageResult{
		Number:     page.Number,
		LineCount:  lineCount,
		Confidence: confidence,
		Lines:      lines,
		Coherence:  verdict,
		Boosted:    boosted,
	}
	return result, formatPageBlob(page.Number, lines)
}
