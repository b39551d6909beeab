package ocrpipeline

import (
	"context"

	"github.com/jackzampolin/registryctl/internal/visionclient"
)

// CheckCoherence asks the coherence model to judge one page's extraction,
// showing it the page image plus the first and last few raw lines already
// extracted.
func CheckCoherence(ctx context.Context, vc *visionclient.Client, cfg Config, imagePNG []byte, lines []visionclient.ExtractedLine) (visionclient.CoherenceVerdict, error) {
	prompt := cfg.CoherencePrompt(excerptRaw(lines, 3, false), excerptRaw(lines, 3, true))
	return vc.CheckCoherence(ctx, cfg.CoherenceModel, prompt, imagePNG)
}

func excerptRaw(lines []visionclient.ExtractedLine, n int, fromEnd bool) []string {
	if len(lines) == 0 {
		return nil
	}
	if n > len(lines) {
		n = len(lines)
	}
	out := make([]string, 0, n)
	if fromEnd {
		for _, l := range lines[len(lines)-n:] {
			out = append(out, l.RawText)
		}
		return out
	}
	for _, l := range lines[:n] {
		out = append(out, l.RawText)
	}
	return out
}
