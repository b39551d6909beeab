package ocrpipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"context"

	"github.com/jackzampolin/registryctl/internal/visionclient"
)

var boostLineRe = regexp.MustCompile(`(?m)^Ligne\s+(\d+):\s*(.*)$`)

// Boost runs the second-pass normalization model over the concatenated raw
// text of a page's extracted lines and replaces each line's raw text with
// the boosted output; lines the boost response doesn't mention keep their
// original raw text.
func Boost(ctx context.Context, vc *visionclient.Client, cfg Config, lines []visionclient.ExtractedLine) ([]visionclient.ExtractedLine, error) {
	if len(lines) == 0 {
		return lines, nil
	}

	var sb strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&sb, "Ligne %d: %s\n", l.Index, l.RawText)
	}

	boosted, err := vc.Boost(ctx, cfg.BoostModel, cfg.BoostPrompt, sb.String())
	if err != nil {
		return nil, fmt.Errorf("ocrpipeline: boost: %w", err)
	}

	return applyBoostedText(lines, boosted), nil
}

func applyBoostedText(lines []visionclient.ExtractedLine, boosted string) []visionclient.ExtractedLine {
	byIndex := make(map[int]string)
	for _, m := range boostLineRe.FindAllStringSubmatch(boosted, -1) {
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		byIndex[idx] = strings.TrimSpace(m[2])
	}

	out := make([]visionclient.ExtractedLine, len(lines))
	for i, l := range lines {
		out[i] = l
		if text, ok := byIndex[l.Index]; ok && text != "" {
			out[i].RawText = text
		}
	}
	return out
}
