package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jackzampolin/registryctl/internal/config"
	"github.com/jackzampolin/registryctl/internal/ocrpipeline"
)

// buildPipelineConfig converts config.PipelineConfig's plain-string prompt
// fields into ocrpipeline.Config's function-typed ones. Operators write
// CountLinesPrompt/BoostPrompt as literal text, and ExtractWindowPrompt/
// CoherencePrompt as fmt format strings (the former takes two %d verbs for
// the line range, the latter two %s verbs for the first/last extracted
// lines) so the window/excerpt varies per call without any prompt content
// living in this repository's source.
func buildPipelineConfig(pc config.PipelineConfig) (ocrpipeline.Config, error) {
	cfg := ocrpipeline.Config{
		MaxLinesPerPage:  pc.MaxLinesPerPage,
		WindowSize:       pc.WindowSize,
		MaxRetries:       pc.MaxRetries,
		UpscaleFactorCap: pc.UpscaleFactorCap,
		EnableCoherence:  pc.EnableCoherence,

		LineCountModelA: pc.LineCountModelA,
		LineCountModelB: pc.LineCountModelB,
		ExtractionModel: pc.ExtractionModel,
		CoherenceModel:  pc.CoherenceModel,
		BoostModel:      pc.BoostModel,

		CountLinesPrompt: pc.CountLinesPrompt,
		BoostPrompt:      pc.BoostPrompt,
	}

	windowTemplate := pc.ExtractWindowPrompt
	cfg.ExtractWindowPrompt = func(startLine, endLine int) string {
		return fmt.Sprintf(windowTemplate, startLine, endLine)
	}

	coherenceTemplate := pc.CoherencePrompt
	cfg.CoherencePrompt = func(firstLines, lastLines []string) string {
		return fmt.Sprintf(coherenceTemplate, strings.Join(firstLines, "\n"), strings.Join(lastLines, "\n"))
	}

	if pc.ExtractionSchemaPath != "" {
		schema, err := os.ReadFile(pc.ExtractionSchemaPath)
		if err != nil {
			return ocrpipeline.Config{}, fmt.Errorf("read extraction schema: %w", err)
		}
		cfg.ExtractionSchema = schema
	}

	return cfg.WithDefaults(), nil
}
