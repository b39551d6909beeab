// Package ocrpipeline runs one claimed OCR document through its seven
// stages: fetch, rasterize, per-page line-count consensus, windowed
// extraction, coherence check, boost, and sanitize. Every vision-model call
// passes through internal/ratelimiter.
package ocrpipeline

import (
	"encoding/json"
	"image"

	"github.com/jackzampolin/registryctl/internal/sanitize"
	"github.com/jackzampolin/registryctl/internal/visionclient"
)

// DefaultMaxLinesPerPage is the hard cap on consensus line count; pages
// whose consensus exceeds it fail with ErrUnreasonableLineCount.
const DefaultMaxLinesPerPage = 60

// DefaultWindowSize is how many lines a single extraction call covers.
const DefaultWindowSize = 25

// DefaultMaxRetries bounds the coherence-triggered re-extraction loop.
const DefaultMaxRetries = 2

// DefaultUpscaleFactorCap is the maximum Lanczos-3 upscale applied to a
// rasterized page image.
const DefaultUpscaleFactorCap = 3.0

// Config holds the pipeline's tunables and the opaque prompt strings it
// passes to visionclient; no prompt content lives in this module.
type Config struct {
	MaxLinesPerPage  int
	WindowSize       int
	MaxRetries       int
	UpscaleFactorCap float64
	EnableCoherence  bool

	LineCountModelA string
	LineCountModelB string
	ExtractionModel string
	CoherenceModel  string
	BoostModel      string

	CountLinesPrompt      string
	ExtractWindowPrompt   func(startLine, endLine int) string
	CoherencePrompt       func(firstLines, lastLines []string) string
	BoostPrompt           string
	ExtractionSchema      json.RawMessage
}

// WithDefaults fills zero-valued tunables with their documented defaults.
func (c Config) WithDefaults() Config {
	if c.MaxLinesPerPage == 0 {
		c.MaxLinesPerPage = DefaultMaxLinesPerPage
	}
	if c.WindowSize == 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.UpscaleFactorCap == 0 {
		c.UpscaleFactorCap = DefaultUpscaleFactorCap
	}
	return c
}

// RasterPage is one page rendered to a raster image.
type RasterPage struct {
	Number int
	Image  image.Image
}

// PageResult is the outcome of running one page through the pipeline. A
// page-level failure never fails the document: Lines is left empty and
// Failed/Error record why.
type PageResult struct {
	Number     int
	LineCount  int
	Confidence float64
	Lines      []visionclient.ExtractedLine
	Coherence  visionclient.CoherenceVerdict
	Boosted    bool
	Failed     bool
	Error      string
}

// Document is the pipeline's result for one claimed job: every page result
// plus an overall completion flag (false if any page failed).
type Document struct {
	Pages      []PageResult
	Complete   bool
	Structured sanitize.Document
}
