package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jackzampolin/registryctl/internal/config"
)

func TestBuildPipelineConfigSubstitutesWindowAndCoherenceTemplates(t *testing.T) {
	pc := config.PipelineConfig{
		MaxLinesPerPage:     40,
		WindowSize:          10,
		ExtractWindowPrompt: "extract lines %d through %d",
		CoherencePrompt:     "first:\n%s\nlast:\n%s",
		CountLinesPrompt:    "count the lines",
		BoostPrompt:         "boost this page",
		LineCountModelA:     "mistral",
		ExtractionModel:     "openrouter",
	}

	cfg, err := buildPipelineConfig(pc)
	if err != nil {
		t.Fatalf("buildPipelineConfig: %v", err)
	}

	if got := cfg.ExtractWindowPrompt(3, 12); got != "extract lines 3 through 12" {
		t.Fatalf("unexpected window prompt: %q", got)
	}

	got := cfg.CoherencePrompt([]string{"a", "b"}, []string{"y", "z"})
	want := "first:\na\nb\nlast:\ny\nz"
	if got != want {
		t.Fatalf("unexpected coherence prompt:\ngot:  %q\nwant: %q", got, want)
	}

	if cfg.CountLinesPrompt != pc.CountLinesPrompt || cfg.BoostPrompt != pc.BoostPrompt {
		t.Fatalf("literal prompt fields should pass through unchanged, got %+v", cfg)
	}
	if cfg.MaxLinesPerPage != 40 || cfg.WindowSize != 10 {
		t.Fatalf("tunables should pass through unchanged, got %+v", cfg)
	}
	if cfg.MaxRetries == 0 {
		t.Fatalf("expected WithDefaults to fill in a zero-valued MaxRetries")
	}
}

func TestBuildPipelineConfigLoadsExtractionSchemaFile(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.json")
	schema := `{"type":"object"}`
	if err := os.WriteFile(schemaPath, []byte(schema), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	pc := config.PipelineConfig{
		ExtractWindowPrompt:  "%d-%d",
		CoherencePrompt:      "%s-%s",
		ExtractionSchemaPath: schemaPath,
	}

	cfg, err := buildPipelineConfig(pc)
	if err != nil {
		t.Fatalf("buildPipelineConfig: %v", err)
	}
	if string(cfg.ExtractionSchema) != schema {
		t.Fatalf("expected schema bytes read from disk, got %q", cfg.ExtractionSchema)
	}
}

func TestBuildPipelineConfigReturnsErrorForMissingSchemaFile(t *testing.T) {
	pc := config.PipelineConfig{
		ExtractWindowPrompt:  "%d-%d",
		CoherencePrompt:      "%s-%s",
		ExtractionSchemaPath: "/nonexistent/schema.json",
	}

	if _, err := buildPipelineConfig(pc); err == nil {
		t.Fatalf("expected an error for a missing schema file")
	}
}
