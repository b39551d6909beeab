package ocrpipeline

import (
	"fmt"
	"strings"

	"github.com/jackzampolin/registryctl/internal/visionclient"
)

// metadataKeys are the structured-output keys formatPageBlob promotes to
// page-header fields; every other key is treated as an inscription field.
var metadataKeys = []string{"district", "cadastre", "lot_number"}

var inscriptionFieldOrder = []struct {
	key   string
	label string
}{
	{"date", "Date"},
	{"publication_number", "Publication Number"},
	{"nature", "Nature"},
	{"parties", "Parties"},
	{"role", "Role"},
	{"remarks", "Remarks"},
	{"radiation_number", "Radiation Number"},
}

// formatPageBlob renders one page's extracted lines into the
// "--- Page N ---" text sanitize.Sanitize expects: page-level metadata
// fields once at the top (taken from the first line that supplies them),
// followed by one "Ligne K:" block per extracted line.
func formatPageBlob(pageNumber int, lines []visionclient.ExtractedLine) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "--- Page %d ---\n", pageNumber)

	metadata := map[string]string{}
	for _, l := range lines {
		for _, key := range metadataKeys {
			if _, have := metadata[key]; have {
				continue
			}
			if v, ok := l.Structured[key]; ok {
				metadata[key] = fmt.Sprintf("%v", v)
			}
		}
	}
	if v, ok := metadata["district"]; ok {
		fmt.Fprintf(&sb, "District: %s\n", v)
	}
	if v, ok := metadata["cadastre"]; ok {
		fmt.Fprintf(&sb, "Cadastre: %s\n", v)
	}
	if v, ok := metadata["lot_number"]; ok {
		fmt.Fprintf(&sb, "Lot Number: %s\n", v)
	}

	for _, l := range lines {
		fmt.Fprintf(&sb, "Ligne %d:\n", l.Index)
		wrote := false
		for _, f := range inscriptionFieldOrder {
			if v, ok := l.Structured[f.key]; ok {
				fmt.Fprintf(&sb, "%s: %v\n", f.label, v)
				wrote = true
			}
		}
		if !wrote && l.RawText != "" {
			sb.WriteString(l.RawText)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
