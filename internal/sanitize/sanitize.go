package sanitize

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	pageMarkerRe  = regexp.MustCompile(`(?m)^---\s*Page\s+(\d+)\s*---\s*$`)
	inscriptionRe = regexp.MustCompile(`(?m)^\s*Ligne\s+(\d+):\s*$`)
	optionRe      = regexp.MustCompile(`Option\s+\d+:\s*(.*?)\s*\(([0-9]*\.?[0-9]+)\)`)
	fieldRe       = regexp.MustCompile(`(?m)^([^:\n]+):\s*(.*)$`)
)

// emptyLiteral is the sentinel the source text uses for a field with no
// value; it maps to a nil pointer, never the literal string.
const emptyLiteral = "[Vide]"

// Sanitize parses raw into a Document. Inputs with no recognizable
// "--- Page N ---" marker degrade to an empty page list.
func Sanitize(raw string) Document {
	locs := pageMarkerRe.FindAllStringSubmatchIndex(raw, -1)
	if len(locs) == 0 {
		return Document{Pages: []Page{}}
	}

	pages := make([]Page, 0, len(locs))
	for i, loc := range locs {
		pageNum, _ := strconv.Atoi(raw[loc[2]:loc[3]])
		start := loc[1]
		end := len(raw)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		pages = append(pages, parsePage(pageNum, raw[start:end]))
	}
	return Document{Pages: pages}
}

func parsePage(pageNum int, body string) Page {
	locs := inscriptionRe.FindAllStringSubmatchIndex(body, -1)

	headerBlob := body
	var inscriptions []Inscription
	if len(locs) > 0 {
		headerBlob = body[:locs[0][0]]
		for i, loc := range locs {
			start := loc[1]
			end := len(body)
			if i+1 < len(locs) {
				end = locs[i+1][0]
			}
			inscriptions = append(inscriptions, parseInscription(body[start:end]))
		}
	}

	fields := parseFields(headerBlob)
	return Page{
		PageNumber: pageNum,
		Metadata: PageMetadata{
			District:  get(fields, "district"),
			Cadastre:  get(fields, "cadastre"),
			LotNumber: get(fields, "lot number", "lot"),
		},
		Inscriptions: inscriptions,
	}
}

func parseInscription(block string) Inscription {
	fields := parseFields(block)
	return Inscription{
		Date:              get(fields, "date"),
		PublicationNumber: get(fields, "publication number", "publication"),
		Nature:            get(fields, "nature"),
		Parties:           buildParties(get(fields, "parties"), get(fields, "role", "roles")),
		Remarks:           get(fields, "remarks"),
		RadiationNumber:   get(fields, "radiation number", "radiation"),
	}
}

// parseFields scans "Label: value" lines, resolving multi-option values to
// the highest-confidence choice, keyed by lower-cased label.
func parseFields(blob string) map[string]*string {
	fields := make(map[string]*string)
	for _, m := range fieldRe.FindAllStringSubmatch(blob, -1) {
		label := strings.ToLower(strings.TrimSpace(m[1]))
		if label == "" {
			continue
		}
		fields[label] = resolveValue(m[2])
	}
	return fields
}

func get(fields map[string]*string, labels ...string) *string {
	for _, label := range labels {
		if v, ok := fields[label]; ok {
			return v
		}
	}
	return nil
}

// resolveValue picks the highest-confidence option when the value offers
// "Option N: value (confidence)" alternatives (ties keep the first), then
// maps the [Vide] literal to nil.
func resolveValue(raw string) *string {
	raw = strings.TrimSpace(raw)

	if opts := optionRe.FindAllStringSubmatch(raw, -1); len(opts) > 0 {
		bestValue := strings.TrimSpace(opts[0][1])
		bestConf, _ := strconv.ParseFloat(opts[0][2], 64)
		for _, o := range opts[1:] {
			conf, _ := strconv.ParseFloat(o[2], 64)
			if conf > bestConf {
				bestConf = conf
				bestValue = strings.TrimSpace(o[1])
			}
		}
		raw = bestValue
	}

	if raw == "" || raw == emptyLiteral {
		return nil
	}
	v := raw
	return &v
}

// buildParties zips names and roles pairwise when the role blob names one
// role per party (the "single compound role" case); otherwise every party
// shares the one role given. Replacing this heuristic must not change the
// output schema.
func buildParties(names, roles *string) []Party {
	if names == nil {
		return nil
	}
	nameList := splitList(*names)
	if len(nameList) == 0 {
		return nil
	}

	parties := make([]Party, len(nameList))
	if roles == nil {
		for i, n := range nameList {
			name := n
			parties[i] = Party{Name: &name}
		}
		return parties
	}

	roleList := splitList(*roles)
	if len(roleList) == len(nameList) && len(roleList) > 1 {
		for i := range nameList {
			name, role := nameList[i], roleList[i]
			parties[i] = Party{Name: &name, Role: &role}
		}
		return parties
	}

	var shared *string
	if len(roleList) > 0 {
		r := roleList[0]
		shared = &r
	}
	for i, n := range nameList {
		name := n
		parties[i] = Party{Name: &name, Role: shared}
	}
	return parties
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
