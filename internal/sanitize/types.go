// Package sanitize transforms the verbose per-page text produced by the OCR
// extraction and boost stages into the structured JSON document stored in
// the canonical structured_content field. Sanitize never errors: malformed
// or unrecognized input degrades to a best-effort partial parse.
package sanitize

// Document is the sanitizer's output tree.
type Document struct {
	Pages []Page `json:"pages"`
}

// Page is one rasterized page's structured content.
type Page struct {
	PageNumber   int           `json:"page_number"`
	Metadata     PageMetadata  `json:"metadata"`
	Inscriptions []Inscription `json:"inscriptions"`
}

// PageMetadata is the per-page header fields. Fields are nil when the
// source used the [Vide] empty literal or the label was absent.
type PageMetadata struct {
	District  *string `json:"district,omitempty"`
	Cadastre  *string `json:"cadastre,omitempty"`
	LotNumber *string `json:"lot_number,omitempty"`
}

// Inscription is one numbered "Ligne K:" block.
type Inscription struct {
	Date              *string `json:"date,omitempty"`
	PublicationNumber *string `json:"publication_number,omitempty"`
	Nature            *string `json:"nature,omitempty"`
	Parties           []Party `json:"parties,omitempty"`
	Remarks           *string `json:"remarks,omitempty"`
	RadiationNumber   *string `json:"radiation_number,omitempty"`
}

// Party is one name/role pair within an inscription.
type Party struct {
	Name *string `json:"name,omitempty"`
	Role *string `json:"role,omitempty"`
}
