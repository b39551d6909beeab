package sanitize

import "testing"

func TestSanitizeDegradesOnNoPageMarker(t *testing.T) {
	doc := Sanitize("this text has no page markers at all")
	if len(doc.Pages) != 0 {
		t.Fatalf("expected empty page list, got %+v", doc.Pages)
	}
	if err := Validate(doc); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestSanitizeParsesHeaderAndInscription(t *testing.T) {
	raw := `--- Page 1 ---
District: Montreal
Cadastre: 123456
Lot Number: 789
Ligne 1:
Date: 1987-03-02
Publication Number: 45678
Nature: Vente
Parties: Jean Tremblay, Marie Gagnon
Role: vendeur, acheteur
Remarks: [Vide]
`
	doc := Sanitize(raw)
	if len(doc.Pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(doc.Pages))
	}
	page := doc.Pages[0]
	if page.PageNumber != 1 {
		t.Fatalf("expected page 1, got %d", page.PageNumber)
	}
	if page.Metadata.District == nil || *page.Metadata.District != "Montreal" {
		t.Fatalf("expected district Montreal, got %+v", page.Metadata.District)
	}
	if len(page.Inscriptions) != 1 {
		t.Fatalf("expected 1 inscription, got %d", len(page.Inscriptions))
	}
	insc := page.Inscriptions[0]
	if insc.Remarks != nil {
		t.Fatalf("expected [Vide] to map to nil, got %v", *insc.Remarks)
	}
	if len(insc.Parties) != 2 {
		t.Fatalf("expected 2 parties, got %d", len(insc.Parties))
	}
	if *insc.Parties[0].Name != "Jean Tremblay" || *insc.Parties[0].Role != "vendeur" {
		t.Fatalf("expected first party zipped with first role, got %+v", insc.Parties[0])
	}
	if *insc.Parties[1].Name != "Marie Gagnon" || *insc.Parties[1].Role != "acheteur" {
		t.Fatalf("expected second party zipped with second role, got %+v", insc.Parties[1])
	}

	if err := Validate(doc); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestSanitizeSharedRoleWhenCountsMismatch(t *testing.T) {
	raw := `--- Page 1 ---
Ligne 1:
Parties: Jean Tremblay, Marie Gagnon, Paul Roy
Role: copropriétaires
`
	doc := Sanitize(raw)
	parties := doc.Pages[0].Inscriptions[0].Parties
	if len(parties) != 3 {
		t.Fatalf("expected 3 parties, got %d", len(parties))
	}
	for _, p := range parties {
		if p.Role == nil || *p.Role != "copropriétaires" {
			t.Fatalf("expected every party to share the single role, got %+v", p)
		}
	}
}

func TestSanitizePicksHighestConfidenceOption(t *testing.T) {
	raw := `--- Page 1 ---
District: Option 1: Montreal (0.60) Option 2: Montreal-Ouest (0.92)
`
	doc := Sanitize(raw)
	if doc.Pages[0].Metadata.District == nil || *doc.Pages[0].Metadata.District != "Montreal-Ouest" {
		t.Fatalf("expected highest-confidence option selected, got %+v", doc.Pages[0].Metadata.District)
	}
}

func TestSanitizeTieBreaksToFirstOption(t *testing.T) {
	raw := `--- Page 1 ---
District: Option 1: Montreal (0.80) Option 2: Montreal-Ouest (0.80)
`
	doc := Sanitize(raw)
	if doc.Pages[0].Metadata.District == nil || *doc.Pages[0].Metadata.District != "Montreal" {
		t.Fatalf("expected tie to break to first option, got %+v", doc.Pages[0].Metadata.District)
	}
}

func TestSanitizeMultiplePages(t *testing.T) {
	raw := `--- Page 1 ---
District: Montreal
--- Page 2 ---
District: Quebec
`
	doc := Sanitize(raw)
	if len(doc.Pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(doc.Pages))
	}
	if *doc.Pages[1].Metadata.District != "Quebec" {
		t.Fatalf("expected second page district Quebec, got %+v", doc.Pages[1].Metadata.District)
	}
}
