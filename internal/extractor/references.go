package extractor

import (
	"strings"

	"refind/internal/models"
)

// referencesFrom collects bibliography entries from the TEI back matter.
// Entries that fail per-entry parsing are skipped, never fatal.
func referencesFrom(doc *teiDocument) []models.ReferenceEntry {
	if doc == nil {
		return nil
	}
	var out []models.ReferenceEntry
	for _, div := range doc.Text.Back.Divs {
		if div.Type != "" && div.Type != "references" {
			continue
		}
		for _, bibl := range div.ListBibl.BiblStructs {
			if ref, ok := parseBiblStruct(bibl); ok {
				out = append(out, ref)
			}
		}
	}
	return out
}

// parseBiblStruct extracts one reference using per-field fallback chains:
// the analytic (article-level) location first, then the monogr
// (container-level) one. A reference is kept only if it has a title, or both
// authors and a year.
func parseBiblStruct(b teiBiblStruct) (models.ReferenceEntry, bool) {
	var ref models.ReferenceEntry

	if b.Analytic != nil {
		ref.Title = pickTitle(b.Analytic.Titles)
		ref.Authors = authorsLite(b.Analytic.Authors)
		ref.DOI = pickIdno(b.Analytic.Idnos, "DOI")
	}
	if b.Monogr != nil {
		if ref.Title == "" {
			ref.Title = pickTitle(b.Monogr.Titles)
		} else {
			ref.Venue = pickTitle(b.Monogr.Titles)
		}
		if len(ref.Authors) == 0 {
			ref.Authors = authorsLite(b.Monogr.Authors)
		}
		if ref.DOI == "" {
			ref.DOI = pickIdno(b.Monogr.Idnos, "DOI")
		}
		ref.Year = pickYear(b.Monogr.Imprint.Dates)
		if ref.Venue == "" && b.Monogr.Meeting != nil {
			ref.Venue = cleanText(b.Monogr.Meeting.Value)
		}
	}

	if ref.Title == "" && (len(ref.Authors) == 0 || ref.Year == "") {
		return models.ReferenceEntry{}, false
	}
	return ref, true
}

func pickTitle(titles []teiTitle) string {
	// A "main"-typed title is the most specific location; fall back to any.
	for _, t := range titles {
		if strings.EqualFold(t.Type, "main") {
			if v := cleanText(t.Value); v != "" {
				return v
			}
		}
	}
	for _, t := range titles {
		if v := cleanText(t.Value); v != "" {
			return v
		}
	}
	return ""
}

func pickIdno(idnos []teiIdno, typ string) string {
	for _, id := range idnos {
		if strings.EqualFold(id.Type, typ) {
			return cleanText(id.Value)
		}
	}
	return ""
}

// pickYear prefers a published date's when attribute, then any date text,
// truncated to the leading year.
func pickYear(dates []teiDate) string {
	for _, d := range dates {
		if strings.EqualFold(d.Type, "published") && d.When != "" {
			return yearOf(d.When)
		}
	}
	for _, d := range dates {
		if d.When != "" {
			return yearOf(d.When)
		}
		if v := cleanText(d.Value); v != "" {
			return yearOf(v)
		}
	}
	return ""
}

func yearOf(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 4 {
		return s[:4]
	}
	return s
}
